package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PriceSource yields the next generated update.
type PriceSource interface {
	Next(now time.Time) model.PriceUpdate
}

func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer publishes generated prices keyed by symbol, so every symbol
// stays on one partition.
type Producer struct {
	writer   Writer
	source   PriceSource
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewProducer(writer Writer, source PriceSource, interval time.Duration, log *zap.Logger) *Producer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Producer{writer: writer, source: source, interval: interval, log: log, now: time.Now}
}

// Run sends count updates (0 means until ctx is done). Write errors are logged
// and the loop carries on.
func (p *Producer) Run(ctx context.Context, count int) (int, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	sent := 0
	for count <= 0 || sent < count {
		if err := p.SendOne(ctx); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			p.log.Error("failed to send stock price", zap.Error(err))
		} else {
			sent++
		}
		if count > 0 && sent >= count {
			break
		}

		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-ticker.C:
		}
	}
	return sent, nil
}

func (p *Producer) SendOne(ctx context.Context) error {
	u := p.source.Next(p.now())
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", u.Symbol, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(u.Symbol), Value: payload}); err != nil {
		return fmt.Errorf("failed to write %s: %w", u.Symbol, err)
	}
	p.log.Info("sent stock price", zap.Stringer("price", u))
	return nil
}
