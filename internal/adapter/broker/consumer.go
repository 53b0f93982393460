package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

// Reader abstracts the kafka-go reader so the consumer can be tested without a broker.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type ConsumerConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Consumer is a Kafka price source. Offsets start at the end of the topic
// for a new group and are committed periodically by the reader.
type Consumer struct {
	cfg       ConsumerConfig
	newReader func(ConsumerConfig) Reader
	log       *zap.Logger

	mu     sync.Mutex
	reader Reader
}

func NewConsumer(cfg ConsumerConfig, log *zap.Logger) *Consumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	return &Consumer{cfg: cfg, newReader: newKafkaReader, log: log}
}

func newKafkaReader(cfg ConsumerConfig) Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		Topic:             cfg.Topic,
		GroupID:           cfg.GroupID,
		StartOffset:       kafka.LastOffset,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           200 * time.Millisecond,
		CommitInterval:    time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})
}

func (c *Consumer) Name() string { return "kafka:" + c.cfg.Topic }

func (c *Consumer) Connect(ctx context.Context) error {
	if len(c.cfg.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	if c.cfg.Topic == "" {
		return errors.New("kafka: topic is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader != nil {
		_ = c.reader.Close()
	}
	c.reader = c.newReader(c.cfg)
	c.log.Info("kafka consumer ready",
		zap.Strings("brokers", c.cfg.Brokers),
		zap.String("topic", c.cfg.Topic),
		zap.String("group_id", c.cfg.GroupID),
	)
	return nil
}

func (c *Consumer) ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error) {
	out := make(chan model.PriceUpdate)
	errCh := make(chan error, 1)

	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()

	if reader == nil {
		errCh <- model.NewSourceFatal(c.Name(), errors.New("not connected"))
		close(out)
		close(errCh)
		return out, errCh
	}

	send := func(err error) bool {
		select {
		case errCh <- err:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		defer close(errCh)

		failures := 0
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					send(model.NewSourceFatal(c.Name(), errors.New("reader closed")))
					return
				}
				failures++
				if failures >= c.cfg.MaxRetries {
					send(model.NewSourceFatal(c.Name(), fmt.Errorf("%d consecutive read failures: %w", failures, err)))
					return
				}
				if !send(fmt.Errorf("kafka read (attempt %d): %w", failures, err)) {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.RetryBackoff * time.Duration(failures)):
				}
				continue
			}
			failures = 0

			u, err := model.DecodePriceUpdate(m.Value)
			if err != nil {
				if !send(fmt.Errorf("kafka partition %d offset %d: %w", m.Partition, m.Offset, err)) {
					return
				}
				continue
			}

			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errCh
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	err := c.reader.Close()
	c.reader = nil
	if err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
