package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

const defaultMaxScan = 10000

type partitionRange struct {
	Partition int
	First     int64
	Last      int64 // offset of the next message to be written
}

// History replays the topic directly, independent of the consumer group.
// It covers records that arrived before this process started.
type History struct {
	brokers []string
	topic   string
	maxScan int64
	log     *zap.Logger

	offsets func(ctx context.Context) ([]partitionRange, error)
	open    func(partition int, offset int64) (Reader, error)
}

func NewHistory(brokers []string, topic string, log *zap.Logger) *History {
	h := &History{
		brokers: brokers,
		topic:   topic,
		maxScan: defaultMaxScan,
		log:     log,
	}
	h.offsets = h.readOffsets
	h.open = h.openPartition
	return h
}

func (h *History) Topic() string { return h.topic }

// MessageCount sums retained records over all partitions.
func (h *History) MessageCount(ctx context.Context) (int64, error) {
	ranges, err := h.offsets(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range ranges {
		total += r.Last - r.First
	}
	return total, nil
}

// Symbol returns the newest limit records of symbol, oldest first.
func (h *History) Symbol(ctx context.Context, symbol string, limit int) ([]model.PriceUpdate, error) {
	symbol = model.NormalizeSymbol(symbol)
	out, err := h.scan(ctx, symbol, func(u model.PriceUpdate) bool { return u.Symbol == symbol })
	if err != nil {
		return nil, err
	}
	return newest(out, limit), nil
}

func (h *History) All(ctx context.Context, limit int) ([]model.PriceUpdate, error) {
	out, err := h.scan(ctx, "", func(model.PriceUpdate) bool { return true })
	if err != nil {
		return nil, err
	}
	return newest(out, limit), nil
}

// SymbolInRange uses the same exclusive bounds as the in-memory store.
func (h *History) SymbolInRange(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceUpdate, error) {
	symbol = model.NormalizeSymbol(symbol)
	return h.scan(ctx, symbol, func(u model.PriceUpdate) bool {
		return u.Symbol == symbol && u.Timestamp.After(from) && u.Timestamp.Before(to)
	})
}

func (h *History) Ping(ctx context.Context) error {
	_, err := h.offsets(ctx)
	return err
}

func (h *History) scan(ctx context.Context, key string, keep func(model.PriceUpdate) bool) ([]model.PriceUpdate, error) {
	ranges, err := h.offsets(ctx)
	if err != nil {
		return nil, err
	}

	out := []model.PriceUpdate{}
	for _, r := range ranges {
		start := r.First
		if r.Last-start > h.maxScan {
			start = r.Last - h.maxScan
		}
		if start >= r.Last {
			continue
		}
		got, err := h.scanPartition(ctx, r.Partition, start, r.Last, key, keep)
		if err != nil {
			return nil, err
		}
		out = append(out, got...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp.Time) })
	return out, nil
}

func (h *History) scanPartition(ctx context.Context, partition int, start, end int64, key string, keep func(model.PriceUpdate) bool) ([]model.PriceUpdate, error) {
	reader, err := h.open(partition, start)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %d: %w", partition, err)
	}
	defer reader.Close()

	var out []model.PriceUpdate
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read partition %d: %w", partition, err)
		}
		// records are keyed by symbol, skip decoding the others
		if key == "" || len(m.Key) == 0 || string(m.Key) == key {
			u, err := model.DecodePriceUpdate(m.Value)
			if err != nil {
				h.log.Debug("skipping undecodable record", zap.Int("partition", partition), zap.Int64("offset", m.Offset), zap.Error(err))
			} else if keep(u) {
				out = append(out, u)
			}
		}
		if m.Offset >= end-1 {
			return out, nil
		}
	}
}

func newest(us []model.PriceUpdate, limit int) []model.PriceUpdate {
	if limit <= 0 {
		return []model.PriceUpdate{}
	}
	if len(us) > limit {
		return us[len(us)-limit:]
	}
	return us
}

func (h *History) readOffsets(ctx context.Context) ([]partitionRange, error) {
	if len(h.brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	conn, err := kafka.DialContext(ctx, "tcp", h.brokers[0])
	if err != nil {
		return nil, fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(h.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to read partitions of %s: %w", h.topic, err)
	}

	ranges := make([]partitionRange, 0, len(partitions))
	for _, p := range partitions {
		addr := net.JoinHostPort(p.Leader.Host, strconv.Itoa(p.Leader.Port))
		leader, err := kafka.DialLeader(ctx, "tcp", addr, h.topic, p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to dial leader of partition %d: %w", p.ID, err)
		}
		first, last, err := leader.ReadOffsets()
		leader.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read offsets of partition %d: %w", p.ID, err)
		}
		ranges = append(ranges, partitionRange{Partition: p.ID, First: first, Last: last})
	}
	return ranges, nil
}

func (h *History) openPartition(partition int, offset int64) (Reader, error) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   h.brokers,
		Topic:     h.topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   200 * time.Millisecond,
	})
	if err := r.SetOffset(offset); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}
