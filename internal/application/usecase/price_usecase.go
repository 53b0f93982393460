package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

const (
	DefaultHistoryLimit = 100
	ServiceName         = "stock-consumer"
)

// PriceReader is the read side of the in-memory price store.
type PriceReader interface {
	Current(symbol string) (model.PriceUpdate, bool)
	AllCurrent() map[string]model.PriceUpdate
	RecentHistory(symbol string, limit int) []model.PriceUpdate
	HistoryInRange(symbol string, from, to time.Time) []model.PriceUpdate
	Symbols() []string
	Statistics() model.Statistics
	Clear()
}

type SubscriberCounter interface {
	Counts() model.SubscriberCounts
}

// MessageCounter reports how many records the upstream topic holds.
type MessageCounter interface {
	MessageCount(ctx context.Context) (int64, error)
}

type HealthReport struct {
	Status    string          `json:"status"`
	Service   string          `json:"service"`
	Timestamp model.Timestamp `json:"timestamp"`
	model.Statistics
	Subscribers       model.SubscriberCounts `json:"subscribers"`
	KafkaMessageCount *int64                 `json:"kafkaMessageCount,omitempty"`
}

type StatsReport struct {
	model.Statistics
	KafkaMessageCount *int64 `json:"kafkaMessageCount,omitempty"`
}

type ClearAck struct {
	Message   string          `json:"message"`
	Note      string          `json:"note"`
	Timestamp model.Timestamp `json:"timestamp"`
}

// PriceUseCase answers queries from the store. It never touches fanout.
type PriceUseCase struct {
	store       PriceReader
	subscribers SubscriberCounter
	counter     MessageCounter
	logger      *zap.Logger
	now         func() time.Time
}

// NewPriceUseCase wires the facade; counter may be nil when Kafka is not configured.
func NewPriceUseCase(store PriceReader, subscribers SubscriberCounter, counter MessageCounter, logger *zap.Logger) *PriceUseCase {
	return &PriceUseCase{
		store:       store,
		subscribers: subscribers,
		counter:     counter,
		logger:      logger,
		now:         time.Now,
	}
}

func (uc *PriceUseCase) Health(ctx context.Context) HealthReport {
	return HealthReport{
		Status:            "UP",
		Service:           ServiceName,
		Timestamp:         model.NewTimestamp(uc.now()),
		Statistics:        uc.store.Statistics(),
		Subscribers:       uc.subscribers.Counts(),
		KafkaMessageCount: uc.messageCount(ctx),
	}
}

func (uc *PriceUseCase) Symbols() []string {
	return uc.store.Symbols()
}

func (uc *PriceUseCase) AllCurrent() map[string]model.PriceUpdate {
	return uc.store.AllCurrent()
}

func (uc *PriceUseCase) Current(symbol string) (model.PriceUpdate, bool) {
	return uc.store.Current(model.NormalizeSymbol(symbol))
}

func (uc *PriceUseCase) RecentHistory(symbol string, limit int) []model.PriceUpdate {
	return uc.store.RecentHistory(model.NormalizeSymbol(symbol), limit)
}

func (uc *PriceUseCase) HistoryInRange(symbol string, from, to time.Time) []model.PriceUpdate {
	return uc.store.HistoryInRange(model.NormalizeSymbol(symbol), from, to)
}

func (uc *PriceUseCase) Statistics(ctx context.Context) StatsReport {
	return StatsReport{
		Statistics:        uc.store.Statistics(),
		KafkaMessageCount: uc.messageCount(ctx),
	}
}

func (uc *PriceUseCase) Subscribers() model.SubscriberCounts {
	return uc.subscribers.Counts()
}

func (uc *PriceUseCase) Clear() ClearAck {
	uc.store.Clear()
	uc.logger.Info("in-memory price data cleared")
	return ClearAck{
		Message:   "All in-memory stock data cleared",
		Note:      "Upstream source data is not affected",
		Timestamp: model.NewTimestamp(uc.now()),
	}
}

func (uc *PriceUseCase) messageCount(ctx context.Context) *int64 {
	if uc.counter == nil {
		return nil
	}
	n, err := uc.counter.MessageCount(ctx)
	if err != nil {
		uc.logger.Warn("failed to count kafka messages", zap.Error(err))
		return nil
	}
	return &n
}
