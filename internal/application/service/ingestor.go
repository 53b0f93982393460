package service

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"stockstream/internal/domain/model"
	"stockstream/internal/infrastructure/metrics"
)

// PriceApplier: хранилище, в которое записывается каждое обновление.
type PriceApplier interface {
	Apply(u model.PriceUpdate) error
}

// Publisher раздаёт обновление подписчикам.
type Publisher interface {
	Publish(ctx context.Context, u model.PriceUpdate) int
}

type IngestorState int32

const (
	StateIdle IngestorState = iota
	StateConsuming
	StateStopped
)

func (s IngestorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConsuming:
		return "consuming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var ErrIngestorNotIdle = errors.New("ingestor is not idle")

// Ingestor: единственная точка записи: события обрабатываются строго по одному,
// в порядке получения. После остановки экземпляр не перезапускается,
// для нового запуска создаётся новый Ingestor поверх тех же store и publisher.
type Ingestor struct {
	store     PriceApplier
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	state     atomic.Int32
	processed atomic.Uint64
	rejected  atomic.Uint64
}

func NewIngestor(store PriceApplier, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

func (in *Ingestor) State() IngestorState { return IngestorState(in.state.Load()) }

func (in *Ingestor) Processed() uint64 { return in.processed.Load() }

func (in *Ingestor) Rejected() uint64 { return in.rejected.Load() }

// Run читает updates до отмены контекста или фатальной ошибки источника.
// Нефатальные ошибки из errs логируются, цикл продолжается.
func (in *Ingestor) Run(ctx context.Context, updates <-chan model.PriceUpdate, errs <-chan error) error {
	if !in.state.CompareAndSwap(int32(StateIdle), int32(StateConsuming)) {
		return ErrIngestorNotIdle
	}
	in.reportState()
	defer func() {
		in.state.Store(int32(StateStopped))
		in.reportState()
	}()

	in.logger.Info("ingestor: consuming")
	for {
		select {
		case <-ctx.Done():
			in.logger.Info("ingestor: stopped by context", zap.Uint64("processed", in.Processed()))
			return ctx.Err()

		case u, ok := <-updates:
			if !ok {
				return model.NewSourceFatal("updates", errors.New("update stream closed"))
			}
			_ = in.Process(ctx, u)

		case err, ok := <-errs:
			if !ok {
				// nil-канал никогда не готов, select больше его не выберет
				errs = nil
				continue
			}
			if errors.Is(err, model.ErrSourceFatal) {
				in.countSourceError(true)
				in.logger.Error("ingestor: source failed, stopping", zap.Error(err))
				var sf *model.SourceFatalError
				if errors.As(err, &sf) {
					return sf
				}
				return &model.SourceFatalError{Source: "unknown", Err: err}
			}
			in.countSourceError(false)
			in.logger.Warn("ingestor: source error", zap.Error(err))
		}
	}
}

// Process применяет одно обновление: validate -> apply -> publish.
// Если запись не удалась, рассылка не выполняется.
func (in *Ingestor) Process(ctx context.Context, u model.PriceUpdate) error {
	if err := in.store.Apply(u); err != nil {
		in.rejected.Add(1)
		if in.metrics != nil {
			in.metrics.UpdatesRejected.Inc()
		}
		in.logger.Warn("ingestor: update rejected", zap.String("symbol", u.Symbol), zap.Error(err))
		return err
	}

	delivered := in.publisher.Publish(ctx, u)
	in.processed.Add(1)
	if in.metrics != nil {
		in.metrics.UpdatesProcessed.Inc()
	}
	in.logger.Debug("ingestor: update processed",
		zap.String("symbol", u.Symbol),
		zap.Float64("price", u.Price),
		zap.Int("delivered", delivered),
	)
	return nil
}

func (in *Ingestor) reportState() {
	if in.metrics != nil {
		in.metrics.IngestorState.Set(float64(in.State()))
	}
}

func (in *Ingestor) countSourceError(fatal bool) {
	if in.metrics == nil {
		return
	}
	label := "false"
	if fatal {
		label = "true"
	}
	in.metrics.SourceErrors.WithLabelValues(label).Inc()
}
