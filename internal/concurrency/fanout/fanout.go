package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stockstream/internal/concurrency/registry"
	"stockstream/internal/concurrency/worker"
	"stockstream/internal/domain/model"
	"stockstream/internal/infrastructure/metrics"
)

const DefaultDeliverTimeout = 2 * time.Second

// Fanout раздаёт обновление всем подходящим подпискам.
// Сбой одной подписки (ошибка или паника) не влияет на остальные:
// подписка отключается, ошибка логируется и не возвращается вызывающему.
type Fanout struct {
	registry       *registry.Registry
	pool           *worker.Pool
	deliverTimeout time.Duration
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

func New(reg *registry.Registry, pool *worker.Pool, deliverTimeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Fanout {
	if deliverTimeout <= 0 {
		deliverTimeout = DefaultDeliverTimeout
	}
	return &Fanout{
		registry:       reg,
		pool:           pool,
		deliverTimeout: deliverTimeout,
		metrics:        m,
		logger:         logger,
	}
}

// Publish блокируется, пока все подписки, найденные на момент вызова,
// не получат обновление (или не будут отключены).
// Возвращает число успешных доставок.
func (f *Fanout) Publish(ctx context.Context, u model.PriceUpdate) int {
	handles := f.registry.Matching(u.Symbol)
	if len(handles) == 0 {
		return 0
	}

	results := make([]error, len(handles))
	jobs := make([]worker.Job, len(handles))
	for i, h := range handles {
		i, h := i, h
		jobs[i] = func(ctx context.Context) {
			results[i] = f.deliver(ctx, h, u)
		}
	}
	f.pool.Run(ctx, jobs)

	// Отмена ctx означает остановку приёма (смена режима, shutdown),
	// а не проблему подписки: в этом случае никого не отключаем.
	stopping := ctx.Err() != nil
	delivered := 0
	for i, err := range results {
		if err == nil {
			delivered++
			continue
		}
		if stopping {
			f.logger.Debug("fanout: delivery interrupted by shutdown",
				zap.String("handle", handles[i].ID()), zap.Error(err))
			continue
		}
		f.evict(handles[i], err)
	}
	if f.metrics != nil {
		f.metrics.Deliveries.Add(float64(delivered))
	}
	return delivered
}

func (f *Fanout) deliver(ctx context.Context, h *registry.Handle, u model.PriceUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()

	// Таймаут отсчитывается независимо от отмены приёма: подписка
	// отвечает только за собственную скорость.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.deliverTimeout)
	defer cancel()
	return h.Deliver(dctx, u)
}

// closer реализуют транспорты, которым нужно закрыть соединение после отключения.
type closer interface {
	Close()
}

func (f *Fanout) evict(h *registry.Handle, cause error) {
	f.registry.Detach(h)
	if c, ok := h.Subscriber().(closer); ok {
		c.Close()
	}
	derr := &model.DeliveryError{HandleID: h.ID(), Err: cause}
	if f.metrics != nil {
		f.metrics.DeliveryFailures.Inc()
	}

	level := f.logger.Warn
	if errors.Is(cause, context.Canceled) {
		level = f.logger.Debug
	}
	level("fanout: subscriber detached",
		zap.String("handle", h.ID()),
		zap.String("subscriber", h.Subscriber().ID()),
		zap.String("scope", h.Scope().String()),
		zap.Error(derr),
	)
}
