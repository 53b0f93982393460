package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockstream/internal/concurrency/fanin"
	"stockstream/internal/domain/model"
	"stockstream/internal/domain/port"
	"stockstream/internal/infrastructure/metrics"
)

// SourceFactory строит набор источников для режима.
type SourceFactory func(mode model.DataMode) ([]port.SourcePort, error)

// ModeService управляет текущим режимом (Live/Test) и конвейером приёма:
// источники -> FanIn -> Ingestor. Смена режима останавливает конвейер
// и запускает новый Ingestor поверх тех же store и publisher.
type ModeService struct {
	factory   SourceFactory
	store     PriceApplier
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	switchMu sync.Mutex

	mu          sync.RWMutex
	currentMode model.DataMode
	running     bool
	ingestor    *Ingestor
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewModeService(factory SourceFactory, store PriceApplier, publisher Publisher, m *metrics.Metrics, logger *zap.Logger) *ModeService {
	return &ModeService{
		factory:     factory,
		store:       store,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		minBackoff:  time.Second,
		maxBackoff:  30 * time.Second,
		currentMode: model.LiveMode,
	}
}

// SetBackoff задаёт границы паузы между перезапусками после сбоя источника.
func (s *ModeService) SetBackoff(min, max time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if min > 0 {
		s.minBackoff = min
	}
	if max >= s.minBackoff {
		s.maxBackoff = max
	}
}

// Start запускает конвейер в заданном режиме. Повторный вызов перезапускает его.
func (s *ModeService) Start(ctx context.Context, mode model.DataMode) error {
	s.switchMu.Lock()
	defer s.switchMu.Unlock()
	s.Stop()

	// Проверяем, что источники собираются, до запуска фоновой горутины.
	if _, err := s.factory(mode); err != nil {
		return fmt.Errorf("failed to build sources for %s mode: %w", mode, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	runCtx, cancel := context.WithCancel(ctx)
	s.currentMode = mode
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("mode_service: starting ingestion", zap.String("mode", mode.String()))
	go s.supervise(runCtx, mode, s.done)
	return nil
}

func (s *ModeService) SwitchMode(ctx context.Context, mode model.DataMode) error {
	s.mu.RLock()
	same := s.running && s.currentMode == mode
	old := s.currentMode
	s.mu.RUnlock()

	if same {
		return nil
	}
	if err := s.Start(ctx, mode); err != nil {
		return err
	}
	s.logger.Info("mode_service: mode updated", zap.String("old", old.String()), zap.String("new", mode.String()))
	return nil
}

// Stop останавливает конвейер и ждёт завершения Ingestor.
func (s *ModeService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.running = false
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *ModeService) GetCurrentMode() model.DataMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentMode
}

// Ingestor возвращает текущий (или последний) экземпляр.
func (s *ModeService) Ingestor() *Ingestor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ingestor
}

func (s *ModeService) supervise(ctx context.Context, mode model.DataMode, done chan struct{}) {
	defer close(done)

	s.mu.RLock()
	backoff, maxBackoff := s.minBackoff, s.maxBackoff
	s.mu.RUnlock()
	initial := backoff

	for {
		processed, err := s.runOnce(ctx, mode)
		if ctx.Err() != nil {
			return
		}
		if processed > 0 {
			backoff = initial
		}
		s.logger.Error("mode_service: ingestion stopped, restarting",
			zap.String("mode", mode.String()),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce подключает источники и крутит один Ingestor до его остановки.
func (s *ModeService) runOnce(ctx context.Context, mode model.DataMode) (uint64, error) {
	sources, err := s.factory(mode)
	if err != nil {
		return 0, err
	}
	if len(sources) == 0 {
		return 0, errors.New("no sources configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	connected := make([]port.SourcePort, 0, len(sources))
	defer func() {
		for _, src := range connected {
			if err := src.Close(); err != nil {
				s.logger.Warn("mode_service: source close failed", zap.String("source", src.Name()), zap.Error(err))
			}
		}
	}()

	updateChs := make([]<-chan model.PriceUpdate, 0, len(sources))
	errChs := make([]<-chan error, 0, len(sources))
	for _, src := range sources {
		if err := src.Connect(runCtx); err != nil {
			return 0, fmt.Errorf("failed to connect %s: %w", src.Name(), err)
		}
		connected = append(connected, src)
		upd, errs := src.ReadPrices(runCtx)
		updateChs = append(updateChs, upd)
		errChs = append(errChs, errs)
		s.logger.Info("mode_service: source connected", zap.String("source", src.Name()))
	}

	updates := fanin.FanIn(updateChs...)
	errs := fanin.Errors(errChs...)
	defer drain(updates, errs)

	ing := NewIngestor(s.store, s.publisher, s.metrics, s.logger)
	s.mu.Lock()
	s.ingestor = ing
	s.mu.Unlock()

	err = ing.Run(runCtx, updates, errs)
	return ing.Processed(), err
}

// drain не даёт горутинам FanIn зависнуть после остановки Ingestor.
func drain(updates <-chan model.PriceUpdate, errs <-chan error) {
	go func() {
		for range updates {
		}
	}()
	go func() {
		for range errs {
		}
	}()
}
