package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockstream/internal/domain/model"
	"stockstream/internal/domain/port"
	"stockstream/internal/infrastructure/metrics"
)

// HistoryReader: то, что агрегатору нужно от хранилища цен.
type HistoryReader interface {
	Symbols() []string
	HistorySince(symbol string, cursor model.HistoryCursor) ([]model.PriceUpdate, model.HistoryCursor)
}

// AggregationService периодически считает avg/min/max по каждому символу
// по обновлениям, пришедшим с прошлого цикла, и пишет батч в архив. Запись best-effort:
// ошибка архива логируется, приём цен от неё не зависит.
type AggregationService struct {
	history HistoryReader
	archive port.ArchivePort
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	ticker  *time.Ticker
	done    chan struct{}
	stopped chan struct{}
	// cursors: докуда история каждого символа уже попала в архив.
	cursors map[string]model.HistoryCursor
}

func NewAggregationService(history HistoryReader, archive port.ArchivePort, m *metrics.Metrics, logger *zap.Logger) *AggregationService {
	return &AggregationService{
		history: history,
		archive: archive,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		cursors: make(map[string]model.HistoryCursor),
	}
}

// Start запускает цикл агрегации с указанным интервалом.
// Если interval <= 0, используется 1 минута.
func (s *AggregationService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	s.mu.Lock()
	// остановим предыдущий тикер если был
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.ticker = time.NewTicker(interval)
	s.done = make(chan struct{})
	s.stopped = make(chan struct{})
	tick, done, stopped := s.ticker, s.done, s.stopped
	s.mu.Unlock()

	s.logger.Info("aggregation service starting", zap.Duration("interval", interval))
	go s.aggregateLoop(ctx, tick, done, stopped)
}

// Stop останавливает цикл и дожидается финальной агрегации.
func (s *AggregationService) Stop() {
	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	done, stopped := s.done, s.stopped
	s.done = nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	close(done)
	<-stopped
	s.logger.Info("aggregation service stopped")
}

func (s *AggregationService) aggregateLoop(ctx context.Context, tick *time.Ticker, done, stopped chan struct{}) {
	defer close(stopped)
	// Гарантируем выполнение финальной агрегации при выходе
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.AggregateOnce(fctx); err != nil {
			s.logger.Error("final aggregation failed", zap.Error(err))
		}
	}()

	for {
		select {
		case <-tick.C:
			start := time.Now()
			n, err := s.AggregateOnce(ctx)
			if err != nil {
				s.logger.Error("aggregation failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
				continue
			}
			s.logger.Debug("aggregation cycle completed", zap.Int("rows", n), zap.Duration("duration", time.Since(start)))
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// AggregateOnce сводит обновления, пришедшие после прошлого успешного
// цикла, и сохраняет их одним батчем. Отбор идёт по порядку поступления,
// а не по отметкам времени: опоздавший или округлённый до секунды тик
// всё равно попадёт в ближайший батч. Возвращает число записанных строк.
func (s *AggregationService) AggregateOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	now := s.now()
	batch, next := s.aggregate(now)
	s.mu.Unlock()

	if len(batch) == 0 {
		s.advance(next)
		return 0, nil
	}

	if err := s.archive.SaveAggregatedPrices(ctx, batch); err != nil {
		// курсоры не сдвигаем: следующий цикл повторит те же обновления
		return 0, err
	}
	s.advance(next)
	if s.metrics != nil {
		s.metrics.ArchivedRows.Add(float64(len(batch)))
	}
	return len(batch), nil
}

func (s *AggregationService) advance(next map[string]model.HistoryCursor) {
	s.mu.Lock()
	s.cursors = next
	s.mu.Unlock()
}

// aggregate вызывается под s.mu.
func (s *AggregationService) aggregate(now time.Time) ([]model.AggregatedPrice, map[string]model.HistoryCursor) {
	var batch []model.AggregatedPrice
	next := make(map[string]model.HistoryCursor)
	for _, sym := range s.history.Symbols() {
		window, cur := s.history.HistorySince(sym, s.cursors[sym])
		next[sym] = cur
		if len(window) == 0 {
			continue
		}
		avg, mn, mx := computeStats(window)
		batch = append(batch, model.AggregatedPrice{
			Symbol:       sym,
			Timestamp:    now.UTC(),
			AveragePrice: model.Round2(avg),
			MinPrice:     mn,
			MaxPrice:     mx,
			Count:        len(window),
		})
	}
	return batch, next
}

func computeStats(prices []model.PriceUpdate) (avg, min, max float64) {
	if len(prices) == 0 {
		return 0, 0, 0
	}
	min = prices[0].Price
	max = prices[0].Price
	var sum float64
	for _, p := range prices {
		if p.Price < min {
			min = p.Price
		}
		if p.Price > max {
			max = p.Price
		}
		sum += p.Price
	}
	avg = sum / float64(len(prices))
	return avg, min, max
}
