package generator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

var DefaultSymbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA"}

const (
	DefaultInitialPrice = 150.0
	DefaultMaxChange    = 5.0
	DefaultInterval     = time.Second
	minPrice            = 1.0
)

type Config struct {
	Symbols      []string
	InitialPrice float64
	MaxChange    float64
	Interval     time.Duration
	// Seed 0 means seeded from the clock.
	Seed int64
}

func (c Config) withDefaults() Config {
	if len(c.Symbols) == 0 {
		c.Symbols = DefaultSymbols
	}
	if c.InitialPrice <= 0 {
		c.InitialPrice = DefaultInitialPrice
	}
	if c.MaxChange <= 0 {
		c.MaxChange = DefaultMaxChange
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// TestGenerator is a random-walk price source. Symbols are emitted in rotation,
// each keeps its own walk starting at InitialPrice.
type TestGenerator struct {
	name string
	cfg  Config
	log  *zap.Logger

	mu     sync.Mutex
	rnd    *rand.Rand
	prices map[string]float64
	next   int
	cancel context.CancelFunc
}

func NewTestGenerator(name string, cfg Config, log *zap.Logger) *TestGenerator {
	cfg = cfg.withDefaults()
	return &TestGenerator{
		name:   name,
		cfg:    cfg,
		log:    log,
		rnd:    rand.New(rand.NewSource(cfg.Seed)),
		prices: make(map[string]float64, len(cfg.Symbols)),
	}
}

func (t *TestGenerator) Name() string { return t.name }

func (t *TestGenerator) Connect(ctx context.Context) error {
	// nothing to do
	return nil
}

// Next advances the walk by one step for the next symbol in rotation.
func (t *TestGenerator) Next(now time.Time) model.PriceUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	symbol := t.cfg.Symbols[t.next]
	t.next = (t.next + 1) % len(t.cfg.Symbols)

	old, ok := t.prices[symbol]
	if !ok {
		old = t.cfg.InitialPrice
	}
	delta := (t.rnd.Float64() - 0.5) * 2 * t.cfg.MaxChange
	price := math.Max(minPrice, old+delta)
	t.prices[symbol] = price

	change := price - old
	return model.NewPriceUpdate(symbol, price, change, change/old*100, now)
}

func (t *TestGenerator) ReadPrices(ctx context.Context) (<-chan model.PriceUpdate, <-chan error) {
	out := make(chan model.PriceUpdate)
	errCh := make(chan error)
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.log.Info("generator started", zap.String("source", t.name), zap.Strings("symbols", t.cfg.Symbols), zap.Duration("interval", t.cfg.Interval))

	go func() {
		defer close(out)
		defer close(errCh)
		ticker := time.NewTicker(t.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				select {
				case out <- t.Next(now):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, errCh
}

func (t *TestGenerator) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	return nil
}
