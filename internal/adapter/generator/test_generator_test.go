package generator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNextRotatesSymbols(t *testing.T) {
	g := NewTestGenerator("test", Config{Seed: 7}, zap.NewNop())
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, g.Next(now).Symbol)
	}
	assert.Equal(t, []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA", "AAPL", "GOOGL"}, got)
}

func TestNextIsDeterministicForSeed(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	a := NewTestGenerator("a", Config{Seed: 42}, zap.NewNop())
	b := NewTestGenerator("b", Config{Seed: 42}, zap.NewNop())
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Next(now), b.Next(now))
	}
}

func TestNextStaysWithinBounds(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	g := NewTestGenerator("walk", Config{Symbols: []string{"X"}, InitialPrice: 2, MaxChange: 3, Seed: 1}, zap.NewNop())

	prev := 2.0
	for i := 0; i < 500; i++ {
		u := g.Next(now)
		require.NoError(t, u.Validate())
		assert.GreaterOrEqual(t, u.Price, 1.0)
		assert.LessOrEqual(t, u.Change, 3.01)
		assert.GreaterOrEqual(t, u.Change, -3.01)
		assert.InDelta(t, u.Price-prev, u.Change, 0.016)
		prev = u.Price
	}
}

func TestReadPricesEmitsUntilClosed(t *testing.T) {
	g := NewTestGenerator("ticker", Config{Interval: 5 * time.Millisecond, Seed: 3}, zap.NewNop())
	require.NoError(t, g.Connect(context.Background()))
	out, errs := g.ReadPrices(context.Background())

	u := <-out
	assert.Equal(t, "AAPL", u.Symbol)

	require.NoError(t, g.Close())
	for range out {
	}
	_, ok := <-errs
	assert.False(t, ok)
}
