package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
	"stockstream/internal/infrastructure/metrics"
)

func newRelay(t *testing.T) (*RedisRelay, *miniredis.Miniredis, *metrics.Metrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	m := metrics.NewNop()
	relay, err := NewRedisRelay(mr.Addr(), "", 0, time.Hour, m, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { relay.Close() })
	return relay, mr, m
}

func TestRelaySetsLatestWithTTLAndPublishes(t *testing.T) {
	relay, mr, _ := newRelay(t)
	ctx := context.Background()

	sub := relay.client.Subscribe(ctx, "prices.AAPL")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	u := model.NewPriceUpdate("AAPL", 150.25, 1, 0.67, time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local))
	require.NoError(t, relay.Deliver(ctx, u))

	assert.True(t, mr.Exists("stock:AAPL"))
	assert.Equal(t, time.Hour, mr.TTL("stock:AAPL"))

	raw, err := mr.Get("stock:AAPL")
	require.NoError(t, err)
	got, err := model.DecodePriceUpdate([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, u, got)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "prices.AAPL", msg.Channel)
		assert.Contains(t, msg.Payload, `"symbol":"AAPL"`)
	case <-time.After(time.Second):
		t.Fatal("no message published")
	}
}

func TestRelaySwallowsRedisErrors(t *testing.T) {
	relay, mr, m := newRelay(t)
	mr.Close()

	err := relay.Deliver(context.Background(), model.NewPriceUpdate("MSFT", 300, 0, 0, time.Now()))
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RelayErrors))
	assert.Error(t, relay.Ping(context.Background()))
}

func TestNewRedisRelayFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := NewRedisRelay(addr, "", 0, time.Minute, nil, zap.NewNop())
	assert.Error(t, err)
}
