package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

func TestDeliverFailsWhenBufferStaysFull(t *testing.T) {
	c := NewSSEClient("slow", 1, 0)
	u := model.NewPriceUpdate("AAPL", 1, 0, 0, t0)
	require.NoError(t, c.Deliver(context.Background(), u))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Deliver(ctx, u), ErrSlowSubscriber)
}

func TestDeliverAfterCloseFails(t *testing.T) {
	c := NewSSEClient("gone", 4, 0)
	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Deliver(context.Background(), model.NewPriceUpdate("AAPL", 1, 0, 0, t0)), ErrClosed)
}

func TestSSEServeWritesSnapshotThenLive(t *testing.T) {
	c := NewSSEClient("sse", 8, 0)
	require.NoError(t, c.Prime([]model.PriceUpdate{model.NewPriceUpdate("AAPL", 150, 0, 0, t0)}, "unused"))

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background(), rec) }()

	require.NoError(t, c.Deliver(context.Background(), model.NewPriceUpdate("AAPL", 151, 1, 0.66, t0.Add(time.Second))))
	// a received frame is written before the writer looks at close
	require.Eventually(t, func() bool { return len(c.out.frames) == 0 }, time.Second, time.Millisecond)
	c.Close()
	require.NoError(t, <-done)

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	first := strings.Index(body, `"price":150`)
	second := strings.Index(body, `"price":151`)
	require.True(t, first >= 0 && second > first, body)
	assert.Equal(t, 2, strings.Count(body, "event: stock-price\n"))
}

func TestSSEServeInfoWhenEmpty(t *testing.T) {
	c := NewSSEClient("sse", 8, 0)
	require.NoError(t, c.Prime(nil, "Connected to stock price stream. Waiting for data..."))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	require.NoError(t, c.Serve(ctx, rec))
	assert.Equal(t, "event: info\ndata: Connected to stock price stream. Waiting for data...\n\n", rec.Body.String())
}

func TestWSClientRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	clients := make(chan *WSClient, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewWSClient("ws", conn, 8, zap.NewNop())
		_ = c.Prime(nil, "Connected to AAPL price stream. Waiting for data...")
		clients <- c
		c.Run(r.Context())
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	var info Envelope
	require.NoError(t, conn.ReadJSON(&info))
	assert.Equal(t, Envelope{Type: "info", Message: "Connected to AAPL price stream. Waiting for data..."}, info)

	c := <-clients
	u := model.NewPriceUpdate("AAPL", 150, 1, 0.67, t0)
	require.NoError(t, c.Deliver(context.Background(), u))

	var got Envelope
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "stock-price", got.Type)
	require.NotNil(t, got.Data)
	assert.Equal(t, u, *got.Data)

	c.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func serveUntilDrained(t *testing.T, c *SSEClient) string {
	t.Helper()
	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background(), rec) }()
	require.Eventually(t, func() bool { return len(c.out.frames) == 0 }, time.Second, time.Millisecond)
	c.Close()
	require.NoError(t, <-done)
	return rec.Body.String()
}

func TestPrimeDropsQueuedUpdatesCoveredBySnapshot(t *testing.T) {
	c := NewSSEClient("sse", 8, 0)
	ctx := context.Background()
	// attached before the snapshot: three updates land in the buffer first
	for i, p := range []float64{150, 151, 152} {
		require.NoError(t, c.Deliver(ctx, model.NewPriceUpdate("AAPL", p, 0, 0, t0.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, c.Deliver(ctx, model.NewPriceUpdate("MSFT", 300, 0, 0, t0)))

	snapshot := []model.PriceUpdate{
		model.NewPriceUpdate("AAPL", 151, 0, 0, t0.Add(time.Second)),
		model.NewPriceUpdate("MSFT", 300, 0, 0, t0),
	}
	require.NoError(t, c.Prime(snapshot, "unused"))

	body := serveUntilDrained(t, c)
	assert.NotContains(t, body, `"price":150`)
	assert.Equal(t, 1, strings.Count(body, `"price":151`))
	assert.Equal(t, 1, strings.Count(body, `"price":300`))
	last := strings.Index(body, `"price":152`)
	require.True(t, last > strings.Index(body, `"price":300`), body)
}

func TestPrimeSkipsSnapshotEntryPublishedLater(t *testing.T) {
	c := NewSSEClient("sse", 8, 0)
	ctx := context.Background()
	// applied to the store before the snapshot, published after it
	pending := model.NewPriceUpdate("AAPL", 150, 0, 0, t0)
	require.NoError(t, c.Prime([]model.PriceUpdate{pending}, "unused"))

	require.NoError(t, c.Deliver(ctx, pending))
	require.NoError(t, c.Deliver(ctx, model.NewPriceUpdate("AAPL", 151, 0, 0, t0.Add(time.Second))))

	body := serveUntilDrained(t, c)
	assert.Equal(t, 1, strings.Count(body, `"price":150`))
	assert.Equal(t, 1, strings.Count(body, `"price":151`))
}

func TestPrimeDropsOlderQueuedWhenSnapshotNotYetQueued(t *testing.T) {
	c := NewSSEClient("sse", 8, 0)
	ctx := context.Background()
	require.NoError(t, c.Deliver(ctx, model.NewPriceUpdate("AAPL", 150, 0, 0, t0)))

	latest := model.NewPriceUpdate("AAPL", 151, 0, 0, t0.Add(time.Second))
	require.NoError(t, c.Prime([]model.PriceUpdate{latest}, "unused"))
	require.NoError(t, c.Deliver(ctx, latest))

	body := serveUntilDrained(t, c)
	assert.NotContains(t, body, `"price":150`)
	assert.Equal(t, 1, strings.Count(body, `"price":151`))
}
