package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stockstream/internal/adapter/memory"
	"stockstream/internal/adapter/stream"
	"stockstream/internal/application/usecase"
	"stockstream/internal/concurrency/fanout"
	"stockstream/internal/concurrency/registry"
	"stockstream/internal/concurrency/worker"
	"stockstream/internal/domain/model"
	"stockstream/internal/domain/port"
	"stockstream/internal/infrastructure/metrics"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

type fakeHistory struct {
	prices []model.PriceUpdate
	err    error
}

func (f *fakeHistory) Topic() string { return "stock-prices" }

func (f *fakeHistory) MessageCount(context.Context) (int64, error) {
	return int64(len(f.prices)), f.err
}

func (f *fakeHistory) Symbol(_ context.Context, symbol string, limit int) ([]model.PriceUpdate, error) {
	var out []model.PriceUpdate
	for _, p := range f.prices {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, f.err
}

func (f *fakeHistory) All(_ context.Context, limit int) ([]model.PriceUpdate, error) {
	if len(f.prices) > limit {
		return f.prices[len(f.prices)-limit:], f.err
	}
	return f.prices, f.err
}

func (f *fakeHistory) SymbolInRange(_ context.Context, symbol string, from, to time.Time) ([]model.PriceUpdate, error) {
	var out []model.PriceUpdate
	for _, p := range f.prices {
		if p.Symbol == symbol && p.Timestamp.After(from) && p.Timestamp.Before(to) {
			out = append(out, p)
		}
	}
	return out, f.err
}

type fakeAggregates struct {
	rows      []model.AggregatedPrice
	err       error
	gotSymbol string
	gotSince  time.Time
}

func (f *fakeAggregates) LatestAggregates(_ context.Context, symbol string, since time.Time) ([]model.AggregatedPrice, error) {
	f.gotSymbol, f.gotSince = symbol, since
	return f.rows, f.err
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type modeState struct {
	mu   sync.Mutex
	mode model.DataMode
	err  error
}

func (m *modeState) GetCurrentMode() model.DataMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *modeState) switchTo(_ context.Context, mode model.DataMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.mode = mode
	return nil
}

type fixture struct {
	store    *memory.Store
	registry *registry.Registry
	fanout   *fanout.Fanout
	stream   *StreamHandler
	modes    *modeState
	router   http.Handler
}

type fixtureOpts struct {
	history   TopicHistory
	archive   AggregateReader
	checks    map[string]port.Pinger
	rateLimit *RateLimiter
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	log := zap.NewNop()
	m := metrics.NewNop()
	store := memory.NewStore(memory.DefaultHistorySize)
	reg := registry.New()
	uc := usecase.NewPriceUseCase(store, reg, nil, log)
	modes := &modeState{mode: model.LiveMode}

	streams := NewStreamHandler(reg, uc, StreamOptions{
		BufferSize:     8,
		SSETimeout:     5 * time.Second,
		AllowedOrigins: []string{"http://localhost:3000"},
	}, m, log)
	t.Cleanup(streams.Close)

	router := NewRouter(Handlers{
		Price:     NewPriceHandler(uc, log),
		Kafka:     NewKafkaHandler(opts.history, log),
		Archive:   NewArchiveHandler(opts.archive, log),
		Stream:    streams,
		Health:    NewHealthHandler(opts.checks, log),
		Mode:      NewModeHandler(modes, modes.switchTo, log),
		RateLimit: opts.rateLimit,
		Metrics:   m,
		Origins:   []string{"http://localhost:3000"},
	})

	return &fixture{
		store:    store,
		registry: reg,
		fanout:   fanout.New(reg, worker.NewPool(2, log), time.Second, m, log),
		stream:   streams,
		modes:    modes,
		router:   router,
	}
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func (f *fixture) apply(t *testing.T, symbol string, price float64, ts time.Time) model.PriceUpdate {
	t.Helper()
	u := model.NewPriceUpdate(symbol, price, 0, 0, ts)
	require.NoError(t, f.store.Apply(u))
	return u
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPriceHandler_Current(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.apply(t, "AAPL", 150.25, t0)

	rec := f.do(http.MethodGet, "/api/stock/current/aapl")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.PriceUpdate](t, rec)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, 150.25, got.Price)
	assert.Contains(t, rec.Body.String(), `"timestamp":"2024-03-01T10:00:00"`)

	rec = f.do(http.MethodGet, "/api/stock/current/MSFT")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/stock/current")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string]model.PriceUpdate](t, rec), 1)
}

func TestPriceHandler_History(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	for i := 0; i < 5; i++ {
		f.apply(t, "TSLA", float64(100+i), t0.Add(time.Duration(i)*time.Second))
	}

	rec := f.do(http.MethodGet, "/api/stock/history/TSLA?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]model.PriceUpdate](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, 103.0, got[0].Price)
	assert.Equal(t, 104.0, got[1].Price)

	rec = f.do(http.MethodGet, "/api/stock/history/TSLA")
	assert.Len(t, decode[[]model.PriceUpdate](t, rec), 5)

	for _, bad := range []string{"abc", "0", "-3"} {
		rec = f.do(http.MethodGet, "/api/stock/history/TSLA?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec = f.do(http.MethodGet, "/api/stock/history/NONE")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPriceHandler_HistoryRange(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	for i := 0; i < 5; i++ {
		f.apply(t, "IBM", float64(10+i), t0.Add(time.Duration(i)*time.Minute))
	}

	rec := f.do(http.MethodGet, "/api/stock/history/IBM/range?from=2024-03-01T10:00:00&to=2024-03-01T10:04:00")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]model.PriceUpdate](t, rec)
	// обе границы исключаются
	require.Len(t, got, 3)
	assert.Equal(t, 11.0, got[0].Price)
	assert.Equal(t, 13.0, got[2].Price)

	rec = f.do(http.MethodGet, "/api/stock/history/IBM/range?from=yesterday&to=2024-03-01T10:04:00")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/stock/history/IBM/range?from=2024-03-01T10:00:00")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceHandler_HealthStatsClear(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.apply(t, "AAPL", 1, t0)
	f.apply(t, "MSFT", 2, t0)

	rec := f.do(http.MethodGet, "/api/stock/health")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "UP", health["status"])
	assert.Equal(t, usecase.ServiceName, health["service"])
	assert.EqualValues(t, 2, health["totalSymbols"])
	assert.NotContains(t, health, "kafkaMessageCount")

	rec = f.do(http.MethodGet, "/api/stock/symbols")
	assert.JSONEq(t, `["AAPL","MSFT"]`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/stock/stats")
	stats := decode[map[string]any](t, rec)
	assert.EqualValues(t, 2, stats["totalMessages"])

	rec = f.do(http.MethodDelete, "/api/stock/clear")
	require.Equal(t, http.StatusOK, rec.Code)
	ack := decode[usecase.ClearAck](t, rec)
	assert.Equal(t, "All in-memory stock data cleared", ack.Message)

	rec = f.do(http.MethodGet, "/api/stock/symbols")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/stock/clear")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestKafkaHandler_NotConfigured(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	for _, target := range []string{
		"/api/stock/history/kafka/all",
		"/api/stock/history/kafka/AAPL",
		"/api/stock/history/kafka/AAPL/range?from=2024-03-01T10:00:00&to=2024-03-01T11:00:00",
		"/api/stock/stats/kafka",
	} {
		rec := f.do(http.MethodGet, target)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestKafkaHandler_Replay(t *testing.T) {
	history := &fakeHistory{prices: []model.PriceUpdate{
		model.NewPriceUpdate("AAPL", 1, 0, 0, t0),
		model.NewPriceUpdate("MSFT", 2, 0, 0, t0.Add(time.Second)),
		model.NewPriceUpdate("AAPL", 3, 0, 0, t0.Add(2*time.Second)),
	}}
	f := newFixture(t, fixtureOpts{history: history})

	rec := f.do(http.MethodGet, "/api/stock/history/kafka/aapl?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]model.PriceUpdate](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Price)

	rec = f.do(http.MethodGet, "/api/stock/history/kafka/all")
	assert.Len(t, decode[[]model.PriceUpdate](t, rec), 3)

	rec = f.do(http.MethodGet, "/api/stock/history/kafka/AAPL/range?from=2024-03-01T10:00:00&to=2024-03-01T10:00:05")
	got = decode[[]model.PriceUpdate](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].Price)

	rec = f.do(http.MethodGet, "/api/stock/history/kafka/GOOGL")
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(http.MethodGet, "/api/stock/stats/kafka")
	stats := decode[KafkaStats](t, rec)
	assert.EqualValues(t, 3, stats.TotalMessages)
	assert.Equal(t, "stock-prices", stats.Topic)

	history.err = errors.New("broker down")
	rec = f.do(http.MethodGet, "/api/stock/history/kafka/all")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestArchiveHandler_Aggregates(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	rec := f.do(http.MethodGet, "/api/stock/aggregates/AAPL")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	archive := &fakeAggregates{rows: []model.AggregatedPrice{{
		Symbol:       "AAPL",
		Timestamp:    t0.UTC(),
		AveragePrice: 151,
		MinPrice:     150,
		MaxPrice:     152,
		Count:        3,
	}}}
	f = newFixture(t, fixtureOpts{archive: archive})

	rec = f.do(http.MethodGet, "/api/stock/aggregates/aapl?since=2024-03-01T09:00:00")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]model.AggregatedPrice](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Count)
	assert.Equal(t, "AAPL", archive.gotSymbol)
	assert.True(t, archive.gotSince.Equal(t0.Add(-time.Hour)), archive.gotSince)

	rec = f.do(http.MethodGet, "/api/stock/aggregates/AAPL?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	archive.rows = nil
	rec = f.do(http.MethodGet, "/api/stock/aggregates/MSFT")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.WithinDuration(t, time.Now().Add(-time.Hour), archive.gotSince, time.Minute)

	archive.err = errors.New("connection refused")
	rec = f.do(http.MethodGet, "/api/stock/aggregates/MSFT")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	f := newFixture(t, fixtureOpts{checks: map[string]port.Pinger{"redis": pinger{}}})
	rec := f.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","checks":{"redis":"healthy"}}`, rec.Body.String())

	f = newFixture(t, fixtureOpts{checks: map[string]port.Pinger{
		"redis":    pinger{},
		"postgres": pinger{err: errors.New("connection refused")},
	}})
	rec = f.do(http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"redis":"healthy","postgres":"unhealthy"}}`, rec.Body.String())
}

func TestModeHandler(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	rec := f.do(http.MethodPost, "/mode/test")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","mode":"test"}`, rec.Body.String())
	assert.Equal(t, model.TestMode, f.modes.GetCurrentMode())

	rec = f.do(http.MethodPost, "/mode/test")
	assert.JSONEq(t, `{"status":"ok","mode":"test","message":"already in requested mode"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/mode")
	assert.JSONEq(t, `{"status":"ok","mode":"test"}`, rec.Body.String())

	f.modes.err = errors.New("no sources")
	rec = f.do(http.MethodPost, "/mode/live")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = f.do(http.MethodGet, "/mode/live")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: NewRateLimiter(0.5, 1, zap.NewNop())})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/stock/symbols").Code)
	rec := f.do(http.MethodGet, "/api/stock/symbols")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	// вне /api/stock лимит не действует
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health").Code)
	assert.Nil(t, NewRateLimiter(0, 10, zap.NewNop()))
}

func TestCORS(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	req := httptest.NewRequest(http.MethodOptions, "/api/stock/symbols", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/stock/symbols", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.do(http.MethodGet, "/api/stock/symbols")

	rec := f.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stockstream_http_requests_total{method="GET",route="/api/stock/symbols",status="200"} 1`)
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func waitAttached(t *testing.T, reg *registry.Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return reg.Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestStream_SSESymbol(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/stream/stocks/aapl", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := bufio.NewReader(resp.Body)
	ev := readEvent(t, body)
	assert.Equal(t, stream.EventInfo, ev.name)
	assert.Equal(t, "Connected to AAPL price stream. Waiting for data...", ev.data)

	waitAttached(t, f.registry, 1)
	counts := decode[model.SubscriberCounts](t, f.do(http.MethodGet, "/api/stream/stats"))
	assert.Equal(t, map[string]int{"AAPL": 1}, counts.PerSymbol)

	f.fanout.Publish(context.Background(), model.NewPriceUpdate("MSFT", 300, 0, 0, t0))
	f.fanout.Publish(context.Background(), model.NewPriceUpdate("AAPL", 150.5, 0.5, 0.33, t0))

	ev = readEvent(t, body)
	assert.Equal(t, stream.EventStockPrice, ev.name)
	var got model.PriceUpdate
	require.NoError(t, json.Unmarshal([]byte(ev.data), &got))
	assert.Equal(t, "AAPL", got.Symbol)
	assert.Equal(t, 150.5, got.Price)

	cancel()
	waitAttached(t, f.registry, 0)
}

func TestStream_SSEAllSnapshot(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.apply(t, "MSFT", 300, t0)
	f.apply(t, "AAPL", 150, t0)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream/stocks")
	require.NoError(t, err)
	body := bufio.NewReader(resp.Body)

	first, second := readEvent(t, body), readEvent(t, body)
	assert.Contains(t, first.data, `"symbol":"AAPL"`)
	assert.Contains(t, second.data, `"symbol":"MSFT"`)

	waitAttached(t, f.registry, 1)
	// Close обрывает поток на стороне сервера.
	f.stream.Close()
	waitAttached(t, f.registry, 0)
	resp.Body.Close()
}

func TestStream_WebSocket(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stocks"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var env stream.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, stream.EventInfo, env.Type)
	assert.Equal(t, "Connected to stock price stream. Waiting for data...", env.Message)

	waitAttached(t, f.registry, 1)
	f.fanout.Publish(context.Background(), model.NewPriceUpdate("GOOGL", 2800, 0, 0, t0))

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, stream.EventStockPrice, env.Type)
	require.NotNil(t, env.Data)
	assert.Equal(t, "GOOGL", env.Data.Symbol)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	waitAttached(t, f.registry, 0)
}

func TestStream_WebSocketRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stocks/AAPL"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, f.registry.Len())
}
