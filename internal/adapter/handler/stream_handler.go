package handler

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"stockstream/internal/adapter/stream"
	"stockstream/internal/concurrency/registry"
	"stockstream/internal/domain/model"
	"stockstream/internal/infrastructure/metrics"
)

const (
	allStocksInfo   = "Connected to stock price stream. Waiting for data..."
	symbolInfoFmt   = "Connected to %s price stream. Waiting for data..."
	transportSSE    = "sse"
	transportWS     = "websocket"
	defaultSSELimit = 5 * time.Minute
)

// Snapshotter supplies what a new connection sees before live updates
// and the connection counts reported by the stats endpoint.
type Snapshotter interface {
	Current(symbol string) (model.PriceUpdate, bool)
	AllCurrent() map[string]model.PriceUpdate
	Subscribers() model.SubscriberCounts
}

type StreamOptions struct {
	BufferSize     int
	SSETimeout     time.Duration
	KeepAlive      time.Duration
	AllowedOrigins []string
}

// streamClient is what both transports expose to the handler.
type streamClient interface {
	ID() string
	Deliver(ctx context.Context, u model.PriceUpdate) error
	Prime(snapshot []model.PriceUpdate, info string) error
	Close()
}

// StreamHandler attaches SSE and WebSocket connections to the registry.
type StreamHandler struct {
	registry *registry.Registry
	snapshot Snapshotter
	opts     StreamOptions
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   *zap.Logger

	// ctx закрывается в Close и обрывает все открытые потоки.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewStreamHandler(reg *registry.Registry, snapshot Snapshotter, opts StreamOptions, m *metrics.Metrics, logger *zap.Logger) *StreamHandler {
	if opts.BufferSize <= 0 {
		opts.BufferSize = stream.DefaultBufferSize
	}
	if opts.SSETimeout <= 0 {
		opts.SSETimeout = defaultSSELimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &StreamHandler{
		registry: reg,
		snapshot: snapshot,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Close ends every open stream. The server's Shutdown does not wait for them.
func (h *StreamHandler) Close() {
	h.cancel()
}

func (h *StreamHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.snapshot.Subscribers())
}

func (h *StreamHandler) SSEAll(w http.ResponseWriter, r *http.Request) {
	h.serveSSE(w, r, model.ScopeAll)
}

func (h *StreamHandler) SSESymbol(w http.ResponseWriter, r *http.Request) {
	h.serveSSE(w, r, model.ScopeSymbol(chi.URLParam(r, "symbol")))
}

func (h *StreamHandler) WSAll(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, model.ScopeAll)
}

func (h *StreamHandler) WSSymbol(w http.ResponseWriter, r *http.Request) {
	h.serveWS(w, r, model.ScopeSymbol(chi.URLParam(r, "symbol")))
}

func (h *StreamHandler) serveSSE(w http.ResponseWriter, r *http.Request, scope model.Scope) {
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, h.logger, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	// Снимаем серверный WriteTimeout: поток живёт до SSETimeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	client := stream.NewSSEClient(uuid.NewString(), h.opts.BufferSize, h.opts.KeepAlive)
	handle, err := h.attach(client, scope, transportSSE)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "failed to open stream")
		return
	}
	defer h.detach(handle, transportSSE)

	ctx, cancel := h.connContext(r.Context())
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, h.opts.SSETimeout)
	defer cancelTimeout()

	if err := client.Serve(ctx, w); err != nil {
		h.logger.Debug("sse stream ended", zap.String("client", client.ID()), zap.Error(err))
	}
}

func (h *StreamHandler) serveWS(w http.ResponseWriter, r *http.Request, scope model.Scope) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := stream.NewWSClient(uuid.NewString(), conn, h.opts.BufferSize, h.logger)
	handle, err := h.attach(client, scope, transportWS)
	if err != nil {
		conn.Close()
		return
	}
	defer h.detach(handle, transportWS)

	ctx, cancel := h.connContext(r.Context())
	defer cancel()
	client.Run(ctx)
}

// attach регистрирует клиента и только потом снимает снимок, поэтому ни одно
// обновление не теряется. Повторы, которые снимок уже покрывает, клиент
// отбрасывает сам при Prime.
func (h *StreamHandler) attach(client streamClient, scope model.Scope, transport string) (*registry.Handle, error) {
	var handle *registry.Handle
	if scope.IsAll() {
		handle = h.registry.AttachGlobal(client)
	} else {
		handle = h.registry.AttachSymbol(scope.Symbol, client)
	}

	snapshot, info := h.snapshotFor(scope)
	if err := client.Prime(snapshot, info); err != nil {
		h.registry.Detach(handle)
		h.logger.Error("failed to prime stream", zap.String("client", client.ID()), zap.Error(err))
		client.Close()
		return nil, err
	}

	h.metrics.Subscribers.WithLabelValues(transport).Inc()
	h.logger.Info("stream client connected",
		zap.String("handle", handle.ID()),
		zap.String("transport", transport),
		zap.String("scope", scope.String()),
	)
	return handle, nil
}

func (h *StreamHandler) detach(handle *registry.Handle, transport string) {
	// fanout уже снял подписку, если клиент не успевал или сломался
	evicted := !h.registry.Contains(handle)
	h.registry.Detach(handle)
	h.metrics.Subscribers.WithLabelValues(transport).Dec()
	h.logger.Info("stream client disconnected",
		zap.String("handle", handle.ID()),
		zap.String("transport", transport),
		zap.Bool("evicted", evicted),
	)
}

func (h *StreamHandler) snapshotFor(scope model.Scope) ([]model.PriceUpdate, string) {
	if !scope.IsAll() {
		info := fmt.Sprintf(symbolInfoFmt, scope.Symbol)
		if u, ok := h.snapshot.Current(scope.Symbol); ok {
			return []model.PriceUpdate{u}, info
		}
		return nil, info
	}

	current := h.snapshot.AllCurrent()
	out := make([]model.PriceUpdate, 0, len(current))
	for _, u := range current {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, allStocksInfo
}

func (h *StreamHandler) connContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(h.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, origin) || slices.Contains(h.opts.AllowedOrigins, "*")
}
