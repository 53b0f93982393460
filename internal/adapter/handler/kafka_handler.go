package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

const (
	defaultKafkaSymbolLimit = 500
	defaultKafkaAllLimit    = 1000
)

// TopicHistory replays the upstream topic.
type TopicHistory interface {
	Topic() string
	MessageCount(ctx context.Context) (int64, error)
	Symbol(ctx context.Context, symbol string, limit int) ([]model.PriceUpdate, error)
	All(ctx context.Context, limit int) ([]model.PriceUpdate, error)
	SymbolInRange(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceUpdate, error)
}

type KafkaStats struct {
	TotalMessages int64           `json:"totalMessages"`
	Topic         string          `json:"topic"`
	Timestamp     model.Timestamp `json:"timestamp"`
}

// KafkaHandler answers 503 on every route when history is nil.
type KafkaHandler struct {
	history TopicHistory
	logger  *zap.Logger
}

func NewKafkaHandler(history TopicHistory, logger *zap.Logger) *KafkaHandler {
	return &KafkaHandler{history: history, logger: logger}
}

func (h *KafkaHandler) available(w http.ResponseWriter) bool {
	if h.history == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "kafka is not configured")
		return false
	}
	return true
}

func (h *KafkaHandler) Symbol(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	limit, err := parseLimit(r, defaultKafkaSymbolLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	prices, err := h.history.Symbol(r.Context(), symbol, limit)
	h.respond(w, prices, err, zap.String("symbol", symbol))
}

func (h *KafkaHandler) All(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	limit, err := parseLimit(r, defaultKafkaAllLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	prices, err := h.history.All(r.Context(), limit)
	h.respond(w, prices, err)
}

func (h *KafkaHandler) SymbolRange(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	from, to, ok := parseRange(w, r, h.logger)
	if !ok {
		return
	}
	symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	prices, err := h.history.SymbolInRange(r.Context(), symbol, from, to)
	h.respond(w, prices, err, zap.String("symbol", symbol))
}

func (h *KafkaHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	total, err := h.history.MessageCount(r.Context())
	if err != nil {
		h.logger.Error("failed to count kafka messages", zap.Error(err))
		writeError(w, h.logger, http.StatusBadGateway, "kafka unavailable")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, KafkaStats{
		TotalMessages: total,
		Topic:         h.history.Topic(),
		Timestamp:     model.NewTimestamp(time.Now()),
	})
}

func (h *KafkaHandler) respond(w http.ResponseWriter, prices []model.PriceUpdate, err error, fields ...zap.Field) {
	if err != nil {
		h.logger.Error("failed to replay kafka topic", append(fields, zap.Error(err))...)
		writeError(w, h.logger, http.StatusBadGateway, "kafka unavailable")
		return
	}
	if prices == nil {
		prices = []model.PriceUpdate{}
	}
	writeJSON(w, h.logger, http.StatusOK, prices)
}
