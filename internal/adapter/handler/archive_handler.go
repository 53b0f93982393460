package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

const defaultAggregateWindow = time.Hour

// AggregateReader reads archived per-interval summaries.
type AggregateReader interface {
	LatestAggregates(ctx context.Context, symbol string, since time.Time) ([]model.AggregatedPrice, error)
}

// ArchiveHandler answers 503 when archive is nil.
type ArchiveHandler struct {
	archive AggregateReader
	logger  *zap.Logger
	now     func() time.Time
}

func NewArchiveHandler(archive AggregateReader, logger *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, logger: logger, now: time.Now}
}

// Aggregates serves GET /api/stock/aggregates/{symbol}?since=. Without since
// the last hour is returned.
func (h *ArchiveHandler) Aggregates(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, h.logger, http.StatusServiceUnavailable, "archive is not configured")
		return
	}

	since := h.now().Add(-defaultAggregateWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := model.ParseTimestamp(raw)
		if err != nil {
			writeError(w, h.logger, http.StatusBadRequest, "invalid since: expected "+model.TimestampLayout)
			return
		}
		since = ts.Time
	}

	symbol := model.NormalizeSymbol(chi.URLParam(r, "symbol"))
	rows, err := h.archive.LatestAggregates(r.Context(), symbol, since)
	if err != nil {
		h.logger.Error("failed to read aggregates", zap.String("symbol", symbol), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "failed to read aggregates")
		return
	}
	if rows == nil {
		rows = []model.AggregatedPrice{}
	}
	writeJSON(w, h.logger, http.StatusOK, rows)
}
