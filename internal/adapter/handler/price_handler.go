package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"stockstream/internal/application/usecase"
	"stockstream/internal/domain/model"
)

type PriceHandler struct {
	useCase *usecase.PriceUseCase
	logger  *zap.Logger
}

func NewPriceHandler(useCase *usecase.PriceUseCase, logger *zap.Logger) *PriceHandler {
	return &PriceHandler{
		useCase: useCase,
		logger:  logger,
	}
}

func (h *PriceHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.useCase.Health(r.Context()))
}

func (h *PriceHandler) Symbols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.useCase.Symbols())
}

func (h *PriceHandler) AllCurrent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.useCase.AllCurrent())
}

func (h *PriceHandler) Current(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	price, ok := h.useCase.Current(symbol)
	if !ok {
		writeError(w, h.logger, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, price)
}

func (h *PriceHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, usecase.DefaultHistoryLimit)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.useCase.RecentHistory(chi.URLParam(r, "symbol"), limit))
}

func (h *PriceHandler) HistoryRange(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r, h.logger)
	if !ok {
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.useCase.HistoryInRange(chi.URLParam(r, "symbol"), from, to))
}

func (h *PriceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.useCase.Statistics(r.Context()))
}

func (h *PriceHandler) Clear(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, h.useCase.Clear())
}

// parseRange reads ?from=&to= and answers 400 itself when either is unusable.
func parseRange(w http.ResponseWriter, r *http.Request, log *zap.Logger) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	from, err := model.ParseTimestamp(q.Get("from"))
	if err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid from: expected "+model.TimestampLayout)
		return time.Time{}, time.Time{}, false
	}
	to, err := model.ParseTimestamp(q.Get("to"))
	if err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid to: expected "+model.TimestampLayout)
		return time.Time{}, time.Time{}, false
	}
	return from.Time, to.Time, true
}
