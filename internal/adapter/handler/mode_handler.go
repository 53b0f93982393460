package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"stockstream/internal/domain/model"
)

// ModeReader reports the active ingestion mode.
type ModeReader interface {
	GetCurrentMode() model.DataMode
}

type modeResponse struct {
	Status  string `json:"status"`
	Mode    string `json:"mode"`
	Message string `json:"message,omitempty"`
}

type ModeHandler struct {
	modes    ModeReader
	switchFn func(context.Context, model.DataMode) error
	log      *zap.Logger
}

// NewModeHandler takes switchFn separately so the pipeline outlives the request context.
func NewModeHandler(modes ModeReader, switchFn func(context.Context, model.DataMode) error, log *zap.Logger) *ModeHandler {
	return &ModeHandler{
		modes:    modes,
		switchFn: switchFn,
		log:      log,
	}
}

func (h *ModeHandler) Current(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.log, http.StatusOK, modeResponse{Status: "ok", Mode: h.modes.GetCurrentMode().String()})
}

func (h *ModeHandler) SwitchToTest(w http.ResponseWriter, r *http.Request) {
	h.log.Info("received request to switch to test mode")
	h.switchMode(w, r, model.TestMode)
}

func (h *ModeHandler) SwitchToLive(w http.ResponseWriter, r *http.Request) {
	h.log.Info("received request to switch to live mode")
	h.switchMode(w, r, model.LiveMode)
}

func (h *ModeHandler) switchMode(w http.ResponseWriter, r *http.Request, mode model.DataMode) {
	currentMode := h.modes.GetCurrentMode()

	if currentMode == mode {
		h.log.Info("already in requested mode", zap.String("mode", mode.String()))
		writeJSON(w, h.log, http.StatusOK, modeResponse{Status: "ok", Mode: mode.String(), Message: "already in requested mode"})
		return
	}

	h.log.Info("switching mode", zap.String("from", currentMode.String()), zap.String("to", mode.String()))

	if err := h.switchFn(r.Context(), mode); err != nil {
		h.log.Error("switch mode failed",
			zap.String("from", currentMode.String()),
			zap.String("to", mode.String()),
			zap.Error(err),
		)
		writeError(w, h.log, http.StatusInternalServerError, "failed to switch mode")
		return
	}

	h.log.Info("mode switched successfully", zap.String("new_mode", mode.String()))
	writeJSON(w, h.log, http.StatusOK, modeResponse{Status: "ok", Mode: mode.String()})
}
