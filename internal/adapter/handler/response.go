package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, log *zap.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, log *zap.Logger, status int, msg string) {
	writeJSON(w, log, status, errorBody{Error: msg})
}

// parseLimit reads ?limit=, falling back to def when absent.
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
