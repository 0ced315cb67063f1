package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness checks for the market API.
type HealthHandler struct {
	logger *slog.Logger
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// HealthCheck reports that the server is up.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "marketd",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}
