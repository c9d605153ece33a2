package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the backend status (mode, uptime, protocol counters)
// for the dashboard.
type StatusHandler struct {
	Mode           string
	StartedAt      time.Time
	ActivePosCount func() int
}

// NewStatusHandler creates a StatusHandler with the given mode and counters.
func NewStatusHandler(mode string, startedAt time.Time, activePosCount func() int) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, ActivePosCount: activePosCount}
}

// GetStatus responds with the current backend mode and protocol counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int(time.Since(h.StartedAt).Seconds()),
	}
	if h.ActivePosCount != nil {
		resp["active_positions"] = h.ActivePosCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
