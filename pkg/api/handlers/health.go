package handlers

import (
	"net/http"
)

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	status Status
}

// NewHealthHandler returns a handler. A nil status is never ready.
func NewHealthHandler(status Status) *HealthHandler {
	return &HealthHandler{status: status}
}

// Liveness handles GET /health. It succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "tcpcmd",
	}))
}

// Readiness handles GET /health/ready. It reports 503 until the command
// server has initialized.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("command server not attached"))
		return
	}
	if !h.status.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("command server not initialized"))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]interface{}{
		"commands":   len(h.status.Ranges()),
		"extensions": len(h.status.Modules()),
		"sessions":   len(h.status.Sessions()),
	}))
}
