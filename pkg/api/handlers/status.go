package handlers

import (
	"net/http"

	"github.com/marmos91/tcpcmd/pkg/adapter"
	"github.com/marmos91/tcpcmd/pkg/extension"
	"github.com/marmos91/tcpcmd/pkg/registry"
)

// Status is the read-only view of the command server the API exposes.
type Status interface {
	Ready() bool
	Ranges() []registry.Range
	Modules() []extension.ModuleInfo
	Sessions() []adapter.ConnectionInfo
}

// CommandRange is one registered range in API output.
type CommandRange struct {
	Min     uint32 `json:"min"`
	Max     uint32 `json:"max"`
	Builtin bool   `json:"builtin"`
}

// StatusHandler serves /api/v1.
type StatusHandler struct {
	status  Status
	builtin func(registry.Range) bool
}

// NewStatusHandler returns a handler. builtin marks ranges owned by the
// server itself; nil marks none.
func NewStatusHandler(status Status, builtin func(registry.Range) bool) *StatusHandler {
	if builtin == nil {
		builtin = func(registry.Range) bool { return false }
	}
	return &StatusHandler{status: status, builtin: builtin}
}

func (h *StatusHandler) available(w http.ResponseWriter) bool {
	if h.status == nil || !h.status.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("command server not initialized"))
		return false
	}
	return true
}

// Commands handles GET /api/v1/commands.
func (h *StatusHandler) Commands(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	ranges := h.status.Ranges()
	out := make([]CommandRange, len(ranges))
	for i, rg := range ranges {
		out[i] = CommandRange{Min: rg.Min, Max: rg.Max, Builtin: h.builtin(rg)}
	}
	writeJSON(w, http.StatusOK, okResponse(out))
}

// Extensions handles GET /api/v1/extensions.
func (h *StatusHandler) Extensions(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	mods := h.status.Modules()
	if mods == nil {
		mods = []extension.ModuleInfo{}
	}
	writeJSON(w, http.StatusOK, okResponse(mods))
}

// Sessions handles GET /api/v1/sessions.
func (h *StatusHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	sessions := h.status.Sessions()
	if sessions == nil {
		sessions = []adapter.ConnectionInfo{}
	}
	writeJSON(w, http.StatusOK, okResponse(sessions))
}
