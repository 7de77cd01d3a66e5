package handlers

import (
	"net/http"
)

// Health returns the server health status. A store that cannot be reached
// degrades the status without failing the request.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.provider.Ping(r.Context()); err != nil {
		h.logger.Warn("store ping failed", "error", err)
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
