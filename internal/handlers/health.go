package handlers

import "net/http"

// Health reports the state of the service's dependencies. The cache being
// down does not fail the check: the gateway re-authenticates on every call
// instead, degraded but alive.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := envelope{}

	if h.cache != nil {
		if err := h.cache.Health(); err != nil {
			checks["cache"] = "degraded"
		} else {
			checks["cache"] = "ok"
		}
	}

	if h.store != nil {
		if err := h.store.Health(); err != nil {
			checks["storage"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["storage"] = "ok"
		}
	}

	h.respond(w, status, envelope{
		"success": status == http.StatusOK,
		"checks":  checks,
	})
}
