package server

import (
	"net/http"
)

// HandleMigrationEvents handles GET /api/migration/{migration_id}/events.
// It streams log entries as server-sent events until the client
// disconnects or the server shuts down.
func (h *Handlers) HandleMigrationEvents(w http.ResponseWriter, r *http.Request) {
	migrationID := r.PathValue("migration_id")
	if _, err := h.registry.Status(migrationID, 0); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if h.broker == nil {
		writeError(w, r, http.StatusNotImplemented, "not_supported", "event streaming is not enabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	// Subscribe before the headers go out so nothing published after the
	// client sees 200 can be missed.
	ch := h.broker.Subscribe(migrationID)
	defer h.broker.Unsubscribe(migrationID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("event stream opened",
		"migration_id", migrationID,
		"request_id", RequestIDFromContext(r.Context()))

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
