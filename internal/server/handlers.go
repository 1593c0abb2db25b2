package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/enmapper/snowflow/internal/model"
	"github.com/enmapper/snowflow/internal/run"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	registry            *run.Registry
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker.
type HandlersDeps struct {
	Registry            *run.Registry
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	if d.MaxRequestBodyBytes <= 0 {
		d.MaxRequestBodyBytes = 1 << 20
	}
	return &Handlers{
		registry:            d.Registry,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "snowflow",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// writeDomainError maps orchestrator errors onto the API error envelope.
func (h *Handlers) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, verr.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "migration not found")
	case errors.Is(err, model.ErrNotReady):
		writeError(w, r, http.StatusConflict, model.ErrCodeNotReady, err.Error())
	default:
		h.logger.Error("request failed",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal, "internal server error")
	}
}
