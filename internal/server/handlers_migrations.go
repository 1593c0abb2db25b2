package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/enmapper/snowflow/internal/model"
)

// HandleStartMigration handles POST /api/migration/start.
func (h *Handlers) HandleStartMigration(w http.ResponseWriter, r *http.Request) {
	var req model.StartRequest
	if err := decodeJSON(r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	resp, err := h.registry.Start(req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.logger.Info("migration accepted",
		"migration_id", resp.MigrationID,
		"run_folder", resp.RunFolder,
		"request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, r, http.StatusCreated, resp)
}

// HandleMigrationStatus handles GET /api/migration/{migration_id}/status.
// The optional cursor query parameter limits returned logs to entries
// appended after that sequence number.
func (h *Handlers) HandleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	migrationID := r.PathValue("migration_id")

	var cursor uint64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "cursor must be a non-negative integer")
			return
		}
		cursor = parsed
	}

	resp, err := h.registry.Status(migrationID, cursor)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleDiagram handles GET /api/migration/{migration_id}/diagram.
func (h *Handlers) HandleDiagram(w http.ResponseWriter, r *http.Request) {
	migrationID := r.PathValue("migration_id")
	code, err := h.registry.Diagram(migrationID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.DiagramResponse{MermaidCode: code})
}

// HandleCancelMigration handles POST /api/migration/{migration_id}/cancel.
func (h *Handlers) HandleCancelMigration(w http.ResponseWriter, r *http.Request) {
	migrationID := r.PathValue("migration_id")
	if err := h.registry.Cancel(migrationID); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{
		"migration_id": migrationID,
		"status":       "cancelling",
	})
}

// HandleUploadCredentials handles POST /api/migration/{migration_id}/credentials.
// The uploaded file is stored in the run folder for collaborators that
// read connection material from disk.
func (h *Handlers) HandleUploadCredentials(w http.ResponseWriter, r *http.Request) {
	migrationID := r.PathValue("migration_id")
	folder, err := h.registry.RunFolder(migrationID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBodyBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	dst := filepath.Join(folder, "credentials.txt")
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.logger.Info("credentials uploaded",
		"migration_id", migrationID,
		"request_id", RequestIDFromContext(r.Context()))
	writeJSON(w, r, http.StatusOK, map[string]string{
		"migration_id": migrationID,
		"status":       "stored",
	})
}

// HandleListMigrations handles GET /api/migrations.
func (h *Handlers) HandleListMigrations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"migrations": h.registry.List(),
	})
}
