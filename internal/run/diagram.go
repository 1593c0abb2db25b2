package run

import (
	"context"
	"os"
	"path/filepath"

	"github.com/enmapper/snowflow/internal/model"
)

// fireDiagram arms the one-shot diagram trigger the instant Phase 1
// completes. The render runs on its own goroutine so Phase 2/3 never wait
// for it; the latch guarantees at-most-once firing even if completion is
// observed concurrently. A render failure degrades to a warning log entry
// and never affects run success.
func (r *Registry) fireDiagram(ctx context.Context, run *Run, catalog *model.Catalog) {
	run.diagramOnce.Do(func() {
		go func() {
			text, err := r.collab.Renderer.RenderDiagram(ctx, catalog)
			if err != nil {
				run.update(func(s *runState) { s.diagramErr = err.Error() })
				run.logf(model.LogWarning, "Diagram generation failed: %v", err)
				r.logger.Warn("diagram render failed",
					"migration_id", run.migrationID, "error", err)
				return
			}

			run.update(func(s *runState) {
				s.diagram = text
				s.diagramReady = true
			})
			run.logf(model.LogInfo, "Schema diagram ready")

			// Best-effort artifact for post-mortem review.
			path := filepath.Join(run.folder, "schema_diagram.mmd")
			if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
				r.logger.Warn("diagram write failed", "path", path, "error", err)
			}
		}()
	})
}
