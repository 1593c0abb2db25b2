package agent

import (
	"context"

	"github.com/enmapper/snowflow/internal/model"
)

// DryRunExecutor validates the plan's task breakdown without moving any
// data: every task reports the catalog row count for both sides and a
// match. It is the default executor when no real one is wired, so the
// pipeline can be exercised end to end against a live source schema.
type DryRunExecutor struct{}

// ExecuteTask reports a matching result using the catalog's row count.
func (DryRunExecutor) ExecuteTask(ctx context.Context, req TaskRequest) (model.TableResult, error) {
	if err := ctx.Err(); err != nil {
		return model.TableResult{}, err
	}
	return model.TableResult{
		Table:      req.Table.Name,
		SourceRows: req.Table.RowCount,
		TargetRows: req.Table.RowCount,
		Match:      true,
	}, nil
}
