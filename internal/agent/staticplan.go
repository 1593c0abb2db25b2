package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/enmapper/snowflow/internal/model"
)

// StaticPlanner drafts a migration plan directly from the catalog without
// calling a model provider. It is the fallback planner when no provider is
// configured; the plan it produces is deterministic, so the debate
// converges as soon as both roles have seen it.
type StaticPlanner struct{}

func (StaticPlanner) DebateRound(_ context.Context, req DebateRequest) (DebateResult, error) {
	if req.Catalog == nil || len(req.Catalog.Tables) == 0 {
		return DebateResult{}, fmt.Errorf("debate round %d: empty catalog", req.Round)
	}
	if req.Round > 1 && req.PriorArtifact != "" {
		// Nothing to critique in a deterministic draft.
		return DebateResult{Artifact: req.PriorArtifact, Converged: true}, nil
	}
	return DebateResult{Artifact: draftPlan(req.Catalog), Converged: false}, nil
}

// draftPlan orders tables parents-first so foreign key targets load before
// their referencing tables, falling back to name order inside each tier.
func draftPlan(c *model.Catalog) string {
	referencing := make(map[string][]string)
	for _, rel := range c.Relationships {
		referencing[rel.FromTable] = append(referencing[rel.FromTable], rel.ToTable)
	}

	tables := make([]model.TableSchema, len(c.Tables))
	copy(tables, c.Tables)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	sort.SliceStable(tables, func(i, j int) bool {
		return len(referencing[tables[i].Name]) < len(referencing[tables[j].Name])
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Migration plan for %d tables.\n\n", len(tables))
	for i, t := range tables {
		fmt.Fprintf(&b, "%d. Copy %s (%d rows, %d columns)", i+1, t.Name, t.RowCount, len(t.Columns))
		if deps := referencing[t.Name]; len(deps) > 0 {
			sort.Strings(deps)
			fmt.Fprintf(&b, " after %s", strings.Join(deps, ", "))
		}
		b.WriteString(".\n")
	}
	b.WriteString("\nValidate each table by comparing source and target row counts.\n")
	return b.String()
}
