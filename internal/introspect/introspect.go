// Package introspect implements the schema analysis collaborator against a
// live Postgres source using information_schema queries. The connection
// string comes from configuration; the schema to analyze is parsed from
// the Phase 1 instructions.
package introspect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enmapper/snowflow/internal/agent"
	"github.com/enmapper/snowflow/internal/model"
)

// Analyzer discovers a Postgres schema catalog.
type Analyzer struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to the source database and returns an Analyzer. Close the
// analyzer when done.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Analyzer, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("introspect: connect source: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("introspect: ping source: %w", err)
	}
	return &Analyzer{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (a *Analyzer) Close() {
	a.pool.Close()
}

// AnalyzeSchema catalogs every base table in the schema named by the
// instructions (default "public"): columns, primary keys, row counts, and
// foreign-key relationships.
func (a *Analyzer) AnalyzeSchema(ctx context.Context, instructions string) (agent.AnalysisReport, error) {
	schema := SchemaFromInstructions(instructions)
	a.logger.Info("introspecting source schema", "schema", schema)

	catalog := &model.Catalog{Schema: schema}

	names, err := a.tableNames(ctx, schema)
	if err != nil {
		return agent.AnalysisReport{}, err
	}
	if len(names) == 0 {
		return agent.AnalysisReport{}, fmt.Errorf("introspect: schema %q has no tables", schema)
	}

	for _, name := range names {
		table, err := a.describeTable(ctx, schema, name)
		if err != nil {
			return agent.AnalysisReport{}, err
		}
		catalog.Tables = append(catalog.Tables, table)
	}

	rels, err := a.relationships(ctx, schema)
	if err != nil {
		return agent.AnalysisReport{}, err
	}
	catalog.Relationships = rels

	// One pass over information_schema is one iteration; there is no
	// refinement loop when reading the catalog directly.
	return agent.AnalysisReport{Catalog: catalog, Iterations: 1}, nil
}

func (a *Analyzer) tableNames(ctx context.Context, schema string) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("introspect: list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("introspect: collect tables: %w", err)
	}
	return names, nil
}

func (a *Analyzer) describeTable(ctx context.Context, schema, name string) (model.TableSchema, error) {
	table := model.TableSchema{Name: name}

	rows, err := a.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return table, fmt.Errorf("introspect: columns of %s: %w", name, err)
	}
	table.Columns, err = pgx.CollectRows(rows, pgx.RowToStructByPos[model.Column])
	if err != nil {
		return table, fmt.Errorf("introspect: collect columns of %s: %w", name, err)
	}

	pkRows, err := a.pool.Query(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = $1 AND tc.table_name = $2
		  AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position`, schema, name)
	if err != nil {
		return table, fmt.Errorf("introspect: primary key of %s: %w", name, err)
	}
	table.PrimaryKey, err = pgx.CollectRows(pkRows, pgx.RowTo[string])
	if err != nil {
		return table, fmt.Errorf("introspect: collect primary key of %s: %w", name, err)
	}

	// Exact count. Identifiers cannot be bound as parameters; both parts
	// are quoted via pgx.Identifier.
	countSQL := fmt.Sprintf("SELECT count(*) FROM %s", pgx.Identifier{schema, name}.Sanitize())
	if err := a.pool.QueryRow(ctx, countSQL).Scan(&table.RowCount); err != nil {
		return table, fmt.Errorf("introspect: row count of %s: %w", name, err)
	}

	return table, nil
}

func (a *Analyzer) relationships(ctx context.Context, schema string) ([]model.Relationship, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema = ccu.table_schema
		WHERE tc.table_schema = $1 AND tc.constraint_type = 'FOREIGN KEY'
		ORDER BY kcu.table_name, kcu.column_name`, schema)
	if err != nil {
		return nil, fmt.Errorf("introspect: foreign keys: %w", err)
	}
	rels, err := pgx.CollectRows(rows, pgx.RowToStructByPos[model.Relationship])
	if err != nil {
		return nil, fmt.Errorf("introspect: collect foreign keys: %w", err)
	}
	return rels, nil
}

// SchemaFromInstructions extracts a "schema: <name>" directive from the
// free-form Phase 1 instructions, defaulting to "public".
func SchemaFromInstructions(instructions string) string {
	for _, line := range strings.Split(instructions, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "schema") || !strings.Contains(line, ":") {
			continue
		}
		_, val, _ := strings.Cut(line, ":")
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if val != "" {
			return val
		}
	}
	return "public"
}
