package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/enmapper/snowflow/internal/model"
)

// MermaidRenderer generates an erDiagram directly from the catalog without
// calling a model. It is the default renderer when no LLM is configured;
// the output is plainer than the LLM version but always available.
type MermaidRenderer struct{}

// RenderDiagram renders the catalog as Mermaid erDiagram text.
func (MermaidRenderer) RenderDiagram(_ context.Context, catalog *model.Catalog) (string, error) {
	if catalog == nil || len(catalog.Tables) == 0 {
		return "", fmt.Errorf("render diagram: empty catalog")
	}

	var b strings.Builder
	b.WriteString("erDiagram\n")
	for _, t := range catalog.Tables {
		fmt.Fprintf(&b, "    %s {\n", mermaidIdent(t.Name))
		pk := make(map[string]bool, len(t.PrimaryKey))
		for _, k := range t.PrimaryKey {
			pk[k] = true
		}
		for _, col := range t.Columns {
			suffix := ""
			if pk[col.Name] {
				suffix = " PK"
			}
			fmt.Fprintf(&b, "        %s %s%s\n", mermaidType(col.DataType), mermaidIdent(col.Name), suffix)
		}
		b.WriteString("    }\n")
	}
	for _, rel := range catalog.Relationships {
		fmt.Fprintf(&b, "    %s ||--o{ %s : %q\n",
			mermaidIdent(rel.ToTable), mermaidIdent(rel.FromTable), rel.FromColumn)
	}
	return b.String(), nil
}

// mermaidIdent sanitizes an identifier for Mermaid, which rejects most
// punctuation in entity names.
func mermaidIdent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// mermaidType collapses SQL types to a single word (Mermaid attribute
// types must not contain spaces or parentheses).
func mermaidType(sqlType string) string {
	t := strings.ToLower(sqlType)
	if i := strings.IndexAny(t, " ("); i >= 0 {
		t = t[:i]
	}
	if t == "" {
		t = "unknown"
	}
	return t
}
