// Package prompt renders the system context a session sends with every model
// call: the queryable tables, the tool catalog and the reply protocol.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/barekit/tabletalk/pkg/schema"
	"github.com/barekit/tabletalk/pkg/tools"
	"github.com/cespare/xxhash/v2"
)

// Snapshot is an immutable rendered context.
type Snapshot struct {
	Text string
	// Fingerprint is a hash of Text.
	Fingerprint    string
	SchemaVersion  string
	CatalogVersion string
}

// Cataloger lists tool contracts. *tools.Registry implements it.
type Cataloger interface {
	Specs() []tools.Spec
	Version() string
}

// BuildContext renders s and the catalog. The output depends only on its
// inputs: tables, tools and parameters are sorted by name, columns keep their declared order, and nested schemas are rendered
// with sorted keys.
func BuildContext(s *schema.Schema, catalog Cataloger) Snapshot {
	var b strings.Builder

	b.WriteString("You answer questions about a relational database. You can read the data only through the tools below.\n\n")
	fmt.Fprintf(&b, "Schema version: %s\n", orNone(s.Version))
	fmt.Fprintf(&b, "Tool catalog version: %s\n\n", catalog.Version())

	writeTables(&b, s)
	writeTools(&b, catalog.Specs())

	b.WriteString(`Reply protocol:
- To read data, reply with exactly one JSON object and nothing else:
  {"tool": "<tool name>", "parameters": {<parameters>}}
- Request at most one tool per reply.
- Use only the tables, columns, tools and operators listed above.
- If the question does not need data, answer in plain prose without JSON.
`)

	text := b.String()
	return Snapshot{
		Text:           text,
		Fingerprint:    fmt.Sprintf("%016x", xxhash.Sum64String(text)),
		SchemaVersion:  s.Version,
		CatalogVersion: catalog.Version(),
	}
}

func writeTables(b *strings.Builder, s *schema.Schema) {
	tables := append([]schema.Table(nil), s.Tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	b.WriteString("Tables:\n")
	for _, t := range tables {
		fmt.Fprintf(b, "- %s", t.Name)
		if t.Description != "" {
			fmt.Fprintf(b, ": %s", t.Description)
		}
		b.WriteString("\n")

		for _, c := range t.Columns {
			fmt.Fprintf(b, "  - %s (%s)", c.Name, c.Type)
			if c.Description != "" {
				fmt.Fprintf(b, ": %s", c.Description)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
}

func writeTools(b *strings.Builder, specs []tools.Spec) {
	specs = append([]tools.Spec(nil), specs...)
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	b.WriteString("Tools:\n")
	for _, spec := range specs {
		fmt.Fprintf(b, "- %s: %s\n", spec.Name, spec.Description)

		params := append([]tools.Param(nil), spec.Params...)
		sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
		if len(params) == 0 {
			b.WriteString("  no parameters\n")
		}
		for _, p := range params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(b, "  - %s (%s, %s)", p.Name, p.Type, req)
			if p.Description != "" {
				fmt.Fprintf(b, ": %s", p.Description)
			}
			if len(p.Enum) > 0 {
				fmt.Fprintf(b, " Allowed values: %s.", strings.Join(p.Enum, ", "))
			}
			b.WriteString("\n")
			if p.Schema != nil {
				if raw, err := renderSchema(p.Schema); err == nil {
					fmt.Fprintf(b, "    schema: %s\n", raw)
				}
			}
		}
	}
	b.WriteString("\n")
}

// renderSchema encodes a nested schema on one line. encoding/json sorts map
// keys; HTML escaping is off so operators stay readable.
func renderSchema(v map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func orNone(s string) string {
	if s == "" {
		return "unversioned"
	}
	return s
}
