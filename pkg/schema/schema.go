// Package schema holds the static table and column metadata the agent is
// allowed to query. It is loaded once at startup and never mutated, so it can
// be shared across sessions without locking.
package schema

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// ColumnType is the declared type of a column.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeNumber    ColumnType = "number"
	TypeString    ColumnType = "string"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
)

// Numeric reports whether values of this type can be summed or averaged.
func (t ColumnType) Numeric() bool {
	return t == TypeInteger || t == TypeNumber
}

func (t ColumnType) valid() bool {
	switch t {
	case TypeInteger, TypeNumber, TypeString, TypeBoolean, TypeTimestamp:
		return true
	}
	return false
}

// Column describes one declared column.
type Column struct {
	Name        string     `yaml:"name" json:"name"`
	Type        ColumnType `yaml:"type" json:"type"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
}

// Table describes one declared table.
type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

// Column returns the named column.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the declared column names in declared order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Schema is the full set of queryable tables.
type Schema struct {
	Version string  `yaml:"version" json:"version"`
	Tables  []Table `yaml:"tables" json:"tables"`
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads and validates a YAML schema file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML schema metadata.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks identifiers, types and uniqueness.
func (s *Schema) Validate() error {
	if len(s.Tables) == 0 {
		return fmt.Errorf("schema declares no tables")
	}
	tables := make(map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		if !identifier.MatchString(t.Name) {
			return fmt.Errorf("invalid table name %q", t.Name)
		}
		if tables[t.Name] {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		tables[t.Name] = true

		if len(t.Columns) == 0 {
			return fmt.Errorf("table %q declares no columns", t.Name)
		}
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if !identifier.MatchString(c.Name) {
				return fmt.Errorf("invalid column name %q in table %q", c.Name, t.Name)
			}
			if cols[c.Name] {
				return fmt.Errorf("duplicate column %q in table %q", c.Name, t.Name)
			}
			if !c.Type.valid() {
				return fmt.Errorf("column %s.%s has unknown type %q", t.Name, c.Name, c.Type)
			}
			cols[c.Name] = true
		}
	}
	return nil
}

// Table returns the named table.
func (s *Schema) Table(name string) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// TableNames returns the declared table names in declared order.
func (s *Schema) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// Fingerprint is a stable hash of the schema contents. It changes whenever a
// table, column or type changes.
func (s *Schema) Fingerprint() string {
	h := xxhash.New()
	_, _ = h.WriteString(s.Version)
	for _, t := range s.Tables {
		_, _ = h.WriteString("\x00" + t.Name)
		for _, c := range t.Columns {
			_, _ = h.WriteString("\x01" + c.Name + ":" + string(c.Type))
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// String renders a one-line summary, e.g. "products(id, name, price)".
func (t Table) String() string {
	return t.Name + "(" + strings.Join(t.ColumnNames(), ", ") + ")"
}
