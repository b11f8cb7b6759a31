// Package rolap maps cube levels onto relational tables and generates the
// SQL used by the relational data source and the native store loader.
//
// Every level is a column, either on the fact table or on a dimension table
// joined to it through a foreign key. Member names are the column values;
// NULL keys belong to the level's null member.
package rolap

import (
	"fmt"
	"sort"
	"strings"

	"duck-cube/internal/cube"
)

// LevelMapping locates a level's key column.
type LevelMapping struct {
	Table      string // empty means the fact table
	Column     string
	ForeignKey string // fact table column referencing Table
	PrimaryKey string // Table column referenced by ForeignKey
	Filter     string // SQL predicate ANDed into every query touching the level
}

func (m LevelMapping) joined(factTable string) bool {
	return m.Table != "" && m.Table != factTable
}

// Descriptor is the relational layout of one cube.
type Descriptor struct {
	FactTable string
	Levels    map[string]LevelMapping // keyed by level unique name
}

// NewDescriptor extracts and validates the mappings of a cube definition.
func NewDescriptor(def *cube.Definition) (*Descriptor, error) {
	if err := ValidateIdentifier(def.FactTable); err != nil {
		return nil, fmt.Errorf("cube %q: invalid fact table: %w", def.Name, err)
	}
	d := &Descriptor{FactTable: def.FactTable, Levels: map[string]LevelMapping{}}
	for name, ld := range def.Levels() {
		m := LevelMapping{
			Table:      ld.Table,
			Column:     ld.Column,
			ForeignKey: ld.ForeignKey,
			PrimaryKey: ld.PrimaryKey,
			Filter:     ld.Filter,
		}
		if err := m.validate(def.FactTable); err != nil {
			return nil, fmt.Errorf("level %s: %w", name, err)
		}
		d.Levels[name] = m
	}
	return d, nil
}

func (m LevelMapping) validate(factTable string) error {
	if err := ValidateIdentifier(m.Column); err != nil {
		return fmt.Errorf("invalid column: %w", err)
	}
	if strings.Contains(m.Filter, ";") {
		return fmt.Errorf("filter must be a single predicate")
	}
	if !m.joined(factTable) {
		return nil
	}
	if err := ValidateIdentifier(m.Table); err != nil {
		return fmt.Errorf("invalid table: %w", err)
	}
	if err := ValidateIdentifier(m.ForeignKey); err != nil {
		return fmt.Errorf("invalid foreign key: %w", err)
	}
	if err := ValidateIdentifier(m.PrimaryKey); err != nil {
		return fmt.Errorf("invalid primary key: %w", err)
	}
	return nil
}

// Mapping returns the mapping of l.
func (d *Descriptor) Mapping(l *cube.Level) (LevelMapping, error) {
	m, ok := d.Levels[l.UniqueName()]
	if !ok {
		return LevelMapping{}, fmt.Errorf("level %s has no relational mapping", l.UniqueName())
	}
	return m, nil
}

// LevelNames returns the mapped level unique names, sorted.
func (d *Descriptor) LevelNames() []string {
	out := make([]string, 0, len(d.Levels))
	for k := range d.Levels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
