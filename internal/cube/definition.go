package cube

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the YAML form of a cube schema. Column mappings are carried
// for the relational layer and ignored by the metadata graph itself.
type Definition struct {
	Name       string                `yaml:"name"`
	FactTable  string                `yaml:"fact_table"`
	Dimensions []DimensionDefinition `yaml:"dimensions"`
	Measures   []MeasureDefinition   `yaml:"measures"`
}

// DimensionDefinition declares a dimension. A dimension without explicit
// hierarchies gets one hierarchy named after it holding Levels.
type DimensionDefinition struct {
	Name        string                `yaml:"name"`
	Levels      []LevelDefinition     `yaml:"levels,omitempty"`
	Members     []MemberDefinition    `yaml:"members,omitempty"`
	Hierarchies []HierarchyDefinition `yaml:"hierarchies,omitempty"`
}

// HierarchyDefinition declares a hierarchy and, optionally, its member tree.
type HierarchyDefinition struct {
	Name    string             `yaml:"name"`
	Levels  []LevelDefinition  `yaml:"levels"`
	Members []MemberDefinition `yaml:"members,omitempty"`
}

// LevelDefinition declares a level and where its keys live relationally.
type LevelDefinition struct {
	Name       string `yaml:"name"`
	Table      string `yaml:"table,omitempty"`
	Column     string `yaml:"column"`
	ForeignKey string `yaml:"foreign_key,omitempty"`
	PrimaryKey string `yaml:"primary_key,omitempty"`
	Filter     string `yaml:"filter,omitempty"`
	NullMember string `yaml:"null_member,omitempty"`
}

// MemberDefinition is one node of an explicit member tree.
type MemberDefinition struct {
	Name     string             `yaml:"name"`
	Ordinal  *int               `yaml:"ordinal,omitempty"`
	Children []MemberDefinition `yaml:"children,omitempty"`
}

// MeasureDefinition binds a count-distinct measure to a level unique name.
type MeasureDefinition struct {
	Name  string `yaml:"name"`
	Level string `yaml:"level"`
}

// ParseDefinition decodes a YAML cube definition. Unknown fields are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse cube definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinitionFile reads and parses a YAML cube definition file.
func LoadDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read cube definition: %w", err)
	}
	return ParseDefinition(data)
}

// Validate checks the structural rules a definition must satisfy before it
// can be compiled.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("cube definition: name is required")
	}
	if len(d.Dimensions) == 0 {
		return fmt.Errorf("cube definition %q: at least one dimension is required", d.Name)
	}
	for _, dim := range d.Dimensions {
		if dim.Name == "" {
			return fmt.Errorf("cube definition %q: dimension name is required", d.Name)
		}
		for _, h := range dim.hierarchies() {
			if len(h.Levels) == 0 {
				return fmt.Errorf("cube definition %q: hierarchy %q has no levels", d.Name, h.Name)
			}
			for _, l := range h.Levels {
				if l.Name == "" {
					return fmt.Errorf("cube definition %q: hierarchy %q has an unnamed level", d.Name, h.Name)
				}
			}
		}
	}
	return nil
}

func (d DimensionDefinition) hierarchies() []HierarchyDefinition {
	if len(d.Hierarchies) > 0 {
		return d.Hierarchies
	}
	return []HierarchyDefinition{{Name: d.Name, Levels: d.Levels, Members: d.Members}}
}

// Compile turns the definition into a Builder holding every dimension,
// hierarchy, level, explicit member and measure. Callers may add members
// loaded from the relational source before calling Build.
func (d *Definition) Compile() (*Builder, error) {
	b := NewBuilder(d.Name)
	for _, dim := range d.Dimensions {
		for _, hd := range dim.hierarchies() {
			h := b.AddHierarchy(dim.Name, hd.Name)
			levels := make([]*Level, 0, len(hd.Levels))
			for _, ld := range hd.Levels {
				l := b.AddLevel(h, ld.Name)
				l.NullMemberName = ld.NullMember
				levels = append(levels, l)
			}
			addMemberTree(b, levels, nil, hd.Members)
		}
	}
	for _, md := range d.Measures {
		l, ok := b.Level(md.Level)
		if !ok {
			return nil, fmt.Errorf("measure %q: unknown level %s", md.Name, md.Level)
		}
		b.AddMeasure(md.Name, l)
	}
	return b, nil
}

// Levels returns each level definition keyed by level unique name.
func (d *Definition) Levels() map[string]LevelDefinition {
	out := map[string]LevelDefinition{}
	for _, dim := range d.Dimensions {
		for _, h := range dim.hierarchies() {
			for _, l := range h.Levels {
				out[Bracket(h.Name)+"."+Bracket(l.Name)] = l
			}
		}
	}
	return out
}

// HasExplicitMembers reports whether every hierarchy lists its members.
func (d *Definition) HasExplicitMembers() bool {
	for _, dim := range d.Dimensions {
		for _, h := range dim.hierarchies() {
			if len(h.Members) == 0 {
				return false
			}
		}
	}
	return true
}

func addMemberTree(b *Builder, levels []*Level, parent *Member, defs []MemberDefinition) {
	depth := 0
	if parent != nil {
		depth = parent.level.depth + 1
	}
	if depth >= len(levels) {
		if len(defs) > 0 {
			b.errs = append(b.errs, fmt.Errorf("member tree below %s is deeper than its hierarchy", parent.uniqueName))
		}
		return
	}
	for _, md := range defs {
		var m *Member
		if md.Ordinal != nil {
			m = b.AddMemberOrdinal(levels[depth], parent, md.Name, *md.Ordinal)
		} else {
			m = b.AddMember(levels[depth], parent, md.Name)
		}
		addMemberTree(b, levels, m, md.Children)
	}
}
