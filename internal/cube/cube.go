// Package cube models immutable cube metadata: dimensions, hierarchies,
// levels and members, plus the per-level ordinal space used by member sets.
//
// Unique names follow the bracketed convention:
//
//	hierarchy  [Subject]
//	level      [Subject].[Subject]
//	member     [Subject].[Subject].[S1]
//
// A cube is assembled with a Builder (directly or from a YAML Definition)
// and must not be mutated after Build returns.
package cube

import (
	"fmt"
	"strings"
)

// DefaultNullMemberName names the member that absorbs NULL keys.
const DefaultNullMemberName = "#null"

const unassigned = -1

// Cube is the root of the metadata graph.
type Cube struct {
	Name       string
	Version    string
	Dimensions []*Dimension
	Measures   []*Measure

	hierarchies map[string]*Hierarchy
	levels      map[string]*Level
}

// Dimension groups hierarchies.
type Dimension struct {
	Name        string
	Hierarchies []*Hierarchy

	cube *Cube
}

// Cube returns the owning cube.
func (d *Dimension) Cube() *Cube { return d.cube }

// Hierarchy is an ordered list of levels. There is no All level; the
// first level holds the root members.
type Hierarchy struct {
	Name string

	dimension *Dimension
	levels    []*Level
}

// Level holds the members at one depth of a hierarchy.
type Level struct {
	Name           string
	NullMemberName string

	hierarchy *Hierarchy
	depth     int
	members   []*Member
	byName    map[string]*Member
	byOrdinal []*Member
}

// Member is a single categorical value within a level.
type Member struct {
	Name string

	level      *Level
	parent     *Member
	children   []*Member
	ordinal    int
	uniqueName string
}

// Measure is a count-distinct measure over one level.
type Measure struct {
	Name  string
	Level *Level
}

// LevelMap resolves levels by unique name. Detached member sets are
// re-attached against one.
type LevelMap map[string]*Level

// Identity is the cube's cache identity: name plus schema version.
func (c *Cube) Identity() string {
	if c.Version == "" {
		return c.Name
	}
	return c.Name + "@" + c.Version
}

// Hierarchies returns every hierarchy in dimension order.
func (c *Cube) Hierarchies() []*Hierarchy {
	var out []*Hierarchy
	for _, d := range c.Dimensions {
		out = append(out, d.Hierarchies...)
	}
	return out
}

// Levels returns every level in hierarchy order.
func (c *Cube) Levels() []*Level {
	var out []*Level
	for _, h := range c.Hierarchies() {
		out = append(out, h.levels...)
	}
	return out
}

// LevelMap returns a fresh map of level unique name to level.
func (c *Cube) LevelMap() LevelMap {
	m := make(LevelMap, len(c.levels))
	for k, v := range c.levels {
		m[k] = v
	}
	return m
}

// LookupHierarchy resolves a hierarchy by unique name ("[H]") or plain name.
func (c *Cube) LookupHierarchy(name string) (*Hierarchy, bool) {
	if h, ok := c.hierarchies[name]; ok {
		return h, true
	}
	h, ok := c.hierarchies[Bracket(name)]
	return h, ok
}

// LookupLevel resolves a level by unique name ("[H].[L]").
func (c *Cube) LookupLevel(uniqueName string) (*Level, bool) {
	l, ok := c.levels[uniqueName]
	return l, ok
}

// LookupMember resolves a member by unique name ("[H].[L].[Name]").
func (c *Cube) LookupMember(uniqueName string) (*Member, bool) {
	parts, err := SplitUniqueName(uniqueName)
	if err != nil || len(parts) != 3 {
		return nil, false
	}
	l, ok := c.levels[Bracket(parts[0])+"."+Bracket(parts[1])]
	if !ok {
		return nil, false
	}
	return l.LookupMember(parts[2])
}

// LookupMeasure resolves a measure by name.
func (c *Cube) LookupMeasure(name string) (*Measure, bool) {
	for _, m := range c.Measures {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// DefaultMeasure returns the first measure whose name ends in "Count" and
// is not "RowCount".
func (c *Cube) DefaultMeasure() (*Measure, bool) {
	for _, m := range c.Measures {
		if strings.HasSuffix(m.Name, "Count") && m.Name != "RowCount" {
			return m, true
		}
	}
	return nil, false
}

// Dimension returns the owning dimension.
func (h *Hierarchy) Dimension() *Dimension { return h.dimension }

// UniqueName returns "[Name]".
func (h *Hierarchy) UniqueName() string { return Bracket(h.Name) }

// Levels returns the hierarchy's levels, root first.
func (h *Hierarchy) Levels() []*Level { return h.levels }

// TopLevel returns the level holding the hierarchy's root members, i.e. the
// direct children of the implicit All member.
func (h *Hierarchy) TopLevel() *Level {
	if len(h.levels) == 0 {
		return nil
	}
	return h.levels[0]
}

// RootMembers returns the members of the top level.
func (h *Hierarchy) RootMembers() []*Member {
	if top := h.TopLevel(); top != nil {
		return top.members
	}
	return nil
}

// Members returns the root members and all their descendants, depth first.
func (h *Hierarchy) Members() []*Member {
	var out []*Member
	var walk func(ms []*Member)
	walk = func(ms []*Member) {
		for _, m := range ms {
			out = append(out, m)
			walk(m.children)
		}
	}
	walk(h.RootMembers())
	return out
}

// Hierarchy returns the owning hierarchy.
func (l *Level) Hierarchy() *Hierarchy { return l.hierarchy }

// Cube returns the owning cube.
func (l *Level) Cube() *Cube { return l.hierarchy.dimension.cube }

// Depth is the zero-based position of the level in its hierarchy.
func (l *Level) Depth() int { return l.depth }

// UniqueName returns "[H].[L]".
func (l *Level) UniqueName() string {
	return l.hierarchy.UniqueName() + "." + Bracket(l.Name)
}

// Members returns the level's members in the order they were added.
func (l *Level) Members() []*Member { return l.members }

// Size is the number of members in the level.
func (l *Level) Size() int { return len(l.members) }

// LookupMember resolves a member by its name within the level.
func (l *Level) LookupMember(name string) (*Member, bool) {
	m, ok := l.byName[name]
	return m, ok
}

// NullMember returns the member absorbing NULL keys, if the level has one.
func (l *Level) NullMember() (*Member, bool) {
	name := l.NullMemberName
	if name == "" {
		name = DefaultNullMemberName
	}
	return l.LookupMember(name)
}

// MemberAt returns the member at the given ordinal.
func (l *Level) MemberAt(ordinal int) (*Member, bool) {
	if ordinal < 0 || ordinal >= len(l.byOrdinal) || l.byOrdinal[ordinal] == nil {
		return nil, false
	}
	return l.byOrdinal[ordinal], true
}

// OrdinalSpace is one past the largest ordinal in the level.
func (l *Level) OrdinalSpace() int { return len(l.byOrdinal) }

func (l *Level) String() string { return l.UniqueName() }

// Level returns the owning level.
func (m *Member) Level() *Level { return m.level }

// Hierarchy returns the owning hierarchy.
func (m *Member) Hierarchy() *Hierarchy { return m.level.hierarchy }

// Parent returns the parent member, nil for root members.
func (m *Member) Parent() *Member { return m.parent }

// Children returns the member's children in the next level.
func (m *Member) Children() []*Member { return m.children }

// Ordinal is the member's stable position within its level.
func (m *Member) Ordinal() int { return m.ordinal }

// UniqueName returns "[H].[L].[Name]".
func (m *Member) UniqueName() string { return m.uniqueName }

func (m *Member) String() string { return m.uniqueName }

// IsNull reports whether the member absorbs NULL keys.
func (m *Member) IsNull() bool {
	n, ok := m.level.NullMember()
	return ok && n == m
}

// DescendantsAt returns the member itself when level is its own level, the
// descendants at level when level is deeper in the same hierarchy, and nil
// otherwise.
func (m *Member) DescendantsAt(level *Level) []*Member {
	if level.hierarchy != m.level.hierarchy || level.depth < m.level.depth {
		return nil
	}
	out := []*Member{m}
	for depth := m.level.depth; depth < level.depth; depth++ {
		var next []*Member
		for _, d := range out {
			next = append(next, d.children...)
		}
		out = next
	}
	return out
}

// AncestorAt returns the member's ancestor (or itself) at a shallower level
// of the same hierarchy.
func (m *Member) AncestorAt(level *Level) (*Member, bool) {
	if level.hierarchy != m.level.hierarchy || level.depth > m.level.depth {
		return nil, false
	}
	cur := m
	for cur != nil && cur.level != level {
		cur = cur.parent
	}
	return cur, cur != nil
}

// Bracket quotes a name segment, doubling closing brackets.
func Bracket(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// SplitUniqueName splits "[A].[B].[C]" into its unquoted segments.
func SplitUniqueName(s string) ([]string, error) {
	var parts []string
	i := 0
	for i < len(s) {
		if s[i] != '[' {
			return nil, fmt.Errorf("unique name %q: expected '[' at %d", s, i)
		}
		i++
		var sb strings.Builder
		closed := false
		for i < len(s) {
			if s[i] == ']' {
				if i+1 < len(s) && s[i+1] == ']' {
					sb.WriteByte(']')
					i += 2
					continue
				}
				i++
				closed = true
				break
			}
			sb.WriteByte(s[i])
			i++
		}
		if !closed {
			return nil, fmt.Errorf("unique name %q: unterminated segment", s)
		}
		parts = append(parts, sb.String())
		if i < len(s) {
			if s[i] != '.' {
				return nil, fmt.Errorf("unique name %q: expected '.' at %d", s, i)
			}
			i++
		}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("unique name %q: empty", s)
	}
	return parts, nil
}
