package cube

import (
	"errors"
	"fmt"
)

// Builder assembles a Cube. Errors are collected and reported by Build.
type Builder struct {
	cube *Cube
	errs []error
}

// NewBuilder starts a cube with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{cube: &Cube{
		Name:        name,
		hierarchies: map[string]*Hierarchy{},
		levels:      map[string]*Level{},
	}}
}

// SetVersion sets the schema version that forms part of the cube identity.
func (b *Builder) SetVersion(v string) { b.cube.Version = v }

// AddHierarchy adds a hierarchy under the named dimension, creating the
// dimension on first use. Hierarchy names are unique per cube.
func (b *Builder) AddHierarchy(dimension, name string) *Hierarchy {
	var dim *Dimension
	for _, d := range b.cube.Dimensions {
		if d.Name == dimension {
			dim = d
			break
		}
	}
	if dim == nil {
		dim = &Dimension{Name: dimension, cube: b.cube}
		b.cube.Dimensions = append(b.cube.Dimensions, dim)
	}
	h := &Hierarchy{Name: name, dimension: dim}
	if _, dup := b.cube.hierarchies[h.UniqueName()]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate hierarchy %s", h.UniqueName()))
		return h
	}
	dim.Hierarchies = append(dim.Hierarchies, h)
	b.cube.hierarchies[h.UniqueName()] = h
	return h
}

// AddLevel appends a level below the hierarchy's current deepest level.
func (b *Builder) AddLevel(h *Hierarchy, name string) *Level {
	l := &Level{
		Name:      name,
		hierarchy: h,
		depth:     len(h.levels),
		byName:    map[string]*Member{},
	}
	if _, dup := b.cube.levels[l.UniqueName()]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate level %s", l.UniqueName()))
		return l
	}
	h.levels = append(h.levels, l)
	b.cube.levels[l.UniqueName()] = l
	return l
}

// AddMember adds a member to level. parent must belong to the level directly
// above, and must be nil for top-level members. Adding a name twice returns
// the existing member.
func (b *Builder) AddMember(l *Level, parent *Member, name string) *Member {
	return b.AddMemberOrdinal(l, parent, name, unassigned)
}

// AddMemberOrdinal adds a member whose ordinal was already assigned by the
// cube source. AssignOrdinals leaves such members untouched.
func (b *Builder) AddMemberOrdinal(l *Level, parent *Member, name string, ordinal int) *Member {
	if existing, ok := l.byName[name]; ok {
		return existing
	}
	switch {
	case l.depth == 0 && parent != nil:
		b.errs = append(b.errs, fmt.Errorf("member %q: top level %s takes no parent", name, l.UniqueName()))
		parent = nil
	case l.depth > 0 && parent == nil:
		b.errs = append(b.errs, fmt.Errorf("member %q: level %s requires a parent", name, l.UniqueName()))
	case parent != nil && parent.level.depth != l.depth-1:
		b.errs = append(b.errs, fmt.Errorf("member %q: parent %s is not in the level above", name, parent.uniqueName))
	}
	m := &Member{
		Name:       name,
		level:      l,
		parent:     parent,
		ordinal:    ordinal,
		uniqueName: l.UniqueName() + "." + Bracket(name),
	}
	if parent != nil {
		parent.children = append(parent.children, m)
	}
	l.members = append(l.members, m)
	l.byName[name] = m
	return m
}

// AddMeasure registers a count-distinct measure over level.
func (b *Builder) AddMeasure(name string, l *Level) *Measure {
	m := &Measure{Name: name, Level: l}
	b.cube.Measures = append(b.cube.Measures, m)
	return m
}

// Hierarchy returns a hierarchy added earlier.
func (b *Builder) Hierarchy(name string) (*Hierarchy, bool) {
	return b.cube.LookupHierarchy(name)
}

// Level returns a level added earlier by unique name.
func (b *Builder) Level(uniqueName string) (*Level, bool) {
	return b.cube.LookupLevel(uniqueName)
}

// Levels returns every level added so far.
func (b *Builder) Levels() []*Level { return b.cube.Levels() }

// Build validates the cube, assigns ordinals and returns it.
func (b *Builder) Build() (*Cube, error) {
	if b.cube.Name == "" {
		b.errs = append(b.errs, errors.New("cube name is required"))
	}
	for _, h := range b.cube.Hierarchies() {
		if len(h.levels) == 0 {
			b.errs = append(b.errs, fmt.Errorf("hierarchy %s has no levels", h.UniqueName()))
		}
	}
	for _, m := range b.cube.Measures {
		if m.Level == nil {
			b.errs = append(b.errs, fmt.Errorf("measure %q has no level", m.Name))
		}
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("build cube %q: %w", b.cube.Name, errors.Join(b.errs...))
	}
	if err := b.cube.AssignOrdinals(); err != nil {
		return nil, err
	}
	return b.cube, nil
}
