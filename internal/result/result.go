// Package result defines the closed algebra of intermediate query results.
//
// A Result is exactly one of *Member, *Set, *Union or *Cross. Consumers
// switch on the concrete type and treat any other type as an error.
package result

import (
	"strings"

	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/memberset"
)

// ErrCrossNotMaterializable is returned when a Cross is asked for its
// members. A Cross only carries filter context.
var ErrCrossNotMaterializable = domain.ErrValidation("a cross-join result cannot be materialized as a member collection")

// Result is an evaluated set expression.
type Result interface {
	// Level is non-nil only when every member shares one level.
	Level() *cube.Level
	// Hierarchy is non-nil only when every member shares one hierarchy.
	Hierarchy() *cube.Hierarchy
	// QueryFragment renders the result in the native query language. The
	// text is deterministic and doubles as the canonical cache-key text.
	QueryFragment() string
	// Collection materializes the members. The caller owns the returned set.
	Collection() (*memberset.Set, error)

	isResult()
}

// Member is a single member.
type Member struct {
	Member *cube.Member
}

// NewMember wraps m.
func NewMember(m *cube.Member) *Member { return &Member{Member: m} }

func (*Member) isResult() {}

// Level implements Result.
func (r *Member) Level() *cube.Level { return r.Member.Level() }

// Hierarchy implements Result.
func (r *Member) Hierarchy() *cube.Hierarchy { return r.Member.Hierarchy() }

// QueryFragment implements Result.
func (r *Member) QueryFragment() string { return r.Member.UniqueName() }

// Collection implements Result.
func (r *Member) Collection() (*memberset.Set, error) { return memberset.New(r.Member), nil }

// SetKind tells how a Set was produced.
type SetKind int

// Set kinds.
const (
	Explicit SetKind = iota
	WholeLevel
	WholeHierarchy
)

func (k SetKind) String() string {
	switch k {
	case WholeLevel:
		return "level"
	case WholeHierarchy:
		return "hierarchy"
	default:
		return "explicit"
	}
}

// Set is an explicit member set, a whole level or a whole hierarchy.
type Set struct {
	kind      SetKind
	level     *cube.Level
	hierarchy *cube.Hierarchy
	members   *memberset.Set
}

// NewExplicitSet wraps an explicit member set.
func NewExplicitSet(members *memberset.Set) *Set {
	return &Set{kind: Explicit, members: members}
}

// NewLevelSet stands for every member of l.
func NewLevelSet(l *cube.Level) *Set {
	return &Set{kind: WholeLevel, level: l, hierarchy: l.Hierarchy()}
}

// NewHierarchySet stands for every member of h.
func NewHierarchySet(h *cube.Hierarchy) *Set {
	s := &Set{kind: WholeHierarchy, hierarchy: h}
	if len(h.Levels()) == 1 {
		s.level = h.Levels()[0]
	}
	return s
}

func (*Set) isResult() {}

// Kind returns how the set was produced.
func (r *Set) Kind() SetKind { return r.kind }

// Level implements Result.
func (r *Set) Level() *cube.Level {
	if r.kind == Explicit {
		return r.members.Level()
	}
	return r.level
}

// Hierarchy implements Result.
func (r *Set) Hierarchy() *cube.Hierarchy {
	if r.kind == Explicit {
		return r.members.Hierarchy()
	}
	return r.hierarchy
}

// QueryFragment implements Result.
func (r *Set) QueryFragment() string {
	switch r.kind {
	case WholeLevel:
		return r.level.UniqueName() + ".members"
	case WholeHierarchy:
		return r.hierarchy.UniqueName() + ".members"
	default:
		return memberList(r.members.Members())
	}
}

// Collection implements Result.
func (r *Set) Collection() (*memberset.Set, error) {
	switch r.kind {
	case WholeLevel:
		return memberset.FromLevel(r.level), nil
	case WholeHierarchy:
		return memberset.New(r.hierarchy.Members()...), nil
	default:
		return r.members.Clone(), nil
	}
}

// Union combines results spanning more than one hierarchy.
type Union struct {
	Children []Result
}

// NewUnion wraps children without modifying them.
func NewUnion(children ...Result) *Union { return &Union{Children: children} }

func (*Union) isResult() {}

// Level implements Result.
func (r *Union) Level() *cube.Level {
	var l *cube.Level
	for i, c := range r.Children {
		cl := c.Level()
		if cl == nil || (i > 0 && cl != l) {
			return nil
		}
		l = cl
	}
	return l
}

// Hierarchy implements Result.
func (r *Union) Hierarchy() *cube.Hierarchy {
	var h *cube.Hierarchy
	for i, c := range r.Children {
		ch := c.Hierarchy()
		if ch == nil || (i > 0 && ch != h) {
			return nil
		}
		h = ch
	}
	return h
}

// QueryFragment implements Result.
func (r *Union) QueryFragment() string {
	parts := make([]string, len(r.Children))
	for i, c := range r.Children {
		parts[i] = c.QueryFragment()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Collection implements Result. Duplicates across children collapse.
func (r *Union) Collection() (*memberset.Set, error) {
	out := memberset.New()
	for _, c := range r.Children {
		s, err := c.Collection()
		if err != nil {
			return nil, err
		}
		out.AddAll(s)
	}
	return out, nil
}

// Cross is an ordered list of results, one per participating hierarchy,
// interpreted conjunctively as a filter context. It is never expanded into
// a cross product.
type Cross struct {
	Children []Result
}

// NewCross wraps children without modifying them.
func NewCross(children ...Result) *Cross { return &Cross{Children: children} }

func (*Cross) isResult() {}

// Level implements Result; a Cross never has one.
func (*Cross) Level() *cube.Level { return nil }

// Hierarchy implements Result; a Cross never has one.
func (*Cross) Hierarchy() *cube.Hierarchy { return nil }

// QueryFragment implements Result.
func (r *Cross) QueryFragment() string {
	parts := make([]string, len(r.Children))
	for i, c := range r.Children {
		parts[i] = c.QueryFragment()
	}
	return "CROSSJOIN(" + strings.Join(parts, ", ") + ")"
}

// Collection implements Result and always fails.
func (*Cross) Collection() (*memberset.Set, error) { return nil, ErrCrossNotMaterializable }

// SingleMember returns the member r reduces to, if it holds exactly one.
func SingleMember(r Result) (*cube.Member, bool) {
	switch v := r.(type) {
	case *Member:
		return v.Member, true
	case *Set:
		if v.kind != Explicit || v.members.Len() != 1 {
			return nil, false
		}
		return v.members.Members()[0], true
	default:
		return nil, false
	}
}

// IsSetLike reports whether r is a *Member or *Set.
func IsSetLike(r Result) bool {
	switch r.(type) {
	case *Member, *Set:
		return true
	default:
		return false
	}
}

func memberList(ms []*cube.Member) string {
	parts := make([]string, len(ms))
	for i, m := range ms {
		parts[i] = m.UniqueName()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
