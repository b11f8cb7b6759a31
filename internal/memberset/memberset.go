// Package memberset implements the member set container used throughout
// query evaluation.
//
// A Set is partitioned by level: each level's membership is a roaring
// bitmap over that level's ordinal space, so same-level union, intersection
// and counting are bitwise. Members of different levels never compare equal.
// All sets combined in one operation must come from the same cube; mixing
// cubes is a programming error and panics with *CubeMismatchError.
package memberset

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"duck-cube/internal/cube"
)

// CubeMismatchError is the panic value raised when sets from different cubes
// are combined.
type CubeMismatchError struct {
	Left, Right string
}

func (e *CubeMismatchError) Error() string {
	return fmt.Sprintf("member sets belong to different cubes (%s, %s)", e.Left, e.Right)
}

// Set is a mutable collection of members without duplicates.
// The zero value is not usable; call New.
type Set struct {
	cube   *cube.Cube
	levels map[*cube.Level]*roaring.Bitmap
}

// New returns a set holding members.
func New(members ...*cube.Member) *Set {
	s := &Set{levels: map[*cube.Level]*roaring.Bitmap{}}
	for _, m := range members {
		s.Add(m)
	}
	return s
}

// FromLevel returns a set holding every member of l.
func FromLevel(l *cube.Level) *Set {
	s := New()
	s.bind(l)
	bm := roaring.New()
	for _, m := range l.Members() {
		bm.Add(uint32(m.Ordinal()))
	}
	if !bm.IsEmpty() {
		s.levels[l] = bm
	}
	return s
}

func (s *Set) bind(l *cube.Level) {
	c := l.Cube()
	if s.cube == nil {
		s.cube = c
		return
	}
	if s.cube != c {
		panic(&CubeMismatchError{Left: s.cube.Identity(), Right: c.Identity()})
	}
}

func (s *Set) check(o *Set) {
	sameCube(s, o)
	if s.cube == nil {
		s.cube = o.cube
	}
}

func sameCube(a, b *Set) {
	if a.cube != nil && b.cube != nil && a.cube != b.cube {
		panic(&CubeMismatchError{Left: a.cube.Identity(), Right: b.cube.Identity()})
	}
}

func (s *Set) bitmap(l *cube.Level) *roaring.Bitmap {
	bm, ok := s.levels[l]
	if !ok {
		bm = roaring.New()
		s.levels[l] = bm
	}
	return bm
}

// Add inserts m.
func (s *Set) Add(m *cube.Member) {
	s.bind(m.Level())
	s.bitmap(m.Level()).Add(uint32(m.Ordinal()))
}

// AddMembers inserts every member of ms.
func (s *Set) AddMembers(ms []*cube.Member) {
	for _, m := range ms {
		s.Add(m)
	}
}

// AddAll inserts every member of o.
func (s *Set) AddAll(o *Set) {
	s.check(o)
	for l, bm := range o.levels {
		s.bitmap(l).Or(bm)
	}
}

// RetainAll keeps only members also present in o.
func (s *Set) RetainAll(o *Set) {
	s.check(o)
	for l, bm := range s.levels {
		other, ok := o.levels[l]
		if !ok {
			delete(s.levels, l)
			continue
		}
		bm.And(other)
		if bm.IsEmpty() {
			delete(s.levels, l)
		}
	}
}

// RemoveAll drops every member present in o.
func (s *Set) RemoveAll(o *Set) {
	s.check(o)
	for l, bm := range s.levels {
		if other, ok := o.levels[l]; ok {
			bm.AndNot(other)
			if bm.IsEmpty() {
				delete(s.levels, l)
			}
		}
	}
}

// Contains reports whether m is in the set.
func (s *Set) Contains(m *cube.Member) bool {
	bm, ok := s.levels[m.Level()]
	return ok && bm.Contains(uint32(m.Ordinal()))
}

// Len returns the number of members.
func (s *Set) Len() int {
	n := 0
	for _, bm := range s.levels {
		n += int(bm.GetCardinality())
	}
	return n
}

// IsEmpty reports whether the set has no members.
func (s *Set) IsEmpty() bool {
	for _, bm := range s.levels {
		if !bm.IsEmpty() {
			return false
		}
	}
	return true
}

// OnlyFor returns a new set holding the members of s at level l.
func (s *Set) OnlyFor(l *cube.Level) *Set {
	out := New()
	out.cube = s.cube
	if bm, ok := s.levels[l]; ok && !bm.IsEmpty() {
		out.levels[l] = bm.Clone()
	}
	return out
}

// Levels returns the levels with at least one member, ordered by hierarchy
// unique name and then depth.
func (s *Set) Levels() []*cube.Level {
	out := make([]*cube.Level, 0, len(s.levels))
	for l, bm := range s.levels {
		if !bm.IsEmpty() {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hierarchy() != out[j].Hierarchy() {
			return out[i].Hierarchy().UniqueName() < out[j].Hierarchy().UniqueName()
		}
		return out[i].Depth() < out[j].Depth()
	})
	return out
}

// Level returns the single level shared by every member, or nil.
func (s *Set) Level() *cube.Level {
	ls := s.Levels()
	if len(ls) != 1 {
		return nil
	}
	return ls[0]
}

// Hierarchy returns the single hierarchy shared by every member, or nil.
func (s *Set) Hierarchy() *cube.Hierarchy {
	var h *cube.Hierarchy
	for _, l := range s.Levels() {
		if h != nil && l.Hierarchy() != h {
			return nil
		}
		h = l.Hierarchy()
	}
	return h
}

// Members returns the members grouped by level (in Levels order) and sorted by
// ordinal within a level.
func (s *Set) Members() []*cube.Member {
	out := make([]*cube.Member, 0, s.Len())
	for _, l := range s.Levels() {
		it := s.levels[l].Iterator()
		for it.HasNext() {
			if m, ok := l.MemberAt(int(it.Next())); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

// Clone returns an independent copy.
func (s *Set) Clone() *Set {
	out := New()
	out.cube = s.cube
	for l, bm := range s.levels {
		out.levels[l] = bm.Clone()
	}
	return out
}

// Equal reports whether both sets hold the same members.
func (s *Set) Equal(o *Set) bool {
	ls, ol := s.Levels(), o.Levels()
	if len(ls) != len(ol) {
		return false
	}
	for i, l := range ls {
		if ol[i] != l || !s.levels[l].Equals(o.levels[l]) {
			return false
		}
	}
	return true
}

func (s *Set) String() string {
	return fmt.Sprintf("MemberSet%v", s.Members())
}

// Union returns a new set holding the members of every input.
func Union(sets ...*Set) *Set {
	out := New()
	for _, s := range sets {
		out.AddAll(s)
	}
	return out
}

// Intersect returns a new set holding the members present in every input.
// With no inputs the result is empty.
func Intersect(sets ...*Set) *Set {
	if len(sets) == 0 {
		return New()
	}
	out := sets[0].Clone()
	for _, s := range sets[1:] {
		out.RetainAll(s)
	}
	return out
}

// IntersectCount returns |a ∩ b| without materializing the intersection.
func IntersectCount(a, b *Set) int {
	sameCube(a, b)
	n := 0
	for l, bm := range a.levels {
		if other, ok := b.levels[l]; ok {
			n += int(bm.AndCardinality(other))
		}
	}
	return n
}

// IntersectCount3 returns |a ∩ b ∩ c|.
func IntersectCount3(a, b, c *Set) int {
	sameCube(a, b)
	sameCube(a, c)
	sameCube(b, c)
	n := 0
	for l, bm := range a.levels {
		bb, ok := b.levels[l]
		if !ok {
			continue
		}
		cb, ok := c.levels[l]
		if !ok {
			continue
		}
		n += int(roaring.And(bm, bb).AndCardinality(cb))
	}
	return n
}
