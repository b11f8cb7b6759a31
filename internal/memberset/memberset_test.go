package memberset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-cube/internal/cube"
)

type fixture struct {
	cube    *cube.Cube
	subject *cube.Level
	cohort  *cube.Level
	s       []*cube.Member
	a, b    *cube.Member
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	b := cube.NewBuilder(name)
	subjH := b.AddHierarchy("Subject", "Subject")
	subj := b.AddLevel(subjH, "Subject")
	cohortH := b.AddHierarchy("Cohort", "Cohort")
	cohort := b.AddLevel(cohortH, "Cohort")
	f := &fixture{subject: subj, cohort: cohort}
	for _, n := range []string{"S1", "S2", "S3", "S4"} {
		f.s = append(f.s, b.AddMember(subj, nil, n))
	}
	f.a = b.AddMember(cohort, nil, "A")
	f.b = b.AddMember(cohort, nil, "B")
	c, err := b.Build()
	require.NoError(t, err)
	f.cube = c
	return f
}

func TestSet_AddContainsLen(t *testing.T) {
	f := newFixture(t, "c")
	s := New(f.s[0], f.s[1], f.s[0])
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Contains(f.s[1]))
	assert.False(t, s.Contains(f.s[2]))
	assert.False(t, s.IsEmpty())
	assert.True(t, New().IsEmpty())
	assert.Same(t, f.subject, s.Level())
	assert.Same(t, f.subject.Hierarchy(), s.Hierarchy())
}

func TestSet_MixedLevels(t *testing.T) {
	f := newFixture(t, "c")
	s := New(f.s[2], f.a, f.s[0])
	assert.Equal(t, 3, s.Len())
	assert.Nil(t, s.Level())
	assert.Nil(t, s.Hierarchy())
	assert.Equal(t, []*cube.Member{f.a, f.s[0], f.s[2]}, s.Members())

	only := s.OnlyFor(f.subject)
	assert.Equal(t, []*cube.Member{f.s[0], f.s[2]}, only.Members())
	assert.True(t, s.OnlyFor(f.cohort).Contains(f.a))
}

func TestSet_UnionIntersectProperties(t *testing.T) {
	f := newFixture(t, "c")
	a := New(f.s[0], f.s[1], f.s[2])
	b := New(f.s[1], f.s[2], f.s[3])

	u := Union(a, b)
	assert.Equal(t, 4, u.Len())
	assert.True(t, Intersect(u, a).Equal(a), "union ∩ a must contain a")

	i := Intersect(a, b)
	assert.Equal(t, []*cube.Member{f.s[1], f.s[2]}, i.Members())
	assert.True(t, Intersect(i, a).Equal(i), "intersection must be a subset of a")
	assert.True(t, Intersect(i, b).Equal(i), "intersection must be a subset of b")

	// inputs untouched
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, 3, b.Len())
	assert.True(t, Intersect().IsEmpty())
}

func TestSet_RetainRemove(t *testing.T) {
	f := newFixture(t, "c")
	s := New(f.s[0], f.s[1], f.a)
	s.RetainAll(New(f.s[1], f.b))
	assert.Equal(t, []*cube.Member{f.s[1]}, s.Members())

	s = New(f.s[0], f.s[1], f.a)
	s.RemoveAll(New(f.s[1], f.a))
	assert.Equal(t, []*cube.Member{f.s[0]}, s.Members())
}

func TestIntersectCount(t *testing.T) {
	f := newFixture(t, "c")
	a := New(f.s[0], f.s[1], f.s[2], f.a)
	b := New(f.s[1], f.s[2], f.s[3], f.a)
	c := New(f.s[2], f.s[3], f.a)

	assert.Equal(t, 3, IntersectCount(a, b))
	assert.Equal(t, Intersect(a, b).Len(), IntersectCount(a, b))
	assert.Equal(t, 2, IntersectCount3(a, b, c))
	assert.Equal(t, Intersect(a, b, c).Len(), IntersectCount3(a, b, c))
	assert.Equal(t, 0, IntersectCount(a, New()))
}

func TestFromLevel(t *testing.T) {
	f := newFixture(t, "c")
	s := FromLevel(f.subject)
	assert.Equal(t, f.subject.Members(), s.Members())
}

func TestSet_CloneEqual(t *testing.T) {
	f := newFixture(t, "c")
	s := New(f.s[0], f.a)
	c := s.Clone()
	assert.True(t, s.Equal(c))
	c.Add(f.s[1])
	assert.False(t, s.Equal(c))
	assert.Equal(t, 2, s.Len())
}

func TestSet_CubeMismatchPanics(t *testing.T) {
	f1 := newFixture(t, "one")
	f2 := newFixture(t, "two")

	assert.PanicsWithError(t, "member sets belong to different cubes (one, two)", func() {
		Union(New(f1.s[0]), New(f2.s[0]))
	})
	assert.Panics(t, func() {
		IntersectCount(New(f1.s[0]), New(f2.s[0]))
	})
	assert.Panics(t, func() {
		s := New(f1.s[0])
		s.Add(f2.a)
	})
}

func TestDetachAttach_RoundTrip(t *testing.T) {
	f := newFixture(t, "c")
	s := New(f.s[0], f.s[3], f.b)

	d, err := s.Detach()
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, "c", d.Cube)
	assert.Positive(t, d.SizeBytes())

	back, err := Attach(d, f.cube.LevelMap())
	require.NoError(t, err)
	assert.True(t, s.Equal(back))

	// Mutating the attached copy leaves the detached form intact.
	back.Add(f.s[1])
	again, err := Attach(d, f.cube.LevelMap())
	require.NoError(t, err)
	assert.Equal(t, 3, again.Len())
}

func TestAttach_ReloadedCube(t *testing.T) {
	f := newFixture(t, "c")
	s := New(f.s[1], f.a)
	d, err := s.Detach()
	require.NoError(t, err)

	reloaded := newFixture(t, "c")
	back, err := Attach(d, reloaded.cube.LevelMap())
	require.NoError(t, err)
	assert.Equal(t, []*cube.Member{reloaded.a, reloaded.s[1]}, back.Members())
}

func TestAttach_UnknownLevel(t *testing.T) {
	f := newFixture(t, "c")
	d, err := New(f.a).Detach()
	require.NoError(t, err)

	_, err = Attach(d, cube.LevelMap{})
	require.Error(t, err)
}
