package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/memberset"
	"duck-cube/internal/testutil"
)

func TestMember(t *testing.T) {
	c := testutil.ClinicalCube(t)
	s1 := testutil.Member(t, c, "[Subject].[Subject].[S1]")

	r := NewMember(s1)
	assert.Same(t, s1.Level(), r.Level())
	assert.Same(t, s1.Hierarchy(), r.Hierarchy())
	assert.Equal(t, "[Subject].[Subject].[S1]", r.QueryFragment())

	set, err := r.Collection()
	require.NoError(t, err)
	assert.Equal(t, []*cube.Member{s1}, set.Members())
}

func TestLevelSet_CollectionIsWholeLevel(t *testing.T) {
	c := testutil.ClinicalCube(t)
	site := testutil.Level(t, c, "[Site].[Site]")

	r := NewLevelSet(site)
	assert.Equal(t, WholeLevel, r.Kind())
	assert.Same(t, site, r.Level())
	assert.Equal(t, "[Site].[Site].members", r.QueryFragment())

	set, err := r.Collection()
	require.NoError(t, err)
	assert.Equal(t, site.Members(), set.Members())
}

func TestHierarchySet(t *testing.T) {
	c := testutil.ClinicalCube(t)
	h, ok := c.LookupHierarchy("Site")
	require.True(t, ok)

	r := NewHierarchySet(h)
	assert.Nil(t, r.Level(), "multi-level hierarchy has no single level")
	assert.Same(t, h, r.Hierarchy())
	assert.Equal(t, "[Site].members", r.QueryFragment())

	set, err := r.Collection()
	require.NoError(t, err)
	assert.Equal(t, 5, set.Len())
	assert.True(t, set.Contains(testutil.Member(t, c, "[Site].[Country].[UK]")))
	assert.True(t, set.Contains(testutil.Member(t, c, "[Site].[Site].[London]")))

	cohort, ok := c.LookupHierarchy("[Cohort]")
	require.True(t, ok)
	assert.NotNil(t, NewHierarchySet(cohort).Level())
}

func TestExplicitSet(t *testing.T) {
	c := testutil.ClinicalCube(t)
	s1 := testutil.Member(t, c, "[Subject].[Subject].[S1]")
	s3 := testutil.Member(t, c, "[Subject].[Subject].[S3]")

	members := memberset.New(s3, s1)
	r := NewExplicitSet(members)
	assert.Same(t, s1.Level(), r.Level())
	assert.Equal(t, "{[Subject].[Subject].[S1], [Subject].[Subject].[S3]}", r.QueryFragment())

	got, err := r.Collection()
	require.NoError(t, err)
	got.Add(testutil.Member(t, c, "[Subject].[Subject].[S2]"))
	assert.Equal(t, 2, members.Len(), "collection must be a copy")

	assert.Equal(t, "{}", NewExplicitSet(memberset.New()).QueryFragment())
}

func TestUnion(t *testing.T) {
	c := testutil.ClinicalCube(t)
	a := testutil.Member(t, c, "[Cohort].[Cohort].[A]")
	s1 := testutil.Member(t, c, "[Subject].[Subject].[S1]")
	b := testutil.Member(t, c, "[Cohort].[Cohort].[B]")

	t.Run("mixed hierarchies", func(t *testing.T) {
		u := NewUnion(NewMember(a), NewMember(s1), NewExplicitSet(memberset.New(a, b)))
		assert.Nil(t, u.Level())
		assert.Nil(t, u.Hierarchy())
		assert.Equal(t, "{[Cohort].[Cohort].[A], [Subject].[Subject].[S1], {[Cohort].[Cohort].[A], [Cohort].[Cohort].[B]}}", u.QueryFragment())

		set, err := u.Collection()
		require.NoError(t, err)
		assert.Equal(t, 3, set.Len(), "duplicates collapse")
	})

	t.Run("agreeing children", func(t *testing.T) {
		u := NewUnion(NewMember(a), NewMember(b))
		assert.Same(t, a.Level(), u.Level())
		assert.Same(t, a.Hierarchy(), u.Hierarchy())
	})

	t.Run("cross child fails collection", func(t *testing.T) {
		u := NewUnion(NewMember(a), NewCross(NewMember(s1), NewMember(b)))
		_, err := u.Collection()
		require.ErrorIs(t, err, ErrCrossNotMaterializable)
	})
}

func TestCross(t *testing.T) {
	c := testutil.ClinicalCube(t)
	a := testutil.Member(t, c, "[Cohort].[Cohort].[A]")
	subj := testutil.Level(t, c, "[Subject].[Subject]")

	x := NewCross(NewMember(a), NewLevelSet(subj))
	assert.Nil(t, x.Level())
	assert.Nil(t, x.Hierarchy())
	assert.Equal(t, "CROSSJOIN([Cohort].[Cohort].[A], [Subject].[Subject].members)", x.QueryFragment())

	_, err := x.Collection()
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.ErrorIs(t, err, ErrCrossNotMaterializable)
}

func TestSingleMember(t *testing.T) {
	c := testutil.ClinicalCube(t)
	a := testutil.Member(t, c, "[Cohort].[Cohort].[A]")
	b := testutil.Member(t, c, "[Cohort].[Cohort].[B]")

	tests := []struct {
		name string
		in   Result
		want *cube.Member
	}{
		{"member", NewMember(a), a},
		{"singleton set", NewExplicitSet(memberset.New(b)), b},
		{"two members", NewExplicitSet(memberset.New(a, b)), nil},
		{"level", NewLevelSet(a.Level()), nil},
		{"cross", NewCross(NewMember(a)), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SingleMember(tc.in)
			assert.Equal(t, tc.want != nil, ok)
			assert.Same(t, tc.want, got)
		})
	}
}
