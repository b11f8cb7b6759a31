package cube

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSiteCube(t *testing.T) *Cube {
	t.Helper()
	b := NewBuilder("Clinical")
	site := b.AddHierarchy("Site", "Site")
	country := b.AddLevel(site, "Country")
	city := b.AddLevel(site, "Site")
	us := b.AddMember(country, nil, "US")
	uk := b.AddMember(country, nil, "UK")
	b.AddMember(city, us, "Boston")
	b.AddMember(city, us, "Denver")
	b.AddMember(city, uk, "London")

	subject := b.AddHierarchy("Subject", "Subject")
	subjLevel := b.AddLevel(subject, "Subject")
	for _, n := range []string{"S1", "S2", "S3"} {
		b.AddMember(subjLevel, nil, n)
	}
	b.AddMeasure("RowCount", subjLevel)
	b.AddMeasure("SubjectCount", subjLevel)

	c, err := b.Build()
	require.NoError(t, err)
	return c
}

func TestUniqueNames(t *testing.T) {
	c := buildSiteCube(t)

	l, ok := c.LookupLevel("[Site].[Site]")
	require.True(t, ok)
	assert.Equal(t, "[Site].[Site]", l.UniqueName())
	assert.Equal(t, 1, l.Depth())

	m, ok := c.LookupMember("[Site].[Site].[Denver]")
	require.True(t, ok)
	assert.Equal(t, "Denver", m.Name)
	assert.Equal(t, "US", m.Parent().Name)

	_, ok = c.LookupMember("[Site].[Site].[Paris]")
	assert.False(t, ok)
	_, ok = c.LookupMember("not a name")
	assert.False(t, ok)

	h, ok := c.LookupHierarchy("Site")
	require.True(t, ok)
	assert.Equal(t, "[Site]", h.UniqueName())
}

func TestSplitUniqueName(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{in: "[A].[B].[C]", want: []string{"A", "B", "C"}},
		{in: "[A]]x].[B]", want: []string{"A]x", "B"}},
		{in: "[A", wantErr: true},
		{in: "A.B", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := SplitUniqueName(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
	assert.Equal(t, "[a]]b]", Bracket("a]b"))
}

func TestAssignOrdinals(t *testing.T) {
	c := buildSiteCube(t)
	l, _ := c.LookupLevel("[Site].[Site]")
	for i, m := range l.Members() {
		assert.Equal(t, i, m.Ordinal())
		got, ok := l.MemberAt(i)
		require.True(t, ok)
		assert.Same(t, m, got)
	}
	_, ok := l.MemberAt(3)
	assert.False(t, ok)

	// Idempotent.
	require.NoError(t, c.AssignOrdinals())
	assert.Equal(t, 2, l.Members()[2].Ordinal())
}

func TestAssignOrdinals_KeepsSourceOrdinals(t *testing.T) {
	b := NewBuilder("c")
	h := b.AddHierarchy("H", "H")
	l := b.AddLevel(h, "L")
	b.AddMember(l, nil, "a")
	b.AddMemberOrdinal(l, nil, "b", 0)
	b.AddMember(l, nil, "c")
	c, err := b.Build()
	require.NoError(t, err)

	lvl, _ := c.LookupLevel("[H].[L]")
	a, _ := lvl.LookupMember("a")
	bm, _ := lvl.LookupMember("b")
	cm, _ := lvl.LookupMember("c")
	assert.Equal(t, 0, bm.Ordinal())
	assert.Equal(t, 1, a.Ordinal())
	assert.Equal(t, 2, cm.Ordinal())
	assert.Equal(t, 3, lvl.OrdinalSpace())
}

func TestAssignOrdinals_DuplicateSourceOrdinal(t *testing.T) {
	b := NewBuilder("c")
	h := b.AddHierarchy("H", "H")
	l := b.AddLevel(h, "L")
	b.AddMemberOrdinal(l, nil, "a", 4)
	b.AddMemberOrdinal(l, nil, "b", 4)
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share ordinal 4")
}

func TestAssignOrdinals_BoundsSourceOrdinals(t *testing.T) {
	build := func(ordinal int) error {
		b := NewBuilder("c")
		h := b.AddHierarchy("H", "H")
		l := b.AddLevel(h, "L")
		b.AddMemberOrdinal(l, nil, "a", ordinal)
		b.AddMember(l, nil, "b")
		_, err := b.Build()
		return err
	}

	require.NoError(t, build(2*2+ordinalSlack-1))

	err := build(50_000_000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too sparse")

	if math.MaxInt > math.MaxUint32 {
		beyond := int64(math.MaxUint32)
		err = build(int(beyond))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "32-bit")
	}
}

func TestHierarchyMembers(t *testing.T) {
	c := buildSiteCube(t)
	h, _ := c.LookupHierarchy("[Site]")

	var names []string
	for _, m := range h.Members() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"US", "Boston", "Denver", "UK", "London"}, names)
	assert.Len(t, h.RootMembers(), 2)
	assert.Equal(t, "Country", h.TopLevel().Name)
}

func TestDescendantsAndAncestors(t *testing.T) {
	c := buildSiteCube(t)
	us, _ := c.LookupMember("[Site].[Country].[US]")
	siteLevel, _ := c.LookupLevel("[Site].[Site]")
	countryLevel, _ := c.LookupLevel("[Site].[Country]")
	subjLevel, _ := c.LookupLevel("[Subject].[Subject]")

	desc := us.DescendantsAt(siteLevel)
	require.Len(t, desc, 2)
	assert.Equal(t, "Boston", desc[0].Name)
	assert.Equal(t, []*Member{us}, us.DescendantsAt(countryLevel))
	assert.Nil(t, us.DescendantsAt(subjLevel))

	boston := desc[0]
	anc, ok := boston.AncestorAt(countryLevel)
	require.True(t, ok)
	assert.Same(t, us, anc)
	_, ok = us.AncestorAt(siteLevel)
	assert.False(t, ok)
}

func TestDefaultMeasure(t *testing.T) {
	c := buildSiteCube(t)
	m, ok := c.DefaultMeasure()
	require.True(t, ok)
	assert.Equal(t, "SubjectCount", m.Name)

	_, ok = c.LookupMeasure("RowCount")
	assert.True(t, ok)
}

func TestBuilder_Errors(t *testing.T) {
	b := NewBuilder("c")
	h := b.AddHierarchy("H", "H")
	top := b.AddLevel(h, "Top")
	child := b.AddLevel(h, "Child")
	b.AddMember(child, nil, "orphan")
	b.AddHierarchy("H", "H")
	b.AddHierarchy("Empty", "Empty")
	_ = top

	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a parent")
	assert.Contains(t, err.Error(), "duplicate hierarchy")
	assert.Contains(t, err.Error(), "has no levels")
}

func TestNullMember(t *testing.T) {
	b := NewBuilder("c")
	h := b.AddHierarchy("H", "H")
	l := b.AddLevel(h, "L")
	b.AddMember(l, nil, "x")
	n := b.AddMember(l, nil, DefaultNullMemberName)
	_, err := b.Build()
	require.NoError(t, err)

	got, ok := l.NullMember()
	require.True(t, ok)
	assert.Same(t, n, got)
	assert.True(t, n.IsNull())
}
