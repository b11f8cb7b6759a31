package datasource_test

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-cube/internal/cache"
	"duck-cube/internal/cube"
	"duck-cube/internal/datasource"
	"duck-cube/internal/domain"
	"duck-cube/internal/engine"
	"duck-cube/internal/memberset"
	"duck-cube/internal/native"
	"duck-cube/internal/result"
	"duck-cube/internal/rolap"
	"duck-cube/internal/testutil"
)

type fixture struct {
	cube    *cube.Cube
	sources map[string]*datasource.Strategy
}

// newFixture loads the clinical data into DuckDB and builds one source of
// every kind over the same cube, each with its own cache.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db := testutil.OpenClinicalDuckDB(t)
	desc, err := rolap.NewDescriptor(testutil.ClinicalDefinition(t))
	require.NoError(t, err)
	c := testutil.ClinicalCube(t)
	exec := engine.NewSQLExecutor(db, nil)
	store, err := native.Load(ctx, exec, "t1", desc, c, slog.Default())
	require.NoError(t, err)

	f := &fixture{cube: c, sources: map[string]*datasource.Strategy{}}
	for _, kind := range datasource.Kinds() {
		s, err := datasource.New(kind, datasource.Deps{
			Cube:       c,
			Descriptor: desc,
			Relational: exec,
			Native:     native.NewExecutor(store, nil),
			Cache:      cache.New(cache.DefaultConfig(), nil),
		})
		require.NoError(t, err)
		f.sources[kind] = s
	}
	return f
}

func (f *fixture) m(t *testing.T, name string) *cube.Member { return testutil.Member(t, f.cube, name) }
func (f *fixture) l(t *testing.T, name string) *cube.Level  { return testutil.Level(t, f.cube, name) }

func names(s *memberset.Set) []string {
	var out []string
	for _, m := range s.Members() {
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out
}

func tenantCtx(tenant string) context.Context {
	return domain.WithTenant(context.Background(), domain.ContextTenant{TenantID: tenant, SchemaID: "s1"})
}

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{"native", "relational"}, datasource.Kinds())
}

func TestNew_Errors(t *testing.T) {
	c := testutil.ClinicalCube(t)

	_, err := datasource.New("olap", datasource.Deps{Cube: c})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = datasource.New(datasource.KindNative, datasource.Deps{Cube: c})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "native executor")

	_, err = datasource.New(datasource.KindRelational, datasource.Deps{Cube: c, Relational: &testutil.MockRelationalExecutor{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "descriptor")
}

func TestLevelMembersQuery(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		outer, member string
		want          []string
	}{
		{"[Subject].[Subject]", "[Cohort].[Cohort].[A]", []string{"S1", "S2"}},
		{"[Subject].[Subject]", "[Site].[Site].[London]", []string{"S1", "S3"}},
		{"[Subject].[Subject]", "[Site].[Country].[US]", []string{"S1", "S2"}},
		{"[Cohort].[Cohort]", "[Study].[Study].[Beta]", []string{"A", "B"}},
		{"[Study].[Study]", "[Subject].[Subject].[S1]", []string{"Alpha", "Beta"}},
		{"[Study].[Study]", "[Subject].[Subject].[S3]", []string{"Beta"}},
	}
	for kind, s := range f.sources {
		for _, tc := range tests {
			t.Run(kind+" "+tc.outer+" "+tc.member, func(t *testing.T) {
				got, err := s.LevelMembersQuery(tenantCtx("t1"), f.l(t, tc.outer), f.m(t, tc.member))
				require.NoError(t, err)
				assert.Equal(t, tc.want, names(got))
			})
		}
	}
}

// countingBackend records the queries that reach the backend.
type countingBackend struct {
	datasource.Backend
	exists, where, pairs int
	pairsMembers         [][]*cube.Member
}

func (b *countingBackend) Exists(ctx context.Context, outer *cube.Level, sub result.Result) (*memberset.Set, error) {
	b.exists++
	return b.Backend.Exists(ctx, outer, sub)
}

func (b *countingBackend) Where(ctx context.Context, outer *cube.Level, cross *result.Cross) (*memberset.Set, error) {
	b.where++
	return b.Backend.Where(ctx, outer, cross)
}

func (b *countingBackend) Pairs(ctx context.Context, outer, inner *cube.Level, innerMembers []*cube.Member) (map[*cube.Member]*memberset.Set, error) {
	b.pairs++
	b.pairsMembers = append(b.pairsMembers, innerMembers)
	return b.Backend.Pairs(ctx, outer, inner, innerMembers)
}

func counting(t *testing.T, f *fixture, kind string, prefetchLimit int) (*datasource.Strategy, *countingBackend, *cache.Cache) {
	t.Helper()
	b := &countingBackend{Backend: f.sources[kind].Backend()}
	rc := cache.New(cache.DefaultConfig(), nil)
	return datasource.NewStrategy(kind, f.cube, b, rc, prefetchLimit, nil), b, rc
}

func TestLevelMembersQuery_SameHierarchyIsStructural(t *testing.T) {
	f := newFixture(t)
	s, b, _ := counting(t, f, datasource.KindRelational, 0)
	ctx := tenantCtx("t1")

	got, err := s.LevelMembersQuery(ctx, f.l(t, "[Site].[Site]"), f.m(t, "[Site].[Country].[US]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Boston", "Denver"}, names(got))

	got, err = s.LevelMembersQuery(ctx, f.l(t, "[Site].[Country]"), f.m(t, "[Site].[Site].[London]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"UK"}, names(got))

	got, err = s.LevelMembersQuery(ctx, f.l(t, "[Site].[Country]"), f.m(t, "[Site].[Country].[US]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"US"}, names(got))

	assert.Zero(t, b.exists+b.where+b.pairs, "no query is issued")
}

func TestLevelMembersQuery_Cached(t *testing.T) {
	f := newFixture(t)
	for _, kind := range datasource.Kinds() {
		t.Run(kind, func(t *testing.T) {
			s, b, rc := counting(t, f, kind, 0)
			outer, a := f.l(t, "[Subject].[Subject]"), f.m(t, "[Cohort].[Cohort].[A]")

			first, err := s.LevelMembersQuery(tenantCtx("t1"), outer, a)
			require.NoError(t, err)
			second, err := s.LevelMembersQuery(tenantCtx("t1"), outer, a)
			require.NoError(t, err)
			assert.True(t, first.Equal(second))
			assert.Equal(t, 1, b.exists)

			// Another tenant has its own entries.
			_, err = s.LevelMembersQuery(tenantCtx("t2"), outer, a)
			require.NoError(t, err)
			assert.Equal(t, 2, b.exists)
			assert.Equal(t, 2, rc.Stats().Entries)

			rc.InvalidateTenant("t1")
			again, err := s.LevelMembersQuery(tenantCtx("t1"), outer, a)
			require.NoError(t, err)
			assert.Equal(t, 3, b.exists)
			assert.True(t, first.Equal(again))
		})
	}
}

func TestMembersQuery(t *testing.T) {
	f := newFixture(t)
	subject := result.NewLevelSet(f.l(t, "[Subject].[Subject]"))
	tests := []struct {
		name       string
		outer, sub result.Result
		want       []string
	}{
		{
			name:  "outer restricts the answer",
			outer: result.NewExplicitSet(memberset.New(f.m(t, "[Subject].[Subject].[S1]"), f.m(t, "[Subject].[Subject].[S3]"))),
			sub:   result.NewLevelSet(f.l(t, "[Study].[Study]")),
			want:  []string{"S1", "S3"},
		},
		{
			name:  "mixed hierarchy set is a disjunction",
			outer: subject,
			sub:   result.NewExplicitSet(memberset.New(f.m(t, "[Cohort].[Cohort].[B]"), f.m(t, "[Study].[Study].[Alpha]"))),
			want:  []string{"S1", "S2", "S3"},
		},
		{
			name:  "union",
			outer: subject,
			sub: result.NewUnion(
				result.NewMember(f.m(t, "[Cohort].[Cohort].[B]")),
				result.NewExplicitSet(memberset.New(f.m(t, "[Site].[Site].[Denver]"))),
			),
			want: []string{"S2", "S3"},
		},
		{
			name:  "single member set",
			outer: subject,
			sub:   result.NewExplicitSet(memberset.New(f.m(t, "[Site].[Site].[Boston]"))),
			want:  []string{"S1"},
		},
		{
			name:  "empty set",
			outer: subject,
			sub:   result.NewExplicitSet(memberset.New()),
			want:  nil,
		},
		{
			name:  "cross is conjunctive",
			outer: subject,
			sub:   result.NewCross(result.NewMember(f.m(t, "[Cohort].[Cohort].[B]")), result.NewMember(f.m(t, "[Study].[Study].[Alpha]"))),
			want:  nil,
		},
		{
			name:  "cross over a level",
			outer: subject,
			sub:   result.NewCross(result.NewLevelSet(f.l(t, "[Cohort].[Cohort]")), result.NewMember(f.m(t, "[Study].[Study].[Beta]"))),
			want:  []string{"S1", "S3"},
		},
		{
			name:  "nested cross",
			outer: subject,
			sub: result.NewCross(
				result.NewMember(f.m(t, "[Cohort].[Cohort].[A]")),
				result.NewCross(result.NewMember(f.m(t, "[Site].[Site].[London]")), result.NewHierarchySet(f.l(t, "[Study].[Study]").Hierarchy())),
			),
			want: []string{"S1"},
		},
		{
			name:  "hierarchy outer spans levels",
			outer: result.NewHierarchySet(f.l(t, "[Site].[Site]").Hierarchy()),
			sub:   result.NewMember(f.m(t, "[Subject].[Subject].[S1]")),
			want:  []string{"Boston", "London", "UK", "US"},
		},
	}
	for kind, s := range f.sources {
		for _, tc := range tests {
			t.Run(kind+" "+tc.name, func(t *testing.T) {
				got, err := s.MembersQuery(tenantCtx("t1"), tc.outer, tc.sub)
				require.NoError(t, err)
				assert.Equal(t, tc.want, names(got))
			})
		}
	}
}

func TestMembersQuery_CrossOuterFails(t *testing.T) {
	f := newFixture(t)
	s := f.sources[datasource.KindNative]
	cross := result.NewCross(result.NewLevelSet(f.l(t, "[Cohort].[Cohort]")))
	_, err := s.MembersQuery(tenantCtx("t1"), cross, result.NewMember(f.m(t, "[Study].[Study].[Beta]")))
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestPopulateCache(t *testing.T) {
	f := newFixture(t)
	for _, kind := range datasource.Kinds() {
		t.Run(kind, func(t *testing.T) {
			s, b, _ := counting(t, f, kind, 0)
			ctx := tenantCtx("t1")
			outer := f.l(t, "[Subject].[Subject]")

			require.NoError(t, s.PopulateCache(ctx, outer, result.NewLevelSet(f.l(t, "[Cohort].[Cohort]"))))
			assert.Equal(t, 1, b.pairs)

			got, err := s.LevelMembersQuery(ctx, outer, f.m(t, "[Cohort].[Cohort].[A]"))
			require.NoError(t, err)
			assert.Equal(t, []string{"S1", "S2"}, names(got))
			got, err = s.LevelMembersQuery(ctx, outer, f.m(t, "[Cohort].[Cohort].[B]"))
			require.NoError(t, err)
			assert.Equal(t, []string{"S3"}, names(got))
			assert.Zero(t, b.exists, "answers come from the prefetched entries")

			// Everything cached: no further query.
			require.NoError(t, s.PopulateCache(ctx, outer, result.NewLevelSet(f.l(t, "[Cohort].[Cohort]"))))
			assert.Equal(t, 1, b.pairs)

			// Same hierarchy members are structural and never prefetched.
			require.NoError(t, s.PopulateCache(ctx, outer, result.NewLevelSet(outer)))
			assert.Equal(t, 1, b.pairs)

			// Cross axes are skipped.
			require.NoError(t, s.PopulateCache(ctx, outer, result.NewCross(result.NewLevelSet(f.l(t, "[Study].[Study]")))))
			assert.Equal(t, 1, b.pairs)
		})
	}
}

func TestPopulateCache_ExplicitMembers(t *testing.T) {
	f := newFixture(t)
	s, b, _ := counting(t, f, datasource.KindRelational, 0)
	ctx := tenantCtx("t1")
	outer := f.l(t, "[Study].[Study]")
	denver := f.m(t, "[Site].[Site].[Denver]")

	require.NoError(t, s.PopulateCache(ctx, outer, result.NewExplicitSet(memberset.New(denver))))
	got, err := s.LevelMembersQuery(ctx, outer, denver)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, names(got))
	assert.Zero(t, b.exists)
	require.Len(t, b.pairsMembers, 1)
	assert.Equal(t, []*cube.Member{denver}, b.pairsMembers[0])
}

func TestPopulateCache_LargeListsFetchWholeLevel(t *testing.T) {
	f := newFixture(t)
	for _, kind := range datasource.Kinds() {
		t.Run(kind, func(t *testing.T) {
			s, b, _ := counting(t, f, kind, 1)
			ctx := tenantCtx("t1")
			outer := f.l(t, "[Cohort].[Cohort]")
			inner := result.NewExplicitSet(memberset.New(
				f.m(t, "[Subject].[Subject].[S1]"),
				f.m(t, "[Subject].[Subject].[S3]"),
			))

			require.NoError(t, s.PopulateCache(ctx, outer, inner))
			require.Equal(t, 1, b.pairs)
			assert.Nil(t, b.pairsMembers[0], "the whole inner level is fetched")

			// S2 was not asked for but its entry came with the level.
			got, err := s.LevelMembersQuery(ctx, outer, f.m(t, "[Subject].[Subject].[S2]"))
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, names(got))
			assert.Zero(t, b.exists)
		})
	}
}

func TestPopulateCache_WithoutCache(t *testing.T) {
	f := newFixture(t)
	b := &countingBackend{Backend: f.sources[datasource.KindNative].Backend()}
	s := datasource.NewStrategy(datasource.KindNative, f.cube, b, nil, 0, nil)
	require.NoError(t, s.PopulateCache(context.Background(), f.l(t, "[Subject].[Subject]"), result.NewLevelSet(f.l(t, "[Cohort].[Cohort]"))))
	assert.Zero(t, b.pairs)
}

func TestRelational_QueryFailure(t *testing.T) {
	c := testutil.ClinicalCube(t)
	desc, err := rolap.NewDescriptor(testutil.ClinicalDefinition(t))
	require.NoError(t, err)
	boom := errors.New("connection reset")
	exec := &testutil.MockRelationalExecutor{
		QueryFn: func(_ context.Context, _, _ string) (*domain.QueryResult, error) { return nil, boom },
	}
	s, err := datasource.New(datasource.KindRelational, datasource.Deps{Cube: c, Descriptor: desc, Relational: exec})
	require.NoError(t, err)

	_, err = s.LevelMembersQuery(context.Background(), testutil.Level(t, c, "[Subject].[Subject]"), testutil.Member(t, c, "[Cohort].[Cohort].[A]"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, exec.Calls())
}

func TestRelational_DriftIsSkipped(t *testing.T) {
	c := testutil.ClinicalCube(t)
	desc, err := rolap.NewDescriptor(testutil.ClinicalDefinition(t))
	require.NoError(t, err)
	exec := &testutil.MockRelationalExecutor{
		QueryFn: func(_ context.Context, tenantID, q string) (*domain.QueryResult, error) {
			assert.Equal(t, "t1", tenantID)
			assert.Contains(t, q, `SELECT DISTINCT f."subject_id" FROM "visits" AS f WHERE f."cohort" IN ('A')`)
			return testutil.Rows([]string{"subject_id"}, []interface{}{"S1"}, []interface{}{"S9"}, []interface{}{nil}), nil
		},
	}
	s, err := datasource.New(datasource.KindRelational, datasource.Deps{Cube: c, Descriptor: desc, Relational: exec})
	require.NoError(t, err)

	got, err := s.LevelMembersQuery(tenantCtx("t1"), testutil.Level(t, c, "[Subject].[Subject]"), testutil.Member(t, c, "[Cohort].[Cohort].[A]"))
	require.NoError(t, err)
	assert.Equal(t, []string{"S1"}, names(got))
}

func TestRelational_NullMemberCompat(t *testing.T) {
	b := cube.NewBuilder("Nulls")
	subject := b.AddLevel(b.AddHierarchy("Subject", "Subject"), "Subject")
	b.AddMember(subject, nil, "S1")
	b.AddMember(subject, nil, cube.DefaultNullMemberName)
	cohort := b.AddLevel(b.AddHierarchy("Cohort", "Cohort"), "Cohort")
	a := b.AddMember(cohort, nil, "A")
	bb := b.AddMember(cohort, nil, "B")
	c, err := b.Build()
	require.NoError(t, err)
	desc := &rolap.Descriptor{FactTable: "facts", Levels: map[string]rolap.LevelMapping{
		"[Subject].[Subject]": {Column: "subject"},
		"[Cohort].[Cohort]":   {Column: "cohort"},
	}}
	exec := &testutil.MockRelationalExecutor{
		QueryFn: func(_ context.Context, _, q string) (*domain.QueryResult, error) {
			if !strings.Contains(q, `f."subject", f."cohort"`) {
				return testutil.Rows(nil, []interface{}{"S1"}, []interface{}{nil}), nil
			}
			return testutil.Rows(nil,
				[]interface{}{"S1", "A"},
				[]interface{}{nil, "A"},
				[]interface{}{nil, "B"},
			), nil
		},
	}

	for _, compat := range []bool{false, true} {
		s, err := datasource.New(datasource.KindRelational, datasource.Deps{
			Cube: c, Descriptor: desc, Relational: exec, NullMemberCompat: compat,
		})
		require.NoError(t, err)

		got, err := s.LevelMembersQuery(context.Background(), subject, a)
		require.NoError(t, err)
		if compat {
			assert.Equal(t, []string{"S1"}, names(got), "null absorbed by non-null keys")
		} else {
			assert.Equal(t, []string{"#null", "S1"}, names(got))
		}

		pairs, err := s.Backend().Pairs(context.Background(), subject, cohort, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"#null"}, names(pairs[bb]), "a lone null key is kept")
		if compat {
			assert.Equal(t, []string{"S1"}, names(pairs[a]))
		} else {
			assert.Equal(t, []string{"#null", "S1"}, names(pairs[a]))
		}
	}
}
