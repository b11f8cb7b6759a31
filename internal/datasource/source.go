// Package datasource answers existence questions against the cube data:
// which members of an outer level co-occur in at least one fact row with a
// member, a set, or a conjunctive filter context.
//
// Strategy holds the logic shared by every backend: the same-hierarchy
// structural shortcut, result caching and bulk prefetch. Backends only run
// queries. Two backends exist, one speaking the native cube query language
// and one issuing SELECT DISTINCT against the relational source.
package datasource

import (
	"context"
	"fmt"
	"log/slog"

	"duck-cube/internal/cache"
	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/memberset"
	"duck-cube/internal/result"
)

// DefaultPrefetchLimit is the longest explicit member list prefetched as
// such; longer lists prefetch against the whole inner level.
const DefaultPrefetchLimit = 500

// Source is the data source strategy consumed by query and grid evaluation.
type Source interface {
	// MembersQuery returns the members of outer that co-occur with sub. A
	// *result.Cross sub is a conjunctive filter context.
	MembersQuery(ctx context.Context, outer, sub result.Result) (*memberset.Set, error)
	// LevelMembersQuery returns the members of outer that co-occur with m.
	LevelMembersQuery(ctx context.Context, outer *cube.Level, m *cube.Member) (*memberset.Set, error)
	// PopulateCache prefetches LevelMembersQuery(outer, m) for every member
	// of inner with one batched query.
	PopulateCache(ctx context.Context, outer *cube.Level, inner result.Result) error
}

// Backend runs existence queries. Every method returns members of outer.
type Backend interface {
	// Exists returns the members co-occurring with any member of sub.
	Exists(ctx context.Context, outer *cube.Level, sub result.Result) (*memberset.Set, error)
	// Where returns the members of rows satisfying every child of cross.
	Where(ctx context.Context, outer *cube.Level, cross *result.Cross) (*memberset.Set, error)
	// Pairs returns, per inner member, the co-occurring outer members.
	// A nil innerMembers means the whole inner level.
	Pairs(ctx context.Context, outer, inner *cube.Level, innerMembers []*cube.Member) (map[*cube.Member]*memberset.Set, error)
}

// Strategy implements Source over a Backend.
type Strategy struct {
	kind          string
	cube          *cube.Cube
	levels        cube.LevelMap
	backend       Backend
	cache         *cache.Cache
	prefetchLimit int
	logger        *slog.Logger
}

// NewStrategy wraps backend. A nil cache disables caching.
func NewStrategy(kind string, c *cube.Cube, backend Backend, rc *cache.Cache, prefetchLimit int, logger *slog.Logger) *Strategy {
	if prefetchLimit <= 0 {
		prefetchLimit = DefaultPrefetchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{
		kind:          kind,
		cube:          c,
		levels:        c.LevelMap(),
		backend:       backend,
		cache:         rc,
		prefetchLimit: prefetchLimit,
		logger:        logger.With("component", "datasource", "kind", kind),
	}
}

// Kind returns the registry name of the backend.
func (s *Strategy) Kind() string { return s.kind }

// Backend returns the wrapped backend.
func (s *Strategy) Backend() Backend { return s.backend }

// MembersQuery implements Source. The answer is restricted to the members
// of outer.
func (s *Strategy) MembersQuery(ctx context.Context, outer, sub result.Result) (*memberset.Set, error) {
	outerSet, err := outer.Collection()
	if err != nil {
		return nil, err
	}
	out := memberset.New()
	for _, l := range outerSet.Levels() {
		var found *memberset.Set
		switch v := sub.(type) {
		case *result.Cross:
			found, err = s.cached(ctx, whereText(l, v), func(ctx context.Context) (*memberset.Set, error) {
				return s.backend.Where(ctx, l, v)
			})
		case *result.Member, *result.Set, *result.Union:
			if m, ok := result.SingleMember(sub); ok {
				found, err = s.LevelMembersQuery(ctx, l, m)
				break
			}
			found, err = s.cached(ctx, existsText(l, sub.QueryFragment()), func(ctx context.Context) (*memberset.Set, error) {
				return s.backend.Exists(ctx, l, sub)
			})
		default:
			return nil, fmt.Errorf("datasource: unsupported result %T", sub)
		}
		if err != nil {
			return nil, err
		}
		out.AddAll(found)
	}
	out.RetainAll(outerSet)
	return out, nil
}

// LevelMembersQuery implements Source. A member of outer's own hierarchy is
// answered from the hierarchy: its descendants at a deeper outer level, or
// its ancestor at a shallower one.
func (s *Strategy) LevelMembersQuery(ctx context.Context, outer *cube.Level, m *cube.Member) (*memberset.Set, error) {
	if m.Hierarchy() == outer.Hierarchy() {
		return structural(outer, m), nil
	}
	return s.cached(ctx, existsText(outer, m.UniqueName()), func(ctx context.Context) (*memberset.Set, error) {
		return s.backend.Exists(ctx, outer, result.NewMember(m))
	})
}

func structural(outer *cube.Level, m *cube.Member) *memberset.Set {
	out := memberset.New()
	if m.Level().Depth() <= outer.Depth() {
		out.AddMembers(m.DescendantsAt(outer))
	} else if a, ok := m.AncestorAt(outer); ok {
		out.Add(a)
	}
	return out
}

// PopulateCache implements Source. Members already cached or answered
// structurally are skipped; the rest are fetched with one query per inner
// level.
func (s *Strategy) PopulateCache(ctx context.Context, outer *cube.Level, inner result.Result) error {
	if s.cache == nil {
		return nil
	}
	if _, ok := inner.(*result.Cross); ok {
		return nil
	}
	innerSet, err := inner.Collection()
	if err != nil {
		return err
	}
	for _, l := range innerSet.Levels() {
		if l.Hierarchy() == outer.Hierarchy() {
			continue
		}
		var missing []*cube.Member
		for _, m := range innerSet.OnlyFor(l).Members() {
			if _, ok := s.cache.Get(ctx, s.key(ctx, existsText(outer, m.UniqueName())), s.levels); !ok {
				missing = append(missing, m)
			}
		}
		if len(missing) == 0 {
			continue
		}
		fetch := missing
		if len(missing) > s.prefetchLimit {
			fetch = nil
			missing = l.Members()
		}
		pairs, err := s.backend.Pairs(ctx, outer, l, fetch)
		if err != nil {
			return err
		}
		for _, m := range missing {
			found, ok := pairs[m]
			if !ok {
				found = memberset.New()
			}
			s.cache.Put(ctx, s.key(ctx, existsText(outer, m.UniqueName())), found)
		}
		s.logger.DebugContext(ctx, "cache prefetched",
			"outer", outer.UniqueName(),
			"inner", l.UniqueName(),
			"members", len(missing),
			"full_level", fetch == nil)
	}
	return nil
}

func (s *Strategy) cached(ctx context.Context, text string, load func(context.Context) (*memberset.Set, error)) (*memberset.Set, error) {
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.GetOrLoad(ctx, s.key(ctx, text), s.levels, load)
}

func (s *Strategy) key(ctx context.Context, text string) cache.Key {
	t, _ := domain.TenantFromContext(ctx)
	return cache.Key{TenantID: t.TenantID, SchemaID: t.SchemaID, Cube: s.cube.Identity(), Text: text}
}

func existsText(outer *cube.Level, fragment string) string {
	return "EXISTS(" + outer.UniqueName() + ", " + fragment + ")"
}

func whereText(outer *cube.Level, cross *result.Cross) string {
	return "WHERE(" + outer.UniqueName() + ", " + cross.QueryFragment() + ")"
}

// relink maps a member reported by a query back onto outer by name. ok is
// false for drift: a member the loaded cube does not know.
func relink(outer *cube.Level, m *cube.Member) (*cube.Member, bool) {
	if m.Level() == outer {
		return m, true
	}
	if m.IsNull() {
		return outer.NullMember()
	}
	return outer.LookupMember(m.Name)
}

func tenantID(ctx context.Context) string {
	t, _ := domain.TenantFromContext(ctx)
	return t.TenantID
}
