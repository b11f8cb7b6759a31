package datasource

import (
	"context"
	"fmt"
	"log/slog"

	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/memberset"
	"duck-cube/internal/result"
	"duck-cube/internal/rolap"
)

// relationalBackend translates results into SELECT DISTINCT queries over the
// fact table described by a ROLAP descriptor.
type relationalBackend struct {
	desc       *rolap.Descriptor
	exec       domain.RelationalExecutor
	nullCompat bool
	logger     *slog.Logger
}

func newRelationalBackend(deps Deps) (Backend, error) {
	if deps.Relational == nil {
		return nil, fmt.Errorf("relational source requires a relational executor")
	}
	if deps.Descriptor == nil {
		return nil, fmt.Errorf("relational source requires a ROLAP descriptor")
	}
	return &relationalBackend{
		desc:       deps.Descriptor,
		exec:       deps.Relational,
		nullCompat: deps.NullMemberCompat,
		logger:     deps.logger("relational"),
	}, nil
}

func (b *relationalBackend) Exists(ctx context.Context, outer *cube.Level, sub result.Result) (*memberset.Set, error) {
	group, err := disjunction(sub)
	if err != nil {
		return nil, err
	}
	return b.existence(ctx, outer, group)
}

func (b *relationalBackend) Where(ctx context.Context, outer *cube.Level, cross *result.Cross) (*memberset.Set, error) {
	groups, err := conjunction(cross)
	if err != nil {
		return nil, err
	}
	return b.existence(ctx, outer, groups...)
}

func (b *relationalBackend) existence(ctx context.Context, outer *cube.Level, where ...rolap.AnyOf) (*memberset.Set, error) {
	rows, err := b.query(ctx, rolap.Existence([]*cube.Level{outer}, where...))
	if err != nil {
		return nil, err
	}
	out := memberset.New()
	for _, row := range rows {
		if m, ok := b.resolve(ctx, outer, row[0]); ok {
			out.Add(m)
		}
	}
	b.compat(out)
	return out, nil
}

func (b *relationalBackend) Pairs(ctx context.Context, outer, inner *cube.Level, innerMembers []*cube.Member) (map[*cube.Member]*memberset.Set, error) {
	q := rolap.Existence([]*cube.Level{outer, inner}, rolap.AnyOf{{Level: inner, Members: innerMembers}})
	rows, err := b.query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := map[*cube.Member]*memberset.Set{}
	for _, row := range rows {
		im, ok := b.resolve(ctx, inner, row[1])
		if !ok {
			continue
		}
		om, ok := b.resolve(ctx, outer, row[0])
		if !ok {
			continue
		}
		set, ok := out[im]
		if !ok {
			set = memberset.New()
			out[im] = set
		}
		set.Add(om)
	}
	for _, set := range out {
		b.compat(set)
	}
	return out, nil
}

func (b *relationalBackend) query(ctx context.Context, q rolap.Query) ([][]interface{}, error) {
	text, err := b.desc.SQL(q)
	if err != nil {
		return nil, domain.ErrValidation("%s", err.Error())
	}
	res, err := b.exec.Query(ctx, tenantID(ctx), text)
	if err != nil {
		b.logger.ErrorContext(ctx, "relational query failed", "query", text, "error", err)
		return nil, fmt.Errorf("relational existence query: %w", err)
	}
	return res.Rows, nil
}

// resolve maps a key value of l to its member. Unknown keys are drift and
// are reported; NULL keys without a null member are dropped quietly.
func (b *relationalBackend) resolve(ctx context.Context, l *cube.Level, v interface{}) (*cube.Member, bool) {
	m, ok := rolap.ResolveMember(l, v)
	if ok {
		return m, true
	}
	if v == nil {
		b.logger.DebugContext(ctx, "null key without null member", "level", l.UniqueName())
		return nil, false
	}
	b.logger.WarnContext(ctx, "unknown member in relational result", "level", l.UniqueName(), "key", v)
	return nil, false
}

// compat drops the null member when the set holds any other member of its
// level. Only used to match engines that absorb unknown keys.
func (b *relationalBackend) compat(s *memberset.Set) {
	if !b.nullCompat {
		return
	}
	for _, l := range s.Levels() {
		n, ok := l.NullMember()
		if !ok || !s.Contains(n) || s.OnlyFor(l).Len() < 2 {
			continue
		}
		s.RemoveAll(memberset.New(n))
	}
}

// disjunction translates a set-like result into one OR group.
func disjunction(r result.Result) (rolap.AnyOf, error) {
	switch v := r.(type) {
	case *result.Member:
		return rolap.AnyOf{{Level: v.Level(), Members: []*cube.Member{v.Member}}}, nil
	case *result.Set:
		switch v.Kind() {
		case result.WholeLevel:
			return rolap.AnyOf{{Level: v.Level()}}, nil
		case result.WholeHierarchy:
			var group rolap.AnyOf
			for _, l := range v.Hierarchy().Levels() {
				group = append(group, rolap.Predicate{Level: l})
			}
			return group, nil
		case result.Explicit:
			coll, err := v.Collection()
			if err != nil {
				return nil, err
			}
			group := rolap.AnyOf{}
			for _, l := range coll.Levels() {
				group = append(group, rolap.Predicate{Level: l, Members: coll.OnlyFor(l).Members()})
			}
			return group, nil
		default:
			return nil, fmt.Errorf("datasource: unsupported set kind %s", v.Kind())
		}
	case *result.Union:
		group := rolap.AnyOf{}
		for _, c := range v.Children {
			g, err := disjunction(c)
			if err != nil {
				return nil, err
			}
			group = append(group, g...)
		}
		return group, nil
	case *result.Cross:
		return nil, domain.ErrValidation("relational source cannot answer %s inside a union", v.QueryFragment())
	default:
		return nil, fmt.Errorf("datasource: unsupported result %T", r)
	}
}

// conjunction translates a cross into AND-ed groups, one per child.
func conjunction(cross *result.Cross) ([]rolap.AnyOf, error) {
	var groups []rolap.AnyOf
	for _, c := range cross.Children {
		if nested, ok := c.(*result.Cross); ok {
			gs, err := conjunction(nested)
			if err != nil {
				return nil, err
			}
			groups = append(groups, gs...)
			continue
		}
		g, err := disjunction(c)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}
