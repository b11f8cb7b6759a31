package query

import (
	"context"
	"log/slog"

	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/memberset"
	"duck-cube/internal/result"
)

// MembersQuerier answers membership sub-queries. Implemented by
// datasource.Strategy.
type MembersQuerier interface {
	MembersQuery(ctx context.Context, outer, sub result.Result) (*memberset.Set, error)
}

// Evaluator turns expression trees into results against one cube.
type Evaluator struct {
	cube   *cube.Cube
	source MembersQuerier
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. source may be nil when no expression
// carries a membership sub-query.
func NewEvaluator(c *cube.Cube, source MembersQuerier, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cube: c, source: source, logger: logger.With("component", "query-evaluator")}
}

// Evaluate evaluates x bottom-up. Malformed trees and unknown names are
// validation errors.
func (e *Evaluator) Evaluate(ctx context.Context, x *Expr) (result.Result, error) {
	if x == nil {
		return nil, domain.ErrValidation("empty expression")
	}
	if x.Op == OpMembers {
		return e.members(ctx, x)
	}

	switch len(x.Arguments) {
	case 0:
		return nil, domain.ErrValidation("%s needs at least one argument", x.Op)
	case 1:
		return e.Evaluate(ctx, x.Arguments[0])
	}
	args := make([]result.Result, len(x.Arguments))
	for i, a := range x.Arguments {
		r, err := e.Evaluate(ctx, a)
		if err != nil {
			return nil, err
		}
		args[i] = r
	}

	switch x.Op {
	case OpCrossJoin, OpXIntersect:
		return crossJoin(x.Op, args)
	case OpIntersect:
		return intersect(args)
	case OpUnion:
		return union(args)
	default:
		return nil, domain.ErrValidation("unknown operator %q", x.Op)
	}
}

func (e *Evaluator) members(ctx context.Context, x *Expr) (result.Result, error) {
	var outer result.Result
	switch {
	case len(x.Members) > 0:
		set := memberset.New()
		for _, name := range x.Members {
			m, ok := e.cube.LookupMember(name)
			if !ok {
				return nil, domain.ErrValidation("unknown member %s", name)
			}
			set.Add(m)
		}
		outer = result.NewExplicitSet(set)
	case x.Level != "":
		l, ok := e.cube.LookupLevel(x.Level)
		if !ok {
			return nil, domain.ErrValidation("unknown level %s", x.Level)
		}
		outer = result.NewLevelSet(l)
	case x.Hierarchy != "":
		h, ok := e.cube.LookupHierarchy(x.Hierarchy)
		if !ok {
			return nil, domain.ErrValidation("unknown hierarchy %s", x.Hierarchy)
		}
		if !x.Children {
			outer = result.NewHierarchySet(h)
			break
		}
		top := h.TopLevel()
		if top == nil {
			return nil, domain.ErrValidation("hierarchy %s has no levels", x.Hierarchy)
		}
		outer = result.NewLevelSet(top)
	default:
		return nil, domain.ErrValidation("MEMBERS needs members, a level or a hierarchy")
	}

	if x.Membership == nil {
		return outer, nil
	}
	if e.source == nil {
		return nil, domain.ErrValidation("membership sub-queries need a data source")
	}
	sub, err := e.Evaluate(ctx, x.Membership)
	if err != nil {
		return nil, err
	}
	set, err := e.source.MembersQuery(ctx, outer, sub)
	if err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "membership resolved",
		"outer", outer.QueryFragment(),
		"sub", sub.QueryFragment(),
		"members", set.Len())
	return result.NewExplicitSet(set), nil
}

// crossJoin partitions args by level. Under XINTERSECT, arguments sharing a
// level are intersected into one set; everything else is carried into the
// cross as is. A single remaining part is returned unwrapped.
func crossJoin(op Op, args []result.Result) (result.Result, error) {
	type part struct {
		items []result.Result
	}
	var parts []*part
	byLevel := map[*cube.Level]*part{}
	for _, r := range args {
		l := r.Level()
		if op == OpCrossJoin || l == nil {
			parts = append(parts, &part{items: []result.Result{r}})
			continue
		}
		if p, ok := byLevel[l]; ok {
			p.items = append(p.items, r)
			continue
		}
		p := &part{items: []result.Result{r}}
		byLevel[l] = p
		parts = append(parts, p)
	}

	out := make([]result.Result, 0, len(parts))
	for _, p := range parts {
		if len(p.items) == 1 {
			out = append(out, p.items[0])
			continue
		}
		merged, err := intersectCollections(p.items)
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return result.NewCross(out...), nil
}

func intersect(args []result.Result) (result.Result, error) {
	for _, r := range args {
		if !result.IsSetLike(r) {
			return nil, domain.ErrValidation("INTERSECT argument %s is not a member set", r.QueryFragment())
		}
	}
	return intersectCollections(args)
}

func intersectCollections(args []result.Result) (result.Result, error) {
	sets := make([]*memberset.Set, len(args))
	for i, r := range args {
		s, err := r.Collection()
		if err != nil {
			return nil, err
		}
		sets[i] = s
	}
	return result.NewExplicitSet(memberset.Intersect(sets...)), nil
}

// union collapses arguments of one hierarchy into a single set and wraps
// anything else in a Union.
func union(args []result.Result) (result.Result, error) {
	h := args[0].Hierarchy()
	for _, r := range args[1:] {
		if h == nil || r.Hierarchy() != h {
			return result.NewUnion(args...), nil
		}
	}
	if h == nil {
		return result.NewUnion(args...), nil
	}
	sets := make([]*memberset.Set, len(args))
	for i, r := range args {
		s, err := r.Collection()
		if err != nil {
			return nil, err
		}
		sets[i] = s
	}
	return result.NewExplicitSet(memberset.Union(sets...)), nil
}
