package engine

import (
	"context"
	"log/slog"

	"duck-cube/internal/cellset"
	"duck-cube/internal/cube"
	"duck-cube/internal/datasource"
	"duck-cube/internal/domain"
	"duck-cube/internal/memberset"
	"duck-cube/internal/result"
)

// GridOptions controls one grid evaluation.
type GridOptions struct {
	// Scope restricts counting to the measure-level members below these
	// container members.
	Scope []*cube.Member
	// ShowEmpty keeps axis positions whose counts are all zero.
	ShowEmpty bool
}

// GridEvaluator computes count-distinct cells: the number of measure-level
// members co-occurring with a row member, a column member and the filter.
type GridEvaluator struct {
	measure *cube.Measure
	source  datasource.Source
	logger  *slog.Logger
}

// NewGridEvaluator creates a grid evaluator for one measure.
func NewGridEvaluator(measure *cube.Measure, source datasource.Source, logger *slog.Logger) *GridEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GridEvaluator{measure: measure, source: source, logger: logger.With("component", "grid-evaluator")}
}

// Evaluate builds the grid. rows or cols may be nil but not both; filter
// may be nil.
func (g *GridEvaluator) Evaluate(ctx context.Context, rows, cols, filter result.Result, opts GridOptions) (*cellset.CellSet, error) {
	if g.measure == nil || g.measure.Level == nil {
		return nil, domain.ErrValidation("no distinct-counting level for the measure")
	}
	level := g.measure.Level
	if rows == nil && cols == nil {
		return nil, domain.ErrValidation("query needs a rows or columns axis")
	}

	filterSet, err := g.filter(ctx, level, filter, opts.Scope)
	if err != nil {
		return nil, err
	}

	for _, axis := range []result.Result{rows, cols} {
		if axis == nil {
			continue
		}
		if err := g.source.PopulateCache(ctx, level, axis); err != nil {
			return nil, err
		}
	}

	switch {
	case rows == nil:
		members, cells, err := g.oneAxis(ctx, level, cols, filterSet, opts.ShowEmpty)
		if err != nil {
			return nil, err
		}
		return cellset.New(cellset.NewAxis(members), cellset.SyntheticAxis(), cells)
	case cols == nil:
		members, cells, err := g.oneAxis(ctx, level, rows, filterSet, opts.ShowEmpty)
		if err != nil {
			return nil, err
		}
		return cellset.New(cellset.SyntheticAxis(), cellset.NewAxis(members), cells)
	default:
		return g.twoAxes(ctx, level, rows, cols, filterSet, opts.ShowEmpty)
	}
}

// filter intersects the per-hierarchy filter constraints and the scope at
// the measure level. A nil set means unfiltered, including when the
// constraints admit the whole level.
func (g *GridEvaluator) filter(ctx context.Context, level *cube.Level, filter result.Result, scope []*cube.Member) (*memberset.Set, error) {
	var sets []*memberset.Set
	if filter != nil {
		for _, part := range conjuncts(filter) {
			s, err := g.reduce(ctx, level, part)
			if err != nil {
				return nil, err
			}
			sets = append(sets, s)
		}
	}
	if len(scope) > 0 {
		s := memberset.New()
		for _, m := range scope {
			found, err := g.source.LevelMembersQuery(ctx, level, m)
			if err != nil {
				return nil, err
			}
			s.AddAll(found)
		}
		sets = append(sets, s)
	}
	if len(sets) == 0 {
		return nil, nil
	}
	fs := memberset.Intersect(sets...)
	if fs.Equal(memberset.FromLevel(level)) {
		g.logger.DebugContext(ctx, "filter admits the whole measure level", "level", level.UniqueName())
		return nil, nil
	}
	return fs, nil
}

// conjuncts splits a cross into its per-hierarchy parts.
func conjuncts(r result.Result) []result.Result {
	cross, ok := r.(*result.Cross)
	if !ok {
		return []result.Result{r}
	}
	var out []result.Result
	for _, c := range cross.Children {
		out = append(out, conjuncts(c)...)
	}
	return out
}

// reduce maps one filter constraint onto the measure level: structurally
// within the measure's hierarchy, through the data source otherwise.
func (g *GridEvaluator) reduce(ctx context.Context, level *cube.Level, r result.Result) (*memberset.Set, error) {
	if r.Hierarchy() != level.Hierarchy() {
		return g.source.MembersQuery(ctx, result.NewLevelSet(level), r)
	}
	coll, err := r.Collection()
	if err != nil {
		return nil, err
	}
	out := memberset.New()
	for _, m := range coll.Members() {
		if m.Level().Depth() <= level.Depth() {
			out.AddMembers(m.DescendantsAt(level))
		} else if a, ok := m.AncestorAt(level); ok {
			out.Add(a)
		}
	}
	return out, nil
}

func (g *GridEvaluator) count(s, filterSet *memberset.Set) int64 {
	if filterSet == nil {
		return int64(s.Len())
	}
	return int64(memberset.IntersectCount(s, filterSet))
}

func (g *GridEvaluator) oneAxis(ctx context.Context, level *cube.Level, axis result.Result, filterSet *memberset.Set, showEmpty bool) ([]*cube.Member, []cellset.Cell, error) {
	coll, err := axis.Collection()
	if err != nil {
		return nil, nil, err
	}
	var (
		members []*cube.Member
		cells   []cellset.Cell
	)
	for _, m := range coll.Members() {
		s, err := g.source.LevelMembersQuery(ctx, level, m)
		if err != nil {
			return nil, nil, err
		}
		n := g.count(s, filterSet)
		if n == 0 && !showEmpty {
			continue
		}
		members = append(members, m)
		cells = append(cells, cellset.Cell{Value: n, Valid: true})
	}
	return members, cells, nil
}

func (g *GridEvaluator) twoAxes(ctx context.Context, level *cube.Level, rows, cols result.Result, filterSet *memberset.Set, showEmpty bool) (*cellset.CellSet, error) {
	rowColl, err := rows.Collection()
	if err != nil {
		return nil, err
	}
	colColl, err := cols.Collection()
	if err != nil {
		return nil, err
	}
	rowMembers, colMembers := rowColl.Members(), colColl.Members()

	colSets := make([]*memberset.Set, len(colMembers))
	counts := make([][]int64, len(rowMembers))
	rowTotals := make([]int64, len(rowMembers))
	colTotals := make([]int64, len(colMembers))
	for r, rm := range rowMembers {
		rowSet, err := g.source.LevelMembersQuery(ctx, level, rm)
		if err != nil {
			return nil, err
		}
		counts[r] = make([]int64, len(colMembers))
		for c, cm := range colMembers {
			if colSets[c] == nil {
				if colSets[c], err = g.source.LevelMembersQuery(ctx, level, cm); err != nil {
					return nil, err
				}
			}
			var n int64
			if filterSet == nil {
				n = int64(memberset.IntersectCount(rowSet, colSets[c]))
			} else {
				n = int64(memberset.IntersectCount3(rowSet, colSets[c], filterSet))
			}
			counts[r][c] = n
			rowTotals[r] += n
			colTotals[c] += n
		}
	}

	keptRows := nonEmpty(rowTotals, showEmpty)
	keptCols := nonEmpty(colTotals, showEmpty)
	rowAxis := make([]*cube.Member, 0, len(keptRows))
	colAxis := make([]*cube.Member, 0, len(keptCols))
	for _, c := range keptCols {
		colAxis = append(colAxis, colMembers[c])
	}
	cells := make([]cellset.Cell, 0, len(keptRows)*len(keptCols))
	for _, r := range keptRows {
		rowAxis = append(rowAxis, rowMembers[r])
		for _, c := range keptCols {
			cells = append(cells, cellset.Cell{Value: counts[r][c], Valid: true})
		}
	}
	return cellset.New(cellset.NewAxis(colAxis), cellset.NewAxis(rowAxis), cells)
}

func nonEmpty(totals []int64, showEmpty bool) []int {
	out := make([]int, 0, len(totals))
	for i, n := range totals {
		if n == 0 && !showEmpty {
			continue
		}
		out = append(out, i)
	}
	return out
}
