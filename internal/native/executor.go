package native

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"duck-cube/internal/cellset"
	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
)

// Executor answers native queries from a Store. Cell values are fact row
// counts.
type Executor struct {
	store  *Store
	logger *slog.Logger
}

// NewExecutor creates an executor over store.
func NewExecutor(store *Store, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: store, logger: logger.With("component", "native-executor")}
}

// ExecuteNative parses and runs text. Malformed queries and unknown names
// are validation errors.
func (e *Executor) ExecuteNative(ctx context.Context, text string) (*cellset.CellSet, error) {
	start := time.Now()
	stmt, err := Parse(text)
	if err != nil {
		return nil, domain.ErrValidation("%s", err.Error())
	}
	c := e.store.Cube()
	if stmt.Cube != c.Name {
		return nil, domain.ErrValidation("unknown cube [%s]", stmt.Cube)
	}

	slicer := e.store.All()
	if stmt.Where != nil {
		if slicer, err = e.rowsOf(stmt.Where); err != nil {
			return nil, err
		}
	}

	cols, err := e.tuples(stmt.Columns.Set)
	if err != nil {
		return nil, err
	}
	colRows := e.restrict(cols, slicer)

	var cs *cellset.CellSet
	if stmt.Rows == nil {
		cs, err = e.oneAxis(cols, colRows, stmt.Columns.NonEmpty)
	} else {
		var rows []tuple
		if rows, err = e.tuples(stmt.Rows.Set); err != nil {
			return nil, err
		}
		cs, err = e.twoAxes(cols, colRows, stmt.Columns.NonEmpty, rows, e.restrict(rows, nil), stmt.Rows.NonEmpty)
	}
	if err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "native query executed",
		"cells", cs.Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return cs, nil
}

type tuple []*cube.Member

func (t tuple) key() string {
	parts := make([]string, len(t))
	for i, m := range t {
		parts[i] = m.UniqueName()
	}
	return strings.Join(parts, ",")
}

func (e *Executor) oneAxis(cols []tuple, colRows []*roaring.Bitmap, nonEmpty bool) (*cellset.CellSet, error) {
	var (
		positions []cellset.Position
		cells     []cellset.Cell
	)
	for i, t := range cols {
		n := colRows[i].GetCardinality()
		if nonEmpty && n == 0 {
			continue
		}
		positions = append(positions, cellset.Position{Members: t})
		cells = append(cells, cellset.Cell{Value: int64(n), Valid: true})
	}
	return cellset.New(cellset.NewTupleAxis(positions), cellset.SyntheticAxis(), cells)
}

func (e *Executor) twoAxes(cols []tuple, colRows []*roaring.Bitmap, colsNonEmpty bool, rows []tuple, rowRows []*roaring.Bitmap, rowsNonEmpty bool) (*cellset.CellSet, error) {
	grid := make([][]int64, len(rows))
	colTotals := make([]int64, len(cols))
	rowTotals := make([]int64, len(rows))
	for r := range rows {
		grid[r] = make([]int64, len(cols))
		for c := range cols {
			n := int64(rowRows[r].AndCardinality(colRows[c]))
			grid[r][c] = n
			colTotals[c] += n
			rowTotals[r] += n
		}
	}

	keepCols := keep(colTotals, colsNonEmpty)
	keepRows := keep(rowTotals, rowsNonEmpty)

	colPositions := make([]cellset.Position, 0, len(keepCols))
	for _, c := range keepCols {
		colPositions = append(colPositions, cellset.Position{Members: cols[c]})
	}
	rowPositions := make([]cellset.Position, 0, len(keepRows))
	cells := make([]cellset.Cell, 0, len(keepRows)*len(keepCols))
	for _, r := range keepRows {
		rowPositions = append(rowPositions, cellset.Position{Members: rows[r]})
		for _, c := range keepCols {
			cells = append(cells, cellset.Cell{Value: grid[r][c], Valid: true})
		}
	}
	return cellset.New(cellset.NewTupleAxis(colPositions), cellset.NewTupleAxis(rowPositions), cells)
}

func keep(totals []int64, nonEmpty bool) []int {
	out := make([]int, 0, len(totals))
	for i, n := range totals {
		if nonEmpty && n == 0 {
			continue
		}
		out = append(out, i)
	}
	return out
}

// restrict returns the rows of every tuple, intersected with slicer when
// it is non-nil.
func (e *Executor) restrict(ts []tuple, slicer *roaring.Bitmap) []*roaring.Bitmap {
	out := make([]*roaring.Bitmap, len(ts))
	for i, t := range ts {
		bms := make([]*roaring.Bitmap, 0, len(t)+1)
		for _, m := range t {
			bms = append(bms, e.store.RowsOf(m))
		}
		if slicer != nil {
			bms = append(bms, slicer)
		}
		switch len(bms) {
		case 0:
			out[i] = e.store.All()
		case 1:
			out[i] = bms[0].Clone()
		default:
			out[i] = roaring.FastAnd(bms...)
		}
	}
	return out
}

// tuples expands a set into its ordered, duplicate-free tuples.
func (e *Executor) tuples(s SetExpr) ([]tuple, error) {
	var out []tuple
	switch v := s.(type) {
	case MemberRef:
		m, err := e.member(v)
		if err != nil {
			return nil, err
		}
		out = []tuple{{m}}
	case LevelMembers:
		l, err := e.level(v)
		if err != nil {
			return nil, err
		}
		for _, m := range l.Members() {
			out = append(out, tuple{m})
		}
	case HierarchyMembers:
		h, ok := e.store.Cube().LookupHierarchy(v.Hierarchy)
		if !ok {
			return nil, domain.ErrValidation("unknown hierarchy [%s]", v.Hierarchy)
		}
		for _, m := range h.Members() {
			out = append(out, tuple{m})
		}
	case SetLiteral:
		for _, item := range v.Items {
			ts, err := e.tuples(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ts...)
		}
	case CrossJoin:
		out = []tuple{{}}
		for _, arg := range v.Args {
			ts, err := e.tuples(arg)
			if err != nil {
				return nil, err
			}
			next := make([]tuple, 0, len(out)*len(ts))
			for _, left := range out {
				for _, right := range ts {
					t := make(tuple, 0, len(left)+len(right))
					t = append(append(t, left...), right...)
					next = append(next, t)
				}
			}
			out = next
		}
	default:
		return nil, fmt.Errorf("native: unsupported set expression %T", s)
	}
	return dedupe(out), nil
}

func dedupe(ts []tuple) []tuple {
	seen := make(map[string]bool, len(ts))
	out := ts[:0]
	for _, t := range ts {
		k := t.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, t)
	}
	return out
}

// rowsOf evaluates a slicer set to the fact rows it selects without
// expanding cross joins: a set is the union of its items and a cross join
// is the intersection of its arguments.
func (e *Executor) rowsOf(s SetExpr) (*roaring.Bitmap, error) {
	switch v := s.(type) {
	case MemberRef:
		m, err := e.member(v)
		if err != nil {
			return nil, err
		}
		return e.store.RowsOf(m).Clone(), nil
	case LevelMembers:
		l, err := e.level(v)
		if err != nil {
			return nil, err
		}
		return e.union(l.Members()), nil
	case HierarchyMembers:
		h, ok := e.store.Cube().LookupHierarchy(v.Hierarchy)
		if !ok {
			return nil, domain.ErrValidation("unknown hierarchy [%s]", v.Hierarchy)
		}
		return e.union(h.Members()), nil
	case SetLiteral:
		out := roaring.New()
		for _, item := range v.Items {
			bm, err := e.rowsOf(item)
			if err != nil {
				return nil, err
			}
			out.Or(bm)
		}
		return out, nil
	case CrossJoin:
		out := e.store.All()
		for _, arg := range v.Args {
			bm, err := e.rowsOf(arg)
			if err != nil {
				return nil, err
			}
			out.And(bm)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("native: unsupported set expression %T", s)
	}
}

func (e *Executor) union(ms []*cube.Member) *roaring.Bitmap {
	bms := make([]*roaring.Bitmap, 0, len(ms))
	for _, m := range ms {
		bms = append(bms, e.store.RowsOf(m))
	}
	if len(bms) == 0 {
		return roaring.New()
	}
	return roaring.FastOr(bms...)
}

func (e *Executor) member(ref MemberRef) (*cube.Member, error) {
	name := cube.Bracket(ref.Parts[0]) + "." + cube.Bracket(ref.Parts[1]) + "." + cube.Bracket(ref.Parts[2])
	m, ok := e.store.Cube().LookupMember(name)
	if !ok {
		return nil, domain.ErrValidation("unknown member %s", name)
	}
	return m, nil
}

func (e *Executor) level(ref LevelMembers) (*cube.Level, error) {
	name := cube.Bracket(ref.Hierarchy) + "." + cube.Bracket(ref.Level)
	l, ok := e.store.Cube().LookupLevel(name)
	if !ok {
		return nil, domain.ErrValidation("unknown level %s", name)
	}
	return l, nil
}
