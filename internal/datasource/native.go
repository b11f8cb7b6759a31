package datasource

import (
	"context"
	"fmt"
	"log/slog"

	"duck-cube/internal/cellset"
	"duck-cube/internal/cube"
	"duck-cube/internal/memberset"
	"duck-cube/internal/result"
)

// NativeExecutor runs a native cube query. Implemented by native.Executor.
type NativeExecutor interface {
	ExecuteNative(ctx context.Context, text string) (*cellset.CellSet, error)
}

// nativeBackend renders results to the native query language and reads the
// non-empty cells of the returned grid.
type nativeBackend struct {
	cube   *cube.Cube
	exec   NativeExecutor
	logger *slog.Logger
}

func newNativeBackend(deps Deps) (Backend, error) {
	if deps.Native == nil {
		return nil, fmt.Errorf("native source requires a native executor")
	}
	return &nativeBackend{cube: deps.Cube, exec: deps.Native, logger: deps.logger("native")}, nil
}

func (b *nativeBackend) from() string { return " FROM " + cube.Bracket(b.cube.Name) }

func (b *nativeBackend) Exists(ctx context.Context, outer *cube.Level, sub result.Result) (*memberset.Set, error) {
	return b.columns(ctx, outer, levelMembers(outer)+" ON COLUMNS"+b.from()+" WHERE "+sub.QueryFragment())
}

func (b *nativeBackend) Where(ctx context.Context, outer *cube.Level, cross *result.Cross) (*memberset.Set, error) {
	return b.columns(ctx, outer, levelMembers(outer)+" ON COLUMNS"+b.from()+" WHERE "+cross.QueryFragment())
}

func (b *nativeBackend) Pairs(ctx context.Context, outer, inner *cube.Level, innerMembers []*cube.Member) (map[*cube.Member]*memberset.Set, error) {
	rows := levelMembers(inner)
	if innerMembers != nil {
		rows = "NON EMPTY " + result.NewExplicitSet(memberset.New(innerMembers...)).QueryFragment()
	}
	text := "SELECT NON EMPTY " + levelMembers(outer) + " ON COLUMNS, " + rows + " ON ROWS" + b.from()
	cs, err := b.run(ctx, text)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cs.Close() }()

	cols := b.relinkAxis(ctx, outer, cs.ColumnAxis())
	out := map[*cube.Member]*memberset.Set{}
	for r, rm := range b.relinkAxis(ctx, inner, cs.RowAxis()) {
		if rm == nil {
			continue
		}
		set := memberset.New()
		for c, cm := range cols {
			if cm == nil {
				continue
			}
			cell, err := cs.CellAt(r, c)
			if err != nil {
				return nil, err
			}
			if cell.Valid && cell.Value != 0 {
				set.Add(cm)
			}
		}
		out[rm] = set
	}
	return out, nil
}

// columns runs "SELECT NON EMPTY <axis>" and returns the column members with
// a non-zero cell.
func (b *nativeBackend) columns(ctx context.Context, outer *cube.Level, axisAndSlicer string) (*memberset.Set, error) {
	cs, err := b.run(ctx, "SELECT NON EMPTY "+axisAndSlicer)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cs.Close() }()

	out := memberset.New()
	for i, m := range b.relinkAxis(ctx, outer, cs.ColumnAxis()) {
		if m == nil {
			continue
		}
		cell, err := cs.Cell(i)
		if err != nil {
			return nil, err
		}
		if cell.Valid && cell.Value != 0 {
			out.Add(m)
		}
	}
	return out, nil
}

func (b *nativeBackend) run(ctx context.Context, text string) (*cellset.CellSet, error) {
	cs, err := b.exec.ExecuteNative(ctx, text)
	if err != nil {
		b.logger.ErrorContext(ctx, "native query failed", "query", text, "error", err)
		return nil, fmt.Errorf("native existence query: %w", err)
	}
	return cs, nil
}

// relinkAxis maps axis members onto level. Unknown members are reported and
// left nil.
func (b *nativeBackend) relinkAxis(ctx context.Context, level *cube.Level, axis cellset.Axis) []*cube.Member {
	ms := axis.Members()
	out := make([]*cube.Member, len(ms))
	for i, m := range ms {
		if m == nil {
			continue
		}
		linked, ok := relink(level, m)
		if !ok {
			b.logger.WarnContext(ctx, "unknown member in native result", "level", level.UniqueName(), "member", m.UniqueName())
			continue
		}
		out[i] = linked
	}
	return out
}

func levelMembers(l *cube.Level) string { return l.UniqueName() + ".members" }
