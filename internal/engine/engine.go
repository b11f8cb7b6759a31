// Package engine evaluates cube queries: it resolves the measure, evaluates
// the axis and filter expressions, and computes the count-distinct grid
// through a data source strategy. It also adapts *sql.DB to the relational
// executor port.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"duck-cube/internal/cellset"
	"duck-cube/internal/cube"
	"duck-cube/internal/datasource"
	"duck-cube/internal/domain"
	"duck-cube/internal/query"
	"duck-cube/internal/result"
)

// Engine executes query requests against one cube.
type Engine struct {
	cube   *cube.Cube
	source datasource.Source
	exprs  *query.Evaluator
	logger *slog.Logger
}

// New creates an engine answering through source.
func New(c *cube.Cube, source datasource.Source, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cube:   c,
		source: source,
		exprs:  query.NewEvaluator(c, source, logger),
		logger: logger.With("component", "engine"),
	}
}

// Plan is a request resolved against the cube: the measure and the result
// algebra of every axis, rendered as native query fragments.
type Plan struct {
	Measure string   `json:"measure"`
	Level   string   `json:"level"`
	Rows    string   `json:"rows,omitempty"`
	Columns string   `json:"columns,omitempty"`
	Filters string   `json:"filters,omitempty"`
	Scope   []string `json:"scope,omitempty"`

	rows, cols, filters result.Result
	measure             *cube.Measure
	scope               []*cube.Member
}

// Explain resolves req without running any existence query beyond those
// needed by membership sub-queries.
func (e *Engine) Explain(ctx context.Context, req *query.Request) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := &Plan{}

	var ok bool
	if req.Measure != "" {
		p.measure, ok = e.cube.LookupMeasure(req.Measure)
		if !ok {
			return nil, domain.ErrValidation("unknown measure %q", req.Measure)
		}
	} else if p.measure, ok = e.cube.DefaultMeasure(); !ok {
		return nil, domain.ErrValidation("cube %s has no count measure", e.cube.Name)
	}
	if p.measure.Level == nil {
		return nil, domain.ErrValidation("measure %s has no distinct-counting level", p.measure.Name)
	}
	p.Measure = p.measure.Name
	p.Level = p.measure.Level.UniqueName()

	var err error
	if p.rows, p.Rows, err = e.axis(ctx, req.Rows); err != nil {
		return nil, err
	}
	if p.cols, p.Columns, err = e.axis(ctx, req.Columns); err != nil {
		return nil, err
	}
	if p.filters, p.Filters, err = e.axis(ctx, req.Filters); err != nil {
		return nil, err
	}
	if req.Scope != nil {
		for _, name := range req.Scope.Members {
			m, ok := e.cube.LookupMember(name)
			if !ok {
				return nil, domain.ErrValidation("unknown scope member %s", name)
			}
			p.scope = append(p.scope, m)
			p.Scope = append(p.Scope, m.UniqueName())
		}
	}
	return p, nil
}

func (e *Engine) axis(ctx context.Context, x *query.Expr) (result.Result, string, error) {
	if x == nil {
		return nil, "", nil
	}
	r, err := e.exprs.Evaluate(ctx, x)
	if err != nil {
		return nil, "", err
	}
	return r, r.QueryFragment(), nil
}

// Execute runs req and returns the grid. The caller closes it.
func (e *Engine) Execute(ctx context.Context, req *query.Request) (*cellset.CellSet, error) {
	start := time.Now()
	id := uuid.NewString()
	p, err := e.Explain(ctx, req)
	if err != nil {
		return nil, err
	}
	grid := NewGridEvaluator(p.measure, e.source, e.logger)
	cs, err := grid.Evaluate(ctx, p.rows, p.cols, p.filters, GridOptions{Scope: p.scope, ShowEmpty: req.ShowEmpty})
	if err != nil {
		e.logger.WarnContext(ctx, "query failed", "evaluation_id", id, "cube", e.cube.Identity(), "error", err)
		return nil, err
	}
	e.logger.InfoContext(ctx, "query evaluated",
		"evaluation_id", id,
		"cube", e.cube.Identity(),
		"measure", p.Measure,
		"rows", cs.RowAxis().Len(),
		"columns", cs.ColumnAxis().Len(),
		"duration_ms", time.Since(start).Milliseconds())
	return cs, nil
}
