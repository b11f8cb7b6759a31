package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"duck-cube/internal/app"
	"duck-cube/internal/config"
	"duck-cube/internal/cube"
	"duck-cube/internal/domain"
	"duck-cube/internal/query"
)

// schemaFlags select the cube schema a command works on.
type schemaFlags struct {
	file    string // definition file registered before running
	name    string // schema name; defaults to the file's base name
	initSQL string // script run against the fact database first
}

func (f *schemaFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.file, "schema", "s", "", "Cube definition YAML file to register (or update) before running")
	fs.StringVarP(&f.name, "name", "n", "", "Registered schema name (default: base name of --schema)")
	fs.StringVar(&f.initSQL, "init-sql", "", "SQL script run against the fact database before querying")
}

func (f *schemaFlags) schemaName() (string, error) {
	if f.name != "" {
		return f.name, nil
	}
	if f.file != "" {
		return app.SchemaName(f.file), nil
	}
	return "", fmt.Errorf("one of --schema or --name is required")
}

// requestFlags build a query request from a JSON file or from shorthand
// axis flags.
type requestFlags struct {
	file      string
	rows      string
	columns   string
	filters   []string
	scope     []string
	measure   string
	showEmpty bool
}

func (f *requestFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.file, "request", "r", "", "JSON query request file ('-' reads stdin)")
	fs.StringVar(&f.rows, "rows", "", "Rows axis: a level ([H].[L]) or hierarchy ([H]) unique name")
	fs.StringVar(&f.columns, "columns", "", "Columns axis: a level or hierarchy unique name")
	fs.StringArrayVar(&f.filters, "filter", nil, "Filter member unique names, repeatable")
	fs.StringArrayVar(&f.scope, "scope", nil, "Scope member unique names, repeatable")
	fs.StringVar(&f.measure, "measure", "", "Measure name (default: the cube's count measure)")
	fs.BoolVar(&f.showEmpty, "show-empty", false, "Keep axis positions whose counts are all zero")
}

func (f *requestFlags) request(cmd *cobra.Command, stdin io.Reader) (*query.Request, error) {
	if f.file != "" {
		var (
			data []byte
			err  error
		)
		if f.file == "-" {
			if file, ok := stdin.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
				return nil, fmt.Errorf("--request - reads JSON from stdin, which is a terminal")
			}
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(f.file)
		}
		if err != nil {
			return nil, fmt.Errorf("read request: %w", err)
		}
		req, err := query.ParseRequest(data)
		if err != nil {
			return nil, err
		}
		if cmd.Flags().Changed("show-empty") {
			req.ShowEmpty = f.showEmpty
		}
		return req, nil
	}

	req := &query.Request{Measure: f.measure, ShowEmpty: f.showEmpty}
	var err error
	if req.Rows, err = axisExpr(f.rows); err != nil {
		return nil, err
	}
	if req.Columns, err = axisExpr(f.columns); err != nil {
		return nil, err
	}
	if req.Filters, err = filterExpr(f.filters); err != nil {
		return nil, err
	}
	if len(f.scope) > 0 {
		req.Scope = &query.Scope{Members: f.scope}
	}
	return req, req.Validate()
}

func axisExpr(name string) (*query.Expr, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	parts, err := cube.SplitUniqueName(name)
	if err != nil {
		return nil, domain.ErrValidation("%v", err)
	}
	switch len(parts) {
	case 1:
		return query.HierarchyMembers(name), nil
	case 2:
		return query.LevelMembers(name), nil
	default:
		return query.Members(name), nil
	}
}

// filterExpr groups filter members by hierarchy and cross-joins the groups.
func filterExpr(names []string) (*query.Expr, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var (
		order  []string
		groups = map[string][]string{}
	)
	for _, name := range names {
		name = strings.TrimSpace(name)
		parts, err := cube.SplitUniqueName(name)
		if err != nil {
			return nil, domain.ErrValidation("%v", err)
		}
		h := parts[0]
		if _, ok := groups[h]; !ok {
			order = append(order, h)
		}
		groups[h] = append(groups[h], name)
	}
	if len(order) == 1 {
		return query.Members(groups[order[0]]...), nil
	}
	args := make([]*query.Expr, len(order))
	for i, h := range order {
		args[i] = query.Members(groups[h]...)
	}
	return query.Apply(query.OpCrossJoin, args...), nil
}

// session is an opened application bound to one tenant.
type session struct {
	app    *app.App
	tenant string
}

// openSession opens the application, runs --init-sql and seeds --schema.
func openSession(cmd *cobra.Command, sf *schemaFlags) (*session, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	tenant, _ := cmd.Root().PersistentFlags().GetString("tenant")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &session{app: a, tenant: tenant}
	if sf.initSQL != "" {
		if err := app.RunInitSQL(ctx, a.FactDB, sf.initSQL, logger); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	if sf.file != "" {
		name, _ := sf.schemaName()
		if _, err := app.SeedSchema(ctx, a.Cubes, tenant, name, sf.file, logger); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *session) Close() error { return s.app.Close() }
