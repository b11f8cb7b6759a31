// Package cubes provides the cube schema registry and the query entry point
// of the cube engine.
package cubes

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"duck-cube/internal/cache"
	"duck-cube/internal/cellset"
	"duck-cube/internal/cube"
	"duck-cube/internal/datasource"
	"duck-cube/internal/domain"
	"duck-cube/internal/engine"
	"duck-cube/internal/native"
	"duck-cube/internal/query"
	"duck-cube/internal/rolap"
)

// Options configures a Service.
type Options struct {
	DataSource       string // datasource kind, default native
	PrefetchLimit    int
	NullMemberCompat bool
	Logger           *slog.Logger
}

// loaded is a cube compiled from one schema version.
type loaded struct {
	version int64
	engine  *engine.Engine
}

// Service registers cube schemas and answers queries against them. Cubes
// are compiled lazily and memoized per schema version.
type Service struct {
	repo  domain.CubeSchemaRepository
	exec  domain.RelationalExecutor
	cache *cache.Cache
	opts  Options

	logger *slog.Logger
	mu     sync.RWMutex
	cubes  map[string]*loaded // by schema id
	gen    uint64             // bumped by every invalidation, guarded by mu
	loads  singleflight.Group
}

// NewService creates a new cube Service.
func NewService(repo domain.CubeSchemaRepository, exec domain.RelationalExecutor, rc *cache.Cache, opts Options) *Service {
	if opts.DataSource == "" {
		opts.DataSource = datasource.KindNative
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		exec:   exec,
		cache:  rc,
		opts:   opts,
		logger: logger.With("component", "cube-service"),
		cubes:  map[string]*loaded{},
	}
}

// ParseDefinition parses and checks a YAML cube definition, including its
// relational mapping. Failures are validation errors.
func ParseDefinition(text string) (*cube.Definition, *rolap.Descriptor, error) {
	def, err := cube.ParseDefinition([]byte(text))
	if err != nil {
		return nil, nil, domain.ErrValidation("%s", err.Error())
	}
	desc, err := rolap.NewDescriptor(def)
	if err != nil {
		return nil, nil, domain.ErrValidation("%s", err.Error())
	}
	b, err := def.Compile()
	if err != nil {
		return nil, nil, domain.ErrValidation("%s", err.Error())
	}
	if _, err := b.Build(); err != nil {
		return nil, nil, domain.ErrValidation("%s", err.Error())
	}
	return def, desc, nil
}

// RegisterSchema stores a new cube schema for a tenant.
func (s *Service) RegisterSchema(ctx context.Context, principal string, req domain.CreateCubeSchemaRequest) (*domain.CubeSchema, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, _, err := ParseDefinition(req.Definition); err != nil {
		return nil, err
	}
	created, err := s.repo.Create(ctx, &domain.CubeSchema{
		TenantID:   req.TenantID,
		Name:       req.Name,
		Definition: req.Definition,
		CreatedBy:  principal,
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cube schema registered", "tenant", req.TenantID, "schema", created.Name, "id", created.ID)
	return created, nil
}

// GetSchema returns a tenant's schema by name.
func (s *Service) GetSchema(ctx context.Context, tenantID, name string) (*domain.CubeSchema, error) {
	return s.repo.GetByName(ctx, tenantID, name)
}

// ListSchemas returns a tenant's schemas.
func (s *Service) ListSchemas(ctx context.Context, tenantID string) ([]domain.CubeSchema, error) {
	return s.repo.List(ctx, tenantID)
}

// UpdateSchema replaces a schema definition. Cached results of the schema
// are dropped.
func (s *Service) UpdateSchema(ctx context.Context, tenantID, name, definition string) (*domain.CubeSchema, error) {
	if _, _, err := ParseDefinition(definition); err != nil {
		return nil, err
	}
	current, err := s.repo.GetByName(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateDefinition(ctx, current.ID, definition)
	if err != nil {
		return nil, err
	}
	n := s.forget(current.ID)
	s.logger.InfoContext(ctx, "cube schema updated", "tenant", tenantID, "schema", name, "version", updated.Version, "evicted", n)
	return updated, nil
}

// DeleteSchema removes a schema and its cached results.
func (s *Service) DeleteSchema(ctx context.Context, tenantID, name string) error {
	current, err := s.repo.GetByName(ctx, tenantID, name)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, current.ID); err != nil {
		return err
	}
	n := s.forget(current.ID)
	s.logger.InfoContext(ctx, "cube schema deleted", "tenant", tenantID, "schema", name, "evicted", n)
	return nil
}

// InvalidateTenant drops every cached result of a tenant, for instance
// after its fact data changed. Compiled cubes are dropped too, since their
// loaded members may be stale.
func (s *Service) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	schemas, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.gen++
	for _, sc := range schemas {
		delete(s.cubes, sc.ID)
	}
	s.mu.Unlock()
	if s.cache == nil {
		return 0, nil
	}
	n := s.cache.InvalidateTenant(tenantID)
	s.logger.InfoContext(ctx, "tenant invalidated", "tenant", tenantID, "evicted", n)
	return n, nil
}

// InvalidateAll drops every cached result and compiled cube.
func (s *Service) InvalidateAll() int {
	s.mu.Lock()
	s.gen++
	s.cubes = map[string]*loaded{}
	s.mu.Unlock()
	if s.cache == nil {
		return 0
	}
	n := s.cache.InvalidateAll()
	s.logger.Info("result cache cleared", "evicted", n)
	return n
}

func (s *Service) forget(schemaID string) int {
	s.mu.Lock()
	s.gen++
	delete(s.cubes, schemaID)
	s.mu.Unlock()
	if s.cache == nil {
		return 0
	}
	return s.cache.InvalidateSchema(schemaID)
}

// Query evaluates req against a tenant's schema. The caller closes the
// returned cell set.
func (s *Service) Query(ctx context.Context, tenantID, schemaName string, req *query.Request) (*cellset.CellSet, error) {
	eng, ctx, err := s.resolve(ctx, tenantID, schemaName)
	if err != nil {
		return nil, err
	}
	return eng.Execute(ctx, req)
}

// Explain resolves req against a tenant's schema without computing cells.
func (s *Service) Explain(ctx context.Context, tenantID, schemaName string, req *query.Request) (*engine.Plan, error) {
	eng, ctx, err := s.resolve(ctx, tenantID, schemaName)
	if err != nil {
		return nil, err
	}
	return eng.Explain(ctx, req)
}

func (s *Service) resolve(ctx context.Context, tenantID, schemaName string) (*engine.Engine, context.Context, error) {
	if tenantID == "" {
		return nil, nil, domain.ErrValidation("tenant_id is required")
	}
	sc, err := s.repo.GetByName(ctx, tenantID, schemaName)
	if err != nil {
		return nil, nil, err
	}
	eng, err := s.engine(ctx, sc)
	if err != nil {
		return nil, nil, err
	}
	return eng, domain.WithTenant(ctx, domain.ContextTenant{TenantID: tenantID, SchemaID: sc.ID}), nil
}

// engine returns the memoized engine of the schema version, compiling it
// at most once across concurrent callers.
func (s *Service) engine(ctx context.Context, sc *domain.CubeSchema) (*engine.Engine, error) {
	s.mu.RLock()
	l, ok := s.cubes[sc.ID]
	gen := s.gen
	s.mu.RUnlock()
	if ok && l.version == sc.Version {
		return l.engine, nil
	}

	// A compile begun before an invalidation is not memoized, and callers
	// arriving after it start their own.
	key := strconv.FormatUint(gen, 10) + "#" + sc.ID + "@" + strconv.FormatInt(sc.Version, 10)
	v, err, _ := s.loads.Do(key, func() (interface{}, error) {
		eng, err := s.compile(ctx, sc)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			s.logger.DebugContext(ctx, "cube invalidated during compile", "tenant", sc.TenantID, "schema", sc.Name)
			return eng, nil
		}
		if cur, ok := s.cubes[sc.ID]; !ok || cur.version < sc.Version {
			s.cubes[sc.ID] = &loaded{version: sc.Version, engine: eng}
		}
		s.mu.Unlock()
		return eng, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*engine.Engine), nil
}

func (s *Service) compile(ctx context.Context, sc *domain.CubeSchema) (*engine.Engine, error) {
	start := time.Now()
	def, desc, err := ParseDefinition(sc.Definition)
	if err != nil {
		return nil, err
	}
	b, err := def.Compile()
	if err != nil {
		return nil, domain.ErrValidation("%s", err.Error())
	}
	b.SetVersion(strconv.FormatInt(sc.Version, 10))
	if !def.HasExplicitMembers() {
		if err := desc.LoadMembers(ctx, s.exec, sc.TenantID, b, s.logger); err != nil {
			return nil, fmt.Errorf("load members of %s: %w", sc.Name, err)
		}
	}
	c, err := b.Build()
	if err != nil {
		return nil, domain.ErrValidation("%s", err.Error())
	}

	deps := datasource.Deps{
		Cube:             c,
		Descriptor:       desc,
		Relational:       s.exec,
		Cache:            s.cache,
		Logger:           s.logger,
		PrefetchLimit:    s.opts.PrefetchLimit,
		NullMemberCompat: s.opts.NullMemberCompat,
	}
	if s.opts.DataSource == datasource.KindNative {
		store, err := native.Load(ctx, s.exec, sc.TenantID, desc, c, s.logger)
		if err != nil {
			return nil, fmt.Errorf("load native store of %s: %w", sc.Name, err)
		}
		deps.Native = native.NewExecutor(store, s.logger)
	}
	source, err := datasource.New(s.opts.DataSource, deps)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "cube compiled",
		"tenant", sc.TenantID,
		"cube", c.Identity(),
		"source", source.Kind(),
		"duration_ms", time.Since(start).Milliseconds())
	return engine.New(c, source, s.logger), nil
}

// WarmUp compiles every schema of a tenant concurrently. Schemas that fail
// to compile are logged and skipped.
func (s *Service) WarmUp(ctx context.Context, tenantID string) error {
	schemas, err := s.repo.List(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list cube schemas: %w", err)
	}
	if len(schemas) == 0 {
		s.logger.InfoContext(ctx, "no cube schemas registered", "tenant", tenantID)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range schemas {
		sc := schemas[i]
		g.Go(func() error {
			if _, err := s.engine(gctx, &sc); err != nil {
				s.logger.WarnContext(gctx, "cube warm-up failed", "tenant", tenantID, "schema", sc.Name, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("warm up cubes: %w", err)
	}
	s.logger.InfoContext(ctx, "cube warm-up complete", "tenant", tenantID, "total", len(schemas))
	return nil
}

// Compiled reports how many cubes are currently compiled.
func (s *Service) Compiled() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cubes)
}
