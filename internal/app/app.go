// Package app provides application-level wiring and dependency injection
// for the cube engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"duck-cube/internal/cache"
	"duck-cube/internal/config"
	"duck-cube/internal/datasource"
	"duck-cube/internal/db"
	"duck-cube/internal/db/repository"
	"duck-cube/internal/engine"
	"duck-cube/internal/service/cubes"
)

// Deps holds the external dependencies that main() must provide.
// These are things the app package cannot (or should not) create itself:
// database handles, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	FactDB  *sql.DB // fact and dimension tables
	WriteDB *sql.DB // metastore write pool
	ReadDB  *sql.DB // metastore read pool
	Logger  *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Cubes    *cubes.Service
	Cache    *cache.Cache
	Executor *engine.SQLExecutor
	FactDB   *sql.DB

	closers []func() error
}

// New wires the repository, result cache, executor and cube service from
// the provided deps.
func New(deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !slices.Contains(datasource.Kinds(), cfg.DataSource) {
		return nil, fmt.Errorf("CUBE_DATA_SOURCE must be one of %s, got %q", strings.Join(datasource.Kinds(), ", "), cfg.DataSource)
	}

	schemaRepo := repository.NewCubeSchemaRepo(deps.WriteDB, deps.ReadDB)
	rc := cache.New(cache.Config{
		TTL:          cfg.CacheTTL,
		MaxKeyLength: cfg.CacheMaxKeyLength,
		MaxBytes:     cfg.CacheMaxBytes,
	}, logger)
	exec := engine.NewSQLExecutor(deps.FactDB, logger)
	svc := cubes.NewService(schemaRepo, exec, rc, cubes.Options{
		DataSource:       cfg.DataSource,
		PrefetchLimit:    cfg.PrefetchLimit,
		NullMemberCompat: cfg.NullMemberCompat,
		Logger:           logger,
	})

	logger.Info("cube engine wired",
		"data_source", cfg.DataSource,
		"data_driver", cfg.DataDriver,
		"cache_ttl", cfg.CacheTTL.String(),
		"prefetch_limit", cfg.PrefetchLimit)
	return &App{Cubes: svc, Cache: rc, Executor: exec, FactDB: deps.FactDB}, nil
}

// Open opens the fact database and the metastore named by cfg and wires
// the application. Close releases both.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	factDB, err := db.OpenFactDB(cfg.DataDriver, cfg.DataDBPath)
	if err != nil {
		return nil, err
	}
	writeDB, readDB, err := db.OpenMetastore(cfg.MetaDBPath, 4)
	if err != nil {
		_ = factDB.Close()
		return nil, fmt.Errorf("open metastore: %w", err)
	}
	a, err := New(Deps{Cfg: cfg, FactDB: factDB, WriteDB: writeDB, ReadDB: readDB, Logger: logger})
	if err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		_ = factDB.Close()
		return nil, err
	}
	a.closers = []func() error{readDB.Close, writeDB.Close, factDB.Close}
	if err := ctx.Err(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the databases opened by Open.
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
