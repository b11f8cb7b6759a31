package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"duck-cube/internal/domain"
	"duck-cube/internal/service/cubes"
)

// SchemaName derives a schema name from a definition file path:
// "defs/clinical.yaml" becomes "clinical".
func SchemaName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SeedSchema registers the definition file under name for tenantID, or
// updates the stored definition when it differs. Idempotent.
func SeedSchema(ctx context.Context, svc *cubes.Service, tenantID, name, path string, logger *slog.Logger) (*domain.CubeSchema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("read cube definition: %w", err)
	}
	definition := string(data)

	existing, err := svc.GetSchema(ctx, tenantID, name)
	switch {
	case domain.IsNotFound(err):
		return svc.RegisterSchema(ctx, "cli", domain.CreateCubeSchemaRequest{
			TenantID:   tenantID,
			Name:       name,
			Definition: definition,
		})
	case err != nil:
		return nil, err
	case existing.Definition == definition:
		logger.Debug("cube schema unchanged", "tenant", tenantID, "schema", name, "version", existing.Version)
		return existing, nil
	default:
		return svc.UpdateSchema(ctx, tenantID, name, definition)
	}
}
