package domain

import (
	"context"
	"time"
	"unicode/utf8"
)

// QueryResult holds the structured output of a relational query.
type QueryResult struct {
	Columns  []string
	Rows     [][]interface{}
	RowCount int
}

// RelationalExecutor runs a SELECT against the relational fact source on
// behalf of a tenant. Implemented by engine.SQLExecutor.
type RelationalExecutor interface {
	Query(ctx context.Context, tenantID, sqlQuery string) (*QueryResult, error)
}

// MaxSchemaNameLength bounds cube schema names.
const MaxSchemaNameLength = 128

// CubeSchema is a stored cube definition owned by a tenant.
// Version increments on every update and is part of the cube identity.
type CubeSchema struct {
	ID         string
	TenantID   string
	Name       string
	Definition string // YAML cube definition
	Version    int64
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CreateCubeSchemaRequest holds parameters for registering a cube schema.
type CreateCubeSchemaRequest struct {
	TenantID   string
	Name       string
	Definition string
}

// Validate checks required fields.
func (r *CreateCubeSchemaRequest) Validate() error {
	if r.TenantID == "" {
		return ErrValidation("tenant_id is required")
	}
	if r.Name == "" {
		return ErrValidation("name is required")
	}
	if utf8.RuneCountInString(r.Name) > MaxSchemaNameLength {
		return ErrValidation("name must be <= %d characters", MaxSchemaNameLength)
	}
	if r.Definition == "" {
		return ErrValidation("definition is required")
	}
	return nil
}

// CubeSchemaRepository persists cube schemas in the metastore.
type CubeSchemaRepository interface {
	Create(ctx context.Context, s *CubeSchema) (*CubeSchema, error)
	GetByID(ctx context.Context, id string) (*CubeSchema, error)
	GetByName(ctx context.Context, tenantID, name string) (*CubeSchema, error)
	List(ctx context.Context, tenantID string) ([]CubeSchema, error)
	UpdateDefinition(ctx context.Context, id, definition string) (*CubeSchema, error)
	Delete(ctx context.Context, id string) error
}
