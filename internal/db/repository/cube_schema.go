package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"duck-cube/internal/domain"
)

// Compile-time check.
var _ domain.CubeSchemaRepository = (*CubeSchemaRepo)(nil)

const cubeSchemaColumns = `id, tenant_id, name, definition, version, created_by, created_at, updated_at`

// CubeSchemaRepo implements CubeSchemaRepository using SQLite.
type CubeSchemaRepo struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// NewCubeSchemaRepo creates a new CubeSchemaRepo. readDB may be nil, in
// which case reads go through writeDB.
func NewCubeSchemaRepo(writeDB, readDB *sql.DB) *CubeSchemaRepo {
	if readDB == nil {
		readDB = writeDB
	}
	return &CubeSchemaRepo{writeDB: writeDB, readDB: readDB}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCubeSchema(row rowScanner) (*domain.CubeSchema, error) {
	var (
		s                    domain.CubeSchema
		createdAt, updatedAt string
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Definition, &s.Version, &s.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

// Create inserts a new cube schema at version 1.
func (r *CubeSchemaRepo) Create(ctx context.Context, s *domain.CubeSchema) (*domain.CubeSchema, error) {
	row := r.writeDB.QueryRowContext(ctx,
		`INSERT INTO cube_schemas (id, tenant_id, name, definition, version, created_by)
		 VALUES (?, ?, ?, ?, 1, ?)
		 RETURNING `+cubeSchemaColumns,
		uuid.NewString(), s.TenantID, s.Name, s.Definition, s.CreatedBy)
	created, err := scanCubeSchema(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return created, nil
}

// GetByID returns a cube schema by id.
func (r *CubeSchemaRepo) GetByID(ctx context.Context, id string) (*domain.CubeSchema, error) {
	row := r.readDB.QueryRowContext(ctx,
		`SELECT `+cubeSchemaColumns+` FROM cube_schemas WHERE id = ?`, id)
	s, err := scanCubeSchema(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return s, nil
}

// GetByName returns a tenant's cube schema by name.
func (r *CubeSchemaRepo) GetByName(ctx context.Context, tenantID, name string) (*domain.CubeSchema, error) {
	row := r.readDB.QueryRowContext(ctx,
		`SELECT `+cubeSchemaColumns+` FROM cube_schemas WHERE tenant_id = ? AND name = ?`, tenantID, name)
	s, err := scanCubeSchema(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return s, nil
}

// List returns a tenant's cube schemas ordered by name.
func (r *CubeSchemaRepo) List(ctx context.Context, tenantID string) ([]domain.CubeSchema, error) {
	rows, err := r.readDB.QueryContext(ctx,
		`SELECT `+cubeSchemaColumns+` FROM cube_schemas WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list cube schemas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.CubeSchema
	for rows.Next() {
		s, err := scanCubeSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cube schema: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateDefinition replaces the definition and bumps the version.
func (r *CubeSchemaRepo) UpdateDefinition(ctx context.Context, id, definition string) (*domain.CubeSchema, error) {
	row := r.writeDB.QueryRowContext(ctx,
		`UPDATE cube_schemas
		 SET definition = ?, version = version + 1,
		     updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?
		 RETURNING `+cubeSchemaColumns,
		definition, id)
	s, err := scanCubeSchema(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return s, nil
}

// Delete removes a cube schema.
func (r *CubeSchemaRepo) Delete(ctx context.Context, id string) error {
	res, err := r.writeDB.ExecContext(ctx, `DELETE FROM cube_schemas WHERE id = ?`, id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("cube schema %s not found", id)
	}
	return nil
}
