// Package testutil provides shared fixtures and mock implementations of
// domain interfaces for use in tests across the codebase. This follows the
// Go convention of a shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"

	"duck-cube/internal/cellset"
	"duck-cube/internal/domain"
)

// === Relational Executor Mock ===

// MockRelationalExecutor implements domain.RelationalExecutor for testing.
type MockRelationalExecutor struct {
	QueryFn func(ctx context.Context, tenantID, sqlQuery string) (*domain.QueryResult, error)

	mu      sync.Mutex
	Queries []string // collected queries for assertions
}

// Query implements the interface method for testing.
func (m *MockRelationalExecutor) Query(ctx context.Context, tenantID, sqlQuery string) (*domain.QueryResult, error) {
	m.mu.Lock()
	m.Queries = append(m.Queries, sqlQuery)
	m.mu.Unlock()
	if m.QueryFn != nil {
		return m.QueryFn(ctx, tenantID, sqlQuery)
	}
	panic("unexpected call to MockRelationalExecutor.Query")
}

// Calls returns the number of queries seen.
func (m *MockRelationalExecutor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Queries)
}

// Rows builds a QueryResult from literal rows.
func Rows(columns []string, rows ...[]interface{}) *domain.QueryResult {
	return &domain.QueryResult{Columns: columns, Rows: rows, RowCount: len(rows)}
}

// === Native Executor Mock ===

// MockNativeExecutor implements datasource.NativeExecutor for testing.
type MockNativeExecutor struct {
	ExecuteNativeFn func(ctx context.Context, text string) (*cellset.CellSet, error)
	Queries         []string
}

// ExecuteNative implements the interface method for testing.
func (m *MockNativeExecutor) ExecuteNative(ctx context.Context, text string) (*cellset.CellSet, error) {
	m.Queries = append(m.Queries, text)
	if m.ExecuteNativeFn != nil {
		return m.ExecuteNativeFn(ctx, text)
	}
	panic("unexpected call to MockNativeExecutor.ExecuteNative")
}

// === Cube Schema Repository Mock ===

// MockCubeSchemaRepo implements domain.CubeSchemaRepository for testing.
type MockCubeSchemaRepo struct {
	CreateFn           func(ctx context.Context, s *domain.CubeSchema) (*domain.CubeSchema, error)
	GetByIDFn          func(ctx context.Context, id string) (*domain.CubeSchema, error)
	GetByNameFn        func(ctx context.Context, tenantID, name string) (*domain.CubeSchema, error)
	ListFn             func(ctx context.Context, tenantID string) ([]domain.CubeSchema, error)
	UpdateDefinitionFn func(ctx context.Context, id, definition string) (*domain.CubeSchema, error)
	DeleteFn           func(ctx context.Context, id string) error
}

// Create implements the interface method for testing.
func (m *MockCubeSchemaRepo) Create(ctx context.Context, s *domain.CubeSchema) (*domain.CubeSchema, error) {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, s)
	}
	panic("unexpected call to MockCubeSchemaRepo.Create")
}

// GetByID implements the interface method for testing.
func (m *MockCubeSchemaRepo) GetByID(ctx context.Context, id string) (*domain.CubeSchema, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	panic("unexpected call to MockCubeSchemaRepo.GetByID")
}

// GetByName implements the interface method for testing.
func (m *MockCubeSchemaRepo) GetByName(ctx context.Context, tenantID, name string) (*domain.CubeSchema, error) {
	if m.GetByNameFn != nil {
		return m.GetByNameFn(ctx, tenantID, name)
	}
	panic("unexpected call to MockCubeSchemaRepo.GetByName")
}

// List implements the interface method for testing.
func (m *MockCubeSchemaRepo) List(ctx context.Context, tenantID string) ([]domain.CubeSchema, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, tenantID)
	}
	panic("unexpected call to MockCubeSchemaRepo.List")
}

// UpdateDefinition implements the interface method for testing.
func (m *MockCubeSchemaRepo) UpdateDefinition(ctx context.Context, id, definition string) (*domain.CubeSchema, error) {
	if m.UpdateDefinitionFn != nil {
		return m.UpdateDefinitionFn(ctx, id, definition)
	}
	panic("unexpected call to MockCubeSchemaRepo.UpdateDefinition")
}

// Delete implements the interface method for testing.
func (m *MockCubeSchemaRepo) Delete(ctx context.Context, id string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	panic("unexpected call to MockCubeSchemaRepo.Delete")
}
