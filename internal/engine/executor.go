package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"duck-cube/internal/domain"
)

// Compile-time check.
var _ domain.RelationalExecutor = (*SQLExecutor)(nil)

// SQLExecutor wraps a *sql.DB (DuckDB or SQLite) to implement
// domain.RelationalExecutor. Queries are logged at debug level with their
// duration.
type SQLExecutor struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLExecutor creates a new SQLExecutor.
func NewSQLExecutor(db *sql.DB, logger *slog.Logger) *SQLExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLExecutor{db: db, logger: logger.With("component", "sql-executor")}
}

// Query runs a SELECT and returns every row. Any other statement is
// rejected.
func (e *SQLExecutor) Query(ctx context.Context, tenantID, sqlQuery string) (*domain.QueryResult, error) {
	if !readOnly(sqlQuery) {
		return nil, domain.ErrValidation("only SELECT statements can run against the fact source")
	}
	start := time.Now()
	rows, err := e.db.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	res, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	e.logger.Debug("query executed",
		"tenant", tenantID,
		"rows", res.RowCount,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func readOnly(sqlQuery string) bool {
	fields := strings.Fields(sqlQuery)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH":
		return true
	default:
		return false
	}
}

func scanRows(rows *sql.Rows) (*domain.QueryResult, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var resultRows [][]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// SQLite returns TEXT as []byte
		row := make([]interface{}, len(vals))
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &domain.QueryResult{
		Columns:  cols,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}
