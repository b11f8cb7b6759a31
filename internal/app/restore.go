package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// RunInitSQL executes a SQL script against the fact database, for instance
// to create tables or views over parquet files before queries run. In-memory
// fact databases lose them on restart, so this runs at every startup.
func RunInitSQL(ctx context.Context, factDB *sql.DB, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		return fmt.Errorf("read init sql: %w", err)
	}
	script := strings.TrimSpace(string(data))
	if script == "" {
		return nil
	}
	if _, err := factDB.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("run init sql %s: %w", path, err)
	}
	logger.Info("init sql applied", "path", path)
	return nil
}
