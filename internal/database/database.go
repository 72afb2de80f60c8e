package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/errors"
)

// DB wraps the durable-store connection with pool management and the bulk
// helpers the cache and sink layers build on.
type DB struct {
	*sqlx.DB
	config *config.DatabaseConfig
}

// New creates a new database connection with a small fixed-size pool.
// Pool exhaustion blocks callers up to PoolTimeout and then fails rather
// than growing unbounded.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, errors.NewInternalError("failed to connect to database").WithCause(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to ping database").WithCause(err)
	}

	return &DB{
		DB:     db,
		config: cfg,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	if db.DB == nil {
		return errors.NewInternalError("database connection is nil")
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.NewInternalError("database health check failed").WithCause(err)
	}

	return nil
}

// Config returns the database configuration
func (db *DB) Config() *config.DatabaseConfig {
	return db.config
}

// Stats returns database connection statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// WithTransaction executes a function within a database transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.NewInternalError("failed to begin transaction").WithCause(err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.NewInternalError("failed to rollback transaction").
				WithCause(fmt.Errorf("original error: %v, rollback error: %v", err, rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternalError("failed to commit transaction").WithCause(err)
	}

	return nil
}

// QueryWithTimeout runs a row-returning query with the configured pool
// timeout bounding the whole read, streaming rows to fn. Pool exhaustion or
// a slow read surfaces as a timeout error instead of blocking indefinitely.
func (db *DB) QueryWithTimeout(ctx context.Context, query string, fn func(*sqlx.Rows) error, args ...interface{}) error {
	ctx, cancel := db.withPoolTimeout(ctx)
	defer cancel()

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.NewTimeoutError("database query")
		}
		return errors.NewInternalError("query execution failed").WithCause(err)
	}
	defer rows.Close()

	if err := fn(rows); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return errors.NewTimeoutError("database query")
		}
		return errors.NewInternalError("row iteration failed").WithCause(err)
	}
	return nil
}

// withPoolTimeout bounds an operation by PoolTimeout when one is configured.
func (db *DB) withPoolTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.config != nil && db.config.PoolTimeout > 0 {
		return context.WithTimeout(ctx, db.config.PoolTimeout)
	}
	return ctx, func() {}
}

// BulkUpsert performs a chunked multi-row INSERT ... ON CONFLICT DO UPDATE.
// conflictColumn names the unique key; every other column is overwritten on
// conflict (last-write-wins). Chunking keeps each statement under the
// backend's parameter limit; all chunks commit or roll back together so a
// partially written batch never becomes visible. The pool timeout bounds the
// whole write.
func (db *DB) BulkUpsert(ctx context.Context, table string, columns []string, conflictColumn string, values [][]interface{}, chunkSize int) error {
	if len(values) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = 500
	}

	ctx, cancel := db.withPoolTimeout(ctx)
	defer cancel()

	err := db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		for i := 0; i < len(values); i += chunkSize {
			end := i + chunkSize
			if end > len(values) {
				end = len(values)
			}
			if err := executeUpsert(ctx, tx, table, columns, conflictColumn, values[i:end]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError("bulk upsert")
	}
	return err
}

func executeUpsert(ctx context.Context, tx *sqlx.Tx, table string, columns []string, conflictColumn string, batch [][]interface{}) error {
	query, args := buildUpsertQuery(table, columns, conflictColumn, batch)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.NewInternalError("bulk upsert failed").WithCause(err)
	}
	return nil
}

func buildUpsertQuery(table string, columns []string, conflictColumn string, batch [][]interface{}) (string, []interface{}) {
	valueStrings := make([]string, len(batch))
	args := make([]interface{}, 0, len(batch)*len(columns))

	for i, row := range batch {
		placeholders := make([]string, len(columns))
		for j := range columns {
			placeholders[j] = fmt.Sprintf("$%d", len(args)+j+1)
		}
		valueStrings[i] = "(" + strings.Join(placeholders, ", ") + ")"
		args = append(args, row...)
	}

	updates := make([]string, 0, len(columns)-1)
	for _, col := range columns {
		if col == conflictColumn {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		strings.Join(valueStrings, ", "),
		conflictColumn,
		strings.Join(updates, ", "),
	)

	return query, args
}
