// Package warehouse connects to the source warehouse the candidate selector
// reads from. The selector only depends on the Querier interface, so tests
// can substitute a fake row source.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	sf "github.com/snowflakedb/gosnowflake"

	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/logging"
)

// Querier executes an arbitrary read query against the source warehouse.
type Querier interface {
	Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

// Snowflake is the production source warehouse connection.
type Snowflake struct {
	db     *sqlx.DB
	config *config.WarehouseConfig
	logger *logging.Logger
}

// NewSnowflake opens a Snowflake connection pool for candidate selection.
func NewSnowflake(ctx context.Context, cfg *config.WarehouseConfig) (*Snowflake, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("warehouse configuration is required")
	}

	logger := logging.GetLogger()

	sfConfig := &sf.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
		Role:      cfg.Role,
	}

	dsn, err := sf.DSN(sfConfig)
	if err != nil {
		return nil, errors.NewInternalError("failed to build warehouse DSN").WithCause(err)
	}

	db, err := sqlx.Open("snowflake", dsn)
	if err != nil {
		return nil, errors.NewInternalError("failed to open warehouse connection").WithCause(err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.NewInternalError("failed to ping warehouse").WithCause(err)
	}

	if cfg.QueryTimeout > 0 {
		stmt := fmt.Sprintf("ALTER SESSION SET STATEMENT_TIMEOUT_IN_SECONDS = %d", int(cfg.QueryTimeout.Seconds()))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Warn("Failed to set warehouse statement timeout", "error", err.Error())
		}
	}

	logger.Info("Connected to source warehouse",
		"account", cfg.Account,
		"database", cfg.Database,
		"warehouse", cfg.Warehouse,
	)

	return &Snowflake{
		db:     db,
		config: cfg,
		logger: logger,
	}, nil
}

// Query executes a read query. The session statement timeout set at connect
// time bounds long-running queries.
func (s *Snowflake) Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewExternalError("warehouse", "source query failed").WithCause(err)
	}
	return rows, nil
}

// Health checks the warehouse connection
func (s *Snowflake) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewInternalError("warehouse health check failed").WithCause(err)
	}
	return nil
}

// Close closes the warehouse connection pool
func (s *Snowflake) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
