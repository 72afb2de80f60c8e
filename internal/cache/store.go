package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leadforge/enrichd/internal/database"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/types"
)

// PostgresStore is the durable cache tier backed by one Postgres table per
// cache (person cache, litigator phone cache, DNC phone cache).
type PostgresStore struct {
	db        *database.DB
	table     string
	chunkSize int
}

// NewPostgresStore creates a durable store over the given table. The table
// carries (cache_key, payload, checked_at) with cache_key unique.
func NewPostgresStore(db *database.DB, table string, chunkSize int) *PostgresStore {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &PostgresStore{
		db:        db,
		table:     table,
		chunkSize: chunkSize,
	}
}

// GetBatch fetches entries for the given keys in one round trip.
func (s *PostgresStore) GetBatch(ctx context.Context, keys []string) (map[string]types.CacheEntry, error) {
	if len(keys) == 0 {
		return map[string]types.CacheEntry{}, nil
	}

	query := fmt.Sprintf(
		"SELECT cache_key, payload, checked_at FROM %s WHERE cache_key = ANY($1)",
		s.table,
	)

	entries := make(map[string]types.CacheEntry, len(keys))
	err := s.db.QueryWithTimeout(ctx, query, func(rows *sqlx.Rows) error {
		for rows.Next() {
			var entry types.CacheEntry
			if err := rows.StructScan(&entry); err != nil {
				return errors.NewInternalError("durable cache scan failed").WithCause(err)
			}
			entries[entry.Key] = entry
		}
		return nil
	}, pq.Array(keys))
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// PutBatch upserts entries keyed by cache_key, last write wins.
func (s *PostgresStore) PutBatch(ctx context.Context, entries []types.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([][]interface{}, len(entries))
	for i, entry := range entries {
		values[i] = []interface{}{entry.Key, entry.Payload, entry.CheckedAt}
	}

	return s.db.BulkUpsert(ctx, s.table,
		[]string{"cache_key", "payload", "checked_at"},
		"cache_key", values, s.chunkSize)
}

// ExistsBatch reports key presence without fetching payloads.
func (s *PostgresStore) ExistsBatch(ctx context.Context, keys []string) (map[string]bool, error) {
	if len(keys) == 0 {
		return map[string]bool{}, nil
	}

	query := fmt.Sprintf("SELECT cache_key FROM %s WHERE cache_key = ANY($1)", s.table)

	present := make(map[string]bool, len(keys))
	err := s.db.QueryWithTimeout(ctx, query, func(rows *sqlx.Rows) error {
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return errors.NewInternalError("durable cache scan failed").WithCause(err)
			}
			present[key] = true
		}
		return nil
	}, pq.Array(keys))
	if err != nil {
		return nil, err
	}

	return present, nil
}
