package compliance

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leadforge/enrichd/internal/database"
	"github.com/leadforge/enrichd/pkg/errors"
)

// DNCStore checks phones against the local, periodically-refreshed
// do-not-call denylist store. One membership query per chunk replaces N
// sequential single-phone lookups; this batching is the largest performance
// lever in the engine.
type DNCStore struct {
	db        *database.DB
	table     string
	chunkSize int
}

// NewDNCStore creates a DNC registry store over the given table. chunkSize
// respects the backend's query parameter cap.
func NewDNCStore(db *database.DB, table string, chunkSize int) *DNCStore {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &DNCStore{
		db:        db,
		table:     table,
		chunkSize: chunkSize,
	}
}

// CheckBatch returns a DNC flag per canonical phone.
func (s *DNCStore) CheckBatch(ctx context.Context, phones []string) (map[string]bool, error) {
	results := make(map[string]bool, len(phones))
	for _, phone := range phones {
		results[phone] = false
	}

	for i := 0; i < len(phones); i += s.chunkSize {
		end := i + s.chunkSize
		if end > len(phones) {
			end = len(phones)
		}

		query := fmt.Sprintf("SELECT phone FROM %s WHERE phone = ANY($1)", s.table)
		err := s.db.QueryWithTimeout(ctx, query, func(rows *sqlx.Rows) error {
			for rows.Next() {
				var phone string
				if err := rows.Scan(&phone); err != nil {
					return errors.NewInternalError("dnc registry scan failed").WithCause(err)
				}
				results[phone] = true
			}
			return nil
		}, pq.Array(phones[i:end]))
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}
