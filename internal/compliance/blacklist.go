// Package compliance screens phone numbers against the static blacklist and
// the two external denylist registries (litigator, DNC).
package compliance

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/leadforge/enrichd/internal/database"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/metrics"
	"github.com/leadforge/enrichd/pkg/types"
)

// Blacklist is the static blocked-number set, loaded once per job from the
// durable blocklist store. Blocked phones are never sent to the compliance
// services; they are flagged as litigators directly.
type Blacklist struct {
	phones  map[string]struct{}
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// BlacklistLoader loads the blocked-number set from the durable store.
type BlacklistLoader interface {
	LoadBlacklist(ctx context.Context) (map[string]struct{}, error)
}

// LoadBlacklist builds a Blacklist from the loader.
func LoadBlacklist(ctx context.Context, loader BlacklistLoader, m *metrics.Metrics) (*Blacklist, error) {
	phones, err := loader.LoadBlacklist(ctx)
	if err != nil {
		return nil, err
	}

	logger := logging.GetLogger()
	logger.Info("Loaded phone blacklist", "size", len(phones))

	return &Blacklist{
		phones:  phones,
		logger:  logger,
		metrics: m,
	}, nil
}

// NewBlacklist builds a Blacklist from an in-memory set. Used by tests and
// by callers that pre-seed the blocked set.
func NewBlacklist(phones map[string]struct{}, m *metrics.Metrics) *Blacklist {
	if phones == nil {
		phones = map[string]struct{}{}
	}
	return &Blacklist{
		phones:  phones,
		logger:  logging.GetLogger(),
		metrics: m,
	}
}

// Contains reports whether the canonical phone is blacklisted.
func (b *Blacklist) Contains(canonical string) bool {
	_, ok := b.phones[canonical]
	return ok
}

// Len returns the size of the blocked set.
func (b *Blacklist) Len() int {
	return len(b.phones)
}

// FilterOut splits phones into those allowed to proceed to the compliance
// services and those blocked by the static blacklist.
func (b *Blacklist) FilterOut(phones []types.PhoneValue) (allowed, blocked []types.PhoneValue) {
	for _, phone := range phones {
		if phone.IsZero() {
			continue
		}
		if b.Contains(phone.Canonical) {
			blocked = append(blocked, phone)
		} else {
			allowed = append(allowed, phone)
		}
	}

	if len(blocked) > 0 && b.metrics != nil && b.metrics.BlacklistHitsTotal != nil {
		b.metrics.BlacklistHitsTotal.Add(float64(len(blocked)))
	}

	return allowed, blocked
}

// PostgresBlacklistLoader reads the blocked set from the durable store.
type PostgresBlacklistLoader struct {
	db    *database.DB
	table string
}

// NewPostgresBlacklistLoader creates a loader over the given table. The
// table carries one canonical phone per row.
func NewPostgresBlacklistLoader(db *database.DB, table string) *PostgresBlacklistLoader {
	return &PostgresBlacklistLoader{db: db, table: table}
}

// LoadBlacklist fetches the full blocked-number set.
func (l *PostgresBlacklistLoader) LoadBlacklist(ctx context.Context) (map[string]struct{}, error) {
	query := fmt.Sprintf("SELECT phone FROM %s", l.table)

	phones := make(map[string]struct{})
	err := l.db.QueryWithTimeout(ctx, query, func(rows *sqlx.Rows) error {
		for rows.Next() {
			var phone string
			if err := rows.Scan(&phone); err != nil {
				return errors.NewInternalError("blacklist scan failed").WithCause(err)
			}
			phones[types.CanonicalPhone(phone)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return phones, nil
}
