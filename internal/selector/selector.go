// Package selector pulls enrichable candidates from the source warehouse.
// The caller-provided query is treated as an opaque row source; the selector
// detects identity columns from the result schema, drops rows missing the
// minimum identity fields, and filters out identities already present in the
// durable cache. The limit applies to rows surviving both filters.
package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadforge/enrichd/internal/warehouse"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/types"
)

// DedupProbe reports which identity keys already exist in the durable cache.
type DedupProbe interface {
	ExistsBatch(ctx context.Context, keys []string) (map[string]bool, error)
}

// Stats counts rows seen and dropped during selection.
type Stats struct {
	Scanned      int `json:"scanned"`
	MissingName  int `json:"missing_name"`
	Deduplicated int `json:"deduplicated"`
	Selected     int `json:"selected"`
}

// Selector builds and issues dedup-aware candidate queries.
type Selector struct {
	source     warehouse.Querier
	dedup      DedupProbe
	probeChunk int
	logger     *logging.Logger
}

// New creates a candidate selector. probeChunk bounds the number of keys per
// dedup round trip.
func New(source warehouse.Querier, dedup DedupProbe, probeChunk int) *Selector {
	if probeChunk <= 0 {
		probeChunk = 500
	}
	return &Selector{
		source:     source,
		dedup:      dedup,
		probeChunk: probeChunk,
		logger:     logging.GetLogger(),
	}
}

// columnMap holds the detected positions of the identity columns.
type columnMap struct {
	first, last, address, city, state, zip int
	names                                  []string
}

// rowSource is the subset of sqlx.Rows the collection loop consumes.
type rowSource interface {
	Columns() ([]string, error)
	Next() bool
	SliceScan() ([]interface{}, error)
	Err() error
}

// Select streams candidates from the source query, returning up to limit
// processable new rows. limit <= 0 means no limit.
func (s *Selector) Select(ctx context.Context, sourceQuery string, limit int) ([]types.Candidate, Stats, error) {
	rows, err := s.source.Query(ctx, sourceQuery)
	if err != nil {
		return nil, Stats{}, errors.NewSelectorError("source query failed").WithCause(err)
	}
	defer rows.Close()

	return s.collect(ctx, rows, limit)
}

// collect drives the scan/filter/dedup loop. The limit counts rows that
// survive both the name filter and the dedup probe, so dropped rows never
// consume it.
func (s *Selector) collect(ctx context.Context, rows rowSource, limit int) ([]types.Candidate, Stats, error) {
	var stats Stats

	columns, err := rows.Columns()
	if err != nil {
		return nil, stats, errors.NewSelectorError("failed to read source schema").WithCause(err)
	}

	cols, err := detectColumns(columns)
	if err != nil {
		return nil, stats, err
	}

	var selected []types.Candidate
	var pending []types.Candidate

	flush := func() error {
		kept, deduped, err := s.filterExisting(ctx, pending)
		if err != nil {
			return err
		}
		stats.Deduplicated += deduped
		for _, cand := range kept {
			if limit > 0 && len(selected) >= limit {
				break
			}
			selected = append(selected, cand)
		}
		pending = pending[:0]
		return nil
	}

	for rows.Next() {
		if limit > 0 && len(selected) >= limit {
			break
		}

		values, err := rows.SliceScan()
		if err != nil {
			return nil, stats, errors.NewSelectorError("failed to scan source row").WithCause(err)
		}
		stats.Scanned++

		cand := buildCandidate(cols, values)
		if !cand.HasName() {
			stats.MissingName++
			continue
		}

		pending = append(pending, cand)
		if len(pending) >= s.probeChunk {
			if err := flush(); err != nil {
				return nil, stats, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, stats, errors.NewSelectorError("source row iteration failed").WithCause(err)
	}

	if len(pending) > 0 {
		if err := flush(); err != nil {
			return nil, stats, err
		}
	}

	stats.Selected = len(selected)

	s.logger.Info("Candidate selection finished",
		"scanned", stats.Scanned,
		"missing_name", stats.MissingName,
		"deduplicated", stats.Deduplicated,
		"selected", stats.Selected,
	)

	return selected, stats, nil
}

// filterExisting drops candidates whose identity key is already cached.
func (s *Selector) filterExisting(ctx context.Context, candidates []types.Candidate) ([]types.Candidate, int, error) {
	if len(candidates) == 0 {
		return nil, 0, nil
	}

	keys := make([]string, len(candidates))
	for i, cand := range candidates {
		keys[i] = cand.IdentityKey()
	}

	existing, err := s.dedup.ExistsBatch(ctx, keys)
	if err != nil {
		return nil, 0, errors.NewInternalError("dedup probe failed").WithCause(err)
	}

	kept := make([]types.Candidate, 0, len(candidates))
	deduped := 0
	for i, cand := range candidates {
		if existing[keys[i]] {
			deduped++
			continue
		}
		kept = append(kept, cand)
	}

	return kept, deduped, nil
}

// detectColumns maps result-schema column names onto identity fields by
// case-insensitive substring match.
func detectColumns(columns []string) (columnMap, error) {
	cols := columnMap{first: -1, last: -1, address: -1, city: -1, state: -1, zip: -1, names: columns}

	for i, name := range columns {
		lower := strings.ToLower(name)
		switch {
		case cols.first < 0 && strings.Contains(lower, "first"):
			cols.first = i
		case cols.last < 0 && strings.Contains(lower, "last"):
			cols.last = i
		case cols.address < 0 && (strings.Contains(lower, "address") || strings.Contains(lower, "addr")):
			cols.address = i
		case cols.city < 0 && strings.Contains(lower, "city"):
			cols.city = i
		case cols.state < 0 && strings.Contains(lower, "state"):
			cols.state = i
		case cols.zip < 0 && (strings.Contains(lower, "zip") || strings.Contains(lower, "postal")):
			cols.zip = i
		}
	}

	if cols.address < 0 {
		return cols, errors.NewSelectorError(
			fmt.Sprintf("no address-like column in source schema %v", columns))
	}
	if cols.first < 0 || cols.last < 0 {
		return cols, errors.NewSelectorError(
			fmt.Sprintf("no first/last name columns in source schema %v", columns))
	}

	return cols, nil
}

// buildCandidate maps one scanned row onto a Candidate, preserving unmapped
// columns as pass-through values.
func buildCandidate(cols columnMap, values []interface{}) types.Candidate {
	identityIdx := map[int]struct{}{
		cols.first: {}, cols.last: {}, cols.address: {},
		cols.city: {}, cols.state: {}, cols.zip: {},
	}

	cand := types.Candidate{
		FirstName: stringAt(values, cols.first),
		LastName:  stringAt(values, cols.last),
		Address:   stringAt(values, cols.address),
		City:      stringAt(values, cols.city),
		State:     stringAt(values, cols.state),
		Zip:       stringAt(values, cols.zip),
	}

	for i, name := range cols.names {
		if _, ok := identityIdx[i]; ok {
			continue
		}
		if cand.Extra == nil {
			cand.Extra = make(map[string]interface{})
		}
		cand.Extra[name] = normalizeValue(values[i])
	}

	return cand
}

func stringAt(values []interface{}, idx int) string {
	if idx < 0 || idx >= len(values) {
		return ""
	}
	switch v := values[idx].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
