// Package engine runs enrichment jobs end to end: candidate selection,
// batched identity lookup, denylist screening and persistence.
package engine

import (
	"context"

	"github.com/leadforge/enrichd/internal/selector"
	"github.com/leadforge/enrichd/pkg/types"
)

// Job describes one enrichment run.
type Job struct {
	// SourceQuery selects candidate rows from the warehouse. Column names
	// are matched heuristically, so any projection carrying name and
	// address columns works.
	SourceQuery string `json:"source_query"`

	// Limit caps how many new candidates the run processes. Zero means
	// unlimited.
	Limit int `json:"limit"`

	// Description is carried into logs and progress events.
	Description string `json:"description,omitempty"`
}

// CandidateSelector pulls deduplicated candidates from the source warehouse.
type CandidateSelector interface {
	Select(ctx context.Context, sourceQuery string, limit int) ([]types.Candidate, selector.Stats, error)
}

// Enricher resolves a batch of candidates to contact data. Results are
// positional: results[i] corresponds to candidates[i].
type Enricher interface {
	LookupBatch(ctx context.Context, candidates []types.Candidate) ([]types.EnrichmentResult, error)
}

// ComplianceChecker screens canonical phone numbers against the external
// denylist registries.
type ComplianceChecker interface {
	CheckLitigator(ctx context.Context, phones []string) (map[string]bool, error)
	CheckDNC(ctx context.Context, phones []string) (map[string]bool, error)
}

// BlacklistSource loads the static blocked-number set at run start.
type BlacklistSource interface {
	LoadBlacklist(ctx context.Context) (map[string]struct{}, error)
}
