package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LookupStatus describes the outcome of a single identity lookup.
type LookupStatus string

const (
	LookupStatusSuccess     LookupStatus = "success"
	LookupStatusError       LookupStatus = "error"
	LookupStatusCircuitOpen LookupStatus = "circuit_open"
)

// JobStatus describes the lifecycle state of an enrichment run.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Candidate is one row pulled from the source warehouse: the identity fields
// used for lookup plus arbitrary pass-through columns preserved on output.
type Candidate struct {
	FirstName string                 `json:"first_name"`
	LastName  string                 `json:"last_name"`
	Address   string                 `json:"address"`
	City      string                 `json:"city"`
	State     string                 `json:"state"`
	Zip       string                 `json:"zip"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// IdentityKey returns the deterministic dedup/cache key for the candidate.
// Identical normalized identity fields always hash to the same key.
func (c Candidate) IdentityKey() string {
	parts := []string{c.FirstName, c.LastName, c.Address, c.City, c.State, c.Zip}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// HasName reports whether the candidate carries the minimum identity fields
// required for enrichment.
func (c Candidate) HasName() bool {
	return strings.TrimSpace(c.FirstName) != "" && strings.TrimSpace(c.LastName) != ""
}

// EnrichmentResult holds the contact data found for one candidate.
type EnrichmentResult struct {
	IdentityKey string       `json:"identity_key"`
	Phones      []PhoneValue `json:"phones,omitempty"`
	Emails      []string     `json:"emails,omitempty"`
	Status      LookupStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
}

// FirstPhone returns the first phone of the result, if any.
func (r *EnrichmentResult) FirstPhone() (PhoneValue, bool) {
	if r == nil || len(r.Phones) == 0 {
		return PhoneValue{}, false
	}
	return r.Phones[0], true
}

// ComplianceFlags holds the denylist screening outcome for one record.
// PhoneDNC positions correspond to the record's phones in order.
type ComplianceFlags struct {
	InLitigatorList bool    `json:"in_litigator_list"`
	PhoneDNC        [3]bool `json:"phone_dnc"`
}

// AnyDNC reports whether any of the record's phones is on the DNC registry.
func (f ComplianceFlags) AnyDNC() bool {
	return f.PhoneDNC[0] || f.PhoneDNC[1] || f.PhoneDNC[2]
}

// CacheEntry is one row of the durable lookup cache, keyed by identity key
// (person cache) or canonical phone (phone cache).
type CacheEntry struct {
	Key       string    `json:"key" db:"cache_key"`
	Payload   []byte    `json:"payload" db:"payload"`
	CheckedAt time.Time `json:"checked_at" db:"checked_at"`
}

// EnrichedRecord is a candidate with its lookup result and compliance flags
// merged on, ready for the result sink.
type EnrichedRecord struct {
	Candidate  Candidate        `json:"candidate"`
	Enrichment EnrichmentResult `json:"enrichment"`
	Flags      ComplianceFlags  `json:"flags"`
}

// JobStats aggregates per-run record counts.
type JobStats struct {
	Processed int `json:"processed"`
	Clean     int `json:"clean"`
	Litigator int `json:"litigator"`
	DNC       int `json:"dnc"`
	Both      int `json:"both"`
	Errored   int `json:"errored"`
	Skipped   int `json:"skipped"`
}

// JobRun is the orchestration-level state of one enrichment run.
type JobRun struct {
	ID           uuid.UUID  `json:"id"`
	Status       JobStatus  `json:"status"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	BatchIndex   int        `json:"batch_index"`
	BatchCount   int        `json:"batch_count"`
	Stats        JobStats   `json:"stats"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Terminal reports whether the run has reached a final state.
func (j *JobRun) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ProgressEvent is one fire-and-forget progress notification.
type ProgressEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	RowsDone   int       `json:"rows_done"`
	RowsTotal  int       `json:"rows_total"`
	BatchIndex int       `json:"batch_index"`
	BatchCount int       `json:"batch_count"`
	Percent    float64   `json:"percent"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
