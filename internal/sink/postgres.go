// Package sink persists enriched records. Writes happen per batch so a
// cancelled or failed run keeps everything written up to that point.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/leadforge/enrichd/internal/database"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/types"
)

// ResultSink receives finished batches from the orchestrator.
type ResultSink interface {
	WriteBatch(ctx context.Context, jobID string, records []types.EnrichedRecord) error
}

var resultColumns = []string{
	"identity_key",
	"job_id",
	"first_name",
	"last_name",
	"address",
	"city",
	"state",
	"zip",
	"phone1",
	"phone2",
	"phone3",
	"emails",
	"in_litigator_list",
	"phone1_dnc",
	"phone2_dnc",
	"phone3_dnc",
	"lookup_status",
	"lookup_error",
	"enriched_at",
}

// PostgresSink writes enriched records with an upsert keyed on identity,
// so re-running a job overwrites rather than duplicates.
type PostgresSink struct {
	db        *database.DB
	table     string
	chunkSize int
	logger    *logging.Logger
}

// NewPostgresSink creates a result sink writing to the given table.
func NewPostgresSink(db *database.DB, table string, chunkSize int) *PostgresSink {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &PostgresSink{
		db:        db,
		table:     table,
		chunkSize: chunkSize,
		logger:    logging.GetLogger(),
	}
}

// WriteBatch persists one batch of enriched records.
func (s *PostgresSink) WriteBatch(ctx context.Context, jobID string, records []types.EnrichedRecord) error {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	values := make([][]interface{}, 0, len(records))
	for i := range records {
		row, err := s.buildRow(jobID, &records[i], now)
		if err != nil {
			s.logger.Warn("Skipping unpersistable record",
				"job_id", jobID,
				"identity_key", records[i].Enrichment.IdentityKey,
				"error", err.Error(),
			)
			continue
		}
		values = append(values, row)
	}

	if err := s.db.BulkUpsert(ctx, s.table, resultColumns, "identity_key", values, s.chunkSize); err != nil {
		return errors.NewInternalError("failed to write enriched batch").WithCause(err)
	}

	s.logger.Debug("Wrote enriched batch", "job_id", jobID, "records", len(values))
	return nil
}

func (s *PostgresSink) buildRow(jobID string, rec *types.EnrichedRecord, now time.Time) ([]interface{}, error) {
	emails, err := json.Marshal(rec.Enrichment.Emails)
	if err != nil {
		return nil, err
	}

	phones := [3]string{}
	for i, p := range rec.Enrichment.Phones {
		if i >= len(phones) {
			break
		}
		phones[i] = p.Formatted
	}

	return []interface{}{
		rec.Enrichment.IdentityKey,
		jobID,
		rec.Candidate.FirstName,
		rec.Candidate.LastName,
		rec.Candidate.Address,
		rec.Candidate.City,
		rec.Candidate.State,
		rec.Candidate.Zip,
		phones[0],
		phones[1],
		phones[2],
		string(emails),
		rec.Flags.InLitigatorList,
		rec.Flags.PhoneDNC[0],
		rec.Flags.PhoneDNC[1],
		rec.Flags.PhoneDNC[2],
		string(rec.Enrichment.Status),
		rec.Enrichment.Error,
		now,
	}, nil
}
