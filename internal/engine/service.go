package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leadforge/enrichd/internal/compliance"
	"github.com/leadforge/enrichd/internal/progress"
	"github.com/leadforge/enrichd/internal/sink"
	"github.com/leadforge/enrichd/pkg/concurrency"
	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/metrics"
	"github.com/leadforge/enrichd/pkg/types"
)

// runState tracks one job. Cancellation is cooperative: RequestCancel flips
// the flag and the run loop observes it between batches and before each
// registry pass, so the in-flight batch always finishes and persists.
type runState struct {
	mu       sync.Mutex
	run      types.JobRun
	canceled bool
}

func (st *runState) snapshot() *types.JobRun {
	st.mu.Lock()
	defer st.mu.Unlock()
	run := st.run
	return &run
}

func (st *runState) isCanceled() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.canceled
}

func (st *runState) update(fn func(run *types.JobRun)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.run)
	st.run.UpdatedAt = time.Now().UTC()
}

// Service orchestrates enrichment runs.
type Service struct {
	cfg       *config.EngineConfig
	selector  CandidateSelector
	enricher  Enricher
	checker   ComplianceChecker
	blacklist BlacklistSource
	results   sink.ResultSink
	progress  progress.Sink
	metrics   *metrics.Metrics
	logger    *logging.Logger

	mu   sync.Mutex
	jobs map[uuid.UUID]*runState
	wg   sync.WaitGroup
}

// NewService creates the orchestrator.
func NewService(
	cfg *config.EngineConfig,
	sel CandidateSelector,
	enricher Enricher,
	checker ComplianceChecker,
	blacklist BlacklistSource,
	results sink.ResultSink,
	progressSink progress.Sink,
	m *metrics.Metrics,
) *Service {
	if progressSink == nil {
		progressSink = progress.NewLogSink(nil)
	}
	if m == nil {
		m = &metrics.Metrics{}
	}
	return &Service{
		cfg:       cfg,
		selector:  sel,
		enricher:  enricher,
		checker:   checker,
		blacklist: blacklist,
		results:   results,
		progress:  progressSink,
		metrics:   m,
		logger:    logging.GetLogger(),
		jobs:      make(map[uuid.UUID]*runState),
	}
}

// Start validates the job, registers a pending run and launches it in the
// background. The returned JobRun is a snapshot; poll GetStatus for updates.
func (s *Service) Start(ctx context.Context, job Job) (*types.JobRun, error) {
	if job.SourceQuery == "" {
		return nil, errors.NewValidationError("source query is required")
	}
	if job.Limit < 0 {
		return nil, errors.NewValidationError("limit must not be negative")
	}

	now := time.Now().UTC()
	st := &runState{
		run: types.JobRun{
			ID:        uuid.New(),
			Status:    types.JobStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	s.mu.Lock()
	s.jobs[st.run.ID] = st
	s.mu.Unlock()

	s.logger.LogJobEvent("job_accepted", st.run.ID.String(), logrus.Fields{
		"limit":       job.Limit,
		"description": job.Description,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), st, job)
	}()

	return st.snapshot(), nil
}

// RequestCancel asks a running job to stop after its current batch.
func (s *Service) RequestCancel(jobID uuid.UUID) error {
	st, err := s.lookup(jobID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.run.Terminal() {
		return errors.NewConflictError("job already finished")
	}
	if !st.canceled {
		st.canceled = true
		s.logger.LogJobEvent("cancel_requested", jobID.String(), nil)
	}
	return nil
}

// GetStatus returns a snapshot of the job's current state.
func (s *Service) GetStatus(jobID uuid.UUID) (*types.JobRun, error) {
	st, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return st.snapshot(), nil
}

// Wait blocks until all launched jobs have finished. Used on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) lookup(jobID uuid.UUID) (*runState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.NewNotFoundError("job")
	}
	return st, nil
}

func (s *Service) run(ctx context.Context, st *runState, job Job) {
	jobID := st.run.ID.String()
	started := time.Now().UTC()
	st.update(func(run *types.JobRun) {
		run.Status = types.JobStatusRunning
		run.StartedAt = &started
	})

	blacklist, err := s.loadBlacklist(ctx)
	if err != nil {
		s.fail(st, "failed to load phone blacklist", err)
		return
	}

	candidates, selStats, err := s.selector.Select(ctx, job.SourceQuery, job.Limit)
	if err != nil {
		s.fail(st, "candidate selection failed", err)
		return
	}

	batchCount := concurrency.ChunkCount(len(candidates), s.cfg.BatchSize)
	st.update(func(run *types.JobRun) {
		run.Total = len(candidates)
		run.BatchCount = batchCount
		run.Stats.Skipped = selStats.MissingName
	})

	s.logger.LogJobEvent("job_started", jobID, logrus.Fields{
		"candidates":   len(candidates),
		"batches":      batchCount,
		"scanned":      selStats.Scanned,
		"deduplicated": selStats.Deduplicated,
	})

	for i := 0; i < len(candidates); i += s.cfg.BatchSize {
		if st.isCanceled() {
			s.finish(st, types.JobStatusCancelled, started)
			return
		}

		end := i + s.cfg.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[i:end]
		batchIndex := i/s.cfg.BatchSize + 1

		batchStart := time.Now()
		if err := s.processBatch(ctx, st, blacklist, jobID, batch); err != nil {
			s.logger.Error("Batch failed",
				"job_id", jobID,
				"batch_index", batchIndex,
				"records", len(batch),
				"error", err.Error(),
			)
			s.metrics.ObserveBatch("error", time.Since(batchStart))
			st.update(func(run *types.JobRun) {
				run.Stats.Errored += len(batch)
				run.Stats.Processed += len(batch)
				run.Processed += len(batch)
				run.BatchIndex = batchIndex
			})
		} else {
			s.metrics.ObserveBatch("success", time.Since(batchStart))
			st.update(func(run *types.JobRun) {
				run.Processed += len(batch)
				run.BatchIndex = batchIndex
			})
			s.logger.LogBatchEvent(jobID, batchIndex, batchCount, logrus.Fields{
				"records":  len(batch),
				"duration": time.Since(batchStart).String(),
			})
		}

		s.emitProgress(ctx, st, "batch finished")
	}

	s.finish(st, types.JobStatusCompleted, started)
}

func (s *Service) loadBlacklist(ctx context.Context) (*compliance.Blacklist, error) {
	if s.blacklist == nil {
		return compliance.NewBlacklist(nil, s.metrics), nil
	}
	return compliance.LoadBlacklist(ctx, s.blacklist, s.metrics)
}

// processBatch enriches one batch and writes it to the result sink. Lookup
// and sink failures fail the batch only; the run continues.
func (s *Service) processBatch(ctx context.Context, st *runState, blacklist *compliance.Blacklist, jobID string, batch []types.Candidate) error {
	results, err := s.enricher.LookupBatch(ctx, batch)
	if err != nil {
		return err
	}

	records := make([]types.EnrichedRecord, len(batch))
	needCheck := make(map[string]struct{})
	for i := range batch {
		records[i] = types.EnrichedRecord{
			Candidate:  batch[i],
			Enrichment: results[i],
		}
		if results[i].Status != types.LookupStatusSuccess {
			continue
		}
		allowed, blocked := blacklist.FilterOut(results[i].Phones)
		if len(blocked) > 0 {
			// Blacklisted phones are treated as known litigators and
			// never forwarded to the external registries.
			records[i].Flags.InLitigatorList = true
		}
		for _, p := range allowed {
			needCheck[p.Canonical] = struct{}{}
		}
	}

	var litigator, dnc map[string]bool
	if st.isCanceled() {
		// Cancellation arrived mid-batch: skip the registry passes and let
		// the batch persist with default flags. Cached results from a later
		// run fill them in.
		s.logger.Info("Skipping registry screening, cancellation requested",
			"job_id", jobID, "phones", len(needCheck))
	} else {
		litigator, dnc = s.screenPhones(ctx, st, jobID, needCheck)
	}

	for i := range records {
		rec := &records[i]
		if rec.Enrichment.Status != types.LookupStatusSuccess {
			continue
		}
		for j, p := range rec.Enrichment.Phones {
			if p.Canonical == "" || blacklist.Contains(p.Canonical) {
				continue
			}
			if litigator[p.Canonical] {
				rec.Flags.InLitigatorList = true
			}
			if j < len(rec.Flags.PhoneDNC) && dnc[p.Canonical] {
				rec.Flags.PhoneDNC[j] = true
			}
		}
	}

	if err := s.results.WriteBatch(ctx, jobID, records); err != nil {
		return err
	}

	stats := classify(records)
	st.update(func(run *types.JobRun) {
		run.Stats.Processed += stats.Processed
		run.Stats.Clean += stats.Clean
		run.Stats.Litigator += stats.Litigator
		run.Stats.DNC += stats.DNC
		run.Stats.Both += stats.Both
		run.Stats.Errored += stats.Errored
		run.Stats.Skipped += stats.Skipped
	})
	s.countRecords(stats)

	return nil
}

// screenPhones runs both registry checks over the deduplicated phone set.
// A registry failure is logged and its flags default to false so the batch
// still persists. Cancellation between the two passes skips the second.
func (s *Service) screenPhones(ctx context.Context, st *runState, jobID string, phoneSet map[string]struct{}) (litigator, dnc map[string]bool) {
	if len(phoneSet) == 0 {
		return nil, nil
	}

	phones := make([]string, 0, len(phoneSet))
	for p := range phoneSet {
		phones = append(phones, p)
	}

	var err error
	litigator, err = s.checker.CheckLitigator(ctx, phones)
	if err != nil {
		s.logger.Warn("Litigator check failed", "job_id", jobID, "phones", len(phones), "error", err.Error())
		litigator = nil
	}
	if st.isCanceled() {
		return litigator, nil
	}
	dnc, err = s.checker.CheckDNC(ctx, phones)
	if err != nil {
		s.logger.Warn("DNC check failed", "job_id", jobID, "phones", len(phones), "error", err.Error())
		dnc = nil
	}
	return litigator, dnc
}

func (s *Service) emitProgress(ctx context.Context, st *runState, message string) {
	run := st.snapshot()
	event := types.ProgressEvent{
		JobID:      run.ID,
		RowsDone:   run.Processed,
		RowsTotal:  run.Total,
		BatchIndex: run.BatchIndex,
		BatchCount: run.BatchCount,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	}
	if run.Total > 0 {
		event.Percent = float64(run.Processed) / float64(run.Total) * 100
	}
	s.progress.Emit(ctx, event)
}

func (s *Service) fail(st *runState, message string, err error) {
	jobErr := errors.NewJobError(st.run.ID.String(), message).WithCause(err)
	s.logger.Error("Job failed",
		"job_id", st.run.ID.String(),
		"error", jobErr.Error(),
	)
	now := time.Now().UTC()
	st.update(func(run *types.JobRun) {
		run.Status = types.JobStatusFailed
		run.ErrorMessage = jobErr.Error()
		run.CompletedAt = &now
	})
	s.emitProgress(context.Background(), st, message)
}

func (s *Service) finish(st *runState, status types.JobStatus, started time.Time) {
	now := time.Now().UTC()
	st.update(func(run *types.JobRun) {
		run.Status = status
		run.CompletedAt = &now
	})

	run := st.snapshot()
	s.logger.LogJobEvent("job_finished", run.ID.String(), logrus.Fields{
		"status":    string(status),
		"processed": run.Stats.Processed,
		"clean":     run.Stats.Clean,
		"litigator": run.Stats.Litigator,
		"dnc":       run.Stats.DNC,
		"both":      run.Stats.Both,
		"errored":   run.Stats.Errored,
		"skipped":   run.Stats.Skipped,
		"duration":  now.Sub(started).String(),
	})
	s.emitProgress(context.Background(), st, "job "+string(status))
}

func (s *Service) countRecords(stats types.JobStats) {
	if s.metrics == nil || s.metrics.RecordsTotal == nil {
		return
	}
	add := func(classification string, n int) {
		if n > 0 {
			s.metrics.RecordsTotal.WithLabelValues(classification).Add(float64(n))
		}
	}
	add("clean", stats.Clean)
	add("litigator", stats.Litigator)
	add("dnc", stats.DNC)
	add("both", stats.Both)
	add("errored", stats.Errored)
	add("skipped", stats.Skipped)
}

// classify buckets each record into exactly one stats category.
func classify(records []types.EnrichedRecord) types.JobStats {
	var stats types.JobStats
	stats.Processed = len(records)
	for i := range records {
		rec := &records[i]
		switch {
		case rec.Enrichment.Status != types.LookupStatusSuccess:
			stats.Errored++
		case len(rec.Enrichment.Phones) == 0:
			stats.Skipped++
		case rec.Flags.InLitigatorList && rec.Flags.AnyDNC():
			stats.Both++
		case rec.Flags.InLitigatorList:
			stats.Litigator++
		case rec.Flags.AnyDNC():
			stats.DNC++
		default:
			stats.Clean++
		}
	}
	return stats
}
