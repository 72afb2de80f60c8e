// Package progress delivers fire-and-forget progress notifications. Sinks
// must never block the orchestrator for more than a short bound; delivery
// failures are logged and dropped.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/types"
)

// Sink receives progress events from the orchestrator.
type Sink interface {
	Emit(ctx context.Context, event types.ProgressEvent)
}

// emitTimeout bounds how long one emit may hold up the orchestrator.
const emitTimeout = 500 * time.Millisecond

// latestTTL keeps the last published event around for late subscribers.
const latestTTL = 24 * time.Hour

// RedisSink publishes progress events on a per-job pub/sub channel and keeps
// the latest event in a plain key for pollers.
type RedisSink struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisSink connects a progress sink to Redis.
func NewRedisSink(cfg *config.RedisConfig) (*RedisSink, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("Redis configuration is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewInternalError("failed to connect to Redis").WithCause(err)
	}

	return &RedisSink{
		client: client,
		logger: logging.GetLogger(),
	}, nil
}

// ChannelFor returns the pub/sub channel name for a job.
func ChannelFor(jobID string) string {
	return "enrichd:progress:" + jobID
}

// latestKeyFor returns the latest-event key for a job.
func latestKeyFor(jobID string) string {
	return "enrichd:progress:latest:" + jobID
}

// Emit publishes the event. Failures are logged, never returned.
func (s *RedisSink) Emit(ctx context.Context, event types.ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("Failed to marshal progress event", "error", err.Error())
		return
	}

	emitCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()

	jobID := event.JobID.String()
	if err := s.client.Publish(emitCtx, ChannelFor(jobID), payload).Err(); err != nil {
		s.logger.Warn("Failed to publish progress event",
			"job_id", jobID,
			"error", err.Error(),
		)
	}
	if err := s.client.Set(emitCtx, latestKeyFor(jobID), payload, latestTTL).Err(); err != nil {
		s.logger.Warn("Failed to store latest progress event",
			"job_id", jobID,
			"error", err.Error(),
		)
	}
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// LogSink writes progress events to the structured log. Used standalone in
// tests and composed with the Redis sink in production.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a logging progress sink.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogSink{logger: logger}
}

// Emit logs the event.
func (s *LogSink) Emit(_ context.Context, event types.ProgressEvent) {
	s.logger.Info("Progress",
		"job_id", event.JobID.String(),
		"rows_done", event.RowsDone,
		"rows_total", event.RowsTotal,
		"batch_index", event.BatchIndex,
		"batch_count", event.BatchCount,
		"percent", fmt.Sprintf("%.1f", event.Percent),
		"message", event.Message,
	)
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

// Emit delivers the event to every sink in order.
func (m MultiSink) Emit(ctx context.Context, event types.ProgressEvent) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}
