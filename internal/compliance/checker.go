package compliance

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/leadforge/enrichd/internal/cache"
	"github.com/leadforge/enrichd/pkg/concurrency"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/metrics"
	"github.com/leadforge/enrichd/pkg/types"
)

// BatchChecker is a batch-in/batch-out denylist lookup.
type BatchChecker interface {
	CheckBatch(ctx context.Context, phones []string) (map[string]bool, error)
}

// CheckerConfig tunes chunk sizing for the two registries.
type CheckerConfig struct {
	// Litigator chunks are sized off the worker plan formula.
	LitigatorUnitSize int
	ChunkMin          int
	ChunkMax          int
	ChunkScaling      float64
}

// DefaultCheckerConfig returns the default chunk tuning.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		LitigatorUnitSize: 25,
		ChunkMin:          1,
		ChunkMax:          8,
		ChunkScaling:      1.0,
	}
}

// Checker screens phone numbers against the litigator registry and the DNC
// registry. Each registry has its own phone cache; only cache misses reach
// the backing service. Every phone passed in here has already cleared the
// static blacklist.
type Checker struct {
	litigator      BatchChecker
	dnc            BatchChecker
	litigatorCache *cache.DualTier
	dncCache       *cache.DualTier
	config         CheckerConfig

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewChecker creates a compliance checker.
func NewChecker(litigator, dnc BatchChecker, litigatorCache, dncCache *cache.DualTier, cfg CheckerConfig, m *metrics.Metrics) *Checker {
	if cfg.LitigatorUnitSize <= 0 {
		cfg = DefaultCheckerConfig()
	}
	return &Checker{
		litigator:      litigator,
		dnc:            dnc,
		litigatorCache: litigatorCache,
		dncCache:       dncCache,
		config:         cfg,
		logger:         logging.GetLogger(),
		metrics:        m,
	}
}

// CheckLitigator returns the litigator flag for each canonical phone.
func (c *Checker) CheckLitigator(ctx context.Context, phones []string) (map[string]bool, error) {
	return c.check(ctx, "litigator", c.litigator, c.litigatorCache, phones)
}

// CheckDNC returns the do-not-call flag for each canonical phone.
func (c *Checker) CheckDNC(ctx context.Context, phones []string) (map[string]bool, error) {
	return c.check(ctx, "dnc", c.dnc, c.dncCache, phones)
}

func (c *Checker) check(ctx context.Context, registry string, remote BatchChecker, tier *cache.DualTier, phones []string) (map[string]bool, error) {
	results := make(map[string]bool, len(phones))
	if len(phones) == 0 {
		return results, nil
	}

	unique := dedupe(phones)

	cached, err := tier.GetBatch(ctx, unique)
	if err != nil {
		return nil, err
	}

	var misses []string
	for _, phone := range unique {
		if entry, ok := cached[phone]; ok {
			results[phone] = decodeFlag(entry.Payload)
		} else {
			misses = append(misses, phone)
		}
	}

	if len(misses) > 0 {
		fresh, err := c.checkRemote(ctx, registry, remote, misses)
		if err != nil {
			return nil, err
		}

		entries := make([]types.CacheEntry, 0, len(fresh))
		now := time.Now().UTC()
		for phone, flagged := range fresh {
			results[phone] = flagged
			entries = append(entries, types.CacheEntry{
				Key:       phone,
				Payload:   encodeFlag(flagged),
				CheckedAt: now,
			})
		}

		if err := tier.PutBatch(ctx, entries); err != nil {
			// A cache write failure costs a re-check later, not correctness.
			c.logger.Warn("Failed to cache compliance results",
				"registry", registry,
				"count", len(entries),
				"error", err.Error(),
			)
		}
	}

	if c.metrics != nil && c.metrics.ComplianceChecksTotal != nil {
		flagged := 0
		for _, v := range results {
			if v {
				flagged++
			}
		}
		c.metrics.ComplianceChecksTotal.WithLabelValues(registry, strconv.FormatBool(true)).Add(float64(flagged))
		c.metrics.ComplianceChecksTotal.WithLabelValues(registry, strconv.FormatBool(false)).Add(float64(len(results) - flagged))
	}

	return results, nil
}

// checkRemote splits misses into chunks sized by the worker plan formula and
// queries the registry chunk by chunk.
func (c *Checker) checkRemote(ctx context.Context, registry string, remote BatchChecker, phones []string) (map[string]bool, error) {
	chunkCount := concurrency.Plan(len(phones), c.config.LitigatorUnitSize,
		c.config.ChunkMin, c.config.ChunkMax, c.config.ChunkScaling)
	chunkSize := (len(phones) + chunkCount - 1) / chunkCount

	results := make(map[string]bool, len(phones))
	for i := 0; i < len(phones); i += chunkSize {
		end := i + chunkSize
		if end > len(phones) {
			end = len(phones)
		}

		chunk, err := remote.CheckBatch(ctx, phones[i:end])
		if err != nil {
			return nil, err
		}
		for phone, flagged := range chunk {
			results[phone] = flagged
		}
	}

	c.logger.Debug("Compliance registry checked",
		"registry", registry,
		"phones", len(phones),
		"chunks", concurrency.ChunkCount(len(phones), chunkSize),
	)

	return results, nil
}

func dedupe(phones []string) []string {
	seen := make(map[string]struct{}, len(phones))
	unique := make([]string, 0, len(phones))
	for _, phone := range phones {
		if phone == "" {
			continue
		}
		if _, ok := seen[phone]; ok {
			continue
		}
		seen[phone] = struct{}{}
		unique = append(unique, phone)
	}
	return unique
}

func encodeFlag(flagged bool) []byte {
	payload, _ := json.Marshal(flagged)
	return payload
}

func decodeFlag(payload []byte) bool {
	var flagged bool
	if err := json.Unmarshal(payload, &flagged); err != nil {
		return false
	}
	return flagged
}
