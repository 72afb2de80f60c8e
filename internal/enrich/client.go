// Package enrich looks up contact data for lead identities via the external
// identity-lookup service, with caching and resilience around every call.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leadforge/enrichd/internal/cache"
	"github.com/leadforge/enrichd/pkg/concurrency"
	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/logging"
	"github.com/leadforge/enrichd/pkg/metrics"
	"github.com/leadforge/enrichd/pkg/resilience"
	"github.com/leadforge/enrichd/pkg/types"
)

// maxContacts caps phones and emails kept per identity.
const maxContacts = 3

// WorkerPlan tunes the lookup worker pool.
type WorkerPlan struct {
	UnitSize int
	Min      int
	Max      int
	Scaling  float64
}

// DefaultWorkerPlan returns the default pool sizing.
func DefaultWorkerPlan() WorkerPlan {
	return WorkerPlan{UnitSize: 1, Min: 2, Max: 16, Scaling: 1.5}
}

// Client enriches candidates through the identity-lookup service. Lookups
// are cached by identity key across both tiers; a cache hit is never
// re-fetched from the service within a run.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     *TokenSource
	guard      *resilience.RetryableOperation
	cache      *cache.DualTier
	plan       WorkerPlan

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewClient creates an enrichment client.
func NewClient(cfg *config.LookupConfig, tokens *TokenSource, guard *resilience.RetryableOperation, personCache *cache.DualTier, plan WorkerPlan, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if plan.UnitSize <= 0 {
		plan = DefaultWorkerPlan()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		tokens:     tokens,
		guard:      guard,
		cache:      personCache,
		plan:       plan,
		logger:     logging.GetLogger(),
		metrics:    m,
	}
}

// LookupBatch enriches a batch of candidates. The returned slice is
// positional: results[i] corresponds to candidates[i]. A per-candidate
// failure yields a result with status error for that slot only.
func (c *Client) LookupBatch(ctx context.Context, candidates []types.Candidate) ([]types.EnrichmentResult, error) {
	results := make([]types.EnrichmentResult, len(candidates))
	if len(candidates) == 0 {
		return results, nil
	}

	keys := make([]string, len(candidates))
	for i, cand := range candidates {
		keys[i] = cand.IdentityKey()
	}

	cached, err := c.cache.GetBatch(ctx, keys)
	if err != nil {
		return nil, err
	}

	// Group cache misses by identity key so duplicate identities inside one
	// batch still cost a single remote call.
	missIndexes := make(map[string][]int)
	for i, key := range keys {
		if entry, ok := cached[key]; ok {
			results[i] = decodeResult(key, entry.Payload)
		} else {
			missIndexes[key] = append(missIndexes[key], i)
		}
	}

	if len(missIndexes) == 0 {
		return results, nil
	}

	missKeys := make([]string, 0, len(missIndexes))
	for key := range missIndexes {
		missKeys = append(missKeys, key)
	}

	workers := concurrency.Plan(len(missKeys), c.plan.UnitSize, c.plan.Min, c.plan.Max, c.plan.Scaling)

	// Workers write into pre-allocated positional slots; no slot is shared
	// between goroutines, so no extra synchronization is needed.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, key := range missKeys {
		indexes := missIndexes[key]
		candidate := candidates[indexes[0]]
		g.Go(func() error {
			result := c.lookupOne(gctx, key, candidate)
			for _, i := range indexes {
				results[i] = result
			}
			return nil
		})
	}

	// Worker funcs never return errors; Wait only surfaces context cancellation.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []types.CacheEntry
	now := time.Now().UTC()
	for key, indexes := range missIndexes {
		result := results[indexes[0]]
		if result.Status != types.LookupStatusSuccess {
			continue
		}
		payload, err := json.Marshal(result)
		if err != nil {
			continue
		}
		entries = append(entries, types.CacheEntry{Key: key, Payload: payload, CheckedAt: now})
	}

	if err := c.cache.PutBatch(ctx, entries); err != nil {
		c.logger.Warn("Failed to cache enrichment results",
			"count", len(entries),
			"error", err.Error(),
		)
	}

	return results, nil
}

// lookupOne performs a single guarded lookup. Failures are absorbed into the
// result status so one bad identity never aborts the batch.
func (c *Client) lookupOne(ctx context.Context, key string, candidate types.Candidate) types.EnrichmentResult {
	start := time.Now()

	raw, err := c.guard.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.doLookup(ctx, candidate)
	})

	if err != nil {
		status := types.LookupStatusError
		if resilience.IsCircuitBreakerError(err) {
			status = types.LookupStatusCircuitOpen
		}
		lookupErr := errors.NewLookupError(key, "identity lookup failed").WithCause(err)
		if c.metrics != nil {
			c.metrics.ObserveLookup("identity", string(status), time.Since(start))
		}
		c.logger.Debug("Identity lookup failed",
			"identity_key", key,
			"status", string(status),
			"error", err.Error(),
		)
		return types.EnrichmentResult{
			IdentityKey: key,
			Status:      status,
			Error:       lookupErr.Error(),
		}
	}

	result := raw.(types.EnrichmentResult)
	result.IdentityKey = key
	result.Status = types.LookupStatusSuccess

	if c.metrics != nil {
		c.metrics.ObserveLookup("identity", string(types.LookupStatusSuccess), time.Since(start))
	}

	return result
}

type lookupRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
}

// lookupResponse mirrors the service payload. Phones arrive either as a bare
// string or as a [formatted, cleaned] pair; both shapes become a PhoneValue
// here, at the boundary, and nowhere else.
type lookupResponse struct {
	Phones []json.RawMessage `json:"phones"`
	Emails []string          `json:"emails"`
}

func (c *Client) doLookup(ctx context.Context, candidate types.Candidate) (types.EnrichmentResult, error) {
	var zero types.EnrichmentResult

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return zero, err
	}

	body, err := json.Marshal(lookupRequest{
		FirstName: candidate.FirstName,
		LastName:  candidate.LastName,
		Address:   candidate.Address,
		City:      candidate.City,
		State:     candidate.State,
		Zip:       candidate.Zip,
	})
	if err != nil {
		return zero, errors.NewInternalError("failed to marshal lookup request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/identity/lookup", bytes.NewReader(body))
	if err != nil {
		return zero, errors.NewInternalError("failed to create lookup request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return zero, errors.NewExternalError("identity-lookup", "lookup call failed").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return zero, errors.NewRateLimitError("identity lookup rate limited")
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate()
		return zero, errors.NewAuthenticationError("identity lookup rejected token")
	case resp.StatusCode == http.StatusNotFound:
		// No contact data for this identity; an empty success is cacheable.
		return types.EnrichmentResult{}, nil
	case resp.StatusCode != http.StatusOK:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return zero, errors.NewExternalError("identity-lookup", "unexpected lookup status").
			WithDetail("status", resp.Status).
			WithDetail("body", string(payload))
	}

	var parsed lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return zero, errors.NewExternalError("identity-lookup", "failed to decode lookup response").WithCause(err)
	}

	return parseContacts(parsed), nil
}

func parseContacts(resp lookupResponse) types.EnrichmentResult {
	var result types.EnrichmentResult

	for _, raw := range resp.Phones {
		if len(result.Phones) >= maxContacts {
			break
		}
		phone, ok := parsePhone(raw)
		if !ok || phone.IsZero() {
			continue
		}
		result.Phones = append(result.Phones, phone)
	}

	for _, email := range resp.Emails {
		if len(result.Emails) >= maxContacts {
			break
		}
		if email == "" {
			continue
		}
		result.Emails = append(result.Emails, email)
	}

	return result
}

func decodeResult(key string, payload []byte) types.EnrichmentResult {
	var result types.EnrichmentResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return types.EnrichmentResult{
			IdentityKey: key,
			Status:      types.LookupStatusError,
			Error:       "corrupt cache entry",
		}
	}
	result.IdentityKey = key
	result.Status = types.LookupStatusSuccess
	return result
}

func parsePhone(raw json.RawMessage) (types.PhoneValue, bool) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return types.NewPhoneValue(single), true
	}

	var pair []string
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) > 0 {
		if len(pair) == 1 {
			return types.NewPhoneValue(pair[0]), true
		}
		return types.PhonePair(pair[0], pair[1]), true
	}

	return types.PhoneValue{}, false
}
