package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/errors"
	"github.com/leadforge/enrichd/pkg/resilience"
)

// LitigatorClient calls the litigator registry service. One pooled HTTP
// client is shared across workers; the circuit breaker and retry policy live
// in the guard.
type LitigatorClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	guard      *resilience.RetryableOperation
}

// NewLitigatorClient creates a litigator registry client.
func NewLitigatorClient(cfg *config.LitigatorConfig, guard *resilience.RetryableOperation) *LitigatorClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &LitigatorClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		guard:      guard,
	}
}

type litigatorRequest struct {
	Phones []string `json:"phones"`
}

type litigatorResponse struct {
	Results map[string]bool `json:"results"`
}

// CheckBatch checks the given canonical phones against the registry in one
// round trip, returning a flag per phone.
func (c *LitigatorClient) CheckBatch(ctx context.Context, phones []string) (map[string]bool, error) {
	if len(phones) == 0 {
		return map[string]bool{}, nil
	}

	result, err := c.guard.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.doCheck(ctx, phones)
	})
	if err != nil {
		return nil, err
	}

	return result.(map[string]bool), nil
}

func (c *LitigatorClient) doCheck(ctx context.Context, phones []string) (map[string]bool, error) {
	body, err := json.Marshal(litigatorRequest{Phones: phones})
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal litigator request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/litigators/check", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to create litigator request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewExternalError("litigator", "registry call failed").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.NewRateLimitError("litigator registry rate limited")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewAuthenticationError("litigator registry rejected credentials")
	case resp.StatusCode != http.StatusOK:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewExternalError("litigator", "unexpected registry status").
			WithDetail("status", resp.Status).
			WithDetail("body", string(payload))
	}

	var parsed litigatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.NewExternalError("litigator", "failed to decode registry response").WithCause(err)
	}

	results := make(map[string]bool, len(phones))
	for _, phone := range phones {
		results[phone] = parsed.Results[phone]
	}
	return results, nil
}
