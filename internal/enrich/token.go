package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/errors"
)

// tokenRefreshMargin renews a token slightly before its reported expiry so
// in-flight requests never race the deadline.
const tokenRefreshMargin = 30 * time.Second

// TokenSource provides the short-lived bearer token for the lookup service.
// One instance is shared across all workers; refresh is double-checked under
// the lock so concurrent callers trigger at most one token request.
type TokenSource struct {
	httpClient   *http.Client
	authURL      string
	clientID     string
	clientSecret string

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource creates a token source for the lookup service auth endpoint.
func NewTokenSource(cfg *config.LookupConfig) *TokenSource {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &TokenSource{
		httpClient:   &http.Client{Timeout: timeout},
		authURL:      cfg.AuthURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

// Token returns a valid bearer token, refreshing it just-in-time.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expiry.Add(-tokenRefreshMargin)) {
		return t.token, nil
	}

	token, expiry, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}

	t.token = token
	t.expiry = expiry
	return token, nil
}

// Invalidate drops the cached token, forcing a refresh on the next call.
// Used when the lookup service rejects a token early.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	t.expiry = time.Time{}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (t *TokenSource) fetch(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     t.clientID,
		"client_secret": t.clientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", time.Time{}, errors.NewInternalError("failed to marshal token request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.authURL, bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, errors.NewInternalError("failed to create token request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, errors.NewExternalError("lookup-auth", "token request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", time.Time{}, errors.NewAuthenticationError("token endpoint rejected credentials").
			WithDetail("status", resp.Status).
			WithDetail("body", string(payload))
	}

	var parsed tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", time.Time{}, errors.NewExternalError("lookup-auth", "failed to decode token response").WithCause(err)
	}
	if parsed.AccessToken == "" {
		return "", time.Time{}, errors.NewAuthenticationError("token endpoint returned empty token")
	}

	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 300
	}

	return parsed.AccessToken, time.Now().Add(time.Duration(expiresIn) * time.Second), nil
}
