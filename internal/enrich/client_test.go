package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadforge/enrichd/internal/cache"
	"github.com/leadforge/enrichd/pkg/config"
	"github.com/leadforge/enrichd/pkg/resilience"
	"github.com/leadforge/enrichd/pkg/types"
)

type memStore struct {
	entries map[string]types.CacheEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]types.CacheEntry)}
}

func (s *memStore) GetBatch(_ context.Context, keys []string) (map[string]types.CacheEntry, error) {
	found := make(map[string]types.CacheEntry)
	for _, key := range keys {
		if entry, ok := s.entries[key]; ok {
			found[key] = entry
		}
	}
	return found, nil
}

func (s *memStore) PutBatch(_ context.Context, entries []types.CacheEntry) error {
	for _, entry := range entries {
		s.entries[entry.Key] = entry
	}
	return nil
}

func (s *memStore) ExistsBatch(_ context.Context, keys []string) (map[string]bool, error) {
	present := make(map[string]bool)
	for _, key := range keys {
		_, present[key] = s.entries[key]
	}
	return present, nil
}

// lookupServer serves the auth endpoint plus a configurable lookup handler
// and counts lookup calls.
type lookupServer struct {
	*httptest.Server
	lookups atomic.Int64
}

func newLookupServer(t *testing.T, lookup http.HandlerFunc) *lookupServer {
	t.Helper()

	srv := &lookupServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v2/identity/lookup", func(w http.ResponseWriter, r *http.Request) {
		srv.lookups.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		lookup(w, r)
	})

	srv.Server = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *lookupServer, failureThreshold uint32) *Client {
	cfg := &config.LookupConfig{
		BaseURL:  srv.URL,
		AuthURL:  srv.URL + "/token",
		ClientID: "id",
		Timeout:  5 * time.Second,
	}
	guard := resilience.NewRetryableOperation("lookup-test",
		resilience.CircuitBreakerConfig{FailureThreshold: failureThreshold, RecoveryTimeout: time.Minute},
		resilience.RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond},
	)
	personCache := cache.NewDualTier("person", newMemStore(), 900, nil)
	return NewClient(cfg, NewTokenSource(cfg), guard, personCache, DefaultWorkerPlan(), nil)
}

func contactsHandler(phones []interface{}, emails []string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"phones": phones,
			"emails": emails,
		})
	}
}

func candidate(first string) types.Candidate {
	return types.Candidate{
		FirstName: first,
		LastName:  "Doe",
		Address:   "123 Main St",
		City:      "Springfield",
		State:     "IL",
		Zip:       "62704",
	}
}

func TestClient_LookupBatch_ParsesContacts(t *testing.T) {
	srv := newLookupServer(t, contactsHandler(
		[]interface{}{
			[]string{"(555) 123-4567", "15551234567"},
			"555.987.6543",
		},
		[]string{"jane@example.com"},
	))
	client := newTestClient(srv, 100)

	results, err := client.LookupBatch(context.Background(), []types.Candidate{candidate("Jane")})

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.LookupStatusSuccess, results[0].Status)
	require.Len(t, results[0].Phones, 2)
	assert.Equal(t, "(555) 123-4567", results[0].Phones[0].Formatted)
	assert.Equal(t, "5551234567", results[0].Phones[0].Canonical)
	assert.Equal(t, "5559876543", results[0].Phones[1].Canonical)
	assert.Equal(t, []string{"jane@example.com"}, results[0].Emails)
}

func TestClient_LookupBatch_CacheHitSkipsService(t *testing.T) {
	srv := newLookupServer(t, contactsHandler([]interface{}{"5551234567"}, nil))
	client := newTestClient(srv, 100)
	ctx := context.Background()
	batch := []types.Candidate{candidate("Jane"), candidate("John")}

	first, err := client.LookupBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, int64(2), srv.lookups.Load())

	second, err := client.LookupBatch(ctx, batch)
	require.NoError(t, err)

	assert.Equal(t, int64(2), srv.lookups.Load())
	assert.Equal(t, first[0].Phones, second[0].Phones)
	assert.Equal(t, types.LookupStatusSuccess, second[0].Status)
}

func TestClient_LookupBatch_DuplicateIdentitiesShareOneCall(t *testing.T) {
	srv := newLookupServer(t, contactsHandler([]interface{}{"5551234567"}, nil))
	client := newTestClient(srv, 100)

	batch := []types.Candidate{candidate("Jane"), candidate("Jane"), candidate("Jane")}
	results, err := client.LookupBatch(context.Background(), batch)

	require.NoError(t, err)
	assert.Equal(t, int64(1), srv.lookups.Load())
	for _, r := range results {
		assert.Equal(t, types.LookupStatusSuccess, r.Status)
		require.Len(t, r.Phones, 1)
	}
}

func TestClient_LookupBatch_PositionalOrdering(t *testing.T) {
	srv := newLookupServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req lookupRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Derive a distinct phone from the candidate so slots are checkable.
		phone := "555000000" + req.Zip[len(req.Zip)-1:]
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"phones": []string{phone},
		})
	})
	client := newTestClient(srv, 100)

	batch := make([]types.Candidate, 9)
	for i := range batch {
		batch[i] = candidate("Jane")
		batch[i].Zip = "6270" + string(rune('0'+i))
	}

	results, err := client.LookupBatch(context.Background(), batch)

	require.NoError(t, err)
	require.Len(t, results, 9)
	for i, r := range results {
		require.Len(t, r.Phones, 1, "slot %d", i)
		assert.Equal(t, "555000000"+string(rune('0'+i)), r.Phones[0].Canonical, "slot %d", i)
		assert.Equal(t, batch[i].IdentityKey(), r.IdentityKey, "slot %d", i)
	}
}

func TestClient_LookupBatch_PerRecordFailureIsolated(t *testing.T) {
	srv := newLookupServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req lookupRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.FirstName == "Broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"phones": []string{"5551234567"}})
	})
	client := newTestClient(srv, 100)

	results, err := client.LookupBatch(context.Background(),
		[]types.Candidate{candidate("Jane"), candidate("Broken"), candidate("John")})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, types.LookupStatusSuccess, results[0].Status)
	assert.Equal(t, types.LookupStatusError, results[1].Status)
	assert.Contains(t, results[1].Error, "LOOKUP_ERROR")
	assert.Equal(t, types.LookupStatusSuccess, results[2].Status)
}

func TestClient_LookupBatch_ErrorsAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := newLookupServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"phones": []string{"5551234567"}})
	})
	client := newTestClient(srv, 100)
	ctx := context.Background()
	batch := []types.Candidate{candidate("Jane")}

	results, err := client.LookupBatch(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, types.LookupStatusError, results[0].Status)

	fail.Store(false)
	results, err = client.LookupBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, types.LookupStatusSuccess, results[0].Status)
	assert.Equal(t, int64(2), srv.lookups.Load())
}

func TestClient_LookupBatch_NotFoundIsEmptySuccess(t *testing.T) {
	srv := newLookupServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	client := newTestClient(srv, 100)
	ctx := context.Background()
	batch := []types.Candidate{candidate("Jane")}

	results, err := client.LookupBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, types.LookupStatusSuccess, results[0].Status)
	assert.Empty(t, results[0].Phones)

	// Empty results are cached too.
	_, err = client.LookupBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), srv.lookups.Load())
}

func TestClient_LookupBatch_OpenCircuitMarksResults(t *testing.T) {
	srv := newLookupServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	client := newTestClient(srv, 1)
	ctx := context.Background()

	results, err := client.LookupBatch(ctx, []types.Candidate{candidate("Jane")})
	require.NoError(t, err)
	require.Equal(t, types.LookupStatusError, results[0].Status)

	results, err = client.LookupBatch(ctx, []types.Candidate{candidate("John")})
	require.NoError(t, err)
	assert.Equal(t, types.LookupStatusCircuitOpen, results[0].Status)
	assert.Equal(t, int64(1), srv.lookups.Load())
}

func TestClient_LookupBatch_Empty(t *testing.T) {
	srv := newLookupServer(t, contactsHandler(nil, nil))
	client := newTestClient(srv, 100)

	results, err := client.LookupBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, int64(0), srv.lookups.Load())
}

func TestParsePhone(t *testing.T) {
	pair, ok := parsePhone(json.RawMessage(`["(555) 123-4567", "15551234567"]`))
	require.True(t, ok)
	assert.Equal(t, "5551234567", pair.Canonical)

	single, ok := parsePhone(json.RawMessage(`"555.123.4567"`))
	require.True(t, ok)
	assert.Equal(t, "5551234567", single.Canonical)

	one, ok := parsePhone(json.RawMessage(`["5559876543"]`))
	require.True(t, ok)
	assert.Equal(t, "5559876543", one.Canonical)

	_, ok = parsePhone(json.RawMessage(`42`))
	assert.False(t, ok)
}

func TestParseContacts_CapsAtThree(t *testing.T) {
	raw := lookupResponse{
		Phones: []json.RawMessage{
			json.RawMessage(`"5550000001"`),
			json.RawMessage(`"5550000002"`),
			json.RawMessage(`"5550000003"`),
			json.RawMessage(`"5550000004"`),
		},
		Emails: []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"},
	}

	result := parseContacts(raw)

	assert.Len(t, result.Phones, 3)
	assert.Len(t, result.Emails, 3)
}
