package anisette

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidestore/anisette/store"
)

func newLegacyServer(t *testing.T, hits *int) *httptest.Server {
	t.Helper()
	mux := chi.NewRouter()
	mux.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v1Response()))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLegacyFetchConsentDenied(t *testing.T) {
	hits := 0
	srv := newLegacyServer(t, &hits)

	denied := func(ctx context.Context, server string) (bool, error) { return false, nil }
	fetcher := NewLegacyFetcher(store.NewMemoryStore(), denied, testLogger())

	_, err := fetcher.Fetch(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrUserCancelled))
	assert.Zero(t, hits, "a denied prompt must not issue a request")
}

func TestLegacyFetchConsentGranted(t *testing.T) {
	srv := newLegacyServer(t, nil)
	st := store.NewMemoryStore()

	prompts := 0
	granted := func(ctx context.Context, server string) (bool, error) {
		prompts++
		return true, nil
	}
	fetcher := NewLegacyFetcher(st, granted, testLogger())

	rec, err := fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "machine", rec.MachineID)
	assert.Equal(t, 1, prompts)

	// Consent is persisted per server address, so the second fetch must not
	// prompt again.
	_, err = fetcher.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, prompts)

	state, err := st.State(context.Background())
	require.NoError(t, err)
	assert.True(t, state.ServerTrusted(srv.URL))
}

func TestLegacyFetchNoConsentFunc(t *testing.T) {
	srv := newLegacyServer(t, nil)
	fetcher := NewLegacyFetcher(store.NewMemoryStore(), nil, testLogger())

	_, err := fetcher.Fetch(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrUserCancelled))
}

func TestLegacyFetchMalformedBody(t *testing.T) {
	mux := chi.NewRouter()
	mux.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	st := store.NewMemoryStore()
	require.NoError(t, st.TrustServer(context.Background(), srv.URL))
	fetcher := NewLegacyFetcher(st, nil, testLogger())

	_, err := fetcher.Fetch(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrInvalidAnisetteV1))
}
