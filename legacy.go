package anisette

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sidestore/anisette/store"
)

// ConsentFunc asks the user whether to trust an outdated (V1) server. It
// returns true to proceed. Implementations range from a terminal prompt to a
// UI dialog; tests use closures.
type ConsentFunc func(ctx context.Context, server string) (bool, error)

// LegacyFetcher implements the V1 dialect: one GET to the server root
// returning pre-baked anisette headers. V1 servers are outdated and carry a
// higher account-lock risk, so each server address requires one-time,
// persisted user consent before the first fetch.
type LegacyFetcher struct {
	store   store.IdentityStore
	consent ConsentFunc
	client  *http.Client
	log     *slog.Logger
}

// NewLegacyFetcher creates a V1 fetcher. consent may be nil, in which case
// untrusted servers are always rejected.
func NewLegacyFetcher(st store.IdentityStore, consent ConsentFunc, log *slog.Logger) *LegacyFetcher {
	return &LegacyFetcher{
		store:   st,
		consent: consent,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// Fetch obtains anisette data from a legacy server, driving the consent
// prompt first if this server address has never been trusted. A denied
// prompt fails with ErrUserCancelled and issues no request.
func (f *LegacyFetcher) Fetch(ctx context.Context, server string) (*AnisetteRecord, error) {
	if err := f.ensureConsent(ctx, server); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnisetteV1, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not fetch from %s: %v", ErrInvalidAnisetteV1, server, err)
	}
	defer resp.Body.Close()

	var headers map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&headers); err != nil {
		return nil, fmt.Errorf("%w: %s returned a non-JSON body: %v", ErrInvalidAnisetteV1, server, err)
	}

	rec, err := recordFromV1(headers)
	if err != nil {
		return nil, err
	}

	f.log.Debug("Fetched V1 anisette", slog.String("server", server))
	return rec, nil
}

func (f *LegacyFetcher) ensureConsent(ctx context.Context, server string) error {
	st, err := f.store.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to read identity state: %w", err)
	}
	if st.ServerTrusted(server) {
		f.log.Debug("Server already trusted", slog.String("server", server))
		return nil
	}

	if f.consent == nil {
		return ErrUserCancelled
	}

	f.log.Info("Asking user to trust outdated server", slog.String("server", server))
	ok, err := f.consent(ctx, server)
	if err != nil {
		return fmt.Errorf("consent prompt failed: %w", err)
	}
	if !ok {
		return ErrUserCancelled
	}

	if err := f.store.TrustServer(ctx, server); err != nil {
		return fmt.Errorf("failed to persist server trust: %w", err)
	}
	return nil
}
