package anisette

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sidestore/anisette/store"
)

// ClientInfoResolver fetches the server's client metadata descriptor and
// caches it for the lifetime of the engine. It also owns lazy generation of
// the device identifier: the first successful resolution of a V3 server
// creates and persists one if none exists.
type ClientInfoResolver struct {
	store  store.IdentityStore
	client *http.Client
	log    *slog.Logger

	mu     sync.Mutex
	cached *ClientInfo
}

// NewClientInfoResolver creates a resolver backed by the given identity
// store.
func NewClientInfoResolver(st store.IdentityStore, log *slog.Logger) *ClientInfoResolver {
	return &ClientInfoResolver{
		store:  st,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Resolve returns the client metadata for the given server, fetching it on
// first use. A server without a client_info key only speaks the legacy
// dialect; that is reported as ErrLegacyServer, a routing signal the engine
// consumes, not a failure.
func (r *ClientInfoResolver) Resolve(ctx context.Context, server string) (ClientInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		r.log.Debug("Using cached client info")
		return *r.cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/v3/client_info", nil)
	if err != nil {
		return ClientInfo{}, fmt.Errorf("%w: %v", ErrClientInfoUnavailable, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return ClientInfo{}, fmt.Errorf("%w: could not reach %s: %v", ErrClientInfoUnavailable, server, err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ClientInfo{}, fmt.Errorf("%w: %s returned a non-JSON client_info response: %v", ErrClientInfoUnavailable, server, err)
	}

	clientInfo, ok := body["client_info"]
	if !ok {
		r.log.Info("Server has no client_info, treating as legacy dialect",
			slog.String("server", server))
		return ClientInfo{}, ErrLegacyServer
	}

	info := ClientInfo{
		ClientInfo: clientInfo,
		UserAgent:  body["user_agent"],
	}
	r.log.Debug("Resolved client info",
		slog.String("client_info", info.ClientInfo),
		slog.String("user_agent", info.UserAgent))

	if err := r.ensureIdentifier(ctx); err != nil {
		return ClientInfo{}, err
	}

	r.cached = &info
	return info, nil
}

// Invalidate drops the cached descriptor so the next Resolve refetches it.
func (r *ClientInfoResolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
}

// ensureIdentifier generates and persists the device identifier on first-ever
// resolution.
func (r *ClientInfoResolver) ensureIdentifier(ctx context.Context) error {
	st, err := r.store.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to read identity state: %w", err)
	}
	if st.Identifier != "" {
		return nil
	}

	identifier, err := NewIdentifier()
	if err != nil {
		return err
	}
	if err := r.store.SetIdentifier(ctx, identifier); err != nil {
		return fmt.Errorf("failed to persist identifier: %w", err)
	}

	r.log.Info("Generated new device identifier")
	return nil
}
