package anisette

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/sidestore/anisette/store"
)

// ServerSelector picks the first reachable server from an ordered candidate
// list. Implemented by discovery.Selector.
type ServerSelector interface {
	Select(ctx context.Context, candidates []string) (string, error)
}

// Provisioner runs the V3 handshake that binds the stored identifier to a
// fresh adi_pb blob. Implemented by provision.Service.
type Provisioner interface {
	Provision(ctx context.Context, server string, info ClientInfo) error
}

// Config carries the collaborators and candidate servers for an Engine.
type Config struct {
	// Candidates is the prioritized server list. The persisted
	// last-known-good server is always tried first regardless of its
	// position here.
	Candidates []string

	Store       store.IdentityStore
	Selector    ServerSelector
	Provisioner Provisioner

	// Consent gates first use of a legacy server. Nil rejects untrusted
	// legacy servers outright.
	Consent ConsentFunc

	Log *slog.Logger
}

// Engine orchestrates the end-to-end anisette acquisition: server selection,
// dialect resolution, on-demand provisioning, and header retrieval.
//
// Acquire is not re-entrant for the shared identity: concurrent calls
// serialize so that two provisioning handshakes can never interleave and
// corrupt the stored adi_pb.
type Engine struct {
	mu       sync.Mutex
	inFlight atomic.Bool

	log         *slog.Logger
	store       store.IdentityStore
	selector    ServerSelector
	provisioner Provisioner
	candidates  []string

	resolver *ClientInfoResolver
	legacy   *LegacyFetcher
	headers  *HeaderFetcher
}

// NewEngine creates an acquisition engine from the given configuration.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine requires an identity store")
	}
	if cfg.Selector == nil {
		return nil, errors.New("engine requires a server selector")
	}
	if cfg.Provisioner == nil {
		return nil, errors.New("engine requires a provisioner")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &Engine{
		log:         log,
		store:       cfg.Store,
		selector:    cfg.Selector,
		provisioner: cfg.Provisioner,
		candidates:  cfg.Candidates,
		resolver:    NewClientInfoResolver(cfg.Store, log),
		legacy:      NewLegacyFetcher(cfg.Store, cfg.Consent, log),
		headers:     NewHeaderFetcher(cfg.Store, log),
	}, nil
}

// InFlight reports whether an acquisition is currently running.
func (e *Engine) InFlight() bool {
	return e.inFlight.Load()
}

// Acquire obtains a fresh anisette bundle. With a healthy, already
// provisioned identity this performs exactly one HTTP request; the
// provisioning handshake only runs when the identity has no blob or when the
// server reports "not provisioned", and at most once per call for the
// latter. All failures carry their specific kind; nothing is swallowed.
func (e *Engine) Acquire(ctx context.Context) (*AnisetteRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight.Store(true)
	defer e.inFlight.Store(false)

	server, err := e.selector.Select(ctx, e.candidates)
	if err != nil {
		return nil, err
	}
	e.log.Debug("Selected anisette server", slog.String("server", server))

	info, err := e.resolver.Resolve(ctx, server)
	if errors.Is(err, ErrLegacyServer) {
		return e.legacy.Fetch(ctx, server)
	}
	if err != nil {
		return nil, err
	}

	st, err := e.store.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity state: %w", err)
	}

	if !st.Provisioned() {
		if err := e.provisioner.Provision(ctx, server, info); err != nil {
			return nil, err
		}
	}

	rec, err := e.headers.Fetch(ctx, server, info)
	if !errors.Is(err, ErrNotProvisioned) {
		return rec, err
	}

	// The server rejected our blob with -45061 and the fetcher cleared it.
	// One re-provisioning attempt is allowed; a second rejection right after
	// a successful handshake is terminal, never a loop.
	e.log.Warn("Re-provisioning after server rejected stored identity",
		slog.String("server", server))
	if err := e.provisioner.Provision(ctx, server, info); err != nil {
		return nil, err
	}

	rec, err = e.headers.Fetch(ctx, server, info)
	if errors.Is(err, ErrNotProvisioned) {
		return nil, &ProvisioningFailedError{Server: server}
	}
	return rec, err
}
