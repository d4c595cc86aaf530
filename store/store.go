package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNotFound is returned by backends when no identity document has been
// stored yet. Callers treat it as "fresh install", not as a failure.
var ErrNotFound = errors.New("identity state not found")

// ErrBackendUnavailable wraps transport-level failures of a backend.
var ErrBackendUnavailable = errors.New("identity store backend unavailable")

// State is the single durable record shared by all acquisition components.
type State struct {
	// Identifier is the 16-byte device identifier, base64-encoded.
	// Generated once on first use and reused forever.
	Identifier string `json:"identifier,omitempty"`

	// ADIBlob is the opaque base64 blob issued by a successful provisioning
	// handshake. Empty until the device has been provisioned.
	ADIBlob string `json:"adi_blob,omitempty"`

	// DefaultServer is the last server that served a successful probe.
	DefaultServer string `json:"default_server,omitempty"`

	// TrustedServers lists legacy (V1) server addresses the user has
	// explicitly consented to.
	TrustedServers []string `json:"trusted_servers,omitempty"`
}

// Provisioned reports whether the state carries everything the V3 header
// fetch needs.
func (s State) Provisioned() bool {
	return s.Identifier != "" && s.ADIBlob != ""
}

// ServerTrusted reports whether the user has consented to the given legacy
// server address.
func (s State) ServerTrusted(addr string) bool {
	return slices.Contains(s.TrustedServers, addr)
}

// IdentityStore is the durable home of the device identity. Implementations
// must serialize access and make every mutation atomic: a crashed or
// cancelled write leaves the previous document intact.
type IdentityStore interface {
	// State returns the current document, or the zero State when nothing has
	// been persisted yet.
	State(ctx context.Context) (State, error)

	// SetIdentifier persists a newly generated device identifier.
	SetIdentifier(ctx context.Context, identifier string) error

	// SetADIBlob persists the blob produced by a provisioning handshake.
	SetADIBlob(ctx context.Context, blob string) error

	// ClearADIBlob removes the provisioning blob, forcing the next
	// acquisition to re-provision.
	ClearADIBlob(ctx context.Context) error

	// SetDefaultServer persists the last-known-good server address.
	SetDefaultServer(ctx context.Context, addr string) error

	// TrustServer records user consent for a legacy server address.
	TrustServer(ctx context.Context, addr string) error

	// Name identifies the backend for logs.
	Name() string
}

// backend is the raw document transport a DocStore runs on.
type backend interface {
	read(ctx context.Context) ([]byte, error)
	write(ctx context.Context, doc []byte) error
	Name() string
}

// DocStore implements IdentityStore over any document backend. It owns the
// read-modify-write cycle and the mutex that serializes it.
type DocStore struct {
	mu sync.Mutex
	b  backend
}

func newDocStore(b backend) *DocStore {
	return &DocStore{b: b}
}

// Name identifies the underlying backend.
func (d *DocStore) Name() string { return d.b.Name() }

// State returns the current document, or the zero State when nothing has been
// persisted yet.
func (d *DocStore) State(ctx context.Context) (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load(ctx)
}

// SetIdentifier persists a newly generated device identifier.
func (d *DocStore) SetIdentifier(ctx context.Context, identifier string) error {
	return d.update(ctx, func(s *State) {
		s.Identifier = identifier
	})
}

// SetADIBlob persists the blob produced by a provisioning handshake.
func (d *DocStore) SetADIBlob(ctx context.Context, blob string) error {
	return d.update(ctx, func(s *State) {
		s.ADIBlob = blob
	})
}

// ClearADIBlob removes the provisioning blob.
func (d *DocStore) ClearADIBlob(ctx context.Context) error {
	return d.update(ctx, func(s *State) {
		s.ADIBlob = ""
	})
}

// SetDefaultServer persists the last-known-good server address.
func (d *DocStore) SetDefaultServer(ctx context.Context, addr string) error {
	return d.update(ctx, func(s *State) {
		s.DefaultServer = addr
	})
}

// TrustServer records user consent for a legacy server address. Recording the
// same address twice is a no-op.
func (d *DocStore) TrustServer(ctx context.Context, addr string) error {
	return d.update(ctx, func(s *State) {
		if !s.ServerTrusted(addr) {
			s.TrustedServers = append(s.TrustedServers, addr)
		}
	})
}

func (d *DocStore) load(ctx context.Context) (State, error) {
	doc, err := d.b.read(ctx)
	if errors.Is(err, ErrNotFound) {
		return State{}, nil
	}
	if err != nil {
		return State{}, err
	}

	var s State
	if err := json.Unmarshal(doc, &s); err != nil {
		return State{}, fmt.Errorf("corrupt identity document in %s: %w", d.b.Name(), err)
	}
	return s, nil
}

func (d *DocStore) update(ctx context.Context, mutate func(*State)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.load(ctx)
	if err != nil {
		return err
	}

	mutate(&s)

	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode identity document: %w", err)
	}

	if err := d.b.write(ctx, doc); err != nil {
		return fmt.Errorf("failed to persist identity document to %s: %w", d.b.Name(), err)
	}
	return nil
}
