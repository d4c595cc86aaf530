package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sidestore/anisette"
	"github.com/sidestore/anisette/store"
)

// probeTimeout bounds each reachability probe.
const probeTimeout = 10 * time.Second

// Selector health-checks candidate servers and returns the first reachable
// one. The previously successful server, persisted in the identity store, is
// always tried first.
type Selector struct {
	store  store.IdentityStore
	client *http.Client
	log    *slog.Logger
}

// NewSelector creates a selector backed by the given identity store.
func NewSelector(st store.IdentityStore, log *slog.Logger) *Selector {
	return &Selector{
		store:  st,
		client: &http.Client{},
		log:    log,
	}
}

// Select returns the first candidate whose probe succeeds. Candidates that
// fail to parse are skipped with a log line, never treated as fatal. When the
// chosen server differs from the persisted default, it becomes the new
// default. With no reachable candidate, Select fails with
// ErrNoServerAvailable.
func (s *Selector) Select(ctx context.Context, candidates []string) (string, error) {
	st, err := s.store.State(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read identity state: %w", err)
	}

	for _, candidate := range prioritize(candidates, st.DefaultServer) {
		if _, err := url.ParseRequestURI(candidate); err != nil {
			s.log.Warn("Skipping invalid server candidate",
				slog.String("candidate", candidate),
				"err", err)
			continue
		}

		if err := s.probe(ctx, candidate); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			s.log.Info("Server candidate unreachable, trying next",
				slog.String("candidate", candidate),
				"err", err)
			continue
		}

		s.log.Debug("Found working server", slog.String("server", candidate))
		if candidate != st.DefaultServer {
			if err := s.store.SetDefaultServer(ctx, candidate); err != nil {
				return "", fmt.Errorf("failed to persist default server: %w", err)
			}
		}
		return candidate, nil
	}

	return "", anisette.ErrNoServerAvailable
}

// probe issues a bounded GET and demands a 2xx status.
func (s *Selector) probe(ctx context.Context, server string) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, server, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// prioritize moves the default server to the front and deduplicates while
// preserving the remaining order.
func prioritize(candidates []string, defaultServer string) []string {
	out := make([]string, 0, len(candidates)+1)
	seen := make(map[string]bool, len(candidates)+1)

	if defaultServer != "" {
		out = append(out, defaultServer)
		seen[defaultServer] = true
	}
	for _, c := range candidates {
		if !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	return out
}
