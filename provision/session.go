package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sidestore/anisette"
	"github.com/sidestore/anisette/gsa"
	"github.com/sidestore/anisette/store"
)

// sessionHandshakeTimeout bounds the websocket connect.
const sessionHandshakeTimeout = 5 * time.Second

// appleClient extends AppleClient with the service directory lookup.
type appleClient interface {
	Lookup(ctx context.Context) (gsa.ProvisioningURLs, error)
	AppleClient
}

// Service implements anisette.Provisioner: it owns one provisioning session
// at a time, from GSA lookup through the websocket handshake to the persisted
// adi_pb blob.
type Service struct {
	store store.IdentityStore
	log   *slog.Logger

	// lookupURL overrides gsa.LookupURL when non-empty. Test hook.
	lookupURL string

	// newApple builds the GSA client for one attempt. Replaceable in tests.
	newApple func(env gsa.Envelope) appleClient
}

// NewService creates a provisioning service backed by the given identity
// store.
func NewService(st store.IdentityStore, log *slog.Logger) *Service {
	s := &Service{
		store: st,
		log:   log,
	}
	s.newApple = func(env gsa.Envelope) appleClient {
		c := gsa.NewClient(env, log)
		if s.lookupURL != "" {
			c.SetLookupURL(s.lookupURL)
		}
		return c
	}
	return s
}

// SetLookupURL overrides the GSA service directory address. Test hook.
func (s *Service) SetLookupURL(url string) { s.lookupURL = url }

// Provision runs the full handshake against the given anisette server and
// persists the resulting adi_pb blob. The duplex connection is closed on
// every exit path; cancellation of ctx tears it down mid-handshake without
// leaving a partial blob behind.
func (s *Service) Provision(ctx context.Context, server string, info anisette.ClientInfo) error {
	st, err := s.store.State(ctx)
	if err != nil {
		return fmt.Errorf("failed to read identity state: %w", err)
	}
	if st.Identifier == "" {
		return &anisette.ProvisioningError{Result: "no device identifier"}
	}

	localUserID, err := anisette.LocalUserID(st.Identifier)
	if err != nil {
		return &anisette.ProvisioningError{Result: "invalid identifier", Err: err}
	}
	deviceID, err := anisette.DeviceUniqueID(st.Identifier)
	if err != nil {
		return &anisette.ProvisioningError{Result: "invalid identifier", Err: err}
	}

	apple := s.newApple(gsa.Envelope{
		ClientInfo:  info.ClientInfo,
		UserAgent:   info.UserAgent,
		LocalUserID: localUserID,
		DeviceID:    deviceID,
	})

	urls, err := apple.Lookup(ctx)
	if err != nil {
		return &anisette.ProvisioningError{Result: "invalid lookup urls", Err: err}
	}

	sessionURL, err := sessionURL(server)
	if err != nil {
		return &anisette.ProvisioningError{Result: "invalid server url", Err: err}
	}

	machine := NewMachine(st.Identifier, urls, apple, func(ctx context.Context, adiPb string) error {
		return s.store.SetADIBlob(ctx, adiPb)
	}, s.log)

	return s.runSession(ctx, sessionURL, machine)
}

// runSession dials the duplex connection and pumps frames through the
// machine until it finishes or fails.
func (s *Service) runSession(ctx context.Context, sessionURL string, machine *Machine) error {
	dialer := websocket.Dialer{HandshakeTimeout: sessionHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, sessionURL, nil)
	if err != nil {
		return &anisette.ProvisioningError{Result: "could not open provisioning session", Err: err}
	}

	// The watcher closes the connection when ctx is cancelled, which unblocks
	// any pending read below.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()
	defer conn.Close()

	s.log.Debug("Provisioning session open", slog.String("url", sessionURL))

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("Provisioning session closed unexpectedly", "err", err)
			}
			return &anisette.ProvisioningError{Result: "provisioning session closed", Err: err}
		}
		if msgType != websocket.TextMessage {
			s.log.Debug("Ignoring non-text frame", slog.Int("type", msgType))
			continue
		}

		reply, done, err := machine.Advance(ctx, raw)
		if err != nil {
			return err
		}
		if reply != nil {
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &anisette.ProvisioningError{Result: "could not send provisioning reply", Err: err}
			}
		}
		if done {
			return nil
		}
	}
}

// sessionURL converts an http(s) server address into the ws(s) session
// endpoint.
func sessionURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("unsupported server scheme: " + u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v3/provisioning_session"
	return u.String(), nil
}
