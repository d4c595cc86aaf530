package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sidestore/anisette"
	"github.com/sidestore/anisette/gsa"
)

// AppleClient is the slice of the GSA client the handshake needs.
// Implemented by *gsa.Client.
type AppleClient interface {
	StartProvisioning(ctx context.Context, url string) (spim string, err error)
	EndProvisioning(ctx context.Context, url, cpim string) (ptm, tk string, err error)
}

// State tracks handshake progress. The server drives the exchange, so states
// describe what the client is waiting for.
type State int

const (
	// StateAwaitIdentifierRequest: session open, waiting for GiveIdentifier.
	StateAwaitIdentifierRequest State = iota
	// StateAwaitStartProvisioningRequest: identifier sent.
	StateAwaitStartProvisioningRequest
	// StateAwaitEndProvisioningRequest: spim sent.
	StateAwaitEndProvisioningRequest
	// StateAwaitResult: ptm and tk sent, waiting for the verdict.
	StateAwaitResult
	// StateDone: adi_pb received and persisted.
	StateDone
	// StateFailed: terminal protocol failure.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitIdentifierRequest:
		return "await-identifier-request"
	case StateAwaitStartProvisioningRequest:
		return "await-start-provisioning-request"
	case StateAwaitEndProvisioningRequest:
		return "await-end-provisioning-request"
	case StateAwaitResult:
		return "await-result"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Server frame discriminators.
const (
	msgGiveIdentifier        = "GiveIdentifier"
	msgGiveStartProvisioning = "GiveStartProvisioningData"
	msgGiveEndProvisioning   = "GiveEndProvisioningData"
	msgProvisioningSuccess   = "ProvisioningSuccess"
)

// frame is one inbound text message, discriminated by result.
type frame struct {
	Result  string `json:"result"`
	CPIM    string `json:"cpim,omitempty"`
	ADIPb   string `json:"adi_pb,omitempty"`
	Message string `json:"message,omitempty"`
}

// Machine is the provisioning handshake stripped of its transport. Each call
// to Advance consumes one inbound frame and returns the JSON reply to send,
// if any. There is no hidden captured state: everything the handshake knows
// is a field.
type Machine struct {
	identifier string
	urls       gsa.ProvisioningURLs
	apple      AppleClient
	persist    func(ctx context.Context, adiPb string) error
	log        *slog.Logger

	state State
}

// NewMachine creates a handshake for one provisioning attempt. persist is
// called with the adi_pb blob on success and must write it atomically.
func NewMachine(identifier string, urls gsa.ProvisioningURLs, apple AppleClient, persist func(ctx context.Context, adiPb string) error, log *slog.Logger) *Machine {
	return &Machine{
		identifier: identifier,
		urls:       urls,
		apple:      apple,
		persist:    persist,
		log:        log,
		state:      StateAwaitIdentifierRequest,
	}
}

// State returns the current handshake state.
func (m *Machine) State() State { return m.state }

// Advance consumes one inbound frame. done reports a completed handshake
// with the blob persisted. A non-nil error is terminal: the caller must
// close the connection and not feed further frames.
func (m *Machine) Advance(ctx context.Context, raw []byte) (reply []byte, done bool, err error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false, m.fail("invalid frame", "", err)
	}
	if f.Result == "" {
		return nil, false, m.fail("the server did not send a result", "", nil)
	}

	m.log.Debug("Received provisioning frame",
		slog.String("result", f.Result),
		slog.String("state", m.state.String()))

	switch f.Result {
	case msgGiveIdentifier:
		return m.giveIdentifier()
	case msgGiveStartProvisioning:
		return m.giveStartProvisioningData(ctx)
	case msgGiveEndProvisioning:
		return m.giveEndProvisioningData(ctx, f)
	case msgProvisioningSuccess:
		return m.finish(ctx, f)
	default:
		if isErrorResult(f.Result) {
			return nil, false, m.fail(f.Result, f.Message, nil)
		}
		// Unknown informational frame; ignore it like the connection-level
		// events, the server will follow up.
		m.log.Debug("Ignoring unknown provisioning frame", slog.String("result", f.Result))
		return nil, false, nil
	}
}

func (m *Machine) giveIdentifier() ([]byte, bool, error) {
	m.state = StateAwaitStartProvisioningRequest
	return marshalReply(map[string]string{"identifier": m.identifier})
}

func (m *Machine) giveStartProvisioningData(ctx context.Context) ([]byte, bool, error) {
	spim, err := m.apple.StartProvisioning(ctx, m.urls.Start)
	if err != nil {
		return nil, false, m.fail("invalid start provisioning data", "", err)
	}
	m.state = StateAwaitEndProvisioningRequest
	return marshalReply(map[string]string{"spim": spim})
}

func (m *Machine) giveEndProvisioningData(ctx context.Context, f frame) ([]byte, bool, error) {
	if f.CPIM == "" {
		return nil, false, m.fail("the server did not send a cpim", "", nil)
	}
	ptm, tk, err := m.apple.EndProvisioning(ctx, m.urls.End, f.CPIM)
	if err != nil {
		return nil, false, m.fail("invalid end provisioning data", "", err)
	}
	m.state = StateAwaitResult
	return marshalReply(map[string]string{"ptm": ptm, "tk": tk})
}

func (m *Machine) finish(ctx context.Context, f frame) ([]byte, bool, error) {
	if f.ADIPb == "" {
		return nil, false, m.fail("the server did not send an adi_pb blob", "", nil)
	}
	if err := m.persist(ctx, f.ADIPb); err != nil {
		return nil, false, m.fail("could not persist adi_pb", "", err)
	}
	m.state = StateDone
	m.log.Info("Provisioning succeeded")
	return nil, true, nil
}

func (m *Machine) fail(result, message string, err error) error {
	m.state = StateFailed
	return &anisette.ProvisioningError{Result: result, Message: message, Err: err}
}

// isErrorResult matches the discriminators the server uses to abort a
// session.
func isErrorResult(result string) bool {
	if strings.Contains(result, "Error") || strings.Contains(result, "Invalid") {
		return true
	}
	switch result {
	case "ClosingPerRequest", "Timeout", "TextOnly":
		return true
	}
	return false
}

func marshalReply(reply map[string]string) ([]byte, bool, error) {
	raw, err := json.Marshal(reply)
	if err != nil {
		return nil, false, fmt.Errorf("could not encode reply: %w", err)
	}
	return raw, false, nil
}
