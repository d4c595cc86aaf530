package anisette

import (
	"errors"
	"fmt"
)

// Sentinel errors for the acquisition flow. Network, consent, and protocol
// failures are deliberately distinct kinds so callers can decide whether a
// "try another server" action makes sense.
var (
	// ErrNoServerAvailable means every candidate server failed its
	// reachability probe.
	ErrNoServerAvailable = errors.New("no anisette server available")

	// ErrClientInfoUnavailable means the client_info endpoint could not be
	// fetched or parsed.
	ErrClientInfoUnavailable = errors.New("client info unavailable")

	// ErrLegacyServer is a routing signal, not a failure: the server has no
	// client_info key and therefore only speaks the V1 dialect.
	ErrLegacyServer = errors.New("server only supports the legacy anisette dialect")

	// ErrInvalidAnisetteV1 means a V1 response was malformed or incomplete.
	ErrInvalidAnisetteV1 = errors.New("invalid v1 anisette response")

	// ErrAnisetteV3 means a V3 response was malformed, incomplete, or the
	// server reported an unrecoverable error.
	ErrAnisetteV3 = errors.New("anisette v3 request failed")

	// ErrUserCancelled means the user declined the outdated-server warning.
	ErrUserCancelled = errors.New("user declined the outdated server warning")

	// ErrNotProvisioned is the internal -45061 signal. It never reaches
	// callers: the engine recovers it exactly once by re-provisioning, and a
	// second occurrence surfaces as *ProvisioningFailedError.
	ErrNotProvisioned = errors.New("device is not provisioned")
)

// ProvisioningError is a handshake-level protocol failure. Result is the
// server's discriminator (or a client-side stage description); Message
// carries the server-supplied diagnostic text when present.
type ProvisioningError struct {
	Result  string
	Message string
	Err     error
}

func (e *ProvisioningError) Error() string {
	s := fmt.Sprintf("provisioning failed: %s", e.Result)
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ProvisioningFailedError is returned when the server still reports "not
// provisioned" immediately after a successful re-provisioning handshake.
// Retrying the same server will not help; the caller should offer a
// different one.
type ProvisioningFailedError struct {
	Server string
}

func (e *ProvisioningFailedError) Error() string {
	return fmt.Sprintf("server %s rejects a freshly provisioned identity", e.Server)
}

// Describe renders any acquisition error as a short title plus detail text,
// suitable for direct presentation.
func Describe(err error) (title, detail string) {
	var provErr *ProvisioningError
	var failedErr *ProvisioningFailedError

	switch {
	case errors.Is(err, ErrNoServerAvailable):
		return "No server available", "None of the configured anisette servers are reachable. Check your connection or add another server."
	case errors.Is(err, ErrUserCancelled):
		return "Cancelled", "The outdated server was not trusted, so no anisette data was fetched."
	case errors.As(err, &failedErr):
		return "Provisioning rejected", failedErr.Error()
	case errors.As(err, &provErr):
		return "Provisioning failed", provErr.Error()
	case errors.Is(err, ErrInvalidAnisetteV1), errors.Is(err, ErrAnisetteV3):
		return "Invalid server response", err.Error()
	case errors.Is(err, ErrClientInfoUnavailable):
		return "Server unavailable", err.Error()
	default:
		return "Anisette error", err.Error()
	}
}
