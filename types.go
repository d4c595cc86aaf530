package anisette

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnisetteRecord is the canonical anisette bundle returned to callers.
// MachineID, OneTimePassword, and RoutingInfo come verbatim from the
// provider; the rest is derived or generated client-side.
type AnisetteRecord struct {
	MachineID         string `json:"machine_id"`
	OneTimePassword   string `json:"one_time_password"`
	RoutingInfo       string `json:"routing_info"`
	DeviceDescription string `json:"device_description"`
	LocalUserID       string `json:"local_user_id"`
	DeviceUniqueID    string `json:"device_unique_id"`

	// Date is an ISO-8601 UTC timestamp generated client-side at request
	// time, never copied from the server.
	Date     string `json:"date"`
	Locale   string `json:"locale"`
	TimeZone string `json:"time_zone"`

	// DeviceSerialNumber is never checked by the verifier but must carry a
	// value; "0" is the conventional placeholder.
	DeviceSerialNumber string `json:"device_serial_number"`
}

// Validate reports whether the record carries the three provider-issued
// fields without which authentication cannot succeed.
func (r *AnisetteRecord) Validate() error {
	var missing []string
	if r.MachineID == "" {
		missing = append(missing, "machine_id")
	}
	if r.OneTimePassword == "" {
		missing = append(missing, "one_time_password")
	}
	if r.RoutingInfo == "" {
		missing = append(missing, "routing_info")
	}
	if len(missing) > 0 {
		return fmt.Errorf("anisette record missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ClientInfo is the per-process cache of server-provided client metadata.
type ClientInfo struct {
	// ClientInfo is the device description string (X-MMe-Client-Info).
	ClientInfo string `json:"client_info"`

	// UserAgent is sent on every request to Apple endpoints.
	UserAgent string `json:"user_agent"`
}

// identifierSize is the number of random bytes in a device identifier.
const identifierSize = 16

// NewIdentifier generates a fresh device identifier: 16 cryptographically
// random bytes, base64-encoded. Generated once per installation and reused
// forever.
func NewIdentifier() (string, error) {
	raw := make([]byte, identifierSize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate identifier: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// LocalUserID derives X-Apple-I-MD-LU from the identifier: the uppercase hex
// SHA-256 digest of the decoded identifier bytes. The verifier echoes this
// value back, so the case matters.
func LocalUserID(identifier string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(identifier)
	if err != nil {
		return "", fmt.Errorf("invalid identifier encoding: %w", err)
	}
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// DeviceUniqueID derives X-Mme-Device-Id from the identifier: the first 16
// decoded bytes interpreted as a UUID, uppercased.
func DeviceUniqueID(identifier string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(identifier)
	if err != nil {
		return "", fmt.Errorf("invalid identifier encoding: %w", err)
	}
	if len(raw) < identifierSize {
		return "", fmt.Errorf("identifier too short: %d bytes", len(raw))
	}
	id, err := uuid.FromBytes(raw[:identifierSize])
	if err != nil {
		return "", fmt.Errorf("failed to derive device id: %w", err)
	}
	return strings.ToUpper(id.String()), nil
}

// ClientTime formats a timestamp the way Apple endpoints expect it
// (X-Apple-I-Client-Time and the record's date field).
func ClientTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// CurrentLocale returns the locale identifier sent with requests. Derived
// from the environment; en_US when undeterminable.
func CurrentLocale() string {
	for _, name := range []string{"LC_ALL", "LANG"} {
		v := os.Getenv(name)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i > 0 {
			v = v[:i]
		}
		if v != "" {
			return v
		}
	}
	return "en_US"
}

// CurrentTimeZone returns the local time zone abbreviation (e.g. UTC, CET).
func CurrentTimeZone() string {
	return time.Now().Format("MST")
}
