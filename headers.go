package anisette

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sidestore/anisette/store"
)

// notProvisionedCode is the GSA error code embedded in get_headers error
// messages when the server has no ADI state for the identifier.
const notProvisionedCode = "-45061"

// HeaderFetcher implements the V3 header exchange: identifier plus adi_pb in,
// anisette headers out.
type HeaderFetcher struct {
	store  store.IdentityStore
	client *http.Client
	log    *slog.Logger
}

// NewHeaderFetcher creates a V3 header fetcher.
func NewHeaderFetcher(st store.IdentityStore, log *slog.Logger) *HeaderFetcher {
	return &HeaderFetcher{
		store:  st,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Fetch exchanges the stored identity for an anisette bundle. When the server
// reports the -45061 "not provisioned" code, the stored adi_pb blob is
// cleared and ErrNotProvisioned is returned so the engine can re-provision;
// every other server-side error is terminal.
func (f *HeaderFetcher) Fetch(ctx context.Context, server string, info ClientInfo) (*AnisetteRecord, error) {
	st, err := f.store.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity state: %w", err)
	}
	if !st.Provisioned() {
		return nil, ErrNotProvisioned
	}

	body, err := json.Marshal(map[string]string{
		"identifier": st.Identifier,
		"adi_pb":     st.ADIBlob,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnisetteV3, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/v3/get_headers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnisetteV3, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not reach %s: %v", ErrAnisetteV3, server, err)
	}
	defer resp.Body.Close()

	if version := resp.Header.Get("Implementation-Version"); version != "" {
		f.log.Debug("Server implementation version", slog.String("version", version))
	}

	var headers map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&headers); err != nil {
		return nil, fmt.Errorf("%w: %s returned a non-JSON body: %v", ErrAnisetteV3, server, err)
	}

	if headers["result"] == "GetHeadersError" {
		message := headers["message"]
		if strings.Contains(message, notProvisionedCode) {
			f.log.Warn("Server reports identity not provisioned, clearing adi_pb",
				slog.String("server", server))
			if err := f.store.ClearADIBlob(ctx); err != nil {
				return nil, fmt.Errorf("failed to clear adi_pb: %w", err)
			}
			return nil, ErrNotProvisioned
		}
		return nil, fmt.Errorf("%w: server error: %s", ErrAnisetteV3, message)
	}

	localUserID, err := LocalUserID(st.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnisetteV3, err)
	}
	deviceID, err := DeviceUniqueID(st.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnisetteV3, err)
	}

	rec, err := recordFromV3(headers, info, localUserID, deviceID, time.Now())
	if err != nil {
		return nil, err
	}

	f.log.Debug("Fetched V3 anisette", slog.String("server", server))
	return rec, nil
}
