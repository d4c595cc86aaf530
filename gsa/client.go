package gsa

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"howett.net/plist"

	"github.com/sidestore/anisette"
)

// LookupURL is Apple's GrandSlam service directory.
const LookupURL = "https://gsa.apple.com/grandslam/GsService2/lookup"

// Envelope holds the per-identity values stamped onto every request.
type Envelope struct {
	ClientInfo  string
	UserAgent   string
	LocalUserID string
	DeviceID    string
}

// ProvisioningURLs are the two endpoints the lookup document advertises for
// ADI provisioning.
type ProvisioningURLs struct {
	Start string
	End   string
}

// Client talks to Apple's GSA endpoints on behalf of one device identity.
type Client struct {
	env       Envelope
	client    *http.Client
	log       *slog.Logger
	lookupURL string
}

// NewClient creates a GSA client for the given envelope.
func NewClient(env Envelope, log *slog.Logger) *Client {
	return &Client{
		env:       env,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
		lookupURL: LookupURL,
	}
}

// SetLookupURL overrides the service directory address. Test hook.
func (c *Client) SetLookupURL(url string) { c.lookupURL = url }

// lookupResponse is the subset of the GsService2 directory we consume.
type lookupResponse struct {
	URLs struct {
		MidStartProvisioning  string `plist:"midStartProvisioning"`
		MidFinishProvisioning string `plist:"midFinishProvisioning"`
	} `plist:"urls"`
}

// plistRequest is the signed request body shape for the provisioning
// endpoints. Header stays empty; Request carries the handshake payload.
type plistRequest struct {
	Header  map[string]string `plist:"Header"`
	Request map[string]string `plist:"Request"`
}

// Lookup fetches the service directory and extracts the provisioning URLs.
func (c *Client) Lookup(ctx context.Context) (ProvisioningURLs, error) {
	body, err := c.do(ctx, http.MethodGet, c.lookupURL, nil)
	if err != nil {
		return ProvisioningURLs{}, err
	}

	var doc lookupResponse
	if _, err := plist.Unmarshal(body, &doc); err != nil {
		return ProvisioningURLs{}, fmt.Errorf("could not parse lookup response: %w", err)
	}

	urls := ProvisioningURLs{
		Start: doc.URLs.MidStartProvisioning,
		End:   doc.URLs.MidFinishProvisioning,
	}
	if urls.Start == "" || urls.End == "" {
		return ProvisioningURLs{}, fmt.Errorf("lookup response is missing provisioning urls")
	}

	c.log.Debug("Resolved provisioning URLs",
		slog.String("start", urls.Start),
		slog.String("end", urls.End))
	return urls, nil
}

type startProvisioningResponse struct {
	Response struct {
		SPIM string `plist:"spim"`
	} `plist:"Response"`
}

// StartProvisioning POSTs the empty signed request to the start URL and
// returns the server provisioning intermediate metadata (spim).
func (c *Client) StartProvisioning(ctx context.Context, url string) (string, error) {
	body, err := c.post(ctx, url, plistRequest{
		Header:  map[string]string{},
		Request: map[string]string{},
	})
	if err != nil {
		return "", err
	}

	var doc startProvisioningResponse
	if _, err := plist.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("could not parse start provisioning response: %w", err)
	}
	if doc.Response.SPIM == "" {
		return "", fmt.Errorf("start provisioning response has no spim")
	}
	return doc.Response.SPIM, nil
}

type endProvisioningResponse struct {
	Response struct {
		PTM string `plist:"ptm"`
		TK  string `plist:"tk"`
	} `plist:"Response"`
}

// EndProvisioning POSTs the client provisioning intermediate metadata (cpim)
// to the end URL and returns the provisioning trust material (ptm, tk).
func (c *Client) EndProvisioning(ctx context.Context, url, cpim string) (ptm, tk string, err error) {
	body, err := c.post(ctx, url, plistRequest{
		Header:  map[string]string{},
		Request: map[string]string{"cpim": cpim},
	})
	if err != nil {
		return "", "", err
	}

	var doc endProvisioningResponse
	if _, err := plist.Unmarshal(body, &doc); err != nil {
		return "", "", fmt.Errorf("could not parse end provisioning response: %w", err)
	}
	if doc.Response.PTM == "" || doc.Response.TK == "" {
		return "", "", fmt.Errorf("end provisioning response is missing ptm or tk")
	}
	return doc.Response.PTM, doc.Response.TK, nil
}

func (c *Client) post(ctx context.Context, url string, req plistRequest) ([]byte, error) {
	encoded, err := plist.Marshal(req, plist.XMLFormat)
	if err != nil {
		return nil, fmt.Errorf("could not encode request plist: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, encoded)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	c.applyEnvelope(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// applyEnvelope stamps the Apple request headers. The client time is
// computed here, at send time, because it participates in server-side
// validation.
func (c *Client) applyEnvelope(req *http.Request) {
	req.Header.Set("X-Mme-Client-Info", c.env.ClientInfo)
	req.Header.Set("User-Agent", c.env.UserAgent)
	req.Header.Set("Content-Type", "text/x-xml-plist")
	req.Header.Set("Accept", "*/*")

	req.Header.Set("X-Apple-I-MD-LU", c.env.LocalUserID)
	req.Header.Set("X-Mme-Device-Id", c.env.DeviceID)

	req.Header.Set("X-Apple-I-Client-Time", anisette.ClientTime(time.Now()))
	req.Header.Set("X-Apple-Locale", anisette.CurrentLocale())
	req.Header.Set("X-Apple-I-TimeZone", anisette.CurrentTimeZone())
}
