package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultCatalogURL is the community-maintained list of anisette servers.
const DefaultCatalogURL = "https://servers.sidestore.io/servers.json"

// Server is one catalog entry.
type Server struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// catalogDocument is the wire shape of the server catalog.
type catalogDocument struct {
	Servers []Server `json:"servers"`
}

// Catalog fetches the remote server list.
type Catalog struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewCatalog creates a catalog client. An empty url means
// DefaultCatalogURL.
func NewCatalog(url string, log *slog.Logger) *Catalog {
	if url == "" {
		url = DefaultCatalogURL
	}
	return &Catalog{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log,
	}
}

// Servers fetches the catalog. The request bypasses intermediary caches so a
// freshly delisted server is not offered again.
func (c *Catalog) Servers(ctx context.Context) ([]Server, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch server catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server catalog returned status %d", resp.StatusCode)
	}

	var doc catalogDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("could not parse server catalog: %w", err)
	}

	c.log.Debug("Fetched server catalog",
		slog.String("url", c.url),
		slog.Int("servers", len(doc.Servers)))
	return doc.Servers, nil
}

// Addresses returns the catalog entries as candidate addresses, appended to
// the given explicit list without duplicates. Catalog failures degrade to the
// explicit list alone.
func (c *Catalog) Addresses(ctx context.Context, explicit []string) []string {
	servers, err := c.Servers(ctx)
	if err != nil {
		c.log.Warn("Server catalog unavailable, using explicit candidates only", "err", err)
		return explicit
	}

	out := make([]string, 0, len(explicit)+len(servers))
	seen := make(map[string]bool)
	for _, addr := range explicit {
		if !seen[addr] {
			out = append(out, addr)
			seen[addr] = true
		}
	}
	for _, srv := range servers {
		if srv.Address != "" && !seen[srv.Address] {
			out = append(out, srv.Address)
			seen[srv.Address] = true
		}
	}
	return out
}
