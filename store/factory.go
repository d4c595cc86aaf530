package store

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Factory creates identity stores from location URIs.
type Factory struct {
	log *slog.Logger

	// FilePassphrase seals file-backed stores at rest when non-empty.
	FilePassphrase string
}

// NewFactory creates a new factory instance that can create identity stores.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates an identity store from a location URI.
//
// Supported schemes:
//   - file:///path/to/identity.json - Local filesystem storage
//   - vault://host:port/mount/data/path?token=... - HashiCorp Vault KV v2
//   - s3://access:secret@bucket/prefix?region=us-east-1&endpoint=... - S3
//   - mem:// - In-memory storage (testing only)
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) StoreFor(locationURI string) (IdentityStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid store location URI: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileStore(u)
	case "vault":
		return f.createVaultStore(u)
	case "s3":
		return f.createS3Store(u)
	case "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}
}

// createFileStore creates a filesystem store.
// URI format: file:///home/user/.config/anisette/identity.json
func (f *Factory) createFileStore(u *url.URL) (IdentityStore, error) {
	path := u.Path
	if u.Host != "" {
		// Tolerate file://relative/path by joining host and path.
		path = u.Host + u.Path
	}
	if path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}

	f.log.Debug("Creating file identity store", slog.String("path", path))
	return NewFileStore(path, f.FilePassphrase, f.log)
}

// createVaultStore creates a Vault KV v2 store.
// URI format: vault://vault.example.com:8200/secret/anisette/identity
// The first path element is the mount, the rest is the data path. The token
// comes from the "token" query parameter or the VAULT_TOKEN environment.
func (f *Factory) createVaultStore(u *url.URL) (IdentityStore, error) {
	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault store requires a mount and data path")
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	f.log.Debug("Creating Vault identity store",
		slog.String("address", address),
		slog.String("mount", parts[0]),
		slog.String("path", parts[1]))
	return NewVaultStore(address, u.Query().Get("token"), parts[0], parts[1], f.log)
}

// createS3Store creates an S3 store.
// URI format: s3://accessKey:secretKey@bucket/prefix?region=us-east-1&endpoint=http://...
func (f *Factory) createS3Store(u *url.URL) (IdentityStore, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := u.Query().Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	f.log.Debug("Creating S3 identity store",
		slog.String("bucket", bucket),
		slog.String("region", region))
	return NewS3Store(bucket, strings.Trim(u.Path, "/"), region, endpoint, accessKey, secretKey, f.log)
}
