// Package store provides durable persistence for the device identity used by
// anisette acquisition: the long-lived identifier, the adi_pb provisioning
// blob, the last-known-good server, and the set of trusted legacy servers.
//
// All backends persist a single JSON document and expose the same
// IdentityStore interface. Supported backends:
//
//   - file://   Local filesystem, optionally sealed (argon2id + AES-GCM)
//   - vault://  HashiCorp Vault KV v2
//   - s3://     Amazon S3 or compatible object storage
//   - mem://    In-memory, for tests and throwaway runs
//
// Every write replaces the whole document atomically. Backends serialize
// access internally so that concurrent readers and the single logical writer
// never observe a partially updated identity.
package store
