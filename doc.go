// Package anisette acquires anisette data, the bundle of device and account
// identity headers Apple account services require for authentication, from
// community-run anisette servers.
//
// The package speaks both server dialects:
//
//   - V1, a single fetch of pre-baked headers from the server root, gated
//     behind explicit per-server user consent because such servers are
//     outdated and riskier to use;
//   - V3, where a locally generated device identifier is bound to a
//     server-issued adi_pb blob through a multi-turn provisioning handshake
//     (package provision), after which headers are fetched with a single
//     POST per acquisition.
//
// Engine is the caller-facing entry point. It selects a reachable server,
// resolves the dialect, provisions on demand, and recovers exactly once from
// the server-side "not provisioned" (-45061) signal before surfacing it as a
// terminal error.
package anisette
