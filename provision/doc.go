// Package provision runs the V3 anisette provisioning handshake: a
// server-driven exchange over a single duplex connection that binds the
// locally generated device identifier to a server-issued adi_pb blob.
//
// The handshake logic lives in Machine, an explicit state machine that
// consumes one inbound frame at a time and returns the reply to send. The
// websocket plumbing lives in Service, which owns the connection for the
// lifetime of one handshake and closes it on every exit path. Keeping the
// two apart makes the protocol testable without a socket.
package provision
