// Package gsa is the HTTP client for Apple's GrandSlam authentication
// endpoints used during anisette provisioning: the lookup document that
// advertises the provisioning URLs, and the start/end provisioning exchanges
// themselves.
//
// Every request carries the Apple envelope: the server-provided client-info
// and user-agent strings, the identity-derived local user id and device id,
// and a timestamp computed at send time. The timestamp is part of the
// authentication envelope, so headers are rebuilt per request, never cached.
package gsa
