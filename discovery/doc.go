// Package discovery finds a usable anisette server. Candidates come from
// three sources that callers may combine: an explicit list, the community
// server catalog, and DNS SRV records. Selector health-checks candidates in
// order, always trying the persisted last-known-good server first, and
// persists the winner as the new default.
package discovery
