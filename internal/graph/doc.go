// Package graph holds the dependency graph of instrument channels and derived
// filters.
//
// # Storage
//
// Nodes live in an arena and are addressed by generational Handles. Removing
// a node bumps its slot generation, so a handle held by a stale binding or a
// caller simply stops resolving instead of pointing at freed memory.
//
// # Kinds
//
// A node is either a Channel (a root fed by an instrument download, no
// inputs) or a Filter (a Computer with inputs bound to other nodes' output
// streams). Behaviour is selected by switching on Kind.
//
// # Invariants
//
//   - The binding graph is acyclic. Bind rejects an edge that would close a
//     cycle, so execution never has to discover one.
//   - Each node tracks which nodes consume its outputs. Remove detaches
//     inbound bindings and leaves consumers with a dangling handle, which the
//     executor reports as a per-node error.
//   - Pin guards keep nodes alive for the duration of a refresh pass. A node
//     removed while pinned is hidden immediately and freed on the last release.
//
// # Thread-Safety
//
// All Graph methods are safe for concurrent use. Stream contents are not
// guarded here; the session's waveform-data lock covers them.
package graph
