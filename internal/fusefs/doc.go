// Package fusefs implements component C5: the POSIX-like filesystem
// operations layer that binds the FUSE kernel protocol to the directory
// tree (C4), disk cache (C2), task queue (C3), and object-store client
// (C1). It serializes per-file concurrent access with a lock keyed by
// object id, and orchestrates debounced background uploads.
package fusefs
