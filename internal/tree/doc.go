// Package tree mirrors the object store's flat namespace as a
// conventional directory hierarchy (component C4). See tree.go for the
// Node tagged variant and path operations, metadata.go for chmod/chown/
// utimens/xattr mutation.
package tree
