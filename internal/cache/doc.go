// Package cache implements the bounded LRU disk cache of file bodies
// described by the zerofs design (component C2): a directory of files
// named by object id, an in-memory size index, and an LRU touch order
// enforced after every insertion. Entries with a pending upload can be
// pinned to survive eviction; see Pin.
package cache
