// Package metrics wires a minimal set of Prometheus collectors into the
// filesystem operations layer: operation latency/error counts, cache
// hit/miss counts, and upload retry counts, served over HTTP for
// scraping.
package metrics
