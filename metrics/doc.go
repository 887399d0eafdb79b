// Package metrics exposes Prometheus counters for the catalog pipeline stages.
//
// A nil *Recorder is valid and records nothing, so components can accept an
// optional recorder without nil checks at every call site.
package metrics
