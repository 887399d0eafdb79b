package query

import (
	"github.com/poiesic/attrcat/storage"
)

// SearchMonitor provides hooks to observe the query process.
// Implement this interface to track candidate pool sizes and results.
type SearchMonitor interface {
	Start(k int, filter *storage.Filter)
	AfterCandidateSearch(numCandidates int, result *storage.SearchResult)
	Widen(numCandidates int)
	Finish(hits []Hit)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ int, _ *storage.Filter)                      {}
func (n *noopMonitor) AfterCandidateSearch(_ int, _ *storage.SearchResult) {}
func (n *noopMonitor) Widen(_ int)                                         {}
func (n *noopMonitor) Finish(_ []Hit)                                      {}
