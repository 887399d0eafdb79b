package badger

import (
	"sync"

	"github.com/poiesic/attrcat/core"
	"github.com/poiesic/attrcat/storage/hnsw"
)

// compactMinTombstones is the number of replaced or removed vectors a graph
// may carry before it is rebuilt. Past it, the graph is rebuilt once its
// tombstones outnumber its live nodes.
const compactMinTombstones = 256

// vectorIndex pairs an HNSW graph with the mapping between graph node IDs
// and document keys. Replacing a key's vector tombstones the old node; the
// graph is compacted when tombstones dominate.
type vectorIndex struct {
	descriptor core.IndexDescriptor
	graph      *hnsw.Graph
	distance   hnsw.DistanceFunc
	similarity hnsw.ScoreFunc

	mu    sync.RWMutex
	nodes map[string]uint32
	keys  []string
}

func newVectorIndex(d core.IndexDescriptor) (*vectorIndex, error) {
	d = d.WithDefaults()
	graph, err := hnsw.FromDescriptor(d)
	if err != nil {
		return nil, err
	}
	distance, similarity, _ := hnsw.ForMetric(d.Metric)
	return &vectorIndex{
		descriptor: d,
		graph:      graph,
		distance:   distance,
		similarity: similarity,
		nodes:      make(map[string]uint32),
	}, nil
}

// accepts reports whether a vector belongs in this index.
func (vi *vectorIndex) accepts(vector []float32) bool {
	return len(vector) == vi.descriptor.Dimension
}

// put replaces the vector indexed under key. A vector of the wrong width
// only removes the previous entry.
func (vi *vectorIndex) put(key string, vector []float32) error {
	vi.mu.Lock()
	defer vi.mu.Unlock()

	if old, ok := vi.nodes[key]; ok {
		vi.graph.Delete(old)
		delete(vi.nodes, key)
	}
	if !vi.accepts(vector) {
		return nil
	}

	id, err := vi.graph.Insert(vector)
	if err != nil {
		return err
	}
	for int(id) >= len(vi.keys) {
		vi.keys = append(vi.keys, "")
	}
	vi.keys[id] = key
	vi.nodes[key] = id

	if t := vi.graph.Tombstones(); t >= compactMinTombstones && t > vi.graph.Len() {
		return vi.compact()
	}
	return nil
}

// compact rebuilds the graph from its live vectors. Callers hold vi.mu.
func (vi *vectorIndex) compact() error {
	graph, err := hnsw.FromDescriptor(vi.descriptor)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(vi.nodes))
	nodes := make(map[string]uint32, len(vi.nodes))
	for key, old := range vi.nodes {
		vector, ok := vi.graph.Vector(old)
		if !ok {
			continue
		}
		id, err := graph.Insert(vector)
		if err != nil {
			return err
		}
		for int(id) >= len(keys) {
			keys = append(keys, "")
		}
		keys[id] = key
		nodes[key] = id
	}
	vi.graph, vi.keys, vi.nodes = graph, keys, nodes
	return nil
}

// size returns the number of indexed vectors.
func (vi *vectorIndex) size() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	return vi.graph.Len()
}

// search returns the keys of up to k vectors nearest to q, closest first,
// and the number of vectors the graph held.
func (vi *vectorIndex) search(q []float32, k int) ([]string, int, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	neighbors, err := vi.graph.Search(q, k, vi.descriptor.EFSearch)
	if err != nil {
		return nil, 0, err
	}
	out := make([]string, 0, len(neighbors))
	for _, nb := range neighbors {
		if key, ok := vi.keyOfLocked(nb.ID); ok {
			out = append(out, key)
		}
	}
	return out, vi.graph.Len(), nil
}

// keyOfLocked returns the document key for a graph node. Callers hold vi.mu.
func (vi *vectorIndex) keyOfLocked(id uint32) (string, bool) {
	if int(id) >= len(vi.keys) {
		return "", false
	}
	key := vi.keys[id]
	if current, ok := vi.nodes[key]; !ok || current != id {
		return "", false
	}
	return key, true
}

// score returns the similarity between the query and a stored vector.
func (vi *vectorIndex) score(query, vector []float32) float32 {
	return vi.similarity(vi.distance(query, vector))
}
