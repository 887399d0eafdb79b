package hnsw

import (
	"cmp"
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/poiesic/attrcat/core"
)

const maxLevel = 16

// ErrUnknownMetric is returned by New for unsupported metrics.
var ErrUnknownMetric = errors.New("unknown metric")

// DimensionError reports a vector whose width differs from the graph's.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error {
	return core.ErrDimensionMismatch
}

// Options configures graph construction and search.
type Options struct {
	// M is the number of links each node keeps per layer above 0.
	// Layer 0 keeps 2*M.
	M int

	// EFConstruction is the candidate list width used while inserting.
	EFConstruction int

	// EFSearch is the default candidate list width used while searching.
	EFSearch int

	// Seed makes level assignment reproducible.
	Seed uint64
}

// DefaultOptions mirror core.IndexDescriptor defaults.
var DefaultOptions = Options{
	M:              core.DefaultM,
	EFConstruction: core.DefaultEFConstruction,
	EFSearch:       core.DefaultEFSearch,
	Seed:           1,
}

type node struct {
	vector []float32
	level  int
	links  [][]uint32
}

// Graph is a thread-safe HNSW graph.
type Graph struct {
	mu sync.RWMutex

	dimension int
	opts      Options
	distance  DistanceFunc
	ml        float64
	rng       *rand.Rand

	nodes    []*node
	deleted  *bitset.BitSet
	live     int
	entry    uint32
	topLevel int
	hasEntry bool
}

// New creates an empty graph for vectors of the given width.
func New(dimension int, metric core.Metric, optFns ...func(o *Options)) (*Graph, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", core.ErrInvalidIndexDescriptor)
	}
	distance, _, ok := ForMetric(metric)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EFSearch < 1 {
		opts.EFSearch = DefaultOptions.EFSearch
	}

	return &Graph{
		dimension: dimension,
		opts:      opts,
		distance:  distance,
		ml:        1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		deleted:   bitset.New(0),
	}, nil
}

// FromDescriptor creates a graph with the parameters of d.
func FromDescriptor(d core.IndexDescriptor, optFns ...func(o *Options)) (*Graph, error) {
	d = d.WithDefaults()
	fns := append([]func(o *Options){func(o *Options) {
		o.M = d.M
		o.EFConstruction = d.EFConstruction
		o.EFSearch = d.EFSearch
	}}, optFns...)
	return New(d.Dimension, d.Metric, fns...)
}

// Dimension returns the vector width.
func (g *Graph) Dimension() int {
	return g.dimension
}

// Len returns the number of live nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.live
}

// Tombstones returns the number of deleted nodes the graph still holds.
// Deleted nodes keep routing searches until the graph is rebuilt.
func (g *Graph) Tombstones() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes) - g.live
}

// Insert adds v to the graph and returns its ID.
func (g *Graph) Insert(v []float32) (uint32, error) {
	if len(v) != g.dimension {
		return 0, &DimensionError{Expected: g.dimension, Actual: len(v)}
	}
	vec := slices.Clone(v)

	g.mu.Lock()
	defer g.mu.Unlock()

	id := uint32(len(g.nodes))
	level := g.randomLevel()
	n := &node{vector: vec, level: level, links: make([][]uint32, level+1)}
	g.nodes = append(g.nodes, n)
	g.live++

	if !g.hasEntry {
		g.entry, g.topLevel, g.hasEntry = id, level, true
		return id, nil
	}

	ep := Neighbor{ID: g.entry, Distance: g.distance(vec, g.nodes[g.entry].vector)}
	for l := g.topLevel; l > level; l-- {
		ep = g.greedy(vec, ep, l)
	}

	for l := min(level, g.topLevel); l >= 0; l-- {
		candidates := g.searchLayer(vec, ep, g.opts.EFConstruction, l)
		neighbors := g.selectNeighbors(candidates, g.opts.M)

		n.links[l] = make([]uint32, len(neighbors))
		for i, nb := range neighbors {
			n.links[l][i] = nb.ID
		}
		for _, nb := range neighbors {
			g.link(nb.ID, id, l)
		}
		ep = candidates[0]
	}

	if level > g.topLevel {
		g.entry, g.topLevel = id, level
	}
	return id, nil
}

// Delete tombstones id. It reports whether a live node was removed.
func (g *Graph) Delete(id uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if int(id) >= len(g.nodes) || g.deleted.Test(uint(id)) {
		return false
	}
	g.deleted.Set(uint(id))
	g.live--
	return true
}

// Vector returns a copy of the vector stored under id.
func (g *Graph) Vector(id uint32) ([]float32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if int(id) >= len(g.nodes) || g.deleted.Test(uint(id)) {
		return nil, false
	}
	return slices.Clone(g.nodes[id].vector), true
}

// Search returns up to k live neighbors of q, closest first. ef widens the
// candidate list; values below k or the graph default are raised.
func (g *Graph) Search(q []float32, k, ef int) ([]Neighbor, error) {
	if len(q) != g.dimension {
		return nil, &DimensionError{Expected: g.dimension, Actual: len(q)}
	}
	if k <= 0 {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.live == 0 {
		return nil, nil
	}
	if k >= g.live {
		return g.bruteSearch(q, k), nil
	}

	ef = max(ef, k, g.opts.EFSearch)
	ep := Neighbor{ID: g.entry, Distance: g.distance(q, g.nodes[g.entry].vector)}
	for l := g.topLevel; l > 0; l-- {
		ep = g.greedy(q, ep, l)
	}

	candidates := g.searchLayer(q, ep, ef, 0)
	out := make([]Neighbor, 0, k)
	for _, c := range candidates {
		if g.deleted.Test(uint(c.ID)) {
			continue
		}
		out = append(out, c)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (g *Graph) bruteSearch(q []float32, k int) []Neighbor {
	out := make([]Neighbor, 0, g.live)
	for id, n := range g.nodes {
		if g.deleted.Test(uint(id)) {
			continue
		}
		out = append(out, Neighbor{ID: uint32(id), Distance: g.distance(q, n.vector)})
	}
	sortNeighbors(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// greedy walks layer l from ep toward q until no link gets closer.
func (g *Graph) greedy(q []float32, ep Neighbor, l int) Neighbor {
	for changed := true; changed; {
		changed = false
		for _, id := range g.linksAt(ep.ID, l) {
			if d := g.distance(q, g.nodes[id].vector); d < ep.Distance {
				ep = Neighbor{ID: id, Distance: d}
				changed = true
			}
		}
	}
	return ep
}

// searchLayer runs a best-first search of layer l and returns up to ef
// neighbors of q, closest first. Tombstoned nodes are included.
func (g *Graph) searchLayer(q []float32, ep Neighbor, ef, l int) []Neighbor {
	visited := bitset.New(uint(len(g.nodes)))
	visited.Set(uint(ep.ID))

	candidates := &queue{}
	results := &queue{max: true}
	heap.Push(candidates, ep)
	heap.Push(results, ep)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(Neighbor)
		if results.Len() >= ef && c.Distance > results.top().Distance {
			break
		}

		for _, id := range g.linksAt(c.ID, l) {
			if visited.Test(uint(id)) {
				continue
			}
			visited.Set(uint(id))

			d := g.distance(q, g.nodes[id].vector)
			if results.Len() < ef || d < results.top().Distance {
				nb := Neighbor{ID: id, Distance: d}
				heap.Push(candidates, nb)
				heap.Push(results, nb)
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := slices.Clone(results.items)
	sortNeighbors(out)
	return out
}

// selectNeighbors applies the HNSW diversity heuristic to candidates sorted
// closest first: a candidate is kept only if it is closer to the base than to
// every neighbor already kept. Pruned candidates backfill up to m.
func (g *Graph) selectNeighbors(candidates []Neighbor, m int) []Neighbor {
	if len(candidates) <= m {
		return candidates
	}

	kept := make([]Neighbor, 0, m)
	var pruned []Neighbor
	for _, c := range candidates {
		if len(kept) >= m {
			break
		}
		good := true
		for _, k := range kept {
			if g.distance(g.nodes[c.ID].vector, g.nodes[k.ID].vector) < c.Distance {
				good = false
				break
			}
		}
		if good {
			kept = append(kept, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, p := range pruned {
		if len(kept) >= m {
			break
		}
		kept = append(kept, p)
	}
	return kept
}

// link adds a link from -> to on layer l, shrinking from's links when they
// exceed the layer's capacity.
func (g *Graph) link(from, to uint32, l int) {
	n := g.nodes[from]
	n.links[l] = append(n.links[l], to)

	capacity := g.opts.M
	if l == 0 {
		capacity = 2 * g.opts.M
	}
	if len(n.links[l]) <= capacity {
		return
	}

	candidates := make([]Neighbor, len(n.links[l]))
	for i, id := range n.links[l] {
		candidates[i] = Neighbor{ID: id, Distance: g.distance(n.vector, g.nodes[id].vector)}
	}
	sortNeighbors(candidates)

	selected := g.selectNeighbors(candidates, capacity)
	n.links[l] = n.links[l][:0]
	for _, s := range selected {
		n.links[l] = append(n.links[l], s.ID)
	}
}

func (g *Graph) linksAt(id uint32, l int) []uint32 {
	n := g.nodes[id]
	if l >= len(n.links) {
		return nil
	}
	return n.links[l]
}

func (g *Graph) randomLevel() int {
	level := int(math.Floor(-math.Log(1-g.rng.Float64()) * g.ml))
	return min(level, maxLevel)
}

func sortNeighbors(ns []Neighbor) {
	slices.SortFunc(ns, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
