package hnsw

import "container/heap"

var _ heap.Interface = (*queue)(nil)

// Neighbor is a node ID with its distance from a query.
type Neighbor struct {
	ID       uint32
	Distance float32
}

// queue is a binary heap of neighbors. With max set the farthest neighbor is
// on top, otherwise the closest.
type queue struct {
	max   bool
	items []Neighbor
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	if q.max {
		return q.items[i].Distance > q.items[j].Distance
	}
	return q.items[i].Distance < q.items[j].Distance
}

func (q *queue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }

func (q *queue) Push(x any) { q.items = append(q.items, x.(Neighbor)) }

func (q *queue) Pop() any {
	n := len(q.items)
	item := q.items[n-1]
	q.items = q.items[:n-1]
	return item
}

func (q *queue) top() Neighbor { return q.items[0] }
