// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest-neighbor search over fixed-width float32 vectors.
//
// Nodes are addressed by dense uint32 IDs assigned at insert time. Deleting a
// node tombstones it: the node keeps routing searches but never appears in
// results. Graphs holding no more live nodes than the requested neighbor
// count are searched exhaustively, so small indexes return exact results.
package hnsw
