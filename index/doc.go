// Package index ensures the catalog's ANN index exists before the first
// upsert or query.
//
// EnsureIndex is safe to run concurrently from several processes against
// the same store: when a create races with another creator, the index that
// already exists wins and its descriptor is returned.
package index
