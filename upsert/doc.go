// Package upsert writes embedded canonical entities to the document store.
//
// Every key is written with a single atomic store call that replaces the
// whole document. Entities without an embedding are skipped and reported,
// and per-key failures never stop the rest of the batch.
package upsert
