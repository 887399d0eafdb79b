// Package consolidate merges raw records from several source feeds into
// canonical catalog entities keyed by a normalized identifier.
//
// Feeds are processed in the order given; earlier feeds take precedence.
// The merge rules are:
//
//   - Scalar fields and tags: first writer wins. A later feed only fills a
//     value that is empty or missing.
//   - Rule fields: appended in arrival order, deduplicated by exact string.
//   - Provenance: the set of feed IDs that contributed to the entity.
//   - Tags missing from every contributing feed get the configured defaults
//     ("General" domain, "Unknown" criticality).
//
// Records without any of their feed's identifier fields are rejected with a
// core.RecordError and never abort the run. Consolidation is a pure function
// of its input, so consolidating the same feeds twice yields the same entities.
package consolidate
