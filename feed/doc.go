// Package feed reads raw source feeds into records for consolidation.
//
// The format is chosen by file extension. A trailing .gz or .zst is
// decompressed first, then the inner extension selects the parser:
//
//	.jsonl, .ndjson   one JSON object per line
//	.csv              comma separated, header row first
//	.tsv              tab separated, header row first
//	.psv              pipe separated, header row first
//
// A malformed row is returned as a *core.RecordError and reading continues
// with the next row.
package feed
