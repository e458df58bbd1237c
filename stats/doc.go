// Package stats accumulates mapping statistics over a stream of SAM/BAM
// alignment records and folds independently built statistics together.
//
// Statistics live in a three-level tree. The root (Alignments) bins each
// record into a group keyed by (reference file, run id, barcode); each group
// further bins by aligned reference sequence. Every level keeps its own raw
// counters and frequency distributions, updated independently from the same
// record, so group totals always equal the sum of their reference children.
//
// Trees built over disjoint record streams can be combined with Add. Adding
// sums the raw counters and distribution buckets and recomputes every derived
// value (medians, N50, cov80, correlations) from the merged state, so the
// result is identical to having processed both streams against a single tree.
package stats
