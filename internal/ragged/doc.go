// Package ragged models variable-length per-sample data as a flat buffer
// plus a strictly increasing boundary index.
//
// Responsibilities: group bookkeeping (Offsets), per-group views over
// gonum matrices, and per-group reductions (max, mean, softmax, weighted
// sum). Points, text tokens and context tokens all use this one type so that
// sample boundaries are never re-derived ad hoc.
//
// Dependency rule: ragged depends only on gonum; it knows nothing about
// points, actions or models.
package ragged
