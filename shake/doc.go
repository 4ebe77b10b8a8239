// Package shake holds the whole-module rewrite machinery: the
// cross-module entity copier and tree-shaker, and the per-function
// translators — Kts (block-to-block), Fts (fuel-bounded tail-call
// lowering) and Frint (function-reference specialization).
//
// The translators assume max-SSA input: a block's state is fully
// described by its parameters plus its own instructions. A source
// value with no destination binding at its point of use is therefore a
// translator bug and surfaces as a missing-mapping error.
package shake
