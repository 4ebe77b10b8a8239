// Package errors provides structured error types for the wasm-shaper library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the context a transformation failure needs:
// the pass that was running, the block and value it was looking at, and the
// cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTranslate, errors.KindMissingMapping).
//		Pass("kts").
//		Block("block3").
//		Value("v17").
//		Detail("source value has no destination binding").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingMapping("fts", "block3", "v17")
//	err := errors.Irreducible("block4", "block2")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
