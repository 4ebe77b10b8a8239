// Package wasmshaper is a WebAssembly analysis and transformation
// framework: an SSA intermediate representation for Wasm modules, the
// invariants that keep it well-formed, and the transformation passes
// that consume and produce it.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	wasm-shaper/      Root package documentation
//	├── ir/           SSA IR: entity arenas, pools, module/function
//	│                 model, operators and metadata, CFG/dominance
//	├── passes/       maxssa, basic_opt, empty_blocks, splice,
//	│                 memfuse, unmem, reorder, flattening
//	├── shake/        Module copier, tree-shake, and the Kts/Fts/Frint
//	│                 function translators
//	├── wasm/         Binary codec: decode to IR, encode from IR
//	├── errors/       Structured error types for debugging
//	└── cmd/shape/    CLI driver and interactive IR browser
//
// # Quick Start
//
// Decode a module, tree-shake it, and emit the result:
//
//	m, err := wasm.Decode(data, wasm.FrontendOptions{})
//	if err != nil { ... }
//	shaken, err := shake.TreeShake(m)
//	if err != nil { ... }
//	out, err := wasm.Encode(shaken)
//
// Every pass consumes an exclusively-owned module or function body;
// composition is strictly sequential.
package wasmshaper
