// Package ir holds the in-memory intermediate representation for
// WebAssembly modules: typed entity index spaces, the SSA value graph
// with block parameters as phi-nodes, the control-flow graph with
// dominance information, and the operator set with its type and
// side-effect metadata.
//
// A Module owns per-module entities (signatures, functions, globals,
// tables, memories, control tags) in dense arenas; a FunctionBody owns
// per-function entities (blocks, values, locals) plus interning pools
// for argument and result-type lists. All indices are 32-bit handles
// with 0xFFFF_FFFF reserved as the invalid sentinel.
package ir
