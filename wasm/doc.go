// Package wasm is the binary codec bridging Wasm bytecode and the IR:
// Decode parses a binary module into an ir.Module whose function
// bodies stay lazily encoded until first use, and Encode lowers an
// ir.Module back to a binary. Lowering spills SSA values to locals,
// rematerializes constants at point of use, and drives control flow
// through a dispatch loop, so arbitrary (even flattened) CFGs encode
// without a relooper.
package wasm
