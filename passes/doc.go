// Package passes holds the whole-module and per-function rewrites:
// max-SSA conversion, basic optimization, empty-block elision, the
// domtree visitor framework, operator splicing, memory fusion,
// unmemming, entity reordering, and control-flow flattening.
//
// Every pass consumes an exclusively-owned *ir.Module or
// *ir.FunctionBody and runs synchronously; composition is strictly
// sequential.
package passes
