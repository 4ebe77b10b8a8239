package passes

import (
	"github.com/wippyai/wasm-shaper/ir"
)

// EmptyBlocks removes forwarding blocks: a block with no instructions
// whose terminator is an unconditional branch is elided by redirecting
// every predecessor to its target, substituting blockparam
// pass-throughs. Edges are rebuilt afterwards.
func EmptyBlocks(f *ir.FunctionBody) {
	for changed := true; changed; {
		changed = false
		for bi := range f.Blocks.Len() {
			block := ir.Block(bi)
			if block == f.Entry {
				continue
			}
			def := f.Blocks.At(block)
			if len(def.Insts) != 0 || def.Terminator.Kind != ir.TermBr {
				continue
			}
			fwd := def.Terminator.Target
			if fwd.Block == block {
				continue
			}
			// Map this block's params to the args it forwards.
			subst := map[ir.Value]ir.Value{}
			for _, p := range def.Params {
				subst[p.Value] = p.Value
			}
			for pi := range f.Blocks.Len() {
				pred := ir.Block(pi)
				if pred == block {
					continue
				}
				term := &f.Blocks.At(pred).Terminator
				term.UpdateTargets(func(t *ir.BlockTarget) {
					if t.Block != block {
						return
					}
					if len(t.Args) != len(def.Params) {
						return
					}
					for i, p := range def.Params {
						subst[p.Value] = t.Args[i]
					}
					newArgs := make([]ir.Value, len(fwd.Args))
					for i, a := range fwd.Args {
						if s, ok := subst[a]; ok {
							newArgs[i] = s
						} else {
							newArgs[i] = a
						}
					}
					t.Block = fwd.Block
					t.Args = newArgs
					changed = true
				})
			}
		}
	}
	f.RecomputeEdges()
}
