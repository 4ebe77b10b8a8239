package shake

import (
	"github.com/wippyai/wasm-shaper/ir"
)

// Kts translates blocks of one function body into another,
// block-to-block. Revisits return the cached destination block, which
// guarantees termination on cyclic CFGs. Pure values with no remaining
// use are dropped in transit; alias nodes collapse to their targets
// and are never materialized in the destination.
//
// The source must be in max-SSA form. Go's growable goroutine stacks
// bound the recursion over CFG edges.
type Kts struct {
	Blocks map[ir.Block]ir.Block
}

// NewKts returns a translator with an empty block cache.
func NewKts() *Kts {
	return &Kts{Blocks: map[ir.Block]ir.Block{}}
}

// Translate produces, in dst, a block semantically equivalent to src's
// block k, recursively translating successors.
func (kt *Kts) Translate(dst *ir.FunctionBody, src *ir.FunctionBody, k ir.Block) (ir.Block, error) {
	if l, ok := kt.Blocks[k]; ok {
		return l, nil
	}
	new := dst.AddBlock()
	state := map[ir.Value]ir.Value{}
	for _, p := range src.Blocks.At(k).Params {
		state[p.Value] = dst.AddBlockParam(new, p.Type)
	}
	kt.Blocks[k] = new

	if err := copyInsts(dst, src, k, new, state, "kts"); err != nil {
		return ir.InvalidBlock, err
	}

	target := func(t *ir.BlockTarget) (ir.BlockTarget, error) {
		args, err := mapValues(state, t.Args, "kts", k)
		if err != nil {
			return ir.BlockTarget{}, err
		}
		block, err := kt.Translate(dst, src, t.Block)
		if err != nil {
			return ir.BlockTarget{}, err
		}
		return ir.BlockTarget{Block: block, Args: args}, nil
	}
	term, err := rewriteTerm(src, k, state, "kts", target)
	if err != nil {
		return ir.InvalidBlock, err
	}
	dst.SetTerminator(new, term)
	return new, nil
}
