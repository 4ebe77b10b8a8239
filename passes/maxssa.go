package passes

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/ir"
)

// MaxSSA converts the body to maximal SSA: every value live across a
// block boundary is carried by an explicit blockparam, so a block's
// state is fully described by its parameters plus its own
// instructions. This is the precondition the block-to-block
// translators rely on.
//
// With cutBlocks nil, every block gets blockparams for the outside
// values it references. With cutBlocks set, promotion cuts only at
// those blocks; other blocks reach dominating definitions directly.
func MaxSSA(f *ir.FunctionBody, cutBlocks map[ir.Block]struct{}) {
	cfg := ir.NewCFGInfo(f)
	MaxSSAWith(f, cutBlocks, cfg)
}

// MaxSSAWith is MaxSSA against a precomputed CFG.
func MaxSSAWith(f *ir.FunctionBody, cutBlocks map[ir.Block]struct{}, cfg *ir.CFGInfo) {
	p := &maxSSAPass{
		f:        f,
		cfg:      cfg,
		cuts:     cutBlocks,
		newArgs:  map[ir.Block][]ir.Value{},
		valueMap: map[blockValue]ir.Value{},
	}
	p.run()
}

type blockValue struct {
	block ir.Block
	value ir.Value
}

type maxSSAPass struct {
	f    *ir.FunctionBody
	cfg  *ir.CFGInfo
	cuts map[ir.Block]struct{}
	// newArgs records, per block, the source values its appended
	// blockparams carry; predecessors pass the matching values.
	newArgs  map[ir.Block][]ir.Value
	valueMap map[blockValue]ir.Value
}

func (p *maxSSAPass) run() {
	for bi := range p.f.Blocks.Len() {
		block := ir.Block(bi)
		if !p.cfg.Reachable(block) {
			continue
		}
		p.visitBlock(block)
	}
	p.updateBranchArgs()
}

// visitBlock rewrites every use inside the block to a locally-visible
// value, inserting blockparams as needed.
func (p *maxSSAPass) visitBlock(block ir.Block) {
	insts := p.f.Blocks.At(block).Insts
	for _, inst := range insts {
		// Work on a copy: the rewrite callback may grow the value
		// arena, invalidating pointers into it.
		vd := p.f.Values.Get(inst)
		if vd.Kind != ir.DefOperator && vd.Kind != ir.DefPickOutput {
			continue
		}
		if vd.Kind == ir.DefOperator {
			// The arg list may be shared with other values; clone before
			// the in-place rewrite.
			vd.Args = p.f.ArgPool.DeepClone(vd.Args)
		}
		vd.UpdateUses(&p.f.ArgPool, func(u *ir.Value) {
			*u = p.visitUse(block, *u)
		})
		p.f.Values.Set(inst, vd)
	}
	term := &p.f.Blocks.At(block).Terminator
	term.UpdateUses(func(u *ir.Value) {
		*u = p.visitUse(block, *u)
	})
}

func (p *maxSSAPass) visitUse(block ir.Block, u ir.Value) ir.Value {
	u = p.f.ResolveAlias(u)
	if p.f.ValueBlocks.Get(u) == block {
		return u
	}
	return p.valueForBlock(block, u)
}

// valueForBlock returns a value equal to v that is visible in block:
// either v itself (defined there), a blockparam inserted here, or the
// dominating block's copy when this block is not a cut.
func (p *maxSSAPass) valueForBlock(block ir.Block, v ir.Value) ir.Value {
	if mapped, ok := p.valueMap[blockValue{block, v}]; ok {
		return mapped
	}
	if p.f.ValueBlocks.Get(v) == block {
		return v
	}
	needsParam := true
	if p.cuts != nil {
		_, needsParam = p.cuts[block]
	}
	if !needsParam && len(p.f.Blocks.At(block).Preds) > 0 && p.cfg.Reachable(block) {
		idom := p.cfg.Idom(block)
		if ir.Valid(idom) && idom != block {
			mapped := p.valueForBlock(idom, v)
			p.valueMap[blockValue{block, v}] = mapped
			return mapped
		}
	}
	ty, ok := p.f.Values.At(v).Ty(&p.f.TypePool)
	if !ok {
		panic("maxssa: cross-block value without a single type: " + v.String())
	}
	param := p.f.AddBlockParam(block, ty)
	p.newArgs[block] = append(p.newArgs[block], v)
	p.valueMap[blockValue{block, v}] = param
	Logger().Debug("maxssa: promoted to blockparam",
		zap.Stringer("block", block), zap.Stringer("value", v), zap.Stringer("param", param))
	return param
}

// updateBranchArgs extends every branch's argument list to feed the
// appended blockparams of its target, iterating to a fixed point since
// feeding a target may promote further values in the predecessor.
func (p *maxSSAPass) updateBranchArgs() {
	for changed := true; changed; {
		changed = false
		for bi := range p.f.Blocks.Len() {
			block := ir.Block(bi)
			if !p.cfg.Reachable(block) {
				continue
			}
			term := &p.f.Blocks.At(block).Terminator
			term.UpdateTargets(func(t *ir.BlockTarget) {
				want := len(p.f.Blocks.At(t.Block).Params)
				if len(t.Args) >= want {
					return
				}
				// Original params precede appended ones; the gap is
				// exactly the tail of newArgs.
				appended := p.newArgs[t.Block]
				origParams := want - len(appended)
				for len(t.Args) < want {
					src := appended[len(t.Args)-origParams]
					t.Args = append(t.Args, p.valueForBlock(block, src))
				}
				changed = true
			})
		}
	}
}
