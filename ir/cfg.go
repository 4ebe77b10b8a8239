package ir

import (
	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir/internal/bitset"
)

// CFGInfo holds derived control-flow facts for one function body:
// reverse post-order over reachable blocks, per-block RPO positions,
// immediate dominators, and a dominance query. Unreachable blocks have
// no RPO position and are skipped by passes that walk reachable code.
type CFGInfo struct {
	// Entry is the function's entry block.
	Entry Block
	// RPO is the reverse post-order of reachable blocks.
	RPO []Block
	// rpoPos maps a block to its position in RPO; -1 when unreachable.
	rpoPos PerEntity[Block, int32]
	// idom maps a block to its immediate dominator; the entry is its
	// own idom and unreachable blocks have none.
	idom PerEntity[Block, Block]
	// children is the dominator tree, keyed by parent.
	children map[Block][]Block
}

// NewCFGInfo computes CFG facts for the body. Traversal is iterative:
// recursion depth never depends on the block graph.
func NewCFGInfo(f *FunctionBody) *CFGInfo {
	c := &CFGInfo{
		Entry:  f.Entry,
		rpoPos: NewPerEntity[Block](int32(-1)),
		idom:   NewPerEntity[Block](InvalidBlock),
	}
	c.computeRPO(f)
	c.computeIdoms(f)
	c.children = map[Block][]Block{}
	for _, b := range c.RPO {
		if b == c.Entry {
			continue
		}
		parent := c.idom.Get(b)
		c.children[parent] = append(c.children[parent], b)
	}
	return c
}

// computeRPO runs an iterative DFS and reverses the postorder.
func (c *CFGInfo) computeRPO(f *FunctionBody) {
	visited := bitset.New(f.Blocks.Len())
	type frame struct {
		block Block
		next  int
	}
	var postorder []Block
	stack := []frame{{block: c.Entry}}
	visited.Set(uint32(c.Entry))
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := f.Blocks.At(top.block).Succs
		if top.next < len(succs) {
			succ := succs[top.next]
			top.next++
			if !visited.Has(uint32(succ)) {
				visited.Set(uint32(succ))
				stack = append(stack, frame{block: succ})
			}
			continue
		}
		postorder = append(postorder, top.block)
		stack = stack[:len(stack)-1]
	}
	c.RPO = make([]Block, 0, len(postorder))
	for i := len(postorder) - 1; i >= 0; i-- {
		c.RPO = append(c.RPO, postorder[i])
	}
	for pos, b := range c.RPO {
		c.rpoPos.Set(b, int32(pos))
	}
}

// computeIdoms iterates the Cooper-Harvey-Kennedy dataflow to a fixed
// point over RPO.
func (c *CFGInfo) computeIdoms(f *FunctionBody) {
	if len(c.RPO) == 0 {
		return
	}
	c.idom.Set(c.Entry, c.Entry)
	changed := true
	for changed {
		changed = false
		for _, b := range c.RPO {
			if b == c.Entry {
				continue
			}
			newIdom := InvalidBlock
			for _, p := range f.Blocks.At(b).Preds {
				if !c.Reachable(p) || !Valid(c.idom.Get(p)) {
					continue
				}
				if !Valid(newIdom) {
					newIdom = p
				} else {
					newIdom = c.intersect(newIdom, p)
				}
			}
			if Valid(newIdom) && c.idom.Get(b) != newIdom {
				c.idom.Set(b, newIdom)
				changed = true
			}
		}
	}
}

func (c *CFGInfo) intersect(a, b Block) Block {
	for a != b {
		for c.rpoPos.Get(a) > c.rpoPos.Get(b) {
			a = c.idom.Get(a)
		}
		for c.rpoPos.Get(b) > c.rpoPos.Get(a) {
			b = c.idom.Get(b)
		}
	}
	return a
}

// Reachable reports whether the block is reachable from entry.
func (c *CFGInfo) Reachable(b Block) bool {
	return c.rpoPos.Get(b) >= 0
}

// RPOPos returns the block's reverse post-order position; ok is false
// for unreachable blocks.
func (c *CFGInfo) RPOPos(b Block) (int, bool) {
	pos := c.rpoPos.Get(b)
	if pos < 0 {
		return 0, false
	}
	return int(pos), true
}

// Idom returns the block's immediate dominator (the entry dominates
// itself). InvalidBlock for unreachable blocks.
func (c *CFGInfo) Idom(b Block) Block {
	return c.idom.Get(b)
}

// DomChildren returns the blocks immediately dominated by b.
func (c *CFGInfo) DomChildren(b Block) []Block {
	return c.children[b]
}

// Dominates reports whether a dominates b. Reflexive: a block
// dominates itself.
func (c *CFGInfo) Dominates(a, b Block) bool {
	if a == b {
		return true
	}
	if !c.Reachable(a) || !c.Reachable(b) {
		return false
	}
	posA := c.rpoPos.Get(a)
	for c.rpoPos.Get(b) > posA {
		b = c.idom.Get(b)
	}
	return a == b
}

// VerifyReducible checks that every back-edge (a successor at an RPO
// position not after its source) targets a dominator of its source.
func (f *FunctionBody) VerifyReducible() error {
	cfg := NewCFGInfo(f)
	for rpo, block := range cfg.RPO {
		for _, succ := range f.Blocks.At(block).Succs {
			succRPO, ok := cfg.RPOPos(succ)
			if !ok {
				continue
			}
			if succRPO <= rpo && !cfg.Dominates(succ, block) {
				return errors.Irreducible(block.String(), succ.String())
			}
		}
	}
	return nil
}
