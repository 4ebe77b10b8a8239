package passes

import (
	"github.com/wippyai/wasm-shaper/ir"
)

// DomtreePass visits blocks in dominator-tree order: Enter on the way
// down, Leave on the way back up.
type DomtreePass interface {
	Enter(block ir.Block, body *ir.FunctionBody)
	Leave(block ir.Block, body *ir.FunctionBody)
}

// DomPass drives a DomtreePass over the body's dominator tree starting
// at the entry block. Traversal is an explicit stack; depth does not
// depend on the block graph.
func DomPass(body *ir.FunctionBody, cfg *ir.CFGInfo, pass DomtreePass) {
	type frame struct {
		block ir.Block
		next  int
	}
	stack := []frame{{block: body.Entry}}
	pass.Enter(body.Entry, body)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		children := cfg.DomChildren(top.block)
		if top.next < len(children) {
			child := children[top.next]
			top.next++
			pass.Enter(child, body)
			stack = append(stack, frame{block: child})
			continue
		}
		pass.Leave(top.block, body)
		stack = stack[:len(stack)-1]
	}
}
