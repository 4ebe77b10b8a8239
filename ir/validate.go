package ir

import (
	"fmt"
	"strings"

	"github.com/wippyai/wasm-shaper/errors"
)

// valuePlace records where a value is defined: its block, and the
// instruction position within the block (-1 for blockparams).
type valuePlace struct {
	block Block
	index int
}

// Validate checks the body's structural invariants: stored successor
// lists match the terminators, every use is dominated by its def, and
// no blockparam or placeholder appears as an instruction.
// On failure the error carries a verbose dump of the body.
func (f *FunctionBody) Validate() error {
	// Verify that every block's succs are accurate.
	for bi := range f.Blocks.Len() {
		block := Block(bi)
		def := f.Blocks.At(block)
		var actual []Block
		def.Terminator.VisitSuccessors(func(succ Block) { actual = append(actual, succ) })
		if !blocksEqual(actual, def.Succs) {
			return errors.New(errors.PhaseIR, errors.KindStructuralInvariant).
				Block(block.String()).
				Detail("incorrect successors: actual %v, stored %v", actual, def.Succs).
				Dump(f.DisplayVerbose(" | ", nil)).
				Build()
		}
	}

	// Compute where every value is defined.
	place := NewPerEntity[Value](valuePlace{block: InvalidBlock})
	for bi := range f.Blocks.Len() {
		block := Block(bi)
		def := f.Blocks.At(block)
		for _, p := range def.Params {
			place.Set(p.Value, valuePlace{block: block, index: -1})
		}
		for i, inst := range def.Insts {
			place.Set(inst, valuePlace{block: block, index: i})
		}
	}

	// Verify that every use is at a legal location: same block but
	// earlier, or in a strictly dominating block.
	cfg := NewCFGInfo(f)
	var bad []string
	for bi := range f.Blocks.Len() {
		block := Block(bi)
		if !cfg.Reachable(block) {
			continue
		}
		def := f.Blocks.At(block)
		visitUse := func(u Value, index int, inst Value) {
			u = f.ResolveAlias(u)
			p := place.Get(u)
			if !Valid(p.block) {
				bad = append(bad, fmt.Sprintf("use of %s at %s in %s: not defined", u, inst, block))
				return
			}
			if p.block == block {
				if p.index >= index {
					bad = append(bad, fmt.Sprintf("use of %s by %s does not dominate location", u, inst))
				}
			} else if !cfg.Dominates(p.block, block) {
				bad = append(bad, fmt.Sprintf("use of %s defined in %s by %s in %s: def does not dominate", u, p.block, inst, block))
			}
		}

		for i, inst := range def.Insts {
			d := f.Values.At(inst)
			switch d.Kind {
			case DefOperator:
				for _, arg := range f.ArgPool.Slice(d.Args) {
					visitUse(arg, i, inst)
				}
			case DefPickOutput:
				visitUse(d.Value, i, inst)
			case DefBlockParam, DefPlaceholder:
				bad = append(bad, fmt.Sprintf("%s in instruction stream of %s: %s", inst, block, d.String()))
			}
		}
		termIdx := len(def.Insts)
		def.Terminator.VisitUses(func(u Value) {
			visitUse(u, termIdx, InvalidValue)
		})
	}
	if len(bad) > 0 {
		return errors.New(errors.PhaseIR, errors.KindStructuralInvariant).
			Detail("error(s) in SSA: %s", strings.Join(bad, "; ")).
			Dump(f.DisplayVerbose(" | ", nil)).
			Build()
	}
	return nil
}

func blocksEqual(a, b []Block) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
