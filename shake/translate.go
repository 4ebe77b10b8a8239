package shake

import (
	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/passes"
)

// mapValue substitutes one source value through the translation state.
func mapValue(state map[ir.Value]ir.Value, v ir.Value, pass string, block ir.Block) (ir.Value, error) {
	if mapped, ok := state[v]; ok {
		return mapped, nil
	}
	return ir.InvalidValue, errors.MissingMapping(pass, block.String(), v.String())
}

func mapValues(state map[ir.Value]ir.Value, vs []ir.Value, pass string, block ir.Block) ([]ir.Value, error) {
	out := make([]ir.Value, len(vs))
	for i, v := range vs {
		mapped, err := mapValue(state, v, pass, block)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
	}
	return out, nil
}

// pureAndUnused reports whether instruction i of block k can be
// dropped during translation: it is pure and neither a later
// instruction nor the terminator reads it.
func pureAndUnused(src *ir.FunctionBody, k ir.Block, i ir.Value) bool {
	if !passes.ValueIsPure(i, src) {
		return false
	}
	unused := true
	for _, j := range src.Blocks.At(k).Insts {
		src.Values.At(j).VisitUses(&src.ArgPool, func(u ir.Value) {
			if u == i {
				unused = false
			}
		})
	}
	src.Blocks.At(k).Terminator.VisitUses(func(u ir.Value) {
		if u == i {
			unused = false
		}
	})
	return unused
}

// copyInsts copies block k's instructions from src into dst's block
// new, pruning pure dead values and extending the substitution state.
func copyInsts(dst, src *ir.FunctionBody, k, new ir.Block, state map[ir.Value]ir.Value, pass string) error {
	for _, i := range src.Blocks.At(k).Insts {
		if pureAndUnused(src, k, i) {
			continue
		}
		d := src.Values.At(i)
		var v ir.Value
		switch d.Kind {
		case ir.DefBlockParam, ir.DefPlaceholder:
			// Structurally impossible in an instruction stream;
			// FunctionBody.Validate reports such bodies as well.
			return errors.New(errors.PhaseTranslate, errors.KindStructuralInvariant).
				Pass(pass).
				Block(k.String()).
				Value(i.String()).
				Detail("%s in instruction stream", d).
				Build()
		case ir.DefOperator:
			args, err := mapValues(state, src.ArgPool.Slice(d.Args), pass, k)
			if err != nil {
				return err
			}
			v = dst.AddOp(new, d.Op, args, src.TypePool.Slice(d.Types))
		case ir.DefPickOutput:
			mapped, err := mapValue(state, d.Value, pass, k)
			if err != nil {
				return err
			}
			v = dst.AddValue(ir.PickOutputDef(mapped, d.Index, d.Type))
			dst.AppendToBlock(new, v)
		case ir.DefAlias:
			mapped, err := mapValue(state, d.Value, pass, k)
			if err != nil {
				return err
			}
			v = mapped
		case ir.DefNone:
			v = dst.AddOp(new, ir.NopOp(), nil, nil)
		}
		state[i] = v
	}
	return nil
}

// rewriteTerm rebuilds block k's terminator with values substituted
// through state and each block target rewritten by targetFn.
func rewriteTerm(src *ir.FunctionBody, k ir.Block, state map[ir.Value]ir.Value, pass string,
	targetFn func(*ir.BlockTarget) (ir.BlockTarget, error)) (ir.Terminator, error) {

	t := src.Blocks.At(k).Terminator
	switch t.Kind {
	case ir.TermBr:
		target, err := targetFn(&t.Target)
		if err != nil {
			return ir.Terminator{}, err
		}
		return ir.BrTerm(target), nil
	case ir.TermCondBr:
		ifTrue, err := targetFn(&t.IfTrue)
		if err != nil {
			return ir.Terminator{}, err
		}
		ifFalse, err := targetFn(&t.IfFalse)
		if err != nil {
			return ir.Terminator{}, err
		}
		cond, err := mapValue(state, t.Cond, pass, k)
		if err != nil {
			return ir.Terminator{}, err
		}
		return ir.CondBrTerm(cond, ifTrue, ifFalse), nil
	case ir.TermSelect:
		value, err := mapValue(state, t.Value, pass, k)
		if err != nil {
			return ir.Terminator{}, err
		}
		def, err := targetFn(&t.Default)
		if err != nil {
			return ir.Terminator{}, err
		}
		targets := make([]ir.BlockTarget, len(t.Targets))
		for i := range t.Targets {
			targets[i], err = targetFn(&t.Targets[i])
			if err != nil {
				return ir.Terminator{}, err
			}
		}
		return ir.SelectTerm(value, targets, def), nil
	case ir.TermReturn:
		values, err := mapValues(state, t.Values, pass, k)
		if err != nil {
			return ir.Terminator{}, err
		}
		return ir.ReturnTerm(values), nil
	case ir.TermReturnCall:
		args, err := mapValues(state, t.Args, pass, k)
		if err != nil {
			return ir.Terminator{}, err
		}
		return ir.ReturnCallTerm(t.Func, args), nil
	case ir.TermReturnCallIndirect:
		args, err := mapValues(state, t.Args, pass, k)
		if err != nil {
			return ir.Terminator{}, err
		}
		return ir.ReturnCallIndirectTerm(t.Sig, t.Table, args), nil
	case ir.TermReturnCallRef:
		args, err := mapValues(state, t.Args, pass, k)
		if err != nil {
			return ir.Terminator{}, err
		}
		return ir.ReturnCallRefTerm(t.Sig, args), nil
	case ir.TermUnreachable:
		return ir.UnreachableTerm(), nil
	default:
		return ir.Terminator{}, nil
	}
}
