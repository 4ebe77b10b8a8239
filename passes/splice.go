package passes

import (
	"github.com/wippyai/wasm-shaper/ir"
)

// SpliceCache caches one wrapper function per operator.
type SpliceCache map[ir.Operator]ir.Func

// SpliceOp wraps a single operator into a tiny new function whose
// signature is (inputs(op)) -> (outputs(op)): the entry block executes
// the operator on the parameters and returns its results. Calls are
// wrapped as tail-calls.
func SpliceOp(m *ir.Module, op ir.Operator) (ir.Func, error) {
	ins, err := ir.OpInputs(m, nil, op)
	if err != nil {
		return ir.InvalidFunc, err
	}
	outs, err := ir.OpOutputs(m, nil, op)
	if err != nil {
		return ir.InvalidFunc, err
	}
	sig := m.NewSig(ir.FuncSig(ins, outs))
	body := ir.NewFunctionBody(m, sig)
	params := make([]ir.Value, 0, len(ins))
	for _, p := range body.Blocks.At(body.Entry).Params {
		params = append(params, p.Value)
	}
	switch op.Kind {
	case ir.OpCall:
		body.SetTerminator(body.Entry, ir.ReturnCallTerm(op.Func, params))
	case ir.OpCallIndirect:
		body.SetTerminator(body.Entry, ir.ReturnCallIndirectTerm(op.Sig, op.Table, params))
	default:
		vs := body.ArgPool.FromSlice(params)
		ts := body.TypePool.FromSlice(outs)
		v := body.AddValue(ir.OperatorDef(op, vs, ts))
		rets := []ir.Value{v}
		body.AppendToBlock(body.Entry, v)
		if r := m.ResultsRef(body, v); r != nil {
			rets = r
		} else if len(outs) != 1 {
			rets = make([]ir.Value, 0, len(outs))
			for i, ty := range outs {
				w := body.AddValue(ir.PickOutputDef(v, uint32(i), ty))
				body.AppendToBlock(body.Entry, w)
				rets = append(rets, w)
			}
		}
		body.SetTerminator(body.Entry, ir.ReturnTerm(rets))
	}
	return m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: sig, Name: op.String(), Body: body}), nil
}

// SpliceFunc replaces every non-trivial operator of the body with a
// call to its spliced wrapper. Bare select, the constant family and
// direct calls stay inline.
func SpliceFunc(m *ir.Module, f *ir.FunctionBody, cache SpliceCache) error {
	for vi := range f.Values.Len() {
		v := ir.Value(vi)
		vd := f.Values.Get(v)
		if vd.Kind != ir.DefOperator {
			continue
		}
		op := vd.Op
		if op.Kind == ir.OpSelect || op.Kind == ir.OpCall || op.Rematerialize() {
			continue
		}
		fn, ok := cache[op]
		if !ok {
			var err error
			fn, err = SpliceOp(m, op)
			if err != nil {
				return err
			}
			cache[op] = fn
		}
		vd.Op = ir.CallOp(fn)
		f.Values.Set(v, vd)
	}
	return nil
}

// SpliceModule splices every function body, sharing the wrapper cache
// across the module so each operator is wrapped at most once.
func SpliceModule(m *ir.Module) error {
	cache := SpliceCache{}
	// Bodies are detached first: splicing appends wrapper functions to
	// the module while bodies are being rewritten.
	bodies := map[ir.Func]*ir.FunctionBody{}
	for fi := range m.Funcs.Len() {
		fn := ir.Func(fi)
		if d := m.Funcs.At(fn); d.Kind == ir.FuncDeclBody {
			bodies[fn] = d.Body.Clone()
		}
	}
	for _, body := range bodies {
		if err := SpliceFunc(m, body, cache); err != nil {
			return err
		}
	}
	for fn, body := range bodies {
		m.Funcs.At(fn).Body = body
	}
	return nil
}
