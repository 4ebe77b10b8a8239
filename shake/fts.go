package shake

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/passes"
)

// Fts replaces a function with a family of small functions, one per
// source block, stitched together by tail-calls. Fuel controls how far
// successors are inlined into the current small function before
// spilling to a tail-call: with fuel zero, every edge becomes a
// tail-call and every source block its own function.
type Fts struct {
	// Blocks maps each translated source block to its per-block
	// function; recursive references resolve through it.
	Blocks map[ir.Block]ir.Func
	Fuel   int
}

// NewFts returns a translator with the given inlining fuel.
func NewFts(fuel int) *Fts {
	return &Fts{Blocks: map[ir.Block]ir.Func{}, Fuel: fuel}
}

// fueledTranslate copies src's block k into dst. At fuel zero it emits
// a shim block whose terminator tail-calls the separately translated
// per-block function; otherwise it copies the block and recurses into
// each successor with one less fuel.
func (ft *Fts) fueledTranslate(f map[ir.Block]ir.Block, m *ir.Module, dst *ir.FunctionBody, src *ir.FunctionBody, k ir.Block, fuel int) (ir.Block, error) {
	if b, ok := f[k]; ok {
		return b, nil
	}
	if fuel == 0 {
		fn, err := ft.Translate(m, src, k)
		if err != nil {
			return ir.InvalidBlock, err
		}
		shim := dst.AddBlock()
		params := src.Blocks.At(k).Params
		args := make([]ir.Value, 0, len(params))
		for _, p := range params {
			args = append(args, dst.AddBlockParam(shim, p.Type))
		}
		dst.SetTerminator(shim, ir.ReturnCallTerm(fn, args))
		return shim, nil
	}
	new := dst.AddBlock()
	state := map[ir.Value]ir.Value{}
	for _, p := range src.Blocks.At(k).Params {
		state[p.Value] = dst.AddBlockParam(new, p.Type)
	}
	f[k] = new

	if err := copyInsts(dst, src, k, new, state, "fts"); err != nil {
		return ir.InvalidBlock, err
	}

	target := func(t *ir.BlockTarget) (ir.BlockTarget, error) {
		args, err := mapValues(state, t.Args, "fts", k)
		if err != nil {
			return ir.BlockTarget{}, err
		}
		block, err := ft.fueledTranslate(f, m, dst, src, t.Block, fuel-1)
		if err != nil {
			return ir.BlockTarget{}, err
		}
		return ir.BlockTarget{Block: block, Args: args}, nil
	}
	term, err := rewriteTerm(src, k, state, "fts", target)
	if err != nil {
		return ir.InvalidBlock, err
	}
	dst.SetTerminator(new, term)
	return new, nil
}

// Translate builds the per-block function for src's block k: its
// signature takes the block's params and returns src's return types.
// The first step out of the function is always a tail-call, so a Br
// terminator becomes a ReturnCall directly; other terminators route
// cross-function edges through argument-capturing shim blocks.
func (ft *Fts) Translate(m *ir.Module, src *ir.FunctionBody, k ir.Block) (ir.Func, error) {
	if fn, ok := ft.Blocks[k]; ok {
		return fn, nil
	}
	srcParams := src.Blocks.At(k).Params
	params := make([]ir.Type, 0, len(srcParams))
	for _, p := range srcParams {
		params = append(params, p.Type)
	}
	sig := m.NewSig(ir.FuncSig(params, append([]ir.Type(nil), src.Rets...)))
	// Reserve the id first so recursive references through the map see
	// it before the body exists.
	newF := m.Funcs.Push(ir.FuncDecl{})
	dst := ir.NewFunctionBody(m, sig)
	new := dst.Entry
	state := map[ir.Value]ir.Value{}
	for i, p := range srcParams {
		state[p.Value] = dst.Blocks.At(new).Params[i].Value
	}
	ft.Blocks[k] = newF

	if err := copyInsts(dst, src, k, new, state, "fts"); err != nil {
		return ir.InvalidFunc, err
	}

	inner := map[ir.Block]ir.Block{}
	target := func(t *ir.BlockTarget) (ir.BlockTarget, error) {
		if ft.Fuel == 0 {
			fn, err := ft.Translate(m, src, t.Block)
			if err != nil {
				return ir.BlockTarget{}, err
			}
			args, err := mapValues(state, t.Args, "fts", k)
			if err != nil {
				return ir.BlockTarget{}, err
			}
			shim := dst.AddBlock()
			dst.SetTerminator(shim, ir.ReturnCallTerm(fn, args))
			return ir.BlockTarget{Block: shim}, nil
		}
		args, err := mapValues(state, t.Args, "fts", k)
		if err != nil {
			return ir.BlockTarget{}, err
		}
		block, err := ft.fueledTranslate(inner, m, dst, src, t.Block, ft.Fuel)
		if err != nil {
			return ir.BlockTarget{}, err
		}
		return ir.BlockTarget{Block: block, Args: args}, nil
	}

	var term ir.Terminator
	srcTerm := src.Blocks.At(k).Terminator
	if srcTerm.Kind == ir.TermBr {
		fn, err := ft.Translate(m, src, srcTerm.Target.Block)
		if err != nil {
			return ir.InvalidFunc, err
		}
		args, err := mapValues(state, srcTerm.Target.Args, "fts", k)
		if err != nil {
			return ir.InvalidFunc, err
		}
		term = ir.ReturnCallTerm(fn, args)
	} else {
		var err error
		term, err = rewriteTerm(src, k, state, "fts", target)
		if err != nil {
			return ir.InvalidFunc, err
		}
	}
	dst.SetTerminator(new, term)
	m.Funcs.Set(newF, ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: sig, Name: k.String(), Body: dst})
	return newF, nil
}

// RunOnce lowers one function: the body is converted to max-SSA, its
// entry block translated, and a fresh entry installed that tail-calls
// the translation with the original parameters. The old entry becomes
// unreachable.
func RunOnce(f *ir.FunctionBody, m *ir.Module, fuel int) error {
	passes.MaxSSA(f, nil)
	ft := NewFts(fuel)
	fn, err := ft.Translate(m, f, f.Entry)
	if err != nil {
		return err
	}
	e2 := f.AddBlock()
	var params []ir.Type
	for _, p := range f.Blocks.At(f.Entry).Params {
		params = append(params, p.Type)
	}
	args := make([]ir.Value, 0, len(params))
	for _, ty := range params {
		args = append(args, f.AddBlockParam(e2, ty))
	}
	f.Entry = e2
	f.SetTerminator(e2, ir.ReturnCallTerm(fn, args))
	Logger().Debug("fts: lowered function",
		zap.Int("fuel", fuel),
		zap.Int("block_funcs", len(ft.Blocks)))
	return nil
}

// FtsModule lowers every function body with the given fuel.
func FtsModule(m *ir.Module, fuel int) error {
	return m.TryTakePerFuncBody(func(m *ir.Module, f *ir.FunctionBody) error {
		return RunOnce(f, m, fuel)
	})
}
