package shake

import (
	"strconv"
	"strings"

	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/passes"
)

// Frint specializes blocks per tuple of statically-known function
// references flowing into their function-ref-typed parameters. A
// known reference is materialized as ref.func inside the specialized
// block instead of being passed as a blockparam; two edges passing the
// same references share one specialization.
type Frint struct {
	// Blocks caches specializations by (source block, key): key slots
	// follow the block's function-ref-typed params in order, each a
	// known function or unknown.
	Blocks map[frintKey]ir.Block
}

// NewFrint returns a translator with an empty specialization cache.
func NewFrint() *Frint {
	return &Frint{Blocks: map[frintKey]ir.Block{}}
}

// frintKey is a block plus its encoded monomorphization vector.
type frintKey struct {
	block ir.Block
	param string
}

// OptFunc is one monomorphization slot: a known function reference or
// unknown.
type OptFunc struct {
	Func  ir.Func
	Known bool
}

// Known wraps a known function reference.
func Known(f ir.Func) OptFunc { return OptFunc{Func: f, Known: true} }

// Unknown is the absent slot.
var Unknown = OptFunc{}

func encodeKey(block ir.Block, params []OptFunc) frintKey {
	var b strings.Builder
	for _, p := range params {
		if p.Known {
			b.WriteString(strconv.FormatUint(uint64(p.Func), 10))
		} else {
			b.WriteByte('?')
		}
		b.WriteByte(',')
	}
	return frintKey{block: block, param: b.String()}
}

// TranslateBase translates block k with every function-ref-typed
// parameter marked unknown.
func (fr *Frint) TranslateBase(dst *ir.FunctionBody, src *ir.FunctionBody, k ir.Block) (ir.Block, error) {
	var params []OptFunc
	for _, p := range src.Blocks.At(k).Params {
		if p.Type.IsFuncRef() {
			params = append(params, Unknown)
		}
	}
	return fr.Translate(dst, src, k, params)
}

// Translate returns the cached specialization of block k for the given
// key, creating it on first use. Known slots become ref.func values in
// the destination block in place of blockparams.
func (fr *Frint) Translate(dst *ir.FunctionBody, src *ir.FunctionBody, k ir.Block, params []OptFunc) (ir.Block, error) {
	key := encodeKey(k, params)
	if l, ok := fr.Blocks[key]; ok {
		return l, nil
	}
	new := dst.AddBlock()
	state := map[ir.Value]ir.Value{}
	slot := 0
	for _, p := range src.Blocks.At(k).Params {
		if p.Type.IsFuncRef() && slot < len(params) {
			kp := params[slot]
			slot++
			if kp.Known {
				state[p.Value] = dst.AddOp(new, ir.RefFuncOp(kp.Func), nil, []ir.Type{p.Type})
				continue
			}
		}
		state[p.Value] = dst.AddBlockParam(new, p.Type)
	}
	fr.Blocks[key] = new

	if err := copyInsts(dst, src, k, new, state, "frint"); err != nil {
		return ir.InvalidBlock, err
	}

	target := func(t *ir.BlockTarget) (ir.BlockTarget, error) {
		var funcs []OptFunc
		var args []ir.Value
		for _, a := range t.Args {
			mapped, err := mapValue(state, a, "frint", k)
			if err != nil {
				return ir.BlockTarget{}, err
			}
			d := dst.Values.At(mapped)
			if ty, ok := d.Ty(&dst.TypePool); ok && ty.IsFuncRef() {
				if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpRefFunc {
					funcs = append(funcs, Known(d.Op.Func))
					continue
				}
				funcs = append(funcs, Unknown)
			}
			args = append(args, mapped)
		}
		block, err := fr.Translate(dst, src, t.Block, funcs)
		if err != nil {
			return ir.BlockTarget{}, err
		}
		return ir.BlockTarget{Block: block, Args: args}, nil
	}
	term, err := rewriteTerm(src, k, state, "frint", target)
	if err != nil {
		return ir.InvalidBlock, err
	}
	dst.SetTerminator(new, term)
	return new, nil
}

// FrintBody rebuilds one function body with its blocks specialized on
// statically-known function references. The body is converted to
// max-SSA first. Callers typically follow with basic_opt to realize
// the wins.
func FrintBody(m *ir.Module, src *ir.FunctionBody, sig ir.Signature) (*ir.FunctionBody, error) {
	passes.MaxSSA(src, nil)
	dst := ir.NewFunctionBody(m, sig)
	fr := NewFrint()
	base, err := fr.TranslateBase(dst, src, src.Entry)
	if err != nil {
		return nil, err
	}
	args := make([]ir.Value, 0, len(dst.Blocks.At(dst.Entry).Params))
	for _, p := range dst.Blocks.At(dst.Entry).Params {
		args = append(args, p.Value)
	}
	dst.SetTerminator(dst.Entry, ir.BrTerm(ir.BlockTarget{Block: base, Args: args}))
	return dst, nil
}

// FrintModule specializes every function body in place.
func FrintModule(m *ir.Module) error {
	for fi := range m.Funcs.Len() {
		fn := ir.Func(fi)
		decl := m.Funcs.Get(fn)
		if decl.Kind != ir.FuncDeclBody {
			continue
		}
		m.Funcs.Set(fn, ir.FuncDecl{})
		dst, err := FrintBody(m, decl.Body, decl.Sig)
		if err != nil {
			m.Funcs.Set(fn, decl)
			return err
		}
		decl.Body = dst
		m.Funcs.Set(fn, decl)
	}
	return nil
}
