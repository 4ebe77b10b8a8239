package ir

import (
	"github.com/wippyai/wasm-shaper/errors"
)

// cloneDepthLimit is the depth budget CloneBlockInto hands to
// cloneValueIn. cloneValueIn does not recurse (unmapped arguments are
// reported as structural errors), so the budget is never spent; a trip
// is a diagnostic, not a semantic limit.
const cloneDepthLimit = 100

// TweakValue rewrites a value definition in place for insertion into
// block b of f: argument lists are re-interned from the basis body's
// pools into f's, and every value reference is passed through m.
func TweakValue(f *FunctionBody, basis *FunctionBody, d *ValueDef, m func(*Value), b Block) {
	switch d.Kind {
	case DefBlockParam:
		d.Block = b
	case DefOperator:
		args := append([]Value(nil), basis.ArgPool.Slice(d.Args)...)
		for i := range args {
			m(&args[i])
		}
		d.Args = f.ArgPool.FromSlice(args)
		d.Types = f.TypePool.FromSlice(basis.TypePool.Slice(d.Types))
	case DefPickOutput, DefAlias:
		m(&d.Value)
	case DefPlaceholder:
		panic("ir: cannot clone a placeholder value")
	case DefNone:
		// Tombstones clone as-is.
	}
}

// TweakTerminator passes every value through m and every target block
// through k.
func TweakTerminator(t *Terminator, m func(*Value), k func(*Block)) {
	t.UpdateTargets(func(target *BlockTarget) {
		k(&target.Block)
	})
	t.UpdateUses(m)
}

// CloneValue copies value v from basis into f, rewriting its uses
// through m, and returns the new value id. The caller places it.
func CloneValue(basis, f *FunctionBody, m func(*Value), v Value, b Block) Value {
	def := basis.Values.Get(v)
	TweakValue(f, basis, &def, m, b)
	return f.AddValue(def)
}

// cloneValueIn clones v into block b of f, consulting and extending
// the substitution map. Missing mappings are structural errors; depth
// exhaustion is a defensive diagnostic.
func cloneValueIn(basis, f *FunctionBody, m map[Value]Value, v Value, b Block, depth int) (Value, error) {
	if depth == 0 {
		return InvalidValue, errors.DepthExceeded(v.String(), basis.Values.At(v).String())
	}
	if n, ok := m[v]; ok {
		return n, nil
	}
	var missing *Value
	n := CloneValue(basis, f, func(a *Value) {
		if mapped, ok := m[*a]; ok {
			*a = mapped
		} else if missing == nil {
			missing = a
		}
	}, v, b)
	if missing != nil {
		return InvalidValue, errors.New(errors.PhaseIR, errors.KindStructuralInvariant).
			Block(b.String()).
			Value(missing.String()).
			Detail("value not found while cloning %s", v).
			Dump(basis.Display("", nil)).
			Build()
	}
	m[v] = n
	f.AppendToBlock(b, n)
	return n, nil
}

// CloneBlockInto clones basis's block b into the existing block new of
// f, remapping blockparams, instructions and terminator. Successor
// blocks are rewritten through k.
func CloneBlockInto(f *FunctionBody, basis *FunctionBody, b, new Block, k func(*Block)) error {
	d := basis.Blocks.Get(b)
	m := map[Value]Value{}
	for _, p := range d.Params {
		m[p.Value] = f.AddBlockParam(new, p.Type)
	}
	seen := map[Value]struct{}{}
	for _, v := range d.Insts {
		if _, ok := m[v]; ok {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		if basis.ValueBlocks.Get(v) != b {
			return errors.New(errors.PhaseIR, errors.KindStructuralInvariant).
				Block(b.String()).
				Value(v.String()).
				Detail("instruction owned by a different block").
				Build()
		}
		if _, err := cloneValueIn(basis, f, m, v, new, cloneDepthLimit); err != nil {
			return err
		}
	}
	term := d.Terminator.Clone()
	TweakTerminator(&term, func(a *Value) {
		if mapped, ok := m[*a]; ok {
			*a = mapped
		}
	}, k)
	f.SetTerminator(new, term)
	return nil
}

// CloneBlock clones block b of f into a fresh block of the same body,
// leaving successor edges pointing at the original successors.
func CloneBlock(f *FunctionBody, b Block) (Block, error) {
	r := f.AddBlock()
	err := CloneBlockInto(f, f, b, r, func(*Block) {})
	return r, err
}

// CloneFn clones every block of basis into f. Returns the
// source-to-destination block map.
func CloneFn(f *FunctionBody, basis *FunctionBody) (map[Block]Block, error) {
	basis = basis.Clone()
	all := map[Block]Block{}
	for bi := range basis.Blocks.Len() {
		all[Block(bi)] = f.AddBlock()
	}
	for bi := range basis.Blocks.Len() {
		src := Block(bi)
		err := CloneBlockInto(f, basis, src, all[src], func(k *Block) {
			*k = all[*k]
		})
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

// DominatedValues returns every instruction value in blocks that
// dominate b (including b itself).
func DominatedValues(f *FunctionBody, b Block) map[Value]struct{} {
	cfg := NewCFGInfo(f)
	s := map[Value]struct{}{}
	visited := map[Block]struct{}{}
	work := []Block{b}
	for len(work) > 0 {
		w := work[len(work)-1]
		work = work[:len(work)-1]
		if _, ok := visited[w]; ok {
			continue
		}
		visited[w] = struct{}{}
		for _, v := range f.Blocks.At(w).Insts {
			s[v] = struct{}{}
		}
		for ki := range f.Blocks.Len() {
			k := Block(ki)
			if k != w && cfg.Dominates(k, w) {
				if _, ok := visited[k]; !ok {
					work = append(work, k)
				}
			}
		}
	}
	return s
}

// LocalValues returns the blockparams and instructions of b.
func LocalValues(f *FunctionBody, b Block) []Value {
	d := f.Blocks.At(b)
	out := make([]Value, 0, len(d.Params)+len(d.Insts))
	for _, p := range d.Params {
		out = append(out, p.Value)
	}
	out = append(out, d.Insts...)
	return out
}

// SopI32 appends `x <op> const` to block b and returns the result
// value.
func SopI32(f *FunctionBody, b Block, x Value, y uint32, op Operator) Value {
	t := f.SingleTypeList(I32)
	vi := f.AddValue(OperatorDef(I32ConstOp(y), ListRef{}, t))
	f.AppendToBlock(b, vi)
	args := f.ArgPool.Double(x, vi)
	w := f.AddValue(OperatorDef(op, args, t))
	f.AppendToBlock(b, w)
	return w
}

// MakeMemcpy synthesizes a `(src, dst, len) -> ()` byte-copy function
// from mem1 (addressed by src) to mem2 (addressed by dst); with swizzle
// set, the two memories' bytes are exchanged instead of copied one way.
func MakeMemcpy(m *Module, mem1, mem2 Memory, swizzle bool) Func {
	sig := m.NewSig(FuncSig([]Type{I32, I32, I32}, nil))
	b := NewFunctionBody(m, sig)
	exit := makeMemcpyBody(b, b.Entry, mem1, mem2, swizzle)
	b.SetTerminator(exit, ReturnTerm(nil))
	name := "memcpy_" + mem1.String() + "_" + mem2.String()
	if swizzle {
		name += "_swizzle"
	}
	return m.Funcs.Push(FuncDecl{Kind: FuncDeclBody, Sig: sig, Name: name, Body: b})
}

func makeMemcpyBody(f *FunctionBody, b Block, mem1, mem2 Memory, swizzle bool) Block {
	k := f.AddBlock()
	params := f.Blocks.At(b).Params
	a, c, d := params[0].Value, params[1].Value, params[2].Value
	// b checks the remaining length before each byte, so exactly len
	// bytes are copied (none for len 0).
	loop := f.AddBlock()
	f.SetTerminator(b, SelectTerm(d,
		[]BlockTarget{{Block: k}},
		BlockTarget{Block: loop},
	))

	t := f.SingleTypeList(I32)
	ra := f.ArgPool.Single(a)
	load1 := f.AddValue(OperatorDef(LoadOp(OpI32Load8U, MemoryArg{Align: 1, Memory: mem1}), ra, t))
	f.AppendToBlock(loop, load1)
	var load2 Value = InvalidValue
	if swizzle {
		rc := f.ArgPool.Single(c)
		load2 = f.AddValue(OperatorDef(LoadOp(OpI32Load8U, MemoryArg{Align: 1, Memory: mem2}), rc, t))
		f.AppendToBlock(loop, load2)
	}
	rc := f.ArgPool.Double(c, load1)
	store1 := f.AddValue(OperatorDef(StoreOp(OpI32Store8, MemoryArg{Align: 1, Memory: mem2}), rc, ListRef{}))
	f.AppendToBlock(loop, store1)
	if swizzle {
		ra2 := f.ArgPool.Double(a, load2)
		store2 := f.AddValue(OperatorDef(StoreOp(OpI32Store8, MemoryArg{Align: 1, Memory: mem1}), ra2, ListRef{}))
		f.AppendToBlock(loop, store2)
	}
	next := []Value{
		SopI32(f, loop, a, 1, Operator{Kind: OpI32Add}),
		SopI32(f, loop, c, 1, Operator{Kind: OpI32Add}),
		SopI32(f, loop, d, 1, Operator{Kind: OpI32Sub}),
	}
	f.SetTerminator(loop, BrTerm(BlockTarget{Block: b, Args: next}))
	return k
}
