package passes

import (
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/ir"
)

// FakeVals supplies decoy values of a requested type for the
// flattening passes: values that fill blockparam slots whose content
// is never observed on the taken path.
type FakeVals interface {
	Fake(f *ir.FunctionBody, b ir.Block, t ir.Type) ir.Value
}

// CFFSpecial supplies the flattener's decision points: which dispatch
// id to use for a block, and whether (and how) to shuffle another
// round of duplicate dispatch entries.
type CFFSpecial interface {
	// Choose picks one dispatch id among a block's entries.
	Choose(ids map[int]struct{}) int
	// Warp returns a reordered copy of the blocks to append as
	// duplicate dispatch entries, or nil to stop.
	Warp(blocks []ir.Block) []ir.Block
}

// Rand randomizes both decoy values and dispatch shapes.
type Rand struct {
	R *rand.Rand
}

// Fake implements FakeVals: mostly reuses an in-scope value of the
// right type, occasionally materializes a fresh constant.
func (r *Rand) Fake(f *ir.FunctionBody, b ir.Block, t ir.Type) ir.Value {
	for {
		if r.R.Float64() < 0.1 {
			if v, ok := constOfType(f, b, t, uint64(r.R.Int63())); ok {
				return v
			}
		}
		locals := ir.LocalValues(f, b)
		for tries := 0; tries < 4*len(locals)+4; tries++ {
			if len(locals) == 0 {
				break
			}
			v := locals[r.R.Intn(len(locals))]
			if ty, ok := f.Values.At(v).Ty(&f.TypePool); ok && ty == t {
				return v
			}
		}
		if v, ok := constOfType(f, b, t, uint64(r.R.Int63())); ok {
			return v
		}
	}
}

// Choose implements CFFSpecial.
func (r *Rand) Choose(ids map[int]struct{}) int {
	keys := sortedIDs(ids)
	return keys[r.R.Intn(len(keys))]
}

// Warp implements CFFSpecial: 35% of rounds stop; otherwise shuffle.
func (r *Rand) Warp(blocks []ir.Block) []ir.Block {
	if r.R.Float64() < 0.35 {
		return nil
	}
	out := append([]ir.Block(nil), blocks...)
	r.R.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// JustNormalCFF flattens without randomness: zero-constant decoys, the
// lowest dispatch id, a single dispatch entry per block.
type JustNormalCFF struct{}

// Fake implements FakeVals.
func (JustNormalCFF) Fake(f *ir.FunctionBody, b ir.Block, t ir.Type) ir.Value {
	v, ok := constOfType(f, b, t, 0)
	if !ok {
		panic("cff: no constant form for type " + t.String())
	}
	return v
}

// Choose implements CFFSpecial.
func (JustNormalCFF) Choose(ids map[int]struct{}) int {
	return sortedIDs(ids)[0]
}

// Warp implements CFFSpecial.
func (JustNormalCFF) Warp([]ir.Block) []ir.Block { return nil }

func sortedIDs(ids map[int]struct{}) []int {
	keys := make([]int, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func constOfType(f *ir.FunctionBody, b ir.Block, t ir.Type, bits uint64) (ir.Value, bool) {
	var op ir.Operator
	switch t.Kind {
	case ir.KindI32:
		op = ir.I32ConstOp(uint32(bits))
	case ir.KindI64:
		op = ir.I64ConstOp(bits)
	case ir.KindF32:
		op = ir.F32ConstOp(uint32(bits))
	case ir.KindF64:
		op = ir.F64ConstOp(bits)
	default:
		return ir.InvalidValue, false
	}
	to := f.SingleTypeList(t)
	v := f.AddValue(ir.OperatorDef(op, ir.ListRef{}, to))
	f.AppendToBlock(b, v)
	return v, true
}

// SplitBlocks rewrites every unconditional branch into an opaque
// conditional (or multi-way) branch between the original target and
// cloned copies of it, driven by a decoy condition. The body is
// converted to max-SSA first so clones stay self-contained.
func SplitBlocks(f *ir.FunctionBody, r *Rand) error {
	MaxSSA(f, nil)
	for {
		target := ir.InvalidBlock
		for bi := range f.Blocks.Len() {
			if f.Blocks.At(ir.Block(bi)).Terminator.Kind == ir.TermBr {
				target = ir.Block(bi)
				break
			}
		}
		if !ir.Valid(target) {
			f.RecomputeEdges()
			return f.Validate()
		}
		orig := f.Blocks.At(target).Terminator.Target.Clone()

		dup := orig.Clone()
		cloned, err := ir.CloneBlock(f, dup.Block)
		if err != nil {
			return err
		}
		dup.Block = cloned
		var extra []ir.BlockTarget
		for r.R.Float64() < 0.5 {
			extra = append(extra, dup.Clone())
			cloned, err = ir.CloneBlock(f, dup.Block)
			if err != nil {
				return err
			}
			dup.Block = cloned
		}
		cond := r.Fake(f, target, ir.I32)
		var t ir.Terminator
		if len(extra) == 0 {
			t = ir.CondBrTerm(cond, orig, dup)
		} else {
			t = ir.SelectTerm(cond, extra, orig)
		}
		f.ClearTerminator(target)
		f.Blocks.At(target).Terminator = t
	}
}

// CFF applies control-flow flattening: every block's terminator is
// rewritten to jump to one central dispatcher block that selects the
// real successor by an integer id. Blockparam traffic is pooled by
// type in the dispatcher's parameter list; unused slots carry decoys.
func CFF(f *ir.FunctionBody, h interface {
	FakeVals
	CFFSpecial
}) {
	MaxSSA(f, nil)

	paramIdx := map[blockParamKey]uint32{}
	ids := map[ir.Block]map[int]struct{}{}
	var swc []ir.BlockTarget

	dispatcher := f.AddBlock()
	f.AddBlockParam(dispatcher, ir.I32) // dispatch id, params[0]

	var orig []ir.Block
	for bi := range f.Blocks.Len() {
		if b := ir.Block(bi); b != dispatcher {
			orig = append(orig, b)
		}
	}

	// Pool dispatcher params by type so distinct blocks share slots.
	pool := map[ir.Type][]ir.Value{}
	forwarded := map[ir.Block][]ir.Value{}
	for _, b := range orig {
		avail := map[ir.Type][]ir.Value{}
		for t, vs := range pool {
			avail[t] = append([]ir.Value(nil), vs...)
		}
		var m []ir.Value
		for pk, p := range f.Blocks.At(b).Params {
			var hpv ir.Value
			if vs := avail[p.Type]; len(vs) > 0 {
				hpv = vs[len(vs)-1]
				avail[p.Type] = vs[:len(vs)-1]
			} else {
				hpv = f.AddBlockParam(dispatcher, p.Type)
				pool[p.Type] = append(pool[p.Type], hpv)
			}
			m = append(m, hpv)
			idx := f.Values.At(hpv).Index
			paramIdx[blockParamKey{b, pk}] = idx
		}
		forwarded[b] = m
	}

	round := orig
	for round != nil {
		for _, b := range round {
			if ids[b] == nil {
				ids[b] = map[int]struct{}{}
			}
			ids[b][len(swc)] = struct{}{}
			swc = append(swc, ir.BlockTarget{Block: b, Args: append([]ir.Value(nil), forwarded[b]...)})
		}
		round = h.Warp(round)
	}

	selfArgs := make([]ir.Value, 0, len(f.Blocks.At(dispatcher).Params))
	for _, p := range f.Blocks.At(dispatcher).Params {
		selfArgs = append(selfArgs, p.Value)
	}
	f.Blocks.At(dispatcher).Terminator = ir.SelectTerm(
		f.Blocks.At(dispatcher).Params[0].Value,
		swc,
		ir.BlockTarget{Block: dispatcher, Args: selfArgs},
	)

	warp := func(a ir.BlockTarget, b ir.Block) ir.BlockTarget {
		np := make([]ir.Value, len(f.Blocks.At(dispatcher).Params))
		for i, p := range f.Blocks.At(dispatcher).Params {
			if i == 0 {
				continue
			}
			np[i] = h.Fake(f, b, p.Type)
		}
		for pi, arg := range a.Args {
			np[paramIdx[blockParamKey{a.Block, pi}]] = arg
		}
		id := f.AddValue(ir.OperatorDef(
			ir.I32ConstOp(uint32(h.Choose(ids[a.Block]))),
			ir.ListRef{}, f.SingleTypeList(ir.I32)))
		f.AppendToBlock(b, id)
		np[0] = id
		return ir.BlockTarget{Block: dispatcher, Args: np}
	}

	for _, k := range orig {
		term := f.Blocks.At(k).Terminator.Clone()
		switch term.Kind {
		case ir.TermBr:
			term.Target = warp(term.Target, k)
		case ir.TermCondBr:
			term.IfTrue = warp(term.IfTrue, k)
			term.IfFalse = warp(term.IfFalse, k)
		case ir.TermSelect:
			term.Default = warp(term.Default, k)
			for i := range term.Targets {
				term.Targets[i] = warp(term.Targets[i], k)
			}
		}
		f.Blocks.At(k).Terminator = term
	}
	f.RecomputeEdges()
	Logger().Debug("cff: flattened",
		zap.Int("blocks", len(orig)),
		zap.Int("dispatch_entries", len(swc)))
}

type blockParamKey struct {
	block ir.Block
	param int
}
