package passes

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

func i32Body(t *testing.T) (*ir.Module, *ir.FunctionBody) {
	t.Helper()
	m := ir.EmptyModule()
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	return m, ir.NewFunctionBody(m, sig)
}

func TestValueIsPure(t *testing.T) {
	_, f := i32Body(t)
	p := onlyParam(f, f.Entry, 0)
	add := f.AddOp(f.Entry, ir.Operator{Kind: ir.OpI32Add}, []ir.Value{p, p}, []ir.Type{ir.I32})
	call := f.AddOp(f.Entry, ir.CallOp(0), nil, []ir.Type{ir.I32})
	if !ValueIsPure(add, f) {
		t.Error("add should be pure")
	}
	if ValueIsPure(call, f) {
		t.Error("call should not be pure")
	}
	if ValueIsPure(p, f) {
		t.Error("blockparam is not prunable")
	}
}

func TestBasicOpt_DeadCode(t *testing.T) {
	_, f := i32Body(t)
	p := onlyParam(f, f.Entry, 0)
	dead := f.AddOp(f.Entry, ir.Operator{Kind: ir.OpI32Mul}, []ir.Value{p, p}, []ir.Type{ir.I32})
	live := f.AddOp(f.Entry, ir.Operator{Kind: ir.OpI32Add}, []ir.Value{p, p}, []ir.Type{ir.I32})
	// An impure instruction with no users must stay.
	store := f.AddOp(f.Entry, ir.StoreOp(ir.OpI32Store, ir.MemoryArg{}), []ir.Value{p, p}, nil)
	f.SetTerminator(f.Entry, ir.ReturnTerm([]ir.Value{live}))

	Optimize(f, DefaultOptOptions())

	insts := f.Blocks.At(f.Entry).Insts
	for _, inst := range insts {
		if inst == dead {
			t.Error("dead pure instruction survived")
		}
	}
	var hasLive, hasStore bool
	for _, inst := range insts {
		hasLive = hasLive || inst == live
		hasStore = hasStore || inst == store
	}
	if !hasLive || !hasStore {
		t.Errorf("live instructions dropped: %v", insts)
	}
}

func TestBasicOpt_AliasCollapse(t *testing.T) {
	_, f := i32Body(t)
	p := onlyParam(f, f.Entry, 0)
	alias := f.AddValue(ir.AliasDef(p))
	use := f.AddOp(f.Entry, ir.Operator{Kind: ir.OpI32Add}, []ir.Value{alias, alias}, []ir.Type{ir.I32})
	f.SetTerminator(f.Entry, ir.ReturnTerm([]ir.Value{use}))

	cfg := ir.NewCFGInfo(f)
	BasicOpt(f, cfg, DefaultOptOptions())

	d := f.Values.At(use)
	for _, a := range f.ArgPool.Slice(d.Args) {
		if a != p {
			t.Errorf("use arg = %v, want %v", a, p)
		}
	}
	term := f.Blocks.At(f.Entry).Terminator
	if term.Values[0] != use {
		t.Errorf("return value = %v", term.Values[0])
	}
}

func TestBasicOpt_ConstFold(t *testing.T) {
	_, f := i32Body(t)
	a := f.AddOp(f.Entry, ir.I32ConstOp(4), nil, []ir.Type{ir.I32})
	b := f.AddOp(f.Entry, ir.I32ConstOp(38), nil, []ir.Type{ir.I32})
	sum := f.AddOp(f.Entry, ir.Operator{Kind: ir.OpI32Add}, []ir.Value{a, b}, []ir.Type{ir.I32})
	f.SetTerminator(f.Entry, ir.ReturnTerm([]ir.Value{sum}))

	Optimize(f, DefaultOptOptions())

	d := f.Values.At(sum)
	if d.Kind != ir.DefOperator || d.Op.Kind != ir.OpI32Const {
		t.Fatalf("sum def = %+v", d)
	}
	if uint32(d.Op.I64) != 42 {
		t.Errorf("folded value = %d", uint32(d.Op.I64))
	}
}

func TestEmptyBlocks_RemovesForwarder(t *testing.T) {
	_, f := i32Body(t)
	p := onlyParam(f, f.Entry, 0)
	fwd := f.AddBlock()
	fp := f.AddBlockParam(fwd, ir.I32)
	tail := f.AddBlock()
	tp := f.AddBlockParam(tail, ir.I32)
	f.SetTerminator(f.Entry, ir.BrTerm(ir.BlockTarget{Block: fwd, Args: []ir.Value{p}}))
	f.SetTerminator(fwd, ir.BrTerm(ir.BlockTarget{Block: tail, Args: []ir.Value{fp}}))
	f.SetTerminator(tail, ir.ReturnTerm([]ir.Value{tp}))

	EmptyBlocks(f)

	entryTerm := f.Blocks.At(f.Entry).Terminator
	if entryTerm.Kind != ir.TermBr || entryTerm.Target.Block != tail {
		t.Fatalf("entry now branches to %v", entryTerm.Target.Block)
	}
	if entryTerm.Target.Args[0] != p {
		t.Errorf("forwarded arg = %v", entryTerm.Target.Args[0])
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDomPass_Order(t *testing.T) {
	_, f := i32Body(t)
	p := onlyParam(f, f.Entry, 0)
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	f.SetTerminator(f.Entry, ir.CondBrTerm(p, ir.BlockTarget{Block: b1}, ir.BlockTarget{Block: b2}))
	f.SetTerminator(b1, ir.ReturnTerm([]ir.Value{p}))
	f.SetTerminator(b2, ir.ReturnTerm([]ir.Value{p}))

	var enters, leaves []ir.Block
	cfg := ir.NewCFGInfo(f)
	DomPass(f, cfg, &recordingPass{enters: &enters, leaves: &leaves})

	if len(enters) != 3 || enters[0] != f.Entry {
		t.Fatalf("enters = %v", enters)
	}
	if len(leaves) != 3 || leaves[len(leaves)-1] != f.Entry {
		t.Fatalf("leaves = %v", leaves)
	}
}

type recordingPass struct {
	enters, leaves *[]ir.Block
}

func (r *recordingPass) Enter(b ir.Block, _ *ir.FunctionBody) { *r.enters = append(*r.enters, b) }
func (r *recordingPass) Leave(b ir.Block, _ *ir.FunctionBody) { *r.leaves = append(*r.leaves, b) }
