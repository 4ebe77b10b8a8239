package passes

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

func onlyParam(f *ir.FunctionBody, b ir.Block, i int) ir.Value {
	return f.Blocks.At(b).Params[i].Value
}

// TestMaxSSA_PromotesCrossBlockUse: a block uses the entry's v0
// without declaring it as a parameter; conversion must promote it.
func TestMaxSSA_PromotesCrossBlockUse(t *testing.T) {
	m := ir.EmptyModule()
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	f := ir.NewFunctionBody(m, sig)
	v0 := onlyParam(f, f.Entry, 0)

	b1 := f.AddBlock()
	f.SetTerminator(f.Entry, ir.BrTerm(ir.BlockTarget{Block: b1}))
	// b1 uses v0 but declares no params.
	sum := f.AddOp(b1, ir.Operator{Kind: ir.OpI32Add}, []ir.Value{v0, v0}, []ir.Type{ir.I32})
	f.SetTerminator(b1, ir.ReturnTerm([]ir.Value{sum}))

	MaxSSA(f, nil)

	params := f.Blocks.At(b1).Params
	if len(params) != 1 {
		t.Fatalf("b1 params after maxssa = %d", len(params))
	}
	if params[0].Type != ir.I32 {
		t.Errorf("promoted param type = %s", params[0].Type)
	}
	// The predecessor branch passes the source value.
	entryTerm := f.Blocks.At(f.Entry).Terminator
	if len(entryTerm.Target.Args) != 1 || entryTerm.Target.Args[0] != v0 {
		t.Errorf("entry branch args = %v", entryTerm.Target.Args)
	}
	// b1's instructions now reference only local values.
	assertMaxSSAClosed(t, f)
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

// assertMaxSSAClosed checks property 5: no block references a value
// defined outside it except through its blockparams.
func assertMaxSSAClosed(t *testing.T, f *ir.FunctionBody) {
	t.Helper()
	cfg := ir.NewCFGInfo(f)
	for _, b := range cfg.RPO {
		local := map[ir.Value]bool{}
		for _, p := range f.Blocks.At(b).Params {
			local[p.Value] = true
		}
		check := func(u ir.Value) {
			u = f.ResolveAlias(u)
			if !local[u] && f.ValueBlocks.Get(u) != b {
				t.Errorf("block %s references outside value %s", b, u)
			}
		}
		for _, inst := range f.Blocks.At(b).Insts {
			f.Values.At(inst).VisitUses(&f.ArgPool, check)
			local[inst] = true
		}
		f.Blocks.At(b).Terminator.VisitUses(check)
	}
}

func TestMaxSSA_Diamond(t *testing.T) {
	m := ir.EmptyModule()
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32, ir.I64}, []ir.Type{ir.I64}))
	f := ir.NewFunctionBody(m, sig)
	cond := onlyParam(f, f.Entry, 0)
	v1 := onlyParam(f, f.Entry, 1)

	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()
	jp := f.AddBlockParam(join, ir.I64)
	f.SetTerminator(f.Entry, ir.CondBrTerm(cond,
		ir.BlockTarget{Block: left},
		ir.BlockTarget{Block: right}))
	// Both arms use v1 from the entry.
	l := f.AddOp(left, ir.Operator{Kind: ir.OpI64Add}, []ir.Value{v1, v1}, []ir.Type{ir.I64})
	f.SetTerminator(left, ir.BrTerm(ir.BlockTarget{Block: join, Args: []ir.Value{l}}))
	f.SetTerminator(right, ir.BrTerm(ir.BlockTarget{Block: join, Args: []ir.Value{v1}}))
	f.SetTerminator(join, ir.ReturnTerm([]ir.Value{jp}))

	MaxSSA(f, nil)
	assertMaxSSAClosed(t, f)
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestMaxSSA_Loop(t *testing.T) {
	m := ir.EmptyModule()
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	f := ir.NewFunctionBody(m, sig)
	n := onlyParam(f, f.Entry, 0)

	body := f.AddBlock()
	exit := f.AddBlock()
	f.SetTerminator(f.Entry, ir.BrTerm(ir.BlockTarget{Block: body}))
	// The loop body decrements n and loops while nonzero.
	one := f.AddOp(body, ir.I32ConstOp(1), nil, []ir.Type{ir.I32})
	dec := f.AddOp(body, ir.Operator{Kind: ir.OpI32Sub}, []ir.Value{n, one}, []ir.Type{ir.I32})
	f.SetTerminator(body, ir.CondBrTerm(dec,
		ir.BlockTarget{Block: body},
		ir.BlockTarget{Block: exit}))
	f.SetTerminator(exit, ir.ReturnTerm([]ir.Value{n}))

	MaxSSA(f, nil)
	assertMaxSSAClosed(t, f)
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
