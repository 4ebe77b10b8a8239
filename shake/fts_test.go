package shake

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

// TestFts_FuelZero_OneFunctionPerBlock: a loop entry -> body -> {body, exit} with fuel
// zero yields one function per reachable source block, every
// cross-block edge a tail-call.
func TestFts_FuelZero_OneFunctionPerBlock(t *testing.T) {
	m, f := loopBody(t)
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	fn := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: sig, Name: "loop", Body: f})

	before := m.Funcs.Len()
	if err := RunOnce(f, m, 0); err != nil {
		t.Fatalf("fts: %v", err)
	}

	// Three reachable source blocks -> three per-block functions.
	added := m.Funcs.Len() - before
	if added != 3 {
		t.Fatalf("added %d functions, want 3", added)
	}

	// The wrapper's new entry tail-calls the translated entry.
	wrapper := m.Funcs.At(fn).Body
	term := wrapper.Blocks.At(wrapper.Entry).Terminator
	if term.Kind != ir.TermReturnCall {
		t.Fatalf("wrapper terminator = %v", term)
	}

	// Every terminator of every per-block function is a permitted kind.
	for fi := before; fi < m.Funcs.Len(); fi++ {
		body := m.Funcs.At(ir.Func(fi)).Body
		for bi := range body.Blocks.Len() {
			term := body.Blocks.At(ir.Block(bi)).Terminator
			switch term.Kind {
			case ir.TermReturnCall, ir.TermReturnCallIndirect, ir.TermReturnCallRef,
				ir.TermReturn, ir.TermCondBr, ir.TermSelect, ir.TermUnreachable:
			default:
				t.Errorf("func%d block%d terminator = %v", fi, bi, term)
			}
		}
		if err := body.Validate(); err != nil {
			t.Errorf("func%d invalid: %v", fi, err)
		}
	}
}

func TestFts_FuelZero_EdgesAreTailCalls(t *testing.T) {
	m, f := loopBody(t)
	m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32})), Name: "loop", Body: f})
	before := m.Funcs.Len()
	if err := RunOnce(f, m, 0); err != nil {
		t.Fatalf("fts: %v", err)
	}
	// With fuel zero, a CondBr's targets are shim blocks whose only
	// content is a tail-call.
	for fi := before; fi < m.Funcs.Len(); fi++ {
		body := m.Funcs.At(ir.Func(fi)).Body
		for bi := range body.Blocks.Len() {
			term := body.Blocks.At(ir.Block(bi)).Terminator
			if term.Kind != ir.TermCondBr {
				continue
			}
			for _, target := range []ir.BlockTarget{term.IfTrue, term.IfFalse} {
				shim := body.Blocks.At(target.Block)
				if len(shim.Insts) != 0 || shim.Terminator.Kind != ir.TermReturnCall {
					t.Errorf("func%d: condbr target is not a tail-call shim", fi)
				}
			}
		}
	}
}

func TestFts_Fuel_InlinesSuccessors(t *testing.T) {
	// A diamond: entry conditionally branches to b1 or b2, both return.
	// With fuel, the arms inline into the entry's function; with fuel
	// zero each arm becomes its own function.
	build := func() (*ir.Module, *ir.FunctionBody) {
		m := ir.EmptyModule()
		sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
		f := ir.NewFunctionBody(m, sig)
		p := f.Blocks.At(f.Entry).Params[0].Value
		b1 := f.AddBlock()
		q1 := f.AddBlockParam(b1, ir.I32)
		b2 := f.AddBlock()
		q2 := f.AddBlockParam(b2, ir.I32)
		f.SetTerminator(f.Entry, ir.CondBrTerm(p,
			ir.BlockTarget{Block: b1, Args: []ir.Value{p}},
			ir.BlockTarget{Block: b2, Args: []ir.Value{p}}))
		f.SetTerminator(b1, ir.ReturnTerm([]ir.Value{q1}))
		f.SetTerminator(b2, ir.ReturnTerm([]ir.Value{q2}))
		m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: sig, Name: "diamond", Body: f})
		return m, f
	}

	m, f := build()
	before := m.Funcs.Len()
	if err := RunOnce(f, m, 2); err != nil {
		t.Fatalf("fts fuel=2: %v", err)
	}
	if added := m.Funcs.Len() - before; added != 1 {
		t.Fatalf("fuel=2 added %d functions, want 1 (arms inlined)", added)
	}

	m, f = build()
	before = m.Funcs.Len()
	if err := RunOnce(f, m, 0); err != nil {
		t.Fatalf("fts fuel=0: %v", err)
	}
	if added := m.Funcs.Len() - before; added != 3 {
		t.Fatalf("fuel=0 added %d functions, want 3", added)
	}
}

func TestFtsModule(t *testing.T) {
	m, f := loopBody(t)
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: sig, Name: "loop", Body: f})
	if err := FtsModule(m, 0); err != nil {
		t.Fatalf("fts module: %v", err)
	}
	if err := m.TryPerFuncBody(func(b *ir.FunctionBody) error { return b.Validate() }); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
