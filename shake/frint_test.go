package shake

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

// dispatcherBody builds a body whose block `disp` takes (funcref, i32)
// and call_refs the funcref; two predecessors pass the same ref.func.
func dispatcherBody(t *testing.T) (*ir.Module, *ir.FunctionBody, ir.Func, ir.Block) {
	t.Helper()
	m := ir.EmptyModule()
	calleeSig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	g := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: calleeSig, Name: "env.g"})

	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	f := ir.NewFunctionBody(m, sig)
	p := f.Blocks.At(f.Entry).Params[0].Value

	disp := f.AddBlock()
	fnParam := f.AddBlockParam(disp, ir.SigRef(calleeSig, false))
	xParam := f.AddBlockParam(disp, ir.I32)

	left := f.AddBlock()
	right := f.AddBlock()
	f.SetTerminator(f.Entry, ir.CondBrTerm(p,
		ir.BlockTarget{Block: left},
		ir.BlockTarget{Block: right}))

	for _, arm := range []struct {
		block ir.Block
		arg   uint32
	}{{left, 1}, {right, 2}} {
		ref := f.AddOp(arm.block, ir.RefFuncOp(g), nil, []ir.Type{ir.SigRef(calleeSig, false)})
		x := f.AddOp(arm.block, ir.I32ConstOp(arm.arg), nil, []ir.Type{ir.I32})
		f.SetTerminator(arm.block, ir.BrTerm(ir.BlockTarget{Block: disp, Args: []ir.Value{ref, x}}))
	}

	res := f.AddOp(disp, ir.CallRefOp(calleeSig), []ir.Value{xParam, fnParam}, []ir.Type{ir.I32})
	f.SetTerminator(disp, ir.ReturnTerm([]ir.Value{res}))

	if err := f.Validate(); err != nil {
		t.Fatalf("fixture invalid: %v", err)
	}
	return m, f, g, disp
}

// TestFrint_DedupSharedSpecialization: two edges passing the same literal function
// reference share one specialization, with ref.func materialized in
// the specialized block in place of the parameter.
func TestFrint_DedupSharedSpecialization(t *testing.T) {
	m, src, g, _ := dispatcherBody(t)
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	dst := ir.NewFunctionBody(m, sig)

	fr := NewFrint()
	base, err := fr.TranslateBase(dst, src, src.Entry)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	args := []ir.Value{dst.Blocks.At(dst.Entry).Params[0].Value}
	dst.SetTerminator(dst.Entry, ir.BrTerm(ir.BlockTarget{Block: base, Args: args}))

	if err := dst.Validate(); err != nil {
		t.Fatalf("translated body invalid: %v", err)
	}

	// Count specialized copies of the dispatcher block: blocks whose
	// terminator returns a call_ref result. Exactly one should exist.
	specialized := 0
	for bi := range dst.Blocks.Len() {
		b := ir.Block(bi)
		for _, inst := range dst.Blocks.At(b).Insts {
			d := dst.Values.At(inst)
			if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpCallRef {
				specialized++
				// The specialized block materializes ref.func g and has
				// only the i32 parameter left.
				params := dst.Blocks.At(b).Params
				if len(params) != 1 || params[0].Type != ir.I32 {
					t.Errorf("specialized params = %v", params)
				}
				hasRefFunc := false
				for _, inner := range dst.Blocks.At(b).Insts {
					id := dst.Values.At(inner)
					if id.Kind == ir.DefOperator && id.Op.Kind == ir.OpRefFunc && id.Op.Func == g {
						hasRefFunc = true
					}
				}
				if !hasRefFunc {
					t.Error("specialized block lacks the materialized ref.func")
				}
			}
		}
	}
	if specialized != 1 {
		t.Fatalf("specializations = %d, want 1", specialized)
	}

	// Both predecessors drop the funcref argument on their edges.
	for bi := range dst.Blocks.Len() {
		term := dst.Blocks.At(ir.Block(bi)).Terminator
		term.VisitTargets(func(target *ir.BlockTarget) {
			for _, a := range target.Args {
				if ty, ok := dst.Values.At(a).Ty(&dst.TypePool); ok && ty.IsFuncRef() {
					if d := dst.Values.At(a); d.Kind == ir.DefOperator && d.Op.Kind == ir.OpRefFunc {
						t.Error("known funcref still passed as a branch argument")
					}
				}
			}
		})
	}
}

func TestFrint_UnknownRefStaysParam(t *testing.T) {
	m, src, _, _ := dispatcherBody(t)
	// Build a separate body whose entry passes an unknown funcref (its
	// own blockparam) to the dispatcher block instead of a literal.
	calleeSig := ir.Signature(0)
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.SigRef(calleeSig, false)}, []ir.Type{ir.I32}))
	src2 := ir.NewFunctionBody(m, sig)
	fp := src2.Blocks.At(src2.Entry).Params[0].Value
	disp := src2.AddBlock()
	fnParam := src2.AddBlockParam(disp, ir.SigRef(calleeSig, false))
	res := src2.AddOp(disp, ir.CallRefOp(calleeSig), []ir.Value{fnParam}, []ir.Type{ir.I32})
	src2.SetTerminator(src2.Entry, ir.BrTerm(ir.BlockTarget{Block: disp, Args: []ir.Value{fp}}))
	src2.SetTerminator(disp, ir.ReturnTerm([]ir.Value{res}))
	_ = src

	dst := ir.NewFunctionBody(m, sig)
	fr := NewFrint()
	base, err := fr.TranslateBase(dst, src2, src2.Entry)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	args := []ir.Value{dst.Blocks.At(dst.Entry).Params[0].Value}
	dst.SetTerminator(dst.Entry, ir.BrTerm(ir.BlockTarget{Block: base, Args: args}))

	// The specialized dispatcher keeps its funcref parameter.
	found := false
	for bi := range dst.Blocks.Len() {
		for _, inst := range dst.Blocks.At(ir.Block(bi)).Insts {
			d := dst.Values.At(inst)
			if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpCallRef {
				found = true
				params := dst.Blocks.At(ir.Block(bi)).Params
				if len(params) != 1 || !params[0].Type.IsFuncRef() {
					t.Errorf("dispatcher params = %v", params)
				}
			}
		}
	}
	if !found {
		t.Fatal("call_ref block not translated")
	}
}
