package shake

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

// shakeFixture builds a module where only part of the call graph is reachable: f0 (exported) calls f3; f1, f2,
// f4 are unreferenced.
func shakeFixture(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.EmptyModule()
	void := m.NewSig(ir.FuncSig(nil, nil))

	mk := func(name string) ir.Func {
		b := ir.NewFunctionBody(m, void)
		b.SetTerminator(b.Entry, ir.ReturnTerm(nil))
		return m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: void, Name: name, Body: b})
	}

	caller := ir.NewFunctionBody(m, void)
	f0 := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: void, Name: "f0", Body: caller})
	mk("f1")
	mk("f2")
	f3 := mk("f3")
	mk("f4")

	caller.AddOp(caller.Entry, ir.CallOp(f3), nil, nil)
	caller.SetTerminator(caller.Entry, ir.ReturnTerm(nil))

	m.Exports = append(m.Exports, ir.Export{Name: "main", Kind: ir.FuncExport(f0)})
	return m
}

// TestTreeShake_ReachableClosure: exactly the reachable pair survives.
func TestTreeShake_ReachableClosure(t *testing.T) {
	src := shakeFixture(t)
	dst, err := TreeShake(src)
	if err != nil {
		t.Fatalf("tree-shake: %v", err)
	}
	if dst.Funcs.Len() != 2 {
		t.Fatalf("functions after shake = %d, want 2", dst.Funcs.Len())
	}
	if len(dst.Exports) != 1 || dst.Exports[0].Name != "main" {
		t.Fatalf("exports = %v", dst.Exports)
	}
	names := map[string]bool{}
	for fi := range dst.Funcs.Len() {
		names[dst.Funcs.At(ir.Func(fi)).Name] = true
	}
	if !names["f0"] || !names["f3"] {
		t.Errorf("surviving names = %v", names)
	}

	// Property 6: the call graph commutes through the function cache.
	exported := ir.Func(dst.Exports[0].Kind.Index)
	body := dst.Funcs.At(exported).Body
	for _, inst := range body.Blocks.At(body.Entry).Insts {
		d := body.Values.At(inst)
		if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpCall {
			if dst.Funcs.At(d.Op.Func).Name != "f3" {
				t.Errorf("call target = %q", dst.Funcs.At(d.Op.Func).Name)
			}
		}
	}
}

func TestCopier_RecursiveFunctions(t *testing.T) {
	m := ir.EmptyModule()
	void := m.NewSig(ir.FuncSig(nil, nil))
	// Two mutually recursive functions.
	a := m.Funcs.Push(ir.FuncDecl{})
	b := m.Funcs.Push(ir.FuncDecl{})
	mkBody := func(callee ir.Func) *ir.FunctionBody {
		body := ir.NewFunctionBody(m, void)
		body.AddOp(body.Entry, ir.CallOp(callee), nil, nil)
		body.SetTerminator(body.Entry, ir.ReturnTerm(nil))
		return body
	}
	m.Funcs.Set(a, ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: void, Name: "a", Body: mkBody(b)})
	m.Funcs.Set(b, ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: void, Name: "b", Body: mkBody(a)})
	m.Exports = append(m.Exports, ir.Export{Name: "a", Kind: ir.FuncExport(a)})

	dst, err := TreeShake(m)
	if err != nil {
		t.Fatalf("tree-shake: %v", err)
	}
	if dst.Funcs.Len() != 2 {
		t.Fatalf("functions = %d", dst.Funcs.Len())
	}
	// Each body's call points at the other function's image.
	for fi := range dst.Funcs.Len() {
		body := dst.Funcs.At(ir.Func(fi)).Body
		for _, inst := range body.Blocks.At(body.Entry).Insts {
			d := body.Values.At(inst)
			if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpCall {
				if !dst.Funcs.Contains(d.Op.Func) {
					t.Errorf("call to untranslated %v", d.Op.Func)
				}
				if d.Op.Func == ir.Func(fi) {
					t.Errorf("mutual recursion collapsed to self-call")
				}
			}
		}
	}
}

func TestCopier_RecursiveSignature(t *testing.T) {
	m := ir.EmptyModule()
	// A signature mentioning itself through a typed function reference.
	rec := m.Signatures.Push(ir.SignatureData{})
	m.Signatures.Set(rec, ir.FuncSig([]ir.Type{ir.SigRef(rec, true)}, nil))
	fn := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: rec, Name: "env.r"})
	m.Imports = append(m.Imports, ir.Import{Module: "env", Name: "r", Kind: ir.FuncImport(fn)})
	m.Exports = append(m.Exports, ir.Export{Name: "r", Kind: ir.FuncExport(fn)})

	dst, err := TreeShake(m)
	if err != nil {
		t.Fatalf("tree-shake: %v", err)
	}
	if dst.Signatures.Len() != 1 {
		t.Fatalf("signatures = %d", dst.Signatures.Len())
	}
	data := dst.Signatures.At(0)
	if data.Kind != ir.SigFunc || len(data.Params) != 1 {
		t.Fatalf("translated signature = %+v", data)
	}
	sigs := data.Params[0].Sigs()
	if len(sigs) != 1 || sigs[0] != 0 {
		t.Errorf("recursive knot not tied: %v", sigs)
	}
	// The import passed through under its names.
	if len(dst.Imports) != 1 || dst.Imports[0].Module != "env" || dst.Imports[0].Name != "r" {
		t.Errorf("imports = %v", dst.Imports)
	}
}

func TestCopier_BindPolicy(t *testing.T) {
	src := ir.EmptyModule()
	void := src.NewSig(ir.FuncSig(nil, nil))
	imp := src.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: void, Name: "env.h"})
	src.Imports = append(src.Imports, ir.Import{Module: "env", Name: "h", Kind: ir.FuncImport(imp)})

	dst := ir.EmptyModule()
	existing := dst.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: dst.NewSig(ir.FuncSig(nil, nil)), Name: "env.h"})

	state := NewState(func(_ *ir.Module, module, name string) (*ImportBehavior, error) {
		return Bind(ir.FuncImport(existing)), nil
	}, nil)
	c := NewCopier(src, dst, state)
	got, err := c.TranslateFunc(imp)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != existing {
		t.Errorf("bound to %v, want %v", got, existing)
	}
	// No copy happened.
	if dst.Funcs.Len() != 1 {
		t.Errorf("dst funcs = %d", dst.Funcs.Len())
	}
}

func TestCopier_CoTables(t *testing.T) {
	src := shakeFixture(t)
	dst := ir.EmptyModule()
	tbl := dst.Tables.Push(ir.TableData{Ty: ir.FuncRef(true)})
	state := NewState(func(_ *ir.Module, module, name string) (*ImportBehavior, error) {
		return Passthrough(module, name), nil
	}, map[ir.Table]struct{}{tbl: {}})
	c := NewCopier(src, dst, state)
	if _, err := c.TranslateFunc(0); err != nil {
		t.Fatalf("translate: %v", err)
	}
	// Every translated function landed in the co-table.
	elems := dst.Tables.At(tbl).FuncElements
	if len(elems) != dst.Funcs.Len() {
		t.Errorf("co-table has %d elements for %d funcs", len(elems), dst.Funcs.Len())
	}
}

func TestCopier_StartChaining(t *testing.T) {
	src := shakeFixture(t)
	src.StartFunc = ir.Func(0) // f0 doubles as the start function
	dst, err := TreeShake(src)
	if err != nil {
		t.Fatalf("tree-shake: %v", err)
	}
	if !ir.Valid(dst.StartFunc) {
		t.Fatal("start chain not established")
	}
	if dst.Funcs.At(dst.StartFunc).Name != "start" {
		t.Errorf("start func name = %q", dst.Funcs.At(dst.StartFunc).Name)
	}
}

func TestCopier_InvasiveMovesBodies(t *testing.T) {
	src := shakeFixture(t)
	dst := ir.EmptyModule()
	state := NewState(func(_ *ir.Module, module, name string) (*ImportBehavior, error) {
		return Passthrough(module, name), nil
	}, nil)
	state.Invasive = true
	c := NewCopier(src, dst, state)
	if _, err := c.TranslateFunc(0); err != nil {
		t.Fatalf("translate: %v", err)
	}
	// The source slot was tombstoned.
	if src.Funcs.At(0).Kind != ir.FuncDeclNone {
		t.Error("invasive copy left the source body in place")
	}
}
