package passes

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

// callerModule builds: func0 (local, calls func2), func1 (import),
// func2 (local).
func callerModule(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.EmptyModule()
	void := m.NewSig(ir.FuncSig(nil, nil))

	callee := ir.NewFunctionBody(m, void)
	callee.SetTerminator(callee.Entry, ir.ReturnTerm(nil))

	caller := ir.NewFunctionBody(m, void)

	f0 := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: void, Name: "caller", Body: caller})
	f1 := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: void, Name: "env.host"})
	f2 := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: void, Name: "callee", Body: callee})

	call := caller.AddOp(caller.Entry, ir.CallOp(f2), nil, nil)
	_ = call
	caller.SetTerminator(caller.Entry, ir.ReturnTerm(nil))

	m.Imports = append(m.Imports, ir.Import{Module: "env", Name: "host", Kind: ir.FuncImport(f1)})
	m.Exports = append(m.Exports, ir.Export{Name: "main", Kind: ir.FuncExport(f0)})
	return m
}

func TestFixupOrders_ImportsFirst(t *testing.T) {
	m := callerModule(t)
	FixupOrders(m)

	if m.Funcs.At(0).Kind != ir.FuncDeclImport {
		t.Fatal("import not moved to index 0")
	}
	if m.Funcs.Len() != 3 {
		t.Fatalf("function count changed: %d", m.Funcs.Len())
	}
	// The import entry and export entry follow the renumbering.
	if m.Imports[0].Kind != ir.FuncImport(0) {
		t.Errorf("import kind = %+v", m.Imports[0].Kind)
	}
	exported := ir.Func(m.Exports[0].Kind.Index)
	if m.Funcs.At(exported).Name != "caller" {
		t.Errorf("export points at %q", m.Funcs.At(exported).Name)
	}
	// The caller's call operator follows its callee.
	caller := m.Funcs.At(exported).Body
	found := false
	for _, inst := range caller.Blocks.At(caller.Entry).Insts {
		d := caller.Values.At(inst)
		if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpCall {
			found = true
			if m.Funcs.At(d.Op.Func).Name != "callee" {
				t.Errorf("call rewired to %q", m.Funcs.At(d.Op.Func).Name)
			}
		}
	}
	if !found {
		t.Fatal("call instruction lost")
	}
}

func TestReorderFuncs_TableElements(t *testing.T) {
	m := callerModule(t)
	tbl := m.Tables.Push(ir.TableData{Ty: ir.FuncRef(true), FuncElements: []ir.Func{2, 0}})
	swap := map[ir.Func]ir.Func{0: 2, 1: 1, 2: 0, ir.InvalidFunc: ir.InvalidFunc}
	ReorderFuncs(m, swap)
	elems := m.Tables.At(tbl).FuncElements
	if elems[0] != 0 || elems[1] != 2 {
		t.Errorf("table elements = %v", elems)
	}
}

func TestFixupMemOrders(t *testing.T) {
	m := ir.EmptyModule()
	local := m.Memories.Push(ir.MemoryData{InitialPages: 1})
	imported := m.Memories.Push(ir.MemoryData{InitialPages: 2})
	m.Imports = append(m.Imports, ir.Import{Module: "env", Name: "mem", Kind: ir.MemoryImport(imported)})

	FixupMemOrders(m)

	if m.Memories.At(0).InitialPages != 2 {
		t.Error("imported memory should come first")
	}
	if m.Memories.At(1).InitialPages != 1 {
		t.Error("local memory should follow")
	}
	if m.Imports[0].Kind != ir.MemoryImport(0) {
		t.Errorf("import entry not renumbered: %+v", m.Imports[0].Kind)
	}
	_ = local
}
