package passes

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

// fuseModule builds the fusion shape: memories m0 (target) and m1, the
// three reserved helpers, and a function loading from m1.
func fuseModule(t *testing.T) (*ir.Module, ir.Func, ir.Func) {
	t.Helper()
	m := ir.EmptyModule()
	target := m.Memories.Push(ir.MemoryData{InitialPages: 1})
	other := m.Memories.Push(ir.MemoryData{InitialPages: 1})

	helperSig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32, ir.I32}, []ir.Type{ir.I32}))
	resolve := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: helperSig, Name: "sk.resolve"})
	grow := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: helperSig, Name: "sk.grow"})
	size := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclImport, Sig: helperSig, Name: "sk.size"})
	for _, f := range []ir.Func{resolve, grow, size} {
		m.Imports = append(m.Imports, ir.Import{Module: "sk", Name: m.Funcs.At(f).Name, Kind: ir.FuncImport(f)})
	}

	loadSig := m.NewSig(ir.FuncSig(nil, []ir.Type{ir.I32}))
	b := ir.NewFunctionBody(m, loadSig)
	addr := b.AddOp(b.Entry, ir.I32ConstOp(0xdead), nil, []ir.Type{ir.I32})
	load := b.AddOp(b.Entry, ir.LoadOp(ir.OpI32Load, ir.MemoryArg{Memory: other}), []ir.Value{addr}, []ir.Type{ir.I32})
	b.SetTerminator(b.Entry, ir.ReturnTerm([]ir.Value{load}))
	fn := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: loadSig, Name: "reader", Body: b})

	m.Exports = append(m.Exports,
		ir.Export{Name: ExportResolve, Kind: ir.FuncExport(resolve)},
		ir.Export{Name: ExportGrow, Kind: ir.FuncExport(grow)},
		ir.Export{Name: ExportSize, Kind: ir.FuncExport(size)},
		ir.Export{Name: ExportMemory, Kind: ir.MemoryExport(target)},
	)
	return m, fn, resolve
}

func TestNewFuse_FindsReservedExports(t *testing.T) {
	m, _, resolve := fuseModule(t)
	fu, ok := NewFuse(m)
	if !ok {
		t.Fatal("reserved exports not found")
	}
	if fu.Resolve != resolve || fu.Target != 0 {
		t.Errorf("fuse = %+v", fu)
	}
}

func TestNewFuse_MissingExports(t *testing.T) {
	m := ir.EmptyModule()
	if _, ok := NewFuse(m); ok {
		t.Fatal("fuse should require the reserved exports")
	}
}

// TestFuseModule_RoutesThroughResolve: the load from m1 routes its address through
// sk%resolve with the original memory index appended, and only the
// target memory survives.
func TestFuseModule_RoutesThroughResolve(t *testing.T) {
	m, fn, resolve := fuseModule(t)
	if err := FuseModule(m); err != nil {
		t.Fatalf("fuse: %v", err)
	}

	if m.Memories.Len() != 1 {
		t.Fatalf("memories after fuse = %d", m.Memories.Len())
	}

	b := m.Funcs.At(fn).Body
	var load, resolveCall ir.ValueDef
	var found bool
	for _, inst := range b.Blocks.At(b.Entry).Insts {
		d := b.Values.Get(inst)
		if d.Kind != ir.DefOperator {
			continue
		}
		switch d.Op.Kind {
		case ir.OpI32Load:
			load = d
			found = true
		case ir.OpCall:
			if d.Op.Func == resolve {
				resolveCall = d
			}
		}
	}
	if !found {
		t.Fatal("load vanished")
	}
	if load.Op.Mem.Memory != 0 {
		t.Errorf("load memory = %v, want target", load.Op.Mem.Memory)
	}
	if resolveCall.Kind != ir.DefOperator {
		t.Fatal("no sk%resolve call inserted")
	}
	args := b.ArgPool.Slice(resolveCall.Args)
	if len(args) != 2 {
		t.Fatalf("resolve args = %d", len(args))
	}
	if d := b.Values.At(args[0]); d.Op.Kind != ir.OpI32Const || uint32(d.Op.I64) != 0xdead {
		t.Errorf("resolve addr arg = %v", d)
	}
	if d := b.Values.At(args[1]); d.Op.Kind != ir.OpI32Const || uint32(d.Op.I64) != 1 {
		t.Errorf("resolve index arg = %v", d)
	}
	// The load's address is now the resolve call's result.
	loadArgs := b.ArgPool.Slice(load.Args)
	if d := b.Values.At(loadArgs[0]); d.Kind != ir.DefOperator || d.Op.Kind != ir.OpCall {
		t.Errorf("load address not routed through resolve: %v", d)
	}
}

func TestFuse_SizeGrowRewritten(t *testing.T) {
	m, _, _ := fuseModule(t)
	fu, _ := NewFuse(m)

	sig := m.NewSig(ir.FuncSig(nil, []ir.Type{ir.I32}))
	b := ir.NewFunctionBody(m, sig)
	sz := b.AddOp(b.Entry, ir.MemorySizeOp(1), nil, []ir.Type{ir.I32})
	b.SetTerminator(b.Entry, ir.ReturnTerm([]ir.Value{sz}))

	fu.Process(m, b)

	d := b.Values.Get(sz)
	if d.Op.Kind != ir.OpCall || d.Op.Func != fu.Size {
		t.Fatalf("memory.size not rewritten: %v", d.Op)
	}
	args := b.ArgPool.Slice(d.Args)
	if len(args) != 1 {
		t.Fatalf("size args = %d", len(args))
	}
	if idx := b.Values.At(args[0]); uint32(idx.Op.I64) != 1 {
		t.Errorf("size index arg = %v", idx)
	}
}
