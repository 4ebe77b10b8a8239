package passes

import (
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

// TestMetafuseAll_EmptiesMemory: a memory with initial-pages=1 and segment
// {offset 16, data [0xAA 0xBB]} is emptied; the synthesized start
// chain grows the memory and stores both bytes.
func TestMetafuseAll_EmptiesMemory(t *testing.T) {
	m := ir.EmptyModule()
	mem := m.Memories.Push(ir.MemoryData{
		InitialPages: 1,
		Segments:     []ir.MemorySegment{{Offset: 16, Data: []byte{0xAA, 0xBB}}},
	})

	MetafuseAll(m, All{})

	md := m.Memories.At(mem)
	if md.InitialPages != 0 {
		t.Errorf("initial pages = %d", md.InitialPages)
	}
	if len(md.Segments) != 0 {
		t.Errorf("segments left = %d", len(md.Segments))
	}
	if !ir.Valid(m.StartFunc) {
		t.Fatal("no start function synthesized")
	}

	stores := map[uint64]byte{}
	var grows int
	for fi := range m.Funcs.Len() {
		d := m.Funcs.At(ir.Func(fi))
		if d.Kind != ir.FuncDeclBody {
			continue
		}
		b := d.Body
		for _, inst := range b.Blocks.At(b.Entry).Insts {
			vd := b.Values.At(inst)
			if vd.Kind != ir.DefOperator {
				continue
			}
			switch vd.Op.Kind {
			case ir.OpI32Store8:
				args := b.ArgPool.Slice(vd.Args)
				addr := b.Values.At(args[0])
				val := b.Values.At(args[1])
				if addr.Kind == ir.DefOperator && val.Kind == ir.DefOperator {
					stores[addr.Op.I64] = byte(val.Op.I64)
				}
			case ir.OpMemoryGrow:
				grows++
				args := b.ArgPool.Slice(vd.Args)
				pages := b.Values.At(args[0])
				if uint32(pages.Op.I64) != 1 {
					t.Errorf("grow pages = %d", uint32(pages.Op.I64))
				}
			}
		}
	}
	if grows != 1 {
		t.Errorf("memory.grow count = %d", grows)
	}
	if stores[16] != 0xAA || stores[17] != 0xBB {
		t.Errorf("stores = %v", stores)
	}
}

func TestMetafuseAll_ImportsOnly(t *testing.T) {
	m := ir.EmptyModule()
	local := m.Memories.Push(ir.MemoryData{
		InitialPages: 1,
		Segments:     []ir.MemorySegment{{Offset: 0, Data: []byte{1}}},
	})
	imported := m.Memories.Push(ir.MemoryData{
		InitialPages: 2,
		Segments:     []ir.MemorySegment{{Offset: 0, Data: []byte{2}}},
	})
	m.Imports = append(m.Imports, ir.Import{Module: "env", Name: "mem", Kind: ir.MemoryImport(imported)})

	MetafuseAll(m, ImportsOnly{})

	if len(m.Memories.At(local).Segments) != 1 {
		t.Error("non-imported memory should be untouched")
	}
	if len(m.Memories.At(imported).Segments) != 0 {
		t.Error("imported memory should be unmemmed")
	}
}

func TestAddStart_Chains(t *testing.T) {
	m := ir.EmptyModule()
	void := m.NewSig(ir.FuncSig(nil, nil))
	mk := func(name string) ir.Func {
		b := ir.NewFunctionBody(m, void)
		b.SetTerminator(b.Entry, ir.ReturnTerm(nil))
		return m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: void, Name: name, Body: b})
	}
	first := mk("first")
	second := mk("second")

	m.AddStart(first)
	prior := m.StartFunc
	m.AddStart(second)

	shim := m.Funcs.At(m.StartFunc)
	if shim.Name != "start" {
		t.Fatalf("shim name = %q", shim.Name)
	}
	body := shim.Body
	// The shim calls the new function, then tail-calls the prior start.
	var called ir.Func = ir.InvalidFunc
	for _, inst := range body.Blocks.At(body.Entry).Insts {
		d := body.Values.At(inst)
		if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpCall {
			called = d.Op.Func
		}
	}
	if called != second {
		t.Errorf("shim calls %v, want %v", called, second)
	}
	term := body.Blocks.At(body.Entry).Terminator
	if term.Kind != ir.TermReturnCall || term.Func != prior {
		t.Errorf("shim terminator = %v", term)
	}
}

func TestQuinIter(t *testing.T) {
	m := ir.EmptyModule()
	sink := m.Funcs.Push(ir.FuncDecl{
		Kind: ir.FuncDeclImport,
		Sig:  m.NewSig(ir.FuncSig([]ir.Type{ir.I32, ir.I32}, nil)),
		Name: "env.sink",
	})
	QuinIter(m, []byte{9, 8}, sink)
	if !ir.Valid(m.StartFunc) {
		t.Fatal("no start function")
	}
	calls := 0
	for fi := range m.Funcs.Len() {
		d := m.Funcs.At(ir.Func(fi))
		if d.Kind != ir.FuncDeclBody {
			continue
		}
		b := d.Body
		for _, inst := range b.Blocks.At(b.Entry).Insts {
			vd := b.Values.At(inst)
			if vd.Kind == ir.DefOperator && vd.Op.Kind == ir.OpCall && vd.Op.Func == sink {
				calls++
			}
		}
	}
	if calls != 2 {
		t.Errorf("sink calls = %d", calls)
	}
}
