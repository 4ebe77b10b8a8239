package wasm

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-shaper/ir"
)

// addModule builds a module exporting add(a, b) = a + b.
func addModule(t *testing.T) *ir.Module {
	t.Helper()
	m := ir.EmptyModule()
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32, ir.I32}, []ir.Type{ir.I32}))
	f := ir.NewFunctionBody(m, sig)
	params := f.Blocks.At(f.Entry).Params
	sum := f.AddOp(f.Entry, ir.Operator{Kind: ir.OpI32Add},
		[]ir.Value{params[0].Value, params[1].Value}, []ir.Type{ir.I32})
	f.SetTerminator(f.Entry, ir.ReturnTerm([]ir.Value{sum}))
	fn := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: sig, Name: "add", Body: f})
	m.Exports = append(m.Exports, ir.Export{Name: "add", Kind: ir.FuncExport(fn)})
	return m
}

func TestEncode_ExecutesUnderWazero(t *testing.T) {
	data, err := Encode(addModule(t))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod, err := rt.Instantiate(ctx, data)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	res, err := mod.ExportedFunction("add").Call(ctx, 3, 4)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(res) != 1 || res[0] != 7 {
		t.Fatalf("add(3, 4) = %v", res)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	m := addModule(t)
	fn := ir.Func(0)
	mem := m.Memories.Push(ir.MemoryData{
		InitialPages: 1,
		Segments:     []ir.MemorySegment{{Offset: 8, Data: []byte{1, 2, 3}}},
	})
	five := uint64(5)
	m.Globals.Push(ir.GlobalData{Ty: ir.I32, Value: &five, Mutable: true})
	m.Tables.Push(ir.TableData{Ty: ir.FuncRef(true), Initial: 1, FuncElements: []ir.Func{fn}})
	m.Exports = append(m.Exports, ir.Export{Name: "memory", Kind: ir.MemoryExport(mem)})

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	back, err := Decode(data, FrontendOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := back.ExpandAllFuncs(); err != nil {
		t.Fatalf("expand: %v", err)
	}

	if back.Funcs.Len() != 1 {
		t.Fatalf("funcs = %d", back.Funcs.Len())
	}
	sig := back.Signatures.At(back.Funcs.At(0).Signature())
	if len(sig.Params) != 2 || len(sig.Returns) != 1 || sig.Params[0] != ir.I32 {
		t.Errorf("signature = %v -> %v", sig.Params, sig.Returns)
	}
	body := back.Funcs.At(0).Body
	if err := body.Validate(); err != nil {
		t.Fatalf("decoded body invalid: %v", err)
	}
	hasAdd := false
	for bi := range body.Blocks.Len() {
		for _, inst := range body.Blocks.At(ir.Block(bi)).Insts {
			d := body.Values.At(inst)
			if d.Kind == ir.DefOperator && d.Op.Kind == ir.OpI32Add {
				hasAdd = true
			}
		}
	}
	if !hasAdd {
		t.Error("add operator lost in the round trip")
	}

	md := back.Memories.At(0)
	if md.InitialPages != 1 || len(md.Segments) != 1 {
		t.Errorf("memory = %+v", md)
	}
	if md.Segments[0].Offset != 8 || len(md.Segments[0].Data) != 3 {
		t.Errorf("segment = %+v", md.Segments[0])
	}
	g := back.Globals.At(0)
	if g.Value == nil || *g.Value != 5 || !g.Mutable {
		t.Errorf("global = %+v", g)
	}
	tbl := back.Tables.At(0)
	if len(tbl.FuncElements) != 1 || tbl.FuncElements[0] != 0 {
		t.Errorf("table elements = %v", tbl.FuncElements)
	}
	if len(back.Exports) != 2 {
		t.Errorf("exports = %v", back.Exports)
	}
}

// rawModule assembles a binary by hand: (func (param i32) (result i32)
// with a loop that decrements to zero, then returns the doubled input).
func rawModule() []byte {
	body := []byte{
		0x01,       // one locals run
		0x01, 0x7F, // 1 x i32
		0x20, 0x00, // local.get 0
		0x21, 0x01, // local.set 1 (counter)
		0x03, 0x40, // loop void
		0x20, 0x01, //   local.get 1
		0x41, 0x01, //   i32.const 1
		0x6B,       //   i32.sub
		0x21, 0x01, //   local.set 1
		0x20, 0x01, //   local.get 1
		0x0D, 0x00, //   br_if 0
		0x0B,       // end
		0x20, 0x00, // local.get 0
		0x20, 0x00, // local.get 0
		0x6A, // i32.add
		0x0B, // end
	}
	w := []byte{
		0x00, 0x61, 0x73, 0x6D, // magic
		0x01, 0x00, 0x00, 0x00, // version
		0x01, 0x06, 0x01, 0x60, 0x01, 0x7F, 0x01, 0x7F, // type: (i32)->(i32)
		0x03, 0x02, 0x01, 0x00, // function section
	}
	w = append(w, 0x0A, byte(len(body)+2), 0x01, byte(len(body)))
	w = append(w, body...)
	return w
}

func TestDecode_StructuredControl(t *testing.T) {
	m, err := Decode(rawModule(), FrontendOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	d, err := m.ExpandFunc(0)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if d.Kind != ir.FuncDeclBody {
		t.Fatalf("decl kind = %v", d.Kind)
	}
	if err := d.Body.Validate(); err != nil {
		t.Fatalf("parsed body invalid: %v", err)
	}
	// The loop produced a cycle in the CFG.
	cyclic := false
	cfg := ir.NewCFGInfo(d.Body)
	for _, b := range cfg.RPO {
		pos, _ := cfg.RPOPos(b)
		for _, succ := range d.Body.Blocks.At(b).Succs {
			if spos, ok := cfg.RPOPos(succ); ok && spos <= pos {
				cyclic = true
			}
		}
	}
	if !cyclic {
		t.Error("loop did not produce a back-edge")
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3, 4}, FrontendOptions{}); err == nil {
		t.Fatal("expected error on garbage input")
	}
	bad := []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}
	if _, err := Decode(bad, FrontendOptions{}); err != ErrInvalidVersion {
		t.Fatalf("err = %v", err)
	}
}

func TestRoundTrip_ReencodesUnderWazero(t *testing.T) {
	// Decode the hand-assembled module, expand, re-encode through the
	// backend, and execute the result.
	m, err := Decode(rawModule(), FrontendOptions{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := m.ExpandAllFuncs(); err != nil {
		t.Fatalf("expand: %v", err)
	}
	m.Exports = append(m.Exports, ir.Export{Name: "dbl", Kind: ir.FuncExport(0)})
	data, err := Encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)
	mod, err := rt.Instantiate(ctx, data)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	res, err := mod.ExportedFunction("dbl").Call(ctx, 21)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if len(res) != 1 || res[0] != 42 {
		t.Fatalf("dbl(21) = %v", res)
	}
}
