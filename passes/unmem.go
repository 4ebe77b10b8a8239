package passes

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/ir"
)

// unmemChunk bounds how many (offset, byte) writes one synthesized
// start function carries.
const unmemChunk = 4096

// ByteWrite is one (offset, byte) pair of a memory's initial image.
type ByteWrite struct {
	Offset uint64
	Byte   byte
}

// FuseIter synthesizes a start function that stores each (offset,
// byte) pair into mem with i32.store8 and chains it onto the module's
// start sequence.
func FuseIter(m *ir.Module, writes []ByteWrite, mem ir.Memory) {
	null := m.NewSig(ir.FuncSig(nil, nil))
	b := ir.NewFunctionBody(m, null)
	ti := b.SingleTypeList(ir.I32)
	for _, w := range writes {
		ic := b.AddValue(ir.OperatorDef(ir.I32ConstOp(uint32(w.Byte)), ir.ListRef{}, ti))
		b.AppendToBlock(b.Entry, ic)
		ia := b.AddValue(ir.OperatorDef(ir.I32ConstOp(uint32(w.Offset)), ir.ListRef{}, ti))
		b.AppendToBlock(b.Entry, ia)
		vs := b.ArgPool.Double(ia, ic)
		st := b.AddValue(ir.OperatorDef(ir.StoreOp(ir.OpI32Store8, ir.MemoryArg{Memory: mem}), vs, ir.ListRef{}))
		b.AppendToBlock(b.Entry, st)
	}
	b.SetTerminator(b.Entry, ir.ReturnTerm(nil))
	f := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: null, Name: "z", Body: b})
	m.AddStart(f)
}

// MetafuseIter splits the write stream into chunks of at most 4096 and
// synthesizes one start function per chunk.
func MetafuseIter(m *ir.Module, writes []ByteWrite, mem ir.Memory) {
	for len(writes) > 0 {
		n := min(len(writes), unmemChunk)
		FuseIter(m, writes[:n], mem)
		writes = writes[n:]
	}
}

// Metafuse converts a memory's captured initialization data into start
// functions: one store per byte, plus an initial memory.grow sized to
// the recorded initial page count.
func Metafuse(m *ir.Module, mem ir.Memory, dat ir.MemoryData) {
	var writes []ByteWrite
	for _, seg := range dat.Segments {
		for i, by := range seg.Data {
			writes = append(writes, ByteWrite{Offset: seg.Offset + uint64(i), Byte: by})
		}
	}
	MetafuseIter(m, writes, mem)

	null := m.NewSig(ir.FuncSig(nil, nil))
	b := ir.NewFunctionBody(m, null)
	ti := b.SingleTypeList(ir.I32)
	ia := b.AddValue(ir.OperatorDef(ir.I32ConstOp(uint32(dat.InitialPages)), ir.ListRef{}, ti))
	b.AppendToBlock(b.Entry, ia)
	vs := b.ArgPool.Single(ia)
	grow := b.AddValue(ir.OperatorDef(ir.MemoryGrowOp(mem), vs, ti))
	b.AppendToBlock(b.Entry, grow)
	b.SetTerminator(b.Entry, ir.ReturnTerm(nil))
	f := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: null, Name: "z", Body: b})
	m.AddStart(f)
	Logger().Info("unmem: memory lowered to start functions",
		zap.Stringer("memory", mem),
		zap.Int("bytes", len(writes)),
		zap.Uint64("pages", dat.InitialPages))
}

// Cfg chooses which memories to unmem.
type Cfg interface {
	Unmemmable(m *ir.Module, mem ir.Memory) bool
}

// All unmems every memory.
type All struct{}

// Unmemmable implements Cfg.
func (All) Unmemmable(*ir.Module, ir.Memory) bool { return true }

// ImportsOnly unmems only imported memories.
type ImportsOnly struct{}

// Unmemmable implements Cfg.
func (ImportsOnly) Unmemmable(m *ir.Module, mem ir.Memory) bool {
	for _, imp := range m.Imports {
		if imp.Kind == ir.MemoryImport(mem) {
			return true
		}
	}
	return false
}

// MetafuseAll empties the initial image of every memory the config
// selects and rebuilds it through synthesized start functions. After
// the pass, a selected memory has zero segments and zero initial
// pages.
func MetafuseAll(m *ir.Module, cfg Cfg) {
	taken := map[ir.Memory]ir.MemoryData{}
	for mi := m.Memories.Len() - 1; mi >= 0; mi-- {
		mem := ir.Memory(mi)
		data := m.Memories.At(mem)
		taken[mem] = *data
		*data = ir.MemoryData{
			Memory64: data.Memory64,
			Shared:   data.Shared,
		}
	}
	for mi := range m.Memories.Len() {
		mem := ir.Memory(mi)
		if !cfg.Unmemmable(m, mem) {
			m.Memories.Set(mem, taken[mem])
			delete(taken, mem)
		}
	}
	for mi := range m.Memories.Len() {
		mem := ir.Memory(mi)
		if data, ok := taken[mem]; ok {
			Metafuse(m, mem, data)
		}
	}
}

// QuinIter synthesizes a start function that feeds each byte of the
// stream to the sink function q as (0, byte) calls, chunked like
// unmem. The sink's signature is (i32, i32) -> ().
func QuinIter(m *ir.Module, data []byte, q ir.Func) {
	for len(data) > 0 {
		n := min(len(data), unmemChunk)
		quinChunk(m, data[:n], q)
		data = data[n:]
	}
}

func quinChunk(m *ir.Module, data []byte, q ir.Func) {
	null := m.NewSig(ir.FuncSig(nil, nil))
	b := ir.NewFunctionBody(m, null)
	ti := b.SingleTypeList(ir.I32)
	ia := b.AddValue(ir.OperatorDef(ir.I32ConstOp(0), ir.ListRef{}, ti))
	b.AppendToBlock(b.Entry, ia)
	for _, c := range data {
		ic := b.AddValue(ir.OperatorDef(ir.I32ConstOp(uint32(c)), ir.ListRef{}, ti))
		b.AppendToBlock(b.Entry, ic)
		vs := b.ArgPool.Double(ia, ic)
		call := b.AddValue(ir.OperatorDef(ir.CallOp(q), vs, ir.ListRef{}))
		b.AppendToBlock(b.Entry, call)
	}
	b.SetTerminator(b.Entry, ir.ReturnTerm(nil))
	f := m.Funcs.Push(ir.FuncDecl{Kind: ir.FuncDeclBody, Sig: null, Name: "z", Body: b})
	m.AddStart(f)
}
