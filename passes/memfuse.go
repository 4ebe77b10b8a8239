package passes

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
)

// Reserved export names the fusion pass looks up in the source module.
const (
	ExportResolve = "sk%resolve"
	ExportGrow    = "sk%grow"
	ExportSize    = "sk%size"
	ExportMemory  = "memory"
)

// Fuse lowers every memory to the designated target memory behind the
// user-supplied resolve/grow/size redirection functions: loads and
// stores on other memories route their address through resolve with
// the original memory index appended, and size/grow become calls.
type Fuse struct {
	Resolve ir.Func
	Grow    ir.Func
	Size    ir.Func
	Target  ir.Memory
}

// NewFuse looks up the reserved exports. Returns false when any of
// them is missing.
func NewFuse(m *ir.Module) (Fuse, bool) {
	e := m.GetExports()
	resolve, ok1 := e[ExportResolve]
	grow, ok2 := e[ExportGrow]
	size, ok3 := e[ExportSize]
	target, ok4 := e[ExportMemory]
	if !ok1 || !ok2 || !ok3 || !ok4 ||
		resolve.Kind != ir.EntityFunc || grow.Kind != ir.EntityFunc ||
		size.Kind != ir.EntityFunc || target.Kind != ir.EntityMemory {
		return Fuse{}, false
	}
	return Fuse{
		Resolve: ir.Func(resolve.Index),
		Grow:    ir.Func(grow.Index),
		Size:    ir.Func(size.Index),
		Target:  ir.Memory(target.Index),
	}, true
}

// Process rewrites one function body so that every memory operation
// goes through the target memory.
func (fu *Fuse) Process(m *ir.Module, f *ir.FunctionBody) {
	ti := f.SingleTypeList(ir.I32)
	for ki := range f.Blocks.Len() {
		k := ir.Block(ki)
		old := f.Blocks.At(k).Insts
		f.Blocks.At(k).Insts = nil
		appendLocal := func(v ir.Value) {
			f.Blocks.At(k).Insts = append(f.Blocks.At(k).Insts, v)
			f.ValueBlocks.Set(v, k)
		}
		// Bridges an address of mem's width to the target's width.
		adapt := func(mem ir.Memory, v *ir.Value) {
			from := m.Memories.At(mem).Memory64
			to := m.Memories.At(fu.Target).Memory64
			switch {
			case from && !to:
				w := f.ArgPool.Single(*v)
				x := f.AddValue(ir.OperatorDef(ir.Operator{Kind: ir.OpI32WrapI64}, w, f.SingleTypeList(ir.I32)))
				appendLocal(x)
				*v = x
			case !from && to:
				w := f.ArgPool.Single(*v)
				x := f.AddValue(ir.OperatorDef(ir.Operator{Kind: ir.OpI64ExtendI32U}, w, f.SingleTypeList(ir.I64)))
				appendLocal(x)
				*v = x
			}
		}
		for _, v := range old {
			vd := f.Values.Get(v)
			if vd.Kind == ir.DefOperator {
				bp := append([]ir.Value(nil), f.ArgPool.Slice(vd.Args)...)
				switch vd.Op.Kind {
				case ir.OpMemorySize, ir.OpMemoryGrow:
					if mem := vd.Op.Mem.Memory; mem != fu.Target {
						ia := f.AddValue(ir.OperatorDef(ir.I32ConstOp(uint32(mem)), ir.ListRef{}, ti))
						appendLocal(ia)
						callee := fu.Size
						if vd.Op.Kind == ir.OpMemoryGrow {
							callee = fu.Grow
						}
						vd.Op = ir.CallOp(callee)
						bp = append(bp, ia)
						adapt(mem, &bp[0])
					}
				default:
					_ = ir.RewriteMem(&vd.Op, bp, func(mem *ir.Memory, addr *ir.Value) error {
						if *mem == fu.Target {
							return nil
						}
						ia := f.AddValue(ir.OperatorDef(ir.I32ConstOp(uint32(*mem)), ir.ListRef{}, ti))
						appendLocal(ia)
						if addr != nil {
							adapt(*mem, addr)
							w := f.ArgPool.Double(*addr, ia)
							x := f.AddValue(ir.OperatorDef(ir.CallOp(fu.Resolve), w, ti))
							appendLocal(x)
							*addr = x
						}
						*mem = fu.Target
						return nil
					})
				}
				vd.Args = f.ArgPool.FromSlice(bp)
				f.Values.Set(v, vd)
			}
			appendLocal(v)
		}
	}
}

// Finalize drops every memory except the target, renumbering it to
// index zero.
func (fu *Fuse) Finalize(m *ir.Module) ir.Memory {
	mem := m.Memories.Get(fu.Target)
	m.Memories = ir.ArenaFrom[ir.Memory]([]ir.MemoryData{mem})
	ReorderMems(m, map[ir.Memory]ir.Memory{fu.Target: 0})
	return 0
}

// FuseModule runs the full fusion pipeline: unmem every memory, route
// all memory traffic through the reserved redirection exports, and
// drop the fused-out memories.
func FuseModule(m *ir.Module) error {
	fu, ok := NewFuse(m)
	if !ok {
		return errors.New(errors.PhasePass, errors.KindInvalidData).
			Pass("memfuse").
			Detail("reserved exports %s/%s/%s/%s not found", ExportResolve, ExportGrow, ExportSize, ExportMemory).
			Build()
	}
	Logger().Info("memfuse: fusing memories",
		zap.Stringer("target", fu.Target),
		zap.Int("memories", m.Memories.Len()))
	MetafuseAll(m, All{})
	m.TakePerFuncBody(fu.Process)
	fu.Finalize(m)
	return nil
}
