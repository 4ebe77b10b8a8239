package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/wasm/internal/binary"
)

// CompileBody lowers one function body to Wasm bytecode. Control flow
// is driven by a dispatch loop over the reachable blocks, so arbitrary
// CFGs lower without structured-control reconstruction: each block
// stores its successor's index into a dispatch local and branches back
// to the loop head. SSA values spill into locals; rematerializable
// operators are regenerated at each use instead.
func CompileBody(m *ir.Module, f *ir.FunctionBody) ([]byte, error) {
	c := &compiler{
		m:      m,
		f:      f,
		cfg:    ir.NewCFGInfo(f),
		locals: map[ir.Value]uint32{},
		picks:  map[pickKey]ir.Value{},
	}
	return c.compile()
}

type pickKey struct {
	value ir.Value
	index uint32
}

type compiler struct {
	m   *ir.Module
	f   *ir.FunctionBody
	cfg *ir.CFGInfo

	locals    map[ir.Value]uint32
	picks     map[pickKey]ir.Value
	extraTys  []ir.Type
	nextLocal uint32 // the dispatch local
	numParams int
	regionIdx map[ir.Block]int
	w         *binary.Writer
}

func (c *compiler) alloc(ty ir.Type) uint32 {
	idx := uint32(c.numParams) + 1 + uint32(len(c.extraTys))
	c.extraTys = append(c.extraTys, ty)
	return idx
}

func (c *compiler) compile() ([]byte, error) {
	f := c.f
	c.numParams = f.NParams
	entryParams := f.Blocks.At(f.Entry).Params
	if len(entryParams) != f.NParams {
		return nil, errors.Structural(errors.PhaseEncode, "backend",
			"entry block params do not match the function signature")
	}
	for i, p := range entryParams {
		c.locals[p.Value] = uint32(i)
	}
	c.nextLocal = uint32(c.numParams)
	c.regionIdx = map[ir.Block]int{}
	for i, b := range c.cfg.RPO {
		c.regionIdx[b] = i
	}

	// Allocate spill locals and index multi-value projections.
	for _, b := range c.cfg.RPO {
		def := f.Blocks.At(b)
		if b != f.Entry {
			for _, p := range def.Params {
				c.locals[p.Value] = c.alloc(p.Type)
			}
		}
		for _, inst := range def.Insts {
			d := f.Values.At(inst)
			switch d.Kind {
			case ir.DefOperator:
				if d.Op.Rematerialize() {
					continue
				}
				if d.Types.Len() == 1 {
					c.locals[inst] = c.alloc(f.TypePool.Slice(d.Types)[0])
				}
			case ir.DefPickOutput:
				c.locals[inst] = c.alloc(d.Type)
				c.picks[pickKey{value: f.ResolveAlias(d.Value), index: d.Index}] = inst
			}
		}
	}

	c.w = binary.NewWriter()

	// Locals declaration: the dispatch local, then the spill locals.
	runs := localRuns(append([]ir.Type{ir.I32}, c.extraTys...))
	c.w.WriteU32(uint32(len(runs)))
	for _, run := range runs {
		c.w.WriteU32(run.count)
		if err := writeValType(c.w, run.ty); err != nil {
			return nil, err
		}
	}

	n := len(c.cfg.RPO)
	// Dispatch skeleton: loop + one label per region.
	c.w.Byte(OpcodeLoop)
	c.w.Byte(0x40)
	for i := 0; i < n; i++ {
		c.w.Byte(OpcodeBlock)
		c.w.Byte(0x40)
	}
	c.w.Byte(OpcodeLocalGet)
	c.w.WriteU32(c.nextLocal)
	c.w.Byte(OpcodeBrTable)
	c.w.WriteU32(uint32(n))
	for i := 0; i < n; i++ {
		c.w.WriteU32(uint32(i))
	}
	c.w.WriteU32(0) // default; the dispatch local is always in range

	for i, b := range c.cfg.RPO {
		c.w.Byte(OpcodeEnd)
		// Loop-head label depth from inside region i.
		loopDepth := uint32(n - 1 - i)
		if err := c.region(b, loopDepth); err != nil {
			return nil, err
		}
	}
	c.w.Byte(OpcodeEnd) // loop
	c.w.Byte(OpcodeUnreachable)
	c.w.Byte(OpcodeEnd) // function body

	body := binary.NewWriter()
	inner := c.w.Bytes()
	body.WriteU32(uint32(len(inner)))
	body.WriteBytes(inner)
	return body.Bytes(), nil
}

type localRun struct {
	count uint32
	ty    ir.Type
}

func localRuns(tys []ir.Type) []localRun {
	var runs []localRun
	for _, ty := range tys {
		if len(runs) > 0 && runs[len(runs)-1].ty == ty {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, localRun{count: 1, ty: ty})
	}
	return runs
}

// pushVal pushes one operand: a rematerialized constant or a spill
// local read.
func (c *compiler) pushVal(v ir.Value) error {
	v = c.f.ResolveAlias(v)
	d := c.f.Values.At(v)
	if d.Kind == ir.DefOperator && d.Op.Rematerialize() {
		return c.emitOp(d.Op)
	}
	local, ok := c.locals[v]
	if !ok {
		return errors.Structural(errors.PhaseEncode, "backend",
			fmt.Sprintf("no spill local for %s", v))
	}
	c.w.Byte(OpcodeLocalGet)
	c.w.WriteU32(local)
	return nil
}

func (c *compiler) region(b ir.Block, loopDepth uint32) error {
	f := c.f
	def := f.Blocks.At(b)
	for _, inst := range def.Insts {
		d := f.Values.At(inst)
		switch d.Kind {
		case ir.DefOperator:
			if d.Op.Kind == ir.OpNop || d.Op.Rematerialize() {
				continue
			}
			for _, a := range f.ArgPool.Slice(d.Args) {
				if err := c.pushVal(a); err != nil {
					return err
				}
			}
			if err := c.emitOp(d.Op); err != nil {
				return err
			}
			arity := d.Types.Len()
			switch {
			case arity == 1:
				c.w.Byte(OpcodeLocalSet)
				c.w.WriteU32(c.locals[inst])
			case arity > 1:
				for i := arity - 1; i >= 0; i-- {
					pick, ok := c.picks[pickKey{value: inst, index: uint32(i)}]
					if ok {
						c.w.Byte(OpcodeLocalSet)
						c.w.WriteU32(c.locals[pick])
					} else {
						c.w.Byte(OpcodeDrop)
					}
				}
			}
		case ir.DefPickOutput, ir.DefAlias, ir.DefNone:
			// Projections store at the defining operator; aliases and
			// tombstones emit nothing.
		case ir.DefPlaceholder:
			return errors.Structural(errors.PhaseEncode, "backend",
				fmt.Sprintf("placeholder %s reached the encoder", inst))
		case ir.DefBlockParam:
			return errors.Structural(errors.PhaseEncode, "backend",
				fmt.Sprintf("blockparam %s in instruction stream", inst))
		}
	}
	return c.terminator(def.Terminator, loopDepth)
}

// assignTarget stores a branch's arguments into the target's param
// locals (pushing all values first so swaps stay atomic) and sets the
// dispatch local.
func (c *compiler) assignTarget(t ir.BlockTarget) error {
	params := c.f.Blocks.At(t.Block).Params
	if len(params) != len(t.Args) {
		return errors.Structural(errors.PhaseEncode, "backend",
			fmt.Sprintf("argument count mismatch branching to %s", t.Block))
	}
	for _, a := range t.Args {
		if err := c.pushVal(a); err != nil {
			return err
		}
	}
	for i := len(params) - 1; i >= 0; i-- {
		c.w.Byte(OpcodeLocalSet)
		c.w.WriteU32(c.locals[params[i].Value])
	}
	c.w.Byte(0x41) // i32.const
	c.w.WriteS32(int32(c.regionIdx[t.Block]))
	c.w.Byte(OpcodeLocalSet)
	c.w.WriteU32(c.nextLocal)
	return nil
}

func (c *compiler) branchTo(t ir.BlockTarget, loopDepth uint32) error {
	if err := c.assignTarget(t); err != nil {
		return err
	}
	c.w.Byte(OpcodeBr)
	c.w.WriteU32(loopDepth)
	return nil
}

func (c *compiler) terminator(t ir.Terminator, loopDepth uint32) error {
	switch t.Kind {
	case ir.TermBr:
		return c.branchTo(t.Target, loopDepth)

	case ir.TermCondBr:
		if err := c.pushVal(t.Cond); err != nil {
			return err
		}
		c.w.Byte(OpcodeIf)
		c.w.Byte(0x40)
		if err := c.branchTo(t.IfTrue, loopDepth+1); err != nil {
			return err
		}
		c.w.Byte(OpcodeEnd)
		return c.branchTo(t.IfFalse, loopDepth)

	case ir.TermSelect:
		for i, target := range t.Targets {
			if err := c.pushVal(t.Value); err != nil {
				return err
			}
			c.w.Byte(0x41)
			c.w.WriteS32(int32(i))
			c.w.Byte(0x46) // i32.eq
			c.w.Byte(OpcodeIf)
			c.w.Byte(0x40)
			if err := c.branchTo(target, loopDepth+1); err != nil {
				return err
			}
			c.w.Byte(OpcodeEnd)
		}
		return c.branchTo(t.Default, loopDepth)

	case ir.TermReturn:
		for _, v := range t.Values {
			if err := c.pushVal(v); err != nil {
				return err
			}
		}
		c.w.Byte(OpcodeReturn)
		return nil

	case ir.TermReturnCall:
		for _, v := range t.Args {
			if err := c.pushVal(v); err != nil {
				return err
			}
		}
		c.w.Byte(OpcodeReturnCall)
		c.w.WriteU32(uint32(t.Func))
		return nil

	case ir.TermReturnCallIndirect:
		for _, v := range t.Args {
			if err := c.pushVal(v); err != nil {
				return err
			}
		}
		c.w.Byte(OpcodeReturnCallIndirect)
		c.w.WriteU32(uint32(t.Sig))
		c.w.WriteU32(uint32(t.Table))
		return nil

	case ir.TermReturnCallRef:
		for _, v := range t.Args {
			if err := c.pushVal(v); err != nil {
				return err
			}
		}
		c.w.Byte(OpcodeReturnCallRef)
		c.w.WriteU32(uint32(t.Sig))
		return nil

	case ir.TermUnreachable:
		c.w.Byte(OpcodeUnreachable)
		return nil

	default:
		return errors.Structural(errors.PhaseEncode, "backend", "block without terminator")
	}
}

func (c *compiler) writeMemArg(mem ir.MemoryArg) {
	align := mem.Align
	if mem.Memory != 0 {
		align |= 0x40
	}
	c.w.WriteU32(align)
	if mem.Memory != 0 {
		c.w.WriteU32(uint32(mem.Memory))
	}
	c.w.WriteU64(mem.Offset)
}

// emitOp writes one operator's opcode and immediates.
func (c *compiler) emitOp(op ir.Operator) error {
	w := c.w
	if code, ok := simpleOpcodes[op.Kind]; ok {
		w.Byte(code)
		return nil
	}
	if code, ok := loadStoreOpcodes[op.Kind]; ok {
		w.Byte(code)
		c.writeMemArg(op.Mem)
		return nil
	}
	switch op.Kind {
	case ir.OpCall:
		w.Byte(OpcodeCall)
		w.WriteU32(uint32(op.Func))
	case ir.OpCallIndirect:
		w.Byte(OpcodeCallIndirect)
		w.WriteU32(uint32(op.Sig))
		w.WriteU32(uint32(op.Table))
	case ir.OpCallRef:
		w.Byte(OpcodeCallRef)
		w.WriteU32(uint32(op.Sig))
	case ir.OpSelect:
		w.Byte(OpcodeSelect)
	case ir.OpTypedSelect:
		w.Byte(OpcodeSelectT)
		w.WriteU32(1)
		return writeValType(w, op.Type)
	case ir.OpGlobalGet:
		w.Byte(OpcodeGlobalGet)
		w.WriteU32(uint32(op.Global))
	case ir.OpGlobalSet:
		w.Byte(OpcodeGlobalSet)
		w.WriteU32(uint32(op.Global))
	case ir.OpTableGet:
		w.Byte(OpcodeTableGet)
		w.WriteU32(uint32(op.Table))
	case ir.OpTableSet:
		w.Byte(OpcodeTableSet)
		w.WriteU32(uint32(op.Table))
	case ir.OpTableGrow:
		w.Byte(PrefixFC)
		w.WriteU32(FCTableGrow)
		w.WriteU32(uint32(op.Table))
	case ir.OpTableSize:
		w.Byte(PrefixFC)
		w.WriteU32(FCTableSize)
		w.WriteU32(uint32(op.Table))
	case ir.OpMemorySize:
		w.Byte(OpcodeMemorySize)
		w.WriteU32(uint32(op.Mem.Memory))
	case ir.OpMemoryGrow:
		w.Byte(OpcodeMemoryGrow)
		w.WriteU32(uint32(op.Mem.Memory))
	case ir.OpMemoryCopy:
		w.Byte(PrefixFC)
		w.WriteU32(FCMemoryCopy)
		w.WriteU32(uint32(op.Mem.Memory))
		w.WriteU32(uint32(op.Mem2.Memory))
	case ir.OpMemoryFill:
		w.Byte(PrefixFC)
		w.WriteU32(FCMemoryFill)
		w.WriteU32(uint32(op.Mem.Memory))
	case ir.OpI32Const:
		w.Byte(0x41)
		w.WriteS32(int32(uint32(op.I64)))
	case ir.OpI64Const:
		w.Byte(0x42)
		w.WriteS64(int64(op.I64))
	case ir.OpF32Const:
		w.Byte(0x43)
		bits := uint32(op.I64)
		w.WriteBytes([]byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)})
	case ir.OpF64Const:
		w.Byte(0x44)
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(op.I64 >> (8 * i))
		}
		w.WriteBytes(buf[:])
	case ir.OpRefNull:
		w.Byte(OpcodeRefNull)
		writeHeapType(w, op.Type)
	case ir.OpRefIsNull:
		w.Byte(OpcodeRefIsNull)
	case ir.OpRefFunc:
		w.Byte(OpcodeRefFunc)
		w.WriteU32(uint32(op.Func))
	case ir.OpMemoryAtomicNotify, ir.OpMemoryAtomicWait32,
		ir.OpI32AtomicLoad, ir.OpI32AtomicStore, ir.OpI32AtomicRmwAdd:
		w.Byte(PrefixAtomic)
		w.WriteU32(atomicSub(op.Kind))
		c.writeMemArg(op.Mem)
	case ir.OpAtomicFence:
		w.Byte(PrefixAtomic)
		w.WriteU32(AtomicFenceSub)
		w.Byte(atomicFencePayload)
	case ir.OpV128Load:
		w.Byte(PrefixSIMD)
		w.WriteU32(SIMDV128Load)
		c.writeMemArg(op.Mem)
	case ir.OpV128Store:
		w.Byte(PrefixSIMD)
		w.WriteU32(SIMDV128Store)
		c.writeMemArg(op.Mem)
	case ir.OpV128Const:
		w.Byte(PrefixSIMD)
		w.WriteU32(SIMDV128Const)
		w.WriteBytes(op.V128[:])
	case ir.OpI32x4Splat:
		w.Byte(PrefixSIMD)
		w.WriteU32(SIMDI32x4Splat)
	case ir.OpI32x4Add:
		w.Byte(PrefixSIMD)
		w.WriteU32(SIMDI32x4Add)
	case ir.OpStructNew:
		w.Byte(PrefixGC)
		w.WriteU32(GCStructNew)
		w.WriteU32(uint32(op.Sig))
	case ir.OpStructGet:
		w.Byte(PrefixGC)
		w.WriteU32(GCStructGet)
		w.WriteU32(uint32(op.Sig))
		w.WriteU32(op.Field)
	case ir.OpStructSet:
		w.Byte(PrefixGC)
		w.WriteU32(GCStructSet)
		w.WriteU32(uint32(op.Sig))
		w.WriteU32(op.Field)
	case ir.OpArrayNew:
		w.Byte(PrefixGC)
		w.WriteU32(GCArrayNew)
		w.WriteU32(uint32(op.Sig))
	case ir.OpArrayGet:
		w.Byte(PrefixGC)
		w.WriteU32(GCArrayGet)
		w.WriteU32(uint32(op.Sig))
	case ir.OpArraySet:
		w.Byte(PrefixGC)
		w.WriteU32(GCArraySet)
		w.WriteU32(uint32(op.Sig))
	case ir.OpArrayLen:
		w.Byte(PrefixGC)
		w.WriteU32(GCArrayLen)
	case ir.OpArrayCopy:
		w.Byte(PrefixGC)
		w.WriteU32(GCArrayCopy)
		w.WriteU32(uint32(op.Sig))
		w.WriteU32(uint32(op.Sig2))
	default:
		return errors.Unsupported(errors.PhaseEncode, "encode "+op.String())
	}
	return nil
}

func atomicSub(k ir.OpKind) uint32 {
	switch k {
	case ir.OpMemoryAtomicNotify:
		return AtomicNotify
	case ir.OpMemoryAtomicWait32:
		return AtomicWait32
	case ir.OpI32AtomicLoad:
		return AtomicI32Load
	case ir.OpI32AtomicStore:
		return AtomicI32Store
	default:
		return AtomicI32RmwAdd
	}
}

// writeHeapType writes the heap-type form of a reference type.
func writeHeapType(w *binary.Writer, t ir.Type) {
	switch t.Heap.Value.Kind {
	case ir.HeapFuncRef:
		w.Byte(ValFuncRef)
	case ir.HeapExternRef:
		w.Byte(ValExternRef)
	default:
		w.WriteS64(int64(t.Heap.Value.Sig))
	}
}
