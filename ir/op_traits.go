package ir

import (
	"github.com/wippyai/wasm-shaper/errors"
)

// SideEffect classifies one way an operator can touch state beyond its
// value result. Effect sets are fixed per operator kind and compared by
// equality; an operator with an empty set is pure.
type SideEffect uint8

const (
	// EffectTrap: the operator can trap.
	EffectTrap SideEffect = iota
	// EffectReadMem: the operator can read a memory.
	EffectReadMem
	// EffectWriteMem: the operator can write a memory.
	EffectWriteMem
	// EffectReadGlobal: the operator can read a global.
	EffectReadGlobal
	// EffectWriteGlobal: the operator can write a global.
	EffectWriteGlobal
	// EffectReadTable: the operator can read a table element.
	EffectReadTable
	// EffectWriteTable: the operator can write a table element.
	EffectWriteTable
	// EffectReadLocal: the operator can read a local.
	EffectReadLocal
	// EffectWriteLocal: the operator can write a local.
	EffectWriteLocal
	// EffectAtomic: the operator participates in the atomic memory model.
	EffectAtomic
	// EffectAll: the operator can have any effect (calls).
	EffectAll
)

var (
	effNone      = []SideEffect{}
	effTrap      = []SideEffect{EffectTrap}
	effAll       = []SideEffect{EffectAll}
	effLoad      = []SideEffect{EffectTrap, EffectReadMem}
	effStore     = []SideEffect{EffectTrap, EffectWriteMem}
	effMemSize   = []SideEffect{EffectReadMem}
	effMemGrow   = []SideEffect{EffectReadMem, EffectWriteMem}
	effMemMove   = []SideEffect{EffectTrap, EffectReadMem, EffectWriteMem}
	effRdGlobal  = []SideEffect{EffectReadGlobal}
	effWrGlobal  = []SideEffect{EffectWriteGlobal}
	effRdTable   = []SideEffect{EffectTrap, EffectReadTable}
	effWrTable   = []SideEffect{EffectTrap, EffectWriteTable}
	effSzTable   = []SideEffect{EffectReadTable}
	effGrTable   = []SideEffect{EffectReadTable, EffectWriteTable}
	effAtomicRd  = []SideEffect{EffectTrap, EffectReadMem, EffectAtomic}
	effAtomicWr  = []SideEffect{EffectTrap, EffectWriteMem, EffectAtomic}
	effAtomicRmw = []SideEffect{EffectTrap, EffectReadMem, EffectWriteMem, EffectAtomic}
	effFence     = []SideEffect{EffectAtomic}
	effHeapRd    = []SideEffect{EffectTrap, EffectReadGlobal}
	effHeapWr    = []SideEffect{EffectTrap, EffectWriteGlobal}
	// ArrayCopy's set reads as global effects; it stands in for "reads
	// and writes heap state" pending a dedicated heap effect pair.
	effHeapMove = []SideEffect{EffectTrap, EffectReadGlobal, EffectWriteGlobal}
)

// Effects returns the fixed side-effect classification of the operator.
func (o Operator) Effects() []SideEffect {
	switch o.Kind {
	case OpCall, OpCallIndirect, OpCallRef:
		return effAll
	case OpGlobalGet:
		return effRdGlobal
	case OpGlobalSet:
		return effWrGlobal
	case OpMemorySize:
		return effMemSize
	case OpMemoryGrow:
		return effMemGrow
	case OpMemoryCopy, OpMemoryFill:
		return effMemMove
	case OpTableGet:
		return effRdTable
	case OpTableSet:
		return effWrTable
	case OpTableSize:
		return effSzTable
	case OpTableGrow:
		return effGrTable
	case OpI32AtomicLoad:
		return effAtomicRd
	case OpI32AtomicStore:
		return effAtomicWr
	case OpI32AtomicRmwAdd, OpMemoryAtomicNotify, OpMemoryAtomicWait32:
		return effAtomicRmw
	case OpAtomicFence:
		return effFence
	case OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU,
		OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU,
		OpI32TruncF32S, OpI32TruncF32U, OpI32TruncF64S, OpI32TruncF64U,
		OpI64TruncF32S, OpI64TruncF32U, OpI64TruncF64S, OpI64TruncF64U:
		return effTrap
	case OpStructGet, OpArrayGet, OpArrayLen:
		return effHeapRd
	case OpStructSet, OpArraySet:
		return effHeapWr
	case OpArrayCopy:
		return effHeapMove
	case OpArrayNew:
		return effTrap
	default:
		if o.IsLoad() {
			return effLoad
		}
		if o.IsStore() {
			return effStore
		}
		return effNone
	}
}

// IsPure reports whether the operator has no side effects.
func (o Operator) IsPure() bool { return len(o.Effects()) == 0 }

// IsCall reports whether the operator transfers control to a function.
func (o Operator) IsCall() bool {
	switch o.Kind {
	case OpCall, OpCallIndirect, OpCallRef:
		return true
	}
	return false
}

// IsLoad reports whether the operator reads from a linear memory.
func (o Operator) IsLoad() bool {
	switch o.Kind {
	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U,
		OpI64Load32S, OpI64Load32U, OpV128Load, OpI32AtomicLoad:
		return true
	}
	return false
}

// IsStore reports whether the operator writes to a linear memory.
func (o Operator) IsStore() bool {
	switch o.Kind {
	case OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16,
		OpI64Store32, OpV128Store, OpI32AtomicStore:
		return true
	}
	return false
}

// AccessesMemory reports whether the operator can read or write memory.
func (o Operator) AccessesMemory() bool {
	for _, e := range o.Effects() {
		if e == EffectReadMem || e == EffectWriteMem || e == EffectAll {
			return true
		}
	}
	return false
}

// CanTrap reports whether the operator can trap.
func (o Operator) CanTrap() bool {
	for _, e := range o.Effects() {
		if e == EffectTrap || e == EffectAll {
			return true
		}
	}
	return false
}

// Rematerialize reports whether the operator should be regenerated at
// each use rather than stored through a local when lowering back to
// bytecode. Constants are much cheaper to rebuild at point-of-use.
func (o Operator) Rematerialize() bool {
	switch o.Kind {
	case OpI32Const, OpI64Const, OpF32Const, OpF64Const:
		return true
	}
	return false
}

// UpdateMemoryArg invokes f on every MemoryArg inside the operator.
func (o *Operator) UpdateMemoryArg(f func(*MemoryArg)) {
	switch {
	case o.Kind == OpMemoryCopy:
		f(&o.Mem)
		f(&o.Mem2)
	case o.usesMem():
		f(&o.Mem)
	}
}

func (o *Operator) usesMem() bool {
	switch o.Kind {
	case OpMemorySize, OpMemoryGrow, OpMemoryFill, OpMemoryCopy,
		OpMemoryAtomicNotify, OpMemoryAtomicWait32,
		OpI32AtomicLoad, OpI32AtomicStore, OpI32AtomicRmwAdd:
		return true
	}
	return o.IsLoad() || o.IsStore()
}

// MemCount returns how many (memory, address-argument) pairs the
// operator touches.
func MemCount(o Operator) int {
	if o.Kind == OpMemoryCopy {
		return 2
	}
	if o.usesMem() && o.Kind != OpAtomicFence {
		return 1
	}
	return 0
}

// RewriteMem walks the (memory, optional address-argument) pairs the
// operator touches, in the stable order matching the argument layout.
// This is the single point that knows the positional correspondence
// between an operator's memory references and its value-argument
// slots. addr is nil for operators without an address operand
// (memory.size, memory.grow).
func RewriteMem[V any](o *Operator, args []V, f func(mem *Memory, addr *V) error) error {
	switch o.Kind {
	case OpMemorySize, OpMemoryGrow:
		return f(&o.Mem.Memory, nil)
	case OpMemoryCopy:
		if err := f(&o.Mem.Memory, &args[0]); err != nil {
			return err
		}
		return f(&o.Mem2.Memory, &args[1])
	case OpMemoryFill:
		return f(&o.Mem.Memory, &args[0])
	case OpMemoryAtomicNotify, OpMemoryAtomicWait32,
		OpI32AtomicLoad, OpI32AtomicStore, OpI32AtomicRmwAdd:
		return f(&o.Mem.Memory, &args[0])
	default:
		if o.IsLoad() || o.IsStore() {
			return f(&o.Mem.Memory, &args[0])
		}
		return nil
	}
}

// addrType returns the index type a memory's addresses use.
func addrType(m *Module, mem Memory) Type {
	if m.Memories.At(mem).Memory64 {
		return I64
	}
	return I32
}

// tableIndexType returns the index type a table uses.
func tableIndexType(m *Module, t Table) Type {
	if m.Tables.At(t).Table64 {
		return I64
	}
	return I32
}

func funcSig(m *Module, s Signature, what string) (*SignatureData, error) {
	sig := m.Signatures.At(s)
	if sig.Kind != SigFunc {
		return nil, errors.InvalidSignature(errors.PhaseIR, what+" against non-function signature "+s.String())
	}
	return sig, nil
}

// OpInputs returns the operand types the operator pops. Operators
// whose operand types depend on the current operand stack (bare
// select) require opStack; all others ignore it.
func OpInputs(m *Module, opStack []Type, o Operator) ([]Type, error) {
	switch o.Kind {
	case OpNop, OpI32Const, OpI64Const, OpF32Const, OpF64Const,
		OpV128Const, OpRefNull, OpRefFunc, OpMemorySize, OpTableSize,
		OpGlobalGet, OpAtomicFence:
		return nil, nil

	case OpCall:
		sig, err := funcSig(m, m.Funcs.At(o.Func).Signature(), "call")
		if err != nil {
			return nil, err
		}
		return sig.Params, nil
	case OpCallIndirect:
		sig, err := funcSig(m, o.Sig, "call_indirect")
		if err != nil {
			return nil, err
		}
		return appendType(sig.Params, tableIndexType(m, o.Table)), nil
	case OpCallRef:
		sig, err := funcSig(m, o.Sig, "call_ref")
		if err != nil {
			return nil, err
		}
		return appendType(sig.Params, SigRef(o.Sig, true)), nil

	case OpSelect:
		if len(opStack) < 3 {
			return nil, errors.InvalidData(errors.PhaseIR, "select requires an operand stack to type")
		}
		t := opStack[len(opStack)-2]
		return []Type{t, t, I32}, nil
	case OpTypedSelect:
		return []Type{o.Type, o.Type, I32}, nil

	case OpGlobalSet:
		return []Type{m.Globals.At(o.Global).Ty}, nil

	case OpMemoryGrow:
		return []Type{addrType(m, o.Mem.Memory)}, nil
	case OpMemoryCopy:
		return []Type{addrType(m, o.Mem.Memory), addrType(m, o.Mem2.Memory), addrType(m, o.Mem.Memory)}, nil
	case OpMemoryFill:
		a := addrType(m, o.Mem.Memory)
		return []Type{a, I32, a}, nil

	case OpTableGet:
		return []Type{tableIndexType(m, o.Table)}, nil
	case OpTableSet:
		return []Type{tableIndexType(m, o.Table), m.Tables.At(o.Table).Ty}, nil
	case OpTableGrow:
		return []Type{m.Tables.At(o.Table).Ty, tableIndexType(m, o.Table)}, nil

	case OpRefIsNull:
		return []Type{o.Type}, nil

	case OpMemoryAtomicNotify:
		return []Type{addrType(m, o.Mem.Memory), I32}, nil
	case OpMemoryAtomicWait32:
		return []Type{addrType(m, o.Mem.Memory), I32, I64}, nil
	case OpI32AtomicLoad:
		return []Type{addrType(m, o.Mem.Memory)}, nil
	case OpI32AtomicStore, OpI32AtomicRmwAdd:
		return []Type{addrType(m, o.Mem.Memory), I32}, nil

	case OpV128Load:
		return []Type{addrType(m, o.Mem.Memory)}, nil
	case OpV128Store:
		return []Type{addrType(m, o.Mem.Memory), V128}, nil
	case OpI32x4Splat:
		return []Type{I32}, nil
	case OpI32x4Add:
		return []Type{V128, V128}, nil

	case OpStructNew:
		sig := m.Signatures.At(o.Sig)
		if sig.Kind != SigStruct {
			return nil, errors.InvalidSignature(errors.PhaseIR, "struct.new against non-struct signature "+o.Sig.String())
		}
		ins := make([]Type, len(sig.Fields))
		for i, fld := range sig.Fields {
			ins[i] = fld.Value.Unpacked()
		}
		return ins, nil
	case OpStructGet:
		return []Type{SigRef(o.Sig, true)}, nil
	case OpStructSet:
		sig := m.Signatures.At(o.Sig)
		if sig.Kind != SigStruct || int(o.Field) >= len(sig.Fields) {
			return nil, errors.InvalidSignature(errors.PhaseIR, "struct.set field out of range on "+o.Sig.String())
		}
		return []Type{SigRef(o.Sig, true), sig.Fields[o.Field].Value.Unpacked()}, nil
	case OpArrayNew:
		sig := m.Signatures.At(o.Sig)
		if sig.Kind != SigArray {
			return nil, errors.InvalidSignature(errors.PhaseIR, "array.new against non-array signature "+o.Sig.String())
		}
		return []Type{sig.Elem.Value.Unpacked(), I32}, nil
	case OpArrayGet:
		return []Type{SigRef(o.Sig, true), I32}, nil
	case OpArraySet:
		sig := m.Signatures.At(o.Sig)
		if sig.Kind != SigArray {
			return nil, errors.InvalidSignature(errors.PhaseIR, "array.set against non-array signature "+o.Sig.String())
		}
		return []Type{SigRef(o.Sig, true), I32, sig.Elem.Value.Unpacked()}, nil
	case OpArrayLen:
		return []Type{SigRef(o.Sig, true)}, nil
	case OpArrayCopy:
		return []Type{SigRef(o.Sig, true), I32, SigRef(o.Sig2, true), I32, I32}, nil
	}

	if o.IsLoad() {
		return []Type{addrType(m, o.Mem.Memory)}, nil
	}
	if o.IsStore() {
		return []Type{addrType(m, o.Mem.Memory), storeOperand(o.Kind)}, nil
	}
	if ins, ok := numericInputs[o.Kind]; ok {
		return ins, nil
	}
	return nil, errors.Unsupported(errors.PhaseIR, "inputs of "+o.String())
}

// OpOutputs returns the result types the operator pushes.
func OpOutputs(m *Module, opStack []Type, o Operator) ([]Type, error) {
	switch o.Kind {
	case OpNop, OpGlobalSet, OpMemoryCopy, OpMemoryFill, OpTableSet,
		OpI32AtomicStore, OpAtomicFence, OpV128Store,
		OpStructSet, OpArraySet, OpArrayCopy:
		return nil, nil

	case OpCall:
		sig, err := funcSig(m, m.Funcs.At(o.Func).Signature(), "call")
		if err != nil {
			return nil, err
		}
		return sig.Returns, nil
	case OpCallIndirect, OpCallRef:
		sig, err := funcSig(m, o.Sig, "call")
		if err != nil {
			return nil, err
		}
		return sig.Returns, nil

	case OpSelect:
		if len(opStack) < 3 {
			return nil, errors.InvalidData(errors.PhaseIR, "select requires an operand stack to type")
		}
		return []Type{opStack[len(opStack)-2]}, nil
	case OpTypedSelect:
		return []Type{o.Type}, nil

	case OpGlobalGet:
		return []Type{m.Globals.At(o.Global).Ty}, nil

	case OpI32Const:
		return []Type{I32}, nil
	case OpI64Const:
		return []Type{I64}, nil
	case OpF32Const:
		return []Type{F32}, nil
	case OpF64Const:
		return []Type{F64}, nil
	case OpV128Const:
		return []Type{V128}, nil

	case OpMemorySize, OpMemoryGrow:
		return []Type{addrType(m, o.Mem.Memory)}, nil

	case OpTableGet:
		return []Type{m.Tables.At(o.Table).Ty}, nil
	case OpTableSize, OpTableGrow:
		return []Type{tableIndexType(m, o.Table)}, nil

	case OpRefNull:
		return []Type{o.Type}, nil
	case OpRefIsNull:
		return []Type{I32}, nil
	case OpRefFunc:
		return []Type{SigRef(m.Funcs.At(o.Func).Signature(), false)}, nil

	case OpMemoryAtomicNotify, OpMemoryAtomicWait32,
		OpI32AtomicLoad, OpI32AtomicRmwAdd:
		return []Type{I32}, nil

	case OpV128Load, OpI32x4Splat, OpI32x4Add:
		return []Type{V128}, nil

	case OpStructNew:
		return []Type{SigRef(o.Sig, false)}, nil
	case OpStructGet:
		sig := m.Signatures.At(o.Sig)
		if sig.Kind != SigStruct || int(o.Field) >= len(sig.Fields) {
			return nil, errors.InvalidSignature(errors.PhaseIR, "struct.get field out of range on "+o.Sig.String())
		}
		return []Type{sig.Fields[o.Field].Value.Unpacked()}, nil
	case OpArrayNew:
		return []Type{SigRef(o.Sig, false)}, nil
	case OpArrayGet:
		sig := m.Signatures.At(o.Sig)
		if sig.Kind != SigArray {
			return nil, errors.InvalidSignature(errors.PhaseIR, "array.get against non-array signature "+o.Sig.String())
		}
		return []Type{sig.Elem.Value.Unpacked()}, nil
	case OpArrayLen:
		return []Type{I32}, nil
	}

	if o.IsLoad() {
		return []Type{loadResult(o.Kind)}, nil
	}
	if o.IsStore() {
		return nil, nil
	}
	if outs, ok := numericOutputs[o.Kind]; ok {
		return outs, nil
	}
	return nil, errors.Unsupported(errors.PhaseIR, "outputs of "+o.String())
}

func appendType(params []Type, t Type) []Type {
	out := make([]Type, 0, len(params)+1)
	out = append(out, params...)
	return append(out, t)
}

func loadResult(k OpKind) Type {
	switch k {
	case OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U, OpI32AtomicLoad:
		return I32
	case OpI64Load, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U:
		return I64
	case OpF32Load:
		return F32
	case OpF64Load:
		return F64
	default:
		return V128
	}
}

func storeOperand(k OpKind) Type {
	switch k {
	case OpI32Store, OpI32Store8, OpI32Store16, OpI32AtomicStore:
		return I32
	case OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32:
		return I64
	case OpF32Store:
		return F32
	case OpF64Store:
		return F64
	default:
		return V128
	}
}

var (
	tyI32  = []Type{I32}
	tyI64  = []Type{I64}
	tyF32  = []Type{F32}
	tyF64  = []Type{F64}
	ty2I32 = []Type{I32, I32}
	ty2I64 = []Type{I64, I64}
	ty2F32 = []Type{F32, F32}
	ty2F64 = []Type{F64, F64}
)

// numericInputs/numericOutputs cover the fixed-arity numeric space.
var numericInputs = map[OpKind][]Type{}
var numericOutputs = map[OpKind][]Type{}

func registerNumeric(ins, outs []Type, kinds ...OpKind) {
	for _, k := range kinds {
		numericInputs[k] = ins
		numericOutputs[k] = outs
	}
}

func init() {
	registerNumeric(tyI32, tyI32, OpI32Eqz, OpI32Clz, OpI32Ctz, OpI32Popcnt,
		OpI32Extend8S, OpI32Extend16S)
	registerNumeric(ty2I32, tyI32,
		OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU,
		OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
		OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU,
		OpI32RemS, OpI32RemU, OpI32And, OpI32Or, OpI32Xor,
		OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr)

	registerNumeric(tyI64, tyI32, OpI64Eqz)
	registerNumeric(tyI64, tyI64, OpI64Clz, OpI64Ctz, OpI64Popcnt,
		OpI64Extend8S, OpI64Extend16S, OpI64Extend32S)
	registerNumeric(ty2I64, tyI32,
		OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU,
		OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU)
	registerNumeric(ty2I64, tyI64,
		OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU,
		OpI64RemS, OpI64RemU, OpI64And, OpI64Or, OpI64Xor,
		OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr)

	registerNumeric(ty2F32, tyI32, OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge)
	registerNumeric(tyF32, tyF32, OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor,
		OpF32Trunc, OpF32Nearest, OpF32Sqrt)
	registerNumeric(ty2F32, tyF32, OpF32Add, OpF32Sub, OpF32Mul, OpF32Div,
		OpF32Min, OpF32Max, OpF32Copysign)

	registerNumeric(ty2F64, tyI32, OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge)
	registerNumeric(tyF64, tyF64, OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor,
		OpF64Trunc, OpF64Nearest, OpF64Sqrt)
	registerNumeric(ty2F64, tyF64, OpF64Add, OpF64Sub, OpF64Mul, OpF64Div,
		OpF64Min, OpF64Max, OpF64Copysign)

	registerNumeric(tyI64, tyI32, OpI32WrapI64)
	registerNumeric(tyF32, tyI32, OpI32TruncF32S, OpI32TruncF32U,
		OpI32TruncSatF32S, OpI32TruncSatF32U, OpI32ReinterpretF32)
	registerNumeric(tyF64, tyI32, OpI32TruncF64S, OpI32TruncF64U,
		OpI32TruncSatF64S, OpI32TruncSatF64U)
	registerNumeric(tyI32, tyI64, OpI64ExtendI32S, OpI64ExtendI32U)
	registerNumeric(tyF32, tyI64, OpI64TruncF32S, OpI64TruncF32U,
		OpI64TruncSatF32S, OpI64TruncSatF32U)
	registerNumeric(tyF64, tyI64, OpI64TruncF64S, OpI64TruncF64U,
		OpI64TruncSatF64S, OpI64TruncSatF64U, OpI64ReinterpretF64)
	registerNumeric(tyI32, tyF32, OpF32ConvertI32S, OpF32ConvertI32U, OpF32ReinterpretI32)
	registerNumeric(tyI64, tyF32, OpF32ConvertI64S, OpF32ConvertI64U)
	registerNumeric(tyF64, tyF32, OpF32DemoteF64)
	registerNumeric(tyI32, tyF64, OpF64ConvertI32S, OpF64ConvertI32U)
	registerNumeric(tyI64, tyF64, OpF64ConvertI64S, OpF64ConvertI64U, OpF64ReinterpretI64)
	registerNumeric(tyF32, tyF64, OpF64PromoteF32)
}
