package ir

import "fmt"

// MemoryArg carries the static memory reference of a memory-accessing
// operator: which memory, alignment hint, and constant offset.
type MemoryArg struct {
	Align  uint32
	Offset uint64
	Memory Memory
}

// OpKind enumerates the operator set: a faithful subset of Wasm plus
// typed function references, a representative slice of the atomic and
// SIMD spaces, typed select, and the GC struct/array prefixes.
type OpKind uint16

const (
	OpInvalid OpKind = iota
	OpNop

	// Calls.
	OpCall
	OpCallIndirect
	OpCallRef

	// Parametric.
	OpSelect
	OpTypedSelect

	// Globals.
	OpGlobalGet
	OpGlobalSet

	// Loads.
	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U

	// Stores.
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32

	// Memory management.
	OpMemorySize
	OpMemoryGrow
	OpMemoryCopy
	OpMemoryFill

	// Constants.
	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	// i32 tests, comparisons, arithmetic.
	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU
	OpI32Clz
	OpI32Ctz
	OpI32Popcnt
	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU
	OpI32Rotl
	OpI32Rotr

	// i64 tests, comparisons, arithmetic.
	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU
	OpI64GtS
	OpI64GtU
	OpI64LeS
	OpI64LeU
	OpI64GeS
	OpI64GeU
	OpI64Clz
	OpI64Ctz
	OpI64Popcnt
	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64DivS
	OpI64DivU
	OpI64RemS
	OpI64RemU
	OpI64And
	OpI64Or
	OpI64Xor
	OpI64Shl
	OpI64ShrS
	OpI64ShrU
	OpI64Rotl
	OpI64Rotr

	// f32 comparisons and arithmetic.
	OpF32Eq
	OpF32Ne
	OpF32Lt
	OpF32Gt
	OpF32Le
	OpF32Ge
	OpF32Abs
	OpF32Neg
	OpF32Ceil
	OpF32Floor
	OpF32Trunc
	OpF32Nearest
	OpF32Sqrt
	OpF32Add
	OpF32Sub
	OpF32Mul
	OpF32Div
	OpF32Min
	OpF32Max
	OpF32Copysign

	// f64 comparisons and arithmetic.
	OpF64Eq
	OpF64Ne
	OpF64Lt
	OpF64Gt
	OpF64Le
	OpF64Ge
	OpF64Abs
	OpF64Neg
	OpF64Ceil
	OpF64Floor
	OpF64Trunc
	OpF64Nearest
	OpF64Sqrt
	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div
	OpF64Min
	OpF64Max
	OpF64Copysign

	// Conversions.
	OpI32WrapI64
	OpI32TruncF32S
	OpI32TruncF32U
	OpI32TruncF64S
	OpI32TruncF64U
	OpI64ExtendI32S
	OpI64ExtendI32U
	OpI64TruncF32S
	OpI64TruncF32U
	OpI64TruncF64S
	OpI64TruncF64U
	OpF32ConvertI32S
	OpF32ConvertI32U
	OpF32ConvertI64S
	OpF32ConvertI64U
	OpF32DemoteF64
	OpF64ConvertI32S
	OpF64ConvertI32U
	OpF64ConvertI64S
	OpF64ConvertI64U
	OpF64PromoteF32
	OpI32ReinterpretF32
	OpI64ReinterpretF64
	OpF32ReinterpretI32
	OpF64ReinterpretI64

	// Sign extension.
	OpI32Extend8S
	OpI32Extend16S
	OpI64Extend8S
	OpI64Extend16S
	OpI64Extend32S

	// Saturating truncation.
	OpI32TruncSatF32S
	OpI32TruncSatF32U
	OpI32TruncSatF64S
	OpI32TruncSatF64U
	OpI64TruncSatF32S
	OpI64TruncSatF32U
	OpI64TruncSatF64S
	OpI64TruncSatF64U

	// References.
	OpRefNull
	OpRefIsNull
	OpRefFunc

	// Tables.
	OpTableGet
	OpTableSet
	OpTableSize
	OpTableGrow

	// Atomics (representative subset).
	OpMemoryAtomicNotify
	OpMemoryAtomicWait32
	OpI32AtomicLoad
	OpI32AtomicStore
	OpI32AtomicRmwAdd
	OpAtomicFence

	// SIMD (representative subset).
	OpV128Load
	OpV128Store
	OpV128Const
	OpI32x4Splat
	OpI32x4Add

	// GC struct/array prefixes.
	OpStructNew
	OpStructGet
	OpStructSet
	OpArrayNew
	OpArrayGet
	OpArraySet
	OpArrayLen
	OpArrayCopy

	numOpKinds
)

// Operator is a primitive IR computation: an operator kind plus its
// immediates. Operators are plain comparable values so they can key
// caches directly.
type Operator struct {
	Kind OpKind
	// Memory-accessing operators. Mem2 is the source memory of
	// memory.copy.
	Mem  MemoryArg
	Mem2 MemoryArg
	// Entity immediates.
	Func   Func
	Sig    Signature
	Sig2   Signature // array.copy source signature
	Table  Table
	Global Global
	Tag    ControlTag
	// TypedSelect / RefNull / RefIsNull operand type.
	Type Type
	// Constant payload: i32/f32 in the low 32 bits, i64/f64 bits, or a
	// struct/array field index.
	I64   uint64
	Field uint32
	// v128 constant payload.
	V128 [16]byte
}

// Constructors for the operators the passes synthesize.

// NopOp returns the no-op operator.
func NopOp() Operator { return Operator{Kind: OpNop} }

// I32ConstOp returns an i32 constant operator.
func I32ConstOp(v uint32) Operator { return Operator{Kind: OpI32Const, I64: uint64(v)} }

// I64ConstOp returns an i64 constant operator.
func I64ConstOp(v uint64) Operator { return Operator{Kind: OpI64Const, I64: v} }

// F32ConstOp returns an f32 constant operator from raw bits.
func F32ConstOp(bits uint32) Operator { return Operator{Kind: OpF32Const, I64: uint64(bits)} }

// F64ConstOp returns an f64 constant operator from raw bits.
func F64ConstOp(bits uint64) Operator { return Operator{Kind: OpF64Const, I64: bits} }

// CallOp returns a direct call operator.
func CallOp(f Func) Operator { return Operator{Kind: OpCall, Func: f} }

// CallIndirectOp returns an indirect call operator.
func CallIndirectOp(sig Signature, table Table) Operator {
	return Operator{Kind: OpCallIndirect, Sig: sig, Table: table}
}

// CallRefOp returns a typed-reference call operator.
func CallRefOp(sig Signature) Operator { return Operator{Kind: OpCallRef, Sig: sig} }

// GlobalGetOp returns a global read operator.
func GlobalGetOp(g Global) Operator { return Operator{Kind: OpGlobalGet, Global: g} }

// GlobalSetOp returns a global write operator.
func GlobalSetOp(g Global) Operator { return Operator{Kind: OpGlobalSet, Global: g} }

// RefFuncOp returns a function-reference materialization operator.
func RefFuncOp(f Func) Operator { return Operator{Kind: OpRefFunc, Func: f} }

// LoadOp returns a load operator of the given kind against mem.
func LoadOp(kind OpKind, mem MemoryArg) Operator { return Operator{Kind: kind, Mem: mem} }

// StoreOp returns a store operator of the given kind against mem.
func StoreOp(kind OpKind, mem MemoryArg) Operator { return Operator{Kind: kind, Mem: mem} }

// MemorySizeOp returns a memory.size operator.
func MemorySizeOp(mem Memory) Operator {
	return Operator{Kind: OpMemorySize, Mem: MemoryArg{Memory: mem}}
}

// MemoryGrowOp returns a memory.grow operator.
func MemoryGrowOp(mem Memory) Operator {
	return Operator{Kind: OpMemoryGrow, Mem: MemoryArg{Memory: mem}}
}

var opNames = map[OpKind]string{
	OpNop:          "nop",
	OpCall:         "call",
	OpCallIndirect: "call_indirect",
	OpCallRef:      "call_ref",
	OpSelect:       "select",
	OpTypedSelect:  "typed_select",
	OpGlobalGet:    "global.get",
	OpGlobalSet:    "global.set",

	OpI32Load:    "i32.load",
	OpI64Load:    "i64.load",
	OpF32Load:    "f32.load",
	OpF64Load:    "f64.load",
	OpI32Load8S:  "i32.load8_s",
	OpI32Load8U:  "i32.load8_u",
	OpI32Load16S: "i32.load16_s",
	OpI32Load16U: "i32.load16_u",
	OpI64Load8S:  "i64.load8_s",
	OpI64Load8U:  "i64.load8_u",
	OpI64Load16S: "i64.load16_s",
	OpI64Load16U: "i64.load16_u",
	OpI64Load32S: "i64.load32_s",
	OpI64Load32U: "i64.load32_u",

	OpI32Store:   "i32.store",
	OpI64Store:   "i64.store",
	OpF32Store:   "f32.store",
	OpF64Store:   "f64.store",
	OpI32Store8:  "i32.store8",
	OpI32Store16: "i32.store16",
	OpI64Store8:  "i64.store8",
	OpI64Store16: "i64.store16",
	OpI64Store32: "i64.store32",

	OpMemorySize: "memory.size",
	OpMemoryGrow: "memory.grow",
	OpMemoryCopy: "memory.copy",
	OpMemoryFill: "memory.fill",

	OpI32Const: "i32.const",
	OpI64Const: "i64.const",
	OpF32Const: "f32.const",
	OpF64Const: "f64.const",

	OpI32Eqz:    "i32.eqz",
	OpI32Eq:     "i32.eq",
	OpI32Ne:     "i32.ne",
	OpI32LtS:    "i32.lt_s",
	OpI32LtU:    "i32.lt_u",
	OpI32GtS:    "i32.gt_s",
	OpI32GtU:    "i32.gt_u",
	OpI32LeS:    "i32.le_s",
	OpI32LeU:    "i32.le_u",
	OpI32GeS:    "i32.ge_s",
	OpI32GeU:    "i32.ge_u",
	OpI32Clz:    "i32.clz",
	OpI32Ctz:    "i32.ctz",
	OpI32Popcnt: "i32.popcnt",
	OpI32Add:    "i32.add",
	OpI32Sub:    "i32.sub",
	OpI32Mul:    "i32.mul",
	OpI32DivS:   "i32.div_s",
	OpI32DivU:   "i32.div_u",
	OpI32RemS:   "i32.rem_s",
	OpI32RemU:   "i32.rem_u",
	OpI32And:    "i32.and",
	OpI32Or:     "i32.or",
	OpI32Xor:    "i32.xor",
	OpI32Shl:    "i32.shl",
	OpI32ShrS:   "i32.shr_s",
	OpI32ShrU:   "i32.shr_u",
	OpI32Rotl:   "i32.rotl",
	OpI32Rotr:   "i32.rotr",

	OpI64Eqz:    "i64.eqz",
	OpI64Eq:     "i64.eq",
	OpI64Ne:     "i64.ne",
	OpI64LtS:    "i64.lt_s",
	OpI64LtU:    "i64.lt_u",
	OpI64GtS:    "i64.gt_s",
	OpI64GtU:    "i64.gt_u",
	OpI64LeS:    "i64.le_s",
	OpI64LeU:    "i64.le_u",
	OpI64GeS:    "i64.ge_s",
	OpI64GeU:    "i64.ge_u",
	OpI64Clz:    "i64.clz",
	OpI64Ctz:    "i64.ctz",
	OpI64Popcnt: "i64.popcnt",
	OpI64Add:    "i64.add",
	OpI64Sub:    "i64.sub",
	OpI64Mul:    "i64.mul",
	OpI64DivS:   "i64.div_s",
	OpI64DivU:   "i64.div_u",
	OpI64RemS:   "i64.rem_s",
	OpI64RemU:   "i64.rem_u",
	OpI64And:    "i64.and",
	OpI64Or:     "i64.or",
	OpI64Xor:    "i64.xor",
	OpI64Shl:    "i64.shl",
	OpI64ShrS:   "i64.shr_s",
	OpI64ShrU:   "i64.shr_u",
	OpI64Rotl:   "i64.rotl",
	OpI64Rotr:   "i64.rotr",

	OpF32Eq:       "f32.eq",
	OpF32Ne:       "f32.ne",
	OpF32Lt:       "f32.lt",
	OpF32Gt:       "f32.gt",
	OpF32Le:       "f32.le",
	OpF32Ge:       "f32.ge",
	OpF32Abs:      "f32.abs",
	OpF32Neg:      "f32.neg",
	OpF32Ceil:     "f32.ceil",
	OpF32Floor:    "f32.floor",
	OpF32Trunc:    "f32.trunc",
	OpF32Nearest:  "f32.nearest",
	OpF32Sqrt:     "f32.sqrt",
	OpF32Add:      "f32.add",
	OpF32Sub:      "f32.sub",
	OpF32Mul:      "f32.mul",
	OpF32Div:      "f32.div",
	OpF32Min:      "f32.min",
	OpF32Max:      "f32.max",
	OpF32Copysign: "f32.copysign",

	OpF64Eq:       "f64.eq",
	OpF64Ne:       "f64.ne",
	OpF64Lt:       "f64.lt",
	OpF64Gt:       "f64.gt",
	OpF64Le:       "f64.le",
	OpF64Ge:       "f64.ge",
	OpF64Abs:      "f64.abs",
	OpF64Neg:      "f64.neg",
	OpF64Ceil:     "f64.ceil",
	OpF64Floor:    "f64.floor",
	OpF64Trunc:    "f64.trunc",
	OpF64Nearest:  "f64.nearest",
	OpF64Sqrt:     "f64.sqrt",
	OpF64Add:      "f64.add",
	OpF64Sub:      "f64.sub",
	OpF64Mul:      "f64.mul",
	OpF64Div:      "f64.div",
	OpF64Min:      "f64.min",
	OpF64Max:      "f64.max",
	OpF64Copysign: "f64.copysign",

	OpI32WrapI64:        "i32.wrap_i64",
	OpI32TruncF32S:      "i32.trunc_f32_s",
	OpI32TruncF32U:      "i32.trunc_f32_u",
	OpI32TruncF64S:      "i32.trunc_f64_s",
	OpI32TruncF64U:      "i32.trunc_f64_u",
	OpI64ExtendI32S:     "i64.extend_i32_s",
	OpI64ExtendI32U:     "i64.extend_i32_u",
	OpI64TruncF32S:      "i64.trunc_f32_s",
	OpI64TruncF32U:      "i64.trunc_f32_u",
	OpI64TruncF64S:      "i64.trunc_f64_s",
	OpI64TruncF64U:      "i64.trunc_f64_u",
	OpF32ConvertI32S:    "f32.convert_i32_s",
	OpF32ConvertI32U:    "f32.convert_i32_u",
	OpF32ConvertI64S:    "f32.convert_i64_s",
	OpF32ConvertI64U:    "f32.convert_i64_u",
	OpF32DemoteF64:      "f32.demote_f64",
	OpF64ConvertI32S:    "f64.convert_i32_s",
	OpF64ConvertI32U:    "f64.convert_i32_u",
	OpF64ConvertI64S:    "f64.convert_i64_s",
	OpF64ConvertI64U:    "f64.convert_i64_u",
	OpF64PromoteF32:     "f64.promote_f32",
	OpI32ReinterpretF32: "i32.reinterpret_f32",
	OpI64ReinterpretF64: "i64.reinterpret_f64",
	OpF32ReinterpretI32: "f32.reinterpret_i32",
	OpF64ReinterpretI64: "f64.reinterpret_i64",

	OpI32Extend8S:  "i32.extend8_s",
	OpI32Extend16S: "i32.extend16_s",
	OpI64Extend8S:  "i64.extend8_s",
	OpI64Extend16S: "i64.extend16_s",
	OpI64Extend32S: "i64.extend32_s",

	OpI32TruncSatF32S: "i32.trunc_sat_f32_s",
	OpI32TruncSatF32U: "i32.trunc_sat_f32_u",
	OpI32TruncSatF64S: "i32.trunc_sat_f64_s",
	OpI32TruncSatF64U: "i32.trunc_sat_f64_u",
	OpI64TruncSatF32S: "i64.trunc_sat_f32_s",
	OpI64TruncSatF32U: "i64.trunc_sat_f32_u",
	OpI64TruncSatF64S: "i64.trunc_sat_f64_s",
	OpI64TruncSatF64U: "i64.trunc_sat_f64_u",

	OpRefNull:   "ref.null",
	OpRefIsNull: "ref.is_null",
	OpRefFunc:   "ref.func",

	OpTableGet:  "table.get",
	OpTableSet:  "table.set",
	OpTableSize: "table.size",
	OpTableGrow: "table.grow",

	OpMemoryAtomicNotify: "memory.atomic.notify",
	OpMemoryAtomicWait32: "memory.atomic.wait32",
	OpI32AtomicLoad:      "i32.atomic.load",
	OpI32AtomicStore:     "i32.atomic.store",
	OpI32AtomicRmwAdd:    "i32.atomic.rmw.add",
	OpAtomicFence:        "atomic.fence",

	OpV128Load:   "v128.load",
	OpV128Store:  "v128.store",
	OpV128Const:  "v128.const",
	OpI32x4Splat: "i32x4.splat",
	OpI32x4Add:   "i32x4.add",

	OpStructNew: "struct.new",
	OpStructGet: "struct.get",
	OpStructSet: "struct.set",
	OpArrayNew:  "array.new",
	OpArrayGet:  "array.get",
	OpArraySet:  "array.set",
	OpArrayLen:  "array.len",
	OpArrayCopy: "array.copy",
}

func (o Operator) String() string {
	name, ok := opNames[o.Kind]
	if !ok {
		return fmt.Sprintf("op(%d)", o.Kind)
	}
	switch o.Kind {
	case OpCall:
		return fmt.Sprintf("%s %s", name, o.Func)
	case OpCallIndirect:
		return fmt.Sprintf("%s %s %s", name, o.Sig, o.Table)
	case OpCallRef:
		return fmt.Sprintf("%s %s", name, o.Sig)
	case OpGlobalGet, OpGlobalSet:
		return fmt.Sprintf("%s %s", name, o.Global)
	case OpRefFunc:
		return fmt.Sprintf("%s %s", name, o.Func)
	case OpI32Const:
		return fmt.Sprintf("%s %d", name, uint32(o.I64))
	case OpI64Const:
		return fmt.Sprintf("%s %d", name, o.I64)
	case OpF32Const, OpF64Const:
		return fmt.Sprintf("%s 0x%x", name, o.I64)
	case OpTableGet, OpTableSet, OpTableSize, OpTableGrow:
		return fmt.Sprintf("%s %s", name, o.Table)
	case OpMemorySize, OpMemoryGrow:
		return fmt.Sprintf("%s %s", name, o.Mem.Memory)
	case OpMemoryCopy:
		return fmt.Sprintf("%s %s %s", name, o.Mem.Memory, o.Mem2.Memory)
	case OpStructNew, OpArrayNew, OpArrayLen:
		return fmt.Sprintf("%s %s", name, o.Sig)
	case OpStructGet, OpStructSet:
		return fmt.Sprintf("%s %s %d", name, o.Sig, o.Field)
	case OpArrayGet, OpArraySet:
		return fmt.Sprintf("%s %s", name, o.Sig)
	case OpArrayCopy:
		return fmt.Sprintf("%s %s %s", name, o.Sig, o.Sig2)
	default:
		if o.IsLoad() || o.IsStore() {
			return fmt.Sprintf("%s %s+%d", name, o.Mem.Memory, o.Mem.Offset)
		}
		return name
	}
}
