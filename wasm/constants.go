package wasm

import "github.com/wippyai/wasm-shaper/ir"

// Magic and Version identify a Wasm binary module.
const (
	Magic   uint32 = 0x6d736100 // "\0asm"
	Version uint32 = 1
)

// Section IDs.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// Import/export descriptor kinds.
const (
	ExtKindFunc   byte = 0x00
	ExtKindTable  byte = 0x01
	ExtKindMemory byte = 0x02
	ExtKindGlobal byte = 0x03
	ExtKindTag    byte = 0x04
)

// Type-section shapes.
const (
	FuncTypeByte   byte = 0x60
	StructTypeByte byte = 0x5F
	ArrayTypeByte  byte = 0x5E
)

// Value-type bytes.
const (
	ValI32       byte = 0x7F
	ValI64       byte = 0x7E
	ValF32       byte = 0x7D
	ValF64       byte = 0x7C
	ValV128      byte = 0x7B
	ValPackedI8  byte = 0x78
	ValPackedI16 byte = 0x77
	ValFuncRef   byte = 0x70
	ValExternRef byte = 0x6F
	ValRefNull   byte = 0x63
	ValRef       byte = 0x64
)

// Control and structural opcodes.
const (
	OpcodeUnreachable        byte = 0x00
	OpcodeNop                byte = 0x01
	OpcodeBlock              byte = 0x02
	OpcodeLoop               byte = 0x03
	OpcodeIf                 byte = 0x04
	OpcodeElse               byte = 0x05
	OpcodeEnd                byte = 0x0B
	OpcodeBr                 byte = 0x0C
	OpcodeBrIf               byte = 0x0D
	OpcodeBrTable            byte = 0x0E
	OpcodeReturn             byte = 0x0F
	OpcodeCall               byte = 0x10
	OpcodeCallIndirect       byte = 0x11
	OpcodeReturnCall         byte = 0x12
	OpcodeReturnCallIndirect byte = 0x13
	OpcodeCallRef            byte = 0x14
	OpcodeReturnCallRef      byte = 0x15
	OpcodeDrop               byte = 0x1A
	OpcodeSelect             byte = 0x1B
	OpcodeSelectT            byte = 0x1C
	OpcodeLocalGet           byte = 0x20
	OpcodeLocalSet           byte = 0x21
	OpcodeLocalTee           byte = 0x22
	OpcodeGlobalGet          byte = 0x23
	OpcodeGlobalSet          byte = 0x24
	OpcodeTableGet           byte = 0x25
	OpcodeTableSet           byte = 0x26
	OpcodeMemorySize         byte = 0x3F
	OpcodeMemoryGrow         byte = 0x40
	OpcodeRefNull            byte = 0xD0
	OpcodeRefIsNull          byte = 0xD1
	OpcodeRefFunc            byte = 0xD2
	PrefixFC                 byte = 0xFC
	PrefixSIMD               byte = 0xFD
	PrefixAtomic             byte = 0xFE
	PrefixGC                 byte = 0xFB
)

// FC-prefixed sub-opcodes.
const (
	FCMemoryCopy uint32 = 10
	FCMemoryFill uint32 = 11
	FCTableGrow  uint32 = 15
	FCTableSize  uint32 = 16
)

// Atomic sub-opcodes.
const (
	AtomicNotify       uint32 = 0x00
	AtomicWait32       uint32 = 0x01
	AtomicFenceSub     uint32 = 0x03
	AtomicI32Load      uint32 = 0x10
	AtomicI32Store     uint32 = 0x17
	AtomicI32RmwAdd    uint32 = 0x1E
	atomicFencePayload byte   = 0x00
)

// SIMD sub-opcodes.
const (
	SIMDV128Load   uint32 = 0x00
	SIMDV128Store  uint32 = 0x0B
	SIMDV128Const  uint32 = 0x0C
	SIMDI32x4Splat uint32 = 0x11
	SIMDI32x4Add   uint32 = 0xAE
)

// GC sub-opcodes.
const (
	GCStructNew uint32 = 0x00
	GCStructGet uint32 = 0x02
	GCStructSet uint32 = 0x05
	GCArrayNew  uint32 = 0x06
	GCArrayGet  uint32 = 0x0B
	GCArraySet  uint32 = 0x0E
	GCArrayLen  uint32 = 0x0F
	GCArrayCopy uint32 = 0x11
)

// simpleOps maps single-byte opcodes with no immediates to operator
// kinds. Loads/stores, constants and entity-indexed operators are
// handled structurally.
var simpleOps = map[byte]ir.OpKind{
	0x45: ir.OpI32Eqz, 0x46: ir.OpI32Eq, 0x47: ir.OpI32Ne,
	0x48: ir.OpI32LtS, 0x49: ir.OpI32LtU, 0x4A: ir.OpI32GtS, 0x4B: ir.OpI32GtU,
	0x4C: ir.OpI32LeS, 0x4D: ir.OpI32LeU, 0x4E: ir.OpI32GeS, 0x4F: ir.OpI32GeU,
	0x50: ir.OpI64Eqz, 0x51: ir.OpI64Eq, 0x52: ir.OpI64Ne,
	0x53: ir.OpI64LtS, 0x54: ir.OpI64LtU, 0x55: ir.OpI64GtS, 0x56: ir.OpI64GtU,
	0x57: ir.OpI64LeS, 0x58: ir.OpI64LeU, 0x59: ir.OpI64GeS, 0x5A: ir.OpI64GeU,
	0x5B: ir.OpF32Eq, 0x5C: ir.OpF32Ne, 0x5D: ir.OpF32Lt, 0x5E: ir.OpF32Gt, 0x5F: ir.OpF32Le, 0x60: ir.OpF32Ge,
	0x61: ir.OpF64Eq, 0x62: ir.OpF64Ne, 0x63: ir.OpF64Lt, 0x64: ir.OpF64Gt, 0x65: ir.OpF64Le, 0x66: ir.OpF64Ge,
	0x67: ir.OpI32Clz, 0x68: ir.OpI32Ctz, 0x69: ir.OpI32Popcnt,
	0x6A: ir.OpI32Add, 0x6B: ir.OpI32Sub, 0x6C: ir.OpI32Mul,
	0x6D: ir.OpI32DivS, 0x6E: ir.OpI32DivU, 0x6F: ir.OpI32RemS, 0x70: ir.OpI32RemU,
	0x71: ir.OpI32And, 0x72: ir.OpI32Or, 0x73: ir.OpI32Xor,
	0x74: ir.OpI32Shl, 0x75: ir.OpI32ShrS, 0x76: ir.OpI32ShrU, 0x77: ir.OpI32Rotl, 0x78: ir.OpI32Rotr,
	0x79: ir.OpI64Clz, 0x7A: ir.OpI64Ctz, 0x7B: ir.OpI64Popcnt,
	0x7C: ir.OpI64Add, 0x7D: ir.OpI64Sub, 0x7E: ir.OpI64Mul,
	0x7F: ir.OpI64DivS, 0x80: ir.OpI64DivU, 0x81: ir.OpI64RemS, 0x82: ir.OpI64RemU,
	0x83: ir.OpI64And, 0x84: ir.OpI64Or, 0x85: ir.OpI64Xor,
	0x86: ir.OpI64Shl, 0x87: ir.OpI64ShrS, 0x88: ir.OpI64ShrU, 0x89: ir.OpI64Rotl, 0x8A: ir.OpI64Rotr,
	0x8B: ir.OpF32Abs, 0x8C: ir.OpF32Neg, 0x8D: ir.OpF32Ceil, 0x8E: ir.OpF32Floor,
	0x8F: ir.OpF32Trunc, 0x90: ir.OpF32Nearest, 0x91: ir.OpF32Sqrt,
	0x92: ir.OpF32Add, 0x93: ir.OpF32Sub, 0x94: ir.OpF32Mul, 0x95: ir.OpF32Div,
	0x96: ir.OpF32Min, 0x97: ir.OpF32Max, 0x98: ir.OpF32Copysign,
	0x99: ir.OpF64Abs, 0x9A: ir.OpF64Neg, 0x9B: ir.OpF64Ceil, 0x9C: ir.OpF64Floor,
	0x9D: ir.OpF64Trunc, 0x9E: ir.OpF64Nearest, 0x9F: ir.OpF64Sqrt,
	0xA0: ir.OpF64Add, 0xA1: ir.OpF64Sub, 0xA2: ir.OpF64Mul, 0xA3: ir.OpF64Div,
	0xA4: ir.OpF64Min, 0xA5: ir.OpF64Max, 0xA6: ir.OpF64Copysign,
	0xA7: ir.OpI32WrapI64,
	0xA8: ir.OpI32TruncF32S, 0xA9: ir.OpI32TruncF32U, 0xAA: ir.OpI32TruncF64S, 0xAB: ir.OpI32TruncF64U,
	0xAC: ir.OpI64ExtendI32S, 0xAD: ir.OpI64ExtendI32U,
	0xAE: ir.OpI64TruncF32S, 0xAF: ir.OpI64TruncF32U, 0xB0: ir.OpI64TruncF64S, 0xB1: ir.OpI64TruncF64U,
	0xB2: ir.OpF32ConvertI32S, 0xB3: ir.OpF32ConvertI32U, 0xB4: ir.OpF32ConvertI64S, 0xB5: ir.OpF32ConvertI64U,
	0xB6: ir.OpF32DemoteF64,
	0xB7: ir.OpF64ConvertI32S, 0xB8: ir.OpF64ConvertI32U, 0xB9: ir.OpF64ConvertI64S, 0xBA: ir.OpF64ConvertI64U,
	0xBB: ir.OpF64PromoteF32,
	0xBC: ir.OpI32ReinterpretF32, 0xBD: ir.OpI64ReinterpretF64,
	0xBE: ir.OpF32ReinterpretI32, 0xBF: ir.OpF64ReinterpretI64,
	0xC0: ir.OpI32Extend8S, 0xC1: ir.OpI32Extend16S,
	0xC2: ir.OpI64Extend8S, 0xC3: ir.OpI64Extend16S, 0xC4: ir.OpI64Extend32S,
}

// simpleOpcodes is the reverse of simpleOps.
var simpleOpcodes = map[ir.OpKind]byte{}

// loadStoreOpcodes maps memory-access operators to their opcodes.
var loadStoreOpcodes = map[ir.OpKind]byte{
	ir.OpI32Load: 0x28, ir.OpI64Load: 0x29, ir.OpF32Load: 0x2A, ir.OpF64Load: 0x2B,
	ir.OpI32Load8S: 0x2C, ir.OpI32Load8U: 0x2D, ir.OpI32Load16S: 0x2E, ir.OpI32Load16U: 0x2F,
	ir.OpI64Load8S: 0x30, ir.OpI64Load8U: 0x31, ir.OpI64Load16S: 0x32, ir.OpI64Load16U: 0x33,
	ir.OpI64Load32S: 0x34, ir.OpI64Load32U: 0x35,
	ir.OpI32Store: 0x36, ir.OpI64Store: 0x37, ir.OpF32Store: 0x38, ir.OpF64Store: 0x39,
	ir.OpI32Store8: 0x3A, ir.OpI32Store16: 0x3B,
	ir.OpI64Store8: 0x3C, ir.OpI64Store16: 0x3D, ir.OpI64Store32: 0x3E,
}

// loadStoreOps is the reverse of loadStoreOpcodes.
var loadStoreOps = map[byte]ir.OpKind{}

// truncSatOps maps FC sub-opcodes 0..7 to the saturating truncations.
var truncSatOps = [8]ir.OpKind{
	ir.OpI32TruncSatF32S, ir.OpI32TruncSatF32U, ir.OpI32TruncSatF64S, ir.OpI32TruncSatF64U,
	ir.OpI64TruncSatF32S, ir.OpI64TruncSatF32U, ir.OpI64TruncSatF64S, ir.OpI64TruncSatF64U,
}

func init() {
	for code, kind := range simpleOps {
		simpleOpcodes[kind] = code
	}
	for kind, code := range loadStoreOpcodes {
		loadStoreOps[code] = kind
	}
}
