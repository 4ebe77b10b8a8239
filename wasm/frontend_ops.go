package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
)

// readMemArg decodes a memarg. Bit 6 of the alignment flags selects an
// explicit memory index (multi-memory).
func (p *bodyParser) readMemArg() (ir.MemoryArg, error) {
	align, err := p.r.ReadU32()
	if err != nil {
		return ir.MemoryArg{}, err
	}
	var mem uint32
	if align&0x40 != 0 {
		align &^= 0x40
		mem, err = p.r.ReadU32()
		if err != nil {
			return ir.MemoryArg{}, err
		}
	}
	offset, err := p.r.ReadU64()
	if err != nil {
		return ir.MemoryArg{}, err
	}
	return ir.MemoryArg{Align: align, Offset: offset, Memory: ir.Memory(mem)}, nil
}

// decodeOperator reads the immediates of a plain operator opcode and
// returns the IR operator.
func (p *bodyParser) decodeOperator(opcode byte) (ir.Operator, error) {
	if kind, ok := simpleOps[opcode]; ok {
		return ir.Operator{Kind: kind}, nil
	}
	if kind, ok := loadStoreOps[opcode]; ok {
		mem, err := p.readMemArg()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: kind, Mem: mem}, nil
	}
	switch opcode {
	case OpcodeCall:
		fn, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.CallOp(ir.Func(fn)), nil
	case OpcodeCallIndirect:
		typeIdx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		tableIdx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.CallIndirectOp(ir.Signature(typeIdx), ir.Table(tableIdx)), nil
	case OpcodeCallRef:
		typeIdx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.CallRefOp(ir.Signature(typeIdx)), nil
	case OpcodeSelect:
		return ir.Operator{Kind: ir.OpSelect}, nil
	case OpcodeSelectT:
		n, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		if n != 1 {
			return ir.Operator{}, errors.Unsupported(errors.PhaseDecode, "typed select with multiple types")
		}
		ty, err := readValType(p.r)
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpTypedSelect, Type: ty}, nil
	case OpcodeGlobalGet:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.GlobalGetOp(ir.Global(idx)), nil
	case OpcodeGlobalSet:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.GlobalSetOp(ir.Global(idx)), nil
	case OpcodeTableGet:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpTableGet, Table: ir.Table(idx)}, nil
	case OpcodeTableSet:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpTableSet, Table: ir.Table(idx)}, nil
	case OpcodeMemorySize:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.MemorySizeOp(ir.Memory(idx)), nil
	case OpcodeMemoryGrow:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.MemoryGrowOp(ir.Memory(idx)), nil
	case 0x41: // i32.const
		v, err := p.r.ReadS32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.I32ConstOp(uint32(v)), nil
	case 0x42: // i64.const
		v, err := p.r.ReadS64()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.I64ConstOp(uint64(v)), nil
	case 0x43: // f32.const
		b, err := p.r.ReadBytes(4)
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.F32ConstOp(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24), nil
	case 0x44: // f64.const
		b, err := p.r.ReadBytes(8)
		if err != nil {
			return ir.Operator{}, err
		}
		var u uint64
		for i := 7; i >= 0; i-- {
			u = u<<8 | uint64(b[i])
		}
		return ir.F64ConstOp(u), nil
	case OpcodeRefNull:
		ht, err := readHeapType(p.r)
		if err != nil {
			return ir.Operator{}, err
		}
		var ty ir.Type
		switch ht.Kind {
		case ir.HeapFuncRef:
			ty = ir.FuncRef(true)
		case ir.HeapExternRef:
			ty = ir.ExternRef(true)
		default:
			ty = ir.SigRef(ht.Sig, true)
		}
		return ir.Operator{Kind: ir.OpRefNull, Type: ty}, nil
	case OpcodeRefIsNull:
		return ir.Operator{Kind: ir.OpRefIsNull}, nil
	case OpcodeRefFunc:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.RefFuncOp(ir.Func(idx)), nil
	case PrefixFC:
		return p.decodeFC()
	case PrefixSIMD:
		return p.decodeSIMD()
	case PrefixAtomic:
		return p.decodeAtomic()
	case PrefixGC:
		return p.decodeGC()
	default:
		return ir.Operator{}, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("opcode 0x%02x", opcode))
	}
}

func (p *bodyParser) decodeFC() (ir.Operator, error) {
	sub, err := p.r.ReadU32()
	if err != nil {
		return ir.Operator{}, err
	}
	if sub < 8 {
		return ir.Operator{Kind: truncSatOps[sub]}, nil
	}
	switch sub {
	case FCMemoryCopy:
		dst, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		src, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{
			Kind: ir.OpMemoryCopy,
			Mem:  ir.MemoryArg{Memory: ir.Memory(dst)},
			Mem2: ir.MemoryArg{Memory: ir.Memory(src)},
		}, nil
	case FCMemoryFill:
		mem, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpMemoryFill, Mem: ir.MemoryArg{Memory: ir.Memory(mem)}}, nil
	case FCTableGrow:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpTableGrow, Table: ir.Table(idx)}, nil
	case FCTableSize:
		idx, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpTableSize, Table: ir.Table(idx)}, nil
	default:
		return ir.Operator{}, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("0xFC opcode %d", sub))
	}
}

func (p *bodyParser) decodeSIMD() (ir.Operator, error) {
	sub, err := p.r.ReadU32()
	if err != nil {
		return ir.Operator{}, err
	}
	switch sub {
	case SIMDV128Load:
		mem, err := p.readMemArg()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpV128Load, Mem: mem}, nil
	case SIMDV128Store:
		mem, err := p.readMemArg()
		if err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpV128Store, Mem: mem}, nil
	case SIMDV128Const:
		b, err := p.r.ReadBytes(16)
		if err != nil {
			return ir.Operator{}, err
		}
		op := ir.Operator{Kind: ir.OpV128Const}
		copy(op.V128[:], b)
		return op, nil
	case SIMDI32x4Splat:
		return ir.Operator{Kind: ir.OpI32x4Splat}, nil
	case SIMDI32x4Add:
		return ir.Operator{Kind: ir.OpI32x4Add}, nil
	default:
		return ir.Operator{}, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("SIMD opcode %d", sub))
	}
}

func (p *bodyParser) decodeAtomic() (ir.Operator, error) {
	sub, err := p.r.ReadU32()
	if err != nil {
		return ir.Operator{}, err
	}
	if sub == AtomicFenceSub {
		if _, err := p.r.ReadByte(); err != nil {
			return ir.Operator{}, err
		}
		return ir.Operator{Kind: ir.OpAtomicFence}, nil
	}
	mem, err := p.readMemArg()
	if err != nil {
		return ir.Operator{}, err
	}
	switch sub {
	case AtomicNotify:
		return ir.Operator{Kind: ir.OpMemoryAtomicNotify, Mem: mem}, nil
	case AtomicWait32:
		return ir.Operator{Kind: ir.OpMemoryAtomicWait32, Mem: mem}, nil
	case AtomicI32Load:
		return ir.Operator{Kind: ir.OpI32AtomicLoad, Mem: mem}, nil
	case AtomicI32Store:
		return ir.Operator{Kind: ir.OpI32AtomicStore, Mem: mem}, nil
	case AtomicI32RmwAdd:
		return ir.Operator{Kind: ir.OpI32AtomicRmwAdd, Mem: mem}, nil
	default:
		return ir.Operator{}, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("atomic opcode %d", sub))
	}
}

func (p *bodyParser) decodeGC() (ir.Operator, error) {
	sub, err := p.r.ReadU32()
	if err != nil {
		return ir.Operator{}, err
	}
	readSig := func() (ir.Signature, error) {
		idx, err := p.r.ReadU32()
		return ir.Signature(idx), err
	}
	switch sub {
	case GCStructNew:
		sig, err := readSig()
		return ir.Operator{Kind: ir.OpStructNew, Sig: sig}, err
	case GCStructGet, GCStructSet:
		sig, err := readSig()
		if err != nil {
			return ir.Operator{}, err
		}
		field, err := p.r.ReadU32()
		if err != nil {
			return ir.Operator{}, err
		}
		kind := ir.OpStructGet
		if sub == GCStructSet {
			kind = ir.OpStructSet
		}
		return ir.Operator{Kind: kind, Sig: sig, Field: field}, nil
	case GCArrayNew:
		sig, err := readSig()
		return ir.Operator{Kind: ir.OpArrayNew, Sig: sig}, err
	case GCArrayGet:
		sig, err := readSig()
		return ir.Operator{Kind: ir.OpArrayGet, Sig: sig}, err
	case GCArraySet:
		sig, err := readSig()
		return ir.Operator{Kind: ir.OpArraySet, Sig: sig}, err
	case GCArrayLen:
		return ir.Operator{Kind: ir.OpArrayLen}, nil
	case GCArrayCopy:
		sig, err := readSig()
		if err != nil {
			return ir.Operator{}, err
		}
		sig2, err := readSig()
		return ir.Operator{Kind: ir.OpArrayCopy, Sig: sig, Sig2: sig2}, err
	default:
		return ir.Operator{}, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("GC opcode %d", sub))
	}
}

// skipImmediates consumes the immediates of an opcode inside dead
// code without emitting anything.
func (p *bodyParser) skipImmediates(opcode byte) error {
	switch opcode {
	case OpcodeBr, OpcodeBrIf, OpcodeCall, OpcodeReturnCall,
		OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee:
		_, err := p.r.ReadU32()
		return err
	case OpcodeBrTable:
		n, err := p.r.ReadU32()
		if err != nil {
			return err
		}
		for i := uint32(0); i <= n; i++ {
			if _, err := p.r.ReadU32(); err != nil {
				return err
			}
		}
		return nil
	case OpcodeReturn, OpcodeNop, OpcodeUnreachable, OpcodeDrop:
		return nil
	case OpcodeReturnCallIndirect:
		if _, err := p.r.ReadU32(); err != nil {
			return err
		}
		_, err := p.r.ReadU32()
		return err
	case OpcodeReturnCallRef:
		_, err := p.r.ReadU32()
		return err
	default:
		_, err := p.decodeOperator(opcode)
		return err
	}
}
