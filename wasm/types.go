package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/wasm/internal/binary"
)

// readValType decodes one value type.
func readValType(r *binary.Reader) (ir.Type, error) {
	b, err := r.ReadByte()
	if err != nil {
		return ir.Type{}, err
	}
	return valTypeFromByte(r, b)
}

func valTypeFromByte(r *binary.Reader, b byte) (ir.Type, error) {
	switch b {
	case ValI32:
		return ir.I32, nil
	case ValI64:
		return ir.I64, nil
	case ValF32:
		return ir.F32, nil
	case ValF64:
		return ir.F64, nil
	case ValV128:
		return ir.V128, nil
	case ValFuncRef:
		return ir.FuncRef(true), nil
	case ValExternRef:
		return ir.ExternRef(true), nil
	case ValRefNull, ValRef:
		nullable := b == ValRefNull
		ht, err := readHeapType(r)
		if err != nil {
			return ir.Type{}, err
		}
		switch ht.Kind {
		case ir.HeapFuncRef:
			return ir.FuncRef(nullable), nil
		case ir.HeapExternRef:
			return ir.ExternRef(nullable), nil
		default:
			return ir.SigRef(ht.Sig, nullable), nil
		}
	default:
		return ir.Type{}, fmt.Errorf("unknown value type byte 0x%02x", b)
	}
}

// readHeapType decodes an s33-encoded heap type: negative for abstract
// types, non-negative for type indices.
func readHeapType(r *binary.Reader) (ir.HeapType, error) {
	v, err := r.ReadS64()
	if err != nil {
		return ir.HeapType{}, err
	}
	switch {
	case v >= 0:
		return ir.HeapType{Kind: ir.HeapSig, Sig: ir.Signature(v)}, nil
	case byte(v&0x7f) == ValFuncRef:
		return ir.HeapType{Kind: ir.HeapFuncRef}, nil
	case byte(v&0x7f) == ValExternRef:
		return ir.HeapType{Kind: ir.HeapExternRef}, nil
	default:
		return ir.HeapType{}, fmt.Errorf("unknown heap type %d", v)
	}
}

// writeValType encodes one value type.
func writeValType(w *binary.Writer, t ir.Type) error {
	switch t.Kind {
	case ir.KindI32:
		w.Byte(ValI32)
	case ir.KindI64:
		w.Byte(ValI64)
	case ir.KindF32:
		w.Byte(ValF32)
	case ir.KindF64:
		w.Byte(ValF64)
	case ir.KindV128:
		w.Byte(ValV128)
	case ir.KindHeap:
		h := t.Heap
		switch h.Value.Kind {
		case ir.HeapFuncRef:
			if h.Nullable {
				w.Byte(ValFuncRef)
				return nil
			}
			w.Byte(ValRef)
			w.Byte(ValFuncRef)
		case ir.HeapExternRef:
			if h.Nullable {
				w.Byte(ValExternRef)
				return nil
			}
			w.Byte(ValRef)
			w.Byte(ValExternRef)
		case ir.HeapSig:
			if h.Nullable {
				w.Byte(ValRefNull)
			} else {
				w.Byte(ValRef)
			}
			w.WriteS64(int64(h.Value.Sig))
		default:
			return fmt.Errorf("cannot encode heap type %v", h.Value)
		}
	default:
		return fmt.Errorf("cannot encode invalid type")
	}
	return nil
}

// readStorageType decodes a field storage type.
func readStorageType(r *binary.Reader) (ir.StorageType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return ir.StorageType{}, err
	}
	switch b {
	case ValPackedI8:
		return ir.StorageType{Packed: ir.PackedI8}, nil
	case ValPackedI16:
		return ir.StorageType{Packed: ir.PackedI16}, nil
	default:
		t, err := valTypeFromByte(r, b)
		if err != nil {
			return ir.StorageType{}, err
		}
		return ir.ValStorage(t), nil
	}
}

func writeStorageType(w *binary.Writer, s ir.StorageType) error {
	switch s.Packed {
	case ir.PackedI8:
		w.Byte(ValPackedI8)
		return nil
	case ir.PackedI16:
		w.Byte(ValPackedI16)
		return nil
	default:
		return writeValType(w, s.Val)
	}
}

// limits carries decoded limit fields shared by tables and memories.
type limits struct {
	min      uint64
	max      *uint64
	shared   bool
	is64     bool
	pageSize *uint32
}

func readLimits(r *binary.Reader, allowPageSize bool) (limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return limits{}, err
	}
	var l limits
	l.shared = flags&0x02 != 0
	l.is64 = flags&0x04 != 0
	hasPageSize := allowPageSize && flags&0x08 != 0
	min, err := r.ReadU64()
	if err != nil {
		return limits{}, err
	}
	l.min = min
	if flags&0x01 != 0 {
		max, err := r.ReadU64()
		if err != nil {
			return limits{}, err
		}
		l.max = &max
	}
	if hasPageSize {
		ps, err := r.ReadU32()
		if err != nil {
			return limits{}, err
		}
		l.pageSize = &ps
	}
	return l, nil
}

func writeLimits(w *binary.Writer, l limits) {
	var flags byte
	if l.max != nil {
		flags |= 0x01
	}
	if l.shared {
		flags |= 0x02
	}
	if l.is64 {
		flags |= 0x04
	}
	if l.pageSize != nil {
		flags |= 0x08
	}
	w.Byte(flags)
	w.WriteU64(l.min)
	if l.max != nil {
		w.WriteU64(*l.max)
	}
	if l.pageSize != nil {
		w.WriteU32(*l.pageSize)
	}
}
