package ir

import "fmt"

// TypeKind discriminates the closed set of IR value types.
type TypeKind uint8

const (
	KindInvalid TypeKind = iota
	KindI32
	KindI64
	KindF32
	KindF64
	KindV128
	KindHeap
)

// Type is a primitive Wasm value type: integers, floats, SIMD vectors,
// or references (optionally typed). Signedness of the integer types is
// unspecified; individual operators define how they treat sign.
// Floating-point and vector values are bags of bits as far as the IR
// scaffolding is concerned.
type Type struct {
	Kind TypeKind
	Heap WithNullable[HeapType]
}

// The primitive types. Reference types are built with FuncRef,
// ExternRef and SigRef.
var (
	I32  = Type{Kind: KindI32}
	I64  = Type{Kind: KindI64}
	F32  = Type{Kind: KindF32}
	F64  = Type{Kind: KindF64}
	V128 = Type{Kind: KindV128}
)

// HeapKind discriminates the reference-type kernel.
type HeapKind uint8

const (
	HeapInvalid HeapKind = iota
	HeapFuncRef
	HeapExternRef
	HeapSig
)

// HeapType is a type that can be stored on the heap: an untyped
// function reference, an extern reference, or a concrete signature
// reference.
type HeapType struct {
	Kind HeapKind
	Sig  Signature
}

// WithNullable pairs a value with whether it may be null.
type WithNullable[T any] struct {
	Value    T
	Nullable bool
}

// WithMutable pairs a value with whether it is mutable.
type WithMutable[T any] struct {
	Value   T
	Mutable bool
}

// FuncRef returns the untyped function reference type.
func FuncRef(nullable bool) Type {
	return Type{Kind: KindHeap, Heap: WithNullable[HeapType]{Value: HeapType{Kind: HeapFuncRef}, Nullable: nullable}}
}

// ExternRef returns the extern reference type.
func ExternRef(nullable bool) Type {
	return Type{Kind: KindHeap, Heap: WithNullable[HeapType]{Value: HeapType{Kind: HeapExternRef}, Nullable: nullable}}
}

// SigRef returns a typed function reference to the given signature.
func SigRef(sig Signature, nullable bool) Type {
	return Type{Kind: KindHeap, Heap: WithNullable[HeapType]{Value: HeapType{Kind: HeapSig, Sig: sig}, Nullable: nullable}}
}

// IsRef reports whether t is a reference type.
func (t Type) IsRef() bool { return t.Kind == KindHeap }

// IsFuncRef reports whether t is a typed or untyped function reference.
func (t Type) IsFuncRef() bool {
	return t.Kind == KindHeap && (t.Heap.Value.Kind == HeapFuncRef || t.Heap.Value.Kind == HeapSig)
}

// Sigs returns the signature the type references, if any.
func (t Type) Sigs() []Signature {
	if t.Kind == KindHeap && t.Heap.Value.Kind == HeapSig {
		return []Signature{t.Heap.Value.Sig}
	}
	return nil
}

func (t Type) String() string {
	switch t.Kind {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindV128:
		return "v128"
	case KindHeap:
		null := "not_null"
		if t.Heap.Nullable {
			null = "null"
		}
		return fmt.Sprintf("ref(%s %s)", null, t.Heap.Value)
	default:
		return "invalid"
	}
}

func (h HeapType) String() string {
	switch h.Kind {
	case HeapFuncRef:
		return "funcref"
	case HeapExternRef:
		return "externref"
	case HeapSig:
		return fmt.Sprintf("sigref(%s)", h.Sig)
	default:
		return "invalid"
	}
}

// PackedKind discriminates storage types that pack below value-type
// granularity.
type PackedKind uint8

const (
	PackedNone PackedKind = iota
	PackedI8
	PackedI16
)

// StorageType is a type storable in a struct field or array element:
// either a plain value type or a packed i8/i16.
type StorageType struct {
	Packed PackedKind
	Val    Type
}

// ValStorage wraps a value type as a storage type.
func ValStorage(t Type) StorageType { return StorageType{Val: t} }

// Unpacked returns the value type the storage type loads as: i8
// unpacks to i32, i16 to i64.
func (s StorageType) Unpacked() Type {
	switch s.Packed {
	case PackedI8:
		return I32
	case PackedI16:
		return I64
	default:
		return s.Val
	}
}

func (s StorageType) String() string {
	switch s.Packed {
	case PackedI8:
		return "i8"
	case PackedI16:
		return "i16"
	default:
		return s.Val.String()
	}
}

// sigPair keys the coinductive visited set of the subtype check.
type sigPair struct {
	sub, sup Signature
}

// Subtype reports whether a ≤ b under the structural subtype relation:
// primitives only relate to themselves; references are covariant in
// the heap type and may only add nullability; concrete signatures use
// contravariant parameters / covariant returns for functions, width
// and depth subtyping for structs, and depth subtyping for arrays.
// Recursive signature pairs are resolved coinductively: a pair already
// under consideration is taken to hold.
func Subtype(m *Module, a, b Type) bool {
	return subtype(m, a, b, make(map[sigPair]struct{}))
}

func subtype(m *Module, a, b Type, seen map[sigPair]struct{}) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind != KindHeap {
		return true
	}
	if a.Heap.Nullable && !b.Heap.Nullable {
		return false
	}
	return heapSubtype(m, a.Heap.Value, b.Heap.Value, seen)
}

func heapSubtype(m *Module, a, b HeapType, seen map[sigPair]struct{}) bool {
	switch {
	case a.Kind == b.Kind && a.Kind != HeapSig:
		return true
	case a.Kind == HeapSig && b.Kind == HeapSig:
		return sigSubtype(m, a.Sig, b.Sig, seen)
	case a.Kind == HeapFuncRef && b.Kind == HeapSig:
		return m.Signatures.At(b.Sig).Kind == SigFunc
	default:
		return false
	}
}

func sigSubtype(m *Module, a, b Signature, seen map[sigPair]struct{}) bool {
	if a == b {
		return true
	}
	key := sigPair{sub: a, sup: b}
	if _, ok := seen[key]; ok {
		// Coinductive closure: a pair re-entered through recursion holds.
		return true
	}
	seen[key] = struct{}{}

	sa, sb := m.Signatures.At(a), m.Signatures.At(b)
	if sa.Kind != sb.Kind {
		return false
	}
	switch sa.Kind {
	case SigFunc:
		if len(sa.Params) != len(sb.Params) || len(sa.Returns) != len(sb.Returns) {
			return false
		}
		for i := range sa.Params {
			if !subtype(m, sb.Params[i], sa.Params[i], seen) {
				return false
			}
		}
		for i := range sa.Returns {
			if !subtype(m, sa.Returns[i], sb.Returns[i], seen) {
				return false
			}
		}
		return true
	case SigStruct:
		if len(sa.Fields) < len(sb.Fields) {
			return false
		}
		for i := range sb.Fields {
			if !fieldSubtype(m, sa.Fields[i], sb.Fields[i], seen) {
				return false
			}
		}
		return true
	case SigArray:
		return fieldSubtype(m, sa.Elem, sb.Elem, seen)
	default:
		return false
	}
}

func fieldSubtype(m *Module, a, b WithMutable[StorageType], seen map[sigPair]struct{}) bool {
	if a.Mutable != b.Mutable {
		return false
	}
	if a.Mutable {
		// Mutable fields are invariant.
		return storageEqual(a.Value, b.Value)
	}
	return storageSubtype(m, a.Value, b.Value, seen)
}

func storageSubtype(m *Module, a, b StorageType, seen map[sigPair]struct{}) bool {
	if a.Packed != b.Packed {
		return false
	}
	if a.Packed != PackedNone {
		return true
	}
	return subtype(m, a.Val, b.Val, seen)
}

func storageEqual(a, b StorageType) bool { return a == b }
