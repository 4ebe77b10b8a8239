package ir

import "testing"

func TestSubtype_Primitives(t *testing.T) {
	m := EmptyModule()
	for _, ty := range []Type{I32, I64, F32, F64, V128} {
		if !Subtype(m, ty, ty) {
			t.Errorf("%s not a subtype of itself", ty)
		}
	}
	if Subtype(m, I32, I64) {
		t.Error("i32 <= i64")
	}
}

func TestSubtype_Nullability(t *testing.T) {
	m := EmptyModule()
	if !Subtype(m, FuncRef(false), FuncRef(true)) {
		t.Error("non-null funcref should flow into nullable funcref")
	}
	if Subtype(m, FuncRef(true), FuncRef(false)) {
		t.Error("nullable funcref must not flow into non-null")
	}
}

func TestSubtype_FuncRefToSig(t *testing.T) {
	m := EmptyModule()
	fn := m.NewSig(FuncSig([]Type{I32}, []Type{I32}))
	st := m.Signatures.Push(SignatureData{Kind: SigStruct})
	if !Subtype(m, FuncRef(false), SigRef(fn, false)) {
		t.Error("funcref <= sig(func) should hold")
	}
	if Subtype(m, FuncRef(false), SigRef(st, false)) {
		t.Error("funcref <= sig(struct) must not hold")
	}
}

func TestSubtype_FuncVariance(t *testing.T) {
	m := EmptyModule()
	// super: (funcref(not null)) -> funcref(null)
	// sub:   (funcref(not null) is NOT ok for params (contravariant);
	//        a sub takes a *wider* param.
	subSig := m.NewSig(FuncSig([]Type{FuncRef(true)}, []Type{FuncRef(false)}))
	supSig := m.NewSig(FuncSig([]Type{FuncRef(false)}, []Type{FuncRef(true)}))
	if !Subtype(m, SigRef(subSig, false), SigRef(supSig, false)) {
		t.Error("contravariant params / covariant returns should hold")
	}
	if Subtype(m, SigRef(supSig, false), SigRef(subSig, false)) {
		t.Error("reverse direction must not hold")
	}
}

func TestSubtype_StructWidth(t *testing.T) {
	m := EmptyModule()
	fld := WithMutable[StorageType]{Value: ValStorage(I32)}
	narrow := m.Signatures.Push(SignatureData{Kind: SigStruct, Fields: []WithMutable[StorageType]{fld}})
	wide := m.Signatures.Push(SignatureData{Kind: SigStruct, Fields: []WithMutable[StorageType]{fld, fld}})
	if !Subtype(m, SigRef(wide, false), SigRef(narrow, false)) {
		t.Error("width subtyping should hold")
	}
	if Subtype(m, SigRef(narrow, false), SigRef(wide, false)) {
		t.Error("narrow struct must not flow into wide")
	}
}

func TestSubtype_MutableInvariant(t *testing.T) {
	m := EmptyModule()
	mkStruct := func(nullable bool) Signature {
		return m.Signatures.Push(SignatureData{Kind: SigStruct, Fields: []WithMutable[StorageType]{
			{Value: ValStorage(FuncRef(nullable)), Mutable: true},
		}})
	}
	a, b := mkStruct(false), mkStruct(true)
	if Subtype(m, SigRef(a, false), SigRef(b, false)) {
		t.Error("mutable fields must be invariant")
	}
}

func TestSubtype_RecursiveCoinduction(t *testing.T) {
	m := EmptyModule()
	// Two self-referential signatures of the same shape: checking one
	// against the other re-enters itself and must conclude true.
	a := m.Signatures.Push(SignatureData{})
	b := m.Signatures.Push(SignatureData{})
	m.Signatures.Set(a, FuncSig([]Type{SigRef(a, true)}, nil))
	m.Signatures.Set(b, FuncSig([]Type{SigRef(b, true)}, nil))
	if !Subtype(m, SigRef(a, false), SigRef(b, false)) {
		t.Error("recursive signature pair should close coinductively")
	}
}

func TestStorageType_Unpacked(t *testing.T) {
	if got := (StorageType{Packed: PackedI8}).Unpacked(); got != I32 {
		t.Errorf("i8 unpacks to %s", got)
	}
	if got := (StorageType{Packed: PackedI16}).Unpacked(); got != I64 {
		t.Errorf("i16 unpacks to %s", got)
	}
	if got := ValStorage(F64).Unpacked(); got != F64 {
		t.Errorf("plain storage unpacks to %s", got)
	}
}
