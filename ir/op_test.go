package ir

import "testing"

func TestEffects_Purity(t *testing.T) {
	pure := []Operator{
		{Kind: OpI32Add}, I32ConstOp(1), {Kind: OpF64Sqrt},
		{Kind: OpSelect}, RefFuncOp(0), {Kind: OpNop},
	}
	for _, op := range pure {
		if !op.IsPure() {
			t.Errorf("%s should be pure", op)
		}
	}
	impure := []Operator{
		CallOp(0), GlobalSetOp(0), MemoryGrowOp(0),
		{Kind: OpI32DivS}, LoadOp(OpI32Load, MemoryArg{}),
		StoreOp(OpI32Store, MemoryArg{}),
	}
	for _, op := range impure {
		if op.IsPure() {
			t.Errorf("%s should not be pure", op)
		}
	}
}

func TestEffects_Classification(t *testing.T) {
	if eff := GlobalGetOp(2).Effects(); len(eff) != 1 || eff[0] != EffectReadGlobal {
		t.Errorf("global.get effects = %v", eff)
	}
	if !CallOp(0).CanTrap() {
		t.Error("call should be able to trap")
	}
	if !LoadOp(OpI32Load, MemoryArg{}).AccessesMemory() {
		t.Error("load should access memory")
	}
	if GlobalGetOp(0).AccessesMemory() {
		t.Error("global.get should not access memory")
	}
	if !(Operator{Kind: OpI32DivU}).CanTrap() {
		t.Error("div can trap")
	}
	if (Operator{Kind: OpI32Add}).CanTrap() {
		t.Error("add cannot trap")
	}
}

func TestRematerialize(t *testing.T) {
	for _, op := range []Operator{I32ConstOp(1), I64ConstOp(2), F32ConstOp(3), F64ConstOp(4)} {
		if !op.Rematerialize() {
			t.Errorf("%s should rematerialize", op)
		}
	}
	if (Operator{Kind: OpI32Add}).Rematerialize() {
		t.Error("add should not rematerialize")
	}
}

func TestOpInputsOutputs_MemoryWidth(t *testing.T) {
	m := EmptyModule()
	m32 := m.Memories.Push(MemoryData{InitialPages: 1})
	m64 := m.Memories.Push(MemoryData{InitialPages: 1, Memory64: true})

	ins, err := OpInputs(m, nil, LoadOp(OpI32Load, MemoryArg{Memory: m32}))
	if err != nil || len(ins) != 1 || ins[0] != I32 {
		t.Errorf("32-bit load inputs = %v, %v", ins, err)
	}
	ins, err = OpInputs(m, nil, LoadOp(OpI32Load, MemoryArg{Memory: m64}))
	if err != nil || len(ins) != 1 || ins[0] != I64 {
		t.Errorf("64-bit load inputs = %v, %v", ins, err)
	}
	outs, err := OpOutputs(m, nil, MemorySizeOp(m64))
	if err != nil || len(outs) != 1 || outs[0] != I64 {
		t.Errorf("memory.size on mem64 outputs = %v, %v", outs, err)
	}
}

func TestOpInputsOutputs_Call(t *testing.T) {
	m := EmptyModule()
	sig := m.NewSig(FuncSig([]Type{I32, F64}, []Type{I64}))
	fn := m.Funcs.Push(FuncDecl{Kind: FuncDeclImport, Sig: sig, Name: "f"})

	ins, err := OpInputs(m, nil, CallOp(fn))
	if err != nil || len(ins) != 2 || ins[0] != I32 || ins[1] != F64 {
		t.Fatalf("call inputs = %v, %v", ins, err)
	}
	outs, err := OpOutputs(m, nil, CallOp(fn))
	if err != nil || len(outs) != 1 || outs[0] != I64 {
		t.Fatalf("call outputs = %v, %v", outs, err)
	}
}

func TestOpInputs_CallAgainstStructSig(t *testing.T) {
	m := EmptyModule()
	st := m.Signatures.Push(SignatureData{Kind: SigStruct})
	tbl := m.Tables.Push(TableData{Ty: FuncRef(true)})
	_, err := OpInputs(m, nil, CallIndirectOp(st, tbl))
	if err == nil {
		t.Fatal("expected invalid-signature error")
	}
}

func TestOpInputs_SelectNeedsStack(t *testing.T) {
	m := EmptyModule()
	if _, err := OpInputs(m, nil, Operator{Kind: OpSelect}); err == nil {
		t.Fatal("bare select without a stack should fail")
	}
	ins, err := OpInputs(m, []Type{F64, F64, I32}, Operator{Kind: OpSelect})
	if err != nil || len(ins) != 3 || ins[0] != F64 || ins[2] != I32 {
		t.Fatalf("select inputs = %v, %v", ins, err)
	}
	// Typed select needs no stack.
	ins, err = OpInputs(m, nil, Operator{Kind: OpTypedSelect, Type: I64})
	if err != nil || len(ins) != 3 || ins[0] != I64 {
		t.Fatalf("typed select inputs = %v, %v", ins, err)
	}
}

func TestRewriteMem_Pairs(t *testing.T) {
	load := LoadOp(OpI32Load, MemoryArg{Memory: 3})
	args := []string{"addr"}
	var seen []Memory
	err := RewriteMem(&load, args, func(mem *Memory, addr *string) error {
		seen = append(seen, *mem)
		if addr == nil || *addr != "addr" {
			t.Error("load address slot not passed")
		}
		*mem = 0
		return nil
	})
	if err != nil || len(seen) != 1 || seen[0] != 3 {
		t.Fatalf("seen = %v, %v", seen, err)
	}
	if load.Mem.Memory != 0 {
		t.Error("memory not rewritten")
	}

	cp := Operator{Kind: OpMemoryCopy,
		Mem:  MemoryArg{Memory: 1},
		Mem2: MemoryArg{Memory: 2}}
	var order []Memory
	_ = RewriteMem(&cp, []string{"d", "s"}, func(mem *Memory, addr *string) error {
		order = append(order, *mem)
		return nil
	})
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("memory.copy pair order = %v", order)
	}

	size := MemorySizeOp(5)
	_ = RewriteMem(&size, []string(nil), func(mem *Memory, addr *string) error {
		if addr != nil {
			t.Error("memory.size has no address operand")
		}
		return nil
	})

	if MemCount(Operator{Kind: OpI32Add}) != 0 {
		t.Error("add touches no memory")
	}
	if MemCount(Operator{Kind: OpMemoryCopy}) != 2 {
		t.Error("memory.copy touches two memories")
	}
}

func TestUpdateMemoryArg(t *testing.T) {
	op := Operator{Kind: OpMemoryCopy, Mem: MemoryArg{Memory: 1}, Mem2: MemoryArg{Memory: 2}}
	n := 0
	op.UpdateMemoryArg(func(a *MemoryArg) {
		n++
		a.Memory = 9
	})
	if n != 2 || op.Mem.Memory != 9 || op.Mem2.Memory != 9 {
		t.Errorf("update visited %d args: %+v", n, op)
	}
	add := Operator{Kind: OpI32Add}
	add.UpdateMemoryArg(func(*MemoryArg) { t.Error("add has no memory arg") })
}

func TestOperatorAsMapKey(t *testing.T) {
	cache := map[Operator]int{}
	cache[I32ConstOp(7)] = 1
	cache[I32ConstOp(7)] = 2
	cache[I32ConstOp(8)] = 3
	if len(cache) != 2 {
		t.Errorf("map size = %d", len(cache))
	}
	if cache[I32ConstOp(7)] != 2 {
		t.Error("equal operators should collide")
	}
}
