package ir

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-shaper/errors"
)

// testBody builds a body for (i32, i32) -> (i32).
func testBody(t *testing.T) (*Module, *FunctionBody) {
	t.Helper()
	m := EmptyModule()
	sig := m.NewSig(FuncSig([]Type{I32, I32}, []Type{I32}))
	return m, NewFunctionBody(m, sig)
}

func entryParams(f *FunctionBody) []Value {
	var out []Value
	for _, p := range f.Blocks.At(f.Entry).Params {
		out = append(out, p.Value)
	}
	return out
}

func TestNewFunctionBody(t *testing.T) {
	_, f := testBody(t)
	if f.NParams != 2 {
		t.Fatalf("NParams = %d", f.NParams)
	}
	params := f.Blocks.At(f.Entry).Params
	if len(params) != 2 {
		t.Fatalf("entry params = %d", len(params))
	}
	for i, p := range params {
		d := f.Values.At(p.Value)
		if d.Kind != DefBlockParam || d.Block != f.Entry || d.Index != uint32(i) {
			t.Errorf("param %d def = %+v", i, d)
		}
		if f.ValueBlocks.Get(p.Value) != f.Entry {
			t.Errorf("param %d not owned by entry", i)
		}
	}
}

func TestAliasResolution(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	a := f.AddValue(AliasDef(p[0]))
	b := f.AddValue(AliasDef(a))
	if got := f.ResolveAlias(b); got != p[0] {
		t.Fatalf("resolve = %v", got)
	}
	// Union-find shortening rewrites b to point at the root.
	f.ResolveAndUpdateAlias(b)
	if d := f.Values.At(b); d.Kind != DefAlias || d.Value != p[0] {
		t.Errorf("chain not shortened: %+v", d)
	}
	// The resolved value is never itself an alias.
	if f.Values.At(f.ResolveAlias(b)).Kind == DefAlias {
		t.Error("resolution ended on an alias")
	}
}

func TestSetAlias_CyclePanics(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	a := f.AddValue(AliasDef(p[0]))
	defer func() {
		if recover() == nil {
			t.Error("expected panic on alias cycle")
		}
	}()
	// p[0] -> a -> p[0] through the existing chain.
	f.SetAlias(p[0], a)
}

func TestSetTerminator_EdgeConsistency(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	f.SetTerminator(f.Entry, CondBrTerm(p[0],
		BlockTarget{Block: b1},
		BlockTarget{Block: b2}))

	entry := f.Blocks.At(f.Entry)
	if len(entry.Succs) != 2 || entry.Succs[0] != b1 || entry.Succs[1] != b2 {
		t.Fatalf("succs = %v", entry.Succs)
	}
	for i, succ := range entry.Succs {
		sb := f.Blocks.At(succ)
		pos := entry.PosInSuccPred[i]
		if sb.Preds[pos] != f.Entry {
			t.Errorf("back-pointer %d broken", i)
		}
		if sb.PosInPredSucc[pos] != i {
			t.Errorf("pred-succ position %d broken", i)
		}
	}
}

func TestSetTerminator_TwicePanics(t *testing.T) {
	_, f := testBody(t)
	f.SetTerminator(f.Entry, ReturnTerm(nil))
	defer func() {
		if recover() == nil {
			t.Error("expected panic on double terminator")
		}
	}()
	f.SetTerminator(f.Entry, ReturnTerm(nil))
}

func TestSplitEdge(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	b1 := f.AddBlock()
	bp := f.AddBlockParam(b1, I32)
	f.SetTerminator(f.Entry, BrTerm(BlockTarget{Block: b1, Args: []Value{p[0]}}))
	f.SetTerminator(b1, ReturnTerm([]Value{bp}))

	edge := f.SplitEdge(f.Entry, b1, 0)

	if f.Blocks.At(f.Entry).Succs[0] != edge {
		t.Fatal("entry successor not rewired")
	}
	ed := f.Blocks.At(edge)
	if ed.Terminator.Kind != TermBr || ed.Terminator.Target.Block != b1 {
		t.Fatal("edge block does not forward")
	}
	if len(ed.Params) != 1 || len(ed.Terminator.Target.Args) != 1 {
		t.Fatal("edge block params not passed through")
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate after split: %v", err)
	}
}

func TestRecomputeEdges(t *testing.T) {
	_, f := testBody(t)
	b1 := f.AddBlock()
	f.SetTerminator(f.Entry, BrTerm(BlockTarget{Block: b1}))
	f.SetTerminator(b1, ReturnTerm(nil))
	// Corrupt the edge lists, then rebuild.
	f.Blocks.At(f.Entry).Succs = nil
	f.Blocks.At(b1).Preds = nil
	f.RecomputeEdges()
	if got := f.Blocks.At(f.Entry).Succs; len(got) != 1 || got[0] != b1 {
		t.Fatalf("succs after recompute = %v", got)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate_UseBeforeDef(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	// v is defined in b1 but used in b2; neither dominates the other.
	f.SetTerminator(f.Entry, CondBrTerm(p[0], BlockTarget{Block: b1}, BlockTarget{Block: b2}))
	v := f.AddOp(b1, Operator{Kind: OpI32Add}, []Value{p[0], p[1]}, []Type{I32})
	f.SetTerminator(b1, ReturnTerm([]Value{v}))
	f.SetTerminator(b2, ReturnTerm([]Value{v}))

	err := f.Validate()
	if err == nil {
		t.Fatal("expected dominance violation")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseIR, Kind: errors.KindStructuralInvariant}) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestReplacePlaceholderWithBlockParam(t *testing.T) {
	_, f := testBody(t)
	b1 := f.AddBlock()
	hole := f.AddPlaceholder(I64)
	f.ReplacePlaceholderWithBlockParam(b1, hole)
	d := f.Values.At(hole)
	if d.Kind != DefBlockParam || d.Block != b1 || d.Type != I64 {
		t.Fatalf("def after replace = %+v", d)
	}
	params := f.Blocks.At(b1).Params
	if len(params) != 1 || params[0].Value != hole {
		t.Fatal("blockparam list not updated")
	}
}

func TestVerifyReducible(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	// entry -> b1 -> b2 -> b1 is a natural loop: reducible.
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	f.SetTerminator(f.Entry, BrTerm(BlockTarget{Block: b1}))
	f.SetTerminator(b1, BrTerm(BlockTarget{Block: b2}))
	f.SetTerminator(b2, CondBrTerm(p[0], BlockTarget{Block: b1}, BlockTarget{Block: b1}))
	if err := f.VerifyReducible(); err != nil {
		t.Fatalf("natural loop flagged irreducible: %v", err)
	}
}

func TestVerifyReducible_Irreducible(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	// Classic irreducible shape: entry branches into both halves of a
	// cycle.
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	f.SetTerminator(f.Entry, CondBrTerm(p[0], BlockTarget{Block: b1}, BlockTarget{Block: b2}))
	f.SetTerminator(b1, BrTerm(BlockTarget{Block: b2}))
	f.SetTerminator(b2, BrTerm(BlockTarget{Block: b1}))
	err := f.VerifyReducible()
	if err == nil {
		t.Fatal("irreducible CFG not detected")
	}
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseIR, Kind: errors.KindIrreducibleCfg}) {
		t.Errorf("wrong error kind: %v", err)
	}
}

func TestCFGInfo_Dominance(t *testing.T) {
	_, f := testBody(t)
	p := entryParams(f)
	b1 := f.AddBlock()
	b2 := f.AddBlock()
	join := f.AddBlock()
	f.SetTerminator(f.Entry, CondBrTerm(p[0], BlockTarget{Block: b1}, BlockTarget{Block: b2}))
	f.SetTerminator(b1, BrTerm(BlockTarget{Block: join}))
	f.SetTerminator(b2, BrTerm(BlockTarget{Block: join}))
	f.SetTerminator(join, ReturnTerm(nil))

	cfg := NewCFGInfo(f)
	if !cfg.Dominates(f.Entry, join) {
		t.Error("entry should dominate join")
	}
	if !cfg.Dominates(join, join) {
		t.Error("dominance should be reflexive")
	}
	if cfg.Dominates(b1, join) || cfg.Dominates(b2, join) {
		t.Error("diamond arms must not dominate the join")
	}
	if cfg.Idom(join) != f.Entry {
		t.Errorf("idom(join) = %v", cfg.Idom(join))
	}
	// Unreachable block.
	dead := f.AddBlock()
	cfg = NewCFGInfo(f)
	if cfg.Reachable(dead) {
		t.Error("unplaced block reported reachable")
	}
	if _, ok := cfg.RPOPos(dead); ok {
		t.Error("unreachable block has an RPO position")
	}
}
