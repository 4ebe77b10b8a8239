package passes

import (
	"math/rand"
	"testing"

	"github.com/wippyai/wasm-shaper/ir"
)

// diamondBody builds a conditional diamond computing in both arms.
func diamondBody(t *testing.T) (*ir.Module, *ir.FunctionBody) {
	t.Helper()
	m := ir.EmptyModule()
	sig := m.NewSig(ir.FuncSig([]ir.Type{ir.I32}, []ir.Type{ir.I32}))
	f := ir.NewFunctionBody(m, sig)
	p := f.Blocks.At(f.Entry).Params[0].Value

	left := f.AddBlock()
	right := f.AddBlock()
	join := f.AddBlock()
	jp := f.AddBlockParam(join, ir.I32)
	f.SetTerminator(f.Entry, ir.CondBrTerm(p,
		ir.BlockTarget{Block: left},
		ir.BlockTarget{Block: right}))
	l := f.AddOp(left, ir.Operator{Kind: ir.OpI32Add}, []ir.Value{p, p}, []ir.Type{ir.I32})
	f.SetTerminator(left, ir.BrTerm(ir.BlockTarget{Block: join, Args: []ir.Value{l}}))
	f.SetTerminator(right, ir.BrTerm(ir.BlockTarget{Block: join, Args: []ir.Value{p}}))
	f.SetTerminator(join, ir.ReturnTerm([]ir.Value{jp}))
	return m, f
}

func TestCFF_DispatcherStructure(t *testing.T) {
	_, f := diamondBody(t)
	blocksBefore := f.Blocks.Len()

	CFF(f, JustNormalCFF{})

	if f.Blocks.Len() <= blocksBefore {
		t.Fatal("no dispatcher block added")
	}
	// Exactly one block carries a Select terminator whose default is a
	// self-loop: the dispatcher.
	dispatchers := 0
	for bi := range f.Blocks.Len() {
		b := ir.Block(bi)
		term := f.Blocks.At(b).Terminator
		if term.Kind == ir.TermSelect && term.Default.Block == b {
			dispatchers++
			if len(term.Targets) == 0 {
				t.Error("dispatcher has no targets")
			}
			// Params[0] is the dispatch id.
			if f.Blocks.At(b).Params[0].Type != ir.I32 {
				t.Error("dispatch id param is not i32")
			}
		}
	}
	if dispatchers != 1 {
		t.Fatalf("dispatcher count = %d", dispatchers)
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate after cff: %v", err)
	}
}

func TestCFF_AllEdgesRouteThroughDispatcher(t *testing.T) {
	_, f := diamondBody(t)
	CFF(f, JustNormalCFF{})

	var dispatcher ir.Block = ir.InvalidBlock
	for bi := range f.Blocks.Len() {
		b := ir.Block(bi)
		term := f.Blocks.At(b).Terminator
		if term.Kind == ir.TermSelect && term.Default.Block == b {
			dispatcher = b
		}
	}
	for bi := range f.Blocks.Len() {
		b := ir.Block(bi)
		if b == dispatcher {
			continue
		}
		f.Blocks.At(b).Terminator.VisitTargets(func(t2 *ir.BlockTarget) {
			if t2.Block != dispatcher {
				t.Errorf("block %v still branches directly to %v", b, t2.Block)
			}
		})
	}
}

func TestCFF_Randomized(t *testing.T) {
	_, f := diamondBody(t)
	r := &Rand{R: rand.New(rand.NewSource(7))}
	CFF(f, r)
	if err := f.Validate(); err != nil {
		t.Fatalf("validate after randomized cff: %v", err)
	}
}

func TestSplitBlocks(t *testing.T) {
	_, f := diamondBody(t)
	r := &Rand{R: rand.New(rand.NewSource(3))}
	if err := SplitBlocks(f, r); err != nil {
		t.Fatalf("split: %v", err)
	}
	// No unconditional branches survive.
	for bi := range f.Blocks.Len() {
		if f.Blocks.At(ir.Block(bi)).Terminator.Kind == ir.TermBr {
			t.Errorf("block %d still ends in a bare br", bi)
		}
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("validate after split: %v", err)
	}
}
