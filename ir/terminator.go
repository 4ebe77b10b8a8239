package ir

import (
	"fmt"
	"strings"
)

// TermKind discriminates terminators.
type TermKind uint8

const (
	// TermNone marks an uninitialized terminator.
	TermNone TermKind = iota
	TermBr
	TermCondBr
	TermSelect
	TermReturn
	TermReturnCall
	TermReturnCallIndirect
	TermReturnCallRef
	TermUnreachable
)

// Terminator ends a basic block: a branch, a multi-way select, a
// return, a tail-call, or unreachable.
type Terminator struct {
	Kind TermKind
	// Br payload.
	Target BlockTarget
	// CondBr payload.
	Cond    Value
	IfTrue  BlockTarget
	IfFalse BlockTarget
	// Select payload.
	Value   Value
	Targets []BlockTarget
	Default BlockTarget
	// Return values / tail-call arguments.
	Values []Value
	Args   []Value
	// Tail-call callee forms.
	Func  Func
	Sig   Signature
	Table Table
}

// BrTerm builds an unconditional branch.
func BrTerm(target BlockTarget) Terminator {
	return Terminator{Kind: TermBr, Target: target}
}

// CondBrTerm builds a two-way conditional branch.
func CondBrTerm(cond Value, ifTrue, ifFalse BlockTarget) Terminator {
	return Terminator{Kind: TermCondBr, Cond: cond, IfTrue: ifTrue, IfFalse: ifFalse}
}

// SelectTerm builds a multi-way branch on an index value.
func SelectTerm(value Value, targets []BlockTarget, def BlockTarget) Terminator {
	return Terminator{Kind: TermSelect, Value: value, Targets: targets, Default: def}
}

// ReturnTerm builds a return.
func ReturnTerm(values []Value) Terminator {
	return Terminator{Kind: TermReturn, Values: values}
}

// ReturnCallTerm builds a direct tail-call.
func ReturnCallTerm(f Func, args []Value) Terminator {
	return Terminator{Kind: TermReturnCall, Func: f, Args: args}
}

// ReturnCallIndirectTerm builds an indirect tail-call.
func ReturnCallIndirectTerm(sig Signature, table Table, args []Value) Terminator {
	return Terminator{Kind: TermReturnCallIndirect, Sig: sig, Table: table, Args: args}
}

// ReturnCallRefTerm builds a typed-reference tail-call.
func ReturnCallRefTerm(sig Signature, args []Value) Terminator {
	return Terminator{Kind: TermReturnCallRef, Sig: sig, Args: args}
}

// UnreachableTerm builds an unreachable terminator.
func UnreachableTerm() Terminator {
	return Terminator{Kind: TermUnreachable}
}

// Clone deep-copies the terminator.
func (t Terminator) Clone() Terminator {
	out := t
	out.Target = t.Target.Clone()
	out.IfTrue = t.IfTrue.Clone()
	out.IfFalse = t.IfFalse.Clone()
	out.Default = t.Default.Clone()
	if t.Targets != nil {
		out.Targets = make([]BlockTarget, len(t.Targets))
		for i := range t.Targets {
			out.Targets[i] = t.Targets[i].Clone()
		}
	}
	out.Values = append([]Value(nil), t.Values...)
	out.Args = append([]Value(nil), t.Args...)
	return out
}

// Clone deep-copies the target.
func (t BlockTarget) Clone() BlockTarget {
	return BlockTarget{Block: t.Block, Args: append([]Value(nil), t.Args...)}
}

// VisitTargets calls f on every block target, default first for
// Select.
func (t *Terminator) VisitTargets(f func(*BlockTarget)) {
	switch t.Kind {
	case TermBr:
		f(&t.Target)
	case TermCondBr:
		f(&t.IfTrue)
		f(&t.IfFalse)
	case TermSelect:
		f(&t.Default)
		for i := range t.Targets {
			f(&t.Targets[i])
		}
	}
}

// UpdateTargets is VisitTargets with mutation intended; it shares the
// same traversal.
func (t *Terminator) UpdateTargets(f func(*BlockTarget)) { t.VisitTargets(f) }

// VisitTarget calls f on the index'th target, in the same numbering
// SplitEdge and UpdateTarget use: Br target is 0; CondBr if_true is 0
// and if_false is 1; Select default is 0 and the i'th entry of targets
// is i+1.
func (t *Terminator) VisitTarget(index int, f func(*BlockTarget)) {
	switch {
	case index == 0 && t.Kind == TermBr:
		f(&t.Target)
	case index == 0 && t.Kind == TermCondBr:
		f(&t.IfTrue)
	case index == 1 && t.Kind == TermCondBr:
		f(&t.IfFalse)
	case index == 0 && t.Kind == TermSelect:
		f(&t.Default)
	case t.Kind == TermSelect && index >= 1 && index <= len(t.Targets):
		f(&t.Targets[index-1])
	default:
		panic(fmt.Sprintf("ir: target index %d out of bounds for %s", index, t))
	}
}

// UpdateTarget mutates the index'th target.
func (t *Terminator) UpdateTarget(index int, f func(*BlockTarget)) { t.VisitTarget(index, f) }

// VisitSuccessors calls f on every successor block, in target order.
func (t *Terminator) VisitSuccessors(f func(Block)) {
	t.VisitTargets(func(target *BlockTarget) { f(target.Block) })
}

// VisitUses calls f on every value the terminator reads.
func (t *Terminator) VisitUses(f func(Value)) {
	t.VisitTargets(func(target *BlockTarget) {
		for _, a := range target.Args {
			f(a)
		}
	})
	switch t.Kind {
	case TermCondBr:
		f(t.Cond)
	case TermSelect:
		f(t.Value)
	case TermReturn:
		for _, v := range t.Values {
			f(v)
		}
	case TermReturnCall, TermReturnCallIndirect, TermReturnCallRef:
		for _, v := range t.Args {
			f(v)
		}
	}
}

// UpdateUses calls f with a pointer to every value slot the terminator
// reads.
func (t *Terminator) UpdateUses(f func(*Value)) {
	t.VisitTargets(func(target *BlockTarget) {
		for i := range target.Args {
			f(&target.Args[i])
		}
	})
	switch t.Kind {
	case TermCondBr:
		f(&t.Cond)
	case TermSelect:
		f(&t.Value)
	case TermReturn:
		for i := range t.Values {
			f(&t.Values[i])
		}
	case TermReturnCall, TermReturnCallIndirect, TermReturnCallRef:
		for i := range t.Args {
			f(&t.Args[i])
		}
	}
}

func (t BlockTarget) String() string {
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", t.Block, strings.Join(args, ", "))
}

func valueList(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func (t Terminator) String() string {
	switch t.Kind {
	case TermNone:
		return "no_terminator"
	case TermBr:
		return fmt.Sprintf("br %s", t.Target)
	case TermCondBr:
		return fmt.Sprintf("if %s, %s, %s", t.Cond, t.IfTrue, t.IfFalse)
	case TermSelect:
		targets := make([]string, len(t.Targets))
		for i, tt := range t.Targets {
			targets[i] = tt.String()
		}
		return fmt.Sprintf("select %s, [%s], %s", t.Value, strings.Join(targets, ", "), t.Default)
	case TermReturn:
		return fmt.Sprintf("return %s", valueList(t.Values))
	case TermReturnCall:
		return fmt.Sprintf("return_call %s(%s)", t.Func, valueList(t.Args))
	case TermReturnCallIndirect:
		return fmt.Sprintf("return_call_indirect (%s;%s)(%s)", t.Sig, t.Table, valueList(t.Args))
	case TermReturnCallRef:
		return fmt.Sprintf("return_call_ref (%s)(%s)", t.Sig, valueList(t.Args))
	case TermUnreachable:
		return "unreachable"
	default:
		return "invalid"
	}
}
