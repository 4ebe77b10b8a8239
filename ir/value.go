package ir

import "fmt"

// ValueDefKind discriminates the forms an SSA value may take.
type ValueDefKind uint8

const (
	// DefNone marks an absent or cleared value. Used as a tombstone and
	// during signature translation.
	DefNone ValueDefKind = iota
	// DefBlockParam is a parameter of a block: the SSA form of a phi-node.
	DefBlockParam
	// DefOperator is a computation with an argument list and a result
	// type list, both interned in the owning body's pools.
	DefOperator
	// DefPickOutput selects one result of a multi-value operator.
	DefPickOutput
	// DefAlias forwards to another value; collapsed union-find-style on
	// read.
	DefAlias
	// DefPlaceholder is a typed hole used while constructing cyclic
	// graphs, e.g. a block parameter not yet wired to its block.
	DefPlaceholder
)

// ValueDef describes how an SSA value is produced.
type ValueDef struct {
	Kind ValueDefKind
	// Operator payload.
	Op    Operator
	Args  ListRef // values, in the owning body's arg pool
	Types ListRef // result types, in the owning body's type pool
	// BlockParam payload.
	Block Block
	Index uint32 // blockparam position or PickOutput result index
	// PickOutput / Alias payload.
	Value Value
	// BlockParam / PickOutput / Placeholder result type.
	Type Type
}

// BlockParamDef builds a block-parameter definition.
func BlockParamDef(block Block, index uint32, ty Type) ValueDef {
	return ValueDef{Kind: DefBlockParam, Block: block, Index: index, Type: ty}
}

// OperatorDef builds an operator definition.
func OperatorDef(op Operator, args, types ListRef) ValueDef {
	return ValueDef{Kind: DefOperator, Op: op, Args: args, Types: types}
}

// PickOutputDef builds a multi-value projection definition.
func PickOutputDef(v Value, index uint32, ty Type) ValueDef {
	return ValueDef{Kind: DefPickOutput, Value: v, Index: index, Type: ty}
}

// AliasDef builds an alias definition.
func AliasDef(v Value) ValueDef {
	return ValueDef{Kind: DefAlias, Value: v}
}

// PlaceholderDef builds a typed hole.
func PlaceholderDef(ty Type) ValueDef {
	return ValueDef{Kind: DefPlaceholder, Type: ty}
}

// VisitUses calls f for every value the definition reads.
func (d *ValueDef) VisitUses(argPool *ListPool[Value], f func(Value)) {
	switch d.Kind {
	case DefOperator:
		for _, v := range argPool.Slice(d.Args) {
			f(v)
		}
	case DefPickOutput, DefAlias:
		f(d.Value)
	}
}

// UpdateUses calls f with a pointer to every value slot the definition
// reads, allowing in-place substitution. Operator argument lists alias
// pool storage; DeepClone first if the list may be shared.
func (d *ValueDef) UpdateUses(argPool *ListPool[Value], f func(*Value)) {
	switch d.Kind {
	case DefOperator:
		args := argPool.Slice(d.Args)
		for i := range args {
			f(&args[i])
		}
	case DefPickOutput, DefAlias:
		f(&d.Value)
	}
}

// Ty returns the single result type of the value, if it has exactly
// one. Multi-value and void operators report false.
func (d *ValueDef) Ty(typePool *ListPool[Type]) (Type, bool) {
	switch d.Kind {
	case DefBlockParam, DefPickOutput, DefPlaceholder:
		return d.Type, true
	case DefOperator:
		if d.Types.Len() == 1 {
			return typePool.Slice(d.Types)[0], true
		}
		return Type{}, false
	default:
		return Type{}, false
	}
}

func (d *ValueDef) String() string {
	switch d.Kind {
	case DefNone:
		return "none"
	case DefBlockParam:
		return fmt.Sprintf("blockparam(%s, %d): %s", d.Block, d.Index, d.Type)
	case DefOperator:
		return d.Op.String()
	case DefPickOutput:
		return fmt.Sprintf("%s.%d: %s", d.Value, d.Index, d.Type)
	case DefAlias:
		return fmt.Sprintf("alias(%s)", d.Value)
	case DefPlaceholder:
		return fmt.Sprintf("placeholder: %s", d.Type)
	default:
		return "invalid"
	}
}
