package ir

import (
	"go.uber.org/zap"
)

// FuncDeclKind discriminates the forms a function declaration takes.
type FuncDeclKind uint8

const (
	// FuncDeclNone is a placeholder (also the tombstone left by
	// TakePerFuncBody and by the copier while tying recursive knots).
	FuncDeclNone FuncDeclKind = iota
	// FuncDeclImport is an imported function.
	FuncDeclImport
	// FuncDeclLazy is an un-expanded body that can be parsed on demand.
	FuncDeclLazy
	// FuncDeclBody is a body held as IR.
	FuncDeclBody
	// FuncDeclCompiled is a body already collapsed back to bytecode.
	FuncDeclCompiled
)

// FuncDecl declares one function; there is one per Func index.
type FuncDecl struct {
	Kind FuncDeclKind
	Sig  Signature
	Name string
	// Body is set for FuncDeclBody.
	Body *FunctionBody
	// Code holds the encoded body for FuncDeclLazy and the compiled
	// bytes for FuncDeclCompiled.
	Code []byte
}

// Signature returns the function's signature. Panics on FuncDeclNone.
func (d *FuncDecl) Signature() Signature {
	if d.Kind == FuncDeclNone {
		panic("ir: no signature for FuncDecl none")
	}
	return d.Sig
}

// Clone returns a copy; an IR body is deep-copied.
func (d *FuncDecl) Clone() FuncDecl {
	out := *d
	if d.Body != nil {
		out.Body = d.Body.Clone()
	}
	return out
}

// BlockParam is one typed parameter of a block together with the value
// bound to it.
type BlockParam struct {
	Type  Type
	Value Value
}

// BlockDef is one basic block.
type BlockDef struct {
	// Insts is the ordered instruction list.
	Insts []Value
	// Terminator ends the block; TermNone until set.
	Terminator Terminator
	// Succs/Preds with positional back-references: PosInSuccPred[i] is
	// this block's index in Succs[i]'s preds array, and PosInPredSucc[i]
	// is this block's index in Preds[i]'s succs array.
	Succs         []Block
	PosInSuccPred []int
	Preds         []Block
	PosInPredSucc []int
	// Params are the blockparams: SSA phi-nodes.
	Params []BlockParam
	// Desc is an optional descriptive name.
	Desc string
}

// BlockTarget couples a destination block with the ordered argument
// list passed to its blockparams.
type BlockTarget struct {
	Block Block
	Args  []Value
}

// FunctionBody is one function as SSA IR.
type FunctionBody struct {
	// NParams is the number of parameters; their types are the first
	// NParams entries of Locals.
	NParams int
	// Rets are the return types.
	Rets []Type
	// Locals holds local types, including parameters.
	Locals Arena[Local, Type]
	// Entry is the entry block.
	Entry Block
	// Blocks and Values are the per-function arenas.
	Blocks Arena[Block, BlockDef]
	Values Arena[Value, ValueDef]
	// TypePool interns result-type lists; ArgPool interns argument
	// lists.
	TypePool ListPool[Type]
	ArgPool  ListPool[Value]
	// SingleTypeDedup canonicalizes singleton type lists, which are
	// overwhelmingly common.
	SingleTypeDedup map[Type]ListRef
	// ValueBlocks records the block each placed value is computed in
	// (InvalidBlock when unplaced).
	ValueBlocks PerEntity[Value, Block]
	// ValueLocals records the Wasm local a value corresponds to, if any.
	ValueLocals PerEntity[Value, Local]
	// SourceLocs records the source location of each value.
	SourceLocs PerEntity[Value, SourceLoc]
}

// NewFunctionBody creates a body for the given function signature: an
// entry block with one blockparam per parameter.
func NewFunctionBody(m *Module, sig Signature) *FunctionBody {
	data := m.Signatures.At(sig)
	f := &FunctionBody{
		NParams:         len(data.Params),
		Rets:            append([]Type(nil), data.Returns...),
		Locals:          ArenaFrom[Local](append([]Type(nil), data.Params...)),
		SingleTypeDedup: map[Type]ListRef{},
		ValueBlocks:     NewPerEntity[Value](InvalidBlock),
		ValueLocals:     NewPerEntity[Value](InvalidLocal),
		SourceLocs:      NewPerEntity[Value](InvalidSourceLoc),
	}
	f.Entry = f.Blocks.Push(BlockDef{})
	for i, ty := range data.Params {
		v := f.Values.Push(BlockParamDef(f.Entry, uint32(i), ty))
		f.Blocks.At(f.Entry).Params = append(f.Blocks.At(f.Entry).Params, BlockParam{Type: ty, Value: v})
		f.ValueBlocks.Set(v, f.Entry)
	}
	return f
}

// Clone deep-copies the body.
func (f *FunctionBody) Clone() *FunctionBody {
	out := &FunctionBody{
		NParams:         f.NParams,
		Rets:            append([]Type(nil), f.Rets...),
		Locals:          f.Locals.Clone(),
		Entry:           f.Entry,
		Blocks:          f.Blocks.Clone(),
		Values:          f.Values.Clone(),
		TypePool:        ListPool[Type]{data: append([]Type(nil), f.TypePool.data...)},
		ArgPool:         ListPool[Value]{data: append([]Value(nil), f.ArgPool.data...)},
		SingleTypeDedup: map[Type]ListRef{},
		ValueBlocks:     f.ValueBlocks.Clone(),
		ValueLocals:     f.ValueLocals.Clone(),
		SourceLocs:      f.SourceLocs.Clone(),
	}
	for k, v := range f.SingleTypeDedup {
		out.SingleTypeDedup[k] = v
	}
	for bi := range out.Blocks.Len() {
		b := out.Blocks.At(Block(bi))
		b.Insts = append([]Value(nil), b.Insts...)
		b.Succs = append([]Block(nil), b.Succs...)
		b.Preds = append([]Block(nil), b.Preds...)
		b.PosInSuccPred = append([]int(nil), b.PosInSuccPred...)
		b.PosInPredSucc = append([]int(nil), b.PosInPredSucc...)
		b.Params = append([]BlockParam(nil), b.Params...)
		b.Terminator = b.Terminator.Clone()
	}
	return out
}

// AddBlock appends an empty block.
func (f *FunctionBody) AddBlock() Block {
	id := f.Blocks.Push(BlockDef{})
	Logger().Debug("add_block", zap.Stringer("block", id))
	return id
}

// SingleTypeList interns the singleton type list [ty], deduplicated.
func (f *FunctionBody) SingleTypeList(ty Type) ListRef {
	if f.SingleTypeDedup == nil {
		f.SingleTypeDedup = map[Type]ListRef{}
	}
	if r, ok := f.SingleTypeDedup[ty]; ok {
		return r
	}
	r := f.TypePool.Single(ty)
	f.SingleTypeDedup[ty] = r
	return r
}

// AddEdge records a CFG edge with positional back-references.
func (f *FunctionBody) AddEdge(from, to Block) {
	succPos := len(f.Blocks.At(from).Succs)
	predPos := len(f.Blocks.At(to).Preds)
	f.Blocks.At(from).Succs = append(f.Blocks.At(from).Succs, to)
	f.Blocks.At(to).Preds = append(f.Blocks.At(to).Preds, from)
	f.Blocks.At(from).PosInSuccPred = append(f.Blocks.At(from).PosInSuccPred, predPos)
	f.Blocks.At(to).PosInPredSucc = append(f.Blocks.At(to).PosInPredSucc, succPos)
}

// SplitEdge inserts a fresh block on the edge from→to (the succIdx'th
// successor of from), wiring matched blockparams through, and rewrites
// both endpoints' adjacency.
func (f *FunctionBody) SplitEdge(from, to Block, succIdx int) Block {
	if f.Blocks.At(from).Succs[succIdx] != to {
		panic("ir: split_edge: successor mismatch")
	}
	predIdx := f.Blocks.At(from).PosInSuccPred[succIdx]
	if f.Blocks.At(to).Preds[predIdx] != from {
		panic("ir: split_edge: predecessor mismatch")
	}

	edgeBlock := f.AddBlock()

	// Pass-through blockparams matching the target's params.
	nparams := len(f.Blocks.At(to).Params)
	blockparams := make([]Value, 0, nparams)
	for i := 0; i < nparams; i++ {
		ty := f.Blocks.At(to).Params[i].Type
		blockparams = append(blockparams, f.AddBlockParam(edgeBlock, ty))
	}

	f.Blocks.At(edgeBlock).Terminator = BrTerm(BlockTarget{Block: to, Args: blockparams})

	f.Blocks.At(from).Terminator.UpdateTarget(succIdx, func(t *BlockTarget) {
		t.Block = edgeBlock
	})

	eb := f.Blocks.At(edgeBlock)
	eb.Succs = append(eb.Succs, to)
	eb.PosInSuccPred = append(eb.PosInSuccPred, predIdx)
	eb.Preds = append(eb.Preds, from)
	eb.PosInPredSucc = append(eb.PosInPredSucc, succIdx)

	f.Blocks.At(from).Succs[succIdx] = edgeBlock
	f.Blocks.At(from).PosInSuccPred[succIdx] = 0
	f.Blocks.At(to).Preds[predIdx] = edgeBlock
	f.Blocks.At(to).PosInPredSucc[predIdx] = 0

	return edgeBlock
}

// RecomputeEdges rebuilds every block's succ/pred lists from its
// terminator.
func (f *FunctionBody) RecomputeEdges() {
	for bi := range f.Blocks.Len() {
		b := f.Blocks.At(Block(bi))
		b.Preds = b.Preds[:0]
		b.Succs = b.Succs[:0]
		b.PosInSuccPred = b.PosInSuccPred[:0]
		b.PosInPredSucc = b.PosInPredSucc[:0]
	}
	for bi := range f.Blocks.Len() {
		block := Block(bi)
		term := f.Blocks.At(block).Terminator
		term.VisitSuccessors(func(succ Block) {
			f.AddEdge(block, succ)
		})
	}
}

// AddValue appends a value definition and returns its id. The caller
// must place the value in a block afterwards unless it is a blockparam.
func (f *FunctionBody) AddValue(def ValueDef) Value {
	return f.Values.Push(def)
}

// AddOp appends an operator value to a block: the argument and
// result-type lists are interned in this body's pools.
func (f *FunctionBody) AddOp(block Block, op Operator, args []Value, tys []Type) Value {
	argRef := f.ArgPool.FromSlice(args)
	var tyRef ListRef
	if len(tys) == 1 {
		tyRef = f.SingleTypeList(tys[0])
	} else {
		tyRef = f.TypePool.FromSlice(tys)
	}
	v := f.AddValue(OperatorDef(op, argRef, tyRef))
	f.AppendToBlock(block, v)
	return v
}

// SetAlias makes value forward to to, resolving to through existing
// aliases first. Panics on an alias cycle.
func (f *FunctionBody) SetAlias(value, to Value) {
	to = f.ResolveAndUpdateAlias(to)
	if to == value {
		panic("ir: cannot create an alias cycle")
	}
	f.Values.Set(value, AliasDef(to))
}

// ResolveAlias follows the alias chain to the defining value.
func (f *FunctionBody) ResolveAlias(value Value) Value {
	if !Valid(value) {
		return value
	}
	result := value
	for f.Values.At(result).Kind == DefAlias {
		result = f.Values.At(result).Value
	}
	return result
}

// ResolveAndUpdateAlias resolves the chain and shortens it
// union-find-style.
func (f *FunctionBody) ResolveAndUpdateAlias(value Value) Value {
	to := f.ResolveAlias(value)
	if d := f.Values.At(value); d.Kind == DefAlias && d.Value != to {
		f.Values.Set(value, AliasDef(to))
	}
	return to
}

// AddBlockParam appends a blockparam of the given type to block.
func (f *FunctionBody) AddBlockParam(block Block, ty Type) Value {
	index := len(f.Blocks.At(block).Params)
	v := f.AddValue(BlockParamDef(block, uint32(index), ty))
	f.Blocks.At(block).Params = append(f.Blocks.At(block).Params, BlockParam{Type: ty, Value: v})
	f.ValueBlocks.Set(v, block)
	return v
}

// AddPlaceholder creates a typed hole that can be referenced before
// its owning block is known.
func (f *FunctionBody) AddPlaceholder(ty Type) Value {
	return f.AddValue(PlaceholderDef(ty))
}

// ReplacePlaceholderWithBlockParam finalizes a placeholder as the next
// blockparam of block.
func (f *FunctionBody) ReplacePlaceholderWithBlockParam(block Block, value Value) {
	d := f.Values.At(value)
	if d.Kind != DefPlaceholder {
		panic("ir: replacing a non-placeholder")
	}
	ty := d.Type
	index := len(f.Blocks.At(block).Params)
	f.Blocks.At(block).Params = append(f.Blocks.At(block).Params, BlockParam{Type: ty, Value: value})
	f.Values.Set(value, BlockParamDef(block, uint32(index), ty))
	f.ValueBlocks.Set(value, block)
}

// MarkValueAsLocal records the Wasm local a value corresponds to.
func (f *FunctionBody) MarkValueAsLocal(value Value, local Local) {
	f.ValueLocals.Set(value, local)
}

// AppendToBlock pushes a value onto a block's instruction list and
// records the value's owning block.
func (f *FunctionBody) AppendToBlock(block Block, value Value) {
	f.Blocks.At(block).Insts = append(f.Blocks.At(block).Insts, value)
	f.ValueBlocks.Set(value, block)
}

// AppendBefore inserts v into block's instruction list immediately
// before the given instruction.
func (f *FunctionBody) AppendBefore(v, before Value, block Block) {
	f.ValueBlocks.Set(v, block)
	old := f.Blocks.At(block).Insts
	insts := make([]Value, 0, len(old)+1)
	for _, t := range old {
		if t == before {
			insts = append(insts, v)
		}
		insts = append(insts, t)
	}
	f.Blocks.At(block).Insts = insts
}

// SetTerminator installs a block's terminator and the CFG edges it
// implies. The prior terminator must be TermNone.
func (f *FunctionBody) SetTerminator(block Block, term Terminator) {
	if f.Blocks.At(block).Terminator.Kind != TermNone {
		panic("ir: block already terminated: " + block.String())
	}
	term.VisitSuccessors(func(succ Block) {
		f.AddEdge(block, succ)
	})
	f.Blocks.At(block).Terminator = term
}

// ClearTerminator resets a block's terminator to TermNone without
// touching edges; callers pair it with SetTerminator+RecomputeEdges.
func (f *FunctionBody) ClearTerminator(block Block) {
	f.Blocks.At(block).Terminator = Terminator{}
}

// AddLocal appends a local of the given type.
func (f *FunctionBody) AddLocal(ty Type) Local {
	return f.Locals.Push(ty)
}
