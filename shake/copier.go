package shake

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
)

// BehaviorKind discriminates import-resolution outcomes.
type BehaviorKind uint8

const (
	// BehaviorBind uses an existing destination entity directly.
	BehaviorBind BehaviorKind = iota
	// BehaviorPassthrough copies the entity and re-imports it in the
	// destination under new names.
	BehaviorPassthrough
)

// ImportBehavior is the resolver's verdict for one source import.
type ImportBehavior struct {
	Kind   BehaviorKind
	Bind   ir.ImportKind
	Module string
	Name   string
}

// Bind binds the source import to an existing destination entity.
func Bind(k ir.ImportKind) *ImportBehavior {
	return &ImportBehavior{Kind: BehaviorBind, Bind: k}
}

// Passthrough re-imports the translated entity under the given names.
func Passthrough(module, name string) *ImportBehavior {
	return &ImportBehavior{Kind: BehaviorPassthrough, Module: module, Name: name}
}

// Resolver decides what to do with a source import. A nil result means
// the item is not treated as an import: it is translated structurally.
type Resolver func(dst *ir.Module, module, name string) (*ImportBehavior, error)

// State carries the copier's caches and policy between operations.
type State struct {
	cache    map[ir.ImportKind]ir.ImportKind
	funCache map[ir.Func]ir.Func
	sigCache map[ir.Signature]ir.Signature
	// tableCache is reserved: function-element tables reachable through
	// multiple import kinds are currently translated once per kind.
	tableCache map[ir.Table]ir.Table
	// Resolver is the user-supplied import policy.
	Resolver Resolver
	// CoTables are destination tables that receive every newly
	// translated function as an element.
	CoTables map[ir.Table]struct{}
	// Invasive moves function bodies out of the source instead of
	// cloning; the source must not be reused afterwards.
	Invasive bool
}

// NewState builds a copier state around an import resolver.
func NewState(resolver Resolver, coTables map[ir.Table]struct{}) *State {
	if coTables == nil {
		coTables = map[ir.Table]struct{}{}
	}
	return &State{
		cache:      map[ir.ImportKind]ir.ImportKind{},
		funCache:   map[ir.Func]ir.Func{},
		sigCache:   map[ir.Signature]ir.Signature{},
		tableCache: map[ir.Table]ir.Table{},
		Resolver:   resolver,
		CoTables:   coTables,
	}
}

// FuncImage returns the destination id a source function translated
// to, if it has been translated.
func (s *State) FuncImage(f ir.Func) (ir.Func, bool) {
	n, ok := s.funCache[f]
	return n, ok
}

// Copier imports entities from a source module into a destination
// module, rewriting every reference. Cycles (recursive signatures,
// mutual function references) are broken by reserving the destination
// id and recording the mapping before translating the body.
type Copier struct {
	Src   *ir.Module
	Dst   *ir.Module
	State *State
}

// NewCopier builds a copier over the given modules and state.
func NewCopier(src, dst *ir.Module, state *State) *Copier {
	return &Copier{Src: src, Dst: dst, State: state}
}

// ResolveImport consults the resolver when the entity is bound to a
// source import entry.
func (c *Copier) ResolveImport(k ir.ImportKind) (*ImportBehavior, error) {
	for _, imp := range c.Src.Imports {
		if imp.Kind == k {
			return c.State.Resolver(c.Dst, imp.Module, imp.Name)
		}
	}
	return nil, nil
}

// TranslateImport imports one entity of any kind, driving the cache
// and the import policy.
func (c *Copier) TranslateImport(k ir.ImportKind) (ir.ImportKind, error) {
	behavior, err := c.ResolveImport(k)
	if err != nil {
		return ir.ImportKind{}, err
	}
	var passthrough *ImportBehavior
	if behavior != nil {
		switch behavior.Kind {
		case BehaviorBind:
			return behavior.Bind, nil
		case BehaviorPassthrough:
			passthrough = behavior
		}
	}
	if cached, ok := c.State.cache[k]; ok {
		return cached, nil
	}
	var out ir.ImportKind
	switch k.Kind {
	case ir.EntityTable:
		t, err := c.internalTranslateTable(ir.Table(k.Index))
		if err != nil {
			return ir.ImportKind{}, err
		}
		out = ir.TableImport(t)
	case ir.EntityFunc:
		f, err := c.internalTranslateFunc(ir.Func(k.Index))
		if err != nil {
			return ir.ImportKind{}, err
		}
		out = ir.FuncImport(f)
	case ir.EntityGlobal:
		g, err := c.internalTranslateGlobal(ir.Global(k.Index))
		if err != nil {
			return ir.ImportKind{}, err
		}
		out = ir.GlobalImport(g)
	case ir.EntityMemory:
		mem, err := c.internalTranslateMem(ir.Memory(k.Index))
		if err != nil {
			return ir.ImportKind{}, err
		}
		out = ir.MemoryImport(mem)
	case ir.EntityControlTag:
		ct, err := c.internalTranslateControlTag(ir.ControlTag(k.Index))
		if err != nil {
			return ir.ImportKind{}, err
		}
		out = ir.ControlTagImport(ct)
	default:
		return ir.ImportKind{}, errors.New(errors.PhaseCopy, errors.KindInvalidData).
			Detail("unknown import kind %d", k.Kind).Build()
	}
	c.State.cache[k] = out
	if passthrough != nil {
		c.Dst.Imports = append(c.Dst.Imports, ir.Import{
			Module: passthrough.Module,
			Name:   passthrough.Name,
			Kind:   out,
		})
	}
	return out, nil
}

// TranslateFunc imports a function.
func (c *Copier) TranslateFunc(f ir.Func) (ir.Func, error) {
	k, err := c.TranslateImport(ir.FuncImport(f))
	if err != nil {
		return ir.InvalidFunc, err
	}
	if k.Kind != ir.EntityFunc {
		return ir.InvalidFunc, errors.New(errors.PhaseCopy, errors.KindStructuralInvariant).
			Detail("import translation changed kind").Build()
	}
	return ir.Func(k.Index), nil
}

// TranslateTable imports a table.
func (c *Copier) TranslateTable(t ir.Table) (ir.Table, error) {
	k, err := c.TranslateImport(ir.TableImport(t))
	if err != nil {
		return ir.InvalidTable, err
	}
	return ir.Table(k.Index), nil
}

// TranslateGlobal imports a global.
func (c *Copier) TranslateGlobal(g ir.Global) (ir.Global, error) {
	k, err := c.TranslateImport(ir.GlobalImport(g))
	if err != nil {
		return ir.InvalidGlobal, err
	}
	return ir.Global(k.Index), nil
}

// TranslateMemory imports a memory.
func (c *Copier) TranslateMemory(mem ir.Memory) (ir.Memory, error) {
	k, err := c.TranslateImport(ir.MemoryImport(mem))
	if err != nil {
		return ir.InvalidMemory, err
	}
	return ir.Memory(k.Index), nil
}

// TranslateControlTag imports a control tag.
func (c *Copier) TranslateControlTag(ct ir.ControlTag) (ir.ControlTag, error) {
	k, err := c.TranslateImport(ir.ControlTagImport(ct))
	if err != nil {
		return ir.InvalidControlTag, err
	}
	return ir.ControlTag(k.Index), nil
}

// TranslateSig imports a signature. Recursive signatures reserve the
// destination slot first and fill it after translating the body.
func (c *Copier) TranslateSig(s ir.Signature) (ir.Signature, error) {
	if cached, ok := c.State.sigCache[s]; ok {
		return cached, nil
	}
	reserved := c.Dst.Signatures.Push(ir.SignatureData{})
	c.State.sigCache[s] = reserved
	src := c.Src.Signatures.Get(s)
	out := ir.SignatureData{Kind: src.Kind}
	var err error
	switch src.Kind {
	case ir.SigFunc:
		out.Params, err = c.translateTypes(src.Params)
		if err == nil {
			out.Returns, err = c.translateTypes(src.Returns)
		}
	case ir.SigStruct:
		out.Fields = make([]ir.WithMutable[ir.StorageType], len(src.Fields))
		for i, fld := range src.Fields {
			out.Fields[i], err = c.translateField(fld)
			if err != nil {
				break
			}
		}
	case ir.SigArray:
		out.Elem, err = c.translateField(src.Elem)
	}
	if err != nil {
		return ir.InvalidSignature, err
	}
	c.Dst.Signatures.Set(reserved, out)
	return reserved, nil
}

func (c *Copier) translateField(f ir.WithMutable[ir.StorageType]) (ir.WithMutable[ir.StorageType], error) {
	out := f
	if f.Value.Packed == ir.PackedNone {
		ty, err := c.translateType(f.Value.Val)
		if err != nil {
			return out, err
		}
		out.Value.Val = ty
	}
	return out, nil
}

// translateType descends into typed function references.
func (c *Copier) translateType(t ir.Type) (ir.Type, error) {
	if t.Kind == ir.KindHeap && t.Heap.Value.Kind == ir.HeapSig {
		sig, err := c.TranslateSig(t.Heap.Value.Sig)
		if err != nil {
			return t, err
		}
		return ir.SigRef(sig, t.Heap.Nullable), nil
	}
	return t, nil
}

func (c *Copier) translateTypes(ts []ir.Type) ([]ir.Type, error) {
	out := make([]ir.Type, len(ts))
	for i, t := range ts {
		ty, err := c.translateType(t)
		if err != nil {
			return nil, err
		}
		out[i] = ty
	}
	return out, nil
}

func (c *Copier) internalTranslateMem(a ir.Memory) (ir.Memory, error) {
	return c.Dst.Memories.Push(c.Src.Memories.Get(a).Clone()), nil
}

func (c *Copier) internalTranslateGlobal(a ir.Global) (ir.Global, error) {
	d := c.Src.Globals.Get(a)
	ty, err := c.translateType(d.Ty)
	if err != nil {
		return ir.InvalidGlobal, err
	}
	d.Ty = ty
	if d.Value != nil {
		v := *d.Value
		d.Value = &v
	}
	return c.Dst.Globals.Push(d), nil
}

func (c *Copier) internalTranslateControlTag(a ir.ControlTag) (ir.ControlTag, error) {
	d := c.Src.ControlTags.Get(a)
	sig, err := c.TranslateSig(d.Sig)
	if err != nil {
		return ir.InvalidControlTag, err
	}
	return c.Dst.ControlTags.Push(ir.ControlTagData{Sig: sig}), nil
}

func (c *Copier) internalTranslateTable(tk ir.Table) (ir.Table, error) {
	t := c.Src.Tables.Get(tk)
	ty, err := c.translateType(t.Ty)
	if err != nil {
		return ir.InvalidTable, err
	}
	t.Ty = ty
	if t.Max != nil {
		v := *t.Max
		t.Max = &v
	}
	if t.FuncElements != nil {
		elems := make([]ir.Func, len(t.FuncElements))
		for i, w := range t.FuncElements {
			elems[i], err = c.TranslateFunc(w)
			if err != nil {
				return ir.InvalidTable, err
			}
		}
		t.FuncElements = elems
	}
	return c.Dst.Tables.Push(t), nil
}

// internalTranslateFunc copies one function: the destination id is
// reserved under a None placeholder before the body is walked so a
// recursive reference ties the knot; the body is cloned (or moved,
// when invasive) and every entity reference and type rewritten.
func (c *Copier) internalTranslateFunc(f ir.Func) (ir.Func, error) {
	if !ir.Valid(f) {
		return f, nil
	}
	if cached, ok := c.State.funCache[f]; ok {
		return cached, nil
	}
	a := c.Dst.Funcs.Push(ir.FuncDecl{})
	c.State.funCache[f] = a
	for t := range c.State.CoTables {
		c.Dst.Tables.At(t).FuncElements = append(c.Dst.Tables.At(t).FuncElements, a)
	}
	isStart := c.Src.StartFunc == f

	srcDecl := c.Src.Funcs.At(f)
	if srcDecl.Kind == ir.FuncDeclLazy {
		if _, err := c.Src.ExpandFunc(f); err != nil {
			return ir.InvalidFunc, err
		}
		srcDecl = c.Src.Funcs.At(f)
	}
	var decl ir.FuncDecl
	if c.State.Invasive && srcDecl.Kind == ir.FuncDeclBody {
		decl = *srcDecl
		c.Src.Funcs.Set(f, ir.FuncDecl{})
	} else {
		decl = srcDecl.Clone()
	}

	if decl.Kind == ir.FuncDeclBody {
		if err := c.rewriteBody(decl.Body); err != nil {
			return ir.InvalidFunc, err
		}
	}
	switch decl.Kind {
	case ir.FuncDeclImport, ir.FuncDeclBody, ir.FuncDeclLazy, ir.FuncDeclCompiled:
		sig, err := c.TranslateSig(decl.Sig)
		if err != nil {
			return ir.InvalidFunc, err
		}
		decl.Sig = sig
	}
	c.Dst.Funcs.Set(a, decl)
	if isStart {
		c.Dst.AddStart(a)
	}
	Logger().Debug("copier: translated function",
		zap.Stringer("src", f), zap.Stringer("dst", a))
	return a, nil
}

// rewriteBody rewrites every entity reference and type in a cloned
// body through the copier.
func (c *Copier) rewriteBody(b *ir.FunctionBody) error {
	for vi := range b.Values.Len() {
		v := ir.Value(vi)
		vd := b.Values.Get(v)
		switch vd.Kind {
		case ir.DefOperator:
			args := append([]ir.Value(nil), b.ArgPool.Slice(vd.Args)...)
			err := ir.RewriteMem(&vd.Op, args, func(mem *ir.Memory, _ *ir.Value) error {
				n, err := c.TranslateMemory(*mem)
				if err != nil {
					return err
				}
				*mem = n
				return nil
			})
			if err != nil {
				return err
			}
			if err := c.rewriteOp(&vd.Op); err != nil {
				return err
			}
			tys, err := c.translateTypes(b.TypePool.Slice(vd.Types))
			if err != nil {
				return err
			}
			vd.Types = b.TypePool.FromSlice(tys)
			vd.Args = b.ArgPool.FromSlice(args)
		case ir.DefBlockParam, ir.DefPickOutput, ir.DefPlaceholder:
			ty, err := c.translateType(vd.Type)
			if err != nil {
				return err
			}
			vd.Type = ty
		}
		b.Values.Set(v, vd)
	}
	for bi := range b.Blocks.Len() {
		block := b.Blocks.At(ir.Block(bi))
		for i := range block.Params {
			ty, err := c.translateType(block.Params[i].Type)
			if err != nil {
				return err
			}
			block.Params[i].Type = ty
		}
		term := &block.Terminator
		switch term.Kind {
		case ir.TermReturnCall:
			fn, err := c.TranslateFunc(term.Func)
			if err != nil {
				return err
			}
			term.Func = fn
		case ir.TermReturnCallIndirect:
			sig, err := c.TranslateSig(term.Sig)
			if err != nil {
				return err
			}
			tbl, err := c.TranslateTable(term.Table)
			if err != nil {
				return err
			}
			term.Sig, term.Table = sig, tbl
		case ir.TermReturnCallRef:
			sig, err := c.TranslateSig(term.Sig)
			if err != nil {
				return err
			}
			term.Sig = sig
		}
	}
	for li := range b.Locals.Len() {
		l := ir.Local(li)
		ty, err := c.translateType(b.Locals.Get(l))
		if err != nil {
			return err
		}
		b.Locals.Set(l, ty)
	}
	rets, err := c.translateTypes(b.Rets)
	if err != nil {
		return err
	}
	b.Rets = rets
	return nil
}

// rewriteOp rewrites the operator's entity immediates.
func (c *Copier) rewriteOp(op *ir.Operator) error {
	var err error
	switch op.Kind {
	case ir.OpCall, ir.OpRefFunc:
		op.Func, err = c.TranslateFunc(op.Func)
	case ir.OpCallIndirect:
		op.Sig, err = c.TranslateSig(op.Sig)
		if err == nil {
			op.Table, err = c.TranslateTable(op.Table)
		}
	case ir.OpCallRef, ir.OpStructNew, ir.OpStructGet, ir.OpStructSet,
		ir.OpArrayNew, ir.OpArrayGet, ir.OpArraySet, ir.OpArrayLen:
		op.Sig, err = c.TranslateSig(op.Sig)
	case ir.OpArrayCopy:
		op.Sig, err = c.TranslateSig(op.Sig)
		if err == nil {
			op.Sig2, err = c.TranslateSig(op.Sig2)
		}
	case ir.OpGlobalGet, ir.OpGlobalSet:
		op.Global, err = c.TranslateGlobal(op.Global)
	case ir.OpTableGet, ir.OpTableSet, ir.OpTableGrow, ir.OpTableSize:
		op.Table, err = c.TranslateTable(op.Table)
	case ir.OpRefNull, ir.OpTypedSelect:
		op.Type, err = c.translateType(op.Type)
	}
	return err
}
