package ir

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-shaper/errors"
)

// WasmPage is the size of a single Wasm page, used in memory definitions.
const WasmPage = 0x1_0000 // 64KiB

// SigKind discriminates the signature variants.
type SigKind uint8

const (
	// SigNone is a placeholder, used as a tie-break while translating
	// recursive signatures.
	SigNone SigKind = iota
	SigFunc
	SigStruct
	SigArray
)

// SignatureData describes one type signature: a function type, a GC
// struct or array type, or the None placeholder.
type SignatureData struct {
	Kind SigKind
	// Function parameters and returns (multivalue assumed present).
	Params  []Type
	Returns []Type
	// Struct fields.
	Fields []WithMutable[StorageType]
	// Array element.
	Elem WithMutable[StorageType]
}

// FuncSig builds a function signature.
func FuncSig(params, returns []Type) SignatureData {
	return SignatureData{Kind: SigFunc, Params: params, Returns: returns}
}

// Equal reports structural equality of two signatures.
func (s *SignatureData) Equal(o *SignatureData) bool {
	if s.Kind != o.Kind {
		return false
	}
	switch s.Kind {
	case SigFunc:
		return typesEqual(s.Params, o.Params) && typesEqual(s.Returns, o.Returns)
	case SigStruct:
		if len(s.Fields) != len(o.Fields) {
			return false
		}
		for i := range s.Fields {
			if s.Fields[i] != o.Fields[i] {
				return false
			}
		}
		return true
	case SigArray:
		return s.Elem == o.Elem
	default:
		return true
	}
}

func typesEqual(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// MemorySegment is one piece of a memory's initial image, overlaid on
// previously-existing data at its offset.
type MemorySegment struct {
	Offset uint64
	Data   []byte
}

// MemoryData describes one memory.
type MemoryData struct {
	InitialPages uint64
	MaximumPages *uint64
	Segments     []MemorySegment
	Memory64     bool
	Shared       bool
	PageSizeLog2 *uint32
}

// Clone returns a copy sharing no mutable storage.
func (m MemoryData) Clone() MemoryData {
	out := m
	out.Segments = make([]MemorySegment, len(m.Segments))
	copy(out.Segments, m.Segments)
	if m.MaximumPages != nil {
		v := *m.MaximumPages
		out.MaximumPages = &v
	}
	if m.PageSizeLog2 != nil {
		v := *m.PageSizeLog2
		out.PageSizeLog2 = &v
	}
	return out
}

// TableData describes one table. For function-element tables,
// FuncElements holds the initial contents; null funcrefs are
// represented by InvalidFunc. A nil FuncElements means the table
// carries no function elements.
type TableData struct {
	Ty           Type
	Initial      uint64
	Max          *uint64
	FuncElements []Func
	Table64      bool
}

// GlobalData describes one global variable. Value, if set, is the
// initial value as a bundle of 64 bits (every primitive type fits).
type GlobalData struct {
	Ty      Type
	Value   *uint64
	Mutable bool
}

// ControlTagData describes one control tag: the signature used when
// invoking it.
type ControlTagData struct {
	Sig Signature
}

// EntityKind discriminates import/export kinds.
type EntityKind uint8

const (
	EntityFunc EntityKind = iota
	EntityTable
	EntityGlobal
	EntityMemory
	EntityControlTag
)

// ImportKind names the imported entity: its kind and its index in the
// corresponding module index space.
type ImportKind struct {
	Kind  EntityKind
	Index uint32
}

// ExportKind names the exported entity.
type ExportKind struct {
	Kind  EntityKind
	Index uint32
}

// FuncImport wraps a function index as an import kind.
func FuncImport(f Func) ImportKind { return ImportKind{Kind: EntityFunc, Index: uint32(f)} }

// TableImport wraps a table index as an import kind.
func TableImport(t Table) ImportKind { return ImportKind{Kind: EntityTable, Index: uint32(t)} }

// GlobalImport wraps a global index as an import kind.
func GlobalImport(g Global) ImportKind { return ImportKind{Kind: EntityGlobal, Index: uint32(g)} }

// MemoryImport wraps a memory index as an import kind.
func MemoryImport(m Memory) ImportKind { return ImportKind{Kind: EntityMemory, Index: uint32(m)} }

// ControlTagImport wraps a control tag index as an import kind.
func ControlTagImport(c ControlTag) ImportKind {
	return ImportKind{Kind: EntityControlTag, Index: uint32(c)}
}

// FuncExport wraps a function index as an export kind.
func FuncExport(f Func) ExportKind { return ExportKind{Kind: EntityFunc, Index: uint32(f)} }

// TableExport wraps a table index as an export kind.
func TableExport(t Table) ExportKind { return ExportKind{Kind: EntityTable, Index: uint32(t)} }

// GlobalExport wraps a global index as an export kind.
func GlobalExport(g Global) ExportKind { return ExportKind{Kind: EntityGlobal, Index: uint32(g)} }

// MemoryExport wraps a memory index as an export kind.
func MemoryExport(m Memory) ExportKind { return ExportKind{Kind: EntityMemory, Index: uint32(m)} }

// X2I converts an export kind into the equivalent import kind.
func X2I(x ExportKind) ImportKind {
	return ImportKind{Kind: x.Kind, Index: x.Index}
}

// I2X converts an import kind into the equivalent export kind.
func I2X(k ImportKind) ExportKind {
	return ExportKind{Kind: k.Kind, Index: k.Index}
}

// Import is one entry of a module's ordered import list. Function
// imports must also have an Import declaration at the matching index
// in Funcs.
type Import struct {
	Module string
	Name   string
	Kind   ImportKind
}

// Export is one entry of a module's ordered export list.
type Export struct {
	Name string
	Kind ExportKind
}

// BodyParser turns an encoded function body into IR. The binary
// decoder installs one on every module it produces so lazily-parsed
// bodies can be expanded on demand.
type BodyParser func(m *Module, sig Signature, code []byte) (*FunctionBody, error)

// Module is one Wasm module held as IR.
type Module struct {
	// OrigBytes is the original Wasm module this module was parsed
	// from, if any. Lazy function bodies hold their own copies of their
	// encoded bytes (FuncDecl.Code) and do not alias this slice.
	OrigBytes []byte
	// Funcs holds imports, un-expanded bodies, bodies as IR, and
	// recompiled bodies.
	Funcs Arena[Func, FuncDecl]
	// Signatures referred to by funcs, imports and exports.
	Signatures Arena[Signature, SignatureData]
	Globals    Arena[Global, GlobalData]
	Tables     Arena[Table, TableData]
	Imports    []Import
	Exports    []Export
	Memories   Arena[Memory, MemoryData]
	// ControlTags used by control-flow effect operators.
	ControlTags Arena[ControlTag, ControlTagData]
	// StartFunc is invoked at instantiation; InvalidFunc if none.
	StartFunc Func
	// Debug holds interning pools for source files and locations;
	// DebugMap maps bytecode offsets to source locations.
	Debug    Debug
	DebugMap DebugMap
	// CustomSections maps section name to opaque bytes.
	CustomSections map[string][]byte
	// Parser expands lazy function bodies; installed by the decoder.
	Parser BodyParser
}

// EmptyModule creates a module with no entities.
func EmptyModule() *Module {
	return &Module{
		StartFunc:      InvalidFunc,
		CustomSections: map[string][]byte{},
	}
}

// WithOrigBytes creates an empty module retaining a borrow of the
// original bytes, ready to be filled in by a decoder.
func WithOrigBytes(orig []byte) *Module {
	m := EmptyModule()
	m.OrigBytes = orig
	return m
}

// WithoutOrigBytes strips the module's reference to the original
// bytes. All function bodies are expanded to IR first so they can be
// recompiled; the resulting bytecode is equivalent but not literally
// identical to the original.
func (m *Module) WithoutOrigBytes() error {
	if err := m.ExpandAllFuncs(); err != nil {
		return err
	}
	m.OrigBytes = nil
	return nil
}

// NewSig interns a signature, returning an existing structurally-equal
// one when present.
func (m *Module) NewSig(s SignatureData) Signature {
	for i := range m.Signatures.Len() {
		sig := Signature(i)
		if m.Signatures.At(sig).Equal(&s) {
			return sig
		}
	}
	return m.Signatures.Push(s)
}

// PerFuncBody runs f over every function body present as IR.
func (m *Module) PerFuncBody(f func(*FunctionBody)) {
	for i := range m.Funcs.Len() {
		if d := m.Funcs.At(Func(i)); d.Kind == FuncDeclBody {
			f(d.Body)
		}
	}
}

// TryPerFuncBody runs f over every function body present as IR,
// stopping at the first error.
func (m *Module) TryPerFuncBody(f func(*FunctionBody) error) error {
	for i := range m.Funcs.Len() {
		if d := m.Funcs.At(Func(i)); d.Kind == FuncDeclBody {
			if err := f(d.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

// TakePerFuncBody temporarily moves each FuncDecl out of the arena
// (leaving a None tombstone), hands the module and the body to f, and
// unconditionally restores the declaration on return, including panic
// paths. This lets a pass see the whole module while mutating one
// function body.
func (m *Module) TakePerFuncBody(f func(*Module, *FunctionBody)) {
	_ = m.TryTakePerFuncBody(func(m *Module, b *FunctionBody) error {
		f(m, b)
		return nil
	})
}

// TryTakePerFuncBody is TakePerFuncBody with an error-returning
// callback; it stops at the first error.
func (m *Module) TryTakePerFuncBody(f func(*Module, *FunctionBody) error) error {
	for i := range m.Funcs.Len() {
		fn := Func(i)
		if err := m.takeOne(fn, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) takeOne(fn Func, f func(*Module, *FunctionBody) error) error {
	decl := m.Funcs.Get(fn)
	if decl.Kind != FuncDeclBody {
		return nil
	}
	m.Funcs.Set(fn, FuncDecl{})
	defer m.Funcs.Set(fn, decl)
	return f(m, decl.Body)
}

// ExpandFunc parses a function's lazy reference to original bytecode
// into IR if needed and returns the declaration.
func (m *Module) ExpandFunc(id Func) (*FuncDecl, error) {
	d := m.Funcs.At(id)
	if d.Kind != FuncDeclLazy {
		return d, nil
	}
	if m.Parser == nil {
		return nil, errors.LazyParse(id.String(), errors.Unsupported(errors.PhaseDecode, "module has no body parser"))
	}
	body, err := m.Parser(m, d.Sig, d.Code)
	if err != nil {
		return nil, errors.LazyParse(id.String(), err)
	}
	m.Funcs.Set(id, FuncDecl{Kind: FuncDeclBody, Sig: d.Sig, Name: d.Name, Body: body})
	return m.Funcs.At(id), nil
}

// CloneAndExpandBody clones a function body without expanding the
// original, returning a new body with IR expanded. Useful when a tool
// appends processed versions of a function that itself must remain.
func (m *Module) CloneAndExpandBody(id Func) (*FunctionBody, error) {
	d := m.Funcs.Get(id)
	switch d.Kind {
	case FuncDeclBody:
		return d.Body.Clone(), nil
	case FuncDeclLazy:
		if m.Parser == nil {
			return nil, errors.LazyParse(id.String(), errors.Unsupported(errors.PhaseDecode, "module has no body parser"))
		}
		body, err := m.Parser(m, d.Sig, d.Code)
		if err != nil {
			return nil, errors.LazyParse(id.String(), err)
		}
		return body, nil
	default:
		return nil, errors.InvalidData(errors.PhaseIR, "no body to expand for "+id.String())
	}
}

// ExpandAllFuncs expands every lazy function body into IR.
func (m *Module) ExpandAllFuncs() error {
	for i := range m.Funcs.Len() {
		if _, err := m.ExpandFunc(Func(i)); err != nil {
			return err
		}
	}
	return nil
}

// GetExports returns the export map keyed by name.
func (m *Module) GetExports() map[string]ExportKind {
	out := make(map[string]ExportKind, len(m.Exports))
	for _, e := range m.Exports {
		out[e.Name] = e.Kind
	}
	return out
}

// AppendToTable appends a function to a table's elements, reusing an
// existing slot holding the same function. Returns the element index.
func (m *Module) AppendToTable(t Table, f Func) int {
	td := m.Tables.At(t)
	for i, x := range td.FuncElements {
		if x == f {
			return i
		}
	}
	td.FuncElements = append(td.FuncElements, f)
	return len(td.FuncElements) - 1
}

// AddStart chains tf onto the module's start sequence: a new shim
// function calls tf, then tail-calls the prior start function (or
// returns when there was none). The shim becomes the start function.
func (m *Module) AddStart(tf Func) {
	sig := m.NewSig(FuncSig(nil, nil))
	f := NewFunctionBody(m, sig)
	callee := m.Funcs.At(tf)
	calleeSig := m.Signatures.At(callee.Signature())
	rets := f.TypePool.FromSlice(calleeSig.Returns)
	v := f.AddValue(OperatorDef(CallOp(tf), ListRef{}, rets))
	f.AppendToBlock(f.Entry, v)
	if Valid(m.StartFunc) {
		f.SetTerminator(f.Entry, ReturnCallTerm(m.StartFunc, nil))
	} else {
		f.SetTerminator(f.Entry, ReturnTerm(nil))
	}
	id := m.Funcs.Push(FuncDecl{Kind: FuncDeclBody, Sig: sig, Name: "start", Body: f})
	m.StartFunc = id
	Logger().Debug("chained start function", zap.Stringer("func", id))
}

// ResultsRef projects every return value of a call as PickOutput
// values appended to the call's block. Returns nil when c does not
// resolve to a call.
func (m *Module) ResultsRef(f *FunctionBody, c Value) []Value {
	c = f.ResolveAndUpdateAlias(c)
	b := f.ValueBlocks.Get(c)
	def := f.Values.At(c)
	if def.Kind != DefOperator {
		return nil
	}
	var sig Signature
	switch def.Op.Kind {
	case OpCall:
		sig = m.Funcs.At(def.Op.Func).Signature()
	case OpCallIndirect, OpCallRef:
		sig = def.Op.Sig
	default:
		return nil
	}
	rets := m.Signatures.At(sig).Returns
	out := make([]Value, 0, len(rets))
	for i, ty := range rets {
		w := f.AddValue(PickOutputDef(c, uint32(i), ty))
		f.AppendToBlock(b, w)
		out = append(out, w)
	}
	return out
}
