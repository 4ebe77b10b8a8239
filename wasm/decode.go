package wasm

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/wasm/internal/binary"
)

// FrontendOptions configures decoding.
type FrontendOptions struct {
	// ParseEagerly expands every function body to IR during decode
	// instead of leaving them lazily encoded.
	ParseEagerly bool
	// DebugNames parses the "name" custom section into function names.
	DebugNames bool
}

// Decoding errors.
var (
	ErrInvalidMagic   = stderrors.New("invalid wasm magic number")
	ErrInvalidVersion = stderrors.New("invalid wasm version")
)

// Decode parses a Wasm binary module into IR. Function bodies stay
// lazily encoded (each holding a copy of its bytes from data) unless ParseEagerly is
// set; the returned module carries the body parser used to expand
// them on demand.
func Decode(data []byte, opts FrontendOptions) (*ir.Module, error) {
	r := binary.NewReader(bytes.NewReader(data))

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := ir.WithOrigBytes(data)
	m.Parser = ParseBody
	d := &decoder{m: m, opts: opts}

	for {
		sectionID, err := r.ReadByte()
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				break
			}
			return nil, r.WrapError("section header", err)
		}
		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}
		sr := binary.NewReader(bytes.NewReader(sectionData))

		if err := d.section(sectionID, sr); err != nil {
			return nil, fmt.Errorf("section %d: %w", sectionID, err)
		}
	}

	if opts.ParseEagerly {
		if err := m.ExpandAllFuncs(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

type decoder struct {
	m    *ir.Module
	opts FrontendOptions
	// funcSigs holds the function section, consumed by the code
	// section.
	funcSigs []ir.Signature
}

func (d *decoder) section(id byte, r *binary.Reader) error {
	switch id {
	case SectionCustom:
		return d.custom(r)
	case SectionType:
		return d.types(r)
	case SectionImport:
		return d.imports(r)
	case SectionFunction:
		return d.functions(r)
	case SectionTable:
		return d.tables(r)
	case SectionMemory:
		return d.memories(r)
	case SectionGlobal:
		return d.globals(r)
	case SectionExport:
		return d.exports(r)
	case SectionStart:
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		d.m.StartFunc = ir.Func(idx)
		return nil
	case SectionElement:
		return d.elements(r)
	case SectionCode:
		return d.code(r)
	case SectionData:
		return d.data(r)
	case SectionDataCount:
		_, err := r.ReadU32()
		return err
	case SectionTag:
		return d.tags(r)
	default:
		return fmt.Errorf("unknown section ID: 0x%02x", id)
	}
}

func (d *decoder) types(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		shape, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch shape {
		case FuncTypeByte:
			params, err := readValTypeVec(r)
			if err != nil {
				return err
			}
			results, err := readValTypeVec(r)
			if err != nil {
				return err
			}
			d.m.Signatures.Push(ir.FuncSig(params, results))
		case StructTypeByte:
			n, err := r.ReadU32()
			if err != nil {
				return err
			}
			fields := make([]ir.WithMutable[ir.StorageType], n)
			for j := range fields {
				fields[j], err = readFieldType(r)
				if err != nil {
					return err
				}
			}
			d.m.Signatures.Push(ir.SignatureData{Kind: ir.SigStruct, Fields: fields})
		case ArrayTypeByte:
			elem, err := readFieldType(r)
			if err != nil {
				return err
			}
			d.m.Signatures.Push(ir.SignatureData{Kind: ir.SigArray, Elem: elem})
		default:
			return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("type shape 0x%02x", shape))
		}
	}
	return nil
}

func readFieldType(r *binary.Reader) (ir.WithMutable[ir.StorageType], error) {
	st, err := readStorageType(r)
	if err != nil {
		return ir.WithMutable[ir.StorageType]{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return ir.WithMutable[ir.StorageType]{}, err
	}
	return ir.WithMutable[ir.StorageType]{Value: st, Mutable: mut == 1}, nil
}

func readValTypeVec(r *binary.Reader) ([]ir.Type, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	out := make([]ir.Type, count)
	for i := range out {
		out[i], err = readValType(r)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) imports(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		var ik ir.ImportKind
		switch kind {
		case ExtKindFunc:
			typeIdx, err := r.ReadU32()
			if err != nil {
				return err
			}
			f := d.m.Funcs.Push(ir.FuncDecl{
				Kind: ir.FuncDeclImport,
				Sig:  ir.Signature(typeIdx),
				Name: module + "." + name,
			})
			ik = ir.FuncImport(f)
		case ExtKindTable:
			td, err := readTableType(r)
			if err != nil {
				return err
			}
			ik = ir.TableImport(d.m.Tables.Push(td))
		case ExtKindMemory:
			md, err := readMemoryType(r)
			if err != nil {
				return err
			}
			ik = ir.MemoryImport(d.m.Memories.Push(md))
		case ExtKindGlobal:
			gd, err := readGlobalType(r)
			if err != nil {
				return err
			}
			ik = ir.GlobalImport(d.m.Globals.Push(gd))
		case ExtKindTag:
			if _, err := r.ReadByte(); err != nil { // attribute
				return err
			}
			typeIdx, err := r.ReadU32()
			if err != nil {
				return err
			}
			ik = ir.ControlTagImport(d.m.ControlTags.Push(ir.ControlTagData{Sig: ir.Signature(typeIdx)}))
		default:
			return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("import kind 0x%02x", kind))
		}
		d.m.Imports = append(d.m.Imports, ir.Import{Module: module, Name: name, Kind: ik})
	}
	return nil
}

func readTableType(r *binary.Reader) (ir.TableData, error) {
	ty, err := readValType(r)
	if err != nil {
		return ir.TableData{}, err
	}
	l, err := readLimits(r, false)
	if err != nil {
		return ir.TableData{}, err
	}
	td := ir.TableData{Ty: ty, Initial: l.min, Max: l.max, Table64: l.is64}
	if ty.IsFuncRef() {
		td.FuncElements = []ir.Func{}
	}
	return td, nil
}

func readMemoryType(r *binary.Reader) (ir.MemoryData, error) {
	l, err := readLimits(r, true)
	if err != nil {
		return ir.MemoryData{}, err
	}
	return ir.MemoryData{
		InitialPages: l.min,
		MaximumPages: l.max,
		Memory64:     l.is64,
		Shared:       l.shared,
		PageSizeLog2: l.pageSize,
	}, nil
}

func readGlobalType(r *binary.Reader) (ir.GlobalData, error) {
	ty, err := readValType(r)
	if err != nil {
		return ir.GlobalData{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return ir.GlobalData{}, err
	}
	return ir.GlobalData{Ty: ty, Mutable: mut == 1}, nil
}

func (d *decoder) functions(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		d.funcSigs = append(d.funcSigs, ir.Signature(typeIdx))
	}
	return nil
}

func (d *decoder) tables(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		td, err := readTableType(r)
		if err != nil {
			return err
		}
		d.m.Tables.Push(td)
	}
	return nil
}

func (d *decoder) memories(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		md, err := readMemoryType(r)
		if err != nil {
			return err
		}
		d.m.Memories.Push(md)
	}
	return nil
}

func (d *decoder) globals(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		gd, err := readGlobalType(r)
		if err != nil {
			return err
		}
		value, err := readConstExpr(r)
		if err != nil {
			return err
		}
		gd.Value = value
		d.m.Globals.Push(gd)
	}
	return nil
}

// readConstExpr evaluates a constant initializer expression. Only the
// constant family yields a 64-bit value; reference and global-get
// initializers decode to an absent value.
func readConstExpr(r *binary.Reader) (*uint64, error) {
	var value *uint64
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpcodeEnd:
			return value, nil
		case 0x41: // i32.const
			v, err := r.ReadS32()
			if err != nil {
				return nil, err
			}
			u := uint64(uint32(v))
			value = &u
		case 0x42: // i64.const
			v, err := r.ReadS64()
			if err != nil {
				return nil, err
			}
			u := uint64(v)
			value = &u
		case 0x43: // f32.const
			b, err := r.ReadBytes(4)
			if err != nil {
				return nil, err
			}
			u := uint64(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
			value = &u
		case 0x44: // f64.const
			b, err := r.ReadBytes(8)
			if err != nil {
				return nil, err
			}
			var u uint64
			for i := 7; i >= 0; i-- {
				u = u<<8 | uint64(b[i])
			}
			value = &u
		case OpcodeRefNull:
			if _, err := r.ReadS64(); err != nil {
				return nil, err
			}
			value = nil
		case OpcodeRefFunc, 0x23: // ref.func / global.get
			if _, err := r.ReadU32(); err != nil {
				return nil, err
			}
			value = nil
		default:
			return nil, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("const expr opcode 0x%02x", op))
		}
	}
}

func (d *decoder) exports(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		var ek ir.ExportKind
		switch kind {
		case ExtKindFunc:
			ek = ir.FuncExport(ir.Func(idx))
		case ExtKindTable:
			ek = ir.TableExport(ir.Table(idx))
		case ExtKindMemory:
			ek = ir.MemoryExport(ir.Memory(idx))
		case ExtKindGlobal:
			ek = ir.GlobalExport(ir.Global(idx))
		case ExtKindTag:
			ek = ir.ExportKind{Kind: ir.EntityControlTag, Index: idx}
		default:
			return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("export kind 0x%02x", kind))
		}
		d.m.Exports = append(d.m.Exports, ir.Export{Name: name, Kind: ek})
	}
	return nil
}

func (d *decoder) elements(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		var table ir.Table
		switch flags {
		case 0:
			table = 0
		case 2:
			idx, err := r.ReadU32()
			if err != nil {
				return err
			}
			table = ir.Table(idx)
		default:
			return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("element segment flags %d", flags))
		}
		offset, err := readConstExpr(r)
		if err != nil {
			return err
		}
		if flags == 2 {
			elemKind, err := r.ReadByte()
			if err != nil {
				return err
			}
			if elemKind != 0 {
				return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("element kind 0x%02x", elemKind))
			}
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		base := uint64(0)
		if offset != nil {
			base = *offset
		}
		td := d.m.Tables.At(table)
		for j := uint32(0); j < n; j++ {
			fn, err := r.ReadU32()
			if err != nil {
				return err
			}
			at := int(base) + int(j)
			for len(td.FuncElements) <= at {
				td.FuncElements = append(td.FuncElements, ir.InvalidFunc)
			}
			td.FuncElements[at] = ir.Func(fn)
		}
	}
	return nil
}

func (d *decoder) code(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	if int(count) != len(d.funcSigs) {
		return errors.InvalidData(errors.PhaseDecode,
			fmt.Sprintf("code count %d does not match function section %d", count, len(d.funcSigs)))
	}
	for i := uint32(0); i < count; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		d.m.Funcs.Push(ir.FuncDecl{
			Kind: ir.FuncDeclLazy,
			Sig:  d.funcSigs[i],
			Code: body,
		})
	}
	return nil
}

func (d *decoder) data(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		var mem ir.Memory
		switch flags {
		case 0:
			mem = 0
		case 2:
			idx, err := r.ReadU32()
			if err != nil {
				return err
			}
			mem = ir.Memory(idx)
		default:
			return errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("data segment flags %d", flags))
		}
		offset, err := readConstExpr(r)
		if err != nil {
			return err
		}
		n, err := r.ReadU32()
		if err != nil {
			return err
		}
		data, err := r.ReadBytes(int(n))
		if err != nil {
			return err
		}
		base := uint64(0)
		if offset != nil {
			base = *offset
		}
		md := d.m.Memories.At(mem)
		md.Segments = append(md.Segments, ir.MemorySegment{Offset: base, Data: data})
	}
	return nil
}

func (d *decoder) tags(r *binary.Reader) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if _, err := r.ReadByte(); err != nil { // attribute
			return err
		}
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		d.m.ControlTags.Push(ir.ControlTagData{Sig: ir.Signature(typeIdx)})
	}
	return nil
}

func (d *decoder) custom(r *binary.Reader) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	data, err := r.ReadRemaining()
	if err != nil {
		return err
	}
	d.m.CustomSections[name] = data
	if name == "name" && d.opts.DebugNames {
		d.parseNameSection(data)
	}
	return nil
}

// parseNameSection extracts the function-name subsection; failures
// only lose names.
func (d *decoder) parseNameSection(data []byte) {
	r := binary.NewReader(bytes.NewReader(data))
	for {
		id, err := r.ReadByte()
		if err != nil {
			return
		}
		size, err := r.ReadU32()
		if err != nil {
			return
		}
		payload, err := r.ReadBytes(int(size))
		if err != nil {
			return
		}
		if id != 1 {
			continue
		}
		sub := binary.NewReader(bytes.NewReader(payload))
		count, err := sub.ReadU32()
		if err != nil {
			return
		}
		for i := uint32(0); i < count; i++ {
			idx, err := sub.ReadU32()
			if err != nil {
				return
			}
			name, err := sub.ReadName()
			if err != nil {
				return
			}
			if d.m.Funcs.Contains(ir.Func(idx)) {
				d.m.Funcs.At(ir.Func(idx)).Name = name
			}
		}
	}
}
