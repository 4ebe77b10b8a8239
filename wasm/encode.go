package wasm

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-shaper/errors"
	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/wasm/internal/binary"
)

// Encode lowers an IR module to a Wasm binary. Bodies held as IR are
// compiled through the backend; lazy and compiled bodies re-emit their
// existing bytes (valid only while entity numbering is untouched since
// decode).
func Encode(m *ir.Module) ([]byte, error) {
	e := &encoder{m: m}
	return e.encode()
}

type encoder struct {
	m *ir.Module
	// imported entity sets, excluded from the local sections.
	importedFuncs   map[ir.Func]bool
	importedTables  map[ir.Table]bool
	importedMems    map[ir.Memory]bool
	importedGlobals map[ir.Global]bool
	importedTags    map[ir.ControlTag]bool
}

func (e *encoder) encode() ([]byte, error) {
	m := e.m
	e.importedFuncs = map[ir.Func]bool{}
	e.importedTables = map[ir.Table]bool{}
	e.importedMems = map[ir.Memory]bool{}
	e.importedGlobals = map[ir.Global]bool{}
	e.importedTags = map[ir.ControlTag]bool{}
	for _, imp := range m.Imports {
		switch imp.Kind.Kind {
		case ir.EntityFunc:
			e.importedFuncs[ir.Func(imp.Kind.Index)] = true
		case ir.EntityTable:
			e.importedTables[ir.Table(imp.Kind.Index)] = true
		case ir.EntityMemory:
			e.importedMems[ir.Memory(imp.Kind.Index)] = true
		case ir.EntityGlobal:
			e.importedGlobals[ir.Global(imp.Kind.Index)] = true
		case ir.EntityControlTag:
			e.importedTags[ir.ControlTag(imp.Kind.Index)] = true
		}
	}

	out := binary.NewWriter()
	out.WriteU32LE(Magic)
	out.WriteU32LE(Version)

	type sectionFn struct {
		id byte
		fn func(*binary.Writer) error
	}
	sections := []sectionFn{
		{SectionType, e.typeSection},
		{SectionImport, e.importSection},
		{SectionFunction, e.functionSection},
		{SectionTable, e.tableSection},
		{SectionMemory, e.memorySection},
		{SectionTag, e.tagSection},
		{SectionGlobal, e.globalSection},
		{SectionExport, e.exportSection},
		{SectionStart, e.startSection},
		{SectionElement, e.elementSection},
		{SectionCode, e.codeSection},
		{SectionData, e.dataSection},
	}
	for _, s := range sections {
		w := binary.NewWriter()
		if err := s.fn(w); err != nil {
			return nil, fmt.Errorf("section %d: %w", s.id, err)
		}
		if w.Len() == 0 {
			continue
		}
		out.Byte(s.id)
		out.WriteU32(uint32(w.Len()))
		out.WriteBytes(w.Bytes())
	}

	names := make([]string, 0, len(m.CustomSections))
	for name := range m.CustomSections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := binary.NewWriter()
		w.WriteName(name)
		w.WriteBytes(m.CustomSections[name])
		out.Byte(SectionCustom)
		out.WriteU32(uint32(w.Len()))
		out.WriteBytes(w.Bytes())
	}

	return out.Bytes(), nil
}

func (e *encoder) typeSection(w *binary.Writer) error {
	m := e.m
	if m.Signatures.Len() == 0 {
		return nil
	}
	w.WriteU32(uint32(m.Signatures.Len()))
	for si := range m.Signatures.Len() {
		data := m.Signatures.At(ir.Signature(si))
		switch data.Kind {
		case ir.SigFunc:
			w.Byte(FuncTypeByte)
			if err := writeValTypeVec(w, data.Params); err != nil {
				return err
			}
			if err := writeValTypeVec(w, data.Returns); err != nil {
				return err
			}
		case ir.SigStruct:
			w.Byte(StructTypeByte)
			w.WriteU32(uint32(len(data.Fields)))
			for _, fld := range data.Fields {
				if err := writeFieldType(w, fld); err != nil {
					return err
				}
			}
		case ir.SigArray:
			w.Byte(ArrayTypeByte)
			if err := writeFieldType(w, data.Elem); err != nil {
				return err
			}
		default:
			return errors.Structural(errors.PhaseEncode, "encode",
				fmt.Sprintf("signature placeholder %s reached the encoder", ir.Signature(si)))
		}
	}
	return nil
}

func writeValTypeVec(w *binary.Writer, tys []ir.Type) error {
	w.WriteU32(uint32(len(tys)))
	for _, t := range tys {
		if err := writeValType(w, t); err != nil {
			return err
		}
	}
	return nil
}

func writeFieldType(w *binary.Writer, f ir.WithMutable[ir.StorageType]) error {
	if err := writeStorageType(w, f.Value); err != nil {
		return err
	}
	if f.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
	return nil
}

func (e *encoder) importSection(w *binary.Writer) error {
	m := e.m
	if len(m.Imports) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(m.Imports)))
	for _, imp := range m.Imports {
		w.WriteName(imp.Module)
		w.WriteName(imp.Name)
		switch imp.Kind.Kind {
		case ir.EntityFunc:
			w.Byte(ExtKindFunc)
			w.WriteU32(uint32(m.Funcs.At(ir.Func(imp.Kind.Index)).Signature()))
		case ir.EntityTable:
			w.Byte(ExtKindTable)
			if err := e.writeTableType(w, m.Tables.Get(ir.Table(imp.Kind.Index))); err != nil {
				return err
			}
		case ir.EntityMemory:
			w.Byte(ExtKindMemory)
			e.writeMemoryType(w, m.Memories.Get(ir.Memory(imp.Kind.Index)))
		case ir.EntityGlobal:
			w.Byte(ExtKindGlobal)
			if err := e.writeGlobalType(w, m.Globals.Get(ir.Global(imp.Kind.Index))); err != nil {
				return err
			}
		case ir.EntityControlTag:
			w.Byte(ExtKindTag)
			w.Byte(0)
			w.WriteU32(uint32(m.ControlTags.Get(ir.ControlTag(imp.Kind.Index)).Sig))
		}
	}
	return nil
}

func (e *encoder) writeTableType(w *binary.Writer, t ir.TableData) error {
	if err := writeValType(w, t.Ty); err != nil {
		return err
	}
	writeLimits(w, limits{min: t.Initial, max: t.Max, is64: t.Table64})
	return nil
}

func (e *encoder) writeMemoryType(w *binary.Writer, md ir.MemoryData) {
	writeLimits(w, limits{
		min:      md.InitialPages,
		max:      md.MaximumPages,
		shared:   md.Shared,
		is64:     md.Memory64,
		pageSize: md.PageSizeLog2,
	})
}

func (e *encoder) writeGlobalType(w *binary.Writer, g ir.GlobalData) error {
	if err := writeValType(w, g.Ty); err != nil {
		return err
	}
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
	return nil
}

func (e *encoder) functionSection(w *binary.Writer) error {
	m := e.m
	var sigs []ir.Signature
	for fi := range m.Funcs.Len() {
		fn := ir.Func(fi)
		if e.importedFuncs[fn] {
			continue
		}
		d := m.Funcs.At(fn)
		if d.Kind == ir.FuncDeclNone {
			return errors.Structural(errors.PhaseEncode, "encode",
				fmt.Sprintf("function placeholder %s reached the encoder", fn))
		}
		sigs = append(sigs, d.Signature())
	}
	if len(sigs) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(sigs)))
	for _, s := range sigs {
		w.WriteU32(uint32(s))
	}
	return nil
}

func (e *encoder) tableSection(w *binary.Writer) error {
	m := e.m
	var local []ir.TableData
	for ti := range m.Tables.Len() {
		if !e.importedTables[ir.Table(ti)] {
			local = append(local, m.Tables.Get(ir.Table(ti)))
		}
	}
	if len(local) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(local)))
	for _, t := range local {
		if err := e.writeTableType(w, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) memorySection(w *binary.Writer) error {
	m := e.m
	var local []ir.MemoryData
	for mi := range m.Memories.Len() {
		if !e.importedMems[ir.Memory(mi)] {
			local = append(local, m.Memories.Get(ir.Memory(mi)))
		}
	}
	if len(local) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(local)))
	for _, md := range local {
		e.writeMemoryType(w, md)
	}
	return nil
}

func (e *encoder) tagSection(w *binary.Writer) error {
	m := e.m
	var local []ir.ControlTagData
	for ci := range m.ControlTags.Len() {
		if !e.importedTags[ir.ControlTag(ci)] {
			local = append(local, m.ControlTags.Get(ir.ControlTag(ci)))
		}
	}
	if len(local) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(local)))
	for _, t := range local {
		w.Byte(0)
		w.WriteU32(uint32(t.Sig))
	}
	return nil
}

func (e *encoder) globalSection(w *binary.Writer) error {
	m := e.m
	var local []ir.GlobalData
	for gi := range m.Globals.Len() {
		if !e.importedGlobals[ir.Global(gi)] {
			local = append(local, m.Globals.Get(ir.Global(gi)))
		}
	}
	if len(local) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(local)))
	for _, g := range local {
		if err := e.writeGlobalType(w, g); err != nil {
			return err
		}
		if err := writeInitExpr(w, g); err != nil {
			return err
		}
	}
	return nil
}

func writeInitExpr(w *binary.Writer, g ir.GlobalData) error {
	var value uint64
	if g.Value != nil {
		value = *g.Value
	}
	switch g.Ty.Kind {
	case ir.KindI32:
		w.Byte(0x41)
		w.WriteS32(int32(uint32(value)))
	case ir.KindI64:
		w.Byte(0x42)
		w.WriteS64(int64(value))
	case ir.KindF32:
		w.Byte(0x43)
		bits := uint32(value)
		w.WriteBytes([]byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)})
	case ir.KindF64:
		w.Byte(0x44)
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(value >> (8 * i))
		}
		w.WriteBytes(buf[:])
	case ir.KindHeap:
		w.Byte(OpcodeRefNull)
		writeHeapType(w, g.Ty)
	default:
		return errors.Structural(errors.PhaseEncode, "encode", "global of invalid type")
	}
	w.Byte(OpcodeEnd)
	return nil
}

func (e *encoder) exportSection(w *binary.Writer) error {
	m := e.m
	if len(m.Exports) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(m.Exports)))
	for _, exp := range m.Exports {
		w.WriteName(exp.Name)
		switch exp.Kind.Kind {
		case ir.EntityFunc:
			w.Byte(ExtKindFunc)
		case ir.EntityTable:
			w.Byte(ExtKindTable)
		case ir.EntityMemory:
			w.Byte(ExtKindMemory)
		case ir.EntityGlobal:
			w.Byte(ExtKindGlobal)
		case ir.EntityControlTag:
			w.Byte(ExtKindTag)
		}
		w.WriteU32(exp.Kind.Index)
	}
	return nil
}

func (e *encoder) startSection(w *binary.Writer) error {
	if !ir.Valid(e.m.StartFunc) {
		return nil
	}
	w.WriteU32(uint32(e.m.StartFunc))
	return nil
}

func (e *encoder) elementSection(w *binary.Writer) error {
	m := e.m
	type segment struct {
		table ir.Table
		elems []ir.Func
	}
	var segments []segment
	for ti := range m.Tables.Len() {
		t := m.Tables.At(ir.Table(ti))
		if len(t.FuncElements) > 0 {
			segments = append(segments, segment{table: ir.Table(ti), elems: t.FuncElements})
		}
	}
	if len(segments) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(segments)))
	for _, s := range segments {
		hasNull := false
		for _, f := range s.elems {
			if !ir.Valid(f) {
				hasNull = true
			}
		}
		if hasNull {
			// Expression form: ref.func / ref.null entries.
			w.WriteU32(6)
			w.WriteU32(uint32(s.table))
			w.Byte(0x41)
			w.WriteS32(0)
			w.Byte(OpcodeEnd)
			w.Byte(ValFuncRef)
			w.WriteU32(uint32(len(s.elems)))
			for _, f := range s.elems {
				if ir.Valid(f) {
					w.Byte(OpcodeRefFunc)
					w.WriteU32(uint32(f))
				} else {
					w.Byte(OpcodeRefNull)
					w.Byte(ValFuncRef)
				}
				w.Byte(OpcodeEnd)
			}
			continue
		}
		w.WriteU32(2)
		w.WriteU32(uint32(s.table))
		w.Byte(0x41)
		w.WriteS32(0)
		w.Byte(OpcodeEnd)
		w.Byte(0x00) // elemkind: funcref
		w.WriteU32(uint32(len(s.elems)))
		for _, f := range s.elems {
			w.WriteU32(uint32(f))
		}
	}
	return nil
}

func (e *encoder) codeSection(w *binary.Writer) error {
	m := e.m
	var bodies [][]byte
	for fi := range m.Funcs.Len() {
		fn := ir.Func(fi)
		if e.importedFuncs[fn] {
			continue
		}
		d := m.Funcs.At(fn)
		switch d.Kind {
		case ir.FuncDeclBody:
			body, err := CompileBody(m, d.Body)
			if err != nil {
				return fmt.Errorf("compile %s: %w", fn, err)
			}
			bodies = append(bodies, body)
		case ir.FuncDeclLazy, ir.FuncDeclCompiled:
			inner := binary.NewWriter()
			inner.WriteU32(uint32(len(d.Code)))
			inner.WriteBytes(d.Code)
			bodies = append(bodies, inner.Bytes())
		default:
			return errors.Structural(errors.PhaseEncode, "encode",
				fmt.Sprintf("no body for %s", fn))
		}
	}
	if len(bodies) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(bodies)))
	for _, b := range bodies {
		w.WriteBytes(b)
	}
	return nil
}

func (e *encoder) dataSection(w *binary.Writer) error {
	m := e.m
	type seg struct {
		mem ir.Memory
		s   ir.MemorySegment
	}
	var segs []seg
	for mi := range m.Memories.Len() {
		md := m.Memories.At(ir.Memory(mi))
		for _, s := range md.Segments {
			segs = append(segs, seg{mem: ir.Memory(mi), s: s})
		}
	}
	if len(segs) == 0 {
		return nil
	}
	w.WriteU32(uint32(len(segs)))
	for _, s := range segs {
		memory64 := m.Memories.At(s.mem).Memory64
		if s.mem == 0 {
			w.WriteU32(0)
		} else {
			w.WriteU32(2)
			w.WriteU32(uint32(s.mem))
		}
		if memory64 {
			w.Byte(0x42)
			w.WriteS64(int64(s.s.Offset))
		} else {
			w.Byte(0x41)
			w.WriteS32(int32(uint32(s.s.Offset)))
		}
		w.Byte(OpcodeEnd)
		w.WriteU32(uint32(len(s.s.Data)))
		w.WriteBytes(s.s.Data)
	}
	return nil
}
