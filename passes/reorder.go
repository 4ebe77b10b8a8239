package passes

import (
	"fmt"

	"github.com/wippyai/wasm-shaper/ir"
)

// ReorderFuncsInBody rewrites every function reference in the body
// through the permutation.
func ReorderFuncsInBody(b *ir.FunctionBody, fs map[ir.Func]ir.Func) {
	for vi := range b.Values.Len() {
		v := ir.Value(vi)
		vd := b.Values.Get(v)
		if vd.Kind != ir.DefOperator {
			continue
		}
		switch vd.Op.Kind {
		case ir.OpCall, ir.OpRefFunc:
			vd.Op.Func = mustMap(fs, vd.Op.Func)
			b.Values.Set(v, vd)
		}
	}
	for bi := range b.Blocks.Len() {
		term := &b.Blocks.At(ir.Block(bi)).Terminator
		if term.Kind == ir.TermReturnCall {
			term.Func = mustMap(fs, term.Func)
		}
	}
}

func mustMap[I ir.Index](fs map[I]I, f I) I {
	n, ok := fs[f]
	if !ok {
		panic(fmt.Sprintf("reorder: unmapped entity %d", uint32(f)))
	}
	return n
}

// ReorderFuncs applies a function-id permutation across the whole
// module: bodies, tables, imports, exports and the start function.
func ReorderFuncs(m *ir.Module, fs map[ir.Func]ir.Func) {
	decls := make([]ir.FuncDecl, m.Funcs.Len())
	for fi := range m.Funcs.Len() {
		f := ir.Func(fi)
		d := m.Funcs.At(f).Clone()
		if d.Kind == ir.FuncDeclBody {
			ReorderFuncsInBody(d.Body, fs)
		}
		decls[mustMap(fs, f)] = d
	}
	for fi := range m.Funcs.Len() {
		m.Funcs.Set(ir.Func(fi), decls[fi])
	}
	for ti := range m.Tables.Len() {
		t := m.Tables.At(ir.Table(ti))
		for i, e := range t.FuncElements {
			t.FuncElements[i] = mustMap(fs, e)
		}
	}
	for i := range m.Imports {
		if m.Imports[i].Kind.Kind == ir.EntityFunc {
			m.Imports[i].Kind.Index = uint32(mustMap(fs, ir.Func(m.Imports[i].Kind.Index)))
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Kind.Kind == ir.EntityFunc {
			m.Exports[i].Kind.Index = uint32(mustMap(fs, ir.Func(m.Exports[i].Kind.Index)))
		}
	}
	if ir.Valid(m.StartFunc) {
		m.StartFunc = mustMap(fs, m.StartFunc)
	}
}

// FixupOrders renumbers functions so every import precedes every local
// function, preserving relative order within the groups.
func FixupOrders(m *ir.Module) {
	fs := map[ir.Func]ir.Func{}
	var imports, locals []ir.Func
	for fi := range m.Funcs.Len() {
		f := ir.Func(fi)
		if m.Funcs.At(f).Kind == ir.FuncDeclImport {
			imports = append(imports, f)
		} else {
			locals = append(locals, f)
		}
	}
	i := 0
	for _, v := range imports {
		fs[v] = ir.Func(i)
		i++
	}
	for _, v := range locals {
		fs[v] = ir.Func(i)
		i++
	}
	if len(fs) != m.Funcs.Len() {
		panic("reorder: permutation size mismatch")
	}
	fs[ir.InvalidFunc] = ir.InvalidFunc
	ReorderFuncs(m, fs)
}

// FixupMemOrders renumbers memories imports-first.
func FixupMemOrders(m *ir.Module) {
	fs := map[ir.Memory]ir.Memory{}
	var imports, locals []ir.Memory
	for mi := range m.Memories.Len() {
		mem := ir.Memory(mi)
		imported := false
		for _, imp := range m.Imports {
			if imp.Kind == ir.MemoryImport(mem) {
				imported = true
			}
		}
		if imported {
			imports = append(imports, mem)
		} else {
			locals = append(locals, mem)
		}
	}
	i := 0
	for _, v := range imports {
		fs[v] = ir.Memory(i)
		i++
	}
	for _, v := range locals {
		fs[v] = ir.Memory(i)
		i++
	}
	ReorderMems(m, fs)
}

// ReorderMems applies a memory-id remap: every memory reference inside
// operators is rewritten through RewriteMem, then the memory arena is
// permuted. The map may shrink the index space (fusion finalization
// maps every surviving memory through it).
func ReorderMems(m *ir.Module, fs map[ir.Memory]ir.Memory) {
	m.PerFuncBody(func(b *ir.FunctionBody) {
		for vi := range b.Values.Len() {
			v := ir.Value(vi)
			vd := b.Values.Get(v)
			if vd.Kind != ir.DefOperator {
				continue
			}
			var scratch [4]struct{}
			_ = ir.RewriteMem(&vd.Op, scratch[:], func(mem *ir.Memory, _ *struct{}) error {
				*mem = mustMap(fs, *mem)
				return nil
			})
			b.Values.Set(v, vd)
		}
	})
	old := m.Memories.Clone()
	for f, g := range fs {
		if old.Contains(f) && m.Memories.Contains(g) {
			m.Memories.Set(g, old.Get(f))
		}
	}
	for i := range m.Imports {
		if m.Imports[i].Kind.Kind == ir.EntityMemory {
			if n, ok := fs[ir.Memory(m.Imports[i].Kind.Index)]; ok {
				m.Imports[i].Kind.Index = uint32(n)
			}
		}
	}
	for i := range m.Exports {
		if m.Exports[i].Kind.Kind == ir.EntityMemory {
			if n, ok := fs[ir.Memory(m.Exports[i].Kind.Index)]; ok {
				m.Exports[i].Kind.Index = uint32(n)
			}
		}
	}
}
