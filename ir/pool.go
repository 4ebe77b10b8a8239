package ir

// ListRef is a (offset, length) view into a ListPool. Handles stay
// valid for the lifetime of the owning pool; the pool is append-only.
// The zero ListRef is the empty list.
type ListRef struct {
	offset uint32
	length uint32
}

// Len returns the number of elements the handle covers.
func (r ListRef) Len() int { return int(r.length) }

// ListPool stores variable-length lists in one flat buffer and vends
// ListRef handles to them.
type ListPool[T any] struct {
	data []T
}

// FromSlice appends the sequence and returns a handle to it.
func (p *ListPool[T]) FromSlice(xs []T) ListRef {
	if len(xs) == 0 {
		return ListRef{}
	}
	off := uint32(len(p.data))
	p.data = append(p.data, xs...)
	return ListRef{offset: off, length: uint32(len(xs))}
}

// Single interns a one-element list.
func (p *ListPool[T]) Single(x T) ListRef {
	off := uint32(len(p.data))
	p.data = append(p.data, x)
	return ListRef{offset: off, length: 1}
}

// Double interns a two-element list.
func (p *ListPool[T]) Double(x, y T) ListRef {
	off := uint32(len(p.data))
	p.data = append(p.data, x, y)
	return ListRef{offset: off, length: 2}
}

// DeepClone appends a fresh copy of the sequence at r and returns the
// new handle. Use before mutating a list that may be shared.
func (p *ListPool[T]) DeepClone(r ListRef) ListRef {
	if r.length == 0 {
		return ListRef{}
	}
	off := uint32(len(p.data))
	p.data = append(p.data, p.data[r.offset:r.offset+r.length]...)
	return ListRef{offset: off, length: r.length}
}

// Slice returns the elements the handle covers. The slice aliases pool
// storage: in-place writes are visible to every holder of the handle.
func (p *ListPool[T]) Slice(r ListRef) []T {
	return p.data[r.offset : r.offset+r.length : r.offset+r.length]
}
