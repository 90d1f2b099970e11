package alloc

import "unsafe"

// Block is a live allocation: the address returned by the engine and the length the caller asked for.
// The zero Block is absent, which is how every operation reports that nothing was allocated.
type Block struct {
	ptr unsafe.Pointer
	len uintptr
}

func (b Block) Ptr() unsafe.Pointer {
	return b.ptr
}

func (b Block) Len() uintptr {
	return b.len
}

// IsAbsent reports whether the block holds no allocation
func (b Block) IsAbsent() bool {
	return b.ptr == nil
}

// Bytes returns a slice over exactly Len bytes of the block, or nil if the block is absent. The
// slice is invalid once the block is deallocated or reallocated.
func (b Block) Bytes() []byte {
	if b.ptr == nil {
		return nil
	}

	return unsafe.Slice((*byte)(b.ptr), b.len)
}

// normalize reports a failed allocation as the absent block rather than a nil address with a length
func (b Block) normalize() Block {
	if b.ptr == nil {
		return Block{}
	}

	return b
}
