// Package pmm contains code that manages physical memory frame allocations.
package pmm

import (
	"math"

	"mikros/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uint32

// InvalidFrame is returned by frame allocators when they fail to reserve a
// frame.
const InvalidFrame = Frame(math.MaxUint32)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address of the first byte of this
// frame.
func (f Frame) Address() mem.PhysAddr {
	return mem.PhysAddr(f) << mem.PageShift
}

// FrameFromAddress returns the Frame that contains the given physical
// address.
func FrameFromAddress(pa mem.PhysAddr) Frame {
	return Frame(pa >> mem.PageShift)
}
