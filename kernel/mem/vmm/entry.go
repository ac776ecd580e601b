package vmm

import "mikros/kernel/mem"

// EntryLo describes the low word of a translation entry: the physical frame
// number in the top 20 bits, the hardware state bits below it and the software
// permission bits overlaid on the low nibble. The software bits are stripped
// before an entry is handed to the TLB.
type EntryLo uint32

// EntryLo flags. Bits 8-11 are fixed by the hardware; bits 0-4 belong to the
// software page tables.
const (
	// EntryLoSoftWrite temporarily permits writes while a program is being
	// loaded, regardless of the declared write permission.
	EntryLoSoftWrite EntryLo = 1 << 0

	// EntryLoExecute, EntryLoWrite and EntryLoRead carry the declared
	// region permissions.
	EntryLoExecute EntryLo = 1 << 1
	EntryLoWrite   EntryLo = 1 << 2
	EntryLoRead    EntryLo = 1 << 3

	// EntryLoDefined marks a slot that is reserved but has no frame yet.
	EntryLoDefined EntryLo = 1 << 4

	// EntryLoGlobal makes the entry match regardless of the hardware ASID.
	EntryLoGlobal EntryLo = 1 << 8

	// EntryLoValid makes the entry matchable by the TLB.
	EntryLoValid EntryLo = 1 << 9

	// EntryLoDirty is the hardware write-enable bit.
	EntryLoDirty EntryLo = 1 << 10

	// EntryLoNoCache disables caching for the page.
	EntryLoNoCache EntryLo = 1 << 11

	// EntryLoPermissionMask isolates the read/write/execute/soft-write
	// bits.
	EntryLoPermissionMask EntryLo = 0x0F

	// EntryLoStateMask additionally covers the defined bit and isolates
	// everything the hardware must never see.
	EntryLoStateMask EntryLo = 0x1F

	// entryLoFrameMask isolates the physical frame bits.
	entryLoFrameMask EntryLo = mem.PageFrameMask
)

// HasFlags returns true if this entry has all the input flags set.
func (lo EntryLo) HasFlags(flags EntryLo) bool {
	return lo&flags == flags
}

// HasAnyFlag returns true if this entry has at least one of the input flags
// set.
func (lo EntryLo) HasAnyFlag(flags EntryLo) bool {
	return lo&flags != 0
}

// FrameAddr returns the physical address of the frame backing this entry, or
// zero when no frame has been attached yet.
func (lo EntryLo) FrameAddr() mem.PhysAddr {
	return mem.PhysAddr(lo & entryLoFrameMask)
}

// SetFrame points the entry at the frame containing the given physical
// address.
func (lo *EntryLo) SetFrame(pa mem.PhysAddr) {
	*lo = (*lo &^ entryLoFrameMask) | (EntryLo(pa) & entryLoFrameMask)
}

// Perm describes the region permissions handed over by the loader as a 3-bit
// read/write/execute combination.
type Perm uint32

// The loader permission bits.
const (
	PermExecute Perm = 1 << iota
	PermWrite
	PermRead
)

// entryLoBits aligns the loader permissions with the EntryLo permission
// field.
func (p Perm) entryLoBits() EntryLo {
	return EntryLo(p) << 1
}
