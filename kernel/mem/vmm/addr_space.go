package vmm

import (
	"sync/atomic"

	"mikros/kernel"
	"mikros/kernel/hal/ram"
	"mikros/kernel/mem"
	"mikros/kernel/mem/pmm/allocator"
)

// AddressSpace is the handle for a process's private virtual memory map. Its
// identity in the shared page table is a monotonically increasing identifier
// issued at creation, so a recycled handle can never alias the translations
// of a dead address space.
type AddressSpace struct {
	id uint32
}

var (
	// asidCounter issues address-space identifiers. Zero is reserved to
	// mark free page table slots.
	asidCounter uint32

	// activeAS is the address space of the currently running process.
	activeAS *AddressSpace

	// activeAddrSpaceFn reports the current address space to the fault
	// handler. It stands in for the process module and is mocked by
	// tests.
	activeAddrSpaceFn = func() *AddressSpace { return activeAS }
)

// CreateAddressSpace allocates an empty address space. No translations exist
// until regions are defined.
func CreateAddressSpace() *AddressSpace {
	as := &AddressSpace{id: atomic.AddUint32(&asidCounter, 1)}
	tlbFlush()
	return as
}

// Copy clones the address space for fork: every translation owned by the
// source is mirrored under the new identity, and every backing frame is
// deep-copied into a freshly allocated frame. On failure the partially built
// address space is destroyed and no translations leak.
func (as *AddressSpace) Copy() (*AddressSpace, *kernel.Error) {
	newAS := CreateAddressSpace()

	hptLock.Acquire()
	for i := int32(0); i < int32(hptLen); i++ {
		if hpt[i].inuse == 0 || hpt[i].asid != as.id {
			continue
		}

		lo := hpt[i].entryLo
		if pa := lo.FrameAddr(); pa != 0 {
			va, err := allocator.AllocFrame()
			if err != nil {
				hptLock.Release()
				newAS.Destroy()
				return nil, ErrOutOfMemory
			}

			newPA := mem.KernelToPhys(va)
			copy(ram.Bytes(newPA, mem.PageSize), ram.Bytes(pa, mem.PageSize))
			lo.SetFrame(newPA)
		}

		if !hptInsert(newAS.id, hpt[i].entryHi, lo) {
			if pa := lo.FrameAddr(); pa != 0 {
				allocator.FreeFrame(mem.PhysToKernel(pa))
			}
			hptLock.Release()
			newAS.Destroy()
			return nil, ErrOutOfMemory
		}
	}
	hptLock.Release()

	return newAS, nil
}

// Destroy tears down every translation owned by the address space, dropping
// the references to the backing frames, and flushes the TLB so no stale
// translations survive the identifier.
func (as *AddressSpace) Destroy() {
	hptLock.Acquire()
	hptRemoveAllFor(as.id)
	hptLock.Release()
	tlbFlush()
}

// Activate makes this the current address space. The hardware tags TLB
// entries with no usable ASID, so the whole TLB is flushed on every switch.
func (as *AddressSpace) Activate() {
	activeAS = as
	tlbFlush()
}

// Deactivate is called when the current process is switched away from.
func (as *AddressSpace) Deactivate() {
	tlbFlush()
}

// DefineRegion declares a virtual memory range with the given permissions.
// No frames are allocated; translations are inserted frameless and filled in
// at fault time. Regions may not overlap previously defined ones and must lie
// entirely below the kernel segment. While the region is being loaded it is
// writable regardless of perm; CompleteLoad withdraws that.
func (as *AddressSpace) DefineRegion(vaddr mem.VirtAddr, size mem.Size, perm Perm) *kernel.Error {
	if uint64(vaddr)+uint64(size) > uint64(mem.KSeg0) {
		return ErrBadAddress
	}

	base := uint32(vaddr) >> mem.PageShift
	top := (uint32(vaddr) + uint32(size) + mem.PageSize - 1) >> mem.PageShift

	for page := base; page < top; page++ {
		entryHi := mem.VirtAddr(page << mem.PageShift)

		lo := EntryLoValid | EntryLoGlobal | perm.entryLoBits() | EntryLoSoftWrite
		if perm&PermWrite != 0 {
			lo |= EntryLoDirty
		}

		hptLock.Acquire()
		if hpt == nil {
			hptLock.Release()
			return ErrBadAddress
		}
		if hptLookup(as.id, entryHi) != -1 {
			hptLock.Release()
			return ErrBadAddress
		}
		if !hptInsert(as.id, entryHi, lo) {
			hptLock.Release()
			return ErrOutOfMemory
		}
		hptLock.Release()
	}

	return nil
}

// DefineStack declares the initial user stack region and returns the initial
// stack pointer. The stack occupies StackPages pages ending at UserStackTop
// and is readable and writable.
func (as *AddressSpace) DefineStack() (mem.VirtAddr, *kernel.Error) {
	base := mem.UserStackTop - mem.StackPages*mem.PageSize
	if err := as.DefineRegion(base, mem.StackPages*mem.PageSize, PermRead|PermWrite); err != nil {
		return 0, err
	}
	return mem.UserStackTop, nil
}

// PrepareLoad readies the address space for the loader. Nothing to do:
// DefineRegion already set the soft-write bit on every translation.
func (as *AddressSpace) PrepareLoad() {}

// CompleteLoad withdraws the loader's write window by clearing the soft-write
// bit on every translation owned by the address space. Cached TLB entries may
// carry a dirty bit promoted by the soft write, so the TLB is flushed and the
// final permissions are re-derived on the next fault.
func (as *AddressSpace) CompleteLoad() {
	hptLock.Acquire()
	for i := range hpt {
		if hpt[i].inuse != 0 && hpt[i].asid == as.id {
			hpt[i].entryLo &^= EntryLoSoftWrite
		}
	}
	hptLock.Release()

	tlbFlush()
}
