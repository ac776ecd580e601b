// Package vmm implements the virtual memory core: a kernel-wide inverted
// hashed page table shared by every address space, the address-space
// lifecycle used by the exec and fork paths, and the TLB refill handler.
// Translations are inserted without backing frames; physical memory is
// attached on first fault.
package vmm

import (
	"unsafe"

	"mikros/kernel"
	"mikros/kernel/hal/ram"
	"mikros/kernel/mem/pmm/allocator"
)

var (
	// ErrOutOfMemory is returned when no physical frame is available or
	// the page table is full.
	ErrOutOfMemory = &kernel.Error{Module: "vmm", Message: "out of memory"}

	// ErrBadAddress is returned for faults outside any declared region,
	// permission violations and region definitions overlapping kernel
	// space.
	ErrBadAddress = &kernel.Error{Module: "vmm", Message: "bad memory reference"}

	// ErrReadOnlyFault is returned when the hardware reports a write to a
	// page whose TLB entry is not marked dirty.
	ErrReadOnlyFault = &kernel.Error{Module: "vmm", Message: "write to a read-only page"}

	errShootdown = &kernel.Error{Module: "vmm", Message: "tlb shootdown on a uniprocessor machine"}
)

// Bootstrap initializes the frame table and overlays the hashed page table on
// the region reserved for it directly below the frame table. It must run once
// the RAM probe has completed and before the first address space is created.
func Bootstrap() *kernel.Error {
	hptLock.Acquire()
	defer hptLock.Release()

	entrySize := int(unsafe.Sizeof(hptEntry{}))
	base, entries, err := allocator.Bootstrap(entrySize)
	if err != nil {
		return err
	}

	window := ram.Bytes(base, entries*entrySize)
	hpt = unsafe.Slice((*hptEntry)(unsafe.Pointer(&window[0])), entries)
	hptLen = entries

	for i := range hpt {
		hpt[i] = hptEntry{next: noNextSlot, prev: noNextSlot}
	}

	return nil
}

// TLBShootdown rejects interprocessor TLB shootdown requests; this VM core
// only supports a single CPU.
func TLBShootdown() {
	kernel.Panic(errShootdown)
}

// entryCountFor reports how many page table entries the given address space
// identity owns. It exists for the VM self tests.
func entryCountFor(asid uint32) int {
	count := 0
	hptLock.Acquire()
	for i := range hpt {
		if hpt[i].inuse != 0 && hpt[i].asid == asid {
			count++
		}
	}
	hptLock.Release()
	return count
}
