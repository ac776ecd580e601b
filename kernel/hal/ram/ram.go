// Package ram models the physical memory of the machine and implements the
// bootstrap frame allocator used before the frame table takes over. The
// hardware layer provisions the backing store once at boot and reports the
// probe results (total size, first free byte above the kernel image) to the
// memory managers.
package ram

import (
	"mikros/kernel"
	"mikros/kernel/kfmt"
	"mikros/kernel/mem"
)

var (
	// memory backs all physical frames. Indexing it with a physical
	// address is the direct-mapped window.
	memory []byte

	// totalSize is the probed amount of physical memory.
	totalSize mem.PhysAddr

	// firstFree is the lowest physical address not occupied by the kernel
	// image. StealMem bumps it by whole pages.
	firstFree mem.PhysAddr

	errRAMTooLarge = &kernel.Error{Module: "ram", Message: "physical memory exceeds the direct-mapped window"}
)

// Init provisions size bytes of physical memory and records the probe
// results. kernelTop is the first free physical byte above the already
// resident kernel image. The probe is consumed once at boot; calling Init
// again models a fresh machine.
func Init(size mem.Size, kernelTop mem.PhysAddr) *kernel.Error {
	if size > mem.Size(mem.KSeg1-mem.KSeg0) {
		return errRAMTooLarge
	}

	memory = make([]byte, size)
	totalSize = mem.PhysAddr(size)
	firstFree = kernelTop

	kfmt.Printf("[ram] %dK physical memory, kernel image ends at 0x%x\n",
		uint64(size/mem.Kb), uint32(kernelTop))
	return nil
}

// TotalSize reports the probed amount of physical memory in bytes.
func TotalSize() mem.PhysAddr {
	return totalSize
}

// FirstFree reports the first free physical address: everything below it is
// occupied by the kernel image or by frames handed out by StealMem.
func FirstFree() mem.PhysAddr {
	return firstFree
}

// StealMem hands out npages consecutive frames starting at the first free
// page boundary and never frees them. It returns 0 when physical memory is
// exhausted. This is the only allocation path available before the frame
// table bootstraps; the caller serializes access with the steal lock.
func StealMem(npages int) mem.PhysAddr {
	pa := (firstFree + mem.PageSize - 1) &^ mem.PhysAddr(mem.PageOffsetMask)
	want := mem.PhysAddr(npages) * mem.PageSize
	if pa+want > totalSize || pa+want < pa {
		return 0
	}

	firstFree = pa + want
	return pa
}

// Bytes exposes n bytes of physical memory starting at pa through the
// direct-mapped window.
func Bytes(pa mem.PhysAddr, n int) []byte {
	return memory[pa : int(pa)+n]
}
