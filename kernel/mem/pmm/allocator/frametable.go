// Package allocator implements the frame table, the physical frame allocator
// that owns every page of RAM once the memory subsystem bootstraps. The table
// itself lives inside the memory it manages: its entry array is laid out at
// the very top of RAM and the hashed page table sits immediately below it,
// both reached through the direct-mapped window.
package allocator

import (
	"unsafe"

	"mikros/kernel"
	"mikros/kernel/hal/ram"
	"mikros/kernel/kfmt"
	"mikros/kernel/mem"
	"mikros/kernel/mem/pmm"
	"mikros/kernel/sync"
)

// frameState describes the usage status of a physical frame.
type frameState uint32

const (
	frameUnused frameState = iota
	frameUsed
	frameReserved
)

// noNextFrame terminates the free list.
const noNextFrame int32 = -1

// ftEntry is the bookkeeping record for one physical frame. All fields are
// fixed width so the in-RAM layout of the entry array does not depend on the
// host's padding rules.
type ftEntry struct {
	// ref counts the page-table entries referencing this frame.
	ref int32

	// next is the index of the next free frame, or noNextFrame.
	next int32

	// state is the usage status of the frame.
	state frameState
}

var (
	// ftLock guards the frame table and its free list. It nests inside the
	// page-table lock and never the other way around.
	ftLock sync.Spinlock

	// stealLock guards the bootstrap allocator used before the frame table
	// exists.
	stealLock sync.Spinlock

	// ft is the entry array overlaid on the top of RAM. While it is nil,
	// allocations fall through to ram.StealMem.
	ft []ftEntry

	// totalFrames is the number of physical frames, including reserved
	// ones.
	totalFrames int32

	// ftNextFree indexes the head of the free list.
	ftNextFree = noNextFrame

	// usableBot and usableTop bound the frame indexes that may ever appear
	// on the free list; everything outside is reserved.
	usableBot, usableTop int32

	// ErrOutOfMemory is returned when no physical frame can satisfy an
	// allocation, including multi-page requests which the frame table does
	// not support.
	ErrOutOfMemory = &kernel.Error{Module: "frame_table", Message: "out of memory"}
)

// setEntry validates and stores one frame-table record.
func setEntry(index, next, ref int32, state frameState) {
	if index < 0 || index >= totalFrames {
		kernel.Panic("frame_table: entry index out of range")
	}
	if ref < 0 || (next != noNextFrame && (next < 0 || next >= totalFrames)) {
		kernel.Panic("frame_table: bad entry contents")
	}

	ft[index] = ftEntry{ref: ref, next: next, state: state}
}

// Bootstrap carves the frame table and the hashed page table out of the top
// of RAM, marks the kernel image and both tables as reserved and threads the
// remaining frames into the free list. It returns the physical base and the
// entry count of the page-table region so the caller can overlay its own
// array there. hptEntrySize is the in-RAM size of one page-table entry.
func Bootstrap(hptEntrySize int) (mem.PhysAddr, int, *kernel.Error) {
	ftLock.Acquire()
	defer ftLock.Release()

	ramTop := ram.TotalSize()
	if ramTop == 0 {
		kernel.Panic("frame_table: ram has not been probed")
	}
	totalFrames = int32((ramTop + mem.PageSize - 1) / mem.PageSize)

	ftSize := mem.PhysAddr(totalFrames) * mem.PhysAddr(unsafe.Sizeof(ftEntry{}))
	ftBase := ramTop - ftSize

	hptEntries := int(totalFrames) * 2
	hptSize := mem.PhysAddr(hptEntries * hptEntrySize)
	hptBase := ftBase - hptSize

	window := ram.Bytes(ftBase, int(ftSize))
	ft = unsafe.Slice((*ftEntry)(unsafe.Pointer(&window[0])), totalFrames)

	// Frames covering the kernel image (plus anything the bootstrap
	// allocator already handed out) are reserved forever.
	kernelFrames := int32((ram.FirstFree() + mem.PageSize - 1) / mem.PageSize)
	for i := int32(0); i < kernelFrames; i++ {
		setEntry(i, noNextFrame, 1, frameReserved)
	}

	// So are the frames covering the two tables at the top of RAM,
	// starting with the frame the page table begins in.
	tableFrames := int32(pmm.FrameFromAddress(hptBase))
	for i := tableFrames; i < totalFrames; i++ {
		setEntry(i, noNextFrame, 1, frameReserved)
	}

	usableBot = kernelFrames
	usableTop = tableFrames - 1

	ftNextFree = noNextFrame
	for i := usableTop; i >= usableBot; i-- {
		setEntry(i, ftNextFree, 0, frameUnused)
		ftNextFree = i
	}

	kfmt.Printf("[frame_table] physical memory map:\n")
	kfmt.Printf("\t[0x%08x - 0x%08x] kernel image (reserved)\n", 0, uint32(kernelFrames)*mem.PageSize)
	kfmt.Printf("\t[0x%08x - 0x%08x] free frames\n", uint32(usableBot)*mem.PageSize, uint32(tableFrames)*mem.PageSize)
	kfmt.Printf("\t[0x%08x - 0x%08x] frame + page tables (reserved)\n", uint32(hptBase), uint32(ramTop))
	kfmt.Printf("[frame_table] %d frames total, %d usable\n", totalFrames, usableTop-usableBot+1)

	return hptBase, hptEntries, nil
}

// AllocKPages reserves npages contiguous kernel pages and returns the kernel
// virtual address of the first one. Once the frame table is up only single
// page allocations are supported; before that the request is satisfied by the
// bootstrap allocator, which never frees. Allocated frames are zero filled.
func AllocKPages(npages int) (mem.VirtAddr, *kernel.Error) {
	ftLock.Acquire()

	if ft == nil {
		stealLock.Acquire()
		pa := ram.StealMem(npages)
		stealLock.Release()
		ftLock.Release()

		if pa == 0 {
			return 0, ErrOutOfMemory
		}
		return mem.PhysToKernel(pa), nil
	}

	if npages != 1 || ftNextFree == noNextFrame {
		ftLock.Release()
		return 0, ErrOutOfMemory
	}

	index := ftNextFree
	if ft[index].state != frameUnused || ft[index].ref != 0 {
		kernel.Panic("frame_table: free list contains a non-free frame")
	}
	ftNextFree = ft[index].next

	setEntry(index, noNextFrame, 1, frameUsed)

	pa := pmm.Frame(index).Address()
	clear(ram.Bytes(pa, mem.PageSize))

	ftLock.Release()
	return mem.PhysToKernel(pa), nil
}

// AllocFrame reserves a single zero-filled frame and returns its kernel
// virtual address.
func AllocFrame() (mem.VirtAddr, *kernel.Error) {
	return AllocKPages(1)
}

// FreeFrame drops one reference to the frame backing the given kernel virtual
// address and returns the frame to the free list once the last reference is
// gone. Calls made before the frame table bootstraps are ignored; once it is
// up, freeing an address outside the allocatable region (such as one handed
// out by the bootstrap allocator) panics.
func FreeFrame(va mem.VirtAddr) {
	va &^= mem.PageOffsetMask

	ftLock.Acquire()
	if ft == nil || va == 0 {
		ftLock.Release()
		return
	}

	index := frameIndexFor(va)
	if ft[index].state != frameUsed || ft[index].ref < 1 {
		kernel.Panic("frame_table: freeing a frame that is not in use")
	}

	ft[index].ref--
	if ft[index].ref == 0 {
		setEntry(index, ftNextFree, 0, frameUnused)
		ftNextFree = index
	}
	ftLock.Release()
}

// FreeKPages releases kernel pages previously returned by AllocKPages.
func FreeKPages(va mem.VirtAddr) {
	FreeFrame(va)
}

// ShareFrame adds a reference to the frame backing the given kernel virtual
// address, e.g. when two address spaces map the same physical page.
func ShareFrame(va mem.VirtAddr) {
	ftLock.Acquire()
	if ft == nil || va == 0 {
		ftLock.Release()
		return
	}

	index := frameIndexFor(va)
	if ft[index].state != frameUsed || ft[index].ref < 1 {
		kernel.Panic("frame_table: sharing a frame that is not in use")
	}

	ft[index].ref++
	ftLock.Release()
}

// frameIndexFor converts a direct-mapped kernel virtual address into a frame
// table index, panicking on addresses no allocation could have returned.
func frameIndexFor(va mem.VirtAddr) int32 {
	index := int32(pmm.FrameFromAddress(mem.KernelToPhys(va)))
	if index < usableBot || index > usableTop {
		kernel.Panic("frame_table: address outside the allocatable region")
	}
	return index
}
