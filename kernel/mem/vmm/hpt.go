package vmm

import (
	"mikros/kernel"
	"mikros/kernel/mem"
	"mikros/kernel/mem/pmm/allocator"
	"mikros/kernel/sync"
)

// noNextSlot terminates a collision chain.
const noNextSlot int32 = -1

// hptEntry is one slot of the hashed page table. The table is inverted: a
// single kernel-wide array holds the translations of every address space,
// keyed by (asid, virtual page number). All fields are fixed width so the
// in-RAM layout of the array does not depend on the host's padding rules.
type hptEntry struct {
	// asid identifies the owning address space; zero marks a free slot.
	asid uint32

	// entryHi holds the page-aligned virtual page number.
	entryHi mem.VirtAddr

	// entryLo packs the physical frame number with the state and
	// permission bits.
	entryLo EntryLo

	// inuse flags slot occupancy.
	inuse uint32

	// next and prev link the collision chain this slot belongs to.
	next, prev int32
}

var (
	// hptLock guards the hashed page table and its chains. It is acquired
	// before the frame table lock, never after it.
	hptLock sync.Spinlock

	// hpt is the table, overlaid on RAM just below the frame table.
	hpt []hptEntry

	// hptLen is the table capacity: twice the number of physical frames.
	hptLen int
)

// hptHash returns the home slot of the given (asid, page) pair.
func hptHash(asid uint32, vpn mem.VirtAddr) int32 {
	return int32((asid ^ uint32(vpn>>mem.PageShift)) % uint32(hptLen))
}

// hptInsert claims a slot for (asid, entryHi) and splices it into the
// collision chain rooted at its home slot. It returns false when the table is
// full. The caller holds hptLock.
func hptInsert(asid uint32, entryHi mem.VirtAddr, entryLo EntryLo) bool {
	vpn := entryHi & mem.PageFrameMask
	home := hptHash(asid, vpn)

	// Linear probe for the nearest unused slot.
	slot := home
	for probed := 0; hpt[slot].inuse != 0; {
		if probed++; probed == hptLen {
			return false
		}
		if slot++; slot == int32(hptLen) {
			slot = 0
		}
	}

	entry := &hpt[slot]
	entry.asid = asid
	entry.entryHi = vpn
	entry.entryLo = entryLo
	entry.inuse = 1

	if slot == home {
		entry.next, entry.prev = noNextSlot, noNextSlot
		return true
	}

	// Splice the displaced entry in right behind its chain head so a walk
	// from the home slot still reaches everything downstream.
	oldNext := hpt[home].next
	hpt[home].next = slot
	entry.prev = home
	entry.next = oldNext
	if oldNext != noNextSlot {
		hpt[oldNext].prev = slot
	}
	return true
}

// hptLookup walks the chain rooted at the home slot of (asid, vpn) and
// returns the index of the matching entry, or -1 on a miss. The caller holds
// hptLock.
func hptLookup(asid uint32, vpn mem.VirtAddr) int32 {
	for i := hptHash(asid, vpn); i != noNextSlot && hpt[i].inuse != 0; i = hpt[i].next {
		if hpt[i].asid == asid && hpt[i].entryHi == vpn {
			return i
		}
	}
	return -1
}

// hptClearSlot removes the entry at slot i while keeping every entry
// downstream of it reachable from its hash home: when the slot has a chain
// successor, the successor's payload is pulled into i and its old slot is
// wiped. The return value reports whether such a relocation happened, in
// which case the slot now holds a live entry that scans must re-examine. The
// caller holds hptLock.
func hptClearSlot(i int32) bool {
	if n := hpt[i].next; n != noNextSlot {
		if hpt[n].inuse == 0 {
			kernel.Panic("vmm: page table chain links a free slot")
		}
		hpt[i].asid = hpt[n].asid
		hpt[i].entryHi = hpt[n].entryHi
		hpt[i].entryLo = hpt[n].entryLo
		hpt[i].next = hpt[n].next
		if nn := hpt[n].next; nn != noNextSlot {
			hpt[nn].prev = i
		}
		hpt[n] = hptEntry{next: noNextSlot, prev: noNextSlot}
		return true
	}

	if p := hpt[i].prev; p != noNextSlot {
		hpt[p].next = noNextSlot
	}
	hpt[i] = hptEntry{next: noNextSlot, prev: noNextSlot}
	return false
}

// hptRemoveAllFor tears down every entry owned by asid, releasing the backing
// frames. The caller holds hptLock; the frame table lock nests inside.
func hptRemoveAllFor(asid uint32) {
	for i := int32(0); i < int32(hptLen); {
		if hpt[i].inuse == 0 || hpt[i].asid != asid {
			i++
			continue
		}

		if pa := hpt[i].entryLo.FrameAddr(); pa != 0 {
			allocator.FreeFrame(mem.PhysToKernel(pa))
		}
		if !hptClearSlot(i) {
			i++
		}
	}
}

// hptAttachFrame lazily allocates a backing frame for the entry at the given
// slot. Entries that already have a frame are left alone. The caller holds
// hptLock.
func hptAttachFrame(i int32) *kernel.Error {
	if hpt[i].entryLo.FrameAddr() != 0 {
		return nil
	}

	va, err := allocator.AllocFrame()
	if err != nil {
		return ErrOutOfMemory
	}

	hpt[i].entryLo.SetFrame(mem.KernelToPhys(va))
	return nil
}
