package vmm

import (
	"mikros/kernel/cpu"
	"mikros/kernel/irq"
	"mikros/kernel/mem"
)

// tlbLoInvalid is the entrylo word written into flushed slots: no frame, not
// valid, not dirty.
const tlbLoInvalid uint32 = 0

var (
	// The following functions wrap the machine TLB primitives and are
	// mocked by tests.
	tlbWriteFn  = cpu.TLBWrite
	tlbRandomFn = cpu.TLBRandom
)

// tlbHiInvalid builds a per-slot entryhi that can never match a user address:
// the invalidation addresses live in the kernel segment, which the TLB is
// never consulted for.
func tlbHiInvalid(slot int) uint32 {
	return uint32(mem.KSeg0) + uint32(slot)<<mem.PageShift
}

// tlbFlush invalidates the entire TLB. The machine has no hardware ASID
// support, so this runs on every context switch and whenever permissions
// tighten. The writes happen at raised interrupt priority so the refill
// handler cannot observe a half-flushed TLB.
func tlbFlush() {
	spl := irq.SplHigh()
	for slot := 0; slot < cpu.NumTLB; slot++ {
		tlbWriteFn(tlbHiInvalid(slot), tlbLoInvalid, slot)
	}
	irq.Splx(spl)
}
