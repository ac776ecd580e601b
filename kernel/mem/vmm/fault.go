package vmm

import (
	"mikros/kernel"
	"mikros/kernel/irq"
	"mikros/kernel/mem"
)

// FaultType describes the access kind reported by the trap handler.
type FaultType int

// The fault kinds raised by the CPU.
const (
	// FaultRead is a read from an unmapped page.
	FaultRead FaultType = iota

	// FaultWrite is a write to an unmapped page.
	FaultWrite

	// FaultReadOnly is a write to a page whose TLB entry is not marked
	// dirty.
	FaultReadOnly
)

// Fault services a TLB refill or protection fault at faultAddr. It looks the
// address up in the shared page table, lazily attaches a physical frame to
// the translation if it has none yet, and installs the entry in a
// hardware-chosen TLB slot. Errors surface to the trap handler, which turns
// them into a signal for the faulting process.
func Fault(fault FaultType, faultAddr mem.VirtAddr) *kernel.Error {
	as := activeAddrSpaceFn()
	if as == nil {
		return ErrBadAddress
	}

	// A not-dirty fault means a write to a page this core never grants
	// write access to through the TLB; there is no copy-on-write path to
	// take.
	if fault == FaultReadOnly {
		return ErrReadOnlyFault
	}

	if faultAddr >= mem.KSeg0 {
		return ErrBadAddress
	}

	vpn := faultAddr & mem.PageFrameMask

	hptLock.Acquire()
	if hpt == nil {
		hptLock.Release()
		return ErrBadAddress
	}

	index := hptLookup(as.id, vpn)
	if index == -1 {
		hptLock.Release()
		return ErrBadAddress
	}

	lo := hpt[index].entryLo
	if (fault == FaultRead && !lo.HasFlags(EntryLoRead)) ||
		(fault == FaultWrite && !lo.HasAnyFlag(EntryLoWrite|EntryLoSoftWrite)) {
		hptLock.Release()
		return ErrBadAddress
	}

	if lo.FrameAddr() == 0 {
		if err := hptAttachFrame(index); err != nil {
			hptLock.Release()
			return err
		}
	}

	// Strip the software bits before the entry reaches the hardware; write
	// faults install the entry with the write-enable bit set.
	lo = hpt[index].entryLo &^ EntryLoStateMask
	if fault == FaultWrite {
		lo |= EntryLoDirty
	}
	hptLock.Release()

	spl := irq.SplHigh()
	tlbRandomFn(uint32(vpn), uint32(lo))
	irq.Splx(spl)

	return nil
}
