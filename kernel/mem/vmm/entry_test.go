package vmm

import (
	"testing"

	"mikros/kernel/mem"
)

func TestEntryLoFlagChecks(t *testing.T) {
	lo := EntryLoValid | EntryLoGlobal | EntryLoRead

	if !lo.HasFlags(EntryLoValid | EntryLoRead) {
		t.Error("expected HasFlags to report both set flags")
	}

	if lo.HasFlags(EntryLoValid | EntryLoWrite) {
		t.Error("expected HasFlags to require every input flag")
	}

	if !lo.HasAnyFlag(EntryLoWrite | EntryLoRead) {
		t.Error("expected HasAnyFlag to report the read bit")
	}

	if lo.HasAnyFlag(EntryLoWrite | EntryLoSoftWrite) {
		t.Error("expected HasAnyFlag to miss when no input flag is set")
	}
}

func TestEntryLoFrameField(t *testing.T) {
	lo := EntryLoValid | EntryLoGlobal | EntryLoRead | EntryLoDirty

	if got := lo.FrameAddr(); got != 0 {
		t.Fatalf("expected a fresh entry to have no frame; got 0x%x", got)
	}

	lo.SetFrame(0x00123456)

	// The low 12 bits of the address do not belong to the frame field.
	if exp, got := mem.PhysAddr(0x00123000), lo.FrameAddr(); got != exp {
		t.Fatalf("expected frame address 0x%x; got 0x%x", exp, got)
	}

	if !lo.HasFlags(EntryLoValid | EntryLoGlobal | EntryLoRead | EntryLoDirty) {
		t.Fatal("expected SetFrame to preserve the flag bits")
	}
}

func TestPermToEntryLoBits(t *testing.T) {
	specs := []struct {
		perm Perm
		exp  EntryLo
	}{
		{PermRead, EntryLoRead},
		{PermWrite, EntryLoWrite},
		{PermExecute, EntryLoExecute},
		{PermRead | PermWrite | PermExecute, EntryLoRead | EntryLoWrite | EntryLoExecute},
	}

	for _, spec := range specs {
		if got := spec.perm.entryLoBits(); got != spec.exp {
			t.Errorf("expected perm %03b to map to entrylo bits 0x%x; got 0x%x", spec.perm, spec.exp, got)
		}
	}
}
