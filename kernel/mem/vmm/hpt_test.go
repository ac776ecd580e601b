package vmm

import (
	"testing"

	"mikros/kernel/mem"
)

func TestHPTInsertLookup(t *testing.T) {
	bootVM(t, 4*mem.Mb, 0x20000)

	if !hptInsert(7, 0x00400000, EntryLoValid|EntryLoRead) {
		t.Fatal("expected insert to succeed on an empty table")
	}

	index := hptLookup(7, 0x00400000)
	if index == -1 {
		t.Fatal("expected lookup to find the inserted entry")
	}

	if hpt[index].entryLo != EntryLoValid|EntryLoRead {
		t.Fatalf("unexpected entrylo 0x%x", hpt[index].entryLo)
	}

	// Same page under a different identity is a different entry.
	if got := hptLookup(8, 0x00400000); got != -1 {
		t.Fatalf("expected a lookup under another identity to miss; got slot %d", got)
	}
}

func TestHPTCollisionChains(t *testing.T) {
	bootVM(t, 4*mem.Mb, 0x20000)

	// All three pairs hash to home slot 2 in a 2048 entry table.
	pairs := []struct {
		asid uint32
		vpn  mem.VirtAddr
	}{
		{7, 0x00005000},
		{9, 0x0000B000},
		{6, 0x00004000},
	}

	home := hptHash(pairs[0].asid, pairs[0].vpn)
	for _, p := range pairs {
		if got := hptHash(p.asid, p.vpn); got != home {
			t.Fatalf("test pairs must collide: hash(%d, 0x%x) = %d, want %d", p.asid, p.vpn, got, home)
		}
		if !hptInsert(p.asid, p.vpn, EntryLoValid|EntryLoRead) {
			t.Fatalf("expected insert of (%d, 0x%x) to succeed", p.asid, p.vpn)
		}
	}

	for _, p := range pairs {
		index := hptLookup(p.asid, p.vpn)
		if index == -1 {
			t.Fatalf("expected lookup of (%d, 0x%x) to chase the chain", p.asid, p.vpn)
		}
		if hpt[index].asid != p.asid || hpt[index].entryHi != p.vpn {
			t.Fatalf("lookup of (%d, 0x%x) landed on the wrong entry: %+v", p.asid, p.vpn, hpt[index])
		}
	}

	// The chain is rooted at the home slot and stays acyclic.
	seen := map[int32]bool{}
	chainLen := 0
	for i := home; i != noNextSlot; i = hpt[i].next {
		if seen[i] {
			t.Fatal("collision chain contains a cycle")
		}
		seen[i] = true
		chainLen++
	}
	if chainLen != len(pairs) {
		t.Fatalf("expected a %d entry chain; got %d", len(pairs), chainLen)
	}
}

func TestHPTRemoveAllKeepsOtherChainsReachable(t *testing.T) {
	bootVM(t, 4*mem.Mb, 0x20000)

	// The entry of identity 7 claims the shared home slot; the first entry
	// of identity 9 gets displaced behind it, the second hashes elsewhere.
	if !hptInsert(7, 0x00005000, EntryLoValid|EntryLoRead) {
		t.Fatal("insert failed")
	}
	if !hptInsert(9, 0x0000B000, EntryLoValid|EntryLoRead) {
		t.Fatal("insert failed")
	}
	if !hptInsert(9, 0x00010000, EntryLoValid|EntryLoWrite) {
		t.Fatal("insert failed")
	}

	hptRemoveAllFor(7)

	if got := hptLookup(7, 0x00005000); got != -1 {
		t.Fatalf("expected the removed identity to be gone; found slot %d", got)
	}

	// The displaced entry must still be reachable from its home slot even
	// though the slot its chain was rooted in has been vacated.
	index := hptLookup(9, 0x0000B000)
	if index == -1 {
		t.Fatal("expected the surviving identity to remain reachable")
	}
	if hpt[index].entryLo != EntryLoValid|EntryLoRead {
		t.Fatalf("relocation corrupted the surviving entry: %+v", hpt[index])
	}

	if got := hptLookup(9, 0x00010000); got == -1 {
		t.Fatal("expected the unrelated entry to survive")
	}

	if got := entryCountFor(9); got != 2 {
		t.Fatalf("expected identity 9 to keep 2 entries; got %d", got)
	}
}

func TestHPTRemoveAllTearsDownInterleavedEntries(t *testing.T) {
	bootVM(t, 4*mem.Mb, 0x20000)

	// Interleave two identities across a shared chain, then tear one down.
	for page := mem.VirtAddr(0); page < 8; page++ {
		vpn := 0x00400000 + page<<mem.PageShift
		if !hptInsert(11, vpn, EntryLoValid|EntryLoRead) {
			t.Fatal("insert failed")
		}
		if !hptInsert(12, vpn, EntryLoValid|EntryLoRead) {
			t.Fatal("insert failed")
		}
	}

	hptRemoveAllFor(11)

	if got := entryCountFor(11); got != 0 {
		t.Fatalf("expected no entries left for the removed identity; got %d", got)
	}

	for page := mem.VirtAddr(0); page < 8; page++ {
		vpn := 0x00400000 + page<<mem.PageShift
		if hptLookup(12, vpn) == -1 {
			t.Fatalf("expected (12, 0x%x) to survive the teardown", vpn)
		}
	}

	// Vacated slots must be fully reset.
	for i := range hpt {
		if hpt[i].inuse == 0 && (hpt[i].next != noNextSlot || hpt[i].prev != noNextSlot) {
			t.Fatalf("free slot %d is still linked into a chain: %+v", i, hpt[i])
		}
	}
}

func TestHPTAttachFrame(t *testing.T) {
	bootVM(t, 4*mem.Mb, 0x20000)

	if !hptInsert(5, 0x00400000, EntryLoValid|EntryLoRead|EntryLoWrite) {
		t.Fatal("insert failed")
	}
	index := hptLookup(5, 0x00400000)

	if err := hptAttachFrame(index); err != nil {
		t.Fatal(err)
	}

	pa := hpt[index].entryLo.FrameAddr()
	if pa == 0 {
		t.Fatal("expected the entry to gain a backing frame")
	}

	// Attaching again must keep the existing frame.
	if err := hptAttachFrame(index); err != nil {
		t.Fatal(err)
	}
	if got := hpt[index].entryLo.FrameAddr(); got != pa {
		t.Fatalf("expected the frame to stay at 0x%x; got 0x%x", pa, got)
	}
}
