package vmm

import (
	"testing"
	"unsafe"

	"github.com/rv64boot/kernel/kernel/mem/rvpte"
)

func TestMapTableIndexAndAddress(t *testing.T) {
	flushed := 0
	defer func(orig func()) { flushTLBAllFn = orig }(flushTLBAllFn)
	flushTLBAllFn = func() { flushed++ }

	var scratch rvpte.Table
	scratchPtr := uintptr(unsafe.Pointer(&scratch))

	// Fake the self-map: point scratchSelfVirt's backing memory at our
	// locally allocated table instead of the real hardware self-reference.
	defer patchScratchSelfForTest(&scratch)()

	const cpuID = 0
	got := MapTable(cpuID, 0x8000_0000)

	wantIdx := rvpte.EntriesPerTable() - cpuID - 2
	if pte := scratch[wantIdx]; pte.PhysAddr() != 0x8000_0000 {
		t.Fatalf("expected slot %d to point at 0x80000000; got %#x", wantIdx, pte.PhysAddr())
	}
	if !scratch[wantIdx].HasFlags(rvpte.FlagRead | rvpte.FlagWrite) {
		t.Fatal("expected scratch leaf to carry R|W")
	}

	wantVirt := scratchSelfVirt - (uintptr(cpuID)+2)*4096
	if got != wantVirt {
		t.Fatalf("expected virt addr %#x; got %#x", wantVirt, got)
	}
	if flushed != 1 {
		t.Fatalf("expected exactly one TLB flush; got %d", flushed)
	}
	_ = scratchPtr
}

func TestMapTableReservesDistinctSlotsPerCPU(t *testing.T) {
	defer func(orig func()) { flushTLBAllFn = orig }(flushTLBAllFn)
	flushTLBAllFn = func() {}

	var scratch rvpte.Table
	defer patchScratchSelfForTest(&scratch)()

	v0 := MapTable(0, 0x1000)
	v1 := MapTable(1, 0x2000)

	if v0 == v1 {
		t.Fatal("expected distinct CPUs to receive distinct scratch windows")
	}
	if scratch[rvpte.EntriesPerTable()-2].PhysAddr() != 0x1000 {
		t.Fatal("expected cpu 0 in slot N-2")
	}
	if scratch[rvpte.EntriesPerTable()-3].PhysAddr() != 0x2000 {
		t.Fatal("expected cpu 1 in slot N-3")
	}
}
