package rvpte

import "testing"

func TestPTEFlags(t *testing.T) {
	var pte PTE

	if pte.IsValid() {
		t.Fatal("expected zero-value PTE to be invalid")
	}

	pte = MakeLeaf(0x1000, FlagRead|FlagWrite)

	if !pte.IsValid() {
		t.Fatal("expected leaf PTE to be valid")
	}

	if !pte.IsLeaf() {
		t.Fatal("expected PTE with R|W set to be a leaf")
	}

	if !pte.HasFlags(FlagRead | FlagWrite) {
		t.Fatal("expected HasFlags(R|W) to return true")
	}

	if pte.HasFlags(FlagExec) {
		t.Fatal("expected HasFlags(X) to return false")
	}
}

func TestPTEMakeLeafRejectsWriteWithoutRead(t *testing.T) {
	pte := MakeLeaf(0x4000, FlagWrite)

	if !pte.HasFlags(FlagRead | FlagWrite) {
		t.Fatal("expected MakeLeaf to force FlagRead on when FlagWrite is requested alone")
	}
}

func TestPTETablePointer(t *testing.T) {
	pte := MakeTable(0x2000)

	if !pte.IsValid() {
		t.Fatal("expected table PTE to be valid")
	}

	if pte.IsLeaf() {
		t.Fatal("expected table PTE (R=W=X=0) not to be a leaf")
	}

	if !pte.IsTablePointer() {
		t.Fatal("expected table PTE to report IsTablePointer")
	}

	if got, exp := pte.PhysAddr(), uintptr(0x2000); got != exp {
		t.Fatalf("expected table phys addr %#x; got %#x", exp, got)
	}
}

func TestPTEPhysAddrRoundTrip(t *testing.T) {
	specs := []uintptr{0, 0x1000, 0x8000_0000, 0x10_0000_0000}

	for _, physAddr := range specs {
		pte := MakeLeaf(physAddr, FlagRead)
		if got := pte.PhysAddr(); got != physAddr {
			t.Errorf("expected phys addr %#x; got %#x", physAddr, got)
		}
	}
}

func TestPTEEraseAccessedDirty(t *testing.T) {
	pte := MakeLeaf(0x3000, FlagRead|FlagWrite)
	pte.SetAccessed()
	pte.SetDirty()

	if !pte.HasFlags(FlagAccessed | FlagDirty) {
		t.Fatal("expected A and D bits to be set")
	}

	pte.Erase()
	if pte.IsValid() {
		t.Fatal("expected erased PTE to be invalid")
	}
}
