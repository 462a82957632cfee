package pmm

import (
	"testing"
	"unsafe"

	"github.com/rv64boot/kernel/kernel/errors"
	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/bump"
)

// newNodePool stocks a bump pool with enough slots for count tree nodes,
// backed by ordinary Go memory.
func newNodePool(t *testing.T, count int) *bump.Pool {
	t.Helper()

	size := NodeSize() * uintptr(count)
	buf := make([]byte, size)
	t.Cleanup(func() { _ = buf })

	p := bump.New(NodeSize())
	p.ExpandFromFrame(uintptr(unsafe.Pointer(&buf[0])), size)
	return p
}

func TestManagerGetRelease(t *testing.T) {
	var m Manager
	const count = 16
	base := uintptr(0x8000_0000)
	if err := m.Init(base, count, newNodePool(t, count)); err != nil {
		t.Fatalf("unexpected error from Init: %v", err)
	}

	if got := m.FreeCount(); got != count {
		t.Fatalf("expected %d free frames; got %d", count, got)
	}
	if got := m.UsedCount(); got != 0 {
		t.Fatalf("expected 0 used frames; got %d", got)
	}

	var got []Frame
	for i := 0; i < count; i++ {
		f, err := m.GetFrame()
		if err != nil {
			t.Fatalf("unexpected error from GetFrame: %v", err)
		}
		got = append(got, f)
	}

	if _, err := m.GetFrame(); err != errors.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory once exhausted; got %v", err)
	}

	if got := m.UsedCount(); got != count {
		t.Fatalf("expected %d used frames; got %d", count, got)
	}

	// frames should come out in ascending address order since GetFrame
	// always removes the tree minimum.
	for i, f := range got {
		exp := Frame(base + uintptr(i)*uintptr(mem.PageSize))
		if f != exp {
			t.Errorf("[frame %d] expected %#x; got %#x", i, exp, f)
		}
	}

	if err := m.ReleaseFrame(got[3]); err != nil {
		t.Fatalf("unexpected error releasing frame: %v", err)
	}

	if got := m.FreeCount(); got != 1 {
		t.Fatalf("expected 1 free frame after release; got %d", got)
	}

	reAcquired, err := m.GetFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reAcquired != got[3] {
		t.Fatalf("expected reacquired frame to equal released frame %#x; got %#x", got[3], reAcquired)
	}
}

func TestManagerReleaseUnknownFrame(t *testing.T) {
	var m Manager
	if err := m.Init(0x8000_0000, 4, newNodePool(t, 4)); err != nil {
		t.Fatalf("unexpected error from Init: %v", err)
	}

	if err := m.ReleaseFrame(Frame(0x9000_0000)); err != errors.ErrCorruptedDataStructure {
		t.Fatalf("expected ErrCorruptedDataStructure for out-of-range frame; got %v", err)
	}

	f, err := m.GetFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.ReleaseFrame(f); err != nil {
		t.Fatalf("unexpected error releasing owned frame: %v", err)
	}

	if err := m.ReleaseFrame(f); err != nil {
		t.Fatalf("expected silent success releasing an already-free frame (idempotent); got %v", err)
	}
}

func TestManagerInitUnderfilledPool(t *testing.T) {
	var m Manager
	if err := m.Init(0x8000_0000, 8, newNodePool(t, 4)); err != errors.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory from an underfilled node pool; got %v", err)
	}
}

func TestManagerTreePartition(t *testing.T) {
	var m Manager
	const count = 64
	if err := m.Init(0x8000_0000, count, newNodePool(t, count)); err != nil {
		t.Fatalf("unexpected error from Init: %v", err)
	}

	// Alternate gets and releases, checking the free/used partition at
	// every step: the two trees together must hold every frame exactly
	// once.
	var held []Frame
	for i := 0; i < count; i++ {
		f, err := m.GetFrame()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		held = append(held, f)

		if i%3 == 0 {
			if err := m.ReleaseFrame(held[len(held)/2]); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		if free, used := m.FreeCount(), m.UsedCount(); free+used != count {
			t.Fatalf("partition violated after step %d: free=%d used=%d", i, free, used)
		}
	}
}
