package bump

import (
	"testing"
	"unsafe"

	"github.com/rv64boot/kernel/kernel/errors"
)

func TestPoolAscendingPopOrder(t *testing.T) {
	const slotSize = 16
	var frame [slotSize * 8]byte
	frameAddr := uintptr(unsafe.Pointer(&frame[0]))

	p := New(slotSize)
	p.ExpandFromFrame(frameAddr, uintptr(len(frame)))

	if got, exp := p.Available(), uintptr(8); got != exp {
		t.Fatalf("expected %d available slots; got %d", exp, got)
	}

	var got []uintptr
	for i := 0; i < 8; i++ {
		slot, err := p.Get()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, uintptr(slot))
	}

	for i, addr := range got {
		exp := frameAddr + uintptr(i)*slotSize
		if addr != exp {
			t.Errorf("[slot %d] expected address %#x; got %#x", i, exp, addr)
		}
	}

	if _, err := p.Get(); err != errors.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
}

func TestPoolReleaseReuse(t *testing.T) {
	const slotSize = 16
	var frame [slotSize * 2]byte
	frameAddr := uintptr(unsafe.Pointer(&frame[0]))

	p := New(slotSize)
	p.ExpandFromFrame(frameAddr, uintptr(len(frame)))

	first, err := p.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.Release(first)
	if got, exp := p.Available(), uintptr(2); got != exp {
		t.Fatalf("expected %d available slots after release; got %d", exp, got)
	}

	reacquired, err := p.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reacquired != first {
		t.Fatalf("expected released slot to be reacquired first; got %p want %p", reacquired, first)
	}
}
