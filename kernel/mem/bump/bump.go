// Package bump implements a fixed-stride free-list allocator carved out of
// a single physical frame. It backs the small fixed-size allocations the
// kernel needs before a general-purpose heap exists, such as the
// red-black tree nodes used by mem/pmm.
package bump

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/errors"
)

// Pool hands out fixed-size slots carved out of one or more expansion
// frames. Each free slot stores the address of the next free slot in its
// first machine word, so the pool itself needs no separate bookkeeping
// allocation.
type Pool struct {
	slotSize  uintptr
	head      unsafe.Pointer
	available uintptr
}

// New creates a pool whose slots are slotSize bytes each. slotSize must be
// at least the size of a pointer.
func New(slotSize uintptr) *Pool {
	return &Pool{slotSize: slotSize}
}

// ExpandFromFrame adds frameSize/slotSize new slots to the pool, carved out
// of the frame starting at frameAddr. Slots are linked so that the first
// Get() calls after an expansion return slots in ascending address order.
func (p *Pool) ExpandFromFrame(frameAddr uintptr, frameSize uintptr) {
	count := frameSize / p.slotSize

	for i := count; i > 0; i-- {
		slot := unsafe.Pointer(frameAddr + (i-1)*p.slotSize)
		*(*unsafe.Pointer)(slot) = p.head
		p.head = slot
	}

	p.available += count
}

// Get removes and returns a slot from the pool. It returns
// ErrOutOfMemory if the pool has no free slots.
func (p *Pool) Get() (unsafe.Pointer, error) {
	if p.head == nil {
		return nil, errors.ErrOutOfMemory
	}

	slot := p.head
	p.head = *(*unsafe.Pointer)(slot)
	p.available--

	return slot, nil
}

// Release returns ptr to the pool. ptr must have been obtained from Get on
// this pool; callers are responsible for not using ptr after calling
// Release.
func (p *Pool) Release(ptr unsafe.Pointer) {
	*(*unsafe.Pointer)(ptr) = p.head
	p.head = ptr
	p.available++
}

// Available returns the number of slots currently free.
func (p *Pool) Available() uintptr {
	return p.available
}
