// Package heap implements the general-purpose kernel allocator: a list of
// major blocks (contiguous mapped frame runs) each carved into minor blocks
// that individual Malloc calls own. It sits on top of the frame manager and
// the virtual memory map, which supply and back the major blocks.
package heap

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel"
	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/pmm"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
	"github.com/rv64boot/kernel/kernel/mem/vmm"
)

const (
	// minAlign is the alignment every returned payload honors, matching
	// max_align_t on riscv64.
	minAlign = 16

	// initPages is the minimum number of pages a new major block spans.
	initPages = 16

	// magicUsed/magicFree are the minor-header sentinels. A header whose
	// magic matches neither has been overwritten and Free refuses to
	// operate on it.
	magicUsed = 0xbeef_a110
	magicFree = 0xbeef_f4ee
)

var errHeapCorrupted = &kernel.Error{Module: "heap", Message: "minor block sentinel mismatch"}
var errHeapExhausted = &kernel.Error{Module: "heap", Message: "cannot grow kernel heap"}

// major heads one contiguous run of mapped frames. Majors form a singly
// linked list ordered by address; the payload after the header is divided
// into minors.
type major struct {
	next  *major
	first *minor
	free  uintptr // total free payload bytes in this major
	pages uintptr // mapped frames backing this major
}

// minor heads one sub-range of a major. It is either entirely free or
// entirely owned by a single Malloc caller.
type minor struct {
	block *major
	next  *minor
	size  uintptr // total bytes including this header
	magic uintptr
}

var (
	majorHdr = (unsafe.Sizeof(major{}) + minAlign - 1) &^ (minAlign - 1)
	minorHdr = (unsafe.Sizeof(minor{}) + minAlign - 1) &^ (minAlign - 1)
)

// RegionAllocFn maps pages fresh frames at [vaddr, vaddr+pages*4KiB).
type RegionAllocFn func(vaddr, pages uintptr) error

// RegionReleaseFn tears down a region established by a RegionAllocFn call.
type RegionReleaseFn func(vaddr, pages uintptr)

// Heap is the allocator state. The zero value is not usable; construct with
// New or NewKernel.
type Heap struct {
	root *major // first major; pinned for the heap's lifetime
	best *major // major with the most free space seen recently

	cursor uintptr // virtual address of the first major; read only while no major exists

	allocRegion   RegionAllocFn
	releaseRegion RegionReleaseFn
	panicFn       func(interface{})
}

// New creates a heap whose majors are placed from base upward, backed by
// the supplied region callbacks.
func New(base uintptr, alloc RegionAllocFn, release RegionReleaseFn) *Heap {
	return &Heap{cursor: base, allocRegion: alloc, releaseRegion: release, panicFn: kernel.Panic}
}

// NewKernel creates a heap wired to the kernel singletons: frames come from
// the frame manager and are mapped read-write into vm page by page.
func NewKernel(vm *vmm.VMMap, frames *pmm.Manager, base uintptr) *Heap {
	const pg = uintptr(mem.PageSize)
	flags := rvpte.FlagRead | rvpte.FlagWrite | rvpte.FlagAccessed | rvpte.FlagDirty

	alloc := func(vaddr, pages uintptr) error {
		for i := uintptr(0); i < pages; i++ {
			frame, err := frames.GetFrame()
			if err != nil {
				return err
			}
			if _, err = vm.Map(frame.Address(), vaddr+i*pg, rvpte.LevelKB, flags); err != nil {
				return err
			}
		}
		return nil
	}
	release := func(vaddr, pages uintptr) {
		for i := uintptr(0); i < pages; i++ {
			if desc, err := vm.Lookup(vaddr + i*pg); err == nil {
				frames.ReleaseFrame(pmm.Frame(desc.PAddr))
			}
			vm.Unmap(vaddr + i*pg)
		}
	}

	return New(base, alloc, release)
}

func (m *major) base() uintptr {
	return uintptr(unsafe.Pointer(m))
}

func (m *major) end() uintptr {
	return m.base() + m.pages*uintptr(mem.PageSize)
}

func (mn *minor) payload() uintptr {
	return mn.size - minorHdr
}

func (mn *minor) base() uintptr {
	return uintptr(unsafe.Pointer(mn))
}

// grow maps a new major large enough for a request of n payload bytes and
// splices it into the address-ordered list. Growth failure is fatal:
// nothing in the kernel can make progress without its heap.
func (h *Heap) grow(n uintptr) *major {
	const pg = uintptr(mem.PageSize)

	pages := (n+majorHdr+minorHdr)/pg + 1
	if pages < initPages {
		pages = initPages
	}

	vaddr, prev := h.placeAfter(pages)
	if err := h.allocRegion(vaddr, pages); err != nil {
		h.panicFn(errHeapExhausted)
		return nil
	}

	maj := (*major)(unsafe.Pointer(vaddr))
	maj.pages = pages
	maj.first = (*minor)(unsafe.Pointer(vaddr + majorHdr))
	maj.first.block = maj
	maj.first.next = nil
	maj.first.size = pages*pg - majorHdr
	maj.first.magic = magicFree
	maj.free = maj.first.payload()

	if prev == nil {
		maj.next = h.root
		h.root = maj
	} else {
		maj.next = prev.next
		prev.next = maj
	}

	h.best = maj
	return maj
}

// placeAfter returns the virtual address for a new major of the given page
// count: the first gap between adjacent majors that can hold it, or else the
// address right after the last major. With no major yet it is the heap base.
func (h *Heap) placeAfter(pages uintptr) (uintptr, *major) {
	const pg = uintptr(mem.PageSize)
	need := pages * pg

	if h.root == nil {
		return h.cursor, nil
	}

	for m := h.root; ; m = m.next {
		if m.next == nil {
			if m.end()+need > h.cursor {
				h.cursor = m.end() + need
			}
			return m.end(), m
		}
		if m.next.base()-m.end() >= need {
			return m.end(), m
		}
	}
}

// Malloc returns a pointer to n bytes of payload aligned to minAlign, or
// panics if the heap cannot be grown to satisfy the request.
func (h *Heap) Malloc(n uintptr) unsafe.Pointer {
	if n == 0 {
		return nil
	}
	n = (n + minAlign - 1) &^ (minAlign - 1)

	if h.best != nil {
		if p := h.allocFrom(h.best, n); p != nil {
			return p
		}
	}
	for m := h.root; m != nil; m = m.next {
		if m == h.best {
			continue
		}
		if p := h.allocFrom(m, n); p != nil {
			return p
		}
	}

	maj := h.grow(n)
	if maj == nil {
		return nil
	}
	return h.allocFrom(maj, n)
}

// allocFrom carves n payload bytes out of the smallest free minor in maj
// that can hold them, splitting the minor when the tail is worth keeping.
func (h *Heap) allocFrom(maj *major, n uintptr) unsafe.Pointer {
	if maj.free < n {
		return nil
	}

	var fit *minor
	for mn := maj.first; mn != nil; mn = mn.next {
		if mn.magic != magicFree || mn.payload() < n {
			continue
		}
		if fit == nil || mn.size < fit.size {
			fit = mn
		}
	}
	if fit == nil {
		return nil
	}

	if tail := fit.size - (minorHdr + n); tail > minorHdr+unsafe.Sizeof(uintptr(0)) {
		split := (*minor)(unsafe.Pointer(fit.base() + minorHdr + n))
		split.block = maj
		split.next = fit.next
		split.size = tail
		split.magic = magicFree

		fit.next = split
		fit.size = minorHdr + n
		maj.free -= n + minorHdr
	} else {
		maj.free -= fit.payload()
	}

	fit.magic = magicUsed
	return unsafe.Pointer(fit.base() + minorHdr)
}

// Free returns the block at p to its major, coalescing adjacent free
// minors. Freeing the last allocated minor of a non-pinned major releases
// the whole major back to the frame manager.
func (h *Heap) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	mn := (*minor)(unsafe.Pointer(uintptr(p) - minorHdr))
	if mn.magic != magicUsed {
		h.panicFn(errHeapCorrupted)
		return
	}

	maj := mn.block
	mn.magic = magicFree
	maj.free += mn.payload()

	// Merge every run of adjacent free minors; the freed block may join a
	// free predecessor, a free successor or both.
	for cur := maj.first; cur != nil; cur = cur.next {
		for cur.magic == magicFree && cur.next != nil &&
			cur.next.magic == magicFree && cur.base()+cur.size == cur.next.base() {
			cur.size += cur.next.size
			maj.free += minorHdr
			cur.next = cur.next.next
		}
	}

	if maj != h.root && maj.first.next == nil && maj.first.magic == magicFree {
		h.unlink(maj)
		if h.best == maj {
			h.best = h.root
		}
		h.releaseRegion(maj.base(), maj.pages)
		return
	}

	if h.best == nil || maj.free > h.best.free {
		h.best = maj
	}
}

func (h *Heap) unlink(maj *major) {
	if h.root == maj {
		h.root = maj.next
		return
	}
	for m := h.root; m.next != nil; m = m.next {
		if m.next == maj {
			m.next = maj.next
			return
		}
	}
}
