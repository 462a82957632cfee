// Package boot builds the first kernel page table while address translation
// is still disabled. Everything in this package runs at physical addresses:
// table pointers are dereferenced directly, frames come from a small
// statically reserved pool, and every failure is fatal because there is no
// kernel to return an error to yet.
package boot

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/sbi"
)

const (
	// BootPages is the number of 4KiB frames statically reserved for boot
	// page tables. Raise it at build time if the kernel image or argument
	// set outgrows the default.
	BootPages = 64

	// ArgPages is the number of 4KiB frames statically reserved for the
	// relocated argument buffer.
	ArgPages = 2
)

const (
	needPagesMsg = "Not enough pages. Please, compile kernel with higher BootPages option."
	needArgsMsg  = "Not enough pages for arguments. Please, compile kernel with higher ArgPages option."
)

// The pool and argument regions are reserved one page larger than needed so
// a 4KiB-aligned window can be carved out of them; Go offers no alignment
// control over package-level arrays.
var (
	bootFrames [(BootPages + 1) * int(mem.PageSize)]byte
	argFrames  [(ArgPages + 1) * int(mem.PageSize)]byte

	poolBase uintptr
	argBase  uintptr
	poolUsed uint
)

// haltFn is the single exit point for fatal boot errors. It prints msg on
// the firmware console and spins; tests replace it with a panicking hook so
// the failure path can be observed without hanging the test binary.
var haltFn = bootHalt

func bootHalt(msg string) {
	for i := 0; i < len(msg); i++ {
		sbi.PutChar(msg[i])
	}
	sbi.PutChar('\n')
	for {
	}
}

func alignPage(addr uintptr) uintptr {
	return (addr + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)
}

// initFrameAlloc zeroes the reserved boot frames and resets the allocation
// counter. It must run before the first frameAlloc call.
func initFrameAlloc() {
	poolBase = alignPage(uintptr(unsafe.Pointer(&bootFrames[0])))
	argBase = alignPage(uintptr(unsafe.Pointer(&argFrames[0])))
	poolUsed = 0

	mem.Memset(poolBase, 0, BootPages*mem.PageSize)
	mem.Memset(argBase, 0, ArgPages*mem.PageSize)
}

// frameAlloc returns the physical address of the next unused boot frame.
// Allocation is linear and irrevocable; the final counter value is recorded
// in the handoff so the post-translation allocator can reclaim whatever is
// left. Exhaustion halts the boot.
func frameAlloc() uintptr {
	if poolUsed < BootPages {
		frame := poolBase + uintptr(poolUsed)*uintptr(mem.PageSize)
		poolUsed++
		return frame
	}

	haltFn(needPagesMsg)
	return 0
}

// usedFrames reports how many boot frames have been handed out so far.
func usedFrames() uint {
	return poolUsed
}

// ReclaimFrame hands one of the boot frames that boot itself never used to
// the post-translation bring-up, which consumes them for early page tables
// until the frame manager is running. It reports false once the pool is
// fully drained instead of halting, since by then a caller exists that can
// decide what failure means.
func ReclaimFrame() (uintptr, bool) {
	if poolUsed >= BootPages {
		return 0, false
	}

	frame := poolBase + uintptr(poolUsed)*uintptr(mem.PageSize)
	poolUsed++
	return frame, true
}
