package vmm

import (
	"github.com/rv64boot/kernel/kernel/errors"
	"github.com/rv64boot/kernel/kernel/mem"
)

// kernelVMM is the once-initialized VMMap for the kernel's own root page
// table. It is installed by Init at the hand-off point and never replaced.
var kernelVMM *VMMap

// earlyReserveCursor is the next virtual address handed out by
// EarlyReserveRegion. It starts at the first virtual address past the mapped
// kernel image (recorded by boot in the handoff) and only ever grows.
var earlyReserveCursor uintptr

// Init records vm as the kernel address space and nextFree as the first
// unused kernel virtual address. It must be called exactly once, during the
// post-translation hand-off, before any package-level operation is used.
func Init(vm *VMMap, nextFree uintptr) {
	kernelVMM = vm
	earlyReserveCursor = nextFree
}

// Kernel returns the kernel address space installed by Init.
func Kernel() *VMMap {
	return kernelVMM
}

// EarlyReserveRegion reserves a page-aligned virtual region of at least size
// bytes without establishing any mapping for it. The Go runtime bootstrap
// uses it to back sysReserve before the full allocator is live.
func EarlyReserveRegion(size mem.Size) (uintptr, error) {
	if kernelVMM == nil && size > 0 {
		return 0, errors.ErrOperationNotAllowed
	}

	size = (size + mem.PageSize - 1) &^ (mem.PageSize - 1)

	// The scratch table owns the top 2MiB of the address space; refuse to
	// grow into it.
	scratchRegionBase := ^uintptr(0) - uintptr(2*mem.Mb) + 1
	if earlyReserveCursor+uintptr(size) > scratchRegionBase || earlyReserveCursor+uintptr(size) < earlyReserveCursor {
		return 0, errors.ErrNotEnoughContiguousMemory
	}

	addr := earlyReserveCursor
	earlyReserveCursor += uintptr(size)
	return addr, nil
}
