// Package goruntime contains code for bootstrapping Go runtime features
// such as the memory allocator: the runtime's low-level sys* allocation
// hooks are redirected here and served by the kernel's own frame manager
// and virtual memory map.
package goruntime

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/pmm"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
	"github.com/rv64boot/kernel/kernel/mem/vmm"
)

var (
	kernelVM *vmm.VMMap
	frameMgr *pmm.Manager

	earlyReserveRegionFn = vmm.EarlyReserveRegion
)

const heapFlags = rvpte.FlagRead | rvpte.FlagWrite | rvpte.FlagAccessed | rvpte.FlagDirty

// Init wires the runtime bootstrap hooks to the kernel allocator
// singletons. It must run before the first Go allocation after boot.
func Init(vm *vmm.VMMap, frames *pmm.Manager) {
	kernelVM = vm
	frameMgr = frames
}

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings.
//
// This function replaces runtime.sysReserve and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr, reserved *bool) unsafe.Pointer {
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		panic(err)
	}

	*reserved = true
	return unsafe.Pointer(regionStartAddr)
}

// sysMap establishes a mapping for a memory region previously reserved
// via sysReserve, backing each page with a fresh zeroed frame.
//
// This function replaces runtime.sysMap and is required for initializing
// the Go allocator.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}

	// We trust the allocator to call sysMap with an address inside a
	// reserved region.
	regionStartAddr := (uintptr(virtAddr) + uintptr(mem.PageSize-1)) & ^uintptr(mem.PageSize-1)
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	pageCount := regionSize >> mem.PageShift

	for page := regionStartAddr; pageCount > 0; pageCount, page = pageCount-1, page+uintptr(mem.PageSize) {
		if mapZeroedPage(page) != nil {
			return unsafe.Pointer(uintptr(0))
		}
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// sysAlloc reserves enough physical frames to satisfy the allocation
// request and establishes a contiguous virtual page mapping for them,
// returning the pointer to the virtual region start.
//
// This function replaces runtime.sysAlloc and is required for
// initializing the Go allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	regionSize := (mem.Size(size) + mem.PageSize - 1) & ^(mem.PageSize - 1)
	regionStartAddr, err := earlyReserveRegionFn(regionSize)
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}

	pageCount := regionSize >> mem.PageShift
	for page := regionStartAddr; pageCount > 0; pageCount, page = pageCount-1, page+uintptr(mem.PageSize) {
		if mapZeroedPage(page) != nil {
			return unsafe.Pointer(uintptr(0))
		}
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(regionStartAddr)
}

// mapZeroedPage backs page with a fresh frame and clears it through the
// new mapping.
//
//go:nosplit
func mapZeroedPage(page uintptr) error {
	frame, err := frameMgr.GetFrame()
	if err != nil {
		return err
	}
	if _, err = kernelVM.Map(frame.Address(), page, rvpte.LevelKB, heapFlags); err != nil {
		return err
	}

	mem.Memset(page, 0, mem.PageSize)
	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, reserved, &stat)
	sysAlloc(0, &stat)
}
