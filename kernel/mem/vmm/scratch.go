// Package vmm implements the post-translation virtual memory manager: the
// scratch-page self-reference trick that lets the running kernel edit any
// physical page table (this file), and the map/unmap/lookup operations
// built on top of it (vmm.go).
package vmm

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/cpu"
	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
)

// scratchFlags are the permission bits stamped on every scratch-slot leaf:
// the running kernel only ever needs to read and write a table it is
// editing, never execute it.
const scratchFlags = rvpte.FlagRead | rvpte.FlagWrite | rvpte.FlagAccessed | rvpte.FlagDirty

// scratchSelfVirt is the fixed virtual address -4096 (the last page of the
// address space). The boot mapper arranges for this address to resolve to
// the scratch table's own physical frame, so the bytes visible there ARE
// the scratch table's 512 entries; writing entry N-1 as a leaf pointing at
// itself is what makes this self-reference possible in the first place.
const scratchSelfVirt = ^uintptr(0) &^ uintptr(mem.PageSize-1)

// flushTLBAllFn is indirected so tests can observe/replace the TLB flush
// without executing a real sfence.vma.
var flushTLBAllFn = cpu.FlushTLBAll

// mapTableFn is indirected so host-side tests can substitute a fake
// phys-to-virt resolver backed by ordinary Go memory instead of the real
// scratch-page self-map, which only works against actual hardware
// (translation, a live satp, and the boot mapper's self-reference setup).
var mapTableFn = MapTable

// scratchTableFn resolves the scratch table's own entry array. Production
// code always reaches it through the self-map at scratchSelfVirt; tests
// point this at a locally allocated table instead.
var scratchTableFn = scratchTable

// scratchTable returns a pointer to the scratch table's own entry array,
// reachable through the self-map at scratchSelfVirt.
func scratchTable() *rvpte.Table {
	return (*rvpte.Table)(unsafe.Pointer(scratchSelfVirt))
}

// MapTable installs a temporary mapping of the physical page table at
// tablePhys into the scratch window reserved for cpuID and returns the
// virtual address at which its 512 entries become visible. Every table walk
// performed by this package goes through MapTable so the running kernel
// never dereferences a raw physical pointer.
//
// Index ENTRIES_PER_TABLE-cpuID-2 is used for cpuID's slot, reserving index
// ENTRIES_PER_TABLE-1 for the table's self-map entry; this leaves room for
// ENTRIES_PER_TABLE-1 CPUs without collision, in anticipation of a future
// SMP port (see the concurrency notes in the design).
func MapTable(cpuID uint, tablePhys uintptr) uintptr {
	idx := rvpte.EntriesPerTable() - cpuID - 2

	tbl := scratchTableFn()
	tbl[idx] = rvpte.MakeLeaf(tablePhys, scratchFlags)
	flushTLBAllFn()

	return scratchSelfVirt - (uintptr(cpuID)+2)*uintptr(mem.PageSize)
}
