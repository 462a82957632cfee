package vmm

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/errors"
	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/pmm"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
)

// FrameAllocatorFn is a function that can allocate physical frames; VMMap
// calls it whenever a new intermediate page table needs backing storage.
type FrameAllocatorFn func() (pmm.Frame, error)

// FrameReleaserFn returns a frame to the allocator it came from. VMMap calls
// it when unmap leaves an intermediate table empty.
type FrameReleaserFn func(pmm.Frame) error

// Descriptor describes one active mapping, as returned by Map and Lookup.
type Descriptor struct {
	PAddr uintptr
	VAddr uintptr
	Level rvpte.Level
	Flags rvpte.Flag
}

// VMMap exposes map/unmap/lookup over a single root page table, backed by a
// physical frame allocator. It is the post-translation counterpart to the
// boot mapper: where the boot mapper walks tables at physical addresses with
// translation disabled, VMMap always reaches a table through MapTable's
// scratch-page alias.
type VMMap struct {
	root  uintptr
	mode  rvpte.Mode
	alloc FrameAllocatorFn
	free  FrameReleaserFn
	cpuID uint
}

// New creates a VMMap rooted at rootPhys (the physical address of an
// already-zeroed root page table), operating in the given Sv39/Sv48 mode.
// alloc/free back intermediate table allocation; cpuID selects this VMMap's
// scratch window.
func New(rootPhys uintptr, mode rvpte.Mode, cpuID uint, alloc FrameAllocatorFn, free FrameReleaserFn) *VMMap {
	return &VMMap{root: rootPhys, mode: mode, alloc: alloc, free: free, cpuID: cpuID}
}

// RootPhysAddr returns the physical address of the root page table.
func (v *VMMap) RootPhysAddr() uintptr {
	return v.root
}

// SetFrameSource replaces the allocator callbacks backing intermediate
// table allocation. Bring-up uses it to switch from the leftover boot
// frames to the frame manager once the latter is initialized.
func (v *VMMap) SetFrameSource(alloc FrameAllocatorFn, free FrameReleaserFn) {
	v.alloc = alloc
	v.free = free
}

func (v *VMMap) table(phys uintptr) *rvpte.Table {
	return (*rvpte.Table)(unsafe.Pointer(mapTableFn(v.cpuID, phys)))
}

func aligned(addr uintptr, level rvpte.Level) bool {
	return addr&(uintptr(level.Size())-1) == 0
}

// Map installs a mapping from vaddr to paddr at the given level, allocating
// any missing intermediate tables along the way. paddr and vaddr must both
// be aligned to level's size.
func (v *VMMap) Map(paddr, vaddr uintptr, level rvpte.Level, flags rvpte.Flag) (Descriptor, error) {
	if !aligned(paddr, level) || !aligned(vaddr, level) {
		return Descriptor{}, errors.ErrMisalignedMemoryAddress
	}

	cur := v.table(v.root)
	for l := v.mode.TopLevel(); ; {
		idx := l.Index(vaddr)
		e := cur[idx]

		if l == level {
			if e.IsValid() {
				return Descriptor{}, errors.ErrAddressAlreadyMapped
			}
			cur[idx] = rvpte.MakeLeaf(paddr, flags)
			break
		}

		if e.IsLeaf() {
			// An existing superpage occupies this slot; descending
			// further would collide with it.
			return Descriptor{}, errors.ErrAddressAlreadyMapped
		}

		if !e.IsValid() {
			frame, err := v.alloc()
			if err != nil {
				return Descriptor{}, err
			}

			child := v.table(frame.Address())
			zeroTable(child)
			cur[idx] = rvpte.MakeTable(frame.Address())
			e = cur[idx]
		}

		cur = v.table(e.PhysAddr())
		l = l.NextLower()
	}

	return Descriptor{PAddr: paddr, VAddr: vaddr, Level: level, Flags: flags}, nil
}

// MapFirstFit installs a mapping for paddr at a vaddr chosen by an
// ascending-address scan for the first unused slot of the requested level.
func (v *VMMap) MapFirstFit(paddr uintptr, level rvpte.Level, flags rvpte.Flag) (Descriptor, error) {
	if !aligned(paddr, level) {
		return Descriptor{}, errors.ErrMisalignedMemoryAddress
	}

	vaddr, ok := v.firstFit(level)
	if !ok {
		return Descriptor{}, errors.ErrNotEnoughContiguousMemory
	}

	return v.Map(paddr, vaddr, level, flags)
}

func (v *VMMap) firstFit(target rvpte.Level) (uintptr, bool) {
	found, ok := searchFirstFit(v, v.mode.TopLevel(), v.table(v.root), 0, target)
	if !ok {
		return 0, false
	}
	return signExtend(found, v.mode), true
}

// searchFirstFit performs a depth-first, ascending-index scan of the table
// tree rooted at tbl (covering virtual addresses with prefix as their
// high bits), returning the first virtual address whose slot at level
// target is unmapped.
func searchFirstFit(v *VMMap, level rvpte.Level, tbl *rvpte.Table, prefix uintptr, target rvpte.Level) (uintptr, bool) {
	for i := uint(0); i < rvpte.EntriesPerTable(); i++ {
		vaddr := prefix | (uintptr(i) << level.Shift())
		e := tbl[i]

		if level == target {
			if !e.IsValid() {
				return vaddr, true
			}
			continue
		}

		if !e.IsValid() {
			// The whole subtree under this slot is free.
			return vaddr, true
		}

		if e.IsLeaf() {
			// Occupied by a superpage; nothing free underneath.
			continue
		}

		if found, ok := searchFirstFit(v, level.NextLower(), v.table(e.PhysAddr()), vaddr, target); ok {
			return found, true
		}
	}

	return 0, false
}

// Unmap clears the mapping for vaddr, if any. It is idempotent: unmapping an
// address that is not mapped is a silent no-op. When clearing a leaf leaves
// a non-root intermediate table empty, that table's backing frame is
// released back to the allocator and its parent entry is cleared too,
// keeping the table tree sparse.
func (v *VMMap) Unmap(vaddr uintptr) {
	// The deepest walk has 3 intermediate hops (Sv48); a fixed path array
	// keeps this function allocation-free, which it must be since the Go
	// allocator itself unmaps through here.
	var path [3]pathEntry
	depth := 0
	cur := v.table(v.root)

	for l := v.mode.TopLevel(); ; l = l.NextLower() {
		idx := l.Index(vaddr)
		e := cur[idx]

		if !e.IsValid() {
			return
		}

		if e.IsLeaf() {
			cur[idx] = 0
			break
		}

		path[depth] = pathEntry{table: cur, index: idx, phys: e.PhysAddr()}
		depth++
		cur = v.table(e.PhysAddr())
	}

	for i := depth - 1; i >= 0; i-- {
		child := v.table(path[i].phys)
		if !tableEmpty(child) {
			break
		}
		path[i].table[path[i].index] = 0
		if v.free != nil {
			_ = v.free(pmm.Frame(path[i].phys))
		}
	}
}

type pathEntry struct {
	table *rvpte.Table
	index uint
	phys  uintptr
}

func tableEmpty(t *rvpte.Table) bool {
	for _, e := range t {
		if e.IsValid() {
			return false
		}
	}
	return true
}

// Lookup returns the descriptor for the mapping covering vaddr, if any.
func (v *VMMap) Lookup(vaddr uintptr) (Descriptor, error) {
	cur := v.table(v.root)

	for l := v.mode.TopLevel(); ; l = l.NextLower() {
		idx := l.Index(vaddr)
		e := cur[idx]

		if !e.IsValid() {
			return Descriptor{}, errors.ErrInvalidVirtualAddress
		}

		if e.IsLeaf() {
			return Descriptor{
				PAddr: e.PhysAddr(),
				VAddr: vaddr &^ (uintptr(l.Size()) - 1),
				Level: l,
				Flags: leafFlags(e),
			}, nil
		}

		cur = v.table(e.PhysAddr())
	}
}

// IsMapped reports whether vaddr currently resolves to a physical address.
func (v *VMMap) IsMapped(vaddr uintptr) bool {
	_, err := v.Lookup(vaddr)
	return err == nil
}

func leafFlags(e rvpte.PTE) rvpte.Flag {
	var f rvpte.Flag
	for _, bit := range []rvpte.Flag{
		rvpte.FlagValid, rvpte.FlagRead, rvpte.FlagWrite, rvpte.FlagExec,
		rvpte.FlagUser, rvpte.FlagGlobal, rvpte.FlagAccessed, rvpte.FlagDirty,
	} {
		if e.HasFlags(bit) {
			f |= bit
		}
	}
	return f
}

func zeroTable(t *rvpte.Table) {
	mem.Memset(uintptr(unsafe.Pointer(t)), 0, mem.Size(len(t))*8)
}

// signExtend replicates bit (VABits-1) into every higher bit, matching the
// sign-extension rule Sv39/Sv48 addresses must observe.
func signExtend(vaddr uintptr, mode rvpte.Mode) uintptr {
	bits := mode.VABits()
	signBit := uintptr(1) << (bits - 1)
	if vaddr&signBit == 0 {
		return vaddr
	}
	mask := ^uintptr(0) << bits
	return vaddr | mask
}
