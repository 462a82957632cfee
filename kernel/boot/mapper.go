package boot

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
)

const collisionMsg = "Boot mapping collides with an existing superpage."

// Layout carries the addresses the linker script assigns to the kernel
// image. The rt0 stub resolves the linker symbols and passes them in so the
// mapper itself stays free of symbol plumbing.
//
// LoadAddress and KloadBegin are physical; everything else is the virtual
// (link) address of the high-half image.
type Layout struct {
	LoadAddress uintptr // first byte of the low boot blob
	KloadBegin  uintptr // first byte of the relocatable kernel image

	TextBegin, TextEnd     uintptr
	RodataBegin, RodataEnd uintptr
	DataBegin              uintptr
	StackEnd               uintptr

	DriverInfoBegin, DriverInfoEnd uintptr
}

// Mapper walks and creates page tables before translation is enabled. It
// keeps a single rolling virtual cursor across the high-kernel and argument
// mapping phases so the relocated argv lands immediately after the kernel
// image with no gap.
type Mapper struct {
	mode   rvpte.Mode
	root   *rvpte.Table
	layout Layout
	cursor uintptr
}

// NewMapper returns a Mapper operating on the already-zeroed root table.
func NewMapper(mode rvpte.Mode, root *rvpte.Table, layout Layout) *Mapper {
	return &Mapper{mode: mode, root: root, layout: layout}
}

// mapPage walks from the highest level down to target and installs a leaf
// for vaddr there, allocating intermediate tables from the boot pool as
// needed. It returns the table holding the new leaf. Hitting a leaf above
// target is fatal: the requested mapping would collide with an existing
// superpage and there is no caller that could recover.
func (m *Mapper) mapPage(paddr, vaddr uintptr, target rvpte.Level, flags rvpte.Flag) *rvpte.Table {
	tbl := m.root

	for l := m.mode.TopLevel(); ; l = l.NextLower() {
		idx := l.Index(vaddr)
		e := &tbl[idx]

		if l == target {
			// Overwrites are permitted at the target level; the scratch
			// setup relies on re-pointing an existing leaf.
			*e = rvpte.MakeLeaf(paddr, flags)
			return tbl
		}

		if e.IsLeaf() {
			haltFn(collisionMsg)
			return nil
		}

		if !e.IsValid() {
			frame := frameAlloc()
			mem.Memset(frame, 0, mem.PageSize)
			*e = rvpte.MakeTable(frame)
		}

		tbl = (*rvpte.Table)(unsafe.Pointer(e.PhysAddr()))
	}
}

// MapHighKernel maps the kernel image at its high-half link addresses:
// .text RX, .rodata R, .data/.bss/stack RW, one 4KiB frame at a time. The
// physical cursor starts at the image load address and advances in lockstep
// with the virtual one, since the linker lays the sections out back to
// back. It returns the physical address immediately after the mapped image.
func (m *Mapper) MapHighKernel() uintptr {
	const pg = uintptr(mem.PageSize)
	phys := m.layout.KloadBegin

	for v := m.layout.TextBegin; v < m.layout.TextEnd; v, phys = v+pg, phys+pg {
		m.mapPage(phys, v, rvpte.LevelKB, rvpte.FlagRead|rvpte.FlagExec|rvpte.FlagAccessed|rvpte.FlagDirty)
	}
	for v := m.layout.RodataBegin; v < m.layout.RodataEnd; v, phys = v+pg, phys+pg {
		m.mapPage(phys, v, rvpte.LevelKB, rvpte.FlagRead|rvpte.FlagAccessed|rvpte.FlagDirty)
	}
	// .data, .bss and the stack are all read-write.
	for v := m.layout.DataBegin; v < m.layout.StackEnd; v, phys = v+pg, phys+pg {
		m.mapPage(phys, v, rvpte.LevelKB, rvpte.FlagRead|rvpte.FlagWrite|rvpte.FlagAccessed|rvpte.FlagDirty)
	}

	m.cursor = m.layout.StackEnd
	return phys
}

// IdentityMap maps every frame of the low boot blob to its own address,
// RWX. The window stays valid until the post-translation kernel tears it
// down; without it the instruction fetch following the satp write would
// fault.
func (m *Mapper) IdentityMap() {
	const pg = uintptr(mem.PageSize)
	for p := m.layout.LoadAddress; p < m.layout.KloadBegin; p += pg {
		m.mapPage(p, p, rvpte.LevelKB,
			rvpte.FlagRead|rvpte.FlagWrite|rvpte.FlagExec|rvpte.FlagAccessed|rvpte.FlagDirty)
	}
}

// ForceScratchPage reserves the last page of the virtual address space and
// points it at its own level-0 table: after translation is enabled, writing
// a physical table address into an entry of the table visible at -4096
// aliases that table at a known virtual location. It returns the virtual
// scratch pointer recorded in the handoff.
func (m *Mapper) ForceScratchPage() uintptr {
	p := ^uintptr(0) - uintptr(mem.PageSize) + 1

	t := m.mapPage(p, p, rvpte.LevelKB, rvpte.FlagRead|rvpte.FlagWrite)
	m.mapPage(uintptr(unsafe.Pointer(t)), p, rvpte.LevelKB, rvpte.FlagRead|rvpte.FlagWrite)

	return p
}

// MapArgs relocates the argc argument strings into the reserved argument
// frames, builds a parallel pointer array whose entries refer to the future
// virtual addresses of the copied strings, appends that array after the
// strings, and maps the argument frames read-only at the current virtual
// cursor. It returns the virtual address of the relocated argv. Overflowing
// the argument region halts the boot.
func (m *Mapper) MapArgs(argc int, argv uintptr) uintptr {
	const pg = uintptr(mem.PageSize)
	const ptrSize = unsafe.Sizeof(uintptr(0))
	regionSize := uintptr(ArgPages) * pg

	oldKv := m.cursor

	// First pass: total up the string bytes so the pointer array's final
	// position is known before anything is copied.
	var consumed uintptr
	for i := 0; i < argc; i++ {
		str := *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*ptrSize))
		// Memory length, not string length.
		consumed += cstrlen(str) + 1
	}

	arrayOff := (consumed + ptrSize - 1) &^ (ptrSize - 1)
	arrayBytes := uintptr(argc) * ptrSize
	if consumed > regionSize || arrayOff+arrayBytes > regionSize {
		haltFn(needArgsMsg)
		return 0
	}

	// Second pass: copy each string and record its future virtual address
	// in the pointer array that follows the strings.
	var off uintptr
	for i := 0; i < argc; i++ {
		str := *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*ptrSize))
		n := cstrlen(str) + 1
		memcpy(argBase+off, str, n)
		*(*uintptr)(unsafe.Pointer(argBase + arrayOff + uintptr(i)*ptrSize)) = oldKv + off
		off += n
	}

	for i := uintptr(0); i < uintptr(ArgPages); i++ {
		m.mapPage(argBase+i*pg, m.cursor, rvpte.LevelKB,
			rvpte.FlagRead|rvpte.FlagAccessed|rvpte.FlagDirty)
		m.cursor += pg
	}

	return oldKv + arrayOff
}

// Cursor returns the next unmapped virtual address after every mapping
// phase that has run so far.
func (m *Mapper) Cursor() uintptr {
	return m.cursor
}

func cstrlen(p uintptr) uintptr {
	var n uintptr
	for *(*byte)(unsafe.Pointer(p + n)) != 0 {
		n++
	}
	return n
}

func memcpy(dst, src, n uintptr) {
	for i := uintptr(0); i < n; i++ {
		*(*byte)(unsafe.Pointer(dst + i)) = *(*byte)(unsafe.Pointer(src + i))
	}
}
