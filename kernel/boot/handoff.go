package boot

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/mem/rvpte"
)

// Handoff records everything the boot stage produced for the
// post-translation kernel: the root table to load into satp, the scratch
// window, where the relocated arguments live and which physical regions are
// spoken for. The supervisor stub fills satp from RootTable, jumps to the
// high-half entry point and passes this record along.
type Handoff struct {
	Argc int
	Argv uintptr // virtual address of the relocated argv

	UsedBootFrames uint    // frames consumed from the boot pool
	RootTable      uintptr // physical address of the root page table
	Scratch        uintptr // virtual address of the scratch window

	LowKernelStart uintptr // physical start of the low boot blob
	LowKernelEnd   uintptr // physical end of the low boot blob
	HighKernelEnd  uintptr // physical address just past the mapped image

	HighVirtStart uintptr // virtual start of the high-half image
	HighVirtEnd   uintptr // first unmapped virtual address

	DriverInfoStart uintptr // virtual extent of the driver-info section
	DriverInfoEnd   uintptr
}

// Bootmain is the boot entry point proper. It runs with translation
// disabled, builds the initial root table in the fixed order the
// post-translation code depends on and fills in the handoff record. It
// never returns partial results: every failure path halts.
func Bootmain(argc int, argv uintptr, mode rvpte.Mode, layout Layout, h *Handoff) {
	initFrameAlloc()

	root := (*rvpte.Table)(unsafe.Pointer(frameAlloc()))
	m := NewMapper(mode, root, layout)

	h.HighKernelEnd = m.MapHighKernel()
	h.Scratch = m.ForceScratchPage()
	m.IdentityMap()
	h.Argv = m.MapArgs(argc, argv)

	h.Argc = argc
	h.UsedBootFrames = usedFrames()
	h.RootTable = uintptr(unsafe.Pointer(root))
	h.LowKernelStart = layout.LoadAddress
	h.LowKernelEnd = layout.KloadBegin
	h.HighVirtStart = layout.TextBegin
	h.HighVirtEnd = m.Cursor()
	h.DriverInfoStart = layout.DriverInfoBegin
	h.DriverInfoEnd = layout.DriverInfoEnd
}
