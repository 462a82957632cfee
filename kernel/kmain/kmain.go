// Package kmain hosts the post-translation kernel entry point. By the time
// Kmain runs, the supervisor stub has loaded satp with the root table boot
// built and jumped to the high-half image; everything here executes at
// virtual addresses.
package kmain

import (
	"github.com/rv64boot/kernel/kernel"
	"github.com/rv64boot/kernel/kernel/boot"
	"github.com/rv64boot/kernel/kernel/bootopt"
	"github.com/rv64boot/kernel/kernel/console"
	"github.com/rv64boot/kernel/kernel/driver"
	"github.com/rv64boot/kernel/kernel/dt"
	"github.com/rv64boot/kernel/kernel/goruntime"
	"github.com/rv64boot/kernel/kernel/kfmt/early"
	"github.com/rv64boot/kernel/kernel/mem"
	"github.com/rv64boot/kernel/kernel/mem/bump"
	"github.com/rv64boot/kernel/kernel/mem/heap"
	"github.com/rv64boot/kernel/kernel/mem/pmm"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
	"github.com/rv64boot/kernel/kernel/mem/vmm"
	"github.com/rv64boot/kernel/kernel/sbi"
	"github.com/rv64boot/kernel/kernel/trap"

	// Driver packages register themselves from init.
	_ "github.com/rv64boot/kernel/kernel/driver/uart"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoRAM         = &kernel.Error{Module: "kmain", Message: "device tree reports no usable RAM"}

	frameManager pmm.Manager
	kernelHeap   *heap.Heap
)

// heapWindow is the virtual address space set aside for kernel heap
// majors.
const heapWindow = 64 * mem.Mb

// Heap returns the kernel heap, for subsystems that allocate after
// bring-up.
func Heap() *heap.Heap {
	return kernelHeap
}

// Kmain is the high-half kernel entry point the supervisor stub jumps to
// once translation is on. It brings the memory subsystems up in dependency
// order, tears down the boot identity window, loads registered drivers and
// never returns.
//
//go:noinline
func Kmain(h *boot.Handoff) {
	console.Init(sbi.Console{})

	opts, err := bootopt.Parse(h.Argc, h.Argv)
	if err != nil {
		early.Printf("%s\n", bootopt.Usage)
		kernel.Panic(err)
	}
	if opts.Help {
		early.Printf("%s\n", bootopt.Usage)
		sbi.Shutdown()
	}

	trap.Init()

	fdt, err := dt.Parse(opts.FdtAddr)
	if err != nil {
		kernel.Panic(err)
	}
	ramBase, ramSize, err := fdt.MemoryRegion()
	if err != nil {
		kernel.Panic(err)
	}

	vm := initMemory(h, uintptr(ramBase), mem.Size(ramSize))

	goruntime.Init(vm, &frameManager)

	heapBase, err := vmm.EarlyReserveRegion(heapWindow)
	if err != nil {
		kernel.Panic(err)
	}
	kernelHeap = heap.NewKernel(vm, &frameManager, heapBase)

	tearDownIdentityMap(vm, h)

	driver.ForEach(func(info *driver.Info) bool {
		if err := info.OnLoad(); err != nil {
			early.Printf("[driver] %s failed: %s\n", info.Name, err.Message)
		} else {
			early.Printf("[driver] %s loaded\n", info.Name)
		}
		return true
	})

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}

// initMemory stands the frame manager, node pool and virtual memory map up
// from the RAM extents the device tree reported. Intermediate page tables
// needed along the way come from the boot pool's leftovers; once the frame
// manager is live the map switches over to it.
func initMemory(h *boot.Handoff, ramBase uintptr, ramSize mem.Size) *vmm.VMMap {
	const pg = uintptr(mem.PageSize)
	mode := rvpte.Sv48

	vm := vmm.New(h.RootTable, mode, 0, reclaimBootFrame, nil)

	// The front of RAM holds the kernel image; management starts after it.
	managedBase := (h.HighKernelEnd + pg - 1) &^ (pg - 1)
	if managedBase < ramBase {
		managedBase = ramBase
	}
	ramEnd := ramBase + uintptr(ramSize)
	if managedBase >= ramEnd {
		kernel.Panic(errNoRAM)
	}

	// Split the managed span into the node region and the frame region:
	// every tracked frame costs one tree node up front.
	span := uintptr(ramEnd - managedBase)
	frameCount := int(span / (pg + pmm.NodeSize()))
	nodeBytes := uintptr(frameCount) * pmm.NodeSize()
	nodePages := (nodeBytes + pg - 1) / pg

	// The node region becomes kernel-visible at the next free virtual
	// addresses past everything boot mapped. The virtual base is aligned
	// for the largest page level that covers the region, so the mapping
	// can use that level whenever the physical side is aligned for it too.
	coverAlign := uintptr(mode.FitFor(mem.Size(nodeBytes)).Size())
	nodeVirt := (h.HighVirtEnd + coverAlign - 1) &^ (coverAlign - 1)
	nodeSpan := mapNodeRegion(vm, mode, managedBase, nodeVirt, nodeBytes, ramEnd)

	nodePool := bump.New(pmm.NodeSize())
	nodePool.ExpandFromFrame(nodeVirt, nodeBytes)

	frameBase := managedBase + nodePages*pg
	frameCount = int((ramEnd - frameBase) / pg)
	if err := frameManager.Init(frameBase, frameCount, nodePool); err != nil {
		kernel.Panic(err)
	}

	// Table frames now come from (and return to) the frame manager.
	vm.SetFrameSource(frameManager.GetFrame, frameManager.ReleaseFrame)

	vmm.Init(vm, nodeVirt+nodeSpan)
	return vm
}

// mapNodeRegion maps the frame-manager node region read-write at vaddr,
// preferring the largest page level that covers what remains and stepping
// down only while the addresses are not aligned for that level or its page
// would reach past the end of RAM. It returns the virtual span consumed,
// which exceeds bytes when a covering page rounds the tail up.
func mapNodeRegion(vm *vmm.VMMap, mode rvpte.Mode, paddr, vaddr, bytes, physLimit uintptr) uintptr {
	flags := rvpte.FlagRead | rvpte.FlagWrite | rvpte.FlagAccessed | rvpte.FlagDirty

	var mapped uintptr
	for mapped < bytes {
		lvl := mode.FitFor(mem.Size(bytes - mapped))
		for lvl > rvpte.LevelKB {
			size := uintptr(lvl.Size())
			aligned := ((paddr+mapped)|(vaddr+mapped))&(size-1) == 0
			if aligned && paddr+mapped+size <= physLimit {
				break
			}
			lvl = lvl.NextLower()
		}

		if _, err := vm.Map(paddr+mapped, vaddr+mapped, lvl, flags); err != nil {
			kernel.Panic(err)
		}
		mapped += uintptr(lvl.Size())
	}

	return mapped
}

// reclaimBootFrame adapts the boot pool's leftover frames to the VMMap
// allocator callback used before the frame manager exists.
func reclaimBootFrame() (pmm.Frame, error) {
	frame, ok := boot.ReclaimFrame()
	if !ok {
		return pmm.InvalidFrame, errOutOfBootFrames
	}
	return pmm.Frame(frame), nil
}

var errOutOfBootFrames = &kernel.Error{Module: "kmain", Message: "boot frame pool exhausted before frame manager init"}

// tearDownIdentityMap removes the boot-time low identity window. Releases
// of the window's intermediate tables are silently refused by the frame
// manager (they live in the boot pool, outside its managed range), which
// is exactly right: those frames belong to the kernel image.
func tearDownIdentityMap(vm *vmm.VMMap, h *boot.Handoff) {
	const pg = uintptr(mem.PageSize)
	for p := h.LowKernelStart; p < h.LowKernelEnd; p += pg {
		vm.Unmap(p)
	}
}
