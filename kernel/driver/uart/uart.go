// Package uart drives the ns16550a serial port of the QEMU virt machine.
// It registers itself with the driver framework at init time; once loaded
// it offers a polled byte transmit independent of the SBI console, which
// firmware may claim for itself.
package uart

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel"
	"github.com/rv64boot/kernel/kernel/driver"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
	"github.com/rv64boot/kernel/kernel/mem/vmm"
)

// physBase is where the virt machine exposes the first ns16550a.
const physBase = 0x1000_0000

// Register offsets from the base, one byte apart.
const (
	regTHR = 0 // transmit holding (write)
	regIER = 1 // interrupt enable
	regFCR = 2 // FIFO control (write)
	regLCR = 3 // line control
	regLSR = 5 // line status
)

const lsrTHREmpty = 1 << 5

var (
	errNoAddressSpace = &kernel.Error{Module: "uart", Message: "kernel address space not initialized"}

	// regs is the mapped register window; nil until OnLoad ran.
	regs *[8]volatileReg
)

// volatileReg wraps one device register byte. Every access goes through
// load/store so no read or write is elided; device registers have side
// effects ordinary memory does not.
type volatileReg byte

func (r *volatileReg) load() byte {
	return *(*byte)(unsafe.Pointer(r))
}

func (r *volatileReg) store(v byte) {
	*(*byte)(unsafe.Pointer(r)) = v
}

func onLoad() *kernel.Error {
	vm := vmm.Kernel()
	if vm == nil {
		return errNoAddressSpace
	}

	desc, err := vm.MapFirstFit(physBase, rvpte.LevelKB,
		rvpte.FlagRead|rvpte.FlagWrite|rvpte.FlagAccessed|rvpte.FlagDirty)
	if err != nil {
		return &kernel.Error{Module: "uart", Message: err.Error()}
	}

	setRegs(desc.VAddr)

	// 8 data bits, no parity, FIFO on, interrupts off: polled operation.
	regs[regLCR].store(0x03)
	regs[regFCR].store(0x01)
	regs[regIER].store(0x00)

	return nil
}

func onExit() *kernel.Error {
	if regs != nil {
		vm := vmm.Kernel()
		vm.Unmap(uintptr(unsafe.Pointer(regs)))
		regs = nil
	}
	return nil
}

func setRegs(vaddr uintptr) {
	regs = (*[8]volatileReg)(unsafe.Pointer(vaddr))
}

// WriteByte transmits b, spinning until the holding register drains.
func WriteByte(b byte) {
	if regs == nil {
		return
	}
	for regs[regLSR].load()&lsrTHREmpty == 0 {
	}
	regs[regTHR].store(b)
}

func init() {
	driver.Register(&driver.Info{
		Name:       "ns16550a",
		Compatible: "ns16550a",
		OnLoad:     onLoad,
		OnExit:     onExit,
	})
}
