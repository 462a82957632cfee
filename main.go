package main

import (
	"github.com/rv64boot/kernel/kernel/boot"
	"github.com/rv64boot/kernel/kernel/kmain"
	"github.com/rv64boot/kernel/kernel/mem/rvpte"
)

// The rt0 assembly resolves these from the linker script and the register
// state OpenSBI hands over before transferring control to Go code.
var (
	bootArgc   int
	bootArgv   uintptr
	bootLayout boot.Layout
	handoff    boot.Handoff
)

// main works as a trampoline for the two real entry points: the rt0 code
// first calls into boot.Bootmain at physical addresses to build the
// initial page table, then enables translation and re-enters the image at
// its high-half address, where kmain.Kmain takes over. Both calls are made
// through main so the Go compiler cannot optimize the kernel away as
// unreachable; globals are passed as arguments to keep the calls from
// being inlined out of the object file.
//
// main is not expected to return. If it does, the rt0 code will halt the
// CPU.
func main() {
	boot.Bootmain(bootArgc, bootArgv, rvpte.Sv48, bootLayout, &handoff)
	kmain.Kmain(&handoff)
}
