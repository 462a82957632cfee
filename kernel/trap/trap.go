// Package trap installs the supervisor trap vector and dispatches incoming
// traps to registered handlers. Handler bodies for individual causes live
// with the subsystems that own them; this package only provides the entry
// plumbing, the dispatch table and the diagnostic dump used when nothing
// claimed a trap.
package trap

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel"
	"github.com/rv64boot/kernel/kernel/cpu"
	"github.com/rv64boot/kernel/kernel/errors"
	"github.com/rv64boot/kernel/kernel/kfmt/early"
)

// Frame is the register file the trap vector saves on entry, in x1..x31
// order, followed by the trap CSRs. Its layout is mirrored by the save
// sequence in trap_riscv64.s and must not change independently.
type Frame struct {
	Regs   [31]uintptr // x1..x31
	SEpc   uintptr
	SCause uintptr
	STval  uintptr
}

// regNames maps Frame.Regs indices to the ABI names used in dumps.
var regNames = [31]string{
	"ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1",
	"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
	"t3", "t4", "t5", "t6",
}

// HandlerFn handles one trap cause. The frame is writable; a handler may
// advance SEpc to skip a faulting instruction.
type HandlerFn func(*Frame)

const (
	causeMask = ^uintptr(0) >> 1
	// maxCause bounds the dispatch tables; riscv64 supervisor causes fit
	// comfortably.
	maxCause = 16

	// sieMask enables the supervisor software, timer and external
	// interrupt sources.
	sieMask = 0x222
)

var (
	excHandlers [maxCause]HandlerFn
	intHandlers [maxCause]HandlerFn

	errUnhandledException = &kernel.Error{Module: "trap", Message: "unhandled synchronous trap"}
	errUnhandledInterrupt = &kernel.Error{Module: "trap", Message: "unhandled asynchronous trap"}

	// panicFn is indirected so dispatch tests can observe the failure
	// path without halting the test binary.
	panicFn = kernel.Panic
)

// Init installs the trap vector and unmasks supervisor interrupts. It is
// called once, from the post-translation bring-up, after the handlers the
// kernel needs have been registered.
func Init() {
	cpu.SetTrapVector(vectorAddr())
	cpu.SetInterruptMask(sieMask)
	cpu.EnableInterrupts()
}

// RegisterExceptionHandler routes the synchronous trap cause to fn.
func RegisterExceptionHandler(cause uintptr, fn HandlerFn) error {
	if cause >= maxCause || fn == nil {
		return errors.ErrInvalidArgument
	}
	excHandlers[cause] = fn
	return nil
}

// RegisterInterruptHandler routes the asynchronous trap cause to fn.
func RegisterInterruptHandler(cause uintptr, fn HandlerFn) error {
	if cause >= maxCause || fn == nil {
		return errors.ErrInvalidArgument
	}
	intHandlers[cause] = fn
	return nil
}

// Dispatch routes the saved frame to its handler. Traps nothing claimed
// are fatal: the frame is dumped and the kernel panics.
//
//go:nosplit
func Dispatch(f *Frame) {
	cause := f.SCause & causeMask
	interrupt := f.SCause != cause

	var fn HandlerFn
	if cause < maxCause {
		if interrupt {
			fn = intHandlers[cause]
		} else {
			fn = excHandlers[cause]
		}
	}

	if fn == nil {
		dumpFrame(f)
		if interrupt {
			panicFn(errUnhandledInterrupt)
		} else {
			panicFn(errUnhandledException)
		}
		return
	}

	fn(f)
}

// dumpFrame prints the trap CSRs, the full register file and a best-effort
// stack trace recovered from the frame-pointer chain.
func dumpFrame(f *Frame) {
	early.Printf("\ntrap: scause=%16x sepc=%16x stval=%16x\n", uint64(f.SCause), uint64(f.SEpc), uint64(f.STval))

	for i, name := range regNames {
		early.Printf("%4s=%16x", name, uint64(f.Regs[i]))
		if i%4 == 3 {
			early.Printf("\n")
		}
	}
	early.Printf("\n")

	early.Printf("stack trace:\n")
	early.Printf("  pc=%16x\n", uint64(f.SEpc))
	// s0 holds the frame pointer.
	StackTrace(f.Regs[7], func(pc uintptr) {
		early.Printf("  pc=%16x\n", uint64(pc))
	})
}

// StackTrace walks the frame-pointer chain starting at fp, invoking emit
// with each saved return address. The riscv64 frame layout places the
// return address at fp-8 and the caller's frame pointer at fp-16. The walk
// stops at a nil or misaligned frame pointer, when the chain stops growing
// upward, or after a fixed depth, whichever comes first.
func StackTrace(fp uintptr, emit func(pc uintptr)) {
	const maxDepth = 32

	for depth := 0; depth < maxDepth; depth++ {
		if fp == 0 || fp%8 != 0 {
			return
		}

		ra := *(*uintptr)(unsafe.Pointer(fp - 8))
		next := *(*uintptr)(unsafe.Pointer(fp - 16))
		if ra == 0 {
			return
		}
		emit(ra)

		// Stacks grow down, so each caller frame sits above the last.
		if next <= fp {
			return
		}
		fp = next
	}
}

// vectorAddr returns the entry address of the assembly trap vector, for
// the stvec CSR.
func vectorAddr() uintptr {
	f := trapVector
	return **(**uintptr)(unsafe.Pointer(&f))
}

// trapVector is the asm entry installed in stvec; see trap_riscv64.s.
func trapVector()

// currentFrame carries the saved-frame pointer from the asm vector to
// dispatchCurrent. Single-hart operation makes a plain variable safe.
var currentFrame uintptr

// dispatchCurrent adapts the no-argument call the asm vector makes into a
// Dispatch invocation.
//
//go:nosplit
func dispatchCurrent() {
	Dispatch((*Frame)(unsafe.Pointer(currentFrame)))
}
