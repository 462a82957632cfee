// Package sbi provides the handful of Supervisor Binary Interface calls the
// kernel needs during boot and early diagnostics: console output and the
// legacy shutdown call. Calls are issued via the ecall instruction; the
// trap-and-return sequence itself lives in sbi_riscv64.s.
package sbi

// legacy SBI extension IDs (SBI v0.1, still implemented by OpenSBI for
// backwards compatibility with every extension used here).
const (
	extConsolePutChar = 0x01
	extConsoleGetChar = 0x02
	extShutdown       = 0x08
)

// call issues an ecall to OpenSBI with the given extension/function IDs and
// up to three arguments, returning the (error, value) register pair. It is
// implemented in sbi_riscv64.s.
func call(ext, fid, arg0, arg1, arg2 uintptr) (uintptr, uintptr)

// callFn is indirected through a package variable so tests can stub out the
// ecall instead of trapping into the firmware. call itself has an assembly
// body only for riscv64, so this package builds only for that architecture.
var callFn = call

// PutChar writes a single byte to the SBI debug console.
func PutChar(b byte) {
	callFn(extConsolePutChar, 0, uintptr(b), 0, 0)
}

// GetChar reads a single byte from the SBI debug console. ok is false when
// no byte was available.
func GetChar() (b byte, ok bool) {
	_, val := callFn(extConsoleGetChar, 0, 0, 0, 0)
	if int(val) < 0 {
		return 0, false
	}
	return byte(val), true
}

// Shutdown powers the machine off via the legacy SBI shutdown call. It does
// not return.
func Shutdown() {
	callFn(extShutdown, 0, 0, 0, 0)
}
