// Package cpu exposes the handful of privileged riscv64 operations the
// kernel needs: interrupt masking, halting the hart, trap-vector
// installation and manipulating the active address translation via the satp
// CSR. Each function below is a raw asm stub implemented in cpu_riscv64.s.
package cpu

// EnableInterrupts sets the supervisor interrupt enable bit in sstatus.
func EnableInterrupts()

// DisableInterrupts clears the supervisor interrupt enable bit in sstatus.
func DisableInterrupts()

// Halt puts the hart into wfi and loops forever. Calls to Halt never
// return.
func Halt()

// FlushTLBEntry flushes any cached translation for virtAddr on the local
// hart (sfence.vma virtAddr, x0).
func FlushTLBEntry(virtAddr uintptr)

// FlushTLBAll flushes every cached translation on the local hart
// (sfence.vma x0, x0).
func FlushTLBAll()

// SwitchSATP writes satp and issues a full local TLB flush. satp must
// already be encoded with the mode field (Sv39 or Sv48), ASID and root
// table PPN.
func SwitchSATP(satp uintptr)

// ActiveSATP returns the value of the satp CSR currently in effect on the
// local hart.
func ActiveSATP() uintptr

// SetTrapVector writes addr into stvec in direct mode. addr must be 4-byte
// aligned or the write itself traps.
func SetTrapVector(addr uintptr)

// SetInterruptMask writes mask into the sie CSR, selecting which supervisor
// interrupt sources may be delivered once sstatus.SIE is set.
func SetInterruptMask(mask uintptr)
