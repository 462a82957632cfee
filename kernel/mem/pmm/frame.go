// Package pmm manages the pool of physical memory frames available after
// boot. Allocation and release are tracked by two red-black trees (see
// manager.go); this file defines the Frame handle shared by every caller.
package pmm

import "github.com/rv64boot/kernel/kernel/mem"

// Frame identifies a single physical page by its base address. Unlike the
// boot-time pool (kernel/boot) which hands out frames from a statically
// reserved array, a Frame here may come from anywhere in the machine's
// usable physical memory.
type Frame uintptr

// InvalidFrame is returned by the manager when a request cannot be
// satisfied.
const InvalidFrame = Frame(0)

// IsValid reports whether f is a real frame handle.
func (f Frame) IsValid() bool {
	return f != InvalidFrame
}

// Address returns the physical base address of the frame.
func (f Frame) Address() uintptr {
	return uintptr(f)
}

// Size returns the size of a single frame (always mem.PageSize; the
// manager only tracks base-size frames, larger mappings are built by
// grouping several of them).
func (f Frame) Size() mem.Size {
	return mem.PageSize
}
