// Package driver keeps the registration list that device drivers add
// themselves to from their package init functions. The kernel walks the
// list once during bring-up, after memory management is live, and loads
// whatever registered.
package driver

import (
	"github.com/rv64boot/kernel/kernel"
	"github.com/rv64boot/kernel/kernel/errors"
)

// LoadFn initializes a driver instance. A non-nil error marks the driver
// failed; bring-up reports it and continues with the rest of the list.
type LoadFn func() *kernel.Error

// ExitFn tears a driver instance down.
type ExitFn func() *kernel.Error

// Info describes one registered driver.
type Info struct {
	// Name identifies the driver in diagnostics.
	Name string

	// Compatible lists the device-tree compatible strings the driver
	// claims, comma separated.
	Compatible string

	OnLoad LoadFn
	OnExit ExitFn
}

// maxDrivers bounds the registry. Registration happens from init
// functions, before the kernel heap exists, so the list is a fixed array
// rather than a grown slice.
const maxDrivers = 32

var (
	registered [maxDrivers]*Info
	count      int
)

// Register adds info to the registry. It fails with ErrValueLimitReached
// when the registry is full and ErrInvalidArgument when info is missing a
// name or load hook.
func Register(info *Info) error {
	if info == nil || info.Name == "" || info.OnLoad == nil {
		return errors.ErrInvalidArgument
	}
	if count == maxDrivers {
		return errors.ErrValueLimitReached
	}

	registered[count] = info
	count++
	return nil
}

// Count returns the number of registered drivers.
func Count() int {
	return count
}

// ForEach invokes visit for every registered driver in registration order,
// stopping early if visit returns false.
func ForEach(visit func(*Info) bool) {
	for i := 0; i < count; i++ {
		if !visit(registered[i]) {
			return
		}
	}
}

// reset empties the registry; tests use it to isolate cases.
func reset() {
	for i := 0; i < count; i++ {
		registered[i] = nil
	}
	count = 0
}
