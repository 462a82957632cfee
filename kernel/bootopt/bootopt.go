// Package bootopt scans the raw boot argument vector for the two options
// the supervisor stub honors: the device-tree address and the help flag.
// It runs before the Go allocator is initialized, so option matching walks
// the C-style strings in place and never builds intermediate values.
package bootopt

import (
	"unsafe"

	"github.com/rv64boot/kernel/kernel/errors"
	"github.com/rv64boot/kernel/kernel/klibc"
)

// Options is the decoded option set.
type Options struct {
	// FdtAddr is the physical address of the flattened device tree, from
	// -f/--fdt. Zero when the option was absent.
	FdtAddr uintptr

	// Help is set by -h/--help.
	Help bool
}

// Usage is the help text the kernel prints for -h.
const Usage = "usage: kernel [-f|--fdt <hex address>] [-h|--help]"

// Parse walks the argc C strings pointed to by argv. Unknown options and a
// missing or malformed -f operand fail with ErrInvalidArgument.
func Parse(argc int, argv uintptr) (Options, error) {
	var opts Options
	const ptrSize = unsafe.Sizeof(uintptr(0))

	// Index 0 is the kernel name itself.
	for i := 1; i < argc; i++ {
		arg := *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*ptrSize))

		switch {
		case cstrEqual(arg, "-h") || cstrEqual(arg, "--help"):
			opts.Help = true

		case cstrEqual(arg, "-f") || cstrEqual(arg, "--fdt"):
			if i+1 >= argc {
				return Options{}, errors.ErrInvalidArgument
			}
			i++
			operand := *(*uintptr)(unsafe.Pointer(argv + uintptr(i)*ptrSize))
			addr, err := parseHex(operand)
			if err != nil {
				return Options{}, err
			}
			opts.FdtAddr = addr

		default:
			return Options{}, errors.ErrInvalidArgument
		}
	}

	return opts, nil
}

// parseHex decodes the C string at p as a hexadecimal address, with or
// without a 0x prefix.
func parseHex(p uintptr) (uintptr, error) {
	if byteAt(p) == '0' && klibc.ToLower(byteAt(p+1)) == 'x' {
		p += 2
	}
	if byteAt(p) == 0 {
		return 0, errors.ErrInvalidArgument
	}

	var v uintptr
	for ; byteAt(p) != 0; p++ {
		c := byteAt(p)
		if !klibc.IsHexDigit(c) {
			return 0, errors.ErrInvalidArgument
		}
		if v > ^uintptr(0)>>4 {
			return 0, errors.ErrValueLimitReached
		}
		v = v<<4 | uintptr(klibc.HexValue(c))
	}
	return v, nil
}

func cstrEqual(p uintptr, s string) bool {
	for i := 0; i < len(s); i++ {
		if byteAt(p+uintptr(i)) != s[i] {
			return false
		}
	}
	return byteAt(p+uintptr(len(s))) == 0
}

func byteAt(p uintptr) byte {
	return *(*byte)(unsafe.Pointer(p))
}
