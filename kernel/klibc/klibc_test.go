package klibc

import (
	"testing"

	"github.com/rv64boot/kernel/kernel/errors"
)

func TestCtypePredicates(t *testing.T) {
	specs := []struct {
		c     byte
		upper bool
		lower bool
		digit bool
		hex   bool
		space bool
	}{
		{'A', true, false, false, true, false},
		{'Z', true, false, false, false, false},
		{'a', false, true, false, true, false},
		{'z', false, true, false, false, false},
		{'0', false, false, true, true, false},
		{'9', false, false, true, true, false},
		{' ', false, false, false, false, true},
		{'\t', false, false, false, false, true},
		{'@', false, false, false, false, false},
	}

	for _, spec := range specs {
		if got := IsUpper(spec.c); got != spec.upper {
			t.Errorf("IsUpper(%q): expected %t; got %t", spec.c, spec.upper, got)
		}
		if got := IsLower(spec.c); got != spec.lower {
			t.Errorf("IsLower(%q): expected %t; got %t", spec.c, spec.lower, got)
		}
		if got := IsDigit(spec.c); got != spec.digit {
			t.Errorf("IsDigit(%q): expected %t; got %t", spec.c, spec.digit, got)
		}
		if got := IsHexDigit(spec.c); got != spec.hex {
			t.Errorf("IsHexDigit(%q): expected %t; got %t", spec.c, spec.hex, got)
		}
		if got := IsSpace(spec.c); got != spec.space {
			t.Errorf("IsSpace(%q): expected %t; got %t", spec.c, spec.space, got)
		}
	}
}

func TestCaseMapping(t *testing.T) {
	if got := ToUpper('a'); got != 'A' {
		t.Errorf("expected 'A'; got %q", got)
	}
	if got := ToUpper('5'); got != '5' {
		t.Errorf("expected non-letters to pass through; got %q", got)
	}
	if got := ToLower('Z'); got != 'z' {
		t.Errorf("expected 'z'; got %q", got)
	}
}

func TestHexValue(t *testing.T) {
	specs := []struct {
		c   byte
		exp uint
	}{
		{'0', 0}, {'9', 9}, {'a', 10}, {'f', 15}, {'A', 10}, {'F', 15},
	}
	for _, spec := range specs {
		if got := HexValue(spec.c); got != spec.exp {
			t.Errorf("HexValue(%q): expected %d; got %d", spec.c, spec.exp, got)
		}
	}
}

func TestASCIIUTF16RoundTrip(t *testing.T) {
	src := []byte("kernel -f 80000000")
	units := make([]uint16, len(src))

	n, err := ASCIIToUTF16(units, src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(src) {
		t.Fatalf("expected %d code units; got %d", len(src), n)
	}

	back := make([]byte, len(units))
	n, err = UTF16ToASCII(back, units)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(back[:n]) != string(src) {
		t.Fatalf("round trip mismatch: %q", back[:n])
	}
}

func TestUTF16ConversionErrors(t *testing.T) {
	if _, err := ASCIIToUTF16(make([]uint16, 8), []byte{0xC3, 0xA9}); err != errors.ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for non-ASCII input; got %v", err)
	}
	if _, err := ASCIIToUTF16(make([]uint16, 1), []byte("ab")); err != errors.ErrValueLimitReached {
		t.Errorf("expected ErrValueLimitReached for a short buffer; got %v", err)
	}
	if _, err := UTF16ToASCII(make([]byte, 8), []uint16{0x263A}); err != errors.ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for non-ASCII code units; got %v", err)
	}
	if !IsSurrogate(0xD800) || IsSurrogate(0x0041) {
		t.Error("surrogate detection is wrong")
	}
}
