package trap

import (
	"strings"
	"testing"
	"unsafe"

	"github.com/rv64boot/kernel/kernel/console"
	"github.com/rv64boot/kernel/kernel/errors"
)

const interruptBit = ^(^uintptr(0) >> 1)

func resetHandlers(t *testing.T) {
	t.Helper()
	origExc, origInt := excHandlers, intHandlers
	t.Cleanup(func() { excHandlers, intHandlers = origExc, origInt })
	excHandlers = [maxCause]HandlerFn{}
	intHandlers = [maxCause]HandlerFn{}
}

func hookPanic(t *testing.T) *[]interface{} {
	t.Helper()
	var got []interface{}
	orig := panicFn
	panicFn = func(v interface{}) { got = append(got, v) }
	t.Cleanup(func() { panicFn = orig })
	return &got
}

func TestDispatchRoutesExceptions(t *testing.T) {
	resetHandlers(t)

	var handled *Frame
	if err := RegisterExceptionHandler(13, func(f *Frame) { handled = f }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f := &Frame{SCause: 13}
	Dispatch(f)

	if handled != f {
		t.Fatal("expected the load-page-fault handler to receive the frame")
	}
}

func TestDispatchRoutesInterrupts(t *testing.T) {
	resetHandlers(t)

	excCalls, intCalls := 0, 0
	RegisterExceptionHandler(5, func(*Frame) { excCalls++ })
	RegisterInterruptHandler(5, func(*Frame) { intCalls++ })

	// Cause 5 with the interrupt bit set is the supervisor timer, not the
	// load-access exception.
	Dispatch(&Frame{SCause: interruptBit | 5})

	if excCalls != 0 || intCalls != 1 {
		t.Fatalf("expected only the interrupt handler to run; exc=%d int=%d", excCalls, intCalls)
	}
}

func TestDispatchUnhandledPanicsWithDump(t *testing.T) {
	resetHandlers(t)
	got := hookPanic(t)

	var w console.MemWriter
	orig := console.Active
	console.Init(&w)
	t.Cleanup(func() { console.Init(orig) })

	f := &Frame{SCause: 2, SEpc: 0xFFFF_FFFF_C000_1234, STval: 0xBAD0}
	f.Regs[9] = 0xAAAA // a0
	Dispatch(f)

	if len(*got) != 1 || (*got)[0] != errUnhandledException {
		t.Fatalf("expected errUnhandledException; got %v", *got)
	}

	out := w.String()
	for _, want := range []string{"scause=", "sepc=", "stval=", "a0=", "stack trace:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected dump to contain %q; output:\n%s", want, out)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	resetHandlers(t)

	if err := RegisterExceptionHandler(maxCause, func(*Frame) {}); err != errors.ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for an out-of-range cause; got %v", err)
	}
	if err := RegisterInterruptHandler(1, nil); err != errors.ErrInvalidArgument {
		t.Errorf("expected ErrInvalidArgument for a nil handler; got %v", err)
	}
}

func TestStackTraceWalksChain(t *testing.T) {
	// Fabricate three stack frames in a Go array: each frame stores the
	// return address at fp-8 and the previous frame pointer at fp-16,
	// with frame pointers growing upward like a real downward stack's
	// unwind does.
	var stack [32]uintptr
	base := uintptr(unsafe.Pointer(&stack[0]))

	fp0 := base + 8*8
	fp1 := base + 16*8
	fp2 := base + 24*8

	stack[7] = 0x1111 // ra for fp0
	stack[6] = fp1    // next fp
	stack[15] = 0x2222
	stack[14] = fp2
	stack[23] = 0x3333
	stack[22] = 0 // end of chain

	var pcs []uintptr
	StackTrace(fp0, func(pc uintptr) { pcs = append(pcs, pc) })

	want := []uintptr{0x1111, 0x2222, 0x3333}
	if len(pcs) != len(want) {
		t.Fatalf("expected %d frames; got %d (%#x)", len(want), len(pcs), pcs)
	}
	for i := range want {
		if pcs[i] != want[i] {
			t.Errorf("[frame %d] expected pc %#x; got %#x", i, want[i], pcs[i])
		}
	}
}

func TestStackTraceStopsOnBadPointer(t *testing.T) {
	calls := 0
	StackTrace(0, func(uintptr) { calls++ })
	StackTrace(0x1001, func(uintptr) { calls++ }) // misaligned

	if calls != 0 {
		t.Fatalf("expected no frames from invalid pointers; got %d", calls)
	}
}
