package sbi

import "testing"

func TestPutChar(t *testing.T) {
	defer func() { callFn = call }()

	var gotExt, gotArg0 uintptr
	callFn = func(ext, fid, arg0, arg1, arg2 uintptr) (uintptr, uintptr) {
		gotExt, gotArg0 = ext, arg0
		return 0, 0
	}

	PutChar('a')

	if gotExt != extConsolePutChar {
		t.Fatalf("expected extension %d; got %d", extConsolePutChar, gotExt)
	}
	if gotArg0 != uintptr('a') {
		t.Fatalf("expected arg0 %d; got %d", 'a', gotArg0)
	}
}

func TestGetChar(t *testing.T) {
	defer func() { callFn = call }()

	t.Run("byte available", func(t *testing.T) {
		callFn = func(ext, fid, arg0, arg1, arg2 uintptr) (uintptr, uintptr) {
			return 0, uintptr('z')
		}

		b, ok := GetChar()
		if !ok {
			t.Fatal("expected ok to be true")
		}
		if b != 'z' {
			t.Fatalf("expected 'z'; got %q", b)
		}
	})

	t.Run("no byte available", func(t *testing.T) {
		callFn = func(ext, fid, arg0, arg1, arg2 uintptr) (uintptr, uintptr) {
			return 0, ^uintptr(0) // -1
		}

		_, ok := GetChar()
		if ok {
			t.Fatal("expected ok to be false")
		}
	})
}

func TestShutdown(t *testing.T) {
	defer func() { callFn = call }()

	var called bool
	var gotExt uintptr
	callFn = func(ext, fid, arg0, arg1, arg2 uintptr) (uintptr, uintptr) {
		called = true
		gotExt = ext
		return 0, 0
	}

	Shutdown()

	if !called {
		t.Fatal("expected callFn to be invoked")
	}
	if gotExt != extShutdown {
		t.Fatalf("expected extension %d; got %d", extShutdown, gotExt)
	}
}

func TestConsole(t *testing.T) {
	defer func() { callFn = call }()

	var got []byte
	callFn = func(ext, fid, arg0, arg1, arg2 uintptr) (uintptr, uintptr) {
		got = append(got, byte(arg0))
		return 0, 0
	}

	var c Console
	c.Write('h')
	c.Write('i')
	c.Clear()

	if string(got) != "hi" {
		t.Fatalf("expected %q; got %q", "hi", string(got))
	}
}
