// Command qemurun boots the kernel image under qemu-system-riscv64 and
// relays the firmware console to the invoking terminal. The host terminal
// is switched into raw mode for the duration so interactive byte streams
// (and QEMU's own Ctrl-A escapes) pass through unmangled.
//
// Usage:
//
//	qemurun [-mem 128M] [-cpus 1] [-fdt <hex>] kernel.elf
package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func main() {
	var (
		memSize = flag.String("mem", "128M", "guest RAM size")
		cpus    = flag.Int("cpus", 1, "guest hart count")
		fdtAddr = flag.String("fdt", "", "forwarded to the kernel as -f <hex>")
		qemu    = flag.String("qemu", "qemu-system-riscv64", "emulator binary")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: qemurun [flags] kernel.elf")
		os.Exit(2)
	}
	kernelImg := flag.Arg(0)

	args := []string{
		"-machine", "virt",
		"-bios", "default",
		"-m", *memSize,
		"-smp", fmt.Sprint(*cpus),
		"-nographic",
		"-kernel", kernelImg,
	}
	if *fdtAddr != "" {
		args = append(args, "-append", "-f "+*fdtAddr)
	}

	os.Exit(run(*qemu, args))
}

func run(qemu string, args []string) int {
	stdinFd := int(os.Stdin.Fd())

	var restore func()
	if term.IsTerminal(stdinFd) {
		state, err := term.MakeRaw(stdinFd)
		if err != nil {
			fmt.Fprintln(os.Stderr, "qemurun:", err)
			return 1
		}
		restore = func() { term.Restore(stdinFd, state) }
		defer restore()
	}

	cmd := exec.Command(qemu, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "qemurun:", err)
		return 1
	}

	// Forward termination signals to the guest rather than dying with the
	// terminal still raw.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		for sig := range sigCh {
			cmd.Process.Signal(sig)
		}
	}()

	err := cmd.Wait()
	signal.Stop(sigCh)
	close(sigCh)

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode()
		}
		if restore != nil {
			restore()
		}
		fmt.Fprintln(os.Stderr, "qemurun:", err)
		return 1
	}
	return 0
}
