package cli

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/smoynes/elsie/internal/cli"
	"github.com/smoynes/elsie/internal/kernel/boot"
	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/flash"
	"github.com/smoynes/elsie/internal/kernel/image"
	"github.com/smoynes/elsie/internal/kernel/layout"
	"github.com/smoynes/elsie/internal/kernel/proc"
	"github.com/smoynes/elsie/internal/kernel/vm"
	"github.com/smoynes/elsie/internal/log"
)

// Inspect returns the "inspect" command: an interactive, single-key-stepped browser over a
// booted process's fault history. The terminal is put in raw mode so that each key press steps
// the fault trace without waiting for Enter.
func Inspect() cli.Command {
	return &inspect{}
}

type inspect struct {
	addrs addrList
}

func (inspect) Description() string { return "interactively step through address faults" }

func (inspect) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `inspect [-addr 0x1000 -addr 0x2000 ...] image.hex

Boots image.hex, then single-steps a fault at each given address in turn as you press any key,
printing the resulting page-table-entry state. Press 'q' to quit.`)

	return err
}

// addrList is a repeatable -addr flag value.
type addrList []uint64

func (a *addrList) String() string { return fmt.Sprint([]uint64(*a)) }

func (a *addrList) Set(s string) error {
	var v uint64
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil {
		if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
			return err
		}
	}

	*a = append(*a, v)

	return nil
}

func (in *inspect) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Var(&in.addrs, "addr", "address to fault (repeatable)")

	return fs
}

func (in *inspect) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		fmt.Fprintln(out, "inspect: missing image file")
		return 1
	}

	bs, err := os.ReadFile(args[0])
	if err != nil {
		logger.Error("read image", "err", err)
		return 1
	}

	var img image.Image
	if err := img.UnmarshalText(bs); err != nil {
		logger.Error("decode image", "err", err)
		return 1
	}

	store, err := flash.NewMmapStore()
	if err != nil {
		logger.Error("init flash store", "err", err)
		return 1
	}

	defer store.Close()

	fl := flash.New(store, logger)
	kernel := vm.New(fl, logger)
	kernel.MPU.Init()

	sched := proc.New(config.MaxProcesses)
	loader := boot.New(kernel, sched)

	pcb, err := loader.Create(img, vm.Addr(layout.InitialSP))
	if err != nil {
		logger.Error("create process", "err", err)
		return 1
	}

	addrs := in.addrs
	if len(addrs) == 0 {
		addrs = addrList{0x1000, 0x2000, 0x3000}
	}

	fd := int(os.Stdin.Fd())

	if !term.IsTerminal(fd) {
		// Not an interactive session: walk the trace non-interactively instead of failing.
		return in.walk(out, kernel, pcb, addrs, nil)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		logger.Error("raw mode", "err", err)
		return 1
	}

	defer term.Restore(fd, state)

	reader := bufio.NewReader(os.Stdin)

	return in.walk(out, kernel, pcb, addrs, func() byte {
		b, err := reader.ReadByte()
		if err != nil {
			return 0
		}

		return b
	})
}

func (in *inspect) walk(out io.Writer, kernel *vm.Kernel, pcb *proc.PCB, addrs addrList, readKey func() byte) int {
	for _, a := range addrs {
		addr := vm.Addr(a)

		if readKey != nil {
			fmt.Fprintf(out, "\r\npress any key to fault %#x ('q' to quit)\r\n", addr)

			if k := readKey(); k == 'q' {
				return 0
			}
		}

		if err := kernel.Fault(pcb.PID, addr, vm.AccessRead); err != nil {
			fmt.Fprintf(out, "\r\nfault %#x: %v\r\n", addr, err)
			continue
		}

		pte := kernel.Tables.AddressToPTE(pcb.Root, addr)
		fmt.Fprintf(out, "\r\nfault %#x -> %s\r\n", addr, pte)
	}

	return 0
}
