package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/smoynes/elsie/internal/cli"
	"github.com/smoynes/elsie/internal/kernel/boot"
	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/flash"
	"github.com/smoynes/elsie/internal/kernel/image"
	"github.com/smoynes/elsie/internal/kernel/layout"
	"github.com/smoynes/elsie/internal/kernel/proc"
	"github.com/smoynes/elsie/internal/kernel/proc/exec"
	"github.com/smoynes/elsie/internal/kernel/proc/testprograms"
	"github.com/smoynes/elsie/internal/kernel/vm"
	"github.com/smoynes/elsie/internal/log"
)

// Run returns the "run" command: boots one or more processes and drives the bytecode interpreter
// against the real fault handler until every process halts or the tick budget runs out.
func Run() cli.Command {
	return &run{entry: 0x0, ticks: 64}
}

type run struct {
	entry uint64
	ticks int
	debug bool
}

func (run) Description() string { return "boot an image (or the bundled samples) and run it" }

func (r run) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `run [-entry addr] [-ticks n] [image.hex]

With no image argument, boots the bundled sample programs (internal/kernel/proc/testprograms) and
steps them round-robin; with image.hex, boots that staged binary as the lone process instead.
Every instruction fetch and every load/store is dispatched through the kernel's fault handler.
It prints one line per booted process and one per yield, halt, or unhandled fault; evictions and
read-ins are not reported.`)

	return err
}

func (r *run) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.Uint64Var(&r.entry, "entry", r.entry, "entry point address, when an image file is given")
	fs.IntVar(&r.ticks, "ticks", r.ticks, "maximum number of scheduler turns to run")
	fs.BoolVar(&r.debug, "debug", false, "enable debug logging")

	return fs
}

func (r *run) Run(_ context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if r.debug {
		log.LogLevel.Set(log.Debug)
	}

	progs, err := r.programs(args)
	if err != nil {
		logger.Error("load programs", "err", err)
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
	interp := exec.New(kernel, logger)

	live := 0

	for _, prog := range progs {
		pcb, err := loader.Create(prog, vm.Addr(layout.InitialSP))
		if err != nil {
			logger.Error("create process", "err", err)
			return 1
		}

		live++

		fmt.Fprintf(out, "booted pid=%d entry=%#x sp=%#x\n", pcb.PID, pcb.Frame.PC, pcb.SP)
	}

	for turn := 0; turn < r.ticks && live > 0; turn++ {
		pid := sched.Next()
		if pid == vm.PIDInvalid {
			break
		}

		pcb := sched.PCB(pid)

		for {
			err := interp.Resume(pcb)
			if err == nil {
				continue
			}

			switch err {
			case exec.ErrYield:
				fmt.Fprintf(out, "turn %d: pid=%d yielded\n", turn, pid)
			case exec.ErrHalted:
				fmt.Fprintf(out, "turn %d: pid=%d halted\n", turn, pid)
				sched.Dequeue(pid)
				live--
			default:
				fmt.Fprintf(out, "turn %d: pid=%d fault: %v\n", turn, pid, err)
				pcb.State = proc.StateZombie
				sched.Dequeue(pid)
				live--
			}

			break
		}
	}

	fmt.Fprintf(out, "run complete: %d process(es) still live\n", live)

	return 0
}

// programs resolves the set of images to boot: the bundled samples with no argument, or a single
// staged binary decoded from args[0].
func (r *run) programs(args []string) ([]image.Image, error) {
	if len(args) == 0 {
		return testprograms.All(), nil
	}

	bs, err := os.ReadFile(args[0])
	if err != nil {
		return nil, err
	}

	var img image.Image

	img.Entry = uint32(r.entry)
	if err := img.UnmarshalText(bs); err != nil {
		return nil, err
	}

	return []image.Image{img}, nil
}
