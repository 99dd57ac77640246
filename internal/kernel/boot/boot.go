// Package boot implements process creation: the five-step sequence that turns a pre-staged binary
// image into a runnable process control block, enqueued on the scheduler's ready queue.
package boot

import (
	"fmt"

	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/image"
	"github.com/smoynes/elsie/internal/kernel/proc"
	"github.com/smoynes/elsie/internal/kernel/vm"
)

// Loader creates processes from binary images. It owns the monotonic cursor into the flash
// generic region: each loaded image claims the next run of never-reused generic pages, since
// generic pages are, by design, never freed back into any bitmap.
type Loader struct {
	kernel *vm.Kernel
	sched  *proc.Scheduler

	nextGenericPage uint16
}

// New returns a Loader creating processes against kernel and sched.
func New(kernel *vm.Kernel, sched *proc.Scheduler) *Loader {
	return &Loader{kernel: kernel, sched: sched}
}

// ErrRootPIDMismatch is returned if the scheduler's PCB zone and the kernel's page-table-root zone
// ever desynchronize -- a programming error elsewhere, since Create is the only path that
// allocates from both and it always does so in the same step.
var ErrRootPIDMismatch = fmt.Errorf("boot: pcb zone and page-table root zone disagree on process id")

// Create builds a new process from img: it allocates a PCB and page-table root in lockstep
// (preserving the invariant that a root's zone index is always its owning process id), stages the
// image's segments as generic, read-only flash pages mapped at their segment addresses, faults in
// the page covering initialSP so the process has a usable stack from its very first instruction,
// synthesizes the saved register frame, and enqueues the process on the ready queue.
func (l *Loader) Create(img image.Image, initialSP vm.Addr) (*proc.PCB, error) {
	pcb, pid, err := l.sched.AllocPCB()
	if err != nil {
		return nil, fmt.Errorf("boot: alloc pcb: %w", err)
	}

	root, rootPID, err := l.kernel.Tables.AllocRoot()
	if err != nil {
		l.sched.FreePCB(pid)
		return nil, fmt.Errorf("boot: alloc page table root: %w", err)
	}

	if rootPID != pid {
		panic(fmt.Errorf("%w: pcb id %d, root id %d", ErrRootPIDMismatch, pid, rootPID))
	}

	pcb.Root = root

	if err := l.installSegments(root, img); err != nil {
		return nil, err
	}

	if err := l.kernel.Fault(pid, initialSP, vm.AccessWrite); err != nil {
		return nil, fmt.Errorf("boot: fault in initial stack: %w", err)
	}

	pcb.SP = initialSP
	pcb.Frame = proc.StackFrame{
		PC:  uint32(img.Entry) | 1, // set the Thumb bit: this core never executes ARM-state code
		PSR: proc.InitialPSR,
	}

	l.sched.Enqueue(pid)

	return pcb, nil
}

// installSegments pages in every byte of every segment as a generic, read-only flash mapping.
func (l *Loader) installSegments(root *vm.PTEGroupTable, img image.Image) error {
	for _, seg := range img.Segments() {
		base := vm.Addr(seg.Base)

		for off := 0; off < len(seg.Data); off += config.PageSize {
			page := base + vm.Addr(off)

			chunk := seg.Data[off:]
			if len(chunk) > config.PageSize {
				chunk = chunk[:config.PageSize]
			}

			buf := make([]byte, config.PageSize)
			copy(buf, chunk)

			idx := l.kernel.Flash.LoadGeneric(l.nextGenericPage, buf)
			l.nextGenericPage++

			group, _, err := l.kernel.Tables.EnsureGroup(root, page)
			if err != nil {
				return fmt.Errorf("boot: ensure group for %#x: %w", page, err)
			}

			group.PTEs[page.Index()] = vm.NewFlashPTE(idx.Page(), true)
		}
	}

	return nil
}
