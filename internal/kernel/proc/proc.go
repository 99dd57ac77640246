// Package proc implements the process substrate: process control blocks, the saved register
// frame exchanged across a context switch, and the round-robin ready queue that the supervisor
// consults on every tick or voluntary yield.
//
// A process is not a goroutine: it is a PCB that the caller's loop steps one instruction at a
// time, on the caller's own goroutine, between scheduler decisions. Switching processes only ever
// reads and writes a PCB's saved StackFrame, as the hardware this models only ever touches the
// exception frame on the process's own stack.
package proc

import "github.com/smoynes/elsie/internal/kernel/vm"

// InitialPSR is the processor status a freshly created process's saved frame starts with. Three
// bits are set: bits 30 and 29 (the Z and C condition flags of the xPSR) and bit 24 (Thumb state
// -- this core has no ARM-state execution mode); every other bit is zero. The simulator stores the
// value in the saved frame and does not interpret it; every other process-mode register is
// established by the saved frame's R0-R3/R12/LR/PC fields instead.
const InitialPSR uint32 = 0x6100_0000

// State is a process's scheduling state.
type State uint8

const (
	StateFree State = iota
	StateReady
	StateRunning
	StateBlocked
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateBlocked:
		return "BLOCKED"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// StackFrame is a process's saved register context, laid out the way it is actually found on a
// process's stack after an exception: the eight software-pushed callee-saved registers first (the
// handler pushes these itself, on entry, so it has scratch registers to work with), then the
// eight hardware-pushed registers the core pushes automatically before vectoring to the handler.
type StackFrame struct {
	// Software-pushed by the fault/systick handler prologue.
	R4, R5, R6, R7   uint32
	R8, R9, R10, R11 uint32

	// Hardware-pushed automatically on exception entry.
	R0, R1, R2, R3 uint32
	R12            uint32
	LR             uint32
	PC             uint32
	PSR            uint32
}

// PCB is a process control block.
type PCB struct {
	PID   vm.PID
	State State
	Frame StackFrame

	// SP is the process's current stack pointer, a VM address.
	SP vm.Addr

	// Root is the process's top-level page table.
	Root *vm.PTEGroupTable

	// Heap is the head of the process's free-region list (see heap.go). Nil until the process
	// touches its heap for the first time.
	Heap *HeapRegion

	// next and prev thread this PCB through the scheduler's ready queue. Both are
	// vm.PIDInvalid when the PCB is not on the ready queue.
	next, prev vm.PID
}
