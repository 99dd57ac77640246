// Package exec implements the tiny bytecode interpreter that stands in for real instruction
// execution. A "process" is a bytecode program whose every fetch, load, and store is dispatched
// through the VM subsystem's fault handler, so that genuine page faults are raised and handled by
// internal/kernel/vm exactly as spec'd -- the same way the teacher's internal/vm CPU fetched and
// retired one LC-3 instruction at a time against its own memory-mapped address space.
package exec

import (
	"fmt"

	"github.com/smoynes/elsie/internal/kernel/faultcause"
	"github.com/smoynes/elsie/internal/kernel/proc"
	"github.com/smoynes/elsie/internal/kernel/vm"
	"github.com/smoynes/elsie/internal/log"
)

// Op is a bytecode instruction opcode.
type Op byte

const (
	OpHalt    Op = iota // halt the process
	OpLoadImm           // Rd = operand
	OpLoad              // Rd = mem32[operand]
	OpStore             // mem32[operand] = Rd
	OpAdd               // Rd = Rd + operand
	OpJump              // PC = operand
	OpYield             // voluntarily yield the processor
)

// InstrSize is the fixed width, in bytes, of one bytecode instruction: one opcode byte, one
// register-index byte, two reserved bytes, and a big-endian 4-byte operand.
const InstrSize = 8

// numRegisters is the count of general-purpose registers a program can address: R0-R3 of the
// saved frame.
const numRegisters = 4

// ErrHalted is returned by Resume once a process has executed OpHalt.
var ErrHalted = fmt.Errorf("exec: process halted")

// ErrYield is returned by Resume when a process voluntarily yields the processor.
var ErrYield = fmt.Errorf("exec: process yielded")

// Interpreter executes bytecode instructions for processes, routing every instruction fetch and
// every load/store through the kernel's fault handler.
type Interpreter struct {
	kernel *vm.Kernel
	log    *log.Logger
}

// New returns an Interpreter bound to kernel.
func New(kernel *vm.Kernel, logger *log.Logger) *Interpreter {
	return &Interpreter{kernel: kernel, log: logger}
}

// Resume executes exactly one bytecode instruction for pcb -- the interpreter's realization of
// the spec's "resume the faulting instruction" primitive. Every memory access the instruction
// makes is routed through Kernel.Fault before anything is read or written, and the saved program
// counter is only advanced once the instruction completes without error: calling Resume again
// after a returned error re-dispatches the identical instruction instead of skipping past it, the
// same guarantee hardware gets by decrementing the saved PC before returning from the fault
// handler. ErrYield is the one exception: OpYield advances the PC before returning it, so the next
// Resume runs the following instruction.
func (in *Interpreter) Resume(pcb *proc.PCB) error {
	pc := vm.Addr(pcb.Frame.PC &^ 1) // the saved PC carries the thumb bit; the fetch address doesn't

	raw, err := in.readBytes(pcb, pc, InstrSize, faultcause.Fetch)
	if err != nil {
		return fmt.Errorf("exec: fetch %#x: %w", pc, err)
	}

	op := Op(raw[0])
	reg := raw[1]
	operand := uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7])

	if reg >= numRegisters && (op == OpLoadImm || op == OpLoad || op == OpStore || op == OpAdd) {
		return fmt.Errorf("exec: %#x: register %d out of range", pc, reg)
	}

	switch op {
	case OpHalt:
		pcb.State = proc.StateZombie
		return ErrHalted

	case OpLoadImm:
		in.setReg(pcb, reg, operand)

	case OpLoad:
		val, err := in.load(pcb, vm.Addr(operand))
		if err != nil {
			return fmt.Errorf("exec: %#x: load %#x: %w", pc, operand, err)
		}

		in.setReg(pcb, reg, val)

	case OpStore:
		if err := in.store(pcb, vm.Addr(operand), in.getReg(pcb, reg)); err != nil {
			return fmt.Errorf("exec: %#x: store %#x: %w", pc, operand, err)
		}

	case OpAdd:
		in.setReg(pcb, reg, in.getReg(pcb, reg)+operand)

	case OpJump:
		pcb.Frame.PC = operand | 1
		return nil

	case OpYield:
		pcb.Frame.PC = (uint32(pc) + InstrSize) | 1
		return ErrYield

	default:
		return fmt.Errorf("exec: %#x: unknown opcode %#x", pc, op)
	}

	pcb.Frame.PC = (uint32(pc) + InstrSize) | 1

	return nil
}

func (in *Interpreter) readBytes(pcb *proc.PCB, addr vm.Addr, n int, cause faultcause.Cause) ([]byte, error) {
	if err := in.kernel.Fault(pcb.PID, addr, faultcause.Classify(cause)); err != nil {
		return nil, err
	}

	page := in.kernel.SRAM.Page(addr)
	off := int(addr.PageOffset())

	if off+n > len(page) {
		return nil, fmt.Errorf("%s %#x spans a page boundary", cause, addr)
	}

	return page[off : off+n], nil
}

func (in *Interpreter) load(pcb *proc.PCB, addr vm.Addr) (uint32, error) {
	bs, err := in.readBytes(pcb, addr, 4, faultcause.Load)
	if err != nil {
		return 0, err
	}

	return uint32(bs[0])<<24 | uint32(bs[1])<<16 | uint32(bs[2])<<8 | uint32(bs[3]), nil
}

func (in *Interpreter) store(pcb *proc.PCB, addr vm.Addr, val uint32) error {
	if err := in.kernel.Fault(pcb.PID, addr, faultcause.Classify(faultcause.Store)); err != nil {
		return err
	}

	page := in.kernel.SRAM.Page(addr)
	off := int(addr.PageOffset())

	if off+4 > len(page) {
		return fmt.Errorf("store %#x spans a page boundary", addr)
	}

	page[off] = byte(val >> 24)
	page[off+1] = byte(val >> 16)
	page[off+2] = byte(val >> 8)
	page[off+3] = byte(val)

	return nil
}

func (in *Interpreter) getReg(pcb *proc.PCB, reg byte) uint32 {
	switch reg {
	case 0:
		return pcb.Frame.R0
	case 1:
		return pcb.Frame.R1
	case 2:
		return pcb.Frame.R2
	default:
		return pcb.Frame.R3
	}
}

func (in *Interpreter) setReg(pcb *proc.PCB, reg byte, val uint32) {
	switch reg {
	case 0:
		pcb.Frame.R0 = val
	case 1:
		pcb.Frame.R1 = val
	case 2:
		pcb.Frame.R2 = val
	default:
		pcb.Frame.R3 = val
	}
}
