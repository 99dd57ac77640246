// Package testprograms provides pre-assembled bytecode images for the sample programs
// cmd/microvmd run boots when given no image of its own: the collaborator spec.md names as
// "user programs themselves", modeled as canned binaries rather than a general-purpose assembler
// since writing one is explicitly out of scope.
package testprograms

import (
	"github.com/smoynes/elsie/internal/kernel/image"
	"github.com/smoynes/elsie/internal/kernel/layout"
	"github.com/smoynes/elsie/internal/kernel/proc/exec"
)

// instr encodes one fixed-width bytecode instruction.
func instr(op exec.Op, reg byte, operand uint32) []byte {
	b := make([]byte, exec.InstrSize)
	b[0] = byte(op)
	b[1] = reg
	b[4] = byte(operand >> 24)
	b[5] = byte(operand >> 16)
	b[6] = byte(operand >> 8)
	b[7] = byte(operand)

	return b
}

func assemble(instrs ...[]byte) []byte {
	out := make([]byte, 0, len(instrs)*exec.InstrSize)
	for _, in := range instrs {
		out = append(out, in...)
	}

	return out
}

// Echo stores an immediate value to addr, then loads it straight back into a second register --
// the minimal program exercising first-touch allocation followed by a same-page re-read that
// finds its own unevicted content still resident (the idempotent-fault property).
func Echo(addr, value uint32) image.Image {
	code := assemble(
		instr(exec.OpLoadImm, 0, value),
		instr(exec.OpStore, 0, addr),
		instr(exec.OpLoadImm, 1, 0),
		instr(exec.OpLoad, 1, addr),
		instr(exec.OpHalt, 0, 0),
	)

	return image.New(layout.TextBase, layout.TextBase, code)
}

// ReExecution stores a value, voluntarily yields -- giving a neighbor process a chance to evict
// the page out of SRAM -- then loads the same address back. Paired with Filler writing to the
// same address while ReExecution is parked, this exercises the scenario where a page already
// promoted to the write cache is faulted back into SRAM for a second access without its PTE
// regressing to SRAM type.
func ReExecution(addr, value uint32) image.Image {
	code := assemble(
		instr(exec.OpLoadImm, 0, value),
		instr(exec.OpStore, 0, addr),
		instr(exec.OpYield, 0, 0),
		instr(exec.OpLoadImm, 1, 0),
		instr(exec.OpLoad, 1, addr),
		instr(exec.OpHalt, 0, 0),
	)

	return image.New(layout.TextBase, layout.TextBase, code)
}

// Filler writes once to addr and halts. Run between two steps of a ReExecution process sharing
// the same address, its store is what forces the neighbor's page out of SRAM.
func Filler(addr, value uint32) image.Image {
	code := assemble(
		instr(exec.OpLoadImm, 0, value),
		instr(exec.OpStore, 0, addr),
		instr(exec.OpHalt, 0, 0),
	)

	return image.New(layout.TextBase, layout.TextBase, code)
}

// All returns the bundled sample programs cmd/microvmd run boots when given no explicit image
// path: Echo exercises first-touch allocation and a same-page re-read at one address, and the
// ReExecution/Filler pair exercise the re-execution scenario at another.
func All() []image.Image {
	const (
		echoAddr = layout.HeapBase
		reExecAddr = layout.HeapBase + 4
	)

	return []image.Image{
		Echo(echoAddr, 0xCAFEF00D),
		ReExecution(reExecAddr, 0xC0FFEE),
		Filler(reExecAddr, 0xBAAAAAAD),
	}
}
