// Package layout names the fixed addresses of a process's virtual address space: the linker-
// script memory map the original embedded target would otherwise encode in a .ld file, expressed
// here as Go constants so that boot, the interpreter, and the sample programs agree on where text
// and stack live instead of each hand-rolling its own magic numbers.
package layout

import "github.com/smoynes/elsie/internal/kernel/config"

const (
	// TextBase is the address every process's first generic-flash segment is staged at.
	TextBase = 0

	// HeapBase is where a process's heap region list (proc.HeapRegion) starts carving space
	// from, left with ample room below it for text and initialized data.
	HeapBase = config.VMWindowSize / 2

	// StackPage is the single page reserved at the top of the VM window for a process's
	// initial stack. boot.Loader faults it in before the process's first instruction runs.
	StackPage = config.VMWindowSize - config.PageSize

	// InitialSP is the stack pointer boot.Loader assigns a freshly created process: the last
	// word of the reserved stack page, so the first push has somewhere to land.
	InitialSP = StackPage + config.PageSize - 4
)
