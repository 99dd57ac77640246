// Package faultcause stands in for the Cortex-M0's fault-instruction decoder: the hardware block
// that, given the instruction a bus fault trapped on, recovers the address and access kind the
// fault handler needs. The bytecode interpreter already knows which instruction it was executing
// when it needed a page, so this package's only job is to hold that one translation in a single
// named place instead of inlining it at every call site in internal/kernel/proc/exec.
package faultcause

import "github.com/smoynes/elsie/internal/kernel/vm"

// Cause names why the kernel's fault handler was invoked: which kind of synthetic trap the
// interpreter raised.
type Cause uint8

const (
	Fetch Cause = iota
	Load
	Store
)

func (c Cause) String() string {
	switch c {
	case Fetch:
		return "FETCH"
	case Load:
		return "LOAD"
	case Store:
		return "STORE"
	default:
		return "UNKNOWN"
	}
}

// Classify translates a synthetic trap cause into the AccessKind the VM fault handler expects.
// Instruction fetches and data loads both require only that the page be resident (AccessRead);
// only a store requires write access.
func Classify(c Cause) vm.AccessKind {
	if c == Store {
		return vm.AccessWrite
	}

	return vm.AccessRead
}
