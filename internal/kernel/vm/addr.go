package vm

// addr.go decomposes a VM address into the group/index/offset fields named in the data model. A
// VM address is 18 significant bits: a 6-bit group, a 4-bit index, and an 8-bit page offset.

import (
	"github.com/smoynes/elsie/internal/kernel/config"
)

// Addr is an address within the VM-managed SRAM window.
type Addr uint32

// Group returns the top-level page-table selector (6 bits, 0..63).
func (a Addr) Group() uint8 {
	return uint8((a >> (config.IndexBits + config.PageBits)) & (config.NumGroups - 1))
}

// Index returns the second-level page-table index (4 bits, 0..15) within the group.
func (a Addr) Index() uint8 {
	return uint8((a >> config.PageBits) & (config.GroupSize - 1))
}

// PageOffset returns the byte offset within the 256-byte page.
func (a Addr) PageOffset() uint8 {
	return uint8(a & (config.PageSize - 1))
}

// PageNumber returns the address's page number: (group, index) combined into a single 10-bit
// value, matching the SRAM-owner table's indexing.
func (a Addr) PageNumber() uint16 {
	return uint16(a>>config.PageBits) & (config.NumGroups*config.GroupSize - 1)
}

// PageBase returns the 256-byte-aligned base address of the page containing a.
func (a Addr) PageBase() Addr {
	return a &^ (config.PageSize - 1)
}

// InWindow reports whether a lies within the VM-managed SRAM window.
func (a Addr) InWindow() bool {
	return a < config.VMWindowSize
}

// PID is a process identifier: the index of a process's PCB within the PCB zone, equivalently
// the index of its page-table root within the page-table-root zone.
type PID uint8

// PIDInvalid is the reserved sentinel process id.
const PIDInvalid PID = config.PIDInvalid
