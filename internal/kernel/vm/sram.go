package vm

// sram.go models the VM-managed window of physical SRAM and the global ownership table that
// names, for each physical SRAM page, which process's data currently occupies it.

import (
	"github.com/smoynes/elsie/internal/kernel/config"
)

// SRAM is the VM-managed window of physical SRAM, addressed by byte.
type SRAM struct {
	cells [config.VMWindowSize]byte

	// owner maps SRAM page number -> owning process id, or PIDInvalid.
	owner [config.NumGroups * config.GroupSize]PID
}

// NewSRAM returns a freshly zeroed SRAM window with every page unowned.
func NewSRAM() *SRAM {
	s := &SRAM{}
	for i := range s.owner {
		s.owner[i] = PIDInvalid
	}

	return s
}

// Page returns a mutable view of the 256-byte page containing addr.
func (s *SRAM) Page(addr Addr) []byte {
	base := addr.PageBase()
	return s.cells[base : base+config.PageSize]
}

// PageByNumber returns a mutable view of the page with the given page number.
func (s *SRAM) PageByNumber(page uint16) []byte {
	base := int(page) * config.PageSize
	return s.cells[base : base+config.PageSize]
}

// Owner returns the current owning process of the SRAM page containing addr.
func (s *SRAM) Owner(addr Addr) PID {
	return s.owner[addr.PageNumber()]
}

// SetOwner records the owning process of the SRAM page containing addr.
func (s *SRAM) SetOwner(addr Addr, pid PID) {
	s.owner[addr.PageNumber()] = pid
}
