// Package config holds the compile-time constants that size the kernel's virtual memory
// subsystem. They are related by the invariants described alongside the vm package and may not be
// set independently; changing one without checking the others is a programming error, so the
// package validates them once in must() rather than scattering sanity checks across callers.
package config

import "fmt"

const (
	// PageBits is the width, in bits, of a page offset. A page is 2^PageBits bytes.
	PageBits = 8
	// PageSize is the size, in bytes, of a single software-managed page.
	PageSize = 1 << PageBits

	// IndexBits is the width of the second-level page-table index.
	IndexBits = 4
	// GroupBits is the width of the top-level page-table group selector.
	GroupBits = 6

	// GroupSize is the number of PTEs in a single PTE group (one MPU subregion's worth).
	GroupSize = 1 << IndexBits

	// NumGroups is the number of top-level groups, i.e. MPU subregions, in the VM window.
	NumGroups = 1 << GroupBits

	// VMWindowBits is the width of the VM-managed SRAM window's address space.
	VMWindowBits = GroupBits + IndexBits + PageBits
	// VMWindowSize is 2^18 bytes: the size of the VM-managed SRAM window.
	VMWindowSize = 1 << VMWindowBits

	// MPURegionBits is the width of a hardware MPU region: 32 KB.
	MPURegionBits = 15
	// MPURegionSize is the size, in bytes, of a single MPU region.
	MPURegionSize = 1 << MPURegionBits

	// MPUSubregionsPerRegion is the fixed hardware subregion count per MPU region.
	MPUSubregionsPerRegion = 8

	// MPUSubregionSize is the size, in bytes, of a single MPU subregion: 4 KB.
	MPUSubregionSize = MPURegionSize / MPUSubregionsPerRegion

	// PagesPerSubregion is the load-bearing identity: one MPU subregion covers exactly
	// this many software pages, so the fault handler can toggle permissions for a whole
	// subregion's worth of pages in one MPU write.
	PagesPerSubregion = MPUSubregionSize / PageSize

	// NumMPURegions is the number of hardware protection regions in the modeled MPU.
	NumMPURegions = VMWindowSize / MPURegionSize

	// MaxProcesses is the number of live processes the kernel can host. The value 15
	// (4-bit space minus one) is reserved for PIDInvalid.
	MaxProcesses = 15

	// PIDInvalid is the reserved sentinel process id.
	PIDInvalid = 15

	// MaxPTEGroups is the number of second-level page-table nodes the system can hold:
	// one byte indexes a group, and one value (GroupIndexInvalid) is reserved.
	MaxPTEGroups = 255

	// GroupIndexInvalid is the reserved sentinel top-level-table byte value.
	GroupIndexInvalid = 0xFF

	// WriteCacheSlots is the default number of in-SRAM write-cache staging slots.
	WriteCacheSlots = 256

	// FlashSwapPages is the default number of pages in the flash swap window.
	FlashSwapPages = 4096

	// FlashPagesPerSector is the number of swap pages erased together as one sector.
	FlashPagesPerSector = 16

	// FlashSwapSectors is the derived number of erase-granularity sectors in the swap window.
	FlashSwapSectors = FlashSwapPages / FlashPagesPerSector

	// FlashGenericPages is the size, in pages, of the read-only region holding pre-staged binary
	// images: process text and initialized data, flashed once at boot and never erased or
	// recycled into the swap bitmaps. It sits immediately above the swap window in the same
	// backing store.
	FlashGenericPages = 1024

	// AgingCounterBits is the width of a CACHE PTE's aging counter field.
	AgingCounterBits = 3
	// AgingCounterMax is the saturating cap of the aging counter.
	AgingCounterMax = (1 << AgingCounterBits) - 1
	// InitialAgingCounter is the value given to a freshly cached page, per §4.4: newly
	// cached entries deserve protection from the clock hand that's about to revisit them.
	InitialAgingCounter = 2
)

func init() {
	must()
}

// must panics if the compile-time constants above are not mutually consistent. It runs once at
// package initialization so an invariant violation surfaces immediately instead of part-way
// through a fault.
func must() {
	switch {
	case PagesPerSubregion*PageSize != MPUSubregionSize:
		panic(fmt.Sprintf("config: subregion size %d is not exactly %d pages of %d bytes",
			MPUSubregionSize, PagesPerSubregion, PageSize))
	case NumMPURegions*MPURegionSize != VMWindowSize:
		panic("config: MPU regions do not exactly tile the VM window")
	case MPUSubregionsPerRegion != MPURegionSize/MPUSubregionSize:
		panic("config: subregion count does not match region/subregion size ratio")
	case MaxPTEGroups >= 1<<8:
		panic("config: PTE group index must fit in one byte with a reserved sentinel")
	case MaxProcesses >= 1<<4:
		panic("config: process id must fit in 4 bits with a reserved sentinel")
	case FlashSwapPages%FlashPagesPerSector != 0:
		panic("config: flash swap window is not an exact number of sectors")
	}
}
