// Package mpu models the hardware region-based memory protection unit that the virtual memory
// subsystem programs on every fault. The real unit exposes eight 32 KB regions, each divided into
// eight 4 KB subregions whose enable bits can only be toggled together as a 32-bit register write
// (never field-at-a-time: a documented memory-model requirement carried over from the original
// hardware). The modeled Driver below preserves that write discipline even though, in software,
// nothing would actually tear on a narrower store; the point is to keep the same shape the real
// driver must have, so the fault handler exercises the identical call sequence either way.
package mpu

import (
	"fmt"

	"github.com/smoynes/elsie/internal/kernel/config"
)

// AccessPermission mirrors the MPU's AP encoding: who may read and write a region.
type AccessPermission uint8

const (
	AccessNone       AccessPermission = iota // No access from any privilege level.
	AccessPrivOnly                           // Read/write from privileged code only.
	AccessFull                               // Read/write from any privilege level.
)

// rasr is the modeled "region attribute and size register": one word, written whole.
type rasr struct {
	enable     bool
	sizeBits   uint8 // region size is 1<<(sizeBits+1) bytes
	srd        uint8 // subregion disable mask; bit set == subregion disabled
	executable bool
	access     AccessPermission
}

// region is one hardware protection region.
type region struct {
	base uintptr
	rasr rasr
}

// Driver is the modeled MPU: a fixed array of foreground regions, one lowest-priority background
// region, and the control register. All mutation goes through whole-region writes (setRegion) to
// mirror the word-at-a-time hardware constraint.
type Driver struct {
	regions    [config.NumMPURegions]region
	background region
	enabled    bool
}

// New constructs an un-configured driver. Call Init before relying on fault behavior.
func New() *Driver {
	return &Driver{}
}

// Init assigns one region per 32 KB slice of the VM-managed SRAM window, all subregions disabled,
// so that every thread-mode access faults through to the handler. It additionally configures the
// background region covering the entire SRAM window as privileged-only, no-execute: on real
// hardware this is the region the core falls back to when every foreground region's covering
// subregion is disabled, and it exists so that an unmapped access from thread-mode code resolves
// to a permission fault rather than to whatever happened to be in the underlying memory.
func (d *Driver) Init() {
	for i := 0; i < config.NumMPURegions; i++ {
		d.setRegion(i, region{
			base: uintptr(i * config.MPURegionSize),
			rasr: rasr{
				enable:     true,
				sizeBits:   mpuSizeBits(config.MPURegionSize),
				srd:        0xFF, // all eight subregions disabled
				executable: true,
				access:     AccessFull,
			},
		})
	}

	d.background = region{
		base: 0,
		rasr: rasr{
			enable:     true,
			sizeBits:   mpuSizeBits(config.VMWindowSize),
			srd:        0, // no subregions: the background region is never toggled per-subregion
			executable: false,
			access:     AccessPrivOnly,
		},
	}

	d.enabled = true
}

// mpuSizeBits returns the RASR "SIZE" encoding for a power-of-two region size in bytes: the
// region covers 2^(sizeBits+1) bytes.
func mpuSizeBits(size int) uint8 {
	bits := uint8(0)
	for 1<<(bits+1) < size {
		bits++
	}

	return bits
}

// setRegion performs the whole-struct, single-store region update. Never write d.regions[i].rasr
// field-by-field outside this function: the hardware this models only accepts full-word writes to
// its control registers.
func (d *Driver) setRegion(i int, r region) {
	d.regions[i] = r
}

// regionIndex returns the MPU region covering addr, or -1 if addr lies outside the VM window.
func regionIndex(addr uintptr) int {
	i := int(addr / config.MPURegionSize)
	if i < 0 || i >= config.NumMPURegions {
		return -1
	}

	return i
}

// subregionIndex returns the subregion, within its region, that covers addr.
func subregionIndex(addr uintptr) int {
	offset := addr % config.MPURegionSize
	return int(offset / config.MPUSubregionSize)
}

// EnableSubregion clears the single disable bit covering addr. Precondition: addr lies in the
// VM-managed SRAM window.
func (d *Driver) EnableSubregion(addr uintptr) error {
	ri := regionIndex(addr)
	if ri < 0 {
		return fmt.Errorf("mpu: enable subregion: address %#x out of range", addr)
	}

	si := subregionIndex(addr)

	updated := d.regions[ri]
	updated.rasr.srd &^= 1 << uint(si)
	d.setRegion(ri, updated)

	return nil
}

// DisableAllSubregions re-asserts every disable bit in every region. Called at each context
// switch so that the outgoing process's mappings fault for the incoming process.
func (d *Driver) DisableAllSubregions() {
	for i := range d.regions {
		updated := d.regions[i]
		updated.rasr.srd = 0xFF
		d.setRegion(i, updated)
	}
}

// findCoveringRegion scans from the highest-numbered region downward -- higher-numbered regions
// take priority when regions overlap -- and returns the region index covering addr with its
// subregion currently enabled, or -1 if none match.
func (d *Driver) findCoveringRegion(addr uintptr) int {
	for i := len(d.regions) - 1; i >= 0; i-- {
		r := d.regions[i]

		size := uintptr(1) << (r.rasr.sizeBits + 1)
		if addr < r.base || addr >= r.base+size {
			continue
		}

		if !r.rasr.enable {
			continue
		}

		sub := (addr - r.base) / config.MPUSubregionSize
		if r.rasr.srd&(1<<uint(sub)) != 0 {
			continue
		}

		return i
	}

	return -1
}

// InstructionExecutable reports whether addr is covered by an enabled, executable region.
// Kernel.Fault does not call it: the fault handler treats every in-window fault the same way,
// whatever the access kind, and performs no executable check. An address
// whose subregion is disabled in every foreground region falls through to the no-execute
// background region, so it is reported non-executable rather than panicking on a missing region.
func (d *Driver) InstructionExecutable(addr uintptr) bool {
	i := d.findCoveringRegion(addr)
	if i < 0 {
		return d.background.rasr.executable
	}

	return d.regions[i].rasr.executable
}

// SubregionBase returns the 4 KB-aligned base address of the subregion covering addr.
func SubregionBase(addr uintptr) uintptr {
	return addr &^ (config.MPUSubregionSize - 1)
}
