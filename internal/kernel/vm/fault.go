package vm

// fault.go implements the fault handler (C6), the central control path of the VM subsystem: on
// a data access fault, evict every page in the faulting subregion that belongs to some other
// process, read in (or first-touch allocate) the active process's mapping for the subregion,
// enable the subregion in the MPU, and signal the caller to resume the faulting instruction.
//
// The order evict-all -> read-in-all -> MPU-enable is required and is enforced simply by the
// shape of this function: each phase completes in full, for every page in the subregion, before
// the next begins.

import (
	"bytes"
	"fmt"

	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/flash"
)

// AccessKind is the kind of memory access that faulted, as reported by the external
// fault-classifier collaborator.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
)

// ErrOutOfRange is returned when a faulting address lies outside the VM-managed SRAM window. The
// caller treats this as "not a VM fault" and falls through to its own unhandled-fault path.
var ErrOutOfRange = fmt.Errorf("vm: faulting address out of range")

// InvariantViolation is panicked when kernel state that must be internally consistent by
// construction is found not to be -- a PTE with an out-of-range discriminator, or similar. There
// is no recovery path for this condition; see PageContents.
type InvariantViolation struct {
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("vm: invariant violation: %s", e.Detail)
}

// Fault runs the fault handler's core algorithm for the active process pid faulting at addr. It
// returns nil on success, in which case the caller should resume the faulting instruction;
// ErrOutOfRange if addr is outside the VM window, in which case the caller should treat the fault
// as unhandled.
func (k *Kernel) Fault(pid PID, addr Addr, _ AccessKind) error {
	if !addr.InWindow() {
		return ErrOutOfRange
	}

	root := k.Tables.Root(pid)
	subregionBase := addr.PageBase() &^ (config.MPUSubregionSize - 1)

	if err := k.evictSubregion(pid, Addr(subregionBase)); err != nil {
		return err
	}

	if err := k.readInSubregion(root, Addr(subregionBase)); err != nil {
		return err
	}

	if err := k.MPU.EnableSubregion(uintptr(subregionBase)); err != nil {
		return fmt.Errorf("vm: fault: %w", err)
	}

	return nil
}

// evictSubregion walks every page of the subregion covering base and evicts any page not already
// owned by pid, then assigns ownership to pid.
func (k *Kernel) evictSubregion(pid PID, base Addr) error {
	for offset := Addr(0); offset < config.MPUSubregionSize; offset += config.PageSize {
		page := base + offset

		if k.SRAM.Owner(page) != pid {
			if err := k.evictSRAMPage(page); err != nil {
				return err
			}

			k.SRAM.SetOwner(page, pid)
		}
	}

	return nil
}

// evictSRAMPage evicts the SRAM page at addr from whoever currently owns it, guaranteeing the
// page is unoccupied -- free of any other process's live data -- on return. If the page was never
// dirtied relative to its existing backing copy, the eviction is silent: nothing is copied
// anywhere.
func (k *Kernel) evictSRAMPage(addr Addr) error {
	owner := k.SRAM.Owner(addr)
	if owner == PIDInvalid {
		return nil
	}

	root := k.Tables.Root(owner)

	pte := k.Tables.AddressToPTE(root, addr)
	if pte == nil || pte.Type() == PTEInvalid {
		return nil
	}

	page := k.SRAM.Page(addr)

	if pte.Type() != PTESRAM {
		backing, err := k.PageContents(*pte)
		if err != nil {
			return err
		}

		if bytes.Equal(page, backing) {
			return nil // silent drop: this copy is identical to its backing copy
		}
	}

	if pte.Type() == PTECache {
		copy(k.Cache.Slot(pte.CacheSlot()), page)
		aging := pte.Aging()

		if aging < config.AgingCounterMax {
			aging++
		}

		*pte = pte.WithAging(aging)

		return nil
	}

	// pte.Type() is SRAM or FLASH: procure a fresh cache slot and demote.
	slot, err := k.Cache.ProcureEntry(k.Tables, k.Flash)
	if err != nil {
		return fmt.Errorf("vm: evict %#x: %w", addr, err)
	}

	copy(k.Cache.Slot(slot), page)
	k.Cache.Assign(slot, owner, addr)
	*pte = NewCachePTE(slot, config.InitialAgingCounter)

	return nil
}

// readInSubregion ensures the process's page table covers base's subregion and that the SRAM
// contents of that subregion match what the page table says they should be. On first touch, the
// sixteen PTEs are installed as SRAM entries naming their own page numbers and the SRAM is
// zeroed. Otherwise every page's existing backing content is copied in, except that a page whose
// PTE is still INVALID is first-touched on its own: it becomes an SRAM entry and is zeroed.
func (k *Kernel) readInSubregion(root *PTEGroupTable, base Addr) error {
	_, created, err := k.Tables.EnsureGroup(root, base)
	if err != nil {
		return fmt.Errorf("vm: read-in: %w", err)
	}

	if created {
		for offset := Addr(0); offset < config.MPUSubregionSize; offset += config.PageSize {
			page := base + offset
			pte := k.Tables.AddressToPTE(root, page)
			*pte = NewSRAMPTE(page.PageNumber())

			clear(k.SRAM.Page(page))
		}

		return nil
	}

	for offset := Addr(0); offset < config.MPUSubregionSize; offset += config.PageSize {
		page := base + offset
		pte := k.Tables.AddressToPTE(root, page)

		if pte.Type() == PTEInvalid {
			*pte = NewSRAMPTE(page.PageNumber())
			clear(k.SRAM.Page(page))

			continue
		}

		contents, err := k.PageContents(*pte)
		if err != nil {
			return err
		}

		copy(k.SRAM.Page(page), contents)
	}

	return nil
}

// PageContents resolves a PTE's current physical location and returns a read-only view of its
// contents, discriminating on the PTE's type. Any other type, INVALID included, is a programming
// invariant violation and panics with an *InvariantViolation: callers only pass PTEs that are one
// of the three live variants.
func (k *Kernel) PageContents(pte PTE) ([]byte, error) {
	switch pte.Type() {
	case PTESRAM:
		return k.SRAM.PageByNumber(pte.SRAMPage()), nil
	case PTECache:
		return k.Cache.Slot(pte.CacheSlot()), nil
	case PTEFlash:
		idx := flash.Swap(pte.FlashPage())
		if pte.IsGenericFlash() {
			idx = flash.Generic(pte.FlashPage())
		}

		return k.Flash.Read(idx), nil
	default:
		panic(&InvariantViolation{Detail: fmt.Sprintf("PTE has unknown type %d", pte.Type())})
	}
}
