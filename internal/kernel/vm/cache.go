package vm

// cache.go implements the write cache (C4): a bounded, in-SRAM staging area that buffers dirty
// pages on their way to flash, reducing flash wear by absorbing repeated writes to the same page
// before it is ever spilled.
//
// Each occupied slot is reachable from exactly one PTE. Rather than the reference-source's
// approach of re-deriving a cache slot's owning PTE from its owning process's whole page table on
// every clock tick -- noted there as a known inefficiency ("it seems somewhat inefficient to have
// to re-do this lookup every single time... we could change the lookup table to instead give the
// index of the PTE that owns the entry") -- this cache records the owning address directly
// alongside the owning process, so the clock hand resolves a slot's PTE in one step.

import (
	"fmt"

	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/flash"
)

// Cache is the write-cache staging area.
type Cache struct {
	slots [config.WriteCacheSlots][config.PageSize]byte

	occupied  [config.WriteCacheSlots]bool
	ownerPID  [config.WriteCacheSlots]PID
	ownerAddr [config.WriteCacheSlots]Addr

	bitmapStart int
	hand        int
}

// NewCache returns an empty write cache with every slot unowned.
func NewCache() *Cache {
	c := &Cache{}
	for i := range c.ownerPID {
		c.ownerPID[i] = PIDInvalid
	}

	return c
}

// Slot returns a mutable view of the given cache slot's page contents.
func (c *Cache) Slot(slot uint16) []byte {
	return c.slots[slot][:]
}

// procureFreeSlot scans the occupancy bitmap for a free slot, starting from the rotating start
// index, claims it, and returns it. Returns false if every slot is occupied.
func (c *Cache) procureFreeSlot() (uint16, bool) {
	for i := 0; i < config.WriteCacheSlots; i++ {
		idx := (c.bitmapStart + i) % config.WriteCacheSlots
		if !c.occupied[idx] {
			c.occupied[idx] = true
			c.bitmapStart = idx + 1

			return uint16(idx), true
		}
	}

	return 0, false
}

// findVictim runs the clock replacement algorithm: starting from the persistent hand, each
// occupied slot's owning PTE is consulted; if its aging counter is zero, that slot is the victim.
// Otherwise the counter is decremented and the hand advances. An unowned occupied slot (which
// should not normally occur, since an unowned slot should never have its bit set) is claimed
// outright.
func (c *Cache) findVictim(pt *PageTables) (slot uint16, pte *PTE) {
	for {
		c.hand %= config.WriteCacheSlots
		idx := c.hand

		if c.ownerPID[idx] == PIDInvalid {
			return uint16(idx), nil
		}

		root := pt.Root(c.ownerPID[idx])
		victim := pt.AddressToPTE(root, c.ownerAddr[idx])

		if victim.Aging() == 0 {
			return uint16(idx), victim
		}

		*victim = victim.WithAging(victim.Aging() - 1)
		c.hand++
	}
}

// ProcureEntry returns a free cache slot, evicting the clock-selected victim to flash if the
// cache is already at capacity.
func (c *Cache) ProcureEntry(pt *PageTables, fl *flash.Manager) (uint16, error) {
	if slot, ok := c.procureFreeSlot(); ok {
		return slot, nil
	}

	slot, victim := c.findVictim(pt)

	if victim != nil {
		if err := c.evict(fl, slot, victim); err != nil {
			return 0, err
		}
	} else {
		c.occupied[slot] = true
	}

	return slot, nil
}

// evict writes the cache slot's contents to a freshly procured flash page and rewrites the
// victim PTE in place to FLASH. The slot stays marked occupied and its owner is cleared; ProcureEntry
// hands it straight to its own caller.
func (c *Cache) evict(fl *flash.Manager, slot uint16, victim *PTE) error {
	idx, err := fl.ProcurePage()
	if err != nil {
		return fmt.Errorf("cache: evict slot %d: %w", slot, err)
	}

	if err := fl.Write(idx, c.Slot(slot)); err != nil {
		return fmt.Errorf("cache: evict slot %d: %w", slot, err)
	}

	*victim = NewFlashPTE(idx.Page(), false)

	c.ownerPID[slot] = PIDInvalid

	return nil
}

// Assign records that slot is now owned by pid via the PTE for addr, used whenever a PTE is
// (re)written to point at this slot.
func (c *Cache) Assign(slot uint16, pid PID, addr Addr) {
	c.occupied[slot] = true
	c.ownerPID[slot] = pid
	c.ownerAddr[slot] = addr
}
