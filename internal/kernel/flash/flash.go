// Package flash implements the swap manager: the tier below the write cache, holding evicted
// pages in a NOR-flash-shaped swap window. Flash is written at page granularity and erased at
// sector granularity, and erasing is the only way to turn a written page back into a writable
// one -- so the manager tracks, with two bitmaps, which pages are occupied and which sectors have
// not yet been erased by the manager.
//
// Persistent state is intentionally not persisted: per the design, on cold start every sector is
// assumed fresh and every page free. A future on-flash directory is documented future work, not
// implemented here.
package flash

import (
	"bytes"
	"fmt"

	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/log"
)

// Index identifies a page within the swap window. The reserved top bit distinguishes a "generic"
// flash page -- mapped read-only, directly from a binary's in-flash image, never written back --
// from a "swap" page spilled out of the write cache.
type Index uint16

const genericBit = Index(1) << 15

// Swap returns a swap-window Index for the given swap-relative page number.
func Swap(page uint16) Index { return Index(page) }

// Generic returns a generic-flash Index for the given absolute flash page number.
func Generic(page uint16) Index { return Index(page) | genericBit }

// IsGeneric reports whether idx addresses a generic (read-only, binary-image) flash page.
func (idx Index) IsGeneric() bool { return idx&genericBit != 0 }

// Page returns the page number, stripped of the generic/swap discriminator bit.
func (idx Index) Page() uint16 { return uint16(idx &^ genericBit) }

// ErrNoSpace is returned when the swap window has no free page and no unerased sector left.
var ErrNoSpace = fmt.Errorf("flash: no space left in swap window")

// ErrWear is returned, in debug mode, when a sector erase did not reset every byte to 0xFF.
type ErrWear struct {
	Sector int
	Failed int
}

func (e *ErrWear) Error() string {
	return fmt.Sprintf("flash: wear failure: sector %d has %d bytes that did not erase to 0xFF", e.Sector, e.Failed)
}

// ErrGenericFree is returned by Free when asked to release a generic-flash index: those pages are
// never written back and must never re-enter the swap free bitmap.
var ErrGenericFree = fmt.Errorf("flash: cannot free a generic (read-only) flash page into the swap bitmap")

// Store is the backing byte storage for the swap window and the generic region above it,
// abstracted so a Manager can be built over an in-memory store in tests or over the
// memory-mapped file that NewMmapStore returns (see mmap.go). Page numbers are the store's flat
// numbering: swap pages first, generic pages after them (see storePage).
type Store interface {
	// ReadPage returns the contents of the given store page.
	ReadPage(page uint16) []byte
	// WritePage programs the contents of the given store page.
	WritePage(page uint16, data []byte)
	// EraseSector resets every byte of the given sector to 0xFF.
	EraseSector(sector int)
}

// Manager is the flash swap manager: C5 in the component table. It owns the page and sector
// bitmaps and the backing Store, and hands out fresh pages to the write cache's eviction path.
type Manager struct {
	store Store

	pageBitmap   []byte // 1 bit per swap page; 1 == occupied
	sectorBitmap []byte // 1 bit per swap sector; 1 == not yet erased by ProcurePage

	pageBitmapStart   int
	sectorBitmapStart int

	debug bool
	log   *log.Logger
}

// New builds a swap manager over store, with every sector marked fresh and every page free --
// the cold-start state described in the persistent-state-layout section of the design: the swap
// region carries no directory across reboots.
func New(store Store, logger *log.Logger) *Manager {
	m := &Manager{
		store:        store,
		pageBitmap:   make([]byte, (config.FlashSwapPages+7)/8),
		sectorBitmap: make([]byte, (config.FlashSwapSectors+7)/8),
		log:          logger,
	}

	for i := range m.sectorBitmap {
		m.sectorBitmap[i] = 0xFF // every sector starts "never erased", i.e. fresh & unwritten
	}

	return m
}

// WithDebug enables the post-erase wear sanity check.
func (m *Manager) WithDebug(on bool) *Manager {
	m.debug = on
	return m
}

func bitSet(bm []byte, i int) bool  { return bm[i/8]&(1<<uint(i%8)) != 0 }
func bitClear(bm []byte, i int)     { bm[i/8] &^= 1 << uint(i%8) }
func bitMark(bm []byte, i int)      { bm[i/8] |= 1 << uint(i%8) }

// findAndSetFirstZero scans up to the entire bitmap, starting from startAt, for a zero bit; sets
// it and returns its index, or -1 if every bit is already set.
func findAndSetFirstZero(bm []byte, sizeBits, startAt int) int {
	for i := 0; i < sizeBits; i++ {
		idx := (startAt + i) % sizeBits
		if !bitSet(bm, idx) {
			bitMark(bm, idx)
			return idx
		}
	}

	return -1
}

// ProcurePage acquires a free, already-erased swap page. It first looks for an unoccupied page;
// failing that, it erases the next un-erased sector, marks the sector erased, frees that sector's
// pages and claims its first page. When neither search succeeds it returns ErrNoSpace to the
// caller; it does not panic. Superseded pages are not garbage-collected.
func (m *Manager) ProcurePage() (Index, error) {
	if p := findAndSetFirstZero(m.pageBitmap, config.FlashSwapPages, m.pageBitmapStart); p >= 0 {
		m.pageBitmapStart = p + 1
		return Swap(uint16(p)), nil
	}

	sector := -1

	for i := 0; i < config.FlashSwapSectors; i++ {
		if s := (m.sectorBitmapStart + i) % config.FlashSwapSectors; bitSet(m.sectorBitmap, s) {
			bitClear(m.sectorBitmap, s)
			sector = s

			break
		}
	}

	if sector < 0 {
		return 0, ErrNoSpace
	}

	m.sectorBitmapStart = sector + 1

	if err := m.eraseSector(sector); err != nil {
		return 0, err
	}

	first := sector * config.FlashPagesPerSector
	bitMark(m.pageBitmap, first)

	for i := 1; i < config.FlashPagesPerSector; i++ {
		bitClear(m.pageBitmap, first+i)
	}

	return Swap(uint16(first)), nil
}

func (m *Manager) eraseSector(sector int) error {
	m.store.EraseSector(sector)

	if m.debug {
		base := sector * config.FlashPagesPerSector * config.PageSize
		size := config.FlashPagesPerSector * config.PageSize
		failed := 0

		for i := 0; i < size; i++ {
			page := m.store.ReadPage(uint16(base/config.PageSize + i/config.PageSize))
			if page[i%config.PageSize] != 0xFF {
				failed++
			}
		}

		if failed > 0 {
			err := &ErrWear{Sector: sector, Failed: failed}
			if m.log != nil {
				m.log.Error(err.Error())
			}

			return err
		}
	}

	return nil
}

// Read returns the contents of the page named by idx. A generic-flash index resolves against the
// generic region sitting above the swap window in the same backing store; callers never write
// through a generic index (see Write).
func (m *Manager) Read(idx Index) []byte {
	return m.store.ReadPage(m.storePage(idx))
}

// storePage translates an Index into the store's flat page numbering: swap pages map 1:1, generic
// pages are offset past the end of the swap window.
func (m *Manager) storePage(idx Index) uint16 {
	if idx.IsGeneric() {
		return uint16(config.FlashSwapPages) + idx.Page()
	}

	return idx.Page()
}

// Write programs data into the swap page named by idx. It is a programming error to call this
// with a generic-flash index: those pages are read-only views of a binary's image.
func (m *Manager) Write(idx Index, data []byte) error {
	if idx.IsGeneric() {
		return fmt.Errorf("flash: refusing write to generic flash page %d", idx.Page())
	}

	m.store.WritePage(idx.Page(), data)

	return nil
}

// Equal reports whether data matches the contents currently stored at idx, used by the fault
// handler to decide whether an eviction can be silently dropped.
func (m *Manager) Equal(idx Index, data []byte) bool {
	return bytes.Equal(m.store.ReadPage(m.storePage(idx)), data)
}

// LoadGeneric programs data directly into the flash store at the given absolute page number,
// bypassing the swap bitmaps entirely, and returns a generic-flash Index naming it. This is the
// one privileged write path that produces generic pages: boot-time image loading, before any
// process runs and before the swap window's own bookkeeping has anything to say about that page.
func (m *Manager) LoadGeneric(page uint16, data []byte) Index {
	idx := Generic(page)
	m.store.WritePage(m.storePage(idx), data)

	return idx
}

// Free marks a swap page as unoccupied again. It refuses to do so for a generic-flash index: per
// the design, generic pages are never written back and must never be recycled into the swap
// bitmap, since doing so would let the swap manager hand out a page that is secretly still a
// binary's live text or data.
func (m *Manager) Free(idx Index) error {
	if idx.IsGeneric() {
		return ErrGenericFree
	}

	bitClear(m.pageBitmap, int(idx.Page()))

	return nil
}
