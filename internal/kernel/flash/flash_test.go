package flash_test

import (
	"errors"
	"testing"

	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/flash"
)

// memStore is an in-memory Store used for tests that don't need real mmap semantics. It is sized
// to hold both the swap window and the generic region above it, matching MmapStore's layout.
type memStore struct {
	pages [config.FlashSwapPages + config.FlashGenericPages][config.PageSize]byte
}

func newMemStore() *memStore {
	s := &memStore{}
	for i := range s.pages {
		for j := range s.pages[i] {
			s.pages[i][j] = 0xFF
		}
	}

	return s
}

func (s *memStore) ReadPage(page uint16) []byte { return s.pages[page][:] }
func (s *memStore) WritePage(page uint16, data []byte) { copy(s.pages[page][:], data) }
func (s *memStore) EraseSector(sector int) {
	first := sector * config.FlashPagesPerSector
	for i := 0; i < config.FlashPagesPerSector; i++ {
		for j := range s.pages[first+i] {
			s.pages[first+i][j] = 0xFF
		}
	}
}

func TestProcurePageFreshSector(tt *testing.T) {
	tt.Parallel()

	m := flash.New(newMemStore(), nil)

	idx, err := m.ProcurePage()
	if err != nil {
		tt.Fatalf("procure: %v", err)
	}

	if idx.IsGeneric() {
		tt.Fatal("expected a swap index, got generic")
	}

	if idx.Page() != 0 {
		tt.Fatalf("expected the fresh window's first page (0), got %d", idx.Page())
	}
}

func TestProcurePageReusesFreedPage(tt *testing.T) {
	tt.Parallel()

	m := flash.New(newMemStore(), nil)

	a, _ := m.ProcurePage()
	b, _ := m.ProcurePage()

	if a == b {
		tt.Fatalf("expected distinct pages, got %d twice", a)
	}

	if err := m.Free(a); err != nil {
		tt.Fatalf("free: %v", err)
	}

	for i := 2; i < config.FlashSwapPages; i++ {
		if _, err := m.ProcurePage(); err != nil {
			tt.Fatalf("procure %d: %v", i, err)
		}
	}

	if c, err := m.ProcurePage(); err != nil || c != a {
		tt.Fatalf("expected the freed page %d to be handed out again, got %d (%v)", a, c, err)
	}
}

func TestFreeGenericRefused(tt *testing.T) {
	tt.Parallel()

	m := flash.New(newMemStore(), nil)

	if err := m.Free(flash.Generic(3)); !errors.Is(err, flash.ErrGenericFree) {
		tt.Fatalf("expected ErrGenericFree, got %v", err)
	}
}

func TestWriteGenericRefused(tt *testing.T) {
	tt.Parallel()

	m := flash.New(newMemStore(), nil)

	buf := make([]byte, config.PageSize)
	if err := m.Write(flash.Generic(3), buf); err == nil {
		tt.Fatal("expected write to generic page to fail")
	}
}

func TestLoadGenericReadsBack(tt *testing.T) {
	tt.Parallel()

	m := flash.New(newMemStore(), nil)

	page := make([]byte, config.PageSize)
	for i := range page {
		page[i] = byte(0xA0 + i%16)
	}

	idx := m.LoadGeneric(5, page)

	if !idx.IsGeneric() {
		tt.Fatal("expected LoadGeneric to return a generic index")
	}

	if !m.Equal(idx, page) {
		tt.Fatal("expected generic page to read back what was loaded")
	}
}

func TestNoSpacePanicsToError(tt *testing.T) {
	tt.Parallel()

	m := flash.New(newMemStore(), nil)

	// Every page of the fresh window, then every page of every sector as it is erased in turn.
	for i := 0; i < config.FlashSwapPages+config.FlashSwapSectors*config.FlashPagesPerSector; i++ {
		if _, err := m.ProcurePage(); err != nil {
			tt.Fatalf("unexpected exhaustion at page %d: %v", i, err)
		}
	}

	if _, err := m.ProcurePage(); !errors.Is(err, flash.ErrNoSpace) {
		tt.Fatalf("expected ErrNoSpace once the window is full and every sector erased, got %v", err)
	}
}

func TestEqualAndWrite(tt *testing.T) {
	tt.Parallel()

	m := flash.New(newMemStore(), nil)
	idx, _ := m.ProcurePage()

	page := make([]byte, config.PageSize)
	for i := range page {
		page[i] = byte(i)
	}

	if m.Equal(idx, page) {
		tt.Fatal("freshly erased page should not equal written content yet")
	}

	if err := m.Write(idx, page); err != nil {
		tt.Fatalf("write: %v", err)
	}

	if !m.Equal(idx, page) {
		tt.Fatal("expected page to equal what was just written")
	}
}
