package flash

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/smoynes/elsie/internal/kernel/config"
)

// MmapStore backs the swap window with a real memory-mapped scratch file, the same way the
// modeled NOR flash sits behind a memory-mapped address range on the target: pages are read and
// written as ordinary mapped memory, and an erase is a bulk reset of a sector's bytes to 0xFF,
// exercising the same mmap/msync syscalls a persistent-swap implementation would need.
type MmapStore struct {
	file *os.File
	data []byte
}

// NewMmapStore creates and maps a scratch file sized to hold the whole swap window plus the
// generic region above it. The file is unlinked once it is mapped, so the mapping is anonymous
// from the filesystem's point of view but still backed by the same syscalls a persistent-swap
// implementation would use.
func NewMmapStore() (*MmapStore, error) {
	f, err := os.CreateTemp("", "microvm-swap-*")
	if err != nil {
		return nil, fmt.Errorf("flash: create scratch file: %w", err)
	}

	size := int64((config.FlashSwapPages + config.FlashGenericPages) * config.PageSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("flash: truncate scratch file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flash: mmap: %w", err)
	}

	name := f.Name()
	_ = os.Remove(name) // unlink; the mapping keeps the storage alive

	for i := range data {
		data[i] = 0xFF // cold-start: every byte of an un-erased NOR cell reads 0xFF
	}

	return &MmapStore{file: f, data: data}, nil
}

// Close unmaps and releases the scratch file.
func (s *MmapStore) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("flash: munmap: %w", err)
	}

	return s.file.Close()
}

func (s *MmapStore) ReadPage(page uint16) []byte {
	off := int(page) * config.PageSize
	return s.data[off : off+config.PageSize]
}

func (s *MmapStore) WritePage(page uint16, data []byte) {
	off := int(page) * config.PageSize
	copy(s.data[off:off+config.PageSize], data)
}

func (s *MmapStore) EraseSector(sector int) {
	off := sector * config.FlashPagesPerSector * config.PageSize
	size := config.FlashPagesPerSector * config.PageSize

	sectorBytes := s.data[off : off+size]
	for i := range sectorBytes {
		sectorBytes[i] = 0xFF
	}

	_ = unix.Msync(s.data, unix.MS_SYNC)
}
