package boot_test

import (
	"testing"

	"github.com/smoynes/elsie/internal/kernel/boot"
	"github.com/smoynes/elsie/internal/kernel/config"
	"github.com/smoynes/elsie/internal/kernel/flash"
	"github.com/smoynes/elsie/internal/kernel/image"
	"github.com/smoynes/elsie/internal/kernel/proc"
	"github.com/smoynes/elsie/internal/kernel/vm"
	"github.com/smoynes/elsie/internal/log"
)

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

func (s *memStore) ReadPage(page uint16) []byte        { return s.pages[page][:] }
func (s *memStore) WritePage(page uint16, data []byte) { copy(s.pages[page][:], data) }
func (s *memStore) EraseSector(sector int) {
	first := sector * config.FlashPagesPerSector
	for i := 0; i < config.FlashPagesPerSector; i++ {
		for j := range s.pages[first+i] {
			s.pages[first+i][j] = 0xFF
		}
	}
}

func TestCreateInstallsTextAndFaultsInStack(tt *testing.T) {
	tt.Parallel()

	fl := flash.New(newMemStore(), nil)
	k := vm.New(fl, log.DefaultLogger())
	k.MPU.Init()

	sched := proc.New(config.MaxProcesses)
	loader := boot.New(k, sched)

	text := make([]byte, 16)
	for i := range text {
		text[i] = byte(0xB0 + i)
	}

	initialSP := vm.Addr(0x20000)

	pcb, err := loader.Create(testImage(text), initialSP)
	if err != nil {
		tt.Fatalf("create: %v", err)
	}

	if pcb.State != proc.StateReady {
		tt.Fatalf("expected created process to be enqueued READY, got %s", pcb.State)
	}

	textPTE := k.Tables.AddressToPTE(pcb.Root, 0)
	if textPTE.Type() != vm.PTEFlash || !textPTE.IsGenericFlash() {
		tt.Fatalf("expected text page to be mapped as generic flash, got %s", textPTE.Type())
	}

	stackPTE := k.Tables.AddressToPTE(pcb.Root, initialSP)
	if stackPTE.Type() != vm.PTESRAM {
		tt.Fatalf("expected initial stack page to be faulted into SRAM, got %s", stackPTE.Type())
	}

	if pcb.Frame.PC != 1 {
		tt.Fatalf("expected entry point 0 with thumb bit set (1), got %#x", pcb.Frame.PC)
	}

	if pcb.Frame.PSR != proc.InitialPSR {
		tt.Fatalf("expected initial PSR %#x, got %#x", proc.InitialPSR, pcb.Frame.PSR)
	}
}

// testImage builds an image.Image with one segment at address 0 by round-tripping through the
// package's own text encoding, since segments is unexported by design -- an image is always
// produced by decoding a staged binary, never constructed field-by-field.
func testImage(data []byte) image.Image {
	enc := buildHex(0, data)

	var im image.Image
	if err := im.UnmarshalText(enc); err != nil {
		panic(err)
	}

	return im
}

// buildHex hand-encodes a single-record Intel-Hex-shaped image rather than reach into
// image.Image's unexported fields, exercising the real decode path the same way a staged binary
// would.
func buildHex(base uint32, data []byte) []byte {
	var out []byte

	out = append(out, ':')

	checksum := byte(len(data)) + byte(base>>8) + byte(base)

	out = appendHexByte(out, byte(len(data)))
	out = appendHexByte(out, byte(base>>8))
	out = appendHexByte(out, byte(base))
	out = appendHexByte(out, 0x00)

	for _, b := range data {
		out = appendHexByte(out, b)
		checksum += b
	}

	checksum = 1 + ^checksum
	out = appendHexByte(out, checksum)
	out = append(out, '\n')
	out = append(out, []byte(":00000001ff\n")...)

	return out
}

const hexDigits = "0123456789abcdef"

func appendHexByte(out []byte, b byte) []byte {
	return append(out, hexDigits[b>>4], hexDigits[b&0xF])
}
