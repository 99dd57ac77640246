// Package image decodes the pre-staged binary images that boot.Loader.Create installs as a process's
// generic (read-only) flash pages. The encoding is adapted, byte-for-byte record shape, from the
// kernel's own Intel-Hex-derived object encoding -- the checksum and record grammar are unchanged,
// only the payload unit moves from 16-bit words to raw bytes, since a flash page here is addressed
// and paged at byte granularity rather than the original word-addressed instruction memory.
package image

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

const Grammar = `
file  = { line } ;
line  = ':' len addr type data check nl ;
len   = byte ;
addr  = byte byte ;
type  = byte ;
data  = { byte }
byte  = hex hex ;
hex   = '0' | '1' | '2' | '3' | '4' | '5' | '6' | '7' | '8' | '9'
      | 'a' | 'b' | 'c' | 'd' | 'e' | 'f' | 'A' | 'B' | 'C' | 'D' | 'E' | 'F' ;
nl    = '\n' ;
`

// Segment is one contiguous run of bytes destined for a process's VM address space, starting at
// Base.
type Segment struct {
	Base uint32
	Data []byte
}

// Image is a process's pre-staged binary: the byte contents that boot.Loader.Create pages in as generic
// flash, plus the entry point the first saved frame's PC is built from.
type Image struct {
	Entry    uint32
	segments []Segment
}

// Segments returns the decoded segments.
func (im Image) Segments() []Segment {
	return im.segments
}

// New assembles an Image with a single segment, for tooling that synthesizes an image directly
// in Go (see internal/kernel/proc/testprograms) rather than decoding one staged to disk. Decoding
// a binary read from storage always goes through UnmarshalText; New is the in-process equivalent
// for code that plays the role of an assembler or linker instead of a loader.
func New(entry, base uint32, data []byte) Image {
	return Image{
		Entry:    entry,
		segments: []Segment{{Base: base, Data: append([]byte(nil), data...)}},
	}
}

func (im *Image) MarshalText() ([]byte, error) {
	var (
		buf   bytes.Buffer
		check byte
	)

	for _, seg := range im.segments {
		for off := 0; off < len(seg.Data); off += 255 {
			chunk := seg.Data[off:]
			if len(chunk) > 255 {
				chunk = chunk[:255]
			}

			if err := writeRecord(&buf, seg.Base+uint32(off), chunk, &check); err != nil {
				return buf.Bytes(), err
			}
		}
	}

	buf.WriteString(":00000001ff\n")

	return buf.Bytes(), nil
}

func writeRecord(buf *bytes.Buffer, addr uint32, data []byte, check *byte) error {
	buf.WriteByte(':')

	enc := hex.NewEncoder(buf)

	var hdr [3]byte

	hdr[0] = byte(len(data))
	hdr[1] = byte(addr >> 8)
	hdr[2] = byte(addr)

	if _, err := enc.Write(hdr[:]); err != nil {
		return err
	}

	buf.WriteByte('0')
	buf.WriteByte('0')

	sum := hdr[0] + hdr[1] + hdr[2]

	if _, err := enc.Write(data); err != nil {
		return err
	}

	for _, b := range data {
		sum += b
	}

	sum = 1 + ^sum
	_, err := enc.Write([]byte{sum})

	return err
}

type kind byte

const (
	kindData kind = 0
	kindEOF  kind = 1
)

func (im *Image) UnmarshalText(bs []byte) error {
	line := bufio.NewScanner(bytes.NewReader(bs))

	for line.Scan() {
		rec := line.Bytes()

		if len(rec) == 0 {
			continue
		} else if rec[0] != ':' {
			return fmt.Errorf("%w: line does not start with ':'", ErrDecode)
		}

		var dec [1]byte

		if _, err := hex.Decode(dec[:], rec[1:3]); err != nil {
			return fmt.Errorf("%w: len: %s", ErrDecode, err)
		}

		recLen := dec[0]

		var addrBuf [2]byte
		if _, err := hex.Decode(addrBuf[:], rec[3:7]); err != nil {
			return fmt.Errorf("%w: addr: %s", ErrDecode, err)
		}

		recAddr := binary.BigEndian.Uint16(addrBuf[:])

		if _, err := hex.Decode(dec[:], rec[7:9]); err != nil {
			return fmt.Errorf("%w: type: %s", ErrDecode, err)
		}

		recKind := kind(dec[0])

		var checkBuf [1]byte
		if _, err := hex.Decode(checkBuf[:], rec[len(rec)-2:]); err != nil {
			return fmt.Errorf("%w: check: %s", ErrDecode, err)
		}

		recCheck := checkBuf[0]

		check := recLen + addrBuf[0] + addrBuf[1]

		switch recKind {
		case kindData:
			data := make([]byte, recLen)

			if _, err := hex.Decode(data, rec[9:9+int(recLen)*2]); err != nil {
				return fmt.Errorf("%w: data: %s", ErrDecode, err)
			}

			for _, b := range data {
				check += b
			}

			check = 1 + ^check
			if check != recCheck {
				return fmt.Errorf("%w: checksum invalid: %02x != %02x", ErrDecode, check, recCheck)
			}

			im.segments = append(im.segments, Segment{Base: uint32(recAddr), Data: data})
		case kindEOF:
			return nil
		default:
			return fmt.Errorf("%w: unexpected record type: %d", ErrDecode, recKind)
		}
	}

	if len(im.segments) == 0 {
		return ErrEmpty
	}

	return nil
}

var (
	// ErrDecode is wrapped by every decoding failure.
	ErrDecode = fmt.Errorf("image: invalid encoding")
	// ErrEmpty is returned when an image carries no segments.
	ErrEmpty = fmt.Errorf("image: no segments decoded")
)
