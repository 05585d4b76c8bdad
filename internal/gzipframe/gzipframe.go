// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gzipframe parses gzip (RFC 1952) and zlib (RFC 1950) container
// framing: member headers and footers, optional extra/name/comment fields,
// the BGZF "BC" extra subfield used to detect pre-chunked bgzf streams, and
// multi-member iteration. It does not touch the DEFLATE payload itself
// (internal/deflate does that); it only locates where a member's compressed
// data starts and validates/reports its trailer.
package gzipframe

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	gzipMagic0 = 0x1f
	gzipMagic1 = 0x8b
	methodDeflate = 8
)

// Flag bits from RFC 1952 §2.3.1. Bits 5-7 are reserved and must be zero.
const (
	flagText = 1 << iota
	flagHCRC
	flagExtra
	flagName
	flagComment
	flagReservedMask = 0xE0
)

// ErrorKind distinguishes header-validation failures (spec.md §4.4) from
// plain I/O errors.
type ErrorKind int

const (
	_ ErrorKind = iota
	ErrHeaderCRCMismatch
	ErrInvalidFlags
)

func (k ErrorKind) String() string {
	switch k {
	case ErrHeaderCRCMismatch:
		return "header CRC mismatch"
	case ErrInvalidFlags:
		return "invalid header flags"
	default:
		return "unknown gzipframe error"
	}
}

// Error wraps an ErrorKind with context.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("gzipframe: %s: %s", e.Kind, e.Msg) }

// ExtraField is one SI1/SI2-tagged subfield of a gzip header's FEXTRA data
// (RFC 1952 §2.3.1.1).
type ExtraField struct {
	SI1, SI2 byte
	Data     []byte
}

// Header describes a single gzip member's header, per RFC 1952 §2.3.
type Header struct {
	Method     uint8
	Flags      uint8
	ModTime    uint32
	ExtraFlags uint8
	OS         uint8
	Extra      []ExtraField
	Name       string
	Comment    string

	// HeaderLen is the number of bytes consumed from the start of the member
	// to the first byte of its DEFLATE payload.
	HeaderLen int64

	// BGZFBlockSize is the total compressed size, in bytes, of this member as
	// declared by a "BC" extra subfield (BSIZE+1, per the SAM/BGZF spec), or
	// -1 if no such subfield is present.
	BGZFBlockSize int64
}

// Footer is a gzip member's 8-byte trailer (RFC 1952 §2.3.1).
type Footer struct {
	CRC32 uint32
	ISIZE uint32 // uncompressed size mod 2^32
}

// ReadHeader parses one gzip member header starting at the current position
// of r, which must be byte-aligned (headers always start and end on a byte
// boundary).
func ReadHeader(r io.Reader) (*Header, error) {
	hasher := crc32.NewIEEE()
	hr := io.TeeReader(r, hasher)

	var magic [10]byte
	if _, err := io.ReadFull(hr, magic[:]); err != nil {
		return nil, fmt.Errorf("gzipframe: reading fixed header: %w", err)
	}
	if magic[0] != gzipMagic0 || magic[1] != gzipMagic1 {
		return nil, fmt.Errorf("gzipframe: bad magic %02x%02x", magic[0], magic[1])
	}
	h := &Header{
		Method:        magic[2],
		Flags:         magic[3],
		ModTime:       binary.LittleEndian.Uint32(magic[4:8]),
		ExtraFlags:    magic[8],
		OS:            magic[9],
		BGZFBlockSize: -1,
	}
	if h.Method != methodDeflate {
		return nil, fmt.Errorf("gzipframe: unsupported compression method %d", h.Method)
	}
	if h.Flags&flagReservedMask != 0 {
		return nil, &Error{ErrInvalidFlags, fmt.Sprintf("reserved flag bits set: %#08b", h.Flags)}
	}
	n := int64(len(magic))

	if h.Flags&flagExtra != 0 {
		var xlenBuf [2]byte
		if _, err := io.ReadFull(hr, xlenBuf[:]); err != nil {
			return nil, fmt.Errorf("gzipframe: reading XLEN: %w", err)
		}
		xlen := binary.LittleEndian.Uint16(xlenBuf[:])
		n += 2
		extra := make([]byte, xlen)
		if _, err := io.ReadFull(hr, extra); err != nil {
			return nil, fmt.Errorf("gzipframe: reading extra field: %w", err)
		}
		n += int64(xlen)
		fields, err := parseExtraSubfields(extra)
		if err != nil {
			return nil, err
		}
		h.Extra = fields
		for _, f := range fields {
			if f.SI1 == 'B' && f.SI2 == 'C' && len(f.Data) == 2 {
				bsize := binary.LittleEndian.Uint16(f.Data)
				h.BGZFBlockSize = int64(bsize) + 1
			}
		}
	}
	if h.Flags&flagName != 0 {
		s, consumed, err := readCString(hr)
		if err != nil {
			return nil, fmt.Errorf("gzipframe: reading FNAME: %w", err)
		}
		h.Name = s
		n += consumed
	}
	if h.Flags&flagComment != 0 {
		s, consumed, err := readCString(hr)
		if err != nil {
			return nil, fmt.Errorf("gzipframe: reading FCOMMENT: %w", err)
		}
		h.Comment = s
		n += consumed
	}
	if h.Flags&flagHCRC != 0 {
		// FHCRC covers every header byte read so far, so it must be read
		// from r directly rather than hr: including it in hasher would
		// make the comparison circular.
		var crcBuf [2]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			return nil, fmt.Errorf("gzipframe: reading FHCRC: %w", err)
		}
		n += 2
		want := uint16(hasher.Sum32())
		got := binary.LittleEndian.Uint16(crcBuf[:])
		if got != want {
			return nil, &Error{ErrHeaderCRCMismatch, fmt.Sprintf("got %#04x, want %#04x", got, want)}
		}
	}
	h.HeaderLen = n
	return h, nil
}

func parseExtraSubfields(extra []byte) ([]ExtraField, error) {
	var fields []ExtraField
	for len(extra) > 0 {
		if len(extra) < 4 {
			return nil, fmt.Errorf("gzipframe: truncated extra subfield")
		}
		si1, si2 := extra[0], extra[1]
		flen := binary.LittleEndian.Uint16(extra[2:4])
		if len(extra) < 4+int(flen) {
			return nil, fmt.Errorf("gzipframe: truncated extra subfield data")
		}
		data := make([]byte, flen)
		copy(data, extra[4:4+flen])
		fields = append(fields, ExtraField{SI1: si1, SI2: si2, Data: data})
		extra = extra[4+flen:]
	}
	return fields, nil
}

func readCString(r io.Reader) (string, int64, error) {
	var buf []byte
	var b [1]byte
	var n int64
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", n, err
		}
		n++
		if b[0] == 0 {
			break
		}
		buf = append(buf, b[0])
	}
	return string(buf), n, nil
}

// ReadFooter parses a gzip member's 8-byte trailer.
func ReadFooter(r io.Reader) (*Footer, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("gzipframe: reading footer: %w", err)
	}
	return &Footer{
		CRC32: binary.LittleEndian.Uint32(buf[0:4]),
		ISIZE: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// ZlibHeader describes a zlib stream's 2-byte header (RFC 1950 §2.2).
type ZlibHeader struct {
	CompressionMethod uint8
	CompressionInfo   uint8
	FDICT             bool
	FLEVEL            uint8
	DictID            uint32 // valid only if FDICT
}

// ReadZlibHeader parses a zlib header, including the optional 4-byte DictID
// that follows it when FDICT is set.
func ReadZlibHeader(r io.Reader) (*ZlibHeader, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, fmt.Errorf("gzipframe: reading zlib header: %w", err)
	}
	cmf, flg := buf[0], buf[1]
	if (uint16(cmf)*256+uint16(flg))%31 != 0 {
		return nil, fmt.Errorf("gzipframe: bad zlib FCHECK")
	}
	if cmf&0x0f != methodDeflate {
		return nil, fmt.Errorf("gzipframe: unsupported zlib compression method %d", cmf&0x0f)
	}
	h := &ZlibHeader{
		CompressionMethod: cmf & 0x0f,
		CompressionInfo:   cmf >> 4,
		FDICT:             flg&0x20 != 0,
		FLEVEL:            (flg >> 6) & 0x3,
	}
	if h.FDICT {
		var dictBuf [4]byte
		if _, err := io.ReadFull(r, dictBuf[:]); err != nil {
			return nil, fmt.Errorf("gzipframe: reading zlib DICTID: %w", err)
		}
		h.DictID = binary.BigEndian.Uint32(dictBuf[:])
	}
	return h, nil
}

// ReadZlibFooter reads a zlib stream's 4-byte, big-endian Adler-32 trailer
// (RFC 1950 §2.3; note this is big-endian, unlike gzip's little-endian
// CRC-32 trailer).
func ReadZlibFooter(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("gzipframe: reading zlib trailer: %w", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
