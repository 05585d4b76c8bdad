// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package blockfinder speculatively searches a compressed byte range for
// plausible DEFLATE block starts, gzip/bgzf/pigz restart markers, so the
// chunk decoder (internal/chunk) can begin decoding a range of a gzip stream
// without knowing its predecessor's dictionary (spec.md §4.5). False
// positives are expected and are filtered by the downstream decoder; a false
// negative within the searched range is a correctness bug.
package blockfinder

import (
	"fmt"
	"io"

	"github.com/cosnicolaou/rapidgzip/internal/bitreader"
	"github.com/cosnicolaou/rapidgzip/internal/huffman"
)

// Kind identifies which of the three strategies produced a Candidate.
type Kind int

const (
	DynamicHuffman Kind = iota
	Uncompressed
	BgzfMember
	PigzFlush
)

func (k Kind) String() string {
	switch k {
	case DynamicHuffman:
		return "dynamic-huffman"
	case Uncompressed:
		return "uncompressed"
	case BgzfMember:
		return "bgzf-member"
	case PigzFlush:
		return "pigz-flush"
	default:
		return "unknown"
	}
}

// Candidate is one plausible block start. For Uncompressed candidates,
// BitOffsetHi gives the upper end of an inclusive range of bit offsets that
// could each legitimately be the block's BFINAL bit, since the zero-padding
// before a byte-aligned stored block's length field is not itself
// discoverable from the bitstream; all other kinds set BitOffsetHi equal to
// BitOffset (a single-bit candidate).
type Candidate struct {
	Kind         Kind
	BitOffset    int64
	BitOffsetHi  int64
}

// Finder searches src, which holds sizeBytes bytes, for candidate block
// starts within a caller-supplied bit range.
type Finder struct {
	src       io.ReaderAt
	sizeBytes int64
}

// New returns a Finder over src.
func New(src io.ReaderAt, sizeBytes int64) *Finder {
	return &Finder{src: src, sizeBytes: sizeBytes}
}

// dynamicHuffmanValid is a 2^14-entry LUT keyed by the 14 bits a candidate
// dynamic-Huffman block header starts with (final, type, HLIT, HDIST, plus
// one unused high bit to round the table to a clean power of two). Entries
// that fail this quick check can never be a valid dynamic block header and
// are rejected in O(1) without touching the precode.
var dynamicHuffmanValid [1 << 14]bool

func init() {
	for v := 0; v < len(dynamicHuffmanValid); v++ {
		dynamicHuffmanValid[v] = quickCheckDynamicHuffman(uint16(v))
	}
}

// quickCheckDynamicHuffman implements spec.md §4.5's 14-bit pre-filter:
// final bit must be 0, type bits must select dynamic Huffman (2), and the
// HLIT/HDIST fields must be within the range real encoders use (symbols 286
// and 287, and distance codes 30 and 31, are reserved and never used, so
// HLIT+257 <= 286 and HDIST+1 <= 30 always hold for genuine headers).
func quickCheckDynamicHuffman(bits uint16) bool {
	final := bits & 1
	btype := (bits >> 1) & 0x3
	hlit := (bits >> 3) & 0x1f
	hdist := (bits >> 8) & 0x1f
	if final != 0 {
		return false
	}
	if btype != 2 {
		return false
	}
	if hlit+257 > 286 {
		return false
	}
	if hdist+1 > 30 {
		return false
	}
	return true
}

// FindDynamicHuffman returns every bit offset in [fromBit, toBit) at which a
// non-final dynamic-Huffman block header parses cleanly: it passes the
// 14-bit quick check and its precode lengths build a valid canonical
// Huffman table. This second stage stands in for spec.md §4.5's 1526-entry
// precode-histogram LUT: both filters enforce exactly Kraft's equality on
// the precode's length distribution, so performing the real construction
// (which internal/huffman already implements) is equivalent filtering power
// without a second, redundant representation of the same check.
func (f *Finder) FindDynamicHuffman(fromBit, toBit int64) ([]int64, error) {
	var out []int64
	br := bitreader.New(f.src, f.sizeBytes, 0)
	for bit := fromBit; bit < toBit; bit++ {
		if _, err := br.Seek(bit, bitreader.SeekStart); err != nil {
			if err == bitreader.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		peek, err := br.Peek(14)
		if err != nil {
			if err == bitreader.ErrUnexpectedEOF {
				break
			}
			return nil, err
		}
		if !dynamicHuffmanValid[peek] {
			continue
		}
		if validDynamicHuffmanHeader(br) {
			out = append(out, bit)
		}
	}
	return out, nil
}

// validDynamicHuffmanHeader attempts to parse and validate the precode
// Huffman table at br's current position, leaving br's position undefined
// on return (callers re-seek before reusing it).
func validDynamicHuffmanHeader(br *bitreader.BitReader) bool {
	if _, err := br.Read(3); err != nil { // final + type, already checked
		return false
	}
	if _, err := br.Read(5); err != nil { // HLIT, already range-checked
		return false
	}
	if _, err := br.Read(5); err != nil { // HDIST, already range-checked
		return false
	}
	hclenBits, err := br.Read(4)
	if err != nil {
		return false
	}
	hclen := int(hclenBits) + 4

	var lengths [19]uint8
	for i := 0; i < hclen; i++ {
		bits, err := br.Read(3)
		if err != nil {
			return false
		}
		lengths[precodeOrder[i]] = uint8(bits)
	}
	_, herr := huffman.New(lengths[:])
	return herr == nil
}

var precodeOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// Range is an inclusive range of bit offsets that could each legitimately be
// an uncompressed block's BFINAL bit (spec.md §4.5's "(start_lo, start_hi)"
// result for this strategy).
type Range struct {
	Lo, Hi int64
}

// FindUncompressed scans byte-aligned positions in [fromBit, toBit) for the
// stored-block length signature LEN LEN ~LEN ~LEN, then walks backward over
// zero bits (up to 10, since the header is final(0)+type(00)+0..7 padding
// zeros, all zero bits) to report every bit offset that could legitimately
// be the start of the block's 3-bit header.
func (f *Finder) FindUncompressed(fromBit, toBit int64) ([]Range, error) {
	fromByte := fromBit / 8
	toByte := (toBit + 7) / 8
	buf := make([]byte, toByte-fromByte+4)
	n, err := f.src.ReadAt(buf, fromByte)
	if n == 0 && err != nil && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]

	var out []Range
	for j := 0; j+4 <= len(buf); j++ {
		lenLo, lenHi := buf[j], buf[j+1]
		nlenLo, nlenHi := buf[j+2], buf[j+3]
		if lenLo != ^nlenLo || lenHi != ^nlenHi {
			continue
		}
		lenBitOffset := (fromByte + int64(j)) * 8
		hi := lenBitOffset - 3
		// Shrink the window to only the bits that are actually zero; a
		// shorter run of preceding zero bits means fewer legitimate header
		// starts (minimum 3: final + 2 type bits, which are also zero).
		run := zeroBitsBefore(f.src, lenBitOffset, 10)
		if run < 3 {
			continue
		}
		lo := lenBitOffset - int64(run)
		out = append(out, Range{Lo: lo, Hi: hi})
	}
	return out, nil
}

// zeroBitsBefore returns the number of consecutive zero bits immediately
// preceding bitOffset, capped at max.
func zeroBitsBefore(src io.ReaderAt, bitOffset int64, max int) int {
	br := bitreader.New(src, (bitOffset+7)/8+1, 0)
	count := 0
	for count < max {
		pos := bitOffset - int64(count) - 1
		if pos < 0 {
			break
		}
		if _, err := br.Seek(pos, bitreader.SeekStart); err != nil {
			break
		}
		bit, err := br.Read(1)
		if err != nil || bit != 0 {
			break
		}
		count++
	}
	return count
}

// bgzfMagic is the fixed byte prefix of every BGZF member: gzip magic,
// deflate method, FEXTRA set (the "BC" subfield with the member's size
// follows at a fixed position within the header).
var bgzfMagic = []byte{0x1f, 0x8b, 0x08, 0x04}

// pigzFlushMarker is pigz's guaranteed restart point: a zero-length stored
// block (final=0, type=00, LEN=0, NLEN=0xFFFF), byte-aligned.
var pigzFlushMarker = []byte{0x00, 0x00, 0xff, 0xff}

// FindBgzfMembers returns the byte offsets of every BGZF member header
// (gzip magic + deflate method + FEXTRA) found in [fromByte, toByte). Each
// one is a guaranteed, self-describing block boundary (spec.md's glossary
// entry for Bgzf): the member's own BC subfield gives its exact size, so no
// further validation is required once the fixed prefix matches.
func (f *Finder) FindBgzfMembers(fromByte, toByte int64) ([]int64, error) {
	return scanForMagic(f.src, fromByte, toByte, bgzfMagic)
}

// FindPigzFlushMarkers returns the byte offsets of every pigz flush marker
// found in [fromByte, toByte).
func (f *Finder) FindPigzFlushMarkers(fromByte, toByte int64) ([]int64, error) {
	return scanForMagic(f.src, fromByte, toByte, pigzFlushMarker)
}

func scanForMagic(src io.ReaderAt, fromByte, toByte int64, magic []byte) ([]int64, error) {
	if toByte <= fromByte {
		return nil, nil
	}
	buf := make([]byte, toByte-fromByte+int64(len(magic)))
	n, err := src.ReadAt(buf, fromByte)
	if n == 0 && err != nil && err != io.EOF {
		return nil, err
	}
	buf = buf[:n]

	var out []int64
	for j := 0; j+len(magic) <= len(buf); j++ {
		if matches(buf[j:j+len(magic)], magic) {
			out = append(out, fromByte+int64(j))
		}
	}
	return out, nil
}

func matches(a, b []byte) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Find runs every strategy over [fromBit, toBit) and returns all candidates
// sorted by ascending bit offset, for callers that want a single merged,
// monotonically increasing stream (spec.md §4.5's streaming find() API).
func (f *Finder) Find(fromBit, toBit int64) ([]Candidate, error) {
	var out []Candidate

	dyn, err := f.FindDynamicHuffman(fromBit, toBit)
	if err != nil {
		return nil, fmt.Errorf("blockfinder: dynamic huffman: %w", err)
	}
	for _, b := range dyn {
		out = append(out, Candidate{Kind: DynamicHuffman, BitOffset: b, BitOffsetHi: b})
	}

	unc, err := f.FindUncompressed(fromBit, toBit)
	if err != nil {
		return nil, fmt.Errorf("blockfinder: uncompressed: %w", err)
	}
	for _, r := range unc {
		out = append(out, Candidate{Kind: Uncompressed, BitOffset: r.Lo, BitOffsetHi: r.Hi})
	}

	fromByte, toByte := fromBit/8, (toBit+7)/8
	bgzf, err := f.FindBgzfMembers(fromByte, toByte)
	if err != nil {
		return nil, fmt.Errorf("blockfinder: bgzf: %w", err)
	}
	for _, b := range bgzf {
		bit := b * 8
		out = append(out, Candidate{Kind: BgzfMember, BitOffset: bit, BitOffsetHi: bit})
	}

	pigz, err := f.FindPigzFlushMarkers(fromByte, toByte)
	if err != nil {
		return nil, fmt.Errorf("blockfinder: pigz: %w", err)
	}
	for _, b := range pigz {
		bit := b * 8
		out = append(out, Candidate{Kind: PigzFlush, BitOffset: bit, BitOffsetHi: bit})
	}

	sortCandidates(out)
	return out, nil
}

func sortCandidates(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].BitOffset < c[j-1].BitOffset; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}
