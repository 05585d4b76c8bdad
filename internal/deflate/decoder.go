// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package deflate implements the RFC 1951 DEFLATE block state machine used to
// decode a single chunk of a gzip/zlib stream. It can run two ways: with a
// concrete 32 KiB predecessor window, emitting real bytes throughout, or
// speculatively with no window at all, in which case back-references that
// reach before the start of decoding are emitted as markers (spec.md §3) to
// be resolved later once the true window is known.
package deflate

import (
	"fmt"

	"github.com/cosnicolaou/rapidgzip/internal/huffman"
)

// BlockType identifies a deflate block's BTYPE field.
type BlockType int

const (
	BlockStored BlockType = iota
	BlockFixedHuffman
	BlockDynamicHuffman
)

// Reader is the minimal bit-level source the decoder needs; BitReader
// satisfies it directly.
type Reader interface {
	huffman.BitSource
	AlignToByte() uint
	Tell() int64
}

// Decoder runs the deflate state machine over a Reader, emitting either real
// bytes (once a 32 KiB predecessor window is known or has been produced
// locally) or markers (spec.md §3) while none is yet available.
//
// A Decoder is used for exactly one chunk: construct, call RunOneBlock once
// per block until it reports the final block or an error, then inspect
// ByteBuf/MarkerBuf for the decoded output.
type Decoder struct {
	br Reader

	ring [WindowSize]uint16
	pos  int64 // absolute position of the next symbol to be emitted
	known bool  // true once a concrete 32KiB predecessor window seeded ring

	// ByteBuf accumulates emissions known to be real bytes. MarkerBuf
	// accumulates emissions made before a real window was available or
	// promoted; each entry is either a literal byte (<256) or a marker
	// (MarkerBase+window position).
	ByteBuf   []byte
	MarkerBuf []uint16

	fixedLit  *huffman.Table
	fixedDist *huffman.Table

	// BlocksDecoded counts complete blocks seen so far, and BlockStarts
	// records the bit offset at which each one began (spec.md §4.6).
	BlocksDecoded int
	BlockStarts   []int64
}

// New returns a Decoder positioned to read from br, starting in marker mode
// (no known predecessor window).
func New(br Reader) *Decoder {
	return &Decoder{br: br}
}

// NewWithWindow returns a Decoder seeded with a concrete 32 KiB predecessor
// window, so it emits real bytes from the first symbol onward. window must
// be exactly WindowSize bytes, the tail of the uncompressed stream
// immediately preceding the decoder's start position.
func NewWithWindow(br Reader, window []byte) *Decoder {
	d := &Decoder{br: br, known: true}
	for i, b := range window {
		d.ring[i] = uint16(b)
	}
	return d
}

// SwitchToWindow supplies a real window mid-decode (spec.md §4.3: "a real
// window may be supplied mid-chunk, in which case marker emission switches
// off"). Any symbols already emitted stay in MarkerBuf for later resolution
// (internal/marker); everything emitted from this point on is a real byte.
//
// window must be the 32 KiB immediately preceding the decoder's current
// position (i.e. position d.pos-WindowSize .. d.pos).
func (d *Decoder) SwitchToWindow(window []byte) {
	if d.known {
		return
	}
	for i, b := range window {
		s := d.pos - WindowSize + int64(i)
		d.ring[idx(s)] = uint16(b)
	}
	d.known = true
}

func idx(pos int64) int {
	m := pos % WindowSize
	if m < 0 {
		m += WindowSize
	}
	return int(m)
}

func (d *Decoder) emitLiteral(b byte) {
	d.ring[idx(d.pos)] = uint16(b)
	if d.known || d.pos >= WindowSize {
		d.ByteBuf = append(d.ByteBuf, b)
	} else {
		d.MarkerBuf = append(d.MarkerBuf, uint16(b))
	}
	d.pos++
}

func (d *Decoder) emitBackref(length, distance int) {
	for i := 0; i < length; i++ {
		s := d.pos - int64(distance)
		var value uint16
		if d.known || s >= 0 {
			value = d.ring[idx(s)]
		} else {
			value = uint16(MarkerBase) + uint16(WindowSize+s)
		}
		d.ring[idx(d.pos)] = value
		if d.known || d.pos >= WindowSize {
			d.ByteBuf = append(d.ByteBuf, byte(value))
		} else {
			d.MarkerBuf = append(d.MarkerBuf, value)
		}
		d.pos++
	}
}

// Pos returns the number of symbols emitted so far by this decoder, which is
// also the next absolute window position.
func (d *Decoder) Pos() int64 { return d.pos }

// RunOneBlock decodes exactly one deflate block, returning true if it was the
// final block in the stream (BFINAL==1).
func (d *Decoder) RunOneBlock() (final bool, err error) {
	start := d.br.Tell()
	d.BlockStarts = append(d.BlockStarts, start)

	bfinal, err := d.br.Read(1)
	if err != nil {
		return false, err
	}
	btype, err := d.br.Read(2)
	if err != nil {
		return false, err
	}

	switch BlockType(btype) {
	case BlockStored:
		err = d.runStored(start)
	case BlockFixedHuffman:
		err = d.runHuffman(d.fixedTables())
	case BlockDynamicHuffman:
		var lit, dist *huffman.Table
		lit, dist, err = d.readDynamicTables(start)
		if err == nil {
			err = d.runHuffman(lit, dist)
		}
	default:
		err = &Error{ErrBadBlockHeader, start, fmt.Sprintf("reserved BTYPE %d", btype)}
	}
	if err != nil {
		return false, err
	}
	d.BlocksDecoded++
	return bfinal == 1, nil
}

func (d *Decoder) fixedTables() (*huffman.Table, *huffman.Table) {
	if d.fixedLit == nil {
		d.fixedLit, _ = huffman.New(fixedLitLenLengths())
		// RFC 1951's fixed distance code has 32 five-bit codes; 30 and 31
		// never occur in valid data (runHuffman rejects them) but complete
		// the code, which huffman.New requires.
		d.fixedDist, _ = huffman.New(append(fixedDistLengths(), 5, 5))
	}
	return d.fixedLit, d.fixedDist
}

func (d *Decoder) runStored(blockStart int64) error {
	d.br.AlignToByte()
	lenBits, err := d.br.Read(16)
	if err != nil {
		return err
	}
	nlenBits, err := d.br.Read(16)
	if err != nil {
		return err
	}
	length := uint16(lenBits)
	nlen := uint16(nlenBits)
	if nlen != ^length {
		return &Error{ErrBadStoredLength, blockStart, fmt.Sprintf("LEN=%d NLEN=%d", length, nlen)}
	}
	for i := 0; i < int(length); i++ {
		b, err := d.br.Read(8)
		if err != nil {
			return err
		}
		d.emitLiteral(byte(b))
	}
	return nil
}

// readDynamicTables parses a dynamic block's header (RFC 1951 §3.2.7): the
// HLIT/HDIST/HCLEN counts, the precode lengths in their fixed transmission
// order, and the run-length-encoded literal/length and distance code
// lengths, returning the two resulting canonical tables.
func (d *Decoder) readDynamicTables(blockStart int64) (lit, dist *huffman.Table, err error) {
	hlitBits, err := d.br.Read(5)
	if err != nil {
		return nil, nil, err
	}
	hdistBits, err := d.br.Read(5)
	if err != nil {
		return nil, nil, err
	}
	hclenBits, err := d.br.Read(4)
	if err != nil {
		return nil, nil, err
	}
	hlit := int(hlitBits) + 257
	hdist := int(hdistBits) + 1
	hclen := int(hclenBits) + 4

	var precodeLengths [19]uint8
	for i := 0; i < hclen; i++ {
		bits, err := d.br.Read(3)
		if err != nil {
			return nil, nil, err
		}
		precodeLengths[precodeOrder[i]] = uint8(bits)
	}
	precode, herr := huffman.New(precodeLengths[:])
	if herr != nil {
		return nil, nil, &Error{ErrBadHuffmanTree, blockStart, "precode: " + herr.Error()}
	}

	lengths := make([]uint8, hlit+hdist)
	for i := 0; i < len(lengths); {
		sym, err := precode.Decode(d.br)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			lengths[i] = uint8(sym)
			i++
		case sym == 16:
			if i == 0 {
				return nil, nil, &Error{ErrBadHuffmanTree, blockStart, "repeat-previous with no previous length"}
			}
			bits, err := d.br.Read(2)
			if err != nil {
				return nil, nil, err
			}
			repeat := int(bits) + 3
			prev := lengths[i-1]
			for j := 0; j < repeat && i < len(lengths); j++ {
				lengths[i] = prev
				i++
			}
		case sym == 17:
			bits, err := d.br.Read(3)
			if err != nil {
				return nil, nil, err
			}
			repeat := int(bits) + 3
			for j := 0; j < repeat && i < len(lengths); j++ {
				lengths[i] = 0
				i++
			}
		case sym == 18:
			bits, err := d.br.Read(7)
			if err != nil {
				return nil, nil, err
			}
			repeat := int(bits) + 11
			for j := 0; j < repeat && i < len(lengths); j++ {
				lengths[i] = 0
				i++
			}
		default:
			return nil, nil, &Error{ErrBadHuffmanTree, blockStart, fmt.Sprintf("invalid precode symbol %d", sym)}
		}
	}

	litLengths := lengths[:hlit]
	distLengths := lengths[hlit:]

	lit, herr = huffman.New(litLengths)
	if herr != nil {
		return nil, nil, &Error{ErrBadHuffmanTree, blockStart, "litlen: " + herr.Error()}
	}

	if allZero(distLengths) {
		// No back-references are used in this block; some encoders (zlib,
		// notably) still emit exactly one dummy distance code in this case,
		// which huffman.New's single-symbol special case already accepts. If
		// every length is genuinely zero there are no distance codes at all;
		// the returned distance table is nil and any distance decode is an error.
		return lit, nil, nil
	}
	dist, herr = huffman.New(distLengths)
	if herr != nil {
		return nil, nil, &Error{ErrBadHuffmanTree, blockStart, "distance: " + herr.Error()}
	}
	return lit, dist, nil
}

func allZero(lengths []uint8) bool {
	for _, l := range lengths {
		if l != 0 {
			return false
		}
	}
	return true
}

// runHuffman runs the shared literal/length/distance decode loop used by
// both fixed and dynamic Huffman blocks.
func (d *Decoder) runHuffman(lit, dist *huffman.Table) error {
	for {
		blockStart := d.br.Tell()
		sym, err := lit.Decode(d.br)
		if err != nil {
			return err
		}
		switch {
		case sym < 256:
			d.emitLiteral(byte(sym))
		case sym == 256:
			return nil
		case sym <= 285:
			li := int(sym) - 257
			extra, err := d.br.Read(lengthExtraBits[li])
			if err != nil {
				return err
			}
			length := lengthBase[li] + int(extra)

			if dist == nil {
				return &Error{ErrInvalidDistanceSymbol, blockStart, "back-reference with no distance table"}
			}
			distSym, err := dist.Decode(d.br)
			if err != nil {
				return err
			}
			if int(distSym) >= len(distBase) {
				return &Error{ErrInvalidDistanceSymbol, blockStart, fmt.Sprintf("symbol %d", distSym)}
			}
			dextra, err := d.br.Read(distExtraBits[distSym])
			if err != nil {
				return err
			}
			distance := distBase[distSym] + int(dextra)
			if distance > WindowSize {
				return &Error{ErrInvalidDistanceSymbol, blockStart, fmt.Sprintf("distance %d exceeds window", distance)}
			}
			d.emitBackref(length, distance)
		default:
			return &Error{ErrInvalidLengthSymbol, blockStart, fmt.Sprintf("symbol %d", sym)}
		}
	}
}
