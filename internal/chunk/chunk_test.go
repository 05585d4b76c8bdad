// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package chunk

import (
	"bytes"
	"testing"

	"github.com/cosnicolaou/rapidgzip/internal/bitreader"
	"github.com/cosnicolaou/rapidgzip/internal/deflate"
)

type bitWriter struct{ bits []byte }

func (w *bitWriter) writeLSB(value uint64, n int) {
	for i := 0; i < n; i++ {
		w.bits = append(w.bits, byte((value>>uint(i))&1))
	}
}

func (w *bitWriter) writeMSBCode(code uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bits = append(w.bits, byte((code>>uint(i))&1))
	}
}

func (w *bitWriter) alignToByte() {
	for len(w.bits)%8 != 0 {
		w.bits = append(w.bits, 0)
	}
}

func (w *bitWriter) pack() []byte {
	out := make([]byte, (len(w.bits)+7)/8)
	for i, b := range w.bits {
		if b != 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// fixedLitCode returns the RFC 1951 fixed literal/length code for symbol,
// MSB-first as transmitted.
func fixedLitCode(symbol int) (uint32, int) {
	switch {
	case symbol < 144:
		return uint32(0x30 + symbol), 8
	case symbol < 256:
		return uint32(0x190 + (symbol - 144)), 9
	case symbol < 280:
		return uint32(symbol - 256), 7
	default:
		return uint32(0xc0 + (symbol - 280)), 8
	}
}

func writeStoredBlock(w *bitWriter, final bool, payload []byte) {
	if final {
		w.writeLSB(1, 1)
	} else {
		w.writeLSB(0, 1)
	}
	w.writeLSB(0, 2) // BTYPE = stored
	w.alignToByte()
	w.writeLSB(uint64(len(payload)), 16)
	w.writeLSB(uint64(uint16(^uint16(len(payload)))), 16)
	for _, b := range payload {
		w.writeLSB(uint64(b), 8)
	}
}

func TestDecodeSingleStoredBlockMarkerMode(t *testing.T) {
	var w bitWriter
	writeStoredBlock(&w, true, []byte("hello"))
	data := w.pack()

	br := bitreader.New(bytes.NewReader(data), int64(len(data)), 0)
	out, err := Decode(br, int64(len(data))*8, 0, Options{ChunkEndHint: int64(len(data)) * 8})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.MarkerBuf) != 5 {
		t.Fatalf("MarkerBuf = %v, want 5 literal markers", out.MarkerBuf)
	}
	for i, want := range []byte("hello") {
		if out.MarkerBuf[i] != uint16(want) {
			t.Fatalf("MarkerBuf[%d] = %d, want %d", i, out.MarkerBuf[i], want)
		}
	}
	if len(out.BlockBoundaries) != 1 {
		t.Fatalf("BlockBoundaries = %v, want 1 entry", out.BlockBoundaries)
	}
}

func TestDecodeWithKnownWindowProducesRealBytes(t *testing.T) {
	var w bitWriter
	writeStoredBlock(&w, true, []byte("world"))
	data := w.pack()

	br := bitreader.New(bytes.NewReader(data), int64(len(data)), 0)
	window := make([]byte, deflate.WindowSize)
	out, err := Decode(br, int64(len(data))*8, 0, Options{
		ChunkEndHint:  int64(len(data)) * 8,
		InitialWindow: window,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.MarkerBuf) != 0 {
		t.Fatalf("MarkerBuf = %v, want none in known-window mode", out.MarkerBuf)
	}
	if string(out.ByteBuf) != "world" {
		t.Fatalf("ByteBuf = %q, want %q", out.ByteBuf, "world")
	}
}

func TestDecodeSkipsGarbageToFindRealBlock(t *testing.T) {
	var w bitWriter
	w.writeLSB(0, 7) // seven bits of leading garbage, not a valid header
	writeStoredBlock(&w, false, []byte("ok"))
	data := w.pack()

	br := bitreader.New(bytes.NewReader(data), int64(len(data)), 0)
	out, err := Decode(br, int64(len(data))*8, 0, Options{ChunkEndHint: int64(len(data)) * 8})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.MarkerBuf) != 2 || out.MarkerBuf[0] != 'o' || out.MarkerBuf[1] != 'k' {
		t.Fatalf("MarkerBuf = %v, want [o k]", out.MarkerBuf)
	}
}

func TestDecodeFixedHuffmanAcrossTwoBlocks(t *testing.T) {
	var w bitWriter
	w.writeLSB(0, 1) // BFINAL=0
	w.writeLSB(1, 2) // BTYPE=fixed
	code, bits := fixedLitCode('A')
	w.writeMSBCode(code, bits)
	eob, eobBits := fixedLitCode(256)
	w.writeMSBCode(eob, eobBits)

	w.writeLSB(1, 1) // BFINAL=1
	w.writeLSB(1, 2) // BTYPE=fixed
	code, bits = fixedLitCode('B')
	w.writeMSBCode(code, bits)
	w.writeMSBCode(eob, eobBits)
	w.alignToByte()

	data := w.pack()
	br := bitreader.New(bytes.NewReader(data), int64(len(data)), 0)
	// Fixed-Huffman block starts have no speculative detection strategy
	// (spec.md §4.5 only covers dynamic-Huffman, stored and bgzf/pigz
	// restart points), so this exercises the known-window path instead.
	window := make([]byte, deflate.WindowSize)
	out, err := Decode(br, int64(len(data))*8, 0, Options{
		ChunkEndHint:  int64(len(data)) * 8,
		InitialWindow: window,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.BlockBoundaries) != 2 {
		t.Fatalf("BlockBoundaries = %v, want 2 entries", out.BlockBoundaries)
	}
	if string(out.ByteBuf) != "AB" {
		t.Fatalf("decoded = %q, want %q", out.ByteBuf, "AB")
	}
}

