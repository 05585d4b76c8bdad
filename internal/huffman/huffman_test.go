// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package huffman

import (
	"bytes"
	"testing"

	"github.com/cosnicolaou/rapidgzip/internal/bitreader"
)

func fixedLitLenLengths() []uint8 {
	l := make([]uint8, 288)
	for i := 0; i < 144; i++ {
		l[i] = 8
	}
	for i := 144; i < 256; i++ {
		l[i] = 9
	}
	for i := 256; i < 280; i++ {
		l[i] = 7
	}
	for i := 280; i < 288; i++ {
		l[i] = 8
	}
	return l
}

type bitWriter struct{ bits []byte }

func (w *bitWriter) writeMSBCode(code uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.bits = append(w.bits, byte((code>>uint(i))&1))
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

func fixedLitCode(symbol int) (code uint32, bits int) {
	switch {
	case symbol <= 143:
		return uint32(0b00110000 + symbol), 8
	case symbol <= 255:
		return uint32(0b110010000 + (symbol - 144)), 9
	case symbol <= 279:
		return uint32(0b0000000 + (symbol - 256)), 7
	default:
		return uint32(0b11000000 + (symbol - 280)), 8
	}
}

func TestNewRejectsEmptyAlphabet(t *testing.T) {
	_, err := New(make([]uint8, 10))
	herr, ok := err.(*Error)
	if !ok || herr.Kind != ErrEmptyAlphabet {
		t.Fatalf("err = %v, want ErrEmptyAlphabet", err)
	}
}

func TestNewRejectsIncompleteCode(t *testing.T) {
	lengths := make([]uint8, 4)
	lengths[0] = 1 // one length-1 and one length-2 symbol: Kraft sum = 3/4, incomplete
	lengths[1] = 2
	_, err := New(lengths)
	herr, ok := err.(*Error)
	if !ok || herr.Kind != ErrBloatingCode {
		t.Fatalf("err = %v, want ErrBloatingCode", err)
	}
}

func TestNewRejectsOversubscribedCode(t *testing.T) {
	lengths := []uint8{1, 1, 1} // three length-1 symbols: Kraft sum = 3/2 > 1
	_, err := New(lengths)
	herr, ok := err.(*Error)
	if !ok || herr.Kind != ErrTooManyCodes {
		t.Fatalf("err = %v, want ErrTooManyCodes", err)
	}
}

func TestNewAcceptsSingleSymbolSpecialCase(t *testing.T) {
	lengths := make([]uint8, 4)
	lengths[2] = 1
	table, err := New(lengths)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var w bitWriter
	w.writeMSBCode(0, 1)
	br := bitreader.New(bytes.NewReader(w.pack()), 1, 0)
	sym, err := table.Decode(br)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if sym != 2 {
		t.Fatalf("sym = %d, want 2", sym)
	}
}

// TestDecodeMatchesFixedTable builds the canonical fixed literal/length table
// and confirms every symbol's code, assembled by hand per RFC 1951 §3.2.6,
// decodes back to itself through this package's general-purpose construction
// -- including the two disjoint 8-bit ranges (0-143 and 280-287) that share a
// single code length, the trickiest case for a length-ordered assignment.
func TestDecodeMatchesFixedTable(t *testing.T) {
	table, err := New(fixedLitLenLengths())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, sym := range []int{0, 1, 100, 143, 144, 200, 255, 256, 270, 279, 280, 283, 287} {
		code, bits := fixedLitCode(sym)
		var w bitWriter
		w.writeMSBCode(code, bits)
		br := bitreader.New(bytes.NewReader(w.pack()), int64(len(w.pack())), 0)
		got, err := table.Decode(br)
		if err != nil {
			t.Fatalf("symbol %d: Decode: %v", sym, err)
		}
		if int(got) != sym {
			t.Fatalf("symbol %d: decoded %d", sym, got)
		}
	}
}

func TestDecodeLongCodePath(t *testing.T) {
	// One symbol at each length 1..10 plus two at length 11 is a complete
	// code (Kraft sum: (1-2^-10) + 2*2^-11 == 1) whose longest codes fall
	// past lutBits, forcing decodeLong's bit-serial path rather than the LUT.
	lengths := []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 11}
	table, err := New(lengths)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if table.maxLen != 11 {
		t.Fatalf("maxLen = %d, want 11", table.maxLen)
	}

	// The two length-11 symbols (indices 10 and 11) get the last two codes;
	// decode the very last one and confirm it resolves to symbol 11.
	var w bitWriter
	w.writeMSBCode(lastCodeAtLength(table, 11), 11)
	br := bitreader.New(bytes.NewReader(w.pack()), 2, 0)
	got, err := table.Decode(br)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != 11 {
		t.Fatalf("sym = %d, want 11", got)
	}
}

// lastCodeAtLength returns the final (highest-valued) canonical code assigned at
// the given length, used to probe the last entry of decodeLong's range.
func lastCodeAtLength(t *Table, length int) uint32 {
	return t.firstCode[length] + uint32(t.count[length]) - 1
}
