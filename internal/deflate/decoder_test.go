// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package deflate

import (
	"bytes"
	"testing"

	"github.com/cosnicolaou/rapidgzip/internal/bitreader"
)

// bitWriter assembles a deflate bitstream bit by bit so tests can exercise
// the decoder without depending on an external compressor.
type bitWriter struct {
	bits []byte
}

// writeLSB appends an n-bit field whose first-transmitted bit is its least
// significant bit, matching RFC 1951 §3.2.3's rule for all non-Huffman
// fields (block header, stored-block length, extra bits).
func (w *bitWriter) writeLSB(value uint64, n int) {
	for i := 0; i < n; i++ {
		w.bits = append(w.bits, byte((value>>uint(i))&1))
	}
}

// writeMSBCode appends a Huffman code's n bits most-significant-bit first,
// matching RFC 1951 §3.2.3's rule for Huffman codes specifically.
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

func newTestReader(t *testing.T, data []byte) *bitreader.BitReader {
	t.Helper()
	return bitreader.New(bytes.NewReader(data), int64(len(data)), 0)
}

// fixedLitCode returns the canonical fixed literal/length code for symbol,
// per RFC 1951 §3.2.6, used to hand-assemble a fixed-Huffman block.
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

func TestDecodeFixedHuffmanSingleLiteral(t *testing.T) {
	var w bitWriter
	w.writeLSB(1, 1) // BFINAL
	w.writeLSB(1, 2) // BTYPE = fixed Huffman

	code, bits := fixedLitCode('A')
	w.writeMSBCode(code, bits)

	eob, eobBits := fixedLitCode(256)
	w.writeMSBCode(eob, eobBits)

	br := newTestReader(t, w.pack())
	d := New(br)
	final, err := d.RunOneBlock()
	if err != nil {
		t.Fatalf("RunOneBlock: %v", err)
	}
	if !final {
		t.Fatal("expected final block")
	}
	if len(d.ByteBuf) != 0 {
		t.Fatalf("expected no promoted bytes yet, got %v", d.ByteBuf)
	}
	want := []uint16{'A'}
	if len(d.MarkerBuf) != len(want) || d.MarkerBuf[0] != want[0] {
		t.Fatalf("MarkerBuf = %v, want %v", d.MarkerBuf, want)
	}
}

func TestDecodeStoredBlock(t *testing.T) {
	var w bitWriter
	w.writeLSB(1, 1) // BFINAL
	w.writeLSB(0, 2) // BTYPE = stored
	w.alignToByte()

	payload := []byte("xyz")
	w.writeLSB(uint64(len(payload)), 16)
	w.writeLSB(uint64(uint16(^uint16(len(payload)))), 16)
	for _, b := range payload {
		w.writeLSB(uint64(b), 8)
	}

	br := newTestReader(t, w.pack())
	d := New(br)
	final, err := d.RunOneBlock()
	if err != nil {
		t.Fatalf("RunOneBlock: %v", err)
	}
	if !final {
		t.Fatal("expected final block")
	}
	if len(d.MarkerBuf) != len(payload) {
		t.Fatalf("MarkerBuf length = %d, want %d", len(d.MarkerBuf), len(payload))
	}
	for i, b := range payload {
		if d.MarkerBuf[i] != uint16(b) {
			t.Fatalf("MarkerBuf[%d] = %d, want %d", i, d.MarkerBuf[i], b)
		}
	}
}

func TestDecodeStoredBlockBadLength(t *testing.T) {
	var w bitWriter
	w.writeLSB(1, 1)
	w.writeLSB(0, 2)
	w.alignToByte()
	w.writeLSB(5, 16)
	w.writeLSB(5, 16) // should be ^5, not 5: must fail

	br := newTestReader(t, w.pack())
	d := New(br)
	_, err := d.RunOneBlock()
	if err == nil {
		t.Fatal("expected an error for mismatched NLEN")
	}
	de, ok := err.(*Error)
	if !ok || de.Kind != ErrBadStoredLength {
		t.Fatalf("err = %v, want ErrBadStoredLength", err)
	}
}

// TestRingMarkerPromotion exercises the marker/byte promotion boundary
// directly, without needing a real bitstream: emitted symbols before
// WindowSize bytes have been produced go to MarkerBuf; a back-reference
// that reaches before decoding started is emitted as a marker; once
// WindowSize symbols have been emitted, further output goes to ByteBuf.
func TestRingMarkerPromotion(t *testing.T) {
	d := &Decoder{}

	// A back-reference before anything has been emitted must be a marker
	// pointing into the (as yet unknown) predecessor window.
	d.emitBackref(1, 10)
	if len(d.MarkerBuf) != 1 || len(d.ByteBuf) != 0 {
		t.Fatalf("expected one marker emission, got marker=%v byte=%v", d.MarkerBuf, d.ByteBuf)
	}
	wantMarker := uint16(MarkerBase) + uint16(WindowSize-10)
	if d.MarkerBuf[0] != wantMarker {
		t.Fatalf("marker = %d, want %d", d.MarkerBuf[0], wantMarker)
	}

	d2 := &Decoder{}
	for i := 0; i < WindowSize; i++ {
		d2.emitLiteral(byte(i))
	}
	if len(d2.MarkerBuf) != WindowSize || len(d2.ByteBuf) != 0 {
		t.Fatalf("expected all %d emissions still marker-tagged, got marker=%d byte=%d", WindowSize, len(d2.MarkerBuf), len(d2.ByteBuf))
	}
	d2.emitLiteral(42)
	if len(d2.ByteBuf) != 1 || d2.ByteBuf[0] != 42 {
		t.Fatalf("expected promotion to ByteBuf after WindowSize emissions, got %v", d2.ByteBuf)
	}
}

func TestDecoderWithKnownWindow(t *testing.T) {
	window := make([]byte, WindowSize)
	for i := range window {
		window[i] = byte(i)
	}
	d := NewWithWindow(nil, window)
	// A reference to the last byte of the supplied window must resolve to a
	// real byte immediately, never a marker.
	d.emitBackref(1, 1)
	if len(d.MarkerBuf) != 0 {
		t.Fatalf("known-window decoder must never emit markers, got %v", d.MarkerBuf)
	}
	if len(d.ByteBuf) != 1 || d.ByteBuf[0] != window[WindowSize-1] {
		t.Fatalf("ByteBuf = %v, want [%d]", d.ByteBuf, window[WindowSize-1])
	}
}
