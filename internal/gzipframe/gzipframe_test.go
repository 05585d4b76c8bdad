// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gzipframe

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"testing"
)

func TestReadHeaderRoundTripsWithStdlibGzip(t *testing.T) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		t.Fatal(err)
	}
	zw.Name = "example.txt"
	zw.Comment = "a comment"
	if _, err := zw.Write([]byte("hello, world")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	h, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Method != methodDeflate {
		t.Fatalf("Method = %d, want %d", h.Method, methodDeflate)
	}
	if h.Name != "example.txt" {
		t.Fatalf("Name = %q, want %q", h.Name, "example.txt")
	}
	if h.Comment != "a comment" {
		t.Fatalf("Comment = %q, want %q", h.Comment, "a comment")
	}
	if h.BGZFBlockSize != -1 {
		t.Fatalf("BGZFBlockSize = %d, want -1 (no BC subfield)", h.BGZFBlockSize)
	}

	tail := buf.Bytes()[len(buf.Bytes())-8:]
	footer, err := ReadFooter(bytes.NewReader(tail))
	if err != nil {
		t.Fatalf("ReadFooter: %v", err)
	}
	if footer.ISIZE != uint32(len("hello, world")) {
		t.Fatalf("ISIZE = %d, want %d", footer.ISIZE, len("hello, world"))
	}
}

func TestReadHeaderBadMagic(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader(make([]byte, 10)))
	if err == nil {
		t.Fatal("expected an error for bad magic")
	}
}

func TestReadHeaderBGZFExtra(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{gzipMagic0, gzipMagic1, methodDeflate, flagExtra, 0, 0, 0, 0, 0, 0xff})

	var extra bytes.Buffer
	extra.WriteByte('B')
	extra.WriteByte('C')
	binary.Write(&extra, binary.LittleEndian, uint16(2))
	binary.Write(&extra, binary.LittleEndian, uint16(0x1234)) // BSIZE-1

	var xlen [2]byte
	binary.LittleEndian.PutUint16(xlen[:], uint16(extra.Len()))
	buf.Write(xlen[:])
	buf.Write(extra.Bytes())

	h, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	want := int64(0x1234) + 1
	if h.BGZFBlockSize != want {
		t.Fatalf("BGZFBlockSize = %d, want %d", h.BGZFBlockSize, want)
	}
}

func TestZlibHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	h, err := ReadZlibHeader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadZlibHeader: %v", err)
	}
	if h.CompressionMethod != methodDeflate {
		t.Fatalf("CompressionMethod = %d, want %d", h.CompressionMethod, methodDeflate)
	}
	if h.FDICT {
		t.Fatal("FDICT unexpectedly set")
	}
}
