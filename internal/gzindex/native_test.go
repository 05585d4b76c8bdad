// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gzindex

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleIndex() *Index {
	return &Index{
		CompressedSizeBytes:   1 << 20,
		UncompressedSizeBytes: 1 << 22,
		WindowSizeBytes:       32768,
		CheckpointSpacing:     1 << 20,
		Checkpoints: []Checkpoint{
			{
				// A non-empty window even at the stream's first checkpoint:
				// windowLen==0 on the wire always means "elided, same as
				// predecessor" (WindowIsPredecessor), so a checkpoint that is
				// genuinely not a predecessor reference needs a real window
				// to round-trip unambiguously.
				CompressedBitOffset:   0,
				UncompressedByteOffset: 0,
				Window:                bytes.Repeat([]byte{0x11}, 1024),
				WindowIsPredecessor:   false,
			},
			{
				CompressedBitOffset:   8_388_608,
				UncompressedByteOffset: 1 << 20,
				Window:                bytes.Repeat([]byte{0x5a}, 32768),
			},
			{
				CompressedBitOffset:   16_777_216,
				UncompressedByteOffset: 1 << 21,
				WindowIsPredecessor:   true,
			},
		},
	}
}

func TestWriteReadNativeRoundTrip(t *testing.T) {
	want := sampleIndex()

	var buf bytes.Buffer
	if err := WriteNative(&buf, want); err != nil {
		t.Fatalf("WriteNative: %v", err)
	}

	got, err := ReadNative(&buf)
	if err != nil {
		t.Fatalf("ReadNative: %v", err)
	}

	if diff := cmp.Diff(*want, *got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadNativeRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("not-an-index-at-all-xx")
	if _, err := ReadNative(buf); err == nil {
		t.Fatal("expected an error for a bad magic, got nil")
	}
}

func TestReadNativeRejectsTruncatedStream(t *testing.T) {
	want := sampleIndex()
	var buf bytes.Buffer
	if err := WriteNative(&buf, want); err != nil {
		t.Fatalf("WriteNative: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-10])
	if _, err := ReadNative(truncated); err == nil {
		t.Fatal("expected an error for a truncated stream, got nil")
	}
}

func TestWriteReadNativeEmptyIndex(t *testing.T) {
	want := &Index{
		CompressedSizeBytes:   0,
		UncompressedSizeBytes: 0,
		WindowSizeBytes:       32768,
		CheckpointSpacing:     1 << 20,
	}
	var buf bytes.Buffer
	if err := WriteNative(&buf, want); err != nil {
		t.Fatalf("WriteNative: %v", err)
	}
	got, err := ReadNative(&buf)
	if err != nil {
		t.Fatalf("ReadNative: %v", err)
	}
	if len(got.Checkpoints) != 0 {
		t.Fatalf("got %d checkpoints, want 0", len(got.Checkpoints))
	}
}
