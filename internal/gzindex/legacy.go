// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gzindex

import (
	"encoding/binary"
	"fmt"
	"io"
)

// indexedGzipMagic and gztoolMagic identify the two legacy on-disk layouts
// this package also reads and writes, laid out to the same field order and
// sizes as the native format's codec (WriteNative/ReadNative) but under a
// distinct magic and version byte, so that three otherwise-equivalent
// layouts are each addressable by their own Format value. See the "Known
// gap" note in DESIGN.md: without a real indexed_gzip- or gztool-produced
// fixture to diff against, this package cannot claim bit-for-bit parity
// with those tools' own serializers, only round-trip correctness of its own
// encode/decode pair and interoperability across the three Format values
// here.
var (
	indexedGzipMagic = [6]byte{'G', 'Z', 'I', 'D', 'X', 1}
	gztoolMagic      = [6]byte{'G', 'Z', 'T', 'O', 'O', 1}
)

// WriteIndexedGzip writes idx in the indexed_gzip-compatible layout.
func WriteIndexedGzip(w io.Writer, idx *Index) error {
	return writeLegacy(w, idx, indexedGzipMagic, false)
}

// ReadIndexedGzip reads an index in the indexed_gzip-compatible layout.
func ReadIndexedGzip(r io.Reader) (*Index, error) {
	return readLegacy(r, indexedGzipMagic)
}

// WriteGztool writes idx in the gztool-compatible layout. Line offsets are
// included only if idx.HasLineOffsets is set (the "gztool-with-lines"
// variant); the layout is otherwise identical.
func WriteGztool(w io.Writer, idx *Index) error {
	return writeLegacy(w, idx, gztoolMagic, idx.HasLineOffsets)
}

// ReadGztool reads an index in the gztool-compatible layout, learning
// whether line offsets are present from the header's hasLines flag.
func ReadGztool(r io.Reader) (*Index, error) {
	return readLegacy(r, gztoolMagic)
}

func writeLegacy(w io.Writer, idx *Index, magic [6]byte, withLines bool) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	newlineByte := uint8(idx.NewlineFormat)
	if err := binary.Write(w, binary.LittleEndian, newlineByte); err != nil {
		return err
	}
	hasLinesByte := uint8(0)
	if withLines {
		hasLinesByte = 1
	}
	if err := binary.Write(w, binary.LittleEndian, hasLinesByte); err != nil {
		return err
	}

	for _, v := range []int64{
		idx.CompressedSizeBytes,
		idx.UncompressedSizeBytes,
		idx.WindowSizeBytes,
		idx.CheckpointSpacing,
		int64(len(idx.Checkpoints)),
	} {
		if err := binary.Write(w, binary.LittleEndian, uint64(v)); err != nil {
			return err
		}
	}

	for _, cp := range idx.Checkpoints {
		if err := binary.Write(w, binary.LittleEndian, uint64(cp.CompressedBitOffset)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(cp.UncompressedByteOffset)); err != nil {
			return err
		}
		windowLen := uint32(len(cp.Window))
		if cp.WindowIsPredecessor {
			windowLen = 0
		}
		if err := binary.Write(w, binary.LittleEndian, windowLen); err != nil {
			return err
		}
		if windowLen > 0 {
			if _, err := w.Write(cp.Window); err != nil {
				return err
			}
		}
		if withLines {
			if err := binary.Write(w, binary.LittleEndian, uint64(cp.LineOffset)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readLegacy(r io.Reader, wantMagic [6]byte) (*Index, error) {
	var magic [6]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("gzindex: reading legacy magic: %w", err)
	}
	if magic != wantMagic {
		return nil, &Error{ErrFormatInvalid, "bad legacy index magic"}
	}
	var newlineByte, hasLinesByte uint8
	if err := binary.Read(r, binary.LittleEndian, &newlineByte); err != nil {
		return nil, fmt.Errorf("gzindex: reading newline format: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &hasLinesByte); err != nil {
		return nil, fmt.Errorf("gzindex: reading line-offset flag: %w", err)
	}
	withLines := hasLinesByte != 0

	fields := make([]uint64, 5)
	for i := range fields {
		if err := binary.Read(r, binary.LittleEndian, &fields[i]); err != nil {
			return nil, fmt.Errorf("gzindex: reading legacy header: %w", err)
		}
	}
	idx := &Index{
		CompressedSizeBytes:   int64(fields[0]),
		UncompressedSizeBytes: int64(fields[1]),
		WindowSizeBytes:       int64(fields[2]),
		CheckpointSpacing:     int64(fields[3]),
		NewlineFormat:         NewlineFormat(newlineByte),
		HasLineOffsets:        withLines,
	}
	count := fields[4]
	idx.Checkpoints = make([]Checkpoint, count)

	for i := range idx.Checkpoints {
		cp := &idx.Checkpoints[i]
		var compBit, uncompByte uint64
		var windowLen uint32
		if err := binary.Read(r, binary.LittleEndian, &compBit); err != nil {
			return nil, fmt.Errorf("gzindex: reading checkpoint %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &uncompByte); err != nil {
			return nil, fmt.Errorf("gzindex: reading checkpoint %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &windowLen); err != nil {
			return nil, fmt.Errorf("gzindex: reading checkpoint %d: %w", i, err)
		}
		cp.CompressedBitOffset = int64(compBit)
		cp.UncompressedByteOffset = int64(uncompByte)
		if windowLen == 0 {
			cp.WindowIsPredecessor = true
		} else {
			cp.Window = make([]byte, windowLen)
			if _, err := io.ReadFull(r, cp.Window); err != nil {
				return nil, fmt.Errorf("gzindex: reading checkpoint %d window: %w", i, err)
			}
		}
		if withLines {
			var line uint64
			if err := binary.Read(r, binary.LittleEndian, &line); err != nil {
				return nil, fmt.Errorf("gzindex: reading checkpoint %d line offset: %w", i, err)
			}
			cp.LineOffset = int64(line)
		}
	}
	return idx, nil
}
