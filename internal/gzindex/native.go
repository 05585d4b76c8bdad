// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gzindex

import (
	"encoding/binary"
	"fmt"
	"io"
)

// nativeMagic identifies this module's own index format, distinct from the
// legacy indexed_gzip and gztool magics this package also reads and writes.
var nativeMagic = [8]byte{'r', 'g', 'z', 'i', 'd', 'x', '0', '1'}

// WriteNative writes idx in the native format (spec.md §4.12): a header
// magic, the four size/spacing fields, a record count, then one fixed
// record per checkpoint. All integers are little-endian.
func WriteNative(w io.Writer, idx *Index) error {
	if _, err := w.Write(nativeMagic[:]); err != nil {
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
	}
	return nil
}

// ReadNative reads an index previously written by WriteNative.
func ReadNative(r io.Reader) (*Index, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("gzindex: reading native magic: %w", err)
	}
	if magic != nativeMagic {
		return nil, &Error{ErrFormatInvalid, "bad native index magic"}
	}

	fields := make([]uint64, 5)
	for i := range fields {
		if err := binary.Read(r, binary.LittleEndian, &fields[i]); err != nil {
			return nil, fmt.Errorf("gzindex: reading native header: %w", err)
		}
	}
	idx := &Index{
		CompressedSizeBytes:   int64(fields[0]),
		UncompressedSizeBytes: int64(fields[1]),
		WindowSizeBytes:       int64(fields[2]),
		CheckpointSpacing:     int64(fields[3]),
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
	}
	return idx, nil
}
