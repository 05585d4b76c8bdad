// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip

import (
	"bytes"
	"compress/flate"
	"io"
	"os"

	"github.com/cosnicolaou/rapidgzip/internal/gzindex"
)

// ExportIndex writes every checkpoint resolved so far (by this pass or
// primed via ImportIndex) to path in the format selected by WithIndexFormat
// (native by default; spec.md §4.12), letting a later
// Open(WithImportIndex(path)) skip straight to random access without
// decoding from the start. ImportIndex reads back any of the supported
// formats regardless of which one was requested here, since gzindex.Read
// auto-detects the on-disk layout.
func (r *Reader) ExportIndex(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exportIndexLocked(path)
}

func (r *Reader) exportIndexLocked(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	checkpoints := mergeCheckpoints(r.importedCheckpoints, r.sc.Checkpoints())
	compressed := make([]gzindex.Checkpoint, len(checkpoints))
	for i, cp := range checkpoints {
		compressed[i] = cp
		if len(cp.Window) > 0 {
			w, err := compressWindow(cp.Window)
			if err != nil {
				return err
			}
			compressed[i].Window = w
		}
	}

	idx := &gzindex.Index{
		CompressedSizeBytes:   r.src.Size(),
		UncompressedSizeBytes: r.size,
		WindowSizeBytes:       32768,
		CheckpointSpacing:     r.cfg.ChunkSizeBytes,
		Checkpoints:           compressed,
	}
	return gzindex.Write(f, idx, r.cfg.IndexFormat)
}

// ImportIndex primes the reader's checkpoint table from a previously
// exported index, known uncompressed size included, so Seek can jump
// directly to any recorded checkpoint without first decoding up to it.
func (r *Reader) ImportIndex(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	idx, _, err := gzindex.Read(f)
	if err != nil {
		return wrapError(IndexFormatInvalid, "reading imported index", err)
	}

	checkpoints := make([]gzindex.Checkpoint, 0, len(idx.Checkpoints))
	var predecessor []byte
	for _, cp := range idx.Checkpoints {
		decoded := predecessor
		if !cp.WindowIsPredecessor {
			decoded, err = decompressWindow(cp.Window)
			if err != nil {
				return wrapError(IndexFormatInvalid, "decompressing imported window", err)
			}
		}
		checkpoints = append(checkpoints, gzindex.Checkpoint{
			CompressedBitOffset:   cp.CompressedBitOffset,
			UncompressedByteOffset: cp.UncompressedByteOffset,
			Window:                decoded,
		})
		predecessor = decoded
	}

	r.mu.Lock()
	r.importedCheckpoints = checkpoints
	if idx.UncompressedSizeBytes > 0 {
		r.size = idx.UncompressedSizeBytes
	}
	r.mu.Unlock()
	return nil
}

func compressWindow(decoded []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(decoded); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWindow(compressed []byte) ([]byte, error) {
	zr := flate.NewReader(bytes.NewReader(compressed))
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return decoded, nil
}

// mergeCheckpoints concatenates a and b, both already in increasing
// UncompressedByteOffset order, preferring b's entry whenever both cover the
// same offset (b is the freshly-decoded set, which carries a real window
// where an imported entry may only have WindowIsPredecessor).
func mergeCheckpoints(a, b []gzindex.Checkpoint) []gzindex.Checkpoint {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	seen := make(map[int64]bool, len(b))
	for _, cp := range b {
		seen[cp.UncompressedByteOffset] = true
	}
	out := make([]gzindex.Checkpoint, 0, len(a)+len(b))
	for _, cp := range a {
		if !seen[cp.UncompressedByteOffset] {
			out = append(out, cp)
		}
	}
	out = append(out, b...)
	return out
}
