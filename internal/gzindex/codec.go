// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package gzindex

import (
	"bytes"
	"fmt"
	"io"
)

// Write serializes idx in the requested format.
func Write(w io.Writer, idx *Index, format Format) error {
	switch format {
	case Native:
		return WriteNative(w, idx)
	case IndexedGzip:
		return WriteIndexedGzip(w, idx)
	case Gztool:
		return WriteGztool(w, idx)
	case GztoolWithLines:
		if idx.HasLineOffsets {
			return WriteGztool(w, idx)
		}
		withLines := *idx
		withLines.HasLineOffsets = true
		return WriteGztool(w, &withLines)
	default:
		return &Error{ErrFormatInvalid, fmt.Sprintf("unknown format %v", format)}
	}
}

// Detect sniffs the on-disk format from its magic prefix without consuming
// r; callers pass the returned Format to Read (or decide not to read at
// all).
func Detect(r io.ReaderAt) (Format, error) {
	head := make([]byte, 8)
	n, err := r.ReadAt(head, 0)
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("gzindex: detecting format: %w", err)
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, nativeMagic[:]):
		return Native, nil
	case bytes.HasPrefix(head, indexedGzipMagic[:]):
		return IndexedGzip, nil
	case bytes.HasPrefix(head, gztoolMagic[:]):
		return Gztool, nil
	default:
		return 0, &Error{ErrFormatInvalid, "unrecognized index magic"}
	}
}

// Read detects the format at the front of r and decodes it.
func Read(r io.ReaderAt) (*Index, Format, error) {
	format, err := Detect(r)
	if err != nil {
		return nil, 0, err
	}
	sr := io.NewSectionReader(r, 0, 1<<63-1)
	var idx *Index
	switch format {
	case Native:
		idx, err = ReadNative(sr)
	case IndexedGzip:
		idx, err = ReadIndexedGzip(sr)
	case Gztool:
		idx, err = ReadGztool(sr)
		if err == nil && idx.HasLineOffsets {
			format = GztoolWithLines
		}
	}
	if err != nil {
		return nil, 0, err
	}
	return idx, format, nil
}
