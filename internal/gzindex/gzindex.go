// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package gzindex serializes and deserializes seekpoint tables (spec.md
// §4.12): the native binary format this module defines, plus read/write
// support for the legacy indexed_gzip and gztool layouts so that an index
// built here round-trips under those formats too. See DESIGN.md for the
// known gap on the legacy codecs: no indexed_gzip- or gztool-produced
// fixture was available to verify byte-for-byte parity against.
package gzindex

import (
	"fmt"
	"strings"
)

// NewlineFormat identifies which line-ending convention a gztool-with-lines
// index's line offsets were computed against.
type NewlineFormat int

const (
	NewlineUnix NewlineFormat = iota
	NewlineWindows
)

// Checkpoint is one seekpoint: a compressed/uncompressed offset pair plus
// the window needed to resume decoding from it (spec.md §4.12).
type Checkpoint struct {
	CompressedBitOffset   int64
	UncompressedByteOffset int64

	// Window holds the 32 KiB (or fewer, for a short prefix) predecessor
	// window for this checkpoint, deflate-compressed as stored on disk. A
	// nil Window with WindowIsPredecessor set means "identical to the
	// previous checkpoint's window, don't store it twice" (spec.md §4.12's
	// window_length==0 convention), legal only for checkpoints that do not
	// fall on a deflate block boundary.
	Window              []byte
	WindowIsPredecessor bool

	// LineOffset is the line number at this checkpoint, populated only for
	// gztool-with-lines indexes.
	LineOffset int64
}

// Index is the in-memory representation shared by all three on-disk
// formats; readers of any format populate this, writers of any format
// consume it.
type Index struct {
	CompressedSizeBytes   int64
	UncompressedSizeBytes int64
	WindowSizeBytes       int64
	CheckpointSpacing     int64

	Checkpoints []Checkpoint

	HasLineOffsets bool
	NewlineFormat  NewlineFormat
}

// Format identifies which on-disk layout to read or write.
type Format int

const (
	Native Format = iota
	IndexedGzip
	Gztool
	GztoolWithLines
)

func (f Format) String() string {
	switch f {
	case Native:
		return "native"
	case IndexedGzip:
		return "indexed_gzip"
	case Gztool:
		return "gztool"
	case GztoolWithLines:
		return "gztool-with-lines"
	default:
		return "unknown"
	}
}

// ParseFormat maps a CLI --index-format value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "native":
		return Native, nil
	case "indexed_gzip":
		return IndexedGzip, nil
	case "gztool":
		return Gztool, nil
	case "gztool-with-lines", "gztool_with_lines":
		return GztoolWithLines, nil
	default:
		return 0, fmt.Errorf("gzindex: unknown index format %q", s)
	}
}

// ErrorKind distinguishes index-codec failures (spec.md §7).
type ErrorKind int

const (
	_ ErrorKind = iota
	ErrFormatInvalid
	ErrVersionUnsupported
	ErrStreamMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case ErrFormatInvalid:
		return "index format invalid"
	case ErrVersionUnsupported:
		return "index version unsupported"
	case ErrStreamMismatch:
		return "index stream mismatch"
	default:
		return "unknown index error"
	}
}

// Error wraps an ErrorKind with context.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("gzindex: %s: %s", e.Kind, e.Msg) }
