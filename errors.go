// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip

import (
	"errors"
	"fmt"

	"github.com/cosnicolaou/rapidgzip/internal/gzipframe"
)

// ErrorKind is this package's exported error taxonomy (spec.md §7),
// umbrella-ing the more granular kinds internal/deflate, internal/gzipframe
// and internal/gzindex already report, so callers checking errors.As(err,
// &rapidgzip.Error{}) don't need to import internal packages.
type ErrorKind int

const (
	_ ErrorKind = iota
	UnexpectedEof
	InvalidMagic
	UnsupportedCompressionMethod
	InvalidFlags
	HeaderCrcMismatch
	ChecksumMismatch
	SizeMismatch
	NoValidBlockFound
	IndexFormatInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case UnexpectedEof:
		return "unexpected end of file"
	case InvalidMagic:
		return "invalid magic bytes"
	case UnsupportedCompressionMethod:
		return "unsupported compression method"
	case InvalidFlags:
		return "invalid header flags"
	case HeaderCrcMismatch:
		return "header CRC mismatch"
	case ChecksumMismatch:
		return "checksum mismatch"
	case SizeMismatch:
		return "uncompressed size mismatch"
	case NoValidBlockFound:
		return "no valid deflate block found"
	case IndexFormatInvalid:
		return "index format invalid"
	default:
		return "unknown error"
	}
}

// Error is the error type returned at this package's public boundary.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error // the lower-level error this wraps, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rapidgzip: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("rapidgzip: %s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapError(kind ErrorKind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// ErrClosed is returned by Reader methods called after Close.
var ErrClosed = errors.New("rapidgzip: reader closed")

// wrapHeaderError classifies a gzip header parse failure, promoting
// internal/gzipframe's own CRC/flags kinds to their matching ErrorKind
// instead of the generic InvalidMagic bucket.
func wrapHeaderError(msg string, err error) error {
	var gfErr *gzipframe.Error
	if errors.As(err, &gfErr) {
		switch gfErr.Kind {
		case gzipframe.ErrHeaderCRCMismatch:
			return wrapError(HeaderCrcMismatch, msg, err)
		case gzipframe.ErrInvalidFlags:
			return wrapError(InvalidFlags, msg, err)
		}
	}
	return wrapError(InvalidMagic, msg, err)
}
