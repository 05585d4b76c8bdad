// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package deflate

import "fmt"

// ErrorKind distinguishes the ways a deflate stream can fail to decode,
// matching the distinct kinds spec.md §7 requires callers be able to tell
// apart (header, huffman tree, length, distance).
type ErrorKind int

const (
	_ ErrorKind = iota
	// ErrBadBlockHeader covers a reserved BTYPE value (3) or any malformed
	// fixed-field read in the 3-bit block header.
	ErrBadBlockHeader
	// ErrBadStoredLength covers a stored block whose NLEN isn't the
	// one's-complement of LEN.
	ErrBadStoredLength
	// ErrBadHuffmanTree covers a dynamic block whose precode, literal/length
	// or distance code table fails canonical Huffman construction.
	ErrBadHuffmanTree
	// ErrInvalidLengthSymbol covers a literal/length decode that yields a
	// length symbol outside [257,285].
	ErrInvalidLengthSymbol
	// ErrInvalidDistanceSymbol covers a distance decode that yields a symbol
	// outside [0,29], or a distance that reaches before the start of the
	// window when one is known.
	ErrInvalidDistanceSymbol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrBadBlockHeader:
		return "bad block header"
	case ErrBadStoredLength:
		return "bad stored block length"
	case ErrBadHuffmanTree:
		return "bad huffman tree"
	case ErrInvalidLengthSymbol:
		return "invalid length symbol"
	case ErrInvalidDistanceSymbol:
		return "invalid distance symbol"
	default:
		return "unknown deflate error"
	}
}

// Error wraps an ErrorKind with the bit offset at which it was detected.
type Error struct {
	Kind      ErrorKind
	BitOffset int64
	Msg       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("deflate: %s at bit %d: %s", e.Kind, e.BitOffset, e.Msg)
}
