// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package chunk decodes one bounded byte range of a gzip/deflate stream,
// gluing together internal/blockfinder (speculative start search),
// internal/deflate (the block state machine) and internal/gzipframe (member
// footer verification) over an internal/bitreader.BitReader (spec.md §4.6).
package chunk

import (
	"errors"
	"fmt"

	"github.com/cosnicolaou/rapidgzip/internal/bitreader"
	"github.com/cosnicolaou/rapidgzip/internal/blockfinder"
	"github.com/cosnicolaou/rapidgzip/internal/deflate"
	"github.com/cosnicolaou/rapidgzip/internal/gzipframe"
)

// BlockBoundary records the point at which one deflate block ends: the
// compressed bit offset just after the block and the chunk's decoded size
// at that point, enabling sub-chunk splitting for fine-grained seeks
// (spec.md §4.6).
type BlockBoundary struct {
	BitOffset   int64
	DecodedSize int64
}

// Decoded is the result of decoding one chunk: spec.md §3's DecodedChunk.
// Invariant: MarkerBuf precedes ByteBuf; once MarkerBuf is empty the chunk
// is fully resolved (internal/marker.ResolveChunk maintains this).
type Decoded struct {
	BitRangeStart int64
	BitRangeEnd   int64

	MarkerBuf []uint16
	ByteBuf   []byte

	BlockBoundaries []BlockBoundary

	// Footers holds one entry per gzip member footer crossed while decoding
	// this chunk, in the order encountered.
	Footers []gzipframe.Footer

	// FooterLogicalOffsets holds, for the corresponding entry in Footers,
	// that member's end position as len(MarkerBuf)+len(ByteBuf) at the
	// moment the footer was read -- stable across marker resolution, since
	// resolving a marker turns it into exactly one real byte, so this
	// offset locates the member boundary in the final resolved ByteBuf too.
	FooterLogicalOffsets []int64
}

// Markers, PrependResolved and ClearMarkers satisfy marker.Resolvable.
func (d *Decoded) Markers() []uint16 { return d.MarkerBuf }
func (d *Decoded) PrependResolved(resolved []byte) {
	d.ByteBuf = append(resolved, d.ByteBuf...)
}
func (d *Decoded) ClearMarkers() { d.MarkerBuf = nil }

// ErrorKind distinguishes chunk-level failures from spec.md §7.
type ErrorKind int

const (
	_ ErrorKind = iota
	ErrNoValidBlockFound
	ErrChunkExceededBudget
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNoValidBlockFound:
		return "no valid block found"
	case ErrChunkExceededBudget:
		return "chunk exceeded safety budget"
	default:
		return "unknown chunk error"
	}
}

// Error wraps an ErrorKind with context.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("chunk: %s: %s", e.Kind, e.Msg) }

// Options configures one Decode call.
type Options struct {
	// ChunkEndHint is a soft upper bound, in bits, on how much compressed
	// data to consume; decoding continues to the next block boundary at or
	// past it.
	ChunkEndHint int64

	// InitialWindow, if non-nil, must be exactly deflate.WindowSize bytes:
	// the real predecessor window. When set, decoding runs in full-byte mode
	// from the start and blockfinder is not consulted.
	InitialWindow []byte

	// MaxRetries bounds how many speculative starts are tried before giving
	// up with ErrNoValidBlockFound (spec.md §4.6 default: 8).
	MaxRetries int

	// SafetyCapBits, if non-zero, is an absolute bit offset past which
	// decoding aborts with ErrChunkExceededBudget even if no block boundary
	// has been reached; guards against runaway speculative decoding.
	SafetyCapBits int64

	// GzipFraming, when true, causes a member footer to be read and
	// recorded whenever a final block ends, and decoding to continue into
	// any subsequent concatenated member found within the chunk's budget.
	GzipFraming bool
}

func defaultRetries(o Options) int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 8
}

// Decode decodes one chunk starting at or after startBit.
func Decode(br *bitreader.BitReader, sizeBits, startBit int64, opts Options) (*Decoded, error) {
	out := &Decoded{BitRangeStart: startBit}

	if opts.InitialWindow != nil {
		if len(opts.InitialWindow) != deflate.WindowSize {
			return nil, fmt.Errorf("chunk: initial window has %d bytes, want %d", len(opts.InitialWindow), deflate.WindowSize)
		}
		if _, err := br.Seek(startBit, bitreader.SeekStart); err != nil {
			return nil, err
		}
		dec := deflate.NewWithWindow(br, opts.InitialWindow)
		if err := runDecoder(br, dec, opts, out); err != nil {
			return nil, err
		}
		return out, nil
	}

	finder := blockfinder.New(br.Source(), sizeBits/8+1)
	attempts := defaultRetries(opts)
	searchFrom := startBit

	for attempt := 0; attempt < attempts; attempt++ {
		candidates, err := finder.Find(searchFrom, sizeBits)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, &Error{ErrNoValidBlockFound, "block finder exhausted its search range"}
		}

		start := candidates[0].BitOffsetHi
		if _, err := br.Seek(start, bitreader.SeekStart); err != nil {
			return nil, err
		}
		dec := deflate.New(br)
		out.BitRangeStart = start
		if err := runDecoder(br, dec, opts, out); err != nil {
			searchFrom = start + 1
			*out = Decoded{BitRangeStart: startBit}
			continue
		}
		return out, nil
	}
	return nil, &Error{ErrNoValidBlockFound, fmt.Sprintf("exhausted %d speculative starts", attempts)}
}

// runDecoder drives dec block by block until the chunk's end hint has been
// crossed at a block boundary, a safety cap is exceeded, or the stream ends.
func runDecoder(br *bitreader.BitReader, dec *deflate.Decoder, opts Options, out *Decoded) error {
	for {
		if opts.SafetyCapBits > 0 && br.Tell() > opts.SafetyCapBits {
			return &Error{ErrChunkExceededBudget, "safety cap exceeded"}
		}
		final, err := dec.RunOneBlock()
		if err != nil {
			return err
		}
		// len(out.MarkerBuf)+len(out.ByteBuf) is every prior member's output,
		// already flushed below whenever one ends; dec.Pos() is this member's
		// own progress, so their sum is the decoded size cumulative across the
		// whole chunk rather than just this member.
		out.BlockBoundaries = append(out.BlockBoundaries, BlockBoundary{
			BitOffset:   br.Tell(),
			DecodedSize: int64(len(out.MarkerBuf)+len(out.ByteBuf)) + dec.Pos(),
		})

		if final && opts.GzipFraming {
			br.AlignToByte()
			footer, ferr := gzipframe.ReadFooter(bitReaderAsByteReader{br})
			if ferr != nil {
				return ferr
			}
			out.MarkerBuf = append(out.MarkerBuf, dec.MarkerBuf...)
			out.ByteBuf = append(out.ByteBuf, dec.ByteBuf...)
			out.Footers = append(out.Footers, *footer)
			out.FooterLogicalOffsets = append(out.FooterLogicalOffsets, int64(len(out.MarkerBuf)+len(out.ByteBuf)))

			if br.EOF() {
				return finish(br, out)
			}
			// Concatenated member: independent deflate stream, so start a
			// fresh decoder with no predecessor window.
			if _, herr := gzipframe.ReadHeader(bitReaderAsByteReader{br}); herr != nil {
				return finish(br, out)
			}
			dec = deflate.New(br)
			continue
		}
		if final {
			break
		}
		if br.Tell() >= opts.ChunkEndHint {
			break
		}
	}
	out.MarkerBuf = append(out.MarkerBuf, dec.MarkerBuf...)
	out.ByteBuf = append(out.ByteBuf, dec.ByteBuf...)
	return finish(br, out)
}

func finish(br *bitreader.BitReader, out *Decoded) error {
	out.BitRangeEnd = br.Tell()
	if len(out.ByteBuf) == 0 && len(out.MarkerBuf) == 0 {
		return errors.New("chunk: decoder produced no output")
	}
	return nil
}

// bitReaderAsByteReader adapts a byte-aligned BitReader to io.Reader for
// gzipframe's sequential header/footer parsing.
type bitReaderAsByteReader struct{ br *bitreader.BitReader }

func (b bitReaderAsByteReader) Read(p []byte) (int, error) {
	for i := range p {
		v, err := b.br.Read(8)
		if err != nil {
			return i, err
		}
		p[i] = byte(v)
	}
	return len(p), nil
}

