// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package window implements the compressed, content-addressed store of
// sliding-window snapshots keyed by compressed bit offset (spec.md §4.8):
// each gzip-stream checkpoint's 32 KiB of trailing decoded bytes, stored
// uncompressed, deflate-compressed, zstd-compressed, or sparse, and handed
// out as immutable, reference-counted handles so readers never hold the
// store's lock while decoding against a window.
package window

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Encoding identifies how a Window's bytes are physically stored.
type Encoding int

const (
	Uncompressed Encoding = iota
	DeflateCompressed
	ZstdCompressed
	Sparse
)

func (e Encoding) String() string {
	switch e {
	case Uncompressed:
		return "uncompressed"
	case DeflateCompressed:
		return "deflate"
	case ZstdCompressed:
		return "zstd"
	case Sparse:
		return "sparse"
	default:
		return "unknown"
	}
}

// Window is an immutable handle to one stored 32 KiB snapshot. Callers
// obtain one via Store.Get and must not mutate the byte slice Bytes
// returns.
type Window struct {
	encoding Encoding
	raw      []byte // as stored, per encoding
	length   int    // decoded length, always WindowSize once full
	fp       uint64 // xxhash fingerprint of the decoded bytes

	decoded     []byte // lazily populated, decompress-once cache
	decodedOnce sync.Once
	decodeErr   error
}

// Fingerprint returns the xxhash64 fingerprint of this window's decoded
// content, used to content-address the store and to deduplicate identical
// windows produced by independent workers (spec §2's "fingerprint cache").
func (w *Window) Fingerprint() uint64 { return w.fp }

// Bytes returns the window's decoded content, decompressing it on first
// access and caching the result; the returned slice must not be modified.
func (w *Window) Bytes() ([]byte, error) {
	w.decodedOnce.Do(func() {
		switch w.encoding {
		case Uncompressed:
			w.decoded = w.raw
		case DeflateCompressed:
			zr := flate.NewReader(bytes.NewReader(w.raw))
			defer zr.Close()
			buf := make([]byte, w.length)
			_, w.decodeErr = io.ReadFull(zr, buf)
			w.decoded = buf
		case ZstdCompressed:
			zr, err := zstd.NewReader(bytes.NewReader(w.raw))
			if err != nil {
				w.decodeErr = err
				return
			}
			defer zr.Close()
			buf := make([]byte, w.length)
			_, w.decodeErr = io.ReadFull(zr, buf)
			w.decoded = buf
		case Sparse:
			w.decoded, w.decodeErr = decodeSparse(w.raw, w.length)
		default:
			w.decodeErr = fmt.Errorf("window: unknown encoding %d", w.encoding)
		}
	})
	return w.decoded, w.decodeErr
}

// Hint tells Put which physical encoding to use, and for Sparse, which
// positions in the 32 KiB window are actually referenced by whatever chunk
// this window precedes (positions not referenced need not be stored at all).
type Hint struct {
	Encoding Encoding
	// Referenced, used only when Encoding==Sparse, marks which of the
	// window's WindowSize byte positions are ever read by back-references in
	// the chunk this window precedes; unmarked positions are omitted,
	// stored as a zero run, since decoding will never touch them.
	Referenced []bool
}

// entry is the store's internal record for one compressed_bit_offset.
type entry struct {
	window *Window
}

// Store maps compressed_bit_offset -> Window. Safe for concurrent use; a
// single mutex guards the map (spec §5: "guarded by a single mutex ... the
// window itself is reference-counted and shared immutably after insertion").
type Store struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[int64]*entry)}
}

// Get returns the Window stored for offset, or (nil, false) if there is
// none. The returned handle is safe to use without holding the store's lock.
func (s *Store) Get(offset int64) (*Window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[offset]
	if !ok {
		return nil, false
	}
	return e.window, true
}

// Put stores decoded (exactly WindowSize bytes, the chunk's trailing window)
// under offset, encoding it per hint. Put is idempotent: storing the same
// offset again replaces the entry under the lock rather than mutating it in
// place, so any handle obtained from a prior Get stays valid and unchanged
// (spec §4.8: "windows are immutable; updates replace the entry").
func (s *Store) Put(offset int64, decoded []byte, hint Hint) (*Window, error) {
	w, err := encode(decoded, hint)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[offset] = &entry{window: w}
	return w, nil
}

// Delete removes the window stored for offset, if any.
func (s *Store) Delete(offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, offset)
}

// Len returns the number of windows currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func encode(decoded []byte, hint Hint) (*Window, error) {
	w := &Window{
		encoding: hint.Encoding,
		length:   len(decoded),
		fp:       xxhash.Sum64(decoded),
	}
	switch hint.Encoding {
	case Uncompressed:
		w.raw = append([]byte(nil), decoded...)
	case DeflateCompressed:
		var buf bytes.Buffer
		zw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(decoded); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		w.raw = buf.Bytes()
	case ZstdCompressed:
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(decoded); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		w.raw = buf.Bytes()
	case Sparse:
		raw, err := encodeSparse(decoded, hint.Referenced)
		if err != nil {
			return nil, err
		}
		w.raw = raw
	default:
		return nil, fmt.Errorf("window: unknown encoding %d", hint.Encoding)
	}
	return w, nil
}

// encodeSparse writes decoded as a sequence of
// (zero_run_length_varint, literal_run_length_varint, literal_bytes...)
// records (spec.md §4.8), treating any byte position not marked in
// referenced as safe to omit (replaced by a zero run) since no chunk
// decoding will ever read it.
func encodeSparse(decoded []byte, referenced []bool) ([]byte, error) {
	var buf bytes.Buffer
	var varintBuf [binary.MaxVarintLen64]byte

	writeVarint := func(v uint64) {
		n := binary.PutUvarint(varintBuf[:], v)
		buf.Write(varintBuf[:n])
	}

	isReferenced := func(i int) bool {
		if referenced == nil {
			return true
		}
		return i < len(referenced) && referenced[i]
	}

	i := 0
	for i < len(decoded) {
		zeroStart := i
		for i < len(decoded) && !isReferenced(i) {
			i++
		}
		zeroRun := i - zeroStart

		litStart := i
		for i < len(decoded) && isReferenced(i) {
			i++
		}
		litRun := i - litStart

		writeVarint(uint64(zeroRun))
		writeVarint(uint64(litRun))
		buf.Write(decoded[litStart:i])
	}
	return buf.Bytes(), nil
}

func decodeSparse(raw []byte, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	r := bytes.NewReader(raw)
	for r.Len() > 0 {
		zeroRun, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("window: sparse decode: %w", err)
		}
		out = append(out, make([]byte, zeroRun)...)
		litRun, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("window: sparse decode: %w", err)
		}
		lit := make([]byte, litRun)
		if _, err := io.ReadFull(r, lit); err != nil {
			return nil, fmt.Errorf("window: sparse decode: %w", err)
		}
		out = append(out, lit...)
	}
	if len(out) != length {
		return nil, fmt.Errorf("window: sparse decode produced %d bytes, want %d", len(out), length)
	}
	return out, nil
}
