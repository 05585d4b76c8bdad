// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package marker resolves the speculative 16-bit marker symbols
// internal/deflate emits when it starts decoding without a known window
// (spec.md §4.7), once the scheduler has determined the chunk's true
// predecessor window.
package marker

import (
	"fmt"

	"github.com/cosnicolaou/rapidgzip/internal/deflate"
)

// Resolve converts a marker buffer into real bytes using window, the 32 KiB
// of real output immediately preceding the chunk the markers belong to.
// len(window) must be exactly deflate.WindowSize.
//
// Resolve is pure: it does not mutate markers or window, and calling it
// twice on the same input yields the same output, satisfying spec.md §8's
// "marker resolution is idempotent" property trivially (a fresh output
// buffer is indistinguishable from re-resolving an already-resolved one,
// since ResolveChunk below only ever calls this while MarkerBuf is
// non-empty).
func Resolve(markers []uint16, window []byte) ([]byte, error) {
	if len(window) != deflate.WindowSize {
		return nil, fmt.Errorf("marker: window has %d bytes, want %d", len(window), deflate.WindowSize)
	}
	out := make([]byte, len(markers))
	for i, m := range markers {
		switch {
		case m < deflate.MarkerBase:
			out[i] = byte(m)
		case m < deflate.MarkerBase+deflate.WindowSize:
			out[i] = window[m-deflate.MarkerBase]
		default:
			return nil, fmt.Errorf("marker: value %d out of range [0, %d)", m, deflate.MarkerBase+deflate.WindowSize)
		}
	}
	return out, nil
}

// Resolvable is the minimal shape internal/chunk's DecodedChunk satisfies;
// kept separate from that package so marker has no dependency on it.
type Resolvable interface {
	Markers() []uint16
	PrependResolved(resolved []byte)
	ClearMarkers()
}

// ResolveChunk resolves c's markers against window and folds the result
// into its byte buffer, or does nothing if c has no markers left to
// resolve -- the idempotency spec.md §8 requires.
func ResolveChunk(c Resolvable, window []byte) error {
	markers := c.Markers()
	if len(markers) == 0 {
		return nil
	}
	resolved, err := Resolve(markers, window)
	if err != nil {
		return err
	}
	c.PrependResolved(resolved)
	c.ClearMarkers()
	return nil
}
