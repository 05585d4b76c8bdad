// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package deflate

import "testing"

func TestLengthDistanceTableMaxima(t *testing.T) {
	maxLength := lengthBase[len(lengthBase)-1] + (1<<lengthExtraBits[len(lengthExtraBits)-1] - 1)
	if maxLength != 258 {
		t.Fatalf("max length = %d, want 258", maxLength)
	}
	maxDist := distBase[len(distBase)-1] + (1<<distExtraBits[len(distExtraBits)-1] - 1)
	if maxDist != WindowSize {
		t.Fatalf("max distance = %d, want %d", maxDist, WindowSize)
	}
}

func TestFixedTablesSizes(t *testing.T) {
	if l := fixedLitLenLengths(); len(l) != 288 {
		t.Fatalf("fixed lit/len table has %d entries, want 288", len(l))
	}
	if d := fixedDistLengths(); len(d) != 30 {
		t.Fatalf("fixed distance table has %d entries, want 30", len(d))
	}
}

func TestPrecodeOrderIsAPermutation(t *testing.T) {
	var seen [19]bool
	for _, v := range precodeOrder {
		if v < 0 || v >= 19 || seen[v] {
			t.Fatalf("precodeOrder is not a permutation of [0,19): %v", precodeOrder)
		}
		seen[v] = true
	}
}
