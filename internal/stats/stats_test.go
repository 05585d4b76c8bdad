// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package stats

import (
	"math"
	"testing"
)

func TestSummaryMinMaxAverage(t *testing.T) {
	s := NewSummary[int]()
	for _, v := range []int{4, 8, 6, 2, 10} {
		s.Merge(v)
	}
	if s.Min != 2 || s.Max != 10 {
		t.Fatalf("Min/Max = %d/%d, want 2/10", s.Min, s.Max)
	}
	if s.Count != 5 {
		t.Fatalf("Count = %d, want 5", s.Count)
	}
	if got, want := s.Average(), 6.0; got != want {
		t.Fatalf("Average() = %v, want %v", got, want)
	}
}

func TestSummaryVarianceExpandedIdentity(t *testing.T) {
	s := NewSummary[float64]()
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Merge(v)
	}
	// sum=40, avg=5, sum2=232, n=8; Variance = sum2/(n-1) - avg^2 = 232/7 - 25.
	if got, want := s.Variance(), 232.0/7.0-25.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("Variance() = %v, want %v", got, want)
	}
}

func TestSummaryEmptyAverageIsNaN(t *testing.T) {
	s := NewSummary[int]()
	if !math.IsNaN(s.Average()) {
		t.Fatal("expected NaN average for an empty Summary")
	}
}

func TestHistogramMergeBucketsCorrectly(t *testing.T) {
	h := NewHistogram[float64](0, 100, 4, "ms")
	for _, v := range []float64{0, 24, 25, 49, 50, 74, 75, 100} {
		if !h.Merge(v) {
			t.Fatalf("Merge(%v) returned false, want true", v)
		}
	}
	bins := h.Bins()
	if len(bins) != 4 {
		t.Fatalf("len(bins) = %d, want 4", len(bins))
	}
	// [0,25) gets 0 and 24; [25,50) gets 25 and 49; [50,75) gets 50 and 74;
	// [75,100] gets 75 and 100 (100 forced into the last bin).
	want := []uint64{2, 2, 2, 2}
	for i := range want {
		if bins[i] != want[i] {
			t.Fatalf("bins[%d] = %d, want %d", i, bins[i], want[i])
		}
	}
}

func TestHistogramMergeRejectsOutOfRange(t *testing.T) {
	h := NewHistogram[int](10, 20, 2, "")
	if h.Merge(5) {
		t.Fatal("expected Merge(5) to be rejected for a [10,20] histogram")
	}
	if h.Merge(25) {
		t.Fatal("expected Merge(25) to be rejected for a [10,20] histogram")
	}
	if !h.Merge(15) {
		t.Fatal("expected Merge(15) to be accepted")
	}
}

func TestHistogramBinBoundaries(t *testing.T) {
	h := NewHistogram[float64](0, 10, 5, "")
	if got, want := h.BinStart(2), 4.0; got != want {
		t.Fatalf("BinStart(2) = %v, want %v", got, want)
	}
	if got, want := h.BinEnd(2), 6.0; got != want {
		t.Fatalf("BinEnd(2) = %v, want %v", got, want)
	}
	if got, want := h.BinCenter(2), 5.0; got != want {
		t.Fatalf("BinCenter(2) = %v, want %v", got, want)
	}
}

func TestHistogramPlotNonEmptyForMultipleBins(t *testing.T) {
	h := NewHistogram[int](0, 10, 3, "units")
	for _, v := range []int{1, 1, 1, 5, 9} {
		h.Merge(v)
	}
	plot := h.Plot()
	if plot == "" {
		t.Fatal("expected a non-empty plot for a multi-bin histogram")
	}
}

func TestHistogramPlotEmptyForSingleBin(t *testing.T) {
	h := NewHistogram[int](0, 10, 1, "")
	h.Merge(5)
	if h.Plot() != "" {
		t.Fatal("expected an empty plot for a single-bin histogram")
	}
}
