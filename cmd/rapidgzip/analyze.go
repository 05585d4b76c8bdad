// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/cosnicolaou/rapidgzip"
	"github.com/cosnicolaou/rapidgzip/internal/stats"
)

// analysisReport accumulates per-chunk statistics from a Progress channel,
// the CLI's use of the stats surface spec.md names as an external
// collaborator and SPEC_FULL.md's analyze flag wires up concretely.
type analysisReport struct {
	compressed   stats.Summary[int]
	uncompressed stats.Summary[int]
	interval     stats.Summary[float64]
	lastAt       time.Time
	chunks       uint64
}

func newAnalysisReport() *analysisReport {
	return &analysisReport{
		compressed:   stats.NewSummary[int](),
		uncompressed: stats.NewSummary[int](),
		interval:     stats.NewSummary[float64](),
	}
}

func (r *analysisReport) observe(p rapidgzip.Progress) {
	r.compressed.Merge(p.CompressedBytes)
	r.uncompressed.Merge(p.UncompressedBytes)
	now := time.Now()
	if !r.lastAt.IsZero() {
		r.interval.Merge(now.Sub(r.lastAt).Seconds())
	}
	r.lastAt = now
	r.chunks++
}

func (r *analysisReport) print(w io.Writer, totalUncompressed int64) {
	fmt.Fprintf(w, "chunks:              %d\n", r.chunks)
	fmt.Fprintf(w, "uncompressed bytes:  %d\n", totalUncompressed)
	fmt.Fprintf(w, "compressed chunk:    min=%d max=%d avg=%.1f stddev=%.1f\n",
		r.compressed.Min, r.compressed.Max, r.compressed.Average(), r.compressed.StandardDeviation())
	fmt.Fprintf(w, "uncompressed chunk:  min=%d max=%d avg=%.1f stddev=%.1f\n",
		r.uncompressed.Min, r.uncompressed.Max, r.uncompressed.Average(), r.uncompressed.StandardDeviation())
	if r.interval.Count > 0 {
		fmt.Fprintf(w, "inter-chunk arrival: min=%.4fs max=%.4fs avg=%.4fs\n",
			r.interval.Min, r.interval.Max, r.interval.Average())
	}
}
