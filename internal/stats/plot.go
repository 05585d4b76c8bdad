// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package stats

import (
	"fmt"
	"strconv"
	"strings"
)

const barWidth = 20

// Plot renders an ASCII bar chart of the histogram, one line per bin, for
// --analyze/--verbose diagnostic output.
func (h *Histogram[T]) Plot() string {
	if len(h.bins) <= 1 {
		return ""
	}

	var maxBin uint64
	maxBinIndex := 0
	for i, b := range h.bins {
		if b > maxBin {
			maxBin = b
			maxBinIndex = i
		}
	}

	labels := make([]string, len(h.bins))
	labels[0] = h.formatLabel(float64(h.summary.Min))
	labels[len(labels)-1] = h.formatLabel(float64(h.summary.Max))
	for i := 1; i < len(h.bins)-1; i++ {
		if i == maxBinIndex {
			labels[i] = h.formatLabel(h.BinCenter(i))
		}
	}

	maxLabelLen := 0
	for _, l := range labels {
		if len(l) > maxLabelLen {
			maxLabelLen = len(l)
		}
	}

	var out strings.Builder
	for i, bin := range h.bins {
		label := labels[i]
		fmt.Fprintf(&out, "%*s |", maxLabelLen, label)

		visual := 0
		if maxBin > 0 {
			visual = int(float64(bin) / float64(maxBin) * barWidth)
		}
		fmt.Fprintf(&out, "%-*s", barWidth, strings.Repeat("=", visual))

		if bin > 0 {
			fmt.Fprintf(&out, " (%d)", bin)
		}
		out.WriteString("\n")
	}
	return out.String()
}

func (h *Histogram[T]) formatLabel(value float64) string {
	var s string
	if value == float64(int64(value)) {
		s = strconv.FormatFloat(value, 'f', -1, 64)
	} else {
		s = strconv.FormatFloat(value, 'e', -1, 64)
	}
	if h.unit != "" {
		s += " " + h.unit
	}
	return s
}
