// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package cache

import "math"

// Prefetcher implements spec.md §4.9's access-pattern detector: it records
// recent chunk-index accesses and predicts which indices are likely to be
// asked for next, scaling how aggressively it predicts by how sequential the
// recent access pattern looks.
//
// Prefetcher is not safe for concurrent use; Cache serializes access to it
// under its own mutex.
type Prefetcher struct {
	recent   []int64
	capacity int
	maxAhead int
}

// NewPrefetcher returns a Prefetcher that predicts at most maxAhead indices
// ahead and remembers the last maxAhead*3 accesses (spec.md §4.9's default
// memory size, "M (default 16x3)" for a default maxAhead of 16).
func NewPrefetcher(maxAhead int) *Prefetcher {
	if maxAhead <= 0 {
		maxAhead = 16
	}
	return &Prefetcher{capacity: maxAhead * 3, maxAhead: maxAhead}
}

// Record appends index to the recent-access ring, evicting the oldest entry
// once the ring is full.
func (p *Prefetcher) Record(index int64) {
	p.recent = append(p.recent, index)
	if len(p.recent) > p.capacity {
		p.recent = p.recent[len(p.recent)-p.capacity:]
	}
}

// Predict returns the indices the prefetcher believes should be fetched
// next, most-likely first, capped at maxAhead entries.
func (p *Prefetcher) Predict() []int64 {
	if len(p.recent) == 0 {
		return nil
	}
	if len(p.recent) == 1 {
		start := p.recent[0] + 1
		out := make([]int64, p.maxAhead)
		for i := range out {
			out[i] = start + int64(i)
		}
		return out
	}

	sorted := append([]int64(nil), p.recent...)
	sortInt64s(sorted)

	type run struct{ start, end int64 }
	var runs []run
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] == sorted[j]+1 {
			j++
		}
		runs = append(runs, run{sorted[i], sorted[j]})
		i = j + 1
	}

	longest := 0
	for _, r := range runs {
		if n := int(r.end-r.start) + 1; n > longest {
			longest = n
		}
	}
	ratio := float64(longest) / float64(len(p.recent))
	predictN := int(math.Ceil(math.Pow(2, ratio*math.Log2(float64(p.maxAhead)))))
	if predictN > p.maxAhead {
		predictN = p.maxAhead
	}
	if predictN < 0 {
		predictN = 0
	}

	inWindow := make(map[int64]bool, len(sorted))
	for _, v := range sorted {
		inWindow[v] = true
	}

	var preds []int64
	for k := 1; k <= predictN && len(preds) < predictN; k++ {
		for _, r := range runs {
			v := r.end + int64(k)
			if inWindow[v] {
				continue
			}
			inWindow[v] = true
			preds = append(preds, v)
			if len(preds) >= predictN {
				break
			}
		}
	}
	return preds
}

// NotifySplit handles a large cached chunk later being partitioned into k
// sub-chunks (spec.md §4.9): every recorded index past splitIndex shifts by
// k-1 to make room, and splitIndex itself is duplicated into k consecutive
// entries so the prefetcher's notion of "recently accessed" tracks the new,
// finer-grained index space.
func (p *Prefetcher) NotifySplit(splitIndex int64, k int) {
	if k < 1 {
		k = 1
	}
	var out []int64
	for _, v := range p.recent {
		switch {
		case v < splitIndex:
			out = append(out, v)
		case v == splitIndex:
			for j := 0; j < k; j++ {
				out = append(out, splitIndex+int64(j))
			}
		default:
			out = append(out, v+int64(k-1))
		}
	}
	if len(out) > p.capacity {
		out = out[len(out)-p.capacity:]
	}
	p.recent = out
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
