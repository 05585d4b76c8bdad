// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package testutil collects the small fixture-generation helpers shared by
// this module's package-level tests: predictable/reproducible random
// payloads and gzip file construction, mirroring the teacher's own
// internal/test_util.go.
package testutil

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"math/rand"
	"os"
	"time"
)

// fixedRandSeed must stay in sync across test runs so GenPredictableRandomData
// always returns the same bytes for the same size.
const fixedRandSeed = 0x1234

var randSource rand.Source

func init() {
	seed := time.Now().UnixNano()
	fmt.Printf("testutil: rand seed for GenReproducibleRandomData: %v\n", seed)
	randSource = rand.NewSource(seed)
}

// GenPredictableRandomData returns size bytes of pseudorandom data from a
// fixed seed, identical across every call and every test run.
func GenPredictableRandomData(size int) []byte {
	gen := rand.New(rand.NewSource(fixedRandSeed))
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(gen.Intn(256))
	}
	return out
}

// GenReproducibleRandomData returns size bytes from the seed this package's
// init logged, so a failing test's fixture can be reproduced by pinning
// that seed.
func GenReproducibleRandomData(size int) []byte {
	gen := rand.New(randSource)
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(gen.Intn(256))
	}
	return out
}

// FirstN returns at most the first n bytes of b.
func FirstN(n int, b []byte) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// GzipMember describes one member of a (possibly concatenated) gzip
// stream fixture.
type GzipMember struct {
	Payload []byte
	Level   int // compress/gzip level; 0 means gzip.DefaultCompression
}

// BuildGzipStream concatenates one gzip member per entry in members,
// returning the encoded bytes -- the standard way concatenated gzip
// streams (spec.md §4.4) arise in practice, e.g. `cat a.gz b.gz`.
func BuildGzipStream(members []GzipMember) ([]byte, error) {
	var buf bytes.Buffer
	for i, m := range members {
		level := m.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		w, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("testutil: member %d: %w", i, err)
		}
		if _, err := w.Write(m.Payload); err != nil {
			return nil, fmt.Errorf("testutil: member %d: %w", i, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("testutil: member %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// CreateGzipFile writes data to filename as a single-member gzip stream.
func CreateGzipFile(filename string, data []byte) error {
	encoded, err := BuildGzipStream([]GzipMember{{Payload: data}})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filename, encoded, 0o660); err != nil {
		return fmt.Errorf("testutil: write file %v: %w", filename, err)
	}
	return nil
}
