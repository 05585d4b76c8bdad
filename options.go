// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip

import (
	"runtime"

	"github.com/cosnicolaou/rapidgzip/internal/cache"
	"github.com/cosnicolaou/rapidgzip/internal/gzindex"
	"github.com/cosnicolaou/rapidgzip/internal/iosource"
)

const defaultChunkSizeBytes = 4 << 20 // 4 MiB, spec.md §4.10's default.

// Config holds the resolved settings for Open (spec.md §6's
// `Reader open(source, config)`).
type Config struct {
	Parallelism     int
	ChunkSizeBytes  int64
	VerifyCRC       bool
	IndexImportPath string
	IndexExportPath string
	IndexFormat     gzindex.Format
	IOReadMethod    iosource.Method
	CacheCapacity   int
	ProgressCh      chan<- Progress
	Verbose         bool
}

func defaultConfig() Config {
	parallelism := runtime.GOMAXPROCS(-1)
	return Config{
		Parallelism:    parallelism,
		ChunkSizeBytes: defaultChunkSizeBytes,
		VerifyCRC:      true,
		IOReadMethod:   iosource.Pread,
		CacheCapacity:  cache.DefaultCapacityFor(parallelism),
		IndexFormat:    gzindex.Native,
	}
}

// ReaderOption configures Open.
type ReaderOption func(*Config)

// WithParallelism sets the decode worker pool size; 0 or negative means
// "use all available cores" (spec.md §6's `-P 0`).
func WithParallelism(n int) ReaderOption {
	return func(c *Config) {
		if n > 0 {
			c.Parallelism = n
		} else {
			c.Parallelism = runtime.GOMAXPROCS(-1)
		}
	}
}

// WithChunkSize sets the target size, in bytes, of each independently
// decoded chunk (spec.md §4.10's `set_chunk_size`).
func WithChunkSize(bytes int64) ReaderOption {
	return func(c *Config) { c.ChunkSizeBytes = bytes }
}

// WithVerifyCRC toggles per-member CRC32/ISIZE verification against the
// gzip footer.
func WithVerifyCRC(v bool) ReaderOption {
	return func(c *Config) { c.VerifyCRC = v }
}

// WithImportIndex primes the Reader's checkpoint table from a
// previously-exported index, skipping the first full decode pass that
// would otherwise be needed before random access is available.
func WithImportIndex(path string) ReaderOption {
	return func(c *Config) { c.IndexImportPath = path }
}

// WithExportIndex causes Close to write the checkpoints accumulated during
// this Reader's lifetime to path, in the format selected by WithIndexFormat
// (native by default).
func WithExportIndex(path string) ReaderOption {
	return func(c *Config) { c.IndexExportPath = path }
}

// WithIndexFormat selects the on-disk layout ExportIndex writes: Native,
// IndexedGzip or Gztool/GztoolWithLines (spec.md §6's `--index-format`).
// ImportIndex does not need this option, since gzindex.Read auto-detects the
// format of whatever it's given (internal/gzindex's Detect).
func WithIndexFormat(f gzindex.Format) ReaderOption {
	return func(c *Config) { c.IndexFormat = f }
}

// WithIOReadMethod selects how the local input file is mapped into memory.
func WithIOReadMethod(m iosource.Method) ReaderOption {
	return func(c *Config) { c.IOReadMethod = m }
}

// WithCacheCapacity overrides the default `16 + parallelism` chunk cache
// capacity (spec.md §4.9).
func WithCacheCapacity(n int) ReaderOption {
	return func(c *Config) { c.CacheCapacity = n }
}

// WithProgress requests a Progress report after every chunk the scheduler
// emits in order. The channel must be drained promptly or decoding stalls.
func WithProgress(ch chan<- Progress) ReaderOption {
	return func(c *Config) { c.ProgressCh = ch }
}

// WithVerbose gates the scheduler's log.Printf trace, mirroring the
// teacher's Decompressor.verbose field.
func WithVerbose(v bool) ReaderOption {
	return func(c *Config) { c.Verbose = v }
}
