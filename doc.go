// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package rapidgzip is a parallel, random-access decompressor for the
// DEFLATE family: raw deflate, gzip (RFC 1952, including concatenated
// members, bgzf and pigz framing) and zlib (RFC 1950). It decodes a single
// logical stream across many CPU cores while preserving seekable random
// access through a persistent index of deflate-block checkpoints.
//
// The package is organized as a small pipeline, leaf packages first:
// internal/bitreader (bit-level reads), internal/huffman and
// internal/deflate (the sequential block state machine), internal/gzipframe
// (container framing), internal/blockfinder (speculative block-boundary
// search), internal/marker (reconciling speculative output against a real
// window), internal/chunk (one bounded decode over a byte range),
// internal/window and internal/cache (the chunk cache and its prefetcher),
// internal/gzindex (index file formats) and internal/iosource (file/URL/S3
// source abstraction). Reader and Scheduler in this package wire those
// together into the public, concurrent, seekable decompressor.
package rapidgzip
