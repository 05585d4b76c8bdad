// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package iosource opens the compressed input named by a Reader's source
// argument -- a local path, an http(s) URL, or an s3:// bucket path -- and
// exposes it uniformly as a Source: an io.ReaderAt with a known Size,
// regardless of which io_read_method backs it (spec.md §6's
// `io_read_method ∈ {sequential, pread, mmap}`).
package iosource

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Method selects how a local file is mapped into a Source. Remote sources
// (http/https/s3) are always read sequentially and buffered regardless of
// Method, since neither pread nor mmap semantics apply over a network
// stream.
type Method int

const (
	Sequential Method = iota
	Pread
	Mmap
)

func (m Method) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Pread:
		return "pread"
	case Mmap:
		return "mmap"
	default:
		return "unknown"
	}
}

// ParseMethod maps a CLI --io-read-method value to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "sequential":
		return Sequential, nil
	case "pread":
		return Pread, nil
	case "mmap":
		return Mmap, nil
	default:
		return 0, fmt.Errorf("iosource: unknown io_read_method %q", s)
	}
}

// Source is a random-access handle on the compressed input. Size is fixed
// at Open time; Close releases any OS resources (file descriptors, mmap
// regions) backing it.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

func isRemote(name string) bool {
	return strings.HasPrefix(name, "http://") ||
		strings.HasPrefix(name, "https://") ||
		strings.HasPrefix(name, "s3://")
}

// Open resolves name (a local path, http(s) URL, or s3:// path) into a
// Source. method is honored only for local paths; remote sources are
// always sequential-buffered.
func Open(ctx context.Context, name string, method Method) (Source, error) {
	if isRemote(name) {
		return openRemote(ctx, name)
	}
	switch method {
	case Pread:
		return openLocalPread(name)
	case Mmap:
		return openLocalMmap(name)
	default:
		return openLocalSequential(name)
	}
}
