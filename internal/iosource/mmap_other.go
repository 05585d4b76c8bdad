// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package iosource

// mmap(2) isn't wired on this platform; fall back to pread, which is
// functionally equivalent for this package's purposes (random-access reads
// of a read-only file), just without the page-cache-sharing benefit mmap
// gives on Linux/Darwin.
func openLocalMmap(name string) (Source, error) {
	return openLocalPread(name)
}
