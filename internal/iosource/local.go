// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package iosource

import "os"

// osFileSource wraps *os.File directly; it already implements io.ReaderAt
// via pread(2) on the underlying descriptor, which is exactly the pread
// io_read_method's contract, so no extra buffering layer is needed here.
type osFileSource struct {
	f    *os.File
	size int64
}

func openLocalPread(name string) (Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &osFileSource{f: f, size: info.Size()}, nil
}

func (s *osFileSource) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *osFileSource) Size() int64                              { return s.size }
func (s *osFileSource) Close() error                             { return s.f.Close() }

func openLocalSequential(name string) (Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return newBufferedSequential(f, info.Size()), nil
}
