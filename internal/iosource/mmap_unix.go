// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build linux || darwin

package iosource

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

type mmapSource struct {
	f    *os.File
	data []byte
}

func openLocalMmap(name string) (Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return &mmapSource{f: f, data: nil}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("iosource: mmap %q: %w", name, err)
	}
	return &mmapSource{f: f, data: data}, nil
}

func (s *mmapSource) Size() int64 { return int64(len(s.data)) }

func (s *mmapSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.data)) {
		return 0, fmt.Errorf("iosource: offset %d out of range [0,%d]", off, len(s.data))
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, fmt.Errorf("iosource: short read at end of mapping")
	}
	return n, nil
}

func (s *mmapSource) Close() error {
	var unmapErr error
	if s.data != nil {
		unmapErr = unix.Munmap(s.data)
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	return unmapErr
}
