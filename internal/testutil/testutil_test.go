// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package testutil

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestGenPredictableRandomDataIsDeterministic(t *testing.T) {
	a := GenPredictableRandomData(256)
	b := GenPredictableRandomData(256)
	if !bytes.Equal(a, b) {
		t.Fatal("GenPredictableRandomData should return identical bytes across calls")
	}
}

func TestGenReproducibleRandomDataHasRequestedLength(t *testing.T) {
	got := GenReproducibleRandomData(128)
	if len(got) != 128 {
		t.Fatalf("len = %d, want 128", len(got))
	}
}

func TestFirstN(t *testing.T) {
	b := []byte("hello world")
	if got := string(FirstN(5, b)); got != "hello" {
		t.Fatalf("FirstN(5) = %q, want %q", got, "hello")
	}
	if got := string(FirstN(100, b)); got != "hello world" {
		t.Fatalf("FirstN(100) = %q, want the full input unchanged", got)
	}
}

func TestBuildGzipStreamConcatenatesMembers(t *testing.T) {
	encoded, err := BuildGzipStream([]GzipMember{
		{Payload: []byte("first-")},
		{Payload: []byte("second")},
	})
	if err != nil {
		t.Fatalf("BuildGzipStream: %v", err)
	}

	r, err := gzip.NewReader(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	r.Multistream(true)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "first-second" {
		t.Fatalf("decoded = %q, want %q", got, "first-second")
	}
}

func TestCreateGzipFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.gz")
	if err := CreateGzipFile(path, []byte("payload")); err != nil {
		t.Fatalf("CreateGzipFile: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	r, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("decoded = %q, want %q", got, "payload")
	}
}
