// Copyright 2021 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cosnicolaou/rapidgzip"
	"github.com/cosnicolaou/rapidgzip/internal/testutil"
)

func writeGzipFixture(t *testing.T, members []testutil.GzipMember) string {
	t.Helper()
	encoded, err := testutil.BuildGzipStream(members)
	if err != nil {
		t.Fatalf("BuildGzipStream: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fixture.gz")
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// readAllSample is like io.ReadAll except it samples the live decode
// goroutine count, mirroring the teacher's own readAllSample.
func readAllSample(r io.Reader) ([]byte, int64, error) {
	var max int64
	b := make([]byte, 0, 512)
	for {
		if len(b) == cap(b) {
			b = append(b, 0)[:len(b)]
		}
		n, err := r.Read(b[len(b):cap(b)])
		if tmp := rapidgzip.GetNumDecodeGoroutines(); tmp > max {
			max = tmp
		}
		b = b[:len(b)+n]
		if err != nil {
			if err == io.EOF {
				err = nil
			}
			return b, max, err
		}
	}
}

func TestReaderReadsAllConcurrencyLevels(t *testing.T) {
	payload := testutil.GenPredictableRandomData(900 * 1024)
	path := writeGzipFixture(t, []testutil.GzipMember{{Payload: payload}})

	for _, parallelism := range []int{1, 2, runtime.GOMAXPROCS(-1)} {
		rd, err := rapidgzip.Open(context.Background(), path,
			rapidgzip.WithParallelism(parallelism),
			rapidgzip.WithChunkSize(64*1024))
		if err != nil {
			t.Fatalf("parallelism %d: Open: %v", parallelism, err)
		}
		got, _, err := readAllSample(rd)
		if err != nil {
			t.Fatalf("parallelism %d: read: %v", parallelism, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("parallelism %d: decoded %d bytes, want %d bytes, mismatch", parallelism, len(got), len(payload))
		}
		if err := rd.Close(); err != nil {
			t.Fatalf("parallelism %d: Close: %v", parallelism, err)
		}
	}
}

func TestReaderConcatenatedMembers(t *testing.T) {
	a := testutil.GenPredictableRandomData(10000)
	b := testutil.GenPredictableRandomData(20000)
	path := writeGzipFixture(t, []testutil.GzipMember{{Payload: a}, {Payload: b}})

	rd, err := rapidgzip.Open(context.Background(), path, rapidgzip.WithChunkSize(4096))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	got, err := io.ReadAll(rd)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := append(append([]byte{}, a...), b...)
	if !bytes.Equal(got, want) {
		t.Fatalf("decoded %d bytes, want %d bytes, mismatch", len(got), len(want))
	}
}

func TestReaderDetectsChecksumMismatch(t *testing.T) {
	payload := testutil.GenPredictableRandomData(4096)
	path := writeGzipFixture(t, []testutil.GzipMember{{Payload: payload}})

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Corrupt the last byte of the CRC32 footer, four bytes before ISIZE.
	raw[len(raw)-5] ^= 0xff
	corrupted := filepath.Join(t.TempDir(), "corrupted.gz")
	if err := os.WriteFile(corrupted, raw, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rd, err := rapidgzip.Open(context.Background(), corrupted)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	_, err = io.ReadAll(rd)
	if err == nil {
		t.Fatal("expected a checksum error, got nil")
	}
}

func TestReaderSeek(t *testing.T) {
	payload := testutil.GenPredictableRandomData(500 * 1024)
	path := writeGzipFixture(t, []testutil.GzipMember{{Payload: payload}})

	rd, err := rapidgzip.Open(context.Background(), path, rapidgzip.WithChunkSize(32*1024))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rd.Close()

	if _, err := io.ReadAll(rd); err != nil {
		t.Fatalf("initial full read: %v", err)
	}

	for _, target := range []int64{0, 1000, 100000, 250000, 50000} {
		if _, err := rd.Seek(target, io.SeekStart); err != nil {
			t.Fatalf("Seek(%d): %v", target, err)
		}
		got := make([]byte, 4096)
		n, err := io.ReadFull(rd, got)
		if err != nil && err != io.ErrUnexpectedEOF {
			t.Fatalf("Seek(%d): read: %v", target, err)
		}
		want := payload[target : target+int64(n)]
		if !bytes.Equal(got[:n], want) {
			t.Fatalf("Seek(%d): read mismatch", target)
		}
	}
}

func TestReaderExportImportIndex(t *testing.T) {
	payload := testutil.GenPredictableRandomData(300 * 1024)
	path := writeGzipFixture(t, []testutil.GzipMember{{Payload: payload}})
	indexPath := filepath.Join(t.TempDir(), "index.grgzi")

	rd, err := rapidgzip.Open(context.Background(), path, rapidgzip.WithChunkSize(16*1024))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := io.ReadAll(rd); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := rd.ExportIndex(indexPath); err != nil {
		t.Fatalf("ExportIndex: %v", err)
	}
	if err := rd.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd2, err := rapidgzip.Open(context.Background(), path,
		rapidgzip.WithChunkSize(16*1024),
		rapidgzip.WithImportIndex(indexPath))
	if err != nil {
		t.Fatalf("Open with imported index: %v", err)
	}
	defer rd2.Close()

	if _, err := rd2.Seek(200000, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, 4096)
	n, err := io.ReadFull(rd2, got)
	if err != nil && err != io.ErrUnexpectedEOF {
		t.Fatalf("read after seek: %v", err)
	}
	want := payload[200000 : 200000+int64(n)]
	if !bytes.Equal(got[:n], want) {
		t.Fatal("read after seek with imported index: mismatch")
	}
}

func TestReaderCancelation(t *testing.T) {
	payload := testutil.GenPredictableRandomData(900 * 1024)
	path := writeGzipFixture(t, []testutil.GzipMember{{Payload: payload}})

	ctx, cancel := context.WithCancel(context.Background())
	rd, err := rapidgzip.Open(ctx, path, rapidgzip.WithChunkSize(16*1024))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	cancel()
	_, err = io.ReadAll(rd)
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	rd.Close()
}
