// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip

import (
	"context"
	"io"
	"sync"

	"github.com/cosnicolaou/rapidgzip/internal/cache"
	"github.com/cosnicolaou/rapidgzip/internal/gzindex"
	"github.com/cosnicolaou/rapidgzip/internal/iosource"
)

// Reader is a seekable, concurrently-decoding reader over one gzip stream
// (spec.md §6's `Reader open(source, config)`). It wraps a Scheduler the way
// the teacher's reader wraps a Decompressor: a background goroutine drives
// decoding to completion while Read drains the scheduler's pipe and
// surfaces any error the goroutine observed, including one reported only
// after the pipe has reported io.EOF (e.g. a trailing CRC mismatch).
type Reader struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	src    iosource.Source

	sc    *Scheduler
	errCh chan error
	wg    sync.WaitGroup

	// cache persists across every Scheduler this Reader creates (each Seek
	// tears down and rebuilds one), so a chunk decoded before a backward
	// seek can be served from the cache instead of redecoded.
	cache *cache.Cache

	pos  int64
	size int64 // -1 until the first full pass has completed

	// importedCheckpoints holds any checkpoint table primed via ImportIndex,
	// available to Seek even before the current scheduler has decoded that
	// far on its own.
	importedCheckpoints []gzindex.Checkpoint

	mu     sync.Mutex
	closed bool
}

// Open opens name (a local path, or an http(s):// / s3:// URL) per cfg's
// IOReadMethod and begins decoding it from the start.
func Open(ctx context.Context, name string, opts ...ReaderOption) (*Reader, error) {
	cfg := defaultConfig()
	for _, fn := range opts {
		fn(&cfg)
	}
	src, err := iosource.Open(ctx, name, cfg.IOReadMethod)
	if err != nil {
		return nil, err
	}
	rctx, cancel := context.WithCancel(ctx)
	r := &Reader{
		ctx: rctx, cancel: cancel, cfg: cfg, src: src, size: -1,
		cache: cache.New(cfg.CacheCapacity, cfg.Parallelism),
	}

	if cfg.IndexImportPath != "" {
		if err := r.ImportIndex(cfg.IndexImportPath); err != nil {
			src.Close()
			cancel()
			return nil, err
		}
	}
	if err := r.startFromScratch(); err != nil {
		src.Close()
		cancel()
		return nil, err
	}
	return r, nil
}

func (r *Reader) startFromScratch() error {
	sc, err := newSchedulerFromStart(r.ctx, r.src, r.cfg, r.cache)
	if err != nil {
		return err
	}
	return r.adopt(sc)
}

func (r *Reader) startAt(bitOffset, uncompressedOffset int64, window []byte) error {
	sc, err := newScheduler(r.ctx, r.src, r.cfg, bitOffset, uncompressedOffset, window, r.cache)
	if err != nil {
		return err
	}
	return r.adopt(sc)
}

func (r *Reader) adopt(sc *Scheduler) error {
	r.sc = sc
	r.errCh = make(chan error, 1)
	r.wg.Add(1)
	go func() {
		r.errCh <- sc.Finish()
		close(r.errCh)
		r.wg.Done()
	}()
	return nil
}

// handleErrorOrCancel returns an error already observed by the decode
// goroutine or a context cancellation, without blocking.
func (r *Reader) handleErrorOrCancel() error {
	select {
	case err := <-r.errCh:
		return err
	case <-r.ctx.Done():
		return r.ctx.Err()
	default:
		return nil
	}
}

// Read implements io.Reader over the decoded byte stream at the reader's
// current logical position.
func (r *Reader) Read(buf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	if err := r.handleErrorOrCancel(); err != nil {
		r.sc.Cancel(err)
		r.wg.Wait()
		return 0, err
	}
	n, err := r.sc.Read(buf)
	r.pos += int64(n)
	if err == nil {
		return n, nil
	}
	r.wg.Wait()
	if err == io.EOF {
		r.size = r.pos
		select {
		case cerr := <-r.errCh:
			if cerr != nil {
				return n, cerr
			}
		default:
		}
	}
	return n, err
}

// Seek repositions the reader. Forward seeks drain and discard decoded bytes
// up to the target, however far ahead it is; backward seeks restart decoding from the
// nearest resolved checkpoint at or before the target, per spec.md §4.10's
// "fully seekable forward and backward".
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.pos + offset
	case io.SeekEnd:
		if r.size < 0 {
			return 0, wrapError(SizeMismatch, "cannot seek relative to end before the stream size is known", nil)
		}
		target = r.size + offset
	default:
		return 0, wrapError(SizeMismatch, "invalid whence", nil)
	}
	if target < 0 {
		return 0, wrapError(SizeMismatch, "negative seek target", nil)
	}
	if target == r.pos {
		return target, nil
	}

	if target > r.pos {
		if err := r.discardTo(target); err != nil {
			return r.pos, err
		}
		return r.pos, nil
	}

	if err := r.restartNear(target); err != nil {
		return r.pos, err
	}
	if err := r.discardTo(target); err != nil {
		return r.pos, err
	}
	return r.pos, nil
}

// discardTo reads and drops bytes until r.pos reaches target, which must be
// >= the current position.
func (r *Reader) discardTo(target int64) error {
	scratch := make([]byte, 64*1024)
	for r.pos < target {
		want := target - r.pos
		if want > int64(len(scratch)) {
			want = int64(len(scratch))
		}
		n, err := r.sc.Read(scratch[:want])
		r.pos += int64(n)
		if err != nil {
			r.wg.Wait()
			if err == io.EOF {
				r.size = r.pos
			}
			return err
		}
	}
	return nil
}

// restartNear cancels the in-flight scheduler and starts a new one anchored
// at the best known checkpoint at or before target.
func (r *Reader) restartNear(target int64) error {
	r.sc.Cancel(nil)
	r.wg.Wait()

	sc := r.sc
	best, ok := bestCheckpoint(r.importedCheckpoints, target)
	if live, liveOK := bestCheckpoint(sc.Checkpoints(), target); liveOK && (!ok || live.UncompressedByteOffset >= best.UncompressedByteOffset) {
		best, ok = live, true
	}
	if !ok {
		r.pos = 0
		return r.startFromScratch()
	}
	win := best.Window
	if win == nil {
		win, _ = sc.WindowAt(best.CompressedBitOffset)
	}
	r.pos = best.UncompressedByteOffset
	return r.startAt(best.CompressedBitOffset, best.UncompressedByteOffset, win)
}

func bestCheckpoint(checkpoints []gzindex.Checkpoint, target int64) (gzindex.Checkpoint, bool) {
	var best gzindex.Checkpoint
	found := false
	for _, cp := range checkpoints {
		if cp.UncompressedByteOffset <= target && (!found || cp.UncompressedByteOffset > best.UncompressedByteOffset) {
			best, found = cp, true
		}
	}
	return best, found
}

// Tell returns the reader's current logical decoded byte position.
func (r *Reader) Tell() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Size returns the total decoded size, or -1 if it is not yet known (only
// available after a full pass has reached the end of the stream).
func (r *Reader) Size() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// BlockOffsets returns the compressed-bit/uncompressed-byte offset pairs
// resolved so far, suitable for seeding a later index export.
func (r *Reader) BlockOffsets() []gzindex.Checkpoint {
	return r.sc.Checkpoints()
}

// Close cancels any outstanding decode work, optionally exports the
// accumulated index, and releases the underlying source.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	r.sc.Cancel(nil)
	r.cancel()
	r.wg.Wait()

	var exportErr error
	if r.cfg.IndexExportPath != "" {
		exportErr = r.exportIndexLocked(r.cfg.IndexExportPath)
	}
	closeErr := r.src.Close()
	if exportErr != nil {
		return exportErr
	}
	return closeErr
}
