// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package rapidgzip

import (
	"container/heap"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cosnicolaou/rapidgzip/internal/bitreader"
	"github.com/cosnicolaou/rapidgzip/internal/cache"
	"github.com/cosnicolaou/rapidgzip/internal/chunk"
	"github.com/cosnicolaou/rapidgzip/internal/crc32combine"
	"github.com/cosnicolaou/rapidgzip/internal/deflate"
	"github.com/cosnicolaou/rapidgzip/internal/gzindex"
	"github.com/cosnicolaou/rapidgzip/internal/gzipframe"
	"github.com/cosnicolaou/rapidgzip/internal/iosource"
	"github.com/cosnicolaou/rapidgzip/internal/marker"
	"github.com/cosnicolaou/rapidgzip/internal/window"
)

var numDecodeGoroutines int64

// chunkTask is one speculative decode job: the scheduler's analogue of the
// teacher's blockDesc, indexed by chunk number rather than bzip2 block
// number, and carrying a bit range over the compressed stream rather than a
// byte slice (chunks read directly from the shared source).
type chunkTask struct {
	index         int64
	bitStart      int64
	bitEndHint    int64
	initialWindow []byte

	err      error
	decoded  *chunk.Decoded
	duration time.Duration
}

func (t *chunkTask) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("chunk %d: bits [%d,%d)", t.index, t.bitStart, t.bitEndHint)
}

// Scheduler drives the worker pool that decodes chunks in parallel and
// reassembles them, in order, into a single decoded byte stream. It mirrors
// the shape of the teacher's Decompressor: a bounded pool of concurrent
// decodes (here an errgroup plus a counting semaphore rather than the
// teacher's hand-rolled WaitGroup-and-channel pair), a container/heap-ordered
// assembler publishing through an io.Pipe, and a Cancel/Finish lifecycle --
// generalized from bzip2 blocks to gzip/deflate chunks, and from a single
// stream CRC to per-member CRC32 verification via crc32combine (spec.md
// §4.10, §4.11).
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	src      iosource.Source
	sizeBits int64
	cfg      Config

	// eg bounds concurrent chunk decodes to cfg.Parallelism via sem. workWg is
	// pre-Added with the full task count before any decode goroutine starts
	// (sync.WaitGroup requires every Add to happen before the matching Wait
	// can safely observe a zero counter), so Finish can block on it instead
	// of racing eg's internally-zero-at-construction-time counter.
	eg     *errgroup.Group
	sem    *semaphore.Weighted
	doneCh chan *chunkTask
	workWg sync.WaitGroup
	doneWg sync.WaitGroup

	prd *io.PipeReader
	pwr *io.PipeWriter

	windows   *window.Store
	cache     *cache.Cache
	chunkBits int64

	heap *chunkTaskHeap

	// member CRC accounting, mutated only by assemble.
	memberCRC    uint32
	memberLen    int64
	memberActive bool

	// checkpoints accumulates one entry per chunk boundary crossed, used by
	// index.go to serve ExportIndex and by Reader.Seek to find a resume
	// point. Guarded by checkpointsMu since assemble appends to it from its
	// own goroutine while Reader.Seek may read it concurrently.
	checkpointsMu sync.Mutex
	checkpoints   []gzindex.Checkpoint

	uncompressedPos int64
	verbose         bool
}

// NewScheduler parses the stream's gzip header, partitions the remaining
// compressed bytes into chunkSizeBytes-sized speculative ranges (spec.md
// §4.10's "fixed worker pool ... each task starts from its own speculative
// bit offset"), and starts the worker pool and assembler goroutines.
func NewScheduler(ctx context.Context, src iosource.Source, cfg Config) (*Scheduler, error) {
	return newSchedulerFromStart(ctx, src, cfg, nil)
}

// newSchedulerFromStart parses the gzip header at the front of src before
// delegating to newScheduler; c lets a caller (Reader) supply a cache that
// outlives any one Scheduler, so chunks decoded by a prior pass stay
// reusable across a Seek-triggered restart (nil makes newScheduler create
// its own, matching NewScheduler's exported behavior).
func newSchedulerFromStart(ctx context.Context, src iosource.Source, cfg Config, c *cache.Cache) (*Scheduler, error) {
	sizeBytes := src.Size()
	br := bitreader.New(src, sizeBytes, 0)
	hdr, err := gzipframe.ReadHeader(bitReaderByteAdapter{br})
	if err != nil {
		return nil, wrapHeaderError("reading gzip header", err)
	}
	return newScheduler(ctx, src, cfg, hdr.HeaderLen*8, 0, make([]byte, deflate.WindowSize), c)
}

// NewSchedulerAt resumes decoding from a previously recorded checkpoint,
// skipping both the gzip header parse and every chunk before the checkpoint
// -- the basis for Reader.Seek jumping directly to a known position instead
// of decoding the stream from the start (spec.md §4.10's seek support).
func NewSchedulerAt(ctx context.Context, src iosource.Source, cfg Config, bitOffset, uncompressedOffset int64, priorWindow []byte) (*Scheduler, error) {
	return newScheduler(ctx, src, cfg, bitOffset, uncompressedOffset, priorWindow, nil)
}

func newScheduler(ctx context.Context, src iosource.Source, cfg Config, startBit, uncompressedStart int64, initialWindow []byte, c *cache.Cache) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(ctx)

	if c == nil {
		c = cache.New(cfg.CacheCapacity, cfg.Parallelism)
	}

	sizeBytes := src.Size()
	chunkBits := cfg.ChunkSizeBytes * 8
	eg, egCtx := errgroup.WithContext(ctx)
	sc := &Scheduler{
		ctx:             ctx,
		cancel:          cancel,
		src:             src,
		sizeBits:        sizeBytes * 8,
		cfg:             cfg,
		eg:              eg,
		sem:             semaphore.NewWeighted(int64(cfg.Parallelism)),
		doneCh:          make(chan *chunkTask, cfg.Parallelism),
		windows:         window.New(),
		cache:           c,
		chunkBits:       chunkBits,
		heap:            &chunkTaskHeap{},
		uncompressedPos: uncompressedStart,
		verbose:         cfg.Verbose,
	}
	sc.prd, sc.pwr = io.Pipe()
	heap.Init(sc.heap)

	tasks := []*chunkTask{{
		index:         0,
		bitStart:      startBit,
		bitEndHint:    minInt64(startBit+chunkBits, sc.sizeBits),
		initialWindow: initialWindow,
	}}
	for start := startBit + chunkBits; start < sc.sizeBits; start += chunkBits {
		tasks = append(tasks, &chunkTask{
			index:      int64(len(tasks)),
			bitStart:   start,
			bitEndHint: minInt64(start+chunkBits, sc.sizeBits),
		})
	}

	sc.doneWg.Add(1)
	go func() {
		atomic.AddInt64(&numDecodeGoroutines, 1)
		sc.assemble(ctx)
		atomic.AddInt64(&numDecodeGoroutines, -1)
		sc.doneWg.Done()
	}()

	sc.workWg.Add(len(tasks))
	go sc.issue(egCtx, tasks)

	return sc, nil
}

// issue acquires one semaphore slot per task and spawns its decode under the
// errgroup, bounding live decode goroutines to cfg.Parallelism regardless of
// how many tasks the stream partitions into. workWg was pre-Added with
// len(tasks) by the caller, so Finish can wait on it safely even if it races
// ahead of this goroutine's first iteration.
func (sc *Scheduler) issue(ctx context.Context, tasks []*chunkTask) {
	for _, t := range tasks {
		t := t
		if err := sc.sem.Acquire(ctx, 1); err != nil {
			sc.workWg.Done()
			continue
		}
		sc.eg.Go(func() error {
			defer sc.sem.Release(1)
			defer sc.workWg.Done()
			atomic.AddInt64(&numDecodeGoroutines, 1)
			defer atomic.AddInt64(&numDecodeGoroutines, -1)
			sc.trace("decoding: %s", t)
			sc.decodeChunk(t)
			sc.trace("decoded: %s", t)
			select {
			case sc.doneCh <- t:
			case <-ctx.Done():
			}
			return nil
		})
	}
}

func (sc *Scheduler) trace(format string, args ...interface{}) {
	if sc.verbose {
		log.Printf(format, args...)
	}
}

// chunkIndexFor maps a bit offset to the cache key a chunk starting there
// would have used. chunkBits is fixed for a Reader's whole lifetime even
// though actual resolved chunk boundaries drift a little (speculative starts,
// left-anchored reconciliation), so the index is stable enough to let a
// Scheduler restarted after a Seek find chunks a prior Scheduler already
// decoded (spec.md §2's "a miss schedules decode").
func (sc *Scheduler) chunkIndexFor(bitOffset int64) int64 {
	if sc.chunkBits <= 0 {
		return 0
	}
	return bitOffset / sc.chunkBits
}

// decodeChunk serves t from the cache when a prior pass already decoded the
// same chunk index, falling back to a real decode on a miss. Anchored chunk 0
// always decodes for real: InitialWindow is pinned to this Reader's actual
// predecessor state, and a stale cache entry from a different anchor would be
// wrong in a way assemble's left-anchored reconciliation can't detect (that
// recovery only fires for the non-anchored case, where BitRangeStart mismatch
// against nextBitStart is expected and triggers a redo).
func (sc *Scheduler) decodeChunk(t *chunkTask) {
	if t.initialWindow == nil {
		if cached, ok := sc.cache.Get(sc.chunkIndexFor(t.bitStart)); ok {
			t.decoded = cached
			return
		}
	}
	t.decode(sc.src, sc.sizeBits)
}

// warmPredicted touches the cache entries the prefetcher recommends next,
// biasing TinyLFU's admission/eviction decisions toward chunks a forward scan
// or repeated seek pattern is likely to want again (spec.md §4.9: "the
// prefetcher is consulted on every get").
func (sc *Scheduler) warmPredicted() {
	for _, idx := range sc.cache.Predict() {
		sc.cache.Get(idx)
	}
}

// decode runs one chunk's speculative or anchored decode. Anchored (chunk 0,
// InitialWindow set) decoding has no safety cap: it proceeds strictly from
// chunk.Options.ChunkEndHint. Speculative chunks get a generous safety cap so
// a block header that straddles their nominal boundary can still complete.
func (t *chunkTask) decode(src iosource.Source, sizeBits int64) {
	start := time.Now()
	br := bitreader.New(src, src.Size(), 0)
	opts := chunk.Options{
		ChunkEndHint:  t.bitEndHint,
		InitialWindow: t.initialWindow,
		GzipFraming:   true,
	}
	if t.initialWindow == nil {
		opts.SafetyCapBits = minInt64(2*t.bitEndHint-t.bitStart, sizeBits)
	}
	t.decoded, t.err = chunk.Decode(br, sizeBits, t.bitStart, opts)
	t.duration = time.Since(start)
}

// Cancel unblocks any readers of this scheduler's output and cancels the
// scheduler's context, so no further chunk decodes are started; a chunk
// decode already running is not interrupted and finishes its whole chunk.
func (sc *Scheduler) Cancel(err error) {
	sc.cancel()
	sc.pwr.CloseWithError(err)
}

// Finish waits for every outstanding task and the assembler to drain,
// returning the first cancellation error observed, if any.
func (sc *Scheduler) Finish() error {
	sc.workWg.Wait()
	sc.eg.Wait()
	close(sc.doneCh)
	sc.doneWg.Wait()
	select {
	case <-sc.ctx.Done():
		if err := sc.ctx.Err(); err != context.Canceled {
			return err
		}
	default:
	}
	return nil
}

// Read implements io.Reader over the decoded, in-order output stream.
func (sc *Scheduler) Read(buf []byte) (int, error) { return sc.prd.Read(buf) }

// Checkpoints returns a snapshot of every chunk boundary resolved so far, in
// increasing uncompressed-offset order.
func (sc *Scheduler) Checkpoints() []gzindex.Checkpoint {
	sc.checkpointsMu.Lock()
	defer sc.checkpointsMu.Unlock()
	out := make([]gzindex.Checkpoint, len(sc.checkpoints))
	copy(out, sc.checkpoints)
	return out
}

// WindowAt returns the decoded 32 KiB predecessor window recorded for
// bitOffset, if any chunk boundary landed there.
func (sc *Scheduler) WindowAt(bitOffset int64) ([]byte, bool) {
	w, ok := sc.windows.Get(bitOffset)
	if !ok {
		return nil, false
	}
	b, err := w.Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

type chunkTaskHeap []*chunkTask

func (h chunkTaskHeap) Len() int            { return len(h) }
func (h chunkTaskHeap) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h chunkTaskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *chunkTaskHeap) Push(x interface{}) { *h = append(*h, x.(*chunkTask)) }
func (h *chunkTaskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// assemble is the single-threaded reassembler: it orders completed chunks by
// index, resolves each one's markers against the trailing window of
// everything emitted so far (spec.md §4.10's "left-anchored chain"),
// verifies per-member CRC32/ISIZE as footers are crossed (spec.md §4.11),
// and writes the resolved bytes to the output pipe.
func (sc *Scheduler) assemble(ctx context.Context) {
	defer sc.pwr.Close()

	var tail []byte // trailing <=WindowSize bytes of everything emitted so far
	expected := int64(0)
	nextBitStart := int64(-1) // unknown until chunk 0 resolves

	for {
		select {
		case t, ok := <-sc.doneCh:
			if ok {
				heap.Push(sc.heap, t)
			}
			for len(*sc.heap) > 0 {
				min := (*sc.heap)[0]
				if min.index != expected {
					break
				}
				heap.Remove(sc.heap, 0)
				expected++

				if min.err != nil {
					sc.pwr.CloseWithError(min.err)
					return
				}
				d := min.decoded

				// A speculative chunk's blockfinder-anchored start can, rarely,
				// land on a false-positive candidate rather than the boundary
				// the previous chunk actually ended at. Once that real boundary
				// is known, re-decode this chunk anchored exactly there instead
				// of trusting the mismatched speculative result (spec.md §4.10:
				// "the scheduler adjusts the chunk's bit_range to match the
				// observed consumption").
				if nextBitStart >= 0 && d.BitRangeStart != nextBitStart {
					redone, rerr := chunk.Decode(
						bitreader.New(sc.src, sc.src.Size(), 0),
						sc.sizeBits, nextBitStart,
						chunk.Options{
							ChunkEndHint:  min.bitEndHint,
							InitialWindow: leftPadWindow(tail),
							GzipFraming:   true,
						})
					if rerr != nil {
						sc.pwr.CloseWithError(rerr)
						return
					}
					d = redone
				}
				nextBitStart = d.BitRangeEnd

				if len(d.MarkerBuf) > 0 {
					if err := marker.ResolveChunk(d, leftPadWindow(tail)); err != nil {
						sc.pwr.CloseWithError(err)
						return
					}
				}

				chunkStartPos := sc.uncompressedPos
				preChunkTail := tail

				if err := sc.emit(d); err != nil {
					sc.pwr.CloseWithError(err)
					return
				}

				tail = appendTail(tail, d.ByteBuf)
				win := leftPadWindow(tail)
				sc.windows.Put(d.BitRangeEnd, win, window.Hint{Encoding: window.Uncompressed})

				// Every block boundary but the last is a finer-grained seek
				// point within this chunk (spec.md §4.6); the last duplicates
				// the whole-chunk checkpoint recorded right after this loop.
				if len(d.BlockBoundaries) > 1 {
					for _, bb := range d.BlockBoundaries[:len(d.BlockBoundaries)-1] {
						if bb.DecodedSize <= 0 || bb.DecodedSize >= int64(len(d.ByteBuf)) {
							continue
						}
						sc.checkpointsMu.Lock()
						sc.checkpoints = append(sc.checkpoints, gzindex.Checkpoint{
							CompressedBitOffset:   bb.BitOffset,
							UncompressedByteOffset: chunkStartPos + bb.DecodedSize,
							Window:                subWindow(preChunkTail, d.ByteBuf[:bb.DecodedSize]),
						})
						sc.checkpointsMu.Unlock()
					}
					sc.cache.NotifySplit(sc.chunkIndexFor(d.BitRangeStart), len(d.BlockBoundaries))
				}

				sc.checkpointsMu.Lock()
				sc.checkpoints = append(sc.checkpoints, gzindex.Checkpoint{
					CompressedBitOffset:   d.BitRangeEnd,
					UncompressedByteOffset: sc.uncompressedPos,
					Window:                win,
				})
				sc.checkpointsMu.Unlock()
				sc.cache.Insert(sc.chunkIndexFor(d.BitRangeStart), d)
				sc.warmPredicted()

				if sc.cfg.ProgressCh != nil {
					sc.cfg.ProgressCh <- Progress{
						Duration:          min.duration,
						ChunkIndex:        uint64(min.index),
						CompressedBytes:   int((d.BitRangeEnd - d.BitRangeStart + 7) / 8),
						UncompressedBytes: len(d.ByteBuf),
					}
				}
			}
			if !ok && len(*sc.heap) == 0 {
				return
			}
		case <-ctx.Done():
			sc.pwr.CloseWithError(ctx.Err())
			return
		}
	}
}

// emit writes d's resolved bytes to the pipe, splitting at each recorded
// gzip member footer to fold the member's own CRC32 into the running
// per-member accumulator via crc32combine, and verifying the footer once the
// member closes (spec.md §4.11). FooterLogicalOffsets were recorded in the
// chunk's marker+byte address space, which collapses 1:1 onto ByteBuf once
// resolution has run, so they index ByteBuf directly here.
func (sc *Scheduler) emit(d *chunk.Decoded) error {
	prev := 0
	for i, footer := range d.Footers {
		boundary := int(d.FooterLogicalOffsets[i])
		if boundary > len(d.ByteBuf) {
			boundary = len(d.ByteBuf)
		}
		segment := d.ByteBuf[prev:boundary]
		if err := sc.writeSegment(segment); err != nil {
			return err
		}
		if sc.cfg.VerifyCRC {
			sc.foldMemberCRC(segment)
			if sc.memberCRC != footer.CRC32 || uint32(uint64(sc.memberLen)) != footer.ISIZE {
				return wrapError(ChecksumMismatch, fmt.Sprintf("member ending at uncompressed offset %d", sc.uncompressedPos+int64(boundary)), nil)
			}
		}
		sc.memberCRC, sc.memberLen, sc.memberActive = 0, 0, false
		prev = boundary
	}

	tailSegment := d.ByteBuf[prev:]
	if err := sc.writeSegment(tailSegment); err != nil {
		return err
	}
	if sc.cfg.VerifyCRC {
		sc.foldMemberCRC(tailSegment)
	}
	sc.uncompressedPos += int64(len(d.ByteBuf))
	return nil
}

func (sc *Scheduler) foldMemberCRC(segment []byte) {
	if len(segment) == 0 {
		return
	}
	segCRC := crc32.ChecksumIEEE(segment)
	if sc.memberActive {
		sc.memberCRC = crc32combine.Combine(sc.memberCRC, segCRC, int64(len(segment)))
	} else {
		sc.memberCRC = segCRC
		sc.memberActive = true
	}
	sc.memberLen += int64(len(segment))
}

func (sc *Scheduler) writeSegment(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	_, err := sc.pwr.Write(b)
	return err
}

func appendTail(tail, fresh []byte) []byte {
	tail = append(tail, fresh...)
	if len(tail) > deflate.WindowSize {
		tail = tail[len(tail)-deflate.WindowSize:]
	}
	return tail
}

// leftPadWindow returns a full WindowSize buffer with tail right-aligned and
// leading zero bytes, matching gzip's all-zero initial window semantics for
// the stream's first WindowSize bytes of output.
func leftPadWindow(tail []byte) []byte {
	w := make([]byte, deflate.WindowSize)
	copy(w[deflate.WindowSize-len(tail):], tail)
	return w
}

// subWindow builds the predecessor window as of a sub-chunk boundary within
// the chunk currently being assembled: the stream's trailing bytes as of the
// chunk's start, followed by however much of this chunk's own output had
// been produced by that boundary.
func subWindow(preChunkTail, decodedSoFar []byte) []byte {
	combined := append(append([]byte(nil), preChunkTail...), decodedSoFar...)
	if len(combined) > deflate.WindowSize {
		combined = combined[len(combined)-deflate.WindowSize:]
	}
	return leftPadWindow(combined)
}

// bitReaderByteAdapter adapts a byte-aligned BitReader to io.Reader so the
// gzip header parser, which is purely byte-oriented, can run before the
// chunked bit-level decoding begins.
type bitReaderByteAdapter struct{ br *bitreader.BitReader }

func (b bitReaderByteAdapter) Read(p []byte) (int, error) {
	for i := range p {
		v, err := b.br.Read(8)
		if err != nil {
			return i, err
		}
		p[i] = byte(v)
	}
	return len(p), nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
