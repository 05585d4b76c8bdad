// Copyright 2020 Cosmos Nicolaou. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command rapidgzip decompresses gzip files in parallel, with random
// access via an exportable/importable index. Files may be local, on S3
// or a URL (see internal/iosource).
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"runtime/debug"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/subcmd"
	"cloudeng.io/errors"
	"github.com/cosnicolaou/rapidgzip"
	"github.com/cosnicolaou/rapidgzip/internal/gzindex"
	"github.com/cosnicolaou/rapidgzip/internal/iosource"
	units "github.com/docker/go-units"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"
)

// CommonFlags are the decode-tuning knobs shared by every subcommand,
// mirroring the teacher's CommonFlags (concurrency/verbose) but adding the
// chunk-size and io-read-method knobs spec.md §6 names for this tool.
type CommonFlags struct {
	Parallelism  int    `subcmd:"parallelism,0,'decode worker count, 0 means all cores (-P)'"`
	ChunkSize    string `subcmd:"chunk-size,4MiB,'target size of each independently decoded chunk'"`
	IOReadMethod string `subcmd:"io-read-method,pread,'sequential, pread or mmap for local files'"`
	Verbose      bool   `subcmd:"verbose,false,verbose debug/trace information (-v)"`
	Quiet        bool   `subcmd:"quiet,false,'suppress the progress bar and non-essential output (-q)'"`
	Verify       bool   `subcmd:"verify,true,'verify per-member CRC32/ISIZE while decoding; pass -verify=false for --no-verify'"`
}

type catFlags struct {
	CommonFlags
	Ranges string `subcmd:"ranges,,'restrict output to SIZE@OFFSET, e.g. 10MiB@1GiB or 100L@5L for lines'"`
}

type unzipFlags struct {
	CommonFlags
	ProgressBar bool   `subcmd:"progress,true,display a progress bar"`
	OutputFile  string `subcmd:"output,,'output file, omit for stdout (-o)'"`
	Stdout      bool   `subcmd:"stdout,false,'write to stdout regardless of --output (-c)'"`
	Force       bool   `subcmd:"force,false,'overwrite an existing --output file (-f)'"`
	Keep        bool   `subcmd:"keep,true,'this tool never modifies or removes its input; kept for gzip-CLI familiarity (-k)'"`
	Test        bool   `subcmd:"test,false,'verify the stream integrity without writing any output (-t)'"`
	ExportIndex string `subcmd:"export-index,,'write an index file enabling fast random access on a later run'"`
	ImportIndex string `subcmd:"import-index,,'prime random access from a previously exported index'"`
	IndexFormat string `subcmd:"index-format,native,'on-disk layout for --export-index: native, indexed_gzip, gztool or gztool-with-lines'"`
	Ranges      string `subcmd:"ranges,,'restrict output to SIZE@OFFSET, e.g. 10MiB@1GiB or 100L@5L for lines'"`
}

type countFlags struct {
	CommonFlags
	Lines bool `subcmd:"count-lines,false,count newlines instead of bytes'"`
}

type analyzeFlags struct {
	CommonFlags
}

// noFlags backs the flag-less version and oss-attributions subcommands.
type noFlags struct{}

var cmdSet *subcmd.CommandSet

func init() {
	defaultParallelism := map[string]interface{}{
		"parallelism": runtime.GOMAXPROCS(-1),
	}

	catCmd := subcmd.NewCommand("cat",
		subcmd.MustRegisterFlagStruct(&catFlags{}, defaultParallelism, nil),
		cat, subcmd.AtLeastNArguments(0))
	catCmd.Document(`decompress gzip files or stdin and write the result to stdout.`)

	unzipCmd := subcmd.NewCommand("unzip",
		subcmd.MustRegisterFlagStruct(&unzipFlags{}, defaultParallelism, nil),
		unzip, subcmd.ExactlyNumArguments(1))
	unzipCmd.Document(`decompress a single gzip file, optionally exporting or importing a random-access index.`)

	countCmd := subcmd.NewCommand("count",
		subcmd.MustRegisterFlagStruct(&countFlags{}, defaultParallelism, nil),
		count, subcmd.ExactlyNumArguments(1))
	countCmd.Document(`print the decompressed byte or line count of a gzip file, without writing its contents anywhere.`)

	analyzeCmd := subcmd.NewCommand("analyze",
		subcmd.MustRegisterFlagStruct(&analyzeFlags{}, defaultParallelism, nil),
		analyze, subcmd.ExactlyNumArguments(1))
	analyzeCmd.Document(`decompress a gzip file and report chunk-size and throughput statistics.`)

	versionCmd := subcmd.NewCommand("version",
		subcmd.MustRegisterFlagStruct(&noFlags{}, nil, nil),
		printVersion, subcmd.ExactlyNumArguments(0))
	versionCmd.Document(`print the rapidgzip version and exit.`)

	attributionsCmd := subcmd.NewCommand("oss-attributions",
		subcmd.MustRegisterFlagStruct(&noFlags{}, nil, nil),
		printAttributions, subcmd.ExactlyNumArguments(0))
	attributionsCmd.Document(`print third-party module attributions and exit.`)

	cmdSet = subcmd.NewCommandSet(catCmd, unzipCmd, countCmd, analyzeCmd, versionCmd, attributionsCmd)
	cmdSet.Document(`decompress and inspect gzip files in parallel. Files may be local, on S3 or a URL.`)
}

func main() {
	cmdSet.MustDispatch(context.Background())
}

func optsFromCommonFlags(cl *CommonFlags) ([]rapidgzip.ReaderOption, error) {
	chunkSize, err := units.RAMInBytes(cl.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("invalid --chunk-size %q: %w", cl.ChunkSize, err)
	}
	method, err := iosource.ParseMethod(cl.IOReadMethod)
	if err != nil {
		return nil, err
	}
	return []rapidgzip.ReaderOption{
		rapidgzip.WithParallelism(cl.Parallelism),
		rapidgzip.WithChunkSize(chunkSize),
		rapidgzip.WithIOReadMethod(method),
		rapidgzip.WithVerbose(cl.Verbose),
		rapidgzip.WithVerifyCRC(cl.Verify),
	}, nil
}

// printVersion implements the version subcommand (spec.md §6's --version),
// reading the module version stamped into the binary at build time.
func printVersion(ctx context.Context, values interface{}, args []string) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		fmt.Println("rapidgzip: version unknown (binary built without module info)")
		return nil
	}
	version := info.Main.Version
	if version == "" {
		version = "(devel)"
	}
	fmt.Printf("rapidgzip %s (%s)\n", version, info.GoVersion)
	return nil
}

// printAttributions implements the oss-attributions subcommand (spec.md
// §6), listing every third-party module linked into the binary.
func printAttributions(ctx context.Context, values interface{}, args []string) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return fmt.Errorf("rapidgzip: no build info available to list attributions")
	}
	fmt.Println("rapidgzip links the following third-party modules:")
	for _, dep := range info.Deps {
		fmt.Printf("  %s %s\n", dep.Path, dep.Version)
	}
	return nil
}

// parsedRange is a byte-offset window resolved from a --ranges flag value.
type parsedRange struct {
	offset, size int64
	byLines      bool
}

// parseRange accepts "SIZE@OFFSET", where SIZE and OFFSET are either
// byte counts with the usual Ki/Mi/Gi suffixes (spec.md §6), or counts
// suffixed with L for a line-based range (e.g. "100L@5L" means the 100
// lines starting at line 5). Mixing byte and line units is rejected.
func parseRange(s string) (parsedRange, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 {
		return parsedRange{}, fmt.Errorf("invalid --ranges %q, want SIZE@OFFSET", s)
	}
	sizeStr, offsetStr := parts[0], parts[1]
	sizeLines := strings.HasSuffix(sizeStr, "L")
	offsetLines := strings.HasSuffix(offsetStr, "L")
	if sizeLines != offsetLines {
		return parsedRange{}, fmt.Errorf("invalid --ranges %q: mixes byte and line units", s)
	}
	if sizeLines {
		size, err := strconv.ParseInt(strings.TrimSuffix(sizeStr, "L"), 10, 64)
		if err != nil {
			return parsedRange{}, fmt.Errorf("invalid line count %q: %w", sizeStr, err)
		}
		offset, err := strconv.ParseInt(strings.TrimSuffix(offsetStr, "L"), 10, 64)
		if err != nil {
			return parsedRange{}, fmt.Errorf("invalid line offset %q: %w", offsetStr, err)
		}
		return parsedRange{offset: offset, size: size, byLines: true}, nil
	}
	size, err := units.RAMInBytes(sizeStr)
	if err != nil {
		return parsedRange{}, fmt.Errorf("invalid size %q: %w", sizeStr, err)
	}
	offset, err := units.RAMInBytes(offsetStr)
	if err != nil {
		return parsedRange{}, fmt.Errorf("invalid offset %q: %w", offsetStr, err)
	}
	return parsedRange{offset: offset, size: size}, nil
}

// lineRangeToByteOffsets scans forward from the reader's current position
// (which must be 0) counting newlines in a single buffered pass, returning
// the byte offsets at which line startLine and startLine+count begin. A
// single pass is required: resolving the two offsets with separate
// bufio.Readers would silently skip whatever each one had buffered ahead
// of its logical read position. Line offsets stored in an index are not
// consulted; every line range is resolved by this scan.
func lineRangeToByteOffsets(rd *rapidgzip.Reader, startLine, count int64) (start, end int64, err error) {
	br := bufio.NewReader(rd)
	var offset, lines int64
	if startLine <= 0 {
		start = 0
	}
	target := startLine + count
	for lines < target || lines <= startLine {
		if lines >= target {
			end = offset
			return start, end, nil
		}
		b, rerr := br.ReadByte()
		if rerr != nil {
			end = offset
			if lines < startLine {
				err = rerr
			}
			return start, end, err
		}
		offset++
		if b == '\n' {
			lines++
			if lines == startLine {
				start = offset
			}
		}
	}
	return start, offset, nil
}

func cat(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl := values.(*catFlags)
	cmdutil.HandleSignals(cancel, os.Interrupt)

	opts, err := optsFromCommonFlags(&cl.CommonFlags)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return fmt.Errorf("cat requires at least one file, path or URL argument")
	}

	for _, name := range args {
		if err := catOne(ctx, name, opts, cl.Ranges); err != nil {
			return err
		}
	}
	return nil
}

func catOne(ctx context.Context, name string, opts []rapidgzip.ReaderOption, ranges string) error {
	rd, err := rapidgzip.Open(ctx, name, opts...)
	if err != nil {
		return err
	}
	defer rd.Close()

	if ranges == "" {
		_, err = io.Copy(os.Stdout, rd)
		return err
	}
	return copyRange(rd, os.Stdout, ranges)
}

func copyRange(rd *rapidgzip.Reader, w io.Writer, ranges string) error {
	pr, err := parseRange(ranges)
	if err != nil {
		return err
	}
	var offset, size int64
	if pr.byLines {
		var start, end int64
		start, end, err = lineRangeToByteOffsets(rd, pr.offset, pr.size)
		if err != nil {
			return err
		}
		offset, size = start, end-start
	} else {
		offset, size = pr.offset, pr.size
	}
	if _, err := rd.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err = io.CopyN(w, rd, size)
	if err == io.EOF {
		err = nil
	}
	return err
}

func createFile(name string) (io.Writer, func() error, error) {
	if len(name) == 0 {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func progressBar(ctx context.Context, wr io.Writer, ch chan rapidgzip.Progress, size int64) {
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetBytes64(size),
		progressbar.OptionSetWriter(wr),
		progressbar.OptionSetPredictTime(true))
	bar.RenderBlank()
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				fmt.Fprintf(wr, "\n")
				return
			}
			bar.Add(p.UncompressedBytes)
		case <-ctx.Done():
			return
		}
	}
}

func unzip(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	cmdutil.HandleSignals(cancel, os.Interrupt)
	cl := values.(*unzipFlags)

	opts, err := optsFromCommonFlags(&cl.CommonFlags)
	if err != nil {
		return err
	}
	if cl.ImportIndex != "" {
		opts = append(opts, rapidgzip.WithImportIndex(cl.ImportIndex))
	}
	if cl.ExportIndex != "" {
		format, ferr := gzindex.ParseFormat(cl.IndexFormat)
		if ferr != nil {
			return ferr
		}
		opts = append(opts, rapidgzip.WithIndexFormat(format))
	}

	// -t/--test only verifies the stream; -c/--stdout always wins over
	// --output regardless of what was passed for it.
	outputFile := cl.OutputFile
	if cl.Stdout || cl.Test {
		outputFile = ""
	}
	if outputFile != "" && !cl.Force {
		if _, statErr := os.Stat(outputFile); statErr == nil {
			return fmt.Errorf("rapidgzip: %s already exists, use --force to overwrite", outputFile)
		}
	}

	isTTY := terminal.IsTerminal(int(os.Stdout.Fd()))
	var (
		progressCh chan rapidgzip.Progress
		progressWg sync.WaitGroup
	)
	if cl.ProgressBar && !cl.Quiet && (len(outputFile) > 0 || !isTTY) {
		progressCh = make(chan rapidgzip.Progress, cl.Parallelism+1)
		opts = append(opts, rapidgzip.WithProgress(progressCh))
	}

	rd, err := rapidgzip.Open(ctx, args[0], opts...)
	if err != nil {
		return err
	}

	var (
		wr            io.Writer
		writerCleanup func() error
	)
	if cl.Test {
		wr, writerCleanup = io.Discard, func() error { return nil }
	} else {
		wr, writerCleanup, err = createFile(outputFile)
	}
	if err != nil {
		rd.Close()
		return err
	}

	if progressCh != nil {
		progressWr := os.Stdout
		if !isTTY {
			progressWr = os.Stderr
		}
		progressWg.Add(1)
		go func() {
			progressBar(ctx, progressWr, progressCh, rd.Size())
			progressWg.Done()
		}()
	}

	errs := &errors.M{}
	if cl.Ranges != "" {
		errs.Append(copyRange(rd, wr, cl.Ranges))
	} else {
		_, err = io.Copy(wr, rd)
		errs.Append(err)
	}
	errs.Append(writerCleanup())

	if cl.ExportIndex != "" {
		errs.Append(rd.ExportIndex(cl.ExportIndex))
	}
	errs.Append(rd.Close())

	if progressCh != nil {
		progressWg.Wait()
	}
	return errs.Err()
}

func count(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl := values.(*countFlags)
	cmdutil.HandleSignals(cancel, os.Interrupt)

	opts, err := optsFromCommonFlags(&cl.CommonFlags)
	if err != nil {
		return err
	}
	rd, err := rapidgzip.Open(ctx, args[0], opts...)
	if err != nil {
		return err
	}
	defer rd.Close()

	if cl.Lines {
		n, err := countLines(rd)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	}
	n, err := io.Copy(io.Discard, rd)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func countLines(r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	var n int64
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, err
		}
		if b == '\n' {
			n++
		}
	}
}

// analyze decompresses a file end to end, reporting the compressed/
// uncompressed chunk-size distribution fed by progress.go's Progress
// channel (spec.md's supplemented statistics surface, internal/stats).
func analyze(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl := values.(*analyzeFlags)
	cmdutil.HandleSignals(cancel, os.Interrupt)

	opts, err := optsFromCommonFlags(&cl.CommonFlags)
	if err != nil {
		return err
	}
	progressCh := make(chan rapidgzip.Progress, cl.Parallelism+1)
	opts = append(opts, rapidgzip.WithProgress(progressCh))

	rd, err := rapidgzip.Open(ctx, args[0], opts...)
	if err != nil {
		return err
	}
	defer rd.Close()

	done := make(chan struct{})
	report := newAnalysisReport()
	go func() {
		for p := range progressCh {
			report.observe(p)
		}
		close(done)
	}()

	n, err := io.Copy(io.Discard, rd)
	close(progressCh)
	<-done
	if err != nil {
		return err
	}

	report.print(os.Stdout, n)
	return nil
}
