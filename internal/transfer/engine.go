package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/rowjay/logfetch/internal/progress"
	"github.com/rowjay/logfetch/internal/storage"
	"github.com/rowjay/logfetch/internal/util"
)

var (
	ErrTransferAlreadyExists = errors.New("transfer: destination is already being transferred")
	ErrNotOverwriteExisting  = errors.New("transfer: existing destination was not overwritten")
)

// chunkWorkers bounds the range reads of a single object.
const chunkWorkers = 4

// OverwriteFunc decides whether an existing destination is replaced.
type OverwriteFunc func(dest string) bool

type Request struct {
	Key             string
	Dest            string
	ShouldOverwrite OverwriteFunc
}

type Result struct {
	Request Request
	Bytes   int64
	Err     error
}

type Options struct {
	// Parallelism is the number of transfers running at once (default: 8 x NumCPU).
	Parallelism int

	// ChunkSize is the range size for objects fetched in parts (default: 8 MiB).
	ChunkSize int64

	// RetryCount is the number of attempts per range.
	RetryCount int

	RetryBackoff time.Duration

	// Progress, when set, receives cumulative counters.
	Progress progress.Sink

	Log zerolog.Logger
}

type Engine struct {
	src  storage.Source
	fs   afero.Fs
	opts Options
	sem  *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]struct{}

	bytes       atomic.Int64
	transferred atomic.Int64
	skipped     atomic.Int64
	failed      atomic.Int64
}

func New(src storage.Source, fs afero.Fs, opts Options) *Engine {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 8 * runtime.NumCPU()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8 << 20
	}
	return &Engine{
		src:      src,
		fs:       fs,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.Parallelism)),
		inflight: make(map[string]struct{}),
	}
}

func (e *Engine) Parallelism() int {
	return e.opts.Parallelism
}

// Download starts a transfer. It blocks until one of the Parallelism slots is
// free, so callers submitting faster than transfers finish are held back.
// The returned channel yields one Result and is then closed.
func (e *Engine) Download(ctx context.Context, req Request) <-chan Result {
	out := make(chan Result, 1)
	dest := filepath.Clean(req.Dest)

	if !e.claim(dest) {
		e.finish(ErrTransferAlreadyExists)
		out <- Result{Request: req, Err: ErrTransferAlreadyExists}
		close(out)
		return out
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.unclaim(dest)
		e.finish(err)
		out <- Result{Request: req, Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer e.sem.Release(1)
		n, err := e.run(ctx, req.Key, dest, req.ShouldOverwrite)
		e.unclaim(dest)
		e.finish(err)
		out <- Result{Request: req, Bytes: n, Err: err}
	}()
	return out
}

// Snapshot returns the cumulative counters.
func (e *Engine) Snapshot() progress.Snapshot {
	return progress.Snapshot{
		BytesTransferred: e.bytes.Load(),
		FilesTransferred: e.transferred.Load(),
		FilesSkipped:     e.skipped.Load(),
		FilesFailed:      e.failed.Load(),
	}
}

func (e *Engine) claim(dest string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[dest]; busy {
		return false
	}
	e.inflight[dest] = struct{}{}
	return true
}

func (e *Engine) unclaim(dest string) {
	e.mu.Lock()
	delete(e.inflight, dest)
	e.mu.Unlock()
}

func (e *Engine) finish(err error) {
	switch {
	case err == nil:
		e.transferred.Add(1)
	case errors.Is(err, ErrTransferAlreadyExists), errors.Is(err, ErrNotOverwriteExisting):
		e.skipped.Add(1)
	default:
		e.failed.Add(1)
	}
	e.report()
}

func (e *Engine) report() {
	if e.opts.Progress != nil {
		e.opts.Progress.Report(e.Snapshot())
	}
}

func (e *Engine) run(ctx context.Context, key, dest string, overwrite OverwriteFunc) (int64, error) {
	if info, err := e.fs.Stat(dest); err == nil && !info.IsDir() {
		if overwrite != nil && !overwrite(dest) {
			return 0, ErrNotOverwriteExisting
		}
	}

	obj, err := e.src.Stat(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}

	tmp, err := afero.TempFile(e.fs, filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := e.fetch(ctx, key, tmp, obj.Size)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = e.fs.Rename(tmpName, dest)
	}
	if err != nil {
		_ = e.fs.Remove(tmpName)
		return n, err
	}
	return n, nil
}

// fetch copies size bytes of key into w, splitting into ranges above ChunkSize.
func (e *Engine) fetch(ctx context.Context, key string, w io.WriterAt, size int64) (int64, error) {
	if size <= e.opts.ChunkSize {
		return e.fetchRange(ctx, key, w, 0, size)
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(chunkWorkers)
	for off := int64(0); off < size; off += e.opts.ChunkSize {
		length := min(e.opts.ChunkSize, size-off)
		g.Go(func() error {
			n, err := e.fetchRange(gctx, key, w, off, length)
			total.Add(n)
			return err
		})
	}
	err := g.Wait()
	return total.Load(), err
}

func (e *Engine) fetchRange(ctx context.Context, key string, w io.WriterAt, off, length int64) (int64, error) {
	if length == 0 {
		return 0, nil
	}
	var n int64
	err := util.Retry(ctx, e.opts.RetryCount, e.opts.RetryBackoff, func() error {
		rc, err := e.src.GetRange(ctx, key, off, length)
		if err != nil {
			return err
		}
		defer rc.Close()
		n, err = io.Copy(io.NewOffsetWriter(w, off), io.LimitReader(rc, length))
		if err != nil {
			return err
		}
		if n != length {
			return fmt.Errorf("range %d+%d of %s: %w", off, length, key, io.ErrUnexpectedEOF)
		}
		return nil
	})
	if err != nil {
		e.opts.Log.Trace().Err(err).Str("key", key).Int64("offset", off).Msg("range failed")
		return 0, err
	}
	e.opts.Log.Trace().Str("key", key).Int64("offset", off).Int64("length", length).Msg("range done")
	e.bytes.Add(n)
	e.report()
	return n, nil
}
