package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rowjay/logfetch/internal/index"
	"github.com/rowjay/logfetch/internal/manifest"
	"github.com/rowjay/logfetch/internal/metrics"
	"github.com/rowjay/logfetch/internal/queue"
	"github.com/rowjay/logfetch/internal/tracker"
	"github.com/rowjay/logfetch/internal/transfer"
	"github.com/rowjay/logfetch/internal/util"
)

// Outcome is the terminal classification of one record.
type Outcome int

const (
	Succeeded Outcome = iota
	SkippedDuplicateInFlight
	SkippedAlreadyCurrent
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case SkippedDuplicateInFlight:
		return "skipped_in_flight"
	case SkippedAlreadyCurrent:
		return "skipped_current"
	default:
		return "failed"
	}
}

// Classify maps a transfer error onto an outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Succeeded
	case errors.Is(err, transfer.ErrTransferAlreadyExists):
		return SkippedDuplicateInFlight
	case errors.Is(err, transfer.ErrNotOverwriteExisting):
		return SkippedAlreadyCurrent
	default:
		return Failed
	}
}

// Transferer starts asynchronous downloads.
type Transferer interface {
	Download(ctx context.Context, req transfer.Request) <-chan transfer.Result
}

// Counts is a point-in-time copy of a Tally.
type Counts struct {
	Succeeded       int64 `json:"succeeded"`
	SkippedInFlight int64 `json:"skipped_in_flight"`
	SkippedCurrent  int64 `json:"skipped_current"`
	Failed          int64 `json:"failed"`
}

func (c Counts) Total() int64 {
	return c.Succeeded + c.SkippedInFlight + c.SkippedCurrent + c.Failed
}

type Tally struct {
	succeeded       atomic.Int64
	skippedInFlight atomic.Int64
	skippedCurrent  atomic.Int64
	failed          atomic.Int64
}

func (t *Tally) Add(o Outcome) {
	switch o {
	case Succeeded:
		t.succeeded.Add(1)
	case SkippedDuplicateInFlight:
		t.skippedInFlight.Add(1)
	case SkippedAlreadyCurrent:
		t.skippedCurrent.Add(1)
	default:
		t.failed.Add(1)
	}
}

func (t *Tally) Counts() Counts {
	return Counts{
		Succeeded:       t.succeeded.Load(),
		SkippedInFlight: t.skippedInFlight.Load(),
		SkippedCurrent:  t.skippedCurrent.Load(),
		Failed:          t.failed.Load(),
	}
}

// Orchestrator drains the work queue and submits one transfer per record.
type Orchestrator struct {
	Dir     string
	FS      afero.Fs
	Index   *index.Index
	Engine  Transferer
	Tracker *tracker.Tracker
	Tally   *Tally
	Metrics *metrics.Recorder
	Log     zerolog.Logger
}

// Run returns once the queue is closed and drained, or ctx ends. The tracker's
// bias is released either way; transfers already submitted keep running.
func (o *Orchestrator) Run(ctx context.Context, q *queue.Queue[manifest.Record]) error {
	defer o.Tracker.Release()
	for {
		batch, ok, err := q.Pop(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		o.Log.Debug().Int("records", len(batch)).Msg("dispatch batch")
		for _, rec := range batch {
			o.submit(ctx, rec)
		}
	}
}

func (o *Orchestrator) submit(ctx context.Context, rec manifest.Record) {
	dest, err := util.DestinationPath(o.Dir, rec.RelativePath)
	if err != nil {
		o.record(rec, Failed, 0, err)
		return
	}
	if err := o.FS.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		o.record(rec, Failed, 0, fmt.Errorf("create directory: %w", err))
		return
	}

	o.Tracker.Add()
	done := o.Engine.Download(ctx, transfer.Request{
		Key:             util.ObjectKey(rec.RelativePath),
		Dest:            dest,
		ShouldOverwrite: o.shouldOverwrite(rec.RelativePath),
	})
	go func() {
		defer o.Tracker.Done()
		res := <-done
		o.complete(rec, dest, res)
	}()
}

// shouldOverwrite keeps a local file only when it matches the latest indexed
// record for rel by size and modification time.
func (o *Orchestrator) shouldOverwrite(rel string) transfer.OverwriteFunc {
	return func(dest string) bool {
		info, err := o.FS.Stat(dest)
		if err != nil {
			return true
		}
		return !o.Index.IsCurrent(rel, info)
	}
}

func (o *Orchestrator) complete(rec manifest.Record, dest string, res transfer.Result) {
	outcome := Classify(res.Err)
	err := res.Err
	if outcome == Succeeded {
		ft := rec.FileTime.UTC()
		if cerr := o.FS.Chtimes(dest, ft, ft); cerr != nil {
			outcome, err = Failed, fmt.Errorf("set file time: %w", cerr)
		}
	}
	o.record(rec, outcome, res.Bytes, err)
}

func (o *Orchestrator) record(rec manifest.Record, outcome Outcome, bytes int64, err error) {
	o.Tally.Add(outcome)
	o.Metrics.Transfer(outcome.String(), bytes)

	if outcome == Failed {
		o.Log.Warn().Err(err).Str("path", rec.RelativePath).Msg("transfer failed")
		return
	}
	o.Log.Debug().
		Str("path", rec.RelativePath).
		Str("outcome", outcome.String()).
		Int64("bytes", bytes).
		Msg("transfer finished")
}
