package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/logfetch/internal/config"
	"github.com/rowjay/logfetch/internal/index"
	"github.com/rowjay/logfetch/internal/lock"
	"github.com/rowjay/logfetch/internal/manifest"
	"github.com/rowjay/logfetch/internal/metrics"
	"github.com/rowjay/logfetch/internal/notify"
	"github.com/rowjay/logfetch/internal/progress"
	"github.com/rowjay/logfetch/internal/queue"
	"github.com/rowjay/logfetch/internal/storage"
	"github.com/rowjay/logfetch/internal/tracker"
	"github.com/rowjay/logfetch/internal/transfer"
)

type App struct {
	Cfg      *config.Config
	Store    manifest.Store
	Source   storage.Source
	FS       afero.Fs
	Log      zerolog.Logger
	Notifier notify.Notifier
	Metrics  *metrics.Recorder
	RunID    string
}

func New(cfg *config.Config, store manifest.Store, src storage.Source, fs afero.Fs, log zerolog.Logger, notifier notify.Notifier, rec *metrics.Recorder) *App {
	runID := uuid.NewString()
	return &App{
		Cfg:      cfg,
		Store:    store,
		Source:   src,
		FS:       fs,
		Log:      log.With().Str("run_id", runID).Logger(),
		Notifier: notifier,
		Metrics:  rec,
		RunID:    runID,
	}
}

// Window is the half-open file time range [From, To) of a run.
type Window struct {
	From time.Time
	To   time.Time
}

type Summary struct {
	RunID     string            `json:"run_id"`
	Container string            `json:"container"`
	Window    Window            `json:"window"`
	Manifest  manifest.Stats    `json:"manifest"`
	Outcomes  Counts            `json:"outcomes"`
	Progress  progress.Snapshot `json:"progress"`
	Duration  time.Duration     `json:"duration"`
}

// Status is "success", "partial" when some files failed, or "failed".
func (s *Summary) Status(err error) string {
	switch {
	case err != nil:
		return "failed"
	case s.Outcomes.Failed > 0:
		return "partial"
	default:
		return "success"
	}
}

// Run downloads every record of the window into the download directory. Files
// that fail individually are counted in the summary; only setup and manifest
// errors are returned.
func (a *App) Run(ctx context.Context, w Window) (*Summary, error) {
	start := time.Now()
	summary := &Summary{RunID: a.RunID, Container: a.Cfg.Download.Container, Window: w}
	var opErr error
	defer func() {
		summary.Duration = time.Since(start)
		a.finish(summary, start, opErr)
	}()

	filter, err := manifest.NewFilter(w.From, w.To, a.Cfg.Download.Container)
	if err != nil {
		opErr = err
		return summary, err
	}
	if a.Cfg.Download.Dir == "" {
		opErr = errors.New("download directory is required")
		return summary, opErr
	}

	guard, err := lock.Acquire(a.Cfg.LockPath())
	if err != nil {
		opErr = err
		return summary, err
	}
	defer guard.Release()

	if err := a.FS.MkdirAll(a.Cfg.Download.Dir, 0o755); err != nil {
		opErr = fmt.Errorf("create download directory: %w", err)
		return summary, opErr
	}

	idx := index.New()
	work := queue.New[manifest.Record](a.Cfg.Queue.Capacity)
	trk := tracker.New()
	agg := progress.NewAggregator()
	tally := &Tally{}

	engine := transfer.New(a.Source, a.FS, transfer.Options{
		Parallelism:  a.Cfg.Transfer.Parallelism,
		ChunkSize:    a.Cfg.Transfer.ChunkSize,
		RetryCount:   a.Cfg.Transfer.RetryCount,
		RetryBackoff: a.Cfg.Transfer.RetryBackoff,
		Progress:     agg,
		Log:          a.Log,
	})
	orch := &Orchestrator{
		Dir:     a.Cfg.Download.Dir,
		FS:      a.FS,
		Index:   idx,
		Engine:  engine,
		Tracker: trk,
		Tally:   tally,
		Metrics: a.Metrics,
		Log:     a.Log,
	}
	enum := &manifest.Enumerator{
		Store:   a.Store,
		Index:   idx,
		Log:     a.Log,
		Retries: a.Cfg.Manifest.RetryCount,
		Backoff: a.Cfg.Manifest.RetryBackoff,
		OnPage:  a.Metrics.Page,
	}

	a.Log.Info().
		Str("container", filter.Container).
		Time("from", filter.From).
		Time("to", filter.To).
		Str("dir", a.Cfg.Download.Dir).
		Int("parallelism", engine.Parallelism()).
		Msg("starting download")

	xferCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go agg.Watch(watchCtx, a.Cfg.Transfer.ProgressInterval, func(s progress.Snapshot) {
		a.Log.Info().Msg(s.String())
	})

	var g errgroup.Group
	var enumErr error
	g.Go(func() error {
		stats, err := enum.Run(ctx, filter, work)
		summary.Manifest = stats
		if err != nil {
			enumErr = err
			cancel()
		}
		return err
	})
	g.Go(func() error {
		return orch.Run(xferCtx, work)
	})
	runErr := g.Wait()

	// Submitted transfers finish, or observe the cancellation, before the summary is taken.
	_ = trk.Wait(context.Background())
	stopWatch()

	summary.Outcomes = tally.Counts()
	summary.Progress = engine.Snapshot()

	switch {
	case enumErr != nil:
		opErr = enumErr
	case runErr != nil:
		opErr = runErr
	}
	return summary, opErr
}

// List enumerates the window and calls fn for each record without downloading.
func (a *App) List(ctx context.Context, w Window, fn func(manifest.Record)) (manifest.Stats, error) {
	filter, err := manifest.NewFilter(w.From, w.To, a.Cfg.Download.Container)
	if err != nil {
		return manifest.Stats{}, err
	}
	enum := &manifest.Enumerator{
		Store:   a.Store,
		Index:   index.New(),
		Log:     a.Log,
		Retries: a.Cfg.Manifest.RetryCount,
		Backoff: a.Cfg.Manifest.RetryBackoff,
		OnPage:  a.Metrics.Page,
	}
	return enum.Run(ctx, filter, listSink(fn))
}

type listSink func(manifest.Record)

func (fn listSink) Push(_ context.Context, batch []manifest.Record) error {
	for _, rec := range batch {
		fn(rec)
	}
	return nil
}

func (listSink) Close() {}

func (a *App) finish(s *Summary, start time.Time, err error) {
	status := s.Status(err)
	ev := a.Log.Info()
	if err != nil {
		ev = a.Log.Error().Err(err)
	}
	ev.Str("status", status).
		Int("pages", s.Manifest.Pages).
		Int("records", s.Manifest.Records).
		Int64("succeeded", s.Outcomes.Succeeded).
		Int64("skipped_in_flight", s.Outcomes.SkippedInFlight).
		Int64("skipped_current", s.Outcomes.SkippedCurrent).
		Int64("failed", s.Outcomes.Failed).
		Dur("duration", s.Duration).
		Msg(s.Progress.String())

	a.Metrics.RunDuration(s.Duration)
	if perr := a.Metrics.Push(a.Cfg.Metrics.PushgatewayURL, a.Cfg.Metrics.Job); perr != nil {
		a.Log.Warn().Err(perr).Msg("failed to push metrics")
	}

	if a.Notifier == nil {
		return
	}
	event := notify.Event{
		RunID:       s.RunID,
		Status:      status,
		Message:     fmt.Sprintf("logfetch %s: %d transferred, %d skipped, %d failed", s.Container, s.Outcomes.Succeeded, s.Outcomes.SkippedInFlight+s.Outcomes.SkippedCurrent, s.Outcomes.Failed),
		Container:   s.Container,
		From:        s.Window.From,
		To:          s.Window.To,
		Records:     s.Manifest.Records,
		Transferred: s.Outcomes.Succeeded,
		Skipped:     s.Outcomes.SkippedInFlight + s.Outcomes.SkippedCurrent,
		Failed:      s.Outcomes.Failed,
		Bytes:       s.Progress.BytesTransferred,
		StartedAt:   start,
		EndedAt:     time.Now(),
		Duration:    s.Duration.String(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if nerr := a.Notifier.Notify(context.Background(), event); nerr != nil {
		a.Log.Warn().Err(nerr).Msg("failed to send notification")
	}
}
