package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/rowjay/logfetch/internal/config"
	"github.com/rowjay/logfetch/internal/index"
	"github.com/rowjay/logfetch/internal/lock"
	"github.com/rowjay/logfetch/internal/manifest"
	"github.com/rowjay/logfetch/internal/metrics"
	"github.com/rowjay/logfetch/internal/notify"
	"github.com/rowjay/logfetch/internal/queue"
	"github.com/rowjay/logfetch/internal/storage"
	"github.com/rowjay/logfetch/internal/tracker"
	"github.com/rowjay/logfetch/internal/transfer"
)

var window = Window{From: fileTime.Add(-time.Hour), To: fileTime.Add(time.Hour)}

type sliceStore struct {
	pages  [][]manifest.Record
	failAt int
}

func (s *sliceStore) Query(_ context.Context, _ manifest.Filter, token string) (manifest.Page, error) {
	i := 0
	if token != "" {
		i = int(token[0] - '0')
	}
	if s.failAt > 0 && i == s.failAt {
		return manifest.Page{}, errors.New("table unavailable")
	}
	page := manifest.Page{Records: s.pages[i]}
	if i+1 < len(s.pages) {
		page.Next = string(rune('0' + i + 1))
	}
	return page, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(_ context.Context, e notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Global:   config.GlobalConfig{LockFile: filepath.Join(t.TempDir(), ".logfetch.lock")},
		Download: config.DownloadConfig{Container: "wad", Dir: "/data"},
		Manifest: config.ManifestConfig{RetryCount: 1},
		Transfer: config.TransferConfig{Parallelism: 4, RetryCount: 1},
		Queue:    config.QueueConfig{Capacity: 2},
	}
}

func memSource(t *testing.T, objects map[string]string) storage.Source {
	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })
	for k, v := range objects {
		require.NoError(t, bucket.WriteAll(context.Background(), k, []byte(v), nil))
	}
	return storage.NewBlob(bucket)
}

func TestRunDownloadsWindow(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := memSource(t, map[string]string{
		"role/0/a.log": "alpha",
		"role/0/b.log": "bravo!",
		"role/1/c.log": "charlie",
	})
	late := record("role/1/late.log", 4)
	late.FileTime = window.To
	store := &sliceStore{pages: [][]manifest.Record{
		{record("role/0/a.log", 5), record("role/0/b.log", 6)},
		{record("role/1/c.log", 7), late},
	}}
	notes := &captureNotifier{}
	rec := metrics.New()
	a := New(testConfig(t), store, src, fs, zerolog.Nop(), notes, rec)

	summary, err := a.Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 3}, summary.Outcomes)
	assert.Equal(t, manifest.Stats{Pages: 2, Records: 3, Dropped: 1}, summary.Manifest)
	assert.EqualValues(t, 18, summary.Progress.BytesTransferred)
	assert.Equal(t, "success", summary.Status(nil))

	data, err := afero.ReadFile(fs, "/data/role/1/c.log")
	require.NoError(t, err)
	assert.Equal(t, "charlie", string(data))
	info, err := fs.Stat("/data/role/0/a.log")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(fileTime))

	exists, err := afero.Exists(fs, "/data/role/1/late.log")
	require.NoError(t, err)
	assert.False(t, exists)

	require.Len(t, notes.events, 1)
	assert.Equal(t, a.RunID, notes.events[0].RunID)
	assert.EqualValues(t, 3, notes.events[0].Transferred)
}

func TestRunIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := memSource(t, map[string]string{"x/1.log": "one", "x/2.log": "two"})
	store := &sliceStore{pages: [][]manifest.Record{{record("x/1.log", 3), record("x/2.log", 3)}}}
	cfg := testConfig(t)

	first, err := New(cfg, store, src, fs, zerolog.Nop(), nil, nil).Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 2}, first.Outcomes)

	second, err := New(cfg, store, src, fs, zerolog.Nop(), nil, nil).Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, Counts{SkippedCurrent: 2}, second.Outcomes)
	assert.Zero(t, second.Progress.BytesTransferred)
}

func TestRunReplacesStaleFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/x/1.log", make([]byte, 1024), 0o644))
	require.NoError(t, fs.Chtimes("/data/x/1.log", fileTime, fileTime))
	require.NoError(t, afero.WriteFile(fs, "/data/x/2.log", []byte("old"), 0o644))

	src := memSource(t, map[string]string{"x/1.log": strings.Repeat("z", 1024), "x/2.log": "new"})
	store := &sliceStore{pages: [][]manifest.Record{{record("x/1.log", 1024), record("x/2.log", 3)}}}

	summary, err := New(testConfig(t), store, src, fs, zerolog.Nop(), nil, nil).Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 1, SkippedCurrent: 1}, summary.Outcomes)

	data, err := afero.ReadFile(fs, "/data/x/2.log")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestRunCountsMissingObjects(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := memSource(t, map[string]string{"x/1.log": "one"})
	store := &sliceStore{pages: [][]manifest.Record{{record("x/1.log", 3), record("x/missing.log", 3)}}}

	summary, err := New(testConfig(t), store, src, fs, zerolog.Nop(), nil, nil).Run(context.Background(), window)
	require.NoError(t, err)
	assert.Equal(t, Counts{Succeeded: 1, Failed: 1}, summary.Outcomes)
	assert.Equal(t, "partial", summary.Status(nil))
}

func TestRunEnumerationFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := memSource(t, map[string]string{"x/1.log": "one"})
	store := &sliceStore{pages: [][]manifest.Record{{record("x/1.log", 3)}, nil}, failAt: 1}
	notes := &captureNotifier{}

	summary, err := New(testConfig(t), store, src, fs, zerolog.Nop(), notes, nil).Run(context.Background(), window)
	require.Error(t, err)
	assert.ErrorContains(t, err, "query manifest page 1")
	assert.Equal(t, 1, summary.Manifest.Pages)
	assert.LessOrEqual(t, summary.Outcomes.Total(), int64(1))

	require.Len(t, notes.events, 1)
	assert.Equal(t, "failed", notes.events[0].Status)
	assert.Contains(t, notes.events[0].Error, "table unavailable")
}

func TestRunValidatesInput(t *testing.T) {
	store := &sliceStore{pages: [][]manifest.Record{{}}}
	src := memSource(t, nil)

	cfg := testConfig(t)
	cfg.Download.Dir = ""
	_, err := New(cfg, store, src, afero.NewMemMapFs(), zerolog.Nop(), nil, nil).Run(context.Background(), window)
	assert.ErrorContains(t, err, "download directory is required")

	_, err = New(testConfig(t), store, src, afero.NewMemMapFs(), zerolog.Nop(), nil, nil).Run(context.Background(), Window{From: window.To, To: window.From})
	assert.ErrorContains(t, err, "invalid window")
}

func TestRunRejectsHeldLock(t *testing.T) {
	cfg := testConfig(t)
	guard, err := lock.Acquire(cfg.Global.LockFile)
	require.NoError(t, err)
	defer guard.Release()

	store := &sliceStore{pages: [][]manifest.Record{{}}}
	_, err = New(cfg, store, memSource(t, nil), afero.NewMemMapFs(), zerolog.Nop(), nil, nil).Run(context.Background(), window)
	assert.ErrorContains(t, err, "already using")
}

// gatedSource blocks every range read until release is closed.
type gatedSource struct {
	storage.Source
	release chan struct{}
}

func (g gatedSource) GetRange(ctx context.Context, key string, off, n int64) (io.ReadCloser, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Source.GetRange(ctx, key, off, n)
}

func TestDuplicateAcrossPagesSkipsInFlight(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := gatedSource{Source: memSource(t, map[string]string{"dup.log": "same"}), release: make(chan struct{})}
	engine := transfer.New(src, fs, transfer.Options{Parallelism: 2})
	o := &Orchestrator{Dir: "/data", FS: fs, Index: index.New(), Engine: engine, Tracker: tracker.New(), Tally: &Tally{}, Log: zerolog.Nop()}

	first, second := record("dup.log", 4), record("dup.log", 4)
	second.RowKey = "again"
	o.Index.Put(second)

	require.NoError(t, o.Run(context.Background(), closedQueue(t, []manifest.Record{first}, []manifest.Record{second})))
	close(src.release)
	require.NoError(t, o.Tracker.Wait(context.Background()))

	assert.Equal(t, Counts{Succeeded: 1, SkippedInFlight: 1}, o.Tally.Counts())
}

func TestStalledTransfersBackpressureQueue(t *testing.T) {
	fs := afero.NewMemMapFs()
	objects := map[string]string{}
	for i := 0; i < 10; i++ {
		objects[fmt.Sprintf("role/%d.log", i)] = "x"
	}
	src := gatedSource{Source: memSource(t, objects), release: make(chan struct{})}
	engine := transfer.New(src, fs, transfer.Options{Parallelism: 1})
	o := &Orchestrator{Dir: "/data", FS: fs, Index: index.New(), Engine: engine, Tracker: tracker.New(), Tally: &Tally{}, Log: zerolog.Nop()}

	q := queue.New[manifest.Record](1)
	ran := make(chan error, 1)
	go func() { ran <- o.Run(context.Background(), q) }()

	// one batch transferring, one waiting for a slot, one buffered
	accepted := 0
	var pushErr error
	for i := 0; i < 10 && pushErr == nil; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		pushErr = q.Push(ctx, []manifest.Record{record(fmt.Sprintf("role/%d.log", i), 1)})
		cancel()
		if pushErr == nil {
			accepted++
		}
	}
	assert.ErrorIs(t, pushErr, context.DeadlineExceeded)
	assert.LessOrEqual(t, accepted, 3)

	close(src.release)
	q.Close()
	select {
	case err := <-ran:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not drain after release")
	}
	require.NoError(t, o.Tracker.Wait(context.Background()))
	assert.Equal(t, Counts{Succeeded: int64(accepted)}, o.Tally.Counts())
}

func TestList(t *testing.T) {
	store := &sliceStore{pages: [][]manifest.Record{{record("a.log", 1)}, {record("b.log", 1)}}}
	a := New(testConfig(t), store, nil, afero.NewMemMapFs(), zerolog.Nop(), nil, nil)

	var seen []string
	stats, err := a.List(context.Background(), window, func(r manifest.Record) { seen = append(seen, r.RelativePath) })
	require.NoError(t, err)
	assert.Equal(t, []string{"a.log", "b.log"}, seen)
	assert.Equal(t, 2, stats.Records)
}
