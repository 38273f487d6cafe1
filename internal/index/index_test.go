package index

import (
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rowjay/logfetch/internal/manifest"
)

type fakeInfo struct {
	size int64
	mod  time.Time
}

func (f fakeInfo) Name() string       { return "f" }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeInfo) ModTime() time.Time { return f.mod }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

func TestPutLastWriteWins(t *testing.T) {
	idx := New()
	first := manifest.Record{RelativePath: "a.log", FileSize: 1}
	second := manifest.Record{RelativePath: "a.log", FileSize: 2}
	other := manifest.Record{RelativePath: "b.log", FileSize: 3}
	for _, rec := range []manifest.Record{first, other, second} {
		idx.Put(rec)
	}

	assert.Equal(t, 2, idx.Len())
	got, ok := idx.Get("a.log")
	assert.True(t, ok)
	assert.Equal(t, second, got)
	_, ok = idx.Get("missing.log")
	assert.False(t, ok)
}

func TestIsCurrent(t *testing.T) {
	ft := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	idx := New()
	idx.Put(manifest.Record{RelativePath: "a.log", FileSize: 1024, FileTime: ft})

	tcs := []struct {
		Description string
		Info        fs.FileInfo
		Expected    bool
	}{
		{Description: "size and mtime match", Info: fakeInfo{size: 1024, mod: ft}, Expected: true},
		{Description: "same instant other zone", Info: fakeInfo{size: 1024, mod: ft.In(time.FixedZone("X", 3600))}, Expected: true},
		{Description: "size differs", Info: fakeInfo{size: 1023, mod: ft}, Expected: false},
		{Description: "mtime differs", Info: fakeInfo{size: 1024, mod: ft.Add(time.Second)}, Expected: false},
		{Description: "no file", Info: nil, Expected: false},
	}
	for _, tc := range tcs {
		t.Run(tc.Description, func(t *testing.T) {
			assert.Equal(t, tc.Expected, idx.IsCurrent("a.log", tc.Info))
		})
	}
	assert.False(t, idx.IsCurrent("unknown.log", fakeInfo{size: 1024, mod: ft}))
}

func TestConcurrentAccess(t *testing.T) {
	idx := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			idx.Put(manifest.Record{RelativePath: "same.log"})
		}()
		go func() {
			defer wg.Done()
			idx.Get("same.log")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, idx.Len())
}
