package index

import (
	"io/fs"
	"sync"

	"github.com/rowjay/logfetch/internal/manifest"
)

// Index maps a relative path to the most recently enumerated record for it.
// Entries are replaced wholesale and never removed during a run.
type Index struct {
	mu      sync.RWMutex
	entries map[string]manifest.Record
}

func New() *Index {
	return &Index{entries: make(map[string]manifest.Record)}
}

// Put stores rec, replacing any earlier record with the same relative path.
func (i *Index) Put(rec manifest.Record) {
	i.mu.Lock()
	i.entries[rec.RelativePath] = rec
	i.mu.Unlock()
}

func (i *Index) Get(rel string) (manifest.Record, bool) {
	i.mu.RLock()
	rec, ok := i.entries[rel]
	i.mu.RUnlock()
	return rec, ok
}

func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.entries)
}

// IsCurrent reports whether a local file with the given info already matches
// the indexed record for rel by byte length and UTC modification time.
func (i *Index) IsCurrent(rel string, info fs.FileInfo) bool {
	if info == nil {
		return false
	}
	rec, ok := i.Get(rel)
	if !ok {
		return false
	}
	return Matches(rec, info)
}

// Matches compares a local file against a record. Content is never hashed.
func Matches(rec manifest.Record, info fs.FileInfo) bool {
	return info.Size() == rec.FileSize && info.ModTime().UTC().Equal(rec.FileTime.UTC())
}
