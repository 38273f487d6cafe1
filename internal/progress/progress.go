package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Snapshot holds cumulative counters reported by the transfer engine.
type Snapshot struct {
	BytesTransferred int64
	FilesTransferred int64
	FilesSkipped     int64
	FilesFailed      int64
}

// Sink receives progress snapshots. Implementations must be safe for concurrent use.
type Sink interface {
	Report(s Snapshot)
}

// Aggregator retains the latest snapshot. Reports may arrive out of order from
// concurrent callbacks, so each counter keeps its largest value.
type Aggregator struct {
	mu     sync.Mutex
	latest Snapshot
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

func (a *Aggregator) Report(s Snapshot) {
	a.mu.Lock()
	a.latest.BytesTransferred = max(a.latest.BytesTransferred, s.BytesTransferred)
	a.latest.FilesTransferred = max(a.latest.FilesTransferred, s.FilesTransferred)
	a.latest.FilesSkipped = max(a.latest.FilesSkipped, s.FilesSkipped)
	a.latest.FilesFailed = max(a.latest.FilesFailed, s.FilesFailed)
	a.mu.Unlock()
}

func (a *Aggregator) Latest() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest
}

func (a *Aggregator) String() string {
	return a.Latest().String()
}

// Watch calls fn with the latest snapshot every interval until ctx ends.
func (a *Aggregator) Watch(ctx context.Context, interval time.Duration, fn func(Snapshot)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(a.Latest())
		}
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("Transferred bytes: %s; Transferred: %d, Skipped: %d, Failed: %d",
		humanize.IBytes(uint64(s.BytesTransferred)), s.FilesTransferred, s.FilesSkipped, s.FilesFailed)
}
