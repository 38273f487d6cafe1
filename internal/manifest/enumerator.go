package manifest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/logfetch/internal/util"
)

// Page is one continuation-delimited slice of query results. An empty Next
// means the store has no further results.
type Page struct {
	Records []Record
	Next    string
}

// Store is a paginated key-range lookup over the manifest table.
type Store interface {
	Query(ctx context.Context, f Filter, token string) (Page, error)
}

// Indexer receives every enumerated record before it is queued.
type Indexer interface {
	Put(rec Record)
}

// Sink receives whole pages. Close is called once enumeration ends.
type Sink interface {
	Push(ctx context.Context, batch []Record) error
	Close()
}

// Stats summarizes one enumeration.
type Stats struct {
	Pages   int
	Records int
	Dropped int
}

type Enumerator struct {
	Store   Store
	Index   Indexer
	Log     zerolog.Logger
	Retries int
	Backoff time.Duration
	// OnPage, when set, is called with the number of records kept from each page.
	OnPage func(records int)
}

// Run pages through the store until the continuation token is exhausted. Every
// record is indexed before its page is pushed, and sink is closed on return.
func (e *Enumerator) Run(ctx context.Context, f Filter, sink Sink) (Stats, error) {
	defer sink.Close()

	var stats Stats
	token := ""
	for {
		var page Page
		err := util.Retry(ctx, e.Retries, e.Backoff, func() error {
			start := time.Now()
			var qerr error
			page, qerr = e.Store.Query(ctx, f, token)
			if qerr != nil {
				e.Log.Debug().Err(qerr).Int("page", stats.Pages).Dur("elapsed", time.Since(start)).Msg("manifest query failed")
				return qerr
			}
			e.Log.Trace().
				Int("page", stats.Pages).
				Int("records", len(page.Records)).
				Bool("more", page.Next != "").
				Dur("elapsed", time.Since(start)).
				Msg("manifest query")
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("query manifest page %d: %w", stats.Pages, err)
		}
		stats.Pages++

		batch := make([]Record, 0, len(page.Records))
		for _, rec := range page.Records {
			if !f.Match(rec) {
				stats.Dropped++
				continue
			}
			e.Index.Put(rec)
			batch = append(batch, rec)
		}
		stats.Records += len(batch)
		if e.OnPage != nil {
			e.OnPage(len(batch))
		}

		if len(batch) > 0 {
			if err := sink.Push(ctx, batch); err != nil {
				return stats, fmt.Errorf("queue manifest page %d: %w", stats.Pages-1, err)
			}
		}
		e.Log.Debug().Int("page", stats.Pages-1).Int("records", len(batch)).Bool("more", page.Next != "").Msg("add job queue")

		if page.Next == "" {
			return stats, nil
		}
		token = page.Next
	}
}
