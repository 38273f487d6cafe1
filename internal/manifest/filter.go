package manifest

import (
	"errors"
	"fmt"
	"time"
)

// PartitionSlack widens the partition key range to absorb clock and partitioning skew.
const PartitionSlack = 6 * time.Hour

// Filter selects the records of one container whose file time is in [From, To).
type Filter struct {
	From      time.Time
	To        time.Time
	Container string
}

// NewFilter normalizes the window to UTC and validates it.
func NewFilter(from, to time.Time, container string) (Filter, error) {
	if container == "" {
		return Filter{}, errors.New("container is required")
	}
	from, to = from.UTC(), to.UTC()
	if !from.Before(to) {
		return Filter{}, fmt.Errorf("invalid window: from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return Filter{From: from, To: to, Container: container}, nil
}

// PartitionRange returns the half-open partition key range [lo, hi) scanned in the store.
func (f Filter) PartitionRange() (lo, hi string) {
	return PartitionKey(f.From.Add(-PartitionSlack)), PartitionKey(f.To.Add(PartitionSlack))
}

// Match reports whether r satisfies the full predicate.
func (f Filter) Match(r Record) bool {
	lo, hi := f.PartitionRange()
	if r.PartitionKey < lo || r.PartitionKey >= hi {
		return false
	}
	if r.Status != StatusSucceeded || r.Container != f.Container {
		return false
	}
	ft := r.FileTime.UTC()
	return !ft.Before(f.From) && ft.Before(f.To)
}
