// Package tracker counts outstanding work for a download run.
//
// A Tracker starts with one bias unit that stands for "input is still being
// dispatched". Each submitted transfer adds a unit and each terminal outcome
// removes one. The bias is released once every batch has been dispatched,
// so the count can only reach zero after both enumeration and all transfers
// are finished.
package tracker

import (
	"context"
	"sync"
	"sync/atomic"
)

type Tracker struct {
	wg          sync.WaitGroup
	outstanding atomic.Int64
	released    atomic.Bool
	idle        chan struct{}
}

func New() *Tracker {
	t := &Tracker{idle: make(chan struct{})}
	t.wg.Add(1)
	t.outstanding.Store(1)
	go func() {
		t.wg.Wait()
		close(t.idle)
	}()
	return t
}

// Add registers one outstanding transfer.
func (t *Tracker) Add() {
	t.outstanding.Add(1)
	t.wg.Add(1)
}

// Done removes one outstanding transfer.
func (t *Tracker) Done() {
	if t.outstanding.Add(-1) < 0 {
		panic("tracker: negative outstanding count")
	}
	t.wg.Done()
}

// Release drops the bias unit. Only the first call has an effect.
func (t *Tracker) Release() {
	if t.released.CompareAndSwap(false, true) {
		t.Done()
	}
}

// Outstanding returns the current count including the bias unit.
func (t *Tracker) Outstanding() int64 {
	return t.outstanding.Load()
}

// Idle is closed when the count reaches zero.
func (t *Tracker) Idle() <-chan struct{} {
	return t.idle
}

// Wait blocks until the count reaches zero or ctx ends.
func (t *Tracker) Wait(ctx context.Context) error {
	select {
	case <-t.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
