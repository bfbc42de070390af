// Package tail follows new journal entries for one host/unit pair by
// polling.
//
// Polling is used instead of the journal's blocking wait primitive, whose
// change notification is coarse and can block indefinitely.
package tail

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"time"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
)

// ErrStopped is returned by Next after the tail has reported a store error
// or has been closed.
var ErrStopped = errors.New("tail: stopped")

// Tail is a live tail over one journal handle. Like the handle it wraps, a
// Tail belongs to a single goroutine.
type Tail struct {
	cfg     model.TailConfig
	j       *journal.Journal
	pending bool
	stopped bool
}

// Open starts a tail using the default journal opener.
func Open(cfg model.TailConfig) (*Tail, error) {
	return OpenWith(journal.DefaultOpener, cfg)
}

// OpenWith opens cfg.Location through opener, filters on the configured
// hostname and unit, and positions the cursor cfg.StartOffset before now.
func OpenWith(opener journal.Opener, cfg model.TailConfig) (*Tail, error) {
	j, err := journal.Open(opener, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("tail: open: %w", err)
	}
	t := &Tail{cfg: cfg, j: j}
	if err := t.position(time.Now()); err != nil {
		_ = j.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tail) position(now time.Time) error {
	if t.cfg.Hostname != "" {
		if err := t.j.AddMatch(model.FieldHostname, t.cfg.Hostname); err != nil {
			return fmt.Errorf("tail: match hostname: %w", err)
		}
	}
	if t.cfg.Unit != "" {
		if err := t.j.AddMatch(model.FieldUnit, t.cfg.Unit); err != nil {
			return fmt.Errorf("tail: match unit: %w", err)
		}
	}

	start := model.TimeToUsec(now)
	if offset := uint64(t.cfg.StartOffset.Microseconds()); offset < start {
		start -= offset
	} else {
		start = 0
	}
	if err := t.j.SeekRealtimeUsec(start); err != nil {
		return fmt.Errorf("tail: seek: %w", err)
	}

	// Nothing in range yet is not an error; polling picks it up later.
	ok, err := t.j.Next()
	if err != nil {
		log.Printf("tail: initial read for %s/%s: %v", t.cfg.Hostname, t.cfg.Unit, err)
		return nil
	}
	t.pending = ok
	return nil
}

// Config returns the configuration the tail was opened with.
func (t *Tail) Config() model.TailConfig { return t.cfg }

// Next blocks until the next matching entry is available.
//
// While no entry is available it sleeps one poll interval between polls. If
// ctx is done during the sleep, Next returns ctx.Err() and the tail can be
// resumed with another call. A store error is returned once; after that
// Next returns ErrStopped.
func (t *Tail) Next(ctx context.Context) (model.Entry, error) {
	if t.stopped {
		return model.Entry{}, ErrStopped
	}
	if t.pending {
		t.pending = false
		return t.read()
	}

	interval := t.cfg.EffectivePollInterval()
	for {
		ok, err := t.j.Next()
		if err != nil {
			return t.fail(err)
		}
		if ok {
			return t.read()
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return model.Entry{}, ctx.Err()
		case <-timer.C:
		}

		if _, err := t.j.Refresh(); err != nil {
			return t.fail(err)
		}
	}
}

func (t *Tail) read() (model.Entry, error) {
	e, err := t.j.Entry()
	if err != nil {
		return t.fail(err)
	}
	return e, nil
}

func (t *Tail) fail(err error) (model.Entry, error) {
	t.stopped = true
	return model.Entry{}, fmt.Errorf("tail: %w", err)
}

// All yields entries until a store error, which is yielded last, or until
// ctx is done.
func (t *Tail) All(ctx context.Context) iter.Seq2[model.Entry, error] {
	return func(yield func(model.Entry, error) bool) {
		for {
			e, err := t.Next(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrStopped) {
					return
				}
				yield(model.Entry{}, err)
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// Close stops the tail and releases its journal handle.
func (t *Tail) Close() error {
	t.stopped = true
	t.pending = false
	return t.j.Close()
}
