// Package query runs bounded, filtered scans over a journal time range.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
)

// ErrStop can be returned by a Scan callback to end the scan early without
// an error.
var ErrStop = errors.New("query: stop")

// Scan calls fn for every entry matching q, in journal order.
//
// Hostname and unit filters are pushed down to the store as matches; the
// message filter is applied afterwards. Entries are assumed to be in
// non-decreasing time order, so the first entry past q.EndUsec ends the
// scan. An inverted range matches nothing.
func Scan(ctx context.Context, j *journal.Journal, q model.Query, fn func(model.Entry) error) (err error) {
	start := time.Now()
	defer func() {
		scanDuration.Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
		}
		scansTotal.WithLabelValues(result).Inc()
	}()

	if q.Inverted() {
		return nil
	}

	j.FlushMatches()
	if q.Hostname != "" {
		if err := j.AddMatch(model.FieldHostname, q.Hostname); err != nil {
			return fmt.Errorf("query: match hostname: %w", err)
		}
	}
	if q.Unit != "" {
		if err := j.AddMatch(model.FieldUnit, q.Unit); err != nil {
			return fmt.Errorf("query: match unit: %w", err)
		}
	}
	if err := j.SeekRealtimeUsec(q.StartUsec); err != nil {
		return fmt.Errorf("query: seek: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := j.Next()
		if err != nil {
			return fmt.Errorf("query: next: %w", err)
		}
		if !ok {
			return nil
		}
		entriesScanned.Inc()

		usec, err := j.RealtimeUsec()
		if err != nil {
			return fmt.Errorf("query: read timestamp: %w", err)
		}
		if usec > q.EndUsec {
			return nil
		}
		// A store seek lands at or after start; guard against backends
		// that round down.
		if usec < q.StartUsec {
			continue
		}

		e, err := j.Entry()
		if err != nil {
			return fmt.Errorf("query: read entry: %w", err)
		}
		if q.MessageContains != "" && !strings.Contains(e.Message, q.MessageContains) {
			continue
		}
		entriesMatched.Inc()
		if err := fn(e); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// Run collects the entries matching q.
func Run(ctx context.Context, j *journal.Journal, q model.Query) ([]model.Entry, error) {
	out := make([]model.Entry, 0)
	err := Scan(ctx, j, q, func(e model.Entry) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Journal opens loc, runs q and closes the handle.
func Journal(ctx context.Context, opener journal.Opener, loc model.Location, q model.Query) ([]model.Entry, error) {
	j, err := journal.Open(opener, loc)
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return Run(ctx, j, q)
}
