package duckdb

import (
	"context"
	"fmt"
	"log"

	"github.com/tinytelemetry/journald-query/internal/logparse"
	"github.com/tinytelemetry/journald-query/internal/model"
)

// DefaultBatchSize is the number of entries a Sink writes per transaction.
const DefaultBatchSize = 2000

// UnitCount is a unit together with its entry count.
type UnitCount struct {
	Unit  string `json:"unit"`
	Count int64  `json:"count"`
}

// InsertEntries writes entries in one transaction. If the batch fails each
// entry is retried on its own and the ones that still fail are dropped and
// logged. It returns the number of entries written.
func (s *Store) InsertEntries(ctx context.Context, entries []model.Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.insertTx(ctx, entries); err == nil {
		return len(entries), nil
	} else if ctx.Err() != nil {
		return 0, fmt.Errorf("duckdb: insert: %w", err)
	}

	written := 0
	for _, e := range entries {
		if err := s.insertTx(ctx, []model.Entry{e}); err != nil {
			log.Printf("duckdb: dropping entry (host=%s unit=%s msg=%.80s): %v", e.Hostname, e.Unit, e.Message, err)
			continue
		}
		written++
	}
	if written < len(entries) {
		log.Printf("duckdb: batch partially failed, %d/%d entries dropped", len(entries)-written, len(entries))
	}
	return written, nil
}

func (s *Store) insertTx(ctx context.Context, entries []model.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (timestamp_usec, timestamp, hostname, unit, message, severity) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.TimestampUTC, e.Time(), nullable(e.Hostname), nullable(e.Unit), e.Message, logparse.FromText(e.Message)); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EntryCount returns the number of stored entries.
func (s *Store) EntryCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("duckdb: count: %w", err)
	}
	return n, nil
}

// TopUnits returns units by descending entry count. Entries without a unit
// are reported as "unknown".
func (s *Store) TopUnits(ctx context.Context, limit int) ([]UnitCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(unit, ''), 'unknown') AS u, COUNT(*) AS count
		FROM entries
		GROUP BY u
		ORDER BY count DESC, u ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("duckdb: top units: %w", err)
	}
	defer rows.Close()

	var out []UnitCount
	for rows.Next() {
		var uc UnitCount
		if err := rows.Scan(&uc.Unit, &uc.Count); err != nil {
			log.Printf("duckdb: scan error (TopUnits): %v", err)
			continue
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// HostUnits rebuilds the host/unit correlation from stored entries, in the
// same sorted form discovery produces.
func (s *Store) HostUnits(ctx context.Context) (model.Hosts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT hostname, unit
		FROM entries
		WHERE hostname IS NOT NULL`)
	if err != nil {
		return model.Hosts{}, fmt.Errorf("duckdb: host units: %w", err)
	}
	defer rows.Close()

	byHost := make(map[string]map[string]struct{})
	for rows.Next() {
		var host string
		var unit *string
		if err := rows.Scan(&host, &unit); err != nil {
			return model.Hosts{}, fmt.Errorf("duckdb: scan host units: %w", err)
		}
		set, ok := byHost[host]
		if !ok {
			set = make(map[string]struct{})
			byHost[host] = set
		}
		if unit != nil {
			set[*unit] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return model.Hosts{}, err
	}
	return model.NewHosts(byHost), nil
}

// Sink batches entries into InsertEntries calls. It is meant to be fed from
// a query scan and is not safe for concurrent use.
type Sink struct {
	store     *Store
	ctx       context.Context
	batch     []model.Entry
	batchSize int
	written   int
}

// NewSink returns a Sink writing batchSize entries per transaction.
func (s *Store) NewSink(ctx context.Context, batchSize int) *Sink {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sink{store: s, ctx: ctx, batchSize: batchSize, batch: make([]model.Entry, 0, batchSize)}
}

// Add queues e, writing the batch when it is full.
func (k *Sink) Add(e model.Entry) error {
	k.batch = append(k.batch, e)
	if len(k.batch) >= k.batchSize {
		return k.Flush()
	}
	return nil
}

// Flush writes any queued entries.
func (k *Sink) Flush() error {
	if len(k.batch) == 0 {
		return nil
	}
	n, err := k.store.InsertEntries(k.ctx, k.batch)
	k.written += n
	k.batch = k.batch[:0]
	return err
}

// Written returns the number of entries stored so far.
func (k *Sink) Written() int { return k.written }
