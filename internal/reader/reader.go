// Package reader implements model.JournalReader over a journal location,
// opening a fresh handle for every call.
package reader

import (
	"context"

	"github.com/tinytelemetry/journald-query/internal/discover"
	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/query"
)

// Reader answers discovery and query calls for one location.
type Reader struct {
	opener journal.Opener
	loc    model.Location
	opts   discover.Options
}

var _ model.JournalReader = (*Reader)(nil)

// New returns a Reader for loc. A nil opener uses journal.DefaultOpener.
func New(opener journal.Opener, loc model.Location, opts discover.Options) *Reader {
	if opener == nil {
		opener = journal.DefaultOpener
	}
	return &Reader{opener: opener, loc: loc, opts: opts}
}

// Location returns the journal location the reader serves.
func (r *Reader) Location() model.Location { return r.loc }

// Opener returns the opener used for every handle.
func (r *Reader) Opener() journal.Opener { return r.opener }

func (r *Reader) withJournal(fn func(j *journal.Journal) error) error {
	j, err := journal.Open(r.opener, r.loc)
	if err != nil {
		return err
	}
	defer j.Close()
	return fn(j)
}

func (r *Reader) DiscoverHosts(ctx context.Context) ([]string, error) {
	var hosts []string
	err := r.withJournal(func(j *journal.Journal) (err error) {
		hosts, err = discover.Hosts(j)
		return err
	})
	return hosts, err
}

func (r *Reader) DiscoverUnits(ctx context.Context) ([]string, error) {
	var units []string
	err := r.withJournal(func(j *journal.Journal) (err error) {
		units, err = discover.Units(j)
		return err
	})
	return units, err
}

func (r *Reader) DiscoverHostsAndUnits(ctx context.Context) ([]string, []string, error) {
	var hosts, units []string
	err := r.withJournal(func(j *journal.Journal) (err error) {
		hosts, units, err = discover.HostsAndUnits(j)
		return err
	})
	return hosts, units, err
}

func (r *Reader) DiscoverServices(ctx context.Context) (model.Hosts, error) {
	return discover.ServicesAt(ctx, r.opener, r.loc, r.opts)
}

func (r *Reader) Query(ctx context.Context, q model.Query) ([]model.Entry, error) {
	return query.Journal(ctx, r.opener, r.loc, q)
}

// Scan streams the entries of q to fn without collecting them.
func (r *Reader) Scan(ctx context.Context, q model.Query, fn func(model.Entry) error) error {
	return r.withJournal(func(j *journal.Journal) error {
		return query.Scan(ctx, j, q, fn)
	})
}
