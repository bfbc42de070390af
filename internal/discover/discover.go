// Package discover lists the hosts and units present in a journal and
// correlates them into per-host service lists.
package discover

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/journald-query/internal/journal"
	"github.com/tinytelemetry/journald-query/internal/model"
)

// Strategy selects how Services correlates hosts with units.
type Strategy int

const (
	// CrossProbe enumerates the distinct hosts H and units U and probes
	// every (h, u) pair with a filtered seek. It costs |H|*|U| store round
	// trips, independent of the number of entries.
	CrossProbe Strategy = iota
	// FullScan reads every entry once and records its host and unit. It
	// costs one pass over the journal.
	FullScan
)

func (s Strategy) String() string {
	if s == FullScan {
		return "full-scan"
	}
	return "cross-probe"
}

// ParseStrategy accepts "cross-probe" or "full-scan".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cross-probe", "probe":
		return CrossProbe, nil
	case "full-scan", "scan":
		return FullScan, nil
	default:
		return CrossProbe, fmt.Errorf("discover: unknown strategy %q", s)
	}
}

// Options tunes Services.
type Options struct {
	Strategy Strategy
	// Workers > 1 spreads cross-probe hosts over that many handles, each
	// opened from the same location. Ignored by FullScan.
	Workers int
}

// Hosts returns every distinct hostname in store order.
func Hosts(j *journal.Journal) ([]string, error) {
	hosts, err := j.UniqueValues(model.FieldHostname)
	if err != nil {
		return nil, fmt.Errorf("discover: hosts: %w", err)
	}
	return hosts, nil
}

// Units returns every distinct systemd unit in store order.
func Units(j *journal.Journal) ([]string, error) {
	units, err := j.UniqueValues(model.FieldUnit)
	if err != nil {
		return nil, fmt.Errorf("discover: units: %w", err)
	}
	return units, nil
}

// HostsAndUnits returns both lists from one handle.
func HostsAndUnits(j *journal.Journal) (hosts, units []string, err error) {
	if hosts, err = Hosts(j); err != nil {
		return nil, nil, err
	}
	if units, err = Units(j); err != nil {
		return nil, nil, err
	}
	return hosts, units, nil
}

// Services correlates hosts with the units they have logged under using the
// strategy in opts on an already opened handle. Workers is ignored since
// one handle cannot be shared.
func Services(ctx context.Context, j *journal.Journal, opts Options) (model.Hosts, error) {
	if opts.Strategy == FullScan {
		return fullScan(ctx, j)
	}
	hosts, units, err := HostsAndUnits(j)
	if err != nil {
		return model.Hosts{}, err
	}
	byHost := make(map[string]map[string]struct{}, len(hosts))
	if err := probe(ctx, j, hosts, units, byHost); err != nil {
		return model.Hosts{}, err
	}
	return model.NewHosts(byHost), nil
}

// ServicesAt opens loc and runs Services. With CrossProbe and Workers > 1
// the probes are split across independently opened handles.
func ServicesAt(ctx context.Context, opener journal.Opener, loc model.Location, opts Options) (model.Hosts, error) {
	j, err := journal.Open(opener, loc)
	if err != nil {
		return model.Hosts{}, err
	}
	defer j.Close()

	if opts.Strategy == FullScan || opts.Workers <= 1 {
		return Services(ctx, j, opts)
	}

	hosts, units, err := HostsAndUnits(j)
	if err != nil {
		return model.Hosts{}, err
	}
	workers := min(opts.Workers, len(hosts))
	if workers <= 1 {
		byHost := make(map[string]map[string]struct{}, len(hosts))
		if err := probe(ctx, j, hosts, units, byHost); err != nil {
			return model.Hosts{}, err
		}
		return model.NewHosts(byHost), nil
	}

	parts := make([]map[string]map[string]struct{}, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		var share []string
		for i := w; i < len(hosts); i += workers {
			share = append(share, hosts[i])
		}
		parts[w] = make(map[string]map[string]struct{}, len(share))
		part := parts[w]
		g.Go(func() error {
			wj, err := journal.Open(opener, loc)
			if err != nil {
				return err
			}
			defer wj.Close()
			return probe(gctx, wj, share, units, part)
		})
	}
	if err := g.Wait(); err != nil {
		return model.Hosts{}, err
	}

	byHost := make(map[string]map[string]struct{}, len(hosts))
	for _, part := range parts {
		for h, set := range part {
			byHost[h] = set
		}
	}
	return model.NewHosts(byHost), nil
}

// probe records, for each host, the units that have at least one entry for
// that host. Hosts with no matching unit are still listed.
func probe(ctx context.Context, j *journal.Journal, hosts, units []string, byHost map[string]map[string]struct{}) error {
	log.Printf("discover: probing %d hosts x %d units", len(hosts), len(units))
	for _, h := range hosts {
		set, ok := byHost[h]
		if !ok {
			set = make(map[string]struct{})
			byHost[h] = set
		}
		for _, u := range units {
			if err := ctx.Err(); err != nil {
				return err
			}
			found, err := hasEntry(j, h, u)
			if err != nil {
				return fmt.Errorf("discover: probe %s/%s: %w", h, u, err)
			}
			if found {
				set[u] = struct{}{}
			}
		}
	}
	return nil
}

func hasEntry(j *journal.Journal, host, unit string) (bool, error) {
	j.FlushMatches()
	if err := j.AddMatch(model.FieldHostname, host); err != nil {
		return false, err
	}
	if err := j.AddMatch(model.FieldUnit, unit); err != nil {
		return false, err
	}
	if err := j.SeekHead(); err != nil {
		return false, err
	}
	return j.Next()
}

func fullScan(ctx context.Context, j *journal.Journal) (model.Hosts, error) {
	j.FlushMatches()
	if err := j.SeekHead(); err != nil {
		return model.Hosts{}, fmt.Errorf("discover: seek head: %w", err)
	}
	byHost := make(map[string]map[string]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return model.Hosts{}, err
		}
		ok, err := j.Next()
		if err != nil {
			return model.Hosts{}, fmt.Errorf("discover: scan: %w", err)
		}
		if !ok {
			break
		}
		host, hasHost, err := j.Field(model.FieldHostname)
		if err != nil {
			return model.Hosts{}, fmt.Errorf("discover: scan hostname: %w", err)
		}
		if !hasHost {
			continue
		}
		set, ok := byHost[host]
		if !ok {
			set = make(map[string]struct{})
			byHost[host] = set
		}
		unit, hasUnit, err := j.Field(model.FieldUnit)
		if err != nil {
			return model.Hosts{}, fmt.Errorf("discover: scan unit: %w", err)
		}
		if hasUnit {
			set[unit] = struct{}{}
		}
	}
	return model.NewHosts(byHost), nil
}
