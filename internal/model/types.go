package model

import (
	"fmt"
	"sort"
	"time"
)

// Journal field names read by the engines.
const (
	FieldHostname = "_HOSTNAME"
	FieldUnit     = "_SYSTEMD_UNIT"
	FieldMessage  = "MESSAGE"
)

// MissingMessage is the Message of an Entry whose journal record carries no
// MESSAGE field.
const MissingMessage = "[no message]"

// Entry is a single journal record as returned by queries and tails.
// An empty Hostname or Unit means the field was absent on the record.
type Entry struct {
	Hostname     string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Unit         string `json:"unit,omitempty" yaml:"unit,omitempty"`
	TimestampUTC uint64 `json:"timestamp_utc" yaml:"timestamp_utc"` // microseconds since the Unix epoch
	Message      string `json:"message" yaml:"message"`
}

// Time returns the entry timestamp as a UTC time.Time.
func (e Entry) Time() time.Time {
	return UsecToTime(e.TimestampUTC)
}

// UsecToTime converts microseconds since the Unix epoch to a UTC time.
func UsecToTime(usec uint64) time.Time {
	return time.UnixMicro(int64(usec)).UTC()
}

// TimeToUsec converts t to microseconds since the Unix epoch, clamping
// times before the epoch to zero.
func TimeToUsec(t time.Time) uint64 {
	us := t.UnixMicro()
	if us < 0 {
		return 0
	}
	return uint64(us)
}

// Host is one hostname together with every unit it has logged under.
type Host struct {
	Hostname string   `json:"hostname" yaml:"hostname"`
	Units    []string `json:"units" yaml:"units"`
}

// Hosts is the result of service discovery. Hosts are sorted by name and
// each host's units are sorted and deduplicated.
type Hosts struct {
	Hosts []Host `json:"hosts" yaml:"hosts"`
}

// Len returns the number of hosts.
func (h Hosts) Len() int { return len(h.Hosts) }

// FindHost returns the host with the given name, if present.
func (h Hosts) FindHost(hostname string) (Host, bool) {
	i := sort.Search(len(h.Hosts), func(i int) bool { return h.Hosts[i].Hostname >= hostname })
	if i < len(h.Hosts) && h.Hosts[i].Hostname == hostname {
		return h.Hosts[i], true
	}
	return Host{}, false
}

// Hostnames returns the host names in order.
func (h Hosts) Hostnames() []string {
	out := make([]string, 0, len(h.Hosts))
	for _, host := range h.Hosts {
		out = append(out, host.Hostname)
	}
	return out
}

// AllUnits returns every unit across all hosts, sorted and deduplicated.
func (h Hosts) AllUnits() []string {
	seen := make(map[string]struct{})
	for _, host := range h.Hosts {
		for _, u := range host.Units {
			seen[u] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// HasUnit reports whether the host has logged under unit.
func (h Host) HasUnit(unit string) bool {
	i := sort.SearchStrings(h.Units, unit)
	return i < len(h.Units) && h.Units[i] == unit
}

// NewHosts builds a Hosts value from a host -> unit-set map, applying the
// deterministic ordering: hosts by name, units sorted.
func NewHosts(byHost map[string]map[string]struct{}) Hosts {
	hosts := make([]Host, 0, len(byHost))
	for name, set := range byHost {
		units := make([]string, 0, len(set))
		for u := range set {
			units = append(units, u)
		}
		sort.Strings(units)
		hosts = append(hosts, Host{Hostname: name, Units: units})
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Hostname < hosts[j].Hostname })
	return Hosts{Hosts: hosts}
}

// Location identifies the journal files to open: either a directory or an
// explicit list of files. Files takes precedence when both are set.
type Location struct {
	Directory string   `json:"directory,omitempty" mapstructure:"directory"`
	Files     []string `json:"files,omitempty" mapstructure:"files"`
}

// IsZero reports whether the location names nothing.
func (l Location) IsZero() bool {
	return l.Directory == "" && len(l.Files) == 0
}

// String renders the location for log lines.
func (l Location) String() string {
	switch len(l.Files) {
	case 0:
		return l.Directory
	case 1:
		return l.Files[0]
	default:
		return fmt.Sprintf("%s (+%d files)", l.Files[0], len(l.Files)-1)
	}
}
