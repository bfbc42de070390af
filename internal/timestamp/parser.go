// Package timestamp parses the time arguments accepted by the CLI and the
// HTTP API into journal timestamps.
package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parser resolves absolute and relative times. Relative forms are measured
// from Now; layouts without a zone are read in Location.
type Parser struct {
	Now      func() time.Time
	Location *time.Location
}

// NewParser returns a Parser using the wall clock and UTC.
func NewParser() *Parser {
	return &Parser{Now: time.Now, Location: time.UTC}
}

// Parse accepts:
//   - "now", "today", "yesterday"
//   - relative offsets: "-2h", "90m ago", "1d ago" (d = 24h)
//   - RFC3339 and "YYYY-MM-DD[ HH:MM[:SS[.ffffff]]]"
//   - bare integers as Unix time; the magnitude selects seconds,
//     milliseconds, microseconds or nanoseconds
func (p *Parser) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("timestamp: empty value")
	}
	now := p.Now().In(p.Location)

	switch strings.ToLower(s) {
	case "now":
		return now, nil
	case "today":
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, p.Location), nil
	case "yesterday":
		y, m, d := now.Date()
		return time.Date(y, m, d-1, 0, 0, 0, 0, p.Location), nil
	}

	if d, ok := relative(s); ok {
		return now.Add(-d), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return FromUnix(n), nil
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, p.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: cannot parse %q", s)
}

// ParseUsec is Parse returning microseconds since the Unix epoch.
func (p *Parser) ParseUsec(s string) (uint64, error) {
	t, err := p.Parse(s)
	if err != nil {
		return 0, err
	}
	us := t.UnixMicro()
	if us < 0 {
		return 0, fmt.Errorf("timestamp: %q is before the Unix epoch", s)
	}
	return uint64(us), nil
}

func relative(s string) (time.Duration, bool) {
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "-"):
		lower = lower[1:]
	case strings.HasSuffix(lower, " ago"):
		lower = strings.TrimSpace(strings.TrimSuffix(lower, " ago"))
	default:
		return 0, false
	}
	if days, ok := strings.CutSuffix(lower, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil || n < 0 {
			return 0, false
		}
		return time.Duration(n * float64(24*time.Hour)), true
	}
	d, err := time.ParseDuration(lower)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// FromUnix interprets n as seconds, milliseconds, microseconds or
// nanoseconds since the epoch depending on its magnitude.
func FromUnix(n int64) time.Time {
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1e11:
		return time.Unix(n, 0).UTC()
	case abs < 1e14:
		return time.UnixMilli(n).UTC()
	case abs < 1e17:
		return time.UnixMicro(n).UTC()
	default:
		return time.Unix(0, n).UTC()
	}
}

// ParseTimestamp converts a decoded JSON value (string or number) into a
// time.
func (p *Parser) ParseTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case string:
		t, err := p.Parse(val)
		return t, err == nil
	case float64:
		return FromUnix(int64(val)), true
	case int64:
		return FromUnix(val), true
	case int:
		return FromUnix(int64(val)), true
	case uint64:
		return FromUnix(int64(val)), true
	default:
		return time.Time{}, false
	}
}
