package model

// Query describes a bounded historical scan: an inclusive
// [StartUsec, EndUsec] time range plus optional equality filters on hostname
// and unit and a case-sensitive message substring. Empty strings leave the
// corresponding predicate unset.
//
// Query is a value type. The With* methods return modified copies, so a
// Query passed to an engine cannot change while the scan runs.
type Query struct {
	StartUsec       uint64 `json:"start_time_utc"`
	EndUsec         uint64 `json:"end_time_utc"`
	Hostname        string `json:"hostname,omitempty"`
	Unit            string `json:"unit,omitempty"`
	MessageContains string `json:"message_contains,omitempty"`
}

// NewQuery returns a query over [startUsec, endUsec] with no filters.
func NewQuery(startUsec, endUsec uint64) Query {
	return Query{StartUsec: startUsec, EndUsec: endUsec}
}

func (q Query) WithHostname(hostname string) Query {
	q.Hostname = hostname
	return q
}

func (q Query) WithUnit(unit string) Query {
	q.Unit = unit
	return q
}

func (q Query) WithMessageContains(substr string) Query {
	q.MessageContains = substr
	return q
}

// Inverted reports whether the range is empty because End precedes Start.
func (q Query) Inverted() bool {
	return q.EndUsec < q.StartUsec
}
