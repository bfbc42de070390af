package journal

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/tinytelemetry/journald-query/internal/model"
)

var (
	errEmptyLocation  = errors.New("location names no directory or files")
	errNulInLocation  = errors.New("location contains a NUL byte")
	errNulInValue     = errors.New("match value contains a NUL byte")
	errBadFieldName   = errors.New("field name must match [A-Z_][A-Z0-9_]*")
	errStaleUnique    = errors.New("unique enumeration superseded by a newer query")
	errNotEnumerating = errors.New("no unique query in progress")
)

// Journal is a handle over a single Store connection.
//
// A Journal belongs to one goroutine at a time. Overlapping calls fail with
// KindConcurrentUse instead of corrupting the cursor. Field and timestamp
// reads are valid only after Next has reported an entry.
type Journal struct {
	store Store
	loc   model.Location

	busy   atomic.Bool
	closed atomic.Bool

	positioned bool
	uniqueGen  uint64
	uniqueOpen bool
}

// Open opens the journal at loc through opener. A nil opener uses
// DefaultOpener.
func Open(opener Opener, loc model.Location) (*Journal, error) {
	if err := validateLocation(loc); err != nil {
		return nil, err
	}
	if opener == nil {
		opener = DefaultOpener
	}
	s, err := opener.Open(loc)
	if err != nil {
		return nil, wrapError("open", err)
	}
	j := New(s)
	j.loc = loc
	return j, nil
}

// OpenDirectory opens every journal file below dir.
func OpenDirectory(dir string) (*Journal, error) {
	return Open(DefaultOpener, model.Location{Directory: dir})
}

// OpenFiles opens an explicit list of journal files.
func OpenFiles(files ...string) (*Journal, error) {
	return Open(DefaultOpener, model.Location{Files: files})
}

// New wraps an already opened Store. The Journal takes ownership of s.
func New(s Store) *Journal {
	return &Journal{store: s}
}

func validateLocation(loc model.Location) error {
	if loc.IsZero() {
		return &Error{Op: "open", Kind: KindInvalidArgument, Err: errEmptyLocation}
	}
	if strings.IndexByte(loc.Directory, 0) >= 0 {
		return &Error{Op: "open", Kind: KindInvalidArgument, Err: errNulInLocation}
	}
	for _, f := range loc.Files {
		if f == "" || strings.IndexByte(f, 0) >= 0 {
			return &Error{Op: "open", Kind: KindInvalidArgument, Err: errNulInLocation}
		}
	}
	return nil
}

// Location returns the location the journal was opened from, if any.
func (j *Journal) Location() model.Location { return j.loc }

func (j *Journal) acquire(op string) error {
	if !j.busy.CompareAndSwap(false, true) {
		return &Error{Op: op, Kind: KindConcurrentUse}
	}
	if j.closed.Load() {
		j.busy.Store(false)
		return &Error{Op: op, Kind: KindClosed}
	}
	return nil
}

func (j *Journal) release() { j.busy.Store(false) }

// MatchString renders the "FIELD=value" form the store expects.
func MatchString(field, value string) string {
	return field + "=" + value
}

// ValidField reports whether name is an acceptable journal field name.
func ValidField(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// AddMatch adds an equality predicate. Predicates on the same field are
// OR'd, predicates on different fields are AND'd. The cursor must be
// re-seeked before the match takes effect.
func (j *Journal) AddMatch(field, value string) error {
	if !ValidField(field) {
		return &Error{Op: "add match", Kind: KindInvalidArgument, Err: errBadFieldName}
	}
	if strings.IndexByte(value, 0) >= 0 {
		return &Error{Op: "add match", Kind: KindInvalidArgument, Err: errNulInValue}
	}
	if err := j.acquire("add match"); err != nil {
		return err
	}
	defer j.release()
	j.positioned = false
	return wrapError("add match", j.store.AddMatch(MatchString(field, value)))
}

// FlushMatches removes every predicate. It panics if the handle is in use by
// another goroutine; calling it on a closed handle is a no-op.
func (j *Journal) FlushMatches() {
	if err := j.acquire("flush matches"); err != nil {
		if KindOf(err) == KindClosed {
			return
		}
		panic(err)
	}
	defer j.release()
	j.positioned = false
	j.store.FlushMatches()
}

// SeekHead moves the cursor before the first matching entry.
func (j *Journal) SeekHead() error {
	if err := j.acquire("seek head"); err != nil {
		return err
	}
	defer j.release()
	j.positioned = false
	return wrapError("seek head", j.store.SeekHead())
}

// SeekRealtimeUsec moves the cursor before the first matching entry at or
// after usec.
func (j *Journal) SeekRealtimeUsec(usec uint64) error {
	if err := j.acquire("seek realtime"); err != nil {
		return err
	}
	defer j.release()
	j.positioned = false
	return wrapError("seek realtime", j.store.SeekRealtimeUsec(usec))
}

// Next advances to the next matching entry and reports whether one is
// available. When it returns false the cursor stays where it was, and a
// later Next picks up entries appended since.
func (j *Journal) Next() (bool, error) {
	if err := j.acquire("next"); err != nil {
		return false, err
	}
	defer j.release()
	ok, err := j.store.Next()
	if err != nil {
		j.positioned = false
		return false, wrapError("next", err)
	}
	j.positioned = ok
	return ok, nil
}

// RawField returns the "FIELD=value" bytes of field at the cursor. ok is
// false when the entry has no such field.
func (j *Journal) RawField(field string) ([]byte, bool, error) {
	if err := j.acquire("get data"); err != nil {
		return nil, false, err
	}
	defer j.release()
	if !j.positioned {
		return nil, false, &Error{Op: "get data", Kind: KindNotPositioned}
	}
	data, ok, err := j.store.GetData(field)
	if err != nil {
		return nil, false, wrapError("get data", err)
	}
	return data, ok, nil
}

// Field returns the value of field at the cursor with the "FIELD=" prefix
// removed.
func (j *Journal) Field(field string) (string, bool, error) {
	data, ok, err := j.RawField(field)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(StripPrefix(field, data)), true, nil
}

// StripPrefix removes a leading "FIELD=" from data when present.
func StripPrefix(field string, data []byte) []byte {
	if len(data) > len(field) && data[len(field)] == '=' && bytes.HasPrefix(data, []byte(field)) {
		return data[len(field)+1:]
	}
	return data
}

// RealtimeUsec returns the wallclock timestamp of the entry at the cursor.
func (j *Journal) RealtimeUsec() (uint64, error) {
	if err := j.acquire("get realtime"); err != nil {
		return 0, err
	}
	defer j.release()
	if !j.positioned {
		return 0, &Error{Op: "get realtime", Kind: KindNotPositioned}
	}
	usec, err := j.store.GetRealtimeUsec()
	if err != nil {
		return 0, wrapError("get realtime", err)
	}
	return usec, nil
}

// Entry assembles the entry at the cursor.
func (j *Journal) Entry() (model.Entry, error) {
	usec, err := j.RealtimeUsec()
	if err != nil {
		return model.Entry{}, err
	}
	host, _, err := j.Field(model.FieldHostname)
	if err != nil {
		return model.Entry{}, err
	}
	unit, _, err := j.Field(model.FieldUnit)
	if err != nil {
		return model.Entry{}, err
	}
	msg, ok, err := j.Field(model.FieldMessage)
	if err != nil {
		return model.Entry{}, err
	}
	if !ok {
		msg = model.MissingMessage
	}
	return model.Entry{Hostname: host, Unit: unit, TimestampUTC: usec, Message: msg}, nil
}

// Refresh lets the store notice entries and files written since it was
// opened. Stores that track changes on their own report ChangeNone.
func (j *Journal) Refresh() (Change, error) {
	r, ok := j.store.(Refresher)
	if !ok {
		return ChangeNone, nil
	}
	if err := j.acquire("refresh"); err != nil {
		return ChangeNone, err
	}
	defer j.release()
	c, err := r.Process()
	if err != nil {
		return ChangeNone, wrapError("refresh", err)
	}
	return c, nil
}

// Close releases the store connection. Only the first call closes; later
// calls return nil.
func (j *Journal) Close() error {
	if !j.busy.CompareAndSwap(false, true) {
		return &Error{Op: "close", Kind: KindConcurrentUse}
	}
	defer j.release()
	if !j.closed.CompareAndSwap(false, true) {
		return nil
	}
	j.positioned = false
	return wrapError("close", j.store.Close())
}
