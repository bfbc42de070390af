package journal

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tinytelemetry/journald-query/internal/model"
)

func newTestMemory() *Memory {
	m := NewMemory()
	m.AppendEntry(model.Entry{Hostname: "web-server", Unit: "nginx.service", TimestampUTC: 100, Message: "GET / 200"})
	m.AppendEntry(model.Entry{Hostname: "web-server", Unit: "apache2.service", TimestampUTC: 200, Message: "started"})
	m.AppendEntry(model.Entry{Hostname: "database-server", Unit: "mysql.service", TimestampUTC: 300, Message: "ready"})
	m.Append(400, map[string]string{model.FieldHostname: "database-server"})
	return m
}

func openTest(t *testing.T, m *Memory) *Journal {
	t.Helper()
	j, err := Open(m.Opener(), model.Location{Directory: "memory"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestMatchString(t *testing.T) {
	field, value := model.FieldHostname, "web-server"
	got := MatchString(field, value)
	if got != "_HOSTNAME=web-server" {
		t.Fatalf("MatchString = %q", got)
	}
	if len(got) != len(field)+1+len(value) {
		t.Fatalf("len = %d, want %d", len(got), len(field)+1+len(value))
	}
}

func TestOpenValidatesLocation(t *testing.T) {
	m := NewMemory()
	tests := []model.Location{
		{},
		{Directory: "/var/log/jour\x00nal"},
		{Files: []string{"a.journal", "b\x00.journal"}},
	}
	for _, loc := range tests {
		if _, err := Open(m.Opener(), loc); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("Open(%+v) err = %v, want ErrInvalidArgument", loc, err)
		}
	}
}

func TestReadBeforeNextIsNotPositioned(t *testing.T) {
	j := openTest(t, newTestMemory())

	if _, _, err := j.Field(model.FieldMessage); !errors.Is(err, ErrNotPositioned) {
		t.Fatalf("Field before Next err = %v", err)
	}
	if _, err := j.RealtimeUsec(); !errors.Is(err, ErrNotPositioned) {
		t.Fatalf("RealtimeUsec before Next err = %v", err)
	}

	if err := j.SeekHead(); err != nil {
		t.Fatalf("SeekHead: %v", err)
	}
	ok, err := j.Next()
	if err != nil || !ok {
		t.Fatalf("Next = %v, %v", ok, err)
	}
	usec, err := j.RealtimeUsec()
	if err != nil || usec != 100 {
		t.Fatalf("RealtimeUsec = %d, %v", usec, err)
	}

	if err := j.SeekHead(); err != nil {
		t.Fatalf("SeekHead: %v", err)
	}
	if _, err := j.RealtimeUsec(); !errors.Is(err, ErrNotPositioned) {
		t.Fatalf("RealtimeUsec after seek err = %v", err)
	}
}

func TestFieldStripsPrefixAndReportsAbsence(t *testing.T) {
	j := openTest(t, newTestMemory())
	if err := j.SeekRealtimeUsec(400); err != nil {
		t.Fatalf("SeekRealtimeUsec: %v", err)
	}
	if ok, err := j.Next(); err != nil || !ok {
		t.Fatalf("Next = %v, %v", ok, err)
	}

	host, ok, err := j.Field(model.FieldHostname)
	if err != nil || !ok || host != "database-server" {
		t.Fatalf("Field(_HOSTNAME) = %q, %v, %v", host, ok, err)
	}
	raw, _, _ := j.RawField(model.FieldHostname)
	if string(raw) != "_HOSTNAME=database-server" {
		t.Fatalf("RawField = %q", raw)
	}
	if _, ok, err := j.Field(model.FieldUnit); ok || err != nil {
		t.Fatalf("absent field: ok=%v err=%v", ok, err)
	}

	e, err := j.Entry()
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if e.Message != model.MissingMessage || e.Unit != "" || e.TimestampUTC != 400 {
		t.Fatalf("Entry = %+v", e)
	}
}

func TestMatchSemantics(t *testing.T) {
	j := openTest(t, newTestMemory())

	collect := func() []uint64 {
		t.Helper()
		if err := j.SeekHead(); err != nil {
			t.Fatalf("SeekHead: %v", err)
		}
		var out []uint64
		for {
			ok, err := j.Next()
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !ok {
				return out
			}
			usec, err := j.RealtimeUsec()
			if err != nil {
				t.Fatalf("RealtimeUsec: %v", err)
			}
			out = append(out, usec)
		}
	}

	// Same field: OR.
	if err := j.AddMatch(model.FieldUnit, "nginx.service"); err != nil {
		t.Fatalf("AddMatch: %v", err)
	}
	if err := j.AddMatch(model.FieldUnit, "mysql.service"); err != nil {
		t.Fatalf("AddMatch: %v", err)
	}
	if got := collect(); len(got) != 2 || got[0] != 100 || got[1] != 300 {
		t.Fatalf("OR match = %v", got)
	}

	// Different field: AND.
	if err := j.AddMatch(model.FieldHostname, "web-server"); err != nil {
		t.Fatalf("AddMatch: %v", err)
	}
	if got := collect(); len(got) != 1 || got[0] != 100 {
		t.Fatalf("AND match = %v", got)
	}

	j.FlushMatches()
	if got := collect(); len(got) != 4 {
		t.Fatalf("after flush = %v", got)
	}
}

func TestAddMatchRejectsMalformedInput(t *testing.T) {
	j := openTest(t, newTestMemory())
	tests := []struct{ field, value string }{
		{"", "x"},
		{"hostname", "x"},
		{"1FIELD", "x"},
		{"MESSAGE", "a\x00b"},
	}
	for _, tt := range tests {
		if err := j.AddMatch(tt.field, tt.value); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("AddMatch(%q, %q) err = %v", tt.field, tt.value, err)
		}
	}
}

func TestUniqueValuesIgnoreMatchesAndRestart(t *testing.T) {
	j := openTest(t, newTestMemory())
	if err := j.AddMatch(model.FieldHostname, "web-server"); err != nil {
		t.Fatalf("AddMatch: %v", err)
	}

	u, err := j.QueryUnique(model.FieldHostname)
	if err != nil {
		t.Fatalf("QueryUnique: %v", err)
	}
	first, err := u.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if strings.Join(first, ",") != "web-server,database-server" {
		t.Fatalf("unique hosts = %v", first)
	}

	if err := u.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	var second []string
	for {
		v, ok, err := u.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		second = append(second, v)
	}
	if strings.Join(second, ",") != strings.Join(first, ",") {
		t.Fatalf("restart changed values: %v vs %v", second, first)
	}

	if _, err := j.QueryUnique(model.FieldUnit); err != nil {
		t.Fatalf("QueryUnique units: %v", err)
	}
	if _, _, err := u.Next(); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("stale enumerator err = %v", err)
	}
}

func TestConcurrentUseIsRejected(t *testing.T) {
	j := openTest(t, newTestMemory())
	if !j.busy.CompareAndSwap(false, true) {
		t.Fatal("handle unexpectedly busy")
	}
	if _, err := j.Next(); !errors.Is(err, ErrConcurrentUse) {
		t.Fatalf("Next while busy err = %v", err)
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("FlushMatches while busy did not panic")
			}
		}()
		j.FlushMatches()
	}()
	j.busy.Store(false)

	if _, err := j.Next(); err != nil {
		t.Fatalf("Next after release: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := newTestMemory()
	var closes int
	var mu sync.Mutex
	opener := OpenerFunc(func(model.Location) (Store, error) {
		return &countingStore{Store: m.Open(), onClose: func() {
			mu.Lock()
			closes++
			mu.Unlock()
		}}, nil
	})
	j, err := Open(opener, model.Location{Directory: "memory"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if closes != 1 {
		t.Fatalf("store closed %d times", closes)
	}
	if _, err := j.Next(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Next after Close err = %v", err)
	}
	j.FlushMatches()
}

func TestStoreErrorsAreTyped(t *testing.T) {
	m := newTestMemory()
	j := openTest(t, m)
	m.Fail(OpNext, FromErrno("", -5))

	_, err := j.Next()
	if !errors.Is(err, ErrIO) {
		t.Fatalf("Next err = %v, want ErrIO", err)
	}
	var je *Error
	if !errors.As(err, &je) || je.Op != "next" {
		t.Fatalf("error op = %+v", je)
	}

	m.Fail(OpNext, nil)
	if _, err := j.Next(); err != nil {
		t.Fatalf("Next after clearing failure: %v", err)
	}
}

func TestRefreshReportsAppends(t *testing.T) {
	m := newTestMemory()
	j := openTest(t, m)

	c, err := j.Refresh()
	if err != nil || c != ChangeNone {
		t.Fatalf("Refresh = %v, %v", c, err)
	}
	m.AppendEntry(model.Entry{Hostname: "web-server", Unit: "nginx.service", TimestampUTC: 500, Message: "new"})
	c, err = j.Refresh()
	if err != nil || c != ChangeAppend {
		t.Fatalf("Refresh after append = %v, %v", c, err)
	}
}

type countingStore struct {
	Store
	onClose func()
}

func (s *countingStore) Close() error {
	s.onClose()
	return s.Store.Close()
}
