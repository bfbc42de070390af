package journal

import (
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/tinytelemetry/journald-query/internal/model"
)

// Operation names accepted by Memory.Fail.
const (
	OpAddMatch    = "add match"
	OpSeek        = "seek"
	OpNext        = "next"
	OpGetData     = "get data"
	OpQueryUnique = "query unique"
)

type memEntry struct {
	usec   uint64
	seq    uint64
	fields map[string]string
}

// Memory is an in-process journal. Entries are kept in timestamp order and
// may be appended while cursors are reading. Each cursor opened from a
// Memory is an independent Store.
type Memory struct {
	mu      sync.RWMutex
	entries []memEntry
	seq     uint64
	fail    map[string]error
}

func NewMemory() *Memory {
	return &Memory{fail: make(map[string]error)}
}

// Append adds an entry with the given realtime timestamp and fields.
func (m *Memory) Append(usec uint64, fields map[string]string) {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e := memEntry{usec: usec, seq: m.seq, fields: cp}
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].usec > usec })
	m.entries = append(m.entries, memEntry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
}

// AppendEntry adds e. Empty Hostname or Unit leave those fields absent.
func (m *Memory) AppendEntry(e model.Entry) {
	fields := map[string]string{model.FieldMessage: e.Message}
	if e.Hostname != "" {
		fields[model.FieldHostname] = e.Hostname
	}
	if e.Unit != "" {
		fields[model.FieldUnit] = e.Unit
	}
	m.Append(e.TimestampUTC, fields)
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Fail makes every later call of op on any cursor return err. A nil err
// clears the failure.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

func (m *Memory) failure(op string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fail[op]
}

// Open returns a new cursor over m.
func (m *Memory) Open() Store {
	m.mu.RLock()
	seen := m.seq
	m.mu.RUnlock()
	return &memCursor{mem: m, matches: make(map[string][]string), pos: memPos{inclusive: true}, seen: seen}
}

// Opener returns an Opener that ignores the location and opens a cursor
// over m.
func (m *Memory) Opener() Opener {
	return OpenerFunc(func(model.Location) (Store, error) { return m.Open(), nil })
}

type memPos struct {
	usec      uint64
	seq       uint64
	inclusive bool
}

func (p memPos) before(e memEntry) bool {
	if e.usec != p.usec {
		return e.usec > p.usec
	}
	if p.inclusive {
		return e.seq >= p.seq
	}
	return e.seq > p.seq
}

type memCursor struct {
	mem     *Memory
	matches map[string][]string
	pos     memPos
	current *memEntry
	seen    uint64

	unique    []string
	uniqueIdx int
	querying  bool
	closed    bool
}

func (c *memCursor) AddMatch(match string) error {
	if err := c.mem.failure(OpAddMatch); err != nil {
		return err
	}
	field, value, ok := strings.Cut(match, "=")
	if !ok || field == "" {
		return syscall.EINVAL
	}
	c.matches[field] = append(c.matches[field], value)
	return nil
}

func (c *memCursor) FlushMatches() {
	c.matches = make(map[string][]string)
}

func (c *memCursor) SeekHead() error {
	return c.SeekRealtimeUsec(0)
}

func (c *memCursor) SeekRealtimeUsec(usec uint64) error {
	if err := c.mem.failure(OpSeek); err != nil {
		return err
	}
	c.pos = memPos{usec: usec, inclusive: true}
	c.current = nil
	return nil
}

func (c *memCursor) matchesEntry(e memEntry) bool {
	for field, values := range c.matches {
		v, ok := e.fields[field]
		if !ok {
			return false
		}
		hit := false
		for _, want := range values {
			if v == want {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func (c *memCursor) Next() (bool, error) {
	if err := c.mem.failure(OpNext); err != nil {
		return false, err
	}
	c.mem.mu.RLock()
	defer c.mem.mu.RUnlock()

	entries := c.mem.entries
	i := sort.Search(len(entries), func(i int) bool { return c.pos.before(entries[i]) })
	for ; i < len(entries); i++ {
		if !c.matchesEntry(entries[i]) {
			continue
		}
		e := entries[i]
		c.current = &e
		c.pos = memPos{usec: e.usec, seq: e.seq}
		return true, nil
	}
	c.current = nil
	return false, nil
}

func (c *memCursor) GetData(field string) ([]byte, bool, error) {
	if err := c.mem.failure(OpGetData); err != nil {
		return nil, false, err
	}
	if c.current == nil {
		return nil, false, syscall.EADDRNOTAVAIL
	}
	v, ok := c.current.fields[field]
	if !ok {
		return nil, false, nil
	}
	return []byte(MatchString(field, v)), true, nil
}

func (c *memCursor) GetRealtimeUsec() (uint64, error) {
	if c.current == nil {
		return 0, syscall.EADDRNOTAVAIL
	}
	return c.current.usec, nil
}

func (c *memCursor) QueryUnique(field string) error {
	if err := c.mem.failure(OpQueryUnique); err != nil {
		return err
	}
	c.mem.mu.RLock()
	defer c.mem.mu.RUnlock()

	seen := make(map[string]struct{})
	c.unique = c.unique[:0]
	for _, e := range c.mem.entries {
		v, ok := e.fields[field]
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		c.unique = append(c.unique, MatchString(field, v))
	}
	c.uniqueIdx = 0
	c.querying = true
	return nil
}

func (c *memCursor) EnumerateUnique() ([]byte, bool, error) {
	if !c.querying {
		return nil, false, syscall.EINVAL
	}
	if c.uniqueIdx >= len(c.unique) {
		return nil, false, nil
	}
	v := c.unique[c.uniqueIdx]
	c.uniqueIdx++
	return []byte(v), true, nil
}

func (c *memCursor) RestartUnique() {
	c.uniqueIdx = 0
}

// Process reports ChangeAppend when entries were added since the last call.
func (c *memCursor) Process() (Change, error) {
	c.mem.mu.RLock()
	defer c.mem.mu.RUnlock()
	if c.mem.seq == c.seen {
		return ChangeNone, nil
	}
	c.seen = c.mem.seq
	return ChangeAppend, nil
}

func (c *memCursor) Close() error {
	c.closed = true
	c.current = nil
	c.unique = nil
	return nil
}
