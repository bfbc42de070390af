//go:build linux && cgo

package journal

import (
	"errors"
	"syscall"

	"github.com/coreos/go-systemd/v22/sdjournal"
)

// native adapts an sd_journal handle from libsystemd.
type native struct {
	j *sdjournal.Journal

	unique    []string
	uniqueIdx int
	querying  bool
}

func openNativeDir(dir string) (Store, error) {
	j, err := sdjournal.NewJournalFromDir(dir)
	if err != nil {
		return nil, wrapError("open directory", err)
	}
	return &native{j: j}, nil
}

func openNativeFiles(files []string) (Store, error) {
	j, err := sdjournal.NewJournalFromFiles(files...)
	if err != nil {
		return nil, wrapError("open files", err)
	}
	return &native{j: j}, nil
}

func (n *native) AddMatch(match string) error { return n.j.AddMatch(match) }

func (n *native) FlushMatches() { n.j.FlushMatches() }

func (n *native) SeekHead() error { return n.j.SeekHead() }

func (n *native) SeekRealtimeUsec(usec uint64) error { return n.j.SeekRealtimeUsec(usec) }

func (n *native) Next() (bool, error) {
	c, err := n.j.Next()
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func (n *native) GetData(field string) ([]byte, bool, error) {
	data, err := n.j.GetDataBytes(field)
	if err != nil {
		if code, ok := errnoOf(err); ok && code == syscall.ENOENT {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (n *native) GetRealtimeUsec() (uint64, error) { return n.j.GetRealtimeUsec() }

// QueryUnique reads the distinct values eagerly. The binding strips the
// field prefix, so it is put back to keep the Store contract uniform.
func (n *native) QueryUnique(field string) error {
	values, err := n.j.GetUniqueValues(field)
	if err != nil {
		n.querying = false
		return err
	}
	n.unique = n.unique[:0]
	for _, v := range values {
		n.unique = append(n.unique, MatchString(field, v))
	}
	n.uniqueIdx = 0
	n.querying = true
	return nil
}

func (n *native) EnumerateUnique() ([]byte, bool, error) {
	if !n.querying {
		return nil, false, syscall.EINVAL
	}
	if n.uniqueIdx >= len(n.unique) {
		return nil, false, nil
	}
	v := n.unique[n.uniqueIdx]
	n.uniqueIdx++
	return []byte(v), true, nil
}

func (n *native) RestartUnique() { n.uniqueIdx = 0 }

// Process polls for journal changes with a zero timeout so it never blocks.
func (n *native) Process() (Change, error) {
	switch r := n.j.Wait(0); {
	case r == sdjournal.SD_JOURNAL_APPEND:
		return ChangeAppend, nil
	case r == sdjournal.SD_JOURNAL_INVALIDATE:
		return ChangeInvalidate, nil
	case r < 0:
		return ChangeNone, FromErrno("process", r)
	default:
		return ChangeNone, nil
	}
}

func (n *native) Close() error {
	if n.j == nil {
		return errors.New("already closed")
	}
	err := n.j.Close()
	n.j = nil
	return err
}
