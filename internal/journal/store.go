package journal

import (
	"path/filepath"
	"strings"

	"github.com/tinytelemetry/journald-query/internal/model"
)

// Store is the capability set a journal backend exposes. A Store has a
// single cursor and is not safe for concurrent use; Journal wraps it and
// enforces the ownership and positioning rules.
//
// Raw values returned by GetData and EnumerateUnique carry the "FIELD="
// prefix. Errors should be *Error or carry an errno the wrapper can classify.
type Store interface {
	AddMatch(match string) error
	FlushMatches()
	SeekHead() error
	SeekRealtimeUsec(usec uint64) error
	// Next advances the cursor and reports whether an entry is available.
	Next() (bool, error)
	// GetData returns the raw "FIELD=value" bytes for field. ok is false when
	// the current entry has no such field.
	GetData(field string) (data []byte, ok bool, err error)
	GetRealtimeUsec() (uint64, error)
	// QueryUnique prepares enumeration of every distinct value of field in the
	// whole store. Active matches are ignored.
	QueryUnique(field string) error
	EnumerateUnique() (data []byte, ok bool, err error)
	RestartUnique()
	Close() error
}

// Change reports what a Refresher noticed since the previous call.
type Change int

const (
	ChangeNone Change = iota
	ChangeAppend
	ChangeInvalidate
)

func (c Change) String() string {
	switch c {
	case ChangeAppend:
		return "append"
	case ChangeInvalidate:
		return "invalidate"
	default:
		return "none"
	}
}

// Refresher is implemented by stores that must be told to pick up entries
// written after they were opened. Process never blocks.
type Refresher interface {
	Process() (Change, error)
}

// Opener opens a Store for a location.
type Opener interface {
	Open(loc model.Location) (Store, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(loc model.Location) (Store, error)

func (f OpenerFunc) Open(loc model.Location) (Store, error) { return f(loc) }

// DefaultOpener routes journalctl JSON exports (.json, .jsonl, optionally
// zstd-compressed) to the export loader and everything else, including
// directories, to the native journal.
var DefaultOpener Opener = OpenerFunc(openDefault)

func openDefault(loc model.Location) (Store, error) {
	if len(loc.Files) > 0 && allExports(loc.Files) {
		return OpenExport(loc.Files...)
	}
	if len(loc.Files) > 0 {
		return openNativeFiles(loc.Files)
	}
	if loc.Directory == "" {
		return nil, &Error{Op: "open", Kind: KindInvalidArgument, Err: errEmptyLocation}
	}
	return openNativeDir(loc.Directory)
}

// IsExportFile reports whether path names a journalctl JSON export.
func IsExportFile(path string) bool {
	name := strings.TrimSuffix(strings.ToLower(filepath.Base(path)), ".zst")
	ext := filepath.Ext(name)
	return ext == ".json" || ext == ".jsonl"
}

func allExports(files []string) bool {
	for _, f := range files {
		if !IsExportFile(f) {
			return false
		}
	}
	return true
}
