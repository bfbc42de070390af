package journal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// Kind classifies a journal error independent of the backend that raised it.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidArgument
	KindConcurrentUse
	KindNotPositioned
	KindNotFound
	KindOutOfMemory
	KindBufferTooSmall
	KindDataTooLarge
	KindUnsupported
	KindCorrupt
	KindIO
	KindClosed
)

var kindText = map[Kind]string{
	KindUnknown:         "unknown error",
	KindInvalidArgument: "invalid argument provided",
	KindConcurrentUse:   "journal handle used from multiple goroutines",
	KindNotPositioned:   "cursor not positioned at an entry",
	KindNotFound:        "not found",
	KindOutOfMemory:     "out of memory",
	KindBufferTooSmall:  "buffer too small",
	KindDataTooLarge:    "data too large",
	KindUnsupported:     "operation not supported",
	KindCorrupt:         "journal data is corrupt",
	KindIO:              "input/output error",
	KindClosed:          "journal handle is closed",
}

func (k Kind) String() string {
	if s, ok := kindText[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Error is returned by every journal operation that fails.
type Error struct {
	Op   string // operation, e.g. "add match"
	Kind Kind
	Code int // errno reported by the store; 0 when not applicable
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("journal: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind == KindUnknown && e.Code != 0 {
		fmt.Fprintf(&b, "unknown error code: %d", e.Code)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so the Err* sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

var (
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}
	ErrConcurrentUse   = &Error{Kind: KindConcurrentUse}
	ErrNotPositioned   = &Error{Kind: KindNotPositioned}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrOutOfMemory     = &Error{Kind: KindOutOfMemory}
	ErrBufferTooSmall  = &Error{Kind: KindBufferTooSmall}
	ErrDataTooLarge    = &Error{Kind: KindDataTooLarge}
	ErrUnsupported     = &Error{Kind: KindUnsupported}
	ErrCorrupt         = &Error{Kind: KindCorrupt}
	ErrIO              = &Error{Kind: KindIO}
	ErrClosed          = &Error{Kind: KindClosed}
)

// KindOf returns the Kind of err, or KindUnknown if err is not a journal error.
func KindOf(err error) Kind {
	var je *Error
	if errors.As(err, &je) {
		return je.Kind
	}
	return KindUnknown
}

var errnoKinds = map[syscall.Errno]Kind{
	syscall.EINVAL:          KindInvalidArgument,
	syscall.ECHILD:          KindConcurrentUse,
	syscall.EADDRNOTAVAIL:   KindNotPositioned,
	syscall.ENOENT:          KindNotFound,
	syscall.ENOMEM:          KindOutOfMemory,
	syscall.ENOBUFS:         KindBufferTooSmall,
	syscall.E2BIG:           KindDataTooLarge,
	syscall.EPROTONOSUPPORT: KindUnsupported,
	syscall.EBADMSG:         KindCorrupt,
	syscall.EIO:             KindIO,
}

// FromErrno translates a store status code into an *Error. Both the negative
// return convention of sd_journal calls and plain positive errno values are
// accepted.
func FromErrno(op string, code int) *Error {
	if code < 0 {
		code = -code
	}
	kind, ok := errnoKinds[syscall.Errno(code)]
	if !ok {
		kind = KindUnknown
	}
	return &Error{Op: op, Kind: kind, Code: code}
}

// wrapError converts an error returned by a backend into an *Error. Errors
// already classified keep their kind; errno values are translated; anything
// else is recovered from the errno text the binding embeds in its message.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var je *Error
	if errors.As(err, &je) {
		if je.Op == "" {
			cp := *je
			cp.Op = op
			return &cp
		}
		return je
	}
	if code, ok := errnoOf(err); ok {
		e := FromErrno(op, int(code))
		e.Err = err
		return e
	}
	return &Error{Op: op, Kind: KindUnknown, Err: err}
}

func errnoOf(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	msg := err.Error()
	for code := range errnoKinds {
		if strings.HasSuffix(msg, code.Error()) {
			return code, true
		}
	}
	if i := strings.LastIndexAny(msg, " :-"); i >= 0 {
		if n, perr := strconv.Atoi(msg[i+1:]); perr == nil && n != 0 {
			if n < 0 {
				n = -n
			}
			return syscall.Errno(n), true
		}
	}
	return 0, false
}
