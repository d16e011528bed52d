// Package errkind implements the error taxonomy used throughout gitcore,
// grounded on the sentinel-error style of go-git's plumbing packages
// (ErrInvalidIdxFile, ErrObjectNotFound, ErrInvalidDelta, ...) but collected
// into a single tagged kind so the privsep RPC layer can carry it across a
// process boundary and have the parent reconstruct an equivalent error.
package errkind

import (
	"fmt"
	"syscall"
)

// Kind classifies an error the way spec.md §7 enumerates them.
type Kind int

const (
	// I/O and OS.
	Errno Kind = iota
	IO
	Timeout
	NoSpace

	// Structural.
	BadPackIndex
	BadPackFile
	PackOffset
	PackIndexChecksum
	BadDeltaChain
	ObjType
	BadObjData
	BadObjID
	BadObjIDStr
	Recursion
	FileIndexSignature
	FileIndexVersion
	FileIndexChecksum
	DirDupEntry

	// Domain / not-found.
	NoObj
	ObjExists
	AmbiguousObjID
	IterNeedMore

	// RPC.
	PrivsepPipe
	PrivsepRead
	PrivsepMsg
	PrivsepLen
	PrivsepNoFd
	PrivsepDied
	PrivsepExit
	Interrupt
)

var names = map[Kind]string{
	Errno:               "errno",
	IO:                  "io",
	Timeout:             "timeout",
	NoSpace:             "no-space",
	BadPackIndex:        "bad-packidx",
	BadPackFile:         "bad-packfile",
	PackOffset:          "pack-offset",
	PackIndexChecksum:   "packidx-csum",
	BadDeltaChain:       "bad-delta-chain",
	ObjType:             "obj-type",
	BadObjData:          "bad-obj-data",
	BadObjID:            "bad-obj-id",
	BadObjIDStr:         "bad-obj-id-str",
	Recursion:           "recursion",
	FileIndexSignature:  "fileidx-sig",
	FileIndexVersion:    "fileidx-ver",
	FileIndexChecksum:   "fileidx-csum",
	DirDupEntry:         "dir-dup-entry",
	NoObj:               "no-obj",
	ObjExists:           "obj-exists",
	AmbiguousObjID:      "ambiguous-obj-id",
	IterNeedMore:        "iter-need-more",
	PrivsepPipe:         "privsep-pipe",
	PrivsepRead:         "privsep-read",
	PrivsepMsg:          "privsep-msg",
	PrivsepLen:          "privsep-len",
	PrivsepNoFd:         "privsep-no-fd",
	PrivsepDied:         "privsep-died",
	PrivsepExit:         "privsep-exit",
	Interrupt:           "interrupt",
}

func (k Kind) String() string {
	if s, ok := names[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the concrete error type carried across package boundaries and,
// for RPC replies, across the privsep wire.
type Error struct {
	Kind  Kind
	Errno syscall.Errno // only meaningful when Kind == Errno
	Err   error          // wrapped cause, if any
}

func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Err: fmt.Errorf(format, args...)}
}

func Wrap(k Kind, err error) *Error {
	return &Error{Kind: k, Err: err}
}

func FromErrno(errno syscall.Errno) *Error {
	return &Error{Kind: Errno, Errno: errno, Err: errno}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is a *Error of kind k.
func Is(err error, k Kind) bool {
	ce, ok := err.(*Error)
	return ok && ce.Kind == k
}
