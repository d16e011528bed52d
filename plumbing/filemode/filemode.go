// Package filemode defines the handful of file modes Git stores in a tree
// entry: regular, executable, symlink, directory and submodule (gitlink),
// plus the decoding between those and Go's os.FileMode.
//
// Grounded on go-git's plumbing/filemode package, reconstructed here from
// filemode_test.go (the package's .go source was not present in the
// retrieval pack, only its test file survived) and cross-checked against
// git's own tree-entry mode values (git fast-import's documented 100644,
// 100755, 120000, 40000, 160000).
package filemode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// FileMode is the Unix-style mode Git stores for one tree entry, encoded
// as git itself encodes it rather than as a POSIX permission bit field:
// the constants below are the only values git writes into a tree object.
type FileMode uint32

const (
	Empty      = FileMode(0)
	Dir        = FileMode(0o40000)
	Regular    = FileMode(0o100644)
	Deprecated = FileMode(0o100664)
	Executable = FileMode(0o100755)
	Symlink    = FileMode(0o120000)
	Submodule  = FileMode(0o160000)
)

// New parses a tree-entry mode from its ASCII octal representation, as it
// appears both on the wire (tree object entries) and in the output of
// porcelain commands like "git diff-tree".
func New(s string) (FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return Empty, fmt.Errorf("malformed mode %q: %w", s, err)
	}
	return FileMode(n), nil
}

// NewFromOSFileMode translates a Go os.FileMode into the nearest git file
// mode. Bits with no git equivalent (devices, sockets, named pipes,
// temporary files) yield Empty and a descriptive error.
func NewFromOSFileMode(m os.FileMode) (FileMode, error) {
	if m&os.ModeSocket != 0 {
		return Empty, errors.New("no equivalent file mode for sockets")
	}
	if m&os.ModeNamedPipe != 0 {
		return Empty, errors.New("no equivalent file mode for named pipes")
	}
	if m&os.ModeDevice != 0 {
		return Empty, errors.New("no equivalent file mode for devices")
	}
	if m&os.ModeCharDevice != 0 {
		return Empty, errors.New("no equivalent file mode for char devices")
	}
	if m&os.ModeTemporary != 0 {
		return Empty, errors.New("no equivalent file mode for temporary files")
	}

	if m&os.ModeSymlink != 0 {
		return Symlink, nil
	}
	if m&os.ModeDir != 0 {
		return Dir, nil
	}

	if isExecutable(m) {
		return Executable, nil
	}
	return Regular, nil
}

// isExecutable reports whether any of the owner/group/other execute bits
// of the permission portion of m are set.
func isExecutable(m os.FileMode) bool {
	return m&0o111 != 0
}

// Bytes returns the little-endian 4-byte encoding used when a mode is
// stored in a fixed-size binary record (spec.md's file index).
func (m FileMode) Bytes() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(m))
	return b
}

// String renders m as a 7-digit zero-padded octal string, matching git's
// own tree-entry and ls-tree output.
func (m FileMode) String() string {
	return fmt.Sprintf("%07o", uint32(m))
}

// IsMalformed reports whether m is not one of the modes git ever actually
// writes to a tree object.
func (m FileMode) IsMalformed() bool {
	switch m {
	case Dir, Regular, Deprecated, Executable, Symlink, Submodule:
		return false
	default:
		return true
	}
}

// IsRegular reports whether m addresses a plain (non-executable) file.
func (m FileMode) IsRegular() bool {
	return m == Regular || m == Deprecated
}

// IsFile reports whether m addresses something with blob content: a
// regular file, executable, or symlink, as opposed to a directory,
// submodule, or the zero mode.
func (m FileMode) IsFile() bool {
	switch m {
	case Regular, Deprecated, Executable, Symlink:
		return true
	default:
		return false
	}
}

// ToOSFileMode translates m to the nearest os.FileMode. Malformed modes
// return an error since there is no meaningful translation.
func (m FileMode) ToOSFileMode() (os.FileMode, error) {
	switch m {
	case Dir:
		return os.ModePerm | os.ModeDir, nil
	case Submodule:
		return os.ModePerm | os.ModeDir, nil
	case Regular, Deprecated:
		return os.FileMode(0o644), nil
	case Executable:
		return os.FileMode(0o755), nil
	case Symlink:
		return os.ModePerm | os.ModeSymlink, nil
	default:
		return os.FileMode(0), fmt.Errorf("malformed mode %s has no equivalent os.FileMode", m)
	}
}
