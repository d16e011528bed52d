package fileindex

import (
	"fmt"
	"io/fs"

	"github.com/repocore/gitcore/objects"
	"github.com/repocore/gitcore/objid"
)

// StatusCode is a single-character porcelain status code, matching
// git's own status --short letters.
type StatusCode int8

const (
	Unmodified StatusCode = iota
	Untracked
	Modified
	Added
	Deleted
)

func (c StatusCode) String() string {
	switch c {
	case Unmodified:
		return " "
	case Modified:
		return "M"
	case Added:
		return "A"
	case Deleted:
		return "D"
	case Untracked:
		return "?"
	default:
		return "-"
	}
}

// FileStatus is one path's combined staging (index-vs-HEAD) and
// worktree (disk-vs-index) status, the two columns git status --short
// prints side by side.
type FileStatus struct {
	Staging  StatusCode
	Worktree StatusCode
}

// Status maps path to its FileStatus, populated by BuildStatus.
type Status map[string]*FileStatus

func (s Status) entry(path string) *FileStatus {
	fst, ok := s[path]
	if !ok {
		fst = &FileStatus{}
		s[path] = fst
	}
	return fst
}

// IsClean reports whether every path is Unmodified on both columns.
func (s Status) IsClean() bool {
	for _, fst := range s {
		if fst.Staging != Unmodified || fst.Worktree != Unmodified {
			return false
		}
	}
	return true
}

// String renders s the way git status --short does: one "XY path" line
// per non-clean path. Order follows Go's map iteration, so callers
// that need stable output should sort their own copy of the paths.
func (s Status) String() string {
	out := ""
	for path, fst := range s {
		if fst.Staging == Unmodified && fst.Worktree == Unmodified {
			continue
		}
		out += fmt.Sprintf("%s%s %s\n", fst.Staging, fst.Worktree, path)
	}
	return out
}

// BuildStatus computes a working-tree status report by running idx's
// two diff engines in sequence: DiffTree compares each index entry's
// blob id (and its own merge-stage bits, via stagingCodeFor)
// against rootTreeID to fill the Staging column, then DiffDir compares
// the live directory at path against the index to fill the Worktree
// column. A path touched by only one of the two diffs ends up with
// just that column set, matching how a mixed add/delete looks in
// git's own status output.
func BuildStatus(idx *Index, r TreeReader, rootTreeID objid.ID, fsys DirReader, path string) (Status, error) {
	st := make(Status)

	err := idx.DiffTree(r, rootTreeID, path, TreeDiffCallbacks{
		DiffOldNew: func(e *Entry, te objects.TreeEntry) error {
			if code := stagingCodeFor(e); code != Unmodified {
				st.entry(e.Path).Staging = code
			} else if e.HasBlob() && e.BlobID != te.ID {
				st.entry(e.Path).Staging = Modified
			}
			return nil
		},
		DiffOld: func(e *Entry) error {
			st.entry(e.Path).Staging = Added
			return nil
		},
		DiffNew: func(p string, te objects.TreeEntry) error {
			st.entry(p).Staging = Deleted
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	err = idx.DiffDir(fsys, path, DirDiffCallbacks{
		DiffOldNew: func(e *Entry, info fs.FileInfo) error {
			if !e.HasFileOnDisk() {
				st.entry(e.Path).Worktree = Deleted
				return nil
			}
			if entryModeFor(info) != e.Mode || uint32(info.Size()) != e.Size {
				st.entry(e.Path).Worktree = Modified
			}
			return nil
		},
		DiffOld: func(e *Entry) error {
			st.entry(e.Path).Worktree = Deleted
			return nil
		},
		DiffNew: func(p string, info fs.FileInfo) error {
			st.entry(p).Worktree = Untracked
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	return st, nil
}

func stagingCodeFor(e *Entry) StatusCode {
	switch e.Stage() {
	case StageAdd:
		return Added
	case StageDelete:
		return Deleted
	case StageModify:
		return Modified
	default:
		return Unmodified
	}
}

// entryModeFor packs a stat result into the same (type bits | perm
// bits) layout Entry.Mode uses, mirroring the packing Entry.Update in
// stat.go does.
func entryModeFor(info fs.FileInfo) uint16 {
	typ := modeTypeRegular
	if info.Mode()&fs.ModeSymlink != 0 {
		typ = modeTypeSymlink
	}
	return typ<<modeTypeShift | uint16(info.Mode().Perm())
}
