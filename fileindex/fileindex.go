// Package fileindex implements the on-disk and in-memory file index
// spec.md §4.4 describes: an ordered container of path-keyed entries
// tracking what is checked out in a worktree, persisted with a rolling
// SHA-1 trailer, and diffable against either a tree object or an
// on-disk directory by co-iteration.
//
// Grounded on original_source/lib/fileindex.c (entry layout, flag bit
// packing, add/remove/update/mark-deleted-from-disk mutations, the
// diff_fileindex_tree/diff_fileindex_dir co-iteration algorithms) and
// on go-git's plumbing/format/index (teacher's on-disk index package:
// decoder/encoder shape, path-based Entry, worktree_status.go's
// fillSystemInfo/Lstat/filemode.NewFromOSFileMode pattern for turning a
// stat result into an entry).
package fileindex

import (
	"sort"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
)

// Stage is the merge stage recorded against a path, distinct from the
// untracked/tracked distinction: a path can be staged for add, modify,
// or delete ahead of a commit.
type Stage uint8

const (
	StageNone Stage = iota
	StageAdd
	StageDelete
	StageModify
)

const (
	flagPathLenMask  uint32 = 0x00000fff
	flagStageMask    uint32 = 0x0000f000
	flagStageShift          = 12
	flagNotFlushed   uint32 = 1 << 16
	flagNoBlob       uint32 = 1 << 17
	flagNoCommit     uint32 = 1 << 18
	flagNoFileOnDisk uint32 = 1 << 19
)

// MaxPathLen is the largest path length the flags field can record; the
// path string itself is never truncated, only this cached length is.
const MaxPathLen = int(flagPathLenMask)

// MaxEntries bounds the container the way spec.md's "no-space" cap
// requires, mirroring original_source's use of INT_MAX.
const MaxEntries = 1<<31 - 1

// maxEntries is what Add actually consults; it defaults to MaxEntries
// and exists as a variable solely so tests can shrink it rather than
// allocating a MaxEntries-sized slice to exercise the cap.
var maxEntries = MaxEntries

const (
	modeTypeShift          = 12
	modePermMask    uint16 = 0x0fff
	modeTypeRegular uint16 = 0x1
	modeTypeSymlink uint16 = 0x2
)

// Entry is one file index record: a single stage of a single path.
type Entry struct {
	Path string

	CtimeSec, CtimeNsec uint64
	MtimeSec, MtimeNsec uint64
	UID, GID            uint32
	Size                uint32
	Mode                uint16
	BlobID              objid.ID
	CommitID            objid.ID
	Flags               uint32
	StagedBlobID        objid.ID
}

func pathFlagLen(path string) uint32 {
	if len(path) > MaxPathLen {
		return uint32(MaxPathLen)
	}
	return uint32(len(path))
}

// NewEntry allocates an entry for path with no blob, commit, or
// on-disk stat information recorded yet.
func NewEntry(path string) *Entry {
	return &Entry{
		Path:  path,
		Flags: pathFlagLen(path) | flagNoBlob | flagNoCommit | flagNoFileOnDisk,
	}
}

// Stage returns the merge stage recorded in flags bits 12..15.
func (e *Entry) Stage() Stage {
	return Stage((e.Flags & flagStageMask) >> flagStageShift)
}

// SetStage updates the merge stage recorded in flags bits 12..15.
func (e *Entry) SetStage(s Stage) {
	e.Flags = (e.Flags &^ flagStageMask) | ((uint32(s) << flagStageShift) & flagStageMask)
}

// HasBlob reports whether BlobID is meaningful.
func (e *Entry) HasBlob() bool { return e.Flags&flagNoBlob == 0 }

// HasCommit reports whether CommitID is meaningful.
func (e *Entry) HasCommit() bool { return e.Flags&flagNoCommit == 0 }

// HasFileOnDisk reports whether the entry's path currently exists on
// disk, last time it was checked.
func (e *Entry) HasFileOnDisk() bool { return e.Flags&flagNoFileOnDisk == 0 }

// NotFlushed reports whether this entry has not yet been written to disk
// by Index.FlushToDisk since it was added; later mutations do not set
// it again.
func (e *Entry) NotFlushed() bool { return e.Flags&flagNotFlushed != 0 }

// IsSymlink reports whether Mode's file-type bits mark a symlink.
func (e *Entry) IsSymlink() bool { return e.Mode>>modeTypeShift == uint16(modeTypeSymlink) }

// Perms returns the low 12 bits of Mode: S_IRWXU|S_IRWXG|S_IRWXO.
func (e *Entry) Perms() uint16 { return e.Mode & modePermMask }

// MarkDeletedFromDisk sets the absent-on-disk flag without touching
// any other field; the entry remains otherwise intact so it can be
// restored by a later Update.
func (e *Entry) MarkDeletedFromDisk() {
	e.Flags |= flagNoFileOnDisk
}

// pathCmp implements the tree order spec.md §3's Glossary entry
// describes (byte-lex with directories treated as trailing '/'). For
// two full paths (as opposed to single name segments) this reduces to
// plain lexicographic comparison: every directory component of a full
// path is already followed by a literal '/', so a byte-wise compare of
// full paths reproduces the same order as comparing names with a
// synthetic trailing slash on directories.
func pathCmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "/" + name
}

// isChild reports whether path is prefix itself or lies underneath it,
// mirroring original_source's got_path_is_child: an empty prefix makes
// every path a child (used at the root of a diff).
func isChild(path, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(path) < len(prefix) || path[:len(prefix)] != prefix {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Index is the ordered, path-keyed container of entries. It is backed
// by a sorted slice rather than the balanced tree original_source
// uses: the diff co-iteration and for-each-entry-safe forms both need
// an explicit, restartable "current position" cursor that tolerates
// the current entry being removed out from under it, which is simpler
// to reason about over an index into a slice kept sorted by pathCmp
// than over a tree node pointer that might be freed mid-walk.
type Index struct {
	entries []*Entry
}

// New creates an empty Index.
func New() *Index {
	return &Index{}
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

func (idx *Index) search(path string) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Path >= path
	})
}

// Get returns the entry at path, if any.
func (idx *Index) Get(path string) (*Entry, bool) {
	i := idx.search(path)
	if i < len(idx.entries) && idx.entries[i].Path == path {
		return idx.entries[i], true
	}
	return nil, false
}

// Add inserts e, which must not already be present by path, marking
// it not-flushed. It fails with a no-space error once MaxEntries would
// be exceeded.
func (idx *Index) Add(e *Entry) error {
	if len(idx.entries) >= maxEntries {
		return errkind.New(errkind.NoSpace, "file index is full")
	}
	i := idx.search(e.Path)
	if i < len(idx.entries) && idx.entries[i].Path == e.Path {
		return errkind.New(errkind.ObjExists, "entry already present: %s", e.Path)
	}
	e.Flags |= flagNotFlushed
	idx.entries = append(idx.entries, nil)
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
	return nil
}

// Remove detaches the entry at path, if present, and returns it.
func (idx *Index) Remove(path string) (*Entry, bool) {
	i := idx.search(path)
	if i >= len(idx.entries) || idx.entries[i].Path != path {
		return nil, false
	}
	e := idx.entries[i]
	idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
	return e, true
}

// FlushToDisk clears the not-flushed flag on every entry, as if the
// whole index had just been written out.
func (idx *Index) FlushToDisk() {
	for _, e := range idx.entries {
		e.Flags &^= flagNotFlushed
	}
}

// ForEachEntrySafe calls cb for every entry in path order. cb may
// remove the entry it was just given via Index.Remove without
// disrupting the walk: the next entry to visit is always looked up
// fresh by path after cb returns. A non-nil error from cb ends the
// walk and is returned.
func (idx *Index) ForEachEntrySafe(cb func(e *Entry) error) error {
	var last string
	haveLast := false
	for {
		var i int
		if !haveLast {
			i = 0
		} else {
			i = idx.search(last)
			for i < len(idx.entries) && idx.entries[i].Path == last {
				i++
			}
		}
		if i >= len(idx.entries) {
			return nil
		}
		e := idx.entries[i]
		last, haveLast = e.Path, true
		if err := cb(e); err != nil {
			return err
		}
	}
}

// Entries returns the entries in path order. The returned slice must
// not be mutated; use Add/Remove to change membership.
func (idx *Index) Entries() []*Entry {
	return idx.entries
}
