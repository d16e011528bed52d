package fileindex

import (
	"io/fs"
	"os"

	billy "github.com/go-git/go-billy/v5"

	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/plumbing/filemode"
)

// fillStatInfo is assigned per OS (stat_linux.go, stat_bsd.go, ...) the
// way the teacher's worktree_bsd.go/worktree_js.go assign
// fillSystemInfo: it extracts the fields os.FileInfo.Sys() carries
// that os.FileInfo itself does not expose (ctime, uid, gid). Left nil
// on platforms without a variant, in which case Update leaves those
// fields at their previous value.
var fillStatInfo func(e *Entry, sys any)

// Update re-stats e's path on fsys and refreshes the on-disk-derived
// fields: modification time, mode, size, and (via fillStatInfo) the
// platform-specific ctime/uid/gid. It mirrors
// original_source/lib/fileindex.c's got_fileindex_entry_update and the
// teacher's doUpdateFileToIndex: ENOENT clears the on-disk flag rather
// than failing, since "file no longer exists" is an ordinary diff
// outcome, not an error.
func (e *Entry) Update(fsys billy.Filesystem, blobID, commitID *objid.ID) error {
	info, err := fsys.Lstat(e.Path)
	if err != nil {
		if os.IsNotExist(err) {
			e.MarkDeletedFromDisk()
			return nil
		}
		return err
	}

	mode, err := filemode.NewFromOSFileMode(info.Mode())
	if err != nil {
		return err
	}

	e.MtimeSec = uint64(info.ModTime().Unix())
	e.MtimeNsec = uint64(info.ModTime().Nanosecond())
	e.Flags &^= flagNoFileOnDisk

	var packed uint16
	if info.Mode()&fs.ModeSymlink != 0 {
		packed = modeTypeSymlink << modeTypeShift
	} else {
		packed = modeTypeRegular << modeTypeShift
	}
	packed |= uint16(info.Mode().Perm()) & modePermMask
	e.Mode = packed

	if mode.IsRegular() {
		e.Size = uint32(info.Size())
	}

	if fillStatInfo != nil {
		fillStatInfo(e, info.Sys())
	}

	if blobID != nil {
		e.BlobID = *blobID
		e.Flags &^= flagNoBlob
	}
	if commitID != nil {
		e.CommitID = *commitID
		e.Flags &^= flagNoCommit
	}
	return nil
}
