package fileindex

import (
	"errors"
	"io/fs"
	"sort"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objects"
	"github.com/repocore/gitcore/objid"
)

// TreeReader is the minimal capability DiffTree needs to resolve a
// subtree by id while walking down into directories.
type TreeReader interface {
	GetTree(id objid.ID) (*objects.Tree, error)
}

// TreeDiffCallbacks receives the three ways an index entry and a tree
// entry can relate at a given path, mirroring original_source's
// diff_fileindex_tree three-way branch. Any nil field is simply
// skipped. A non-nil error return aborts the walk.
type TreeDiffCallbacks struct {
	// DiffOldNew is invoked when path exists on both sides.
	DiffOldNew func(e *Entry, te objects.TreeEntry) error
	// DiffOld is invoked when path exists only in the index.
	DiffOld func(e *Entry) error
	// DiffNew is invoked when a non-directory path exists only in the
	// tree. A tree-only directory is not reported itself; the files
	// under it are.
	DiffNew func(path string, te objects.TreeEntry) error
}

// DiffTree co-iterates idx's entries under path against the tree
// reachable from rootTreeID, invoking cb for every index entry and
// every non-directory tree entry found under path, recursing into matching or
// tree-only subdirectories. It is grounded on
// original_source/lib/fileindex.c's got_fileindex_diff_tree entry
// point plus its diff_fileindex_tree/walk_tree recursive helpers.
func (idx *Index) DiffTree(r TreeReader, rootTreeID objid.ID, path string, cb TreeDiffCallbacks) error {
	tree, err := r.GetTree(rootTreeID)
	if err != nil {
		return err
	}
	i := idx.firstChildIndex(path)
	_, err = idx.walkTree(r, i, path, tree, cb)
	return err
}

// firstChildIndex returns the index of the first entry that is a
// child of path (path=="" matches everything, so this returns 0).
func (idx *Index) firstChildIndex(path string) int {
	if path == "" {
		return 0
	}
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Path >= path
	})
	if i < len(idx.entries) && idx.entries[i].Path == path {
		return i
	}
	// Skip siblings such as "path-x" or "path.txt", which sort between
	// path and path+"/".
	return sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Path >= path+"/"
	})
}

// walkTree co-iterates idx.entries starting at cursor i (restricted to
// children of path) against tree's sorted entries (each qualified by
// path to form a full path), recursing into subdirectories exactly
// where original_source's walk_tree does: on an exact path match and
// on a tree-only entry, but never on an index-only entry.
//
// A tree entry's bare joined path is compared as if directories carry
// a trailing '/', the same convention objects.ByTreeOrder applies when
// sorting a tree's own entries: an index path is always a full file
// path ("foo/bar"), never a bare directory path ("foo"), so comparing
// it against a directory's bare tePath with a plain byte compare would
// misorder a directory against a sibling whose name starts with a byte
// less than '/' (e.g. "foo.txt" against "foo/"). Without the synthetic
// slash, "foo" < "foo.txt" by plain compare but tree.Entries (sorted by
// ByTreeOrder) places "foo.txt" first, since '.' < '/' — the compare
// key here must agree with that order.
func (idx *Index) walkTree(r TreeReader, i int, path string, tree *objects.Tree, cb TreeDiffCallbacks) (int, error) {
	entries := tree.Entries // already in tree order per objects.ByTreeOrder
	j := 0
	for i < len(idx.entries) && isChild(idx.entries[i].Path, path) || j < len(entries) {
		var ePath string
		haveEntry := i < len(idx.entries) && isChild(idx.entries[i].Path, path)
		if haveEntry {
			ePath = idx.entries[i].Path
		}
		var tePath, teCmpPath string
		haveTreeEntry := j < len(entries)
		if haveTreeEntry {
			tePath = joinPath(path, entries[j].Name)
			teCmpPath = tePath
			if entries[j].IsDir() {
				teCmpPath += "/"
			}
		}

		switch {
		case haveEntry && haveTreeEntry:
			c := pathCmp(ePath, teCmpPath)
			switch {
			case c == 0:
				te := entries[j]
				if !te.IsSubmodule() && cb.DiffOldNew != nil {
					if err := cb.DiffOldNew(idx.entries[i], te); err != nil {
						return i, err
					}
				}
				i++
				if te.IsDir() {
					sub, err := r.GetTree(te.ID)
					if err != nil {
						return i, err
					}
					var err2 error
					i, err2 = idx.walkTree(r, i, tePath, sub, cb)
					if err2 != nil {
						return i, err2
					}
				}
				j++
			case c < 0:
				if cb.DiffOld != nil {
					if err := cb.DiffOld(idx.entries[i]); err != nil {
						return i, err
					}
				}
				i++
			default:
				te := entries[j]
				var err2 error
				i, err2 = idx.diffNewTree(r, i, tePath, te, cb)
				if err2 != nil {
					return i, err2
				}
				j++
			}
		case haveEntry:
			if cb.DiffOld != nil {
				if err := cb.DiffOld(idx.entries[i]); err != nil {
					return i, err
				}
			}
			i++
		case haveTreeEntry:
			te := entries[j]
			var err2 error
			i, err2 = idx.diffNewTree(r, i, tePath, te, cb)
			if err2 != nil {
				return i, err2
			}
			j++
		default:
			return i, nil
		}
	}
	return i, nil
}

// diffNewTree handles a tree-only entry at tePath (cursor i is the
// current index position, unaffected since nothing in the index
// matched tePath itself), reporting it through DiffNew unless it is a
// directory or submodule, and, if it is a directory, recurses with the
// same cursor: an index entry further along the sorted sequence may
// still be a child of tePath even though the entry at the current
// cursor sorted after tePath, so the cursor must keep threading
// through rather than being treated as exhausted.
func (idx *Index) diffNewTree(r TreeReader, i int, tePath string, te objects.TreeEntry, cb TreeDiffCallbacks) (int, error) {
	if !te.IsSubmodule() && !te.IsDir() && cb.DiffNew != nil {
		if err := cb.DiffNew(tePath, te); err != nil {
			return i, err
		}
	}
	if te.IsDir() {
		sub, err := r.GetTree(te.ID)
		if err != nil {
			return i, err
		}
		return idx.walkTree(r, i, tePath, sub, cb)
	}
	return i, nil
}

// DirDiffCallbacks receives the three ways an index entry and a
// directory entry can relate at a given path, mirroring
// diff_fileindex_dir's three-way branch.
type DirDiffCallbacks struct {
	DiffOldNew func(e *Entry, info fs.FileInfo) error
	DiffOld    func(e *Entry) error
	DiffNew    func(path string, info fs.FileInfo) error
}

// DirReader is the minimal capability DiffDir needs: a billy-style
// ReadDir that returns an unsorted listing which DiffDir sorts itself.
type DirReader interface {
	ReadDir(path string) ([]fs.FileInfo, error)
}

// metaDirName is excluded from directory listings the way
// read_dirlist excludes the tool's own on-disk metadata directory at
// the root of a worktree.
const metaDirName = ".got"

// DiffDir co-iterates idx's entries under path against the live
// directory at path on disk, invoking cb for every index entry and
// every directory entry found, recursing into matching or disk-only
// subdirectories. Grounded on got_fileindex_diff_dir/walk_dir/
// read_dirlist.
func (idx *Index) DiffDir(fsys DirReader, path string, cb DirDiffCallbacks) error {
	i := idx.firstChildIndex(path)
	listing, err := readDirList(fsys, path, path == "")
	if err != nil {
		return err
	}
	_, err = idx.walkDir(fsys, i, path, listing, cb)
	return err
}

type dirEnt struct {
	name string
	info fs.FileInfo
}

// readDirList lists dir, sorted in tree order (a directory's name
// compared as if it ended in '/'), excluding "." and ".." (which
// fs.FileInfo listings from ReadDir never include to begin with, but
// the exclusion is kept explicit to mirror read_dirlist) and, at the
// worktree root only, the tool's own metadata directory. Duplicate
// names are rejected: a sane filesystem can't produce them, but a
// faulty or adversarial one might, and read_dirlist checks for it via
// got_pathlist_insert.
func readDirList(fsys DirReader, dir string, atRoot bool) ([]dirEnt, error) {
	infos, err := fsys.ReadDir(dir)
	if err != nil {
		if isPermissionErr(err) {
			return nil, nil
		}
		return nil, err
	}
	ents := make([]dirEnt, 0, len(infos))
	seen := map[string]bool{}
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		if atRoot && name == metaDirName {
			continue
		}
		if seen[name] {
			return nil, errkind.New(errkind.DirDupEntry, "duplicate directory entry %q in %s", name, dir)
		}
		seen[name] = true
		ents = append(ents, dirEnt{name: name, info: info})
	}
	key := func(d dirEnt) string {
		if d.info.IsDir() {
			return d.name + "/"
		}
		return d.name
	}
	sort.Slice(ents, func(i, j int) bool { return key(ents[i]) < key(ents[j]) })
	return ents, nil
}

func isPermissionErr(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

func (idx *Index) walkDir(fsys DirReader, i int, path string, listing []dirEnt, cb DirDiffCallbacks) (int, error) {
	j := 0
	for i < len(idx.entries) && isChild(idx.entries[i].Path, path) || j < len(listing) {
		var ePath string
		haveEntry := i < len(idx.entries) && isChild(idx.entries[i].Path, path)
		if haveEntry {
			ePath = idx.entries[i].Path
		}
		var dPath, dCmpPath string
		haveDirEntry := j < len(listing)
		if haveDirEntry {
			dPath = joinPath(path, listing[j].name)
			dCmpPath = dPath
			if listing[j].info.IsDir() {
				dCmpPath += "/"
			}
		}

		switch {
		case haveEntry && haveDirEntry:
			c := pathCmp(ePath, dCmpPath)
			switch {
			case c == 0:
				ent := listing[j]
				if cb.DiffOldNew != nil {
					if err := cb.DiffOldNew(idx.entries[i], ent.info); err != nil {
						return i, err
					}
				}
				i++
				if ent.info.IsDir() {
					sub, err := readDirList(fsys, dPath, false)
					if err != nil {
						return i, err
					}
					var err2 error
					i, err2 = idx.walkDir(fsys, i, dPath, sub, cb)
					if err2 != nil {
						return i, err2
					}
				}
				j++
			case c < 0:
				if cb.DiffOld != nil {
					if err := cb.DiffOld(idx.entries[i]); err != nil {
						return i, err
					}
				}
				i++
			default:
				var err2 error
				i, err2 = idx.diffNewDir(fsys, i, dPath, listing[j], cb)
				if err2 != nil {
					return i, err2
				}
				j++
			}
		case haveEntry:
			if cb.DiffOld != nil {
				if err := cb.DiffOld(idx.entries[i]); err != nil {
					return i, err
				}
			}
			i++
		case haveDirEntry:
			var err2 error
			i, err2 = idx.diffNewDir(fsys, i, dPath, listing[j], cb)
			if err2 != nil {
				return i, err2
			}
			j++
		default:
			return i, nil
		}
	}
	return i, nil
}

// diffNewDir is walkDir's counterpart to diffNewTree: see its doc
// comment for why the cursor threads through unchanged rather than
// being treated as exhausted.
func (idx *Index) diffNewDir(fsys DirReader, i int, dPath string, ent dirEnt, cb DirDiffCallbacks) (int, error) {
	if cb.DiffNew != nil {
		if err := cb.DiffNew(dPath, ent.info); err != nil {
			return i, err
		}
	}
	if ent.info.IsDir() {
		sub, err := readDirList(fsys, dPath, false)
		if err != nil {
			return i, err
		}
		return idx.walkDir(fsys, i, dPath, sub, cb)
	}
	return i, nil
}
