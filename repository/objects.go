package repository

import (
	"bufio"
	"compress/zlib"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/idxfile"
	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/packfile"
)

// openPacks enumerates objects/pack/*.idx and opens each one alongside
// its companion .pack file, per spec.md §4.7's "enumerates pack indexes
// under objects/pack/". Pack identifiers are the basename shared by both
// files (pack-<sha>), matching git's own naming convention.
func (repo *Repository) openPacks() error {
	dir := filepath.Join(repo.fs.Root(), "objects", "pack")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errkind.Wrap(errkind.IO, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".idx") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		id := strings.TrimSuffix(name, ".idx")
		if err := repo.openPack(dir, id); err != nil {
			return err
		}
	}
	return nil
}

func (repo *Repository) openPack(dir, id string) error {
	idxFile, err := os.Open(filepath.Join(dir, id+".idx"))
	if err != nil {
		return errkind.Wrap(errkind.IO, err)
	}
	idx, err := idxfile.Parse(idxFile)
	if err != nil {
		idxFile.Close()
		return err
	}

	packFile, err := os.Open(filepath.Join(dir, id+".pack"))
	if err != nil {
		idxFile.Close()
		return errkind.Wrap(errkind.IO, err)
	}
	ra, unmap, err := packfile.OpenFileReaderAt(packFile)
	if err != nil {
		idxFile.Close()
		packFile.Close()
		return errkind.Wrap(errkind.IO, err)
	}
	pack, err := packfile.Open(ra, idx, id, repo.cache)
	if err != nil {
		unmap()
		idxFile.Close()
		packFile.Close()
		return err
	}

	repo.packs = append(repo.packs, &openPack{id: id, idx: idx, obj: pack, idxFile: idxFile, packFile: packFile, unmapPack: unmap})
	return nil
}

// ResolveObject returns the (type, bytes) of id, consulting every open
// pack and then loose storage, per spec.md §4.7's object-id resolution.
func (repo *Repository) ResolveObject(id objid.ID) (packfile.ObjectType, []byte, error) {
	for _, p := range repo.packs {
		if p.idx.Contains(id) {
			return p.obj.ResolveObject(id)
		}
	}
	return repo.readLooseObject(id)
}

// looseObjectPath is objects/<xx>/<38 hex>, per spec.md §4.7.
func (repo *Repository) looseObjectPath(id objid.ID) string {
	hex := id.String()
	return filepath.Join(repo.fs.Root(), "objects", hex[:2], hex[2:])
}

func (repo *Repository) readLooseObject(id objid.ID) (packfile.ObjectType, []byte, error) {
	f, err := os.Open(repo.looseObjectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, errkind.New(errkind.NoObj, "object %s not found", id)
		}
		return 0, nil, errkind.Wrap(errkind.IO, err)
	}
	defer f.Close()

	zr, err := zlib.NewReader(f)
	if err != nil {
		return 0, nil, errkind.Wrap(errkind.BadObjData, err)
	}
	defer zr.Close()

	br := bufio.NewReader(zr)
	header, err := br.ReadString(0)
	if err != nil {
		return 0, nil, errkind.New(errkind.BadObjData, "loose object %s: malformed header", id)
	}
	header = strings.TrimSuffix(header, "\x00")
	typeName, sizeStr, ok := strings.Cut(header, " ")
	if !ok {
		return 0, nil, errkind.New(errkind.BadObjData, "loose object %s: malformed header %q", id, header)
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		return 0, nil, errkind.New(errkind.BadObjData, "loose object %s: bad size %q", id, sizeStr)
	}

	typ, err := parseLooseType(typeName)
	if err != nil {
		return 0, nil, err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(br, data); err != nil {
		return 0, nil, errkind.Wrap(errkind.BadObjData, err)
	}
	return typ, data, nil
}

func parseLooseType(name string) (packfile.ObjectType, error) {
	switch name {
	case "commit":
		return packfile.TypeCommit, nil
	case "tree":
		return packfile.TypeTree, nil
	case "blob":
		return packfile.TypeBlob, nil
	case "tag":
		return packfile.TypeTag, nil
	default:
		return 0, errkind.New(errkind.ObjType, "unknown loose object type %q", name)
	}
}

// ResolvePrefix resolves a hex id prefix (at least 2 characters, per
// idxfile.ResolvePrefix) to the single object id it names, consulting
// every open pack's index and every loose object directory bucket.
// Ambiguous or unknown prefixes report AmbiguousObjID/NoObj respectively.
func (repo *Repository) ResolvePrefix(prefix string) (objid.ID, error) {
	if len(prefix) == objid.Size*2 {
		if id, err := objid.FromHex(prefix); err == nil {
			return id, nil
		}
	}

	found := make(map[objid.ID]struct{})
	for _, p := range repo.packs {
		ids, err := p.idx.ResolvePrefix(prefix)
		if err != nil {
			return objid.Zero, err
		}
		for _, id := range ids {
			found[id] = struct{}{}
		}
	}
	looseIDs, err := repo.resolveLoosePrefix(prefix)
	if err != nil {
		return objid.Zero, err
	}
	for _, id := range looseIDs {
		found[id] = struct{}{}
	}

	switch len(found) {
	case 0:
		return objid.Zero, errkind.New(errkind.NoObj, "no object matches prefix %q", prefix)
	case 1:
		for id := range found {
			return id, nil
		}
	}
	return objid.Zero, errkind.New(errkind.AmbiguousObjID, "prefix %q matches %d objects", prefix, len(found))
}

// resolveLoosePrefix scans objects/<xx>/ for file names whose bucket
// prefix matches, the loose-storage counterpart of idxfile's fanout scan
// (objects/<xx>/<38 hex>, per spec.md §4.7).
func (repo *Repository) resolveLoosePrefix(prefix string) ([]objid.ID, error) {
	if len(prefix) < 2 {
		return nil, errkind.New(errkind.BadObjIDStr, "hex prefix must be at least 2 characters")
	}
	bucket := prefix[:2]
	entries, err := os.ReadDir(filepath.Join(repo.fs.Root(), "objects", bucket))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errkind.Wrap(errkind.IO, err)
	}

	rest := prefix[2:]
	var matches []objid.ID
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), rest) {
			continue
		}
		id, err := objid.FromHex(bucket + e.Name())
		if err != nil {
			continue
		}
		matches = append(matches, id)
	}
	return matches, nil
}
