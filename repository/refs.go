package repository

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
)

// maxSymbolicDepth bounds how many "ref: <other>" hops Resolve follows
// before giving up, the same recursion-limit discipline packfile's delta
// chains and commitgraph's parent walk use elsewhere in this module.
const maxSymbolicDepth = 5

// Reference is a resolved pointer to an object id, optionally reached
// through one or more symbolic indirections (e.g. HEAD -> refs/heads/main).
type Reference struct {
	Name   string
	Target objid.ID
}

// Resolve looks up name - one of WellKnownRefs or an arbitrary path such
// as "refs/heads/main" - following symbolic refs to their final object
// id, per spec.md §4.7's "exposes references by well-known name ... and
// by arbitrary path".
func (repo *Repository) Resolve(name string) (*Reference, error) {
	target, err := repo.resolveRef(name, 0)
	if err != nil {
		return nil, err
	}
	return &Reference{Name: name, Target: target}, nil
}

func (repo *Repository) resolveRef(name string, depth int) (objid.ID, error) {
	if depth > maxSymbolicDepth {
		return objid.Zero, errkind.New(errkind.Recursion, "symbolic ref chain too deep resolving %q", name)
	}

	line, err := repo.readRefFile(name)
	if err != nil {
		if errkind.Is(err, errkind.NoObj) {
			if id, ok, perr := repo.lookupPackedRef(name); perr != nil {
				return objid.Zero, perr
			} else if ok {
				return id, nil
			}
		}
		return objid.Zero, err
	}

	if target, ok := strings.CutPrefix(line, "ref: "); ok {
		return repo.resolveRef(strings.TrimSpace(target), depth+1)
	}

	id, err := objid.FromHex(line)
	if err != nil {
		return objid.Zero, errkind.New(errkind.BadObjIDStr, "ref %q: malformed id %q", name, line)
	}
	return id, nil
}

// readRefFile reads name's loose ref file directly under the gitdir
// (HEAD, ORIG_HEAD, refs/heads/main, ...), returning its one trimmed
// line of content.
func (repo *Repository) readRefFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(repo.fs.Root(), filepath.FromSlash(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", errkind.New(errkind.NoObj, "no ref %q", name)
		}
		return "", errkind.Wrap(errkind.IO, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// lookupPackedRef consults the gitdir's packed-refs file, which git
// writes as "<40-hex-id> <refname>" lines (plus occasional "^<id>"
// peeled-tag lines and a leading "#" comment, both skipped here since
// this façade never dereferences annotated tags through packed-refs).
func (repo *Repository) lookupPackedRef(name string) (objid.ID, bool, error) {
	f, err := os.Open(filepath.Join(repo.fs.Root(), "packed-refs"))
	if err != nil {
		if os.IsNotExist(err) {
			return objid.Zero, false, nil
		}
		return objid.Zero, false, errkind.Wrap(errkind.IO, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' || line[0] == '^' {
			continue
		}
		idHex, refName, ok := strings.Cut(line, " ")
		if !ok || refName != name {
			continue
		}
		id, err := objid.FromHex(idHex)
		if err != nil {
			return objid.Zero, false, errkind.New(errkind.BadObjIDStr, "packed-refs: malformed id %q", idHex)
		}
		return id, true, nil
	}
	if err := sc.Err(); err != nil {
		return objid.Zero, false, errkind.Wrap(errkind.IO, err)
	}
	return objid.Zero, false, nil
}
