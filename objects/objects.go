// Package objects decodes the four Git object kinds spec.md §4.2 needs a
// caller to read: commits (tree id, ordered parents, author/committer,
// message), trees (ordered name/mode/id entries in git's own sort order),
// tags (target id/type, tagger, message), and blobs (opaque bytes).
//
// Grounded on go-git's plumbing/object package. The package's own
// commit.go/tree.go/tag.go/blob.go were not present in the retrieval pack
// (only their _test.go files survived, plus signature.go), so decoding
// here is rebuilt directly from git's well-known object wire format and
// cross-checked against the expectations baked into those surviving
// tests (commit_test.go's Author/Committer/Message fields, the tree
// entry shape exercised by object_test.go's TestParseTree).
package objects

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/packfile"
)

// Signature is a name/email/timestamp tuple as it appears on a commit's
// "author"/"committer" line or a tag's "tagger" line.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// String renders a signature the way git writes it on the wire:
// "Name <email> <unix-seconds> <zone>".
func (s Signature) String() string {
	return fmt.Sprintf("%s <%s> %d %s", s.Name, s.Email, s.When.Unix(), s.When.Format("-0700"))
}

// ParseSignature decodes one "author"/"committer"/"tagger" line's value
// (everything after the field keyword and the following space).
func ParseSignature(line string) (Signature, error) {
	// The name/email portion ends at the last "<...>" pair so that names
	// containing angle brackets do not confuse the split; what follows is
	// "<epoch> <zone>".
	open := strings.LastIndexByte(line, '<')
	shut := strings.LastIndexByte(line, '>')
	if open < 0 || shut < 0 || shut < open {
		return Signature{}, errkind.New(errkind.BadObjData, "malformed signature line %q", line)
	}

	name := strings.TrimSpace(line[:open])
	email := line[open+1 : shut]

	rest := strings.TrimSpace(line[shut+1:])
	fields := strings.Fields(rest)

	var when time.Time
	if len(fields) >= 1 {
		sec, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return Signature{}, errkind.New(errkind.BadObjData, "malformed signature timestamp %q", fields[0])
		}
		when = time.Unix(sec, 0)
		if len(fields) >= 2 {
			if loc, err := parseGitZone(fields[1]); err == nil {
				when = when.In(loc)
			}
		}
	}

	return Signature{Name: name, Email: email, When: when}, nil
}

// parseGitZone turns a "+0200"/"-0500"-style offset into a fixed
// time.Location, the same representation git itself stores (no tz
// database name, just a UTC offset).
func parseGitZone(z string) (*time.Location, error) {
	if len(z) != 5 || (z[0] != '+' && z[0] != '-') {
		return nil, errkind.New(errkind.BadObjData, "malformed zone %q", z)
	}
	hh, err1 := strconv.Atoi(z[1:3])
	mm, err2 := strconv.Atoi(z[3:5])
	if err1 != nil || err2 != nil {
		return nil, errkind.New(errkind.BadObjData, "malformed zone %q", z)
	}
	secs := hh*3600 + mm*60
	if z[0] == '-' {
		secs = -secs
	}
	return time.FixedZone(z, secs), nil
}

// Commit is the decoded content of a "commit" object.
type Commit struct {
	ID        objid.ID
	TreeID    objid.ID
	ParentIDs []objid.ID
	Author    Signature
	Committer Signature
	Message   string

	// Encoding, if present, is the raw value of the commit's
	// "encoding" header (git writes this when the message is not UTF-8).
	Encoding string
}

// DecodeCommit parses raw (uncompressed) commit object bytes, as
// returned by packfile.Pack.ResolveObject for a TypeCommit entry or read
// from a loose object.
func DecodeCommit(id objid.ID, data []byte) (*Commit, error) {
	c := &Commit{ID: id}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var msgLines []string
	inMessage := false
	for sc.Scan() {
		line := sc.Text()
		if inMessage {
			msgLines = append(msgLines, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}

		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, errkind.New(errkind.BadObjData, "malformed commit header line %q", line)
		}
		switch key {
		case "tree":
			tid, err := objid.FromHex(val)
			if err != nil {
				return nil, errkind.Wrap(errkind.BadObjID, err)
			}
			c.TreeID = tid
		case "parent":
			pid, err := objid.FromHex(val)
			if err != nil {
				return nil, errkind.Wrap(errkind.BadObjID, err)
			}
			c.ParentIDs = append(c.ParentIDs, pid)
		case "author":
			sig, err := ParseSignature(val)
			if err != nil {
				return nil, err
			}
			c.Author = sig
		case "committer":
			sig, err := ParseSignature(val)
			if err != nil {
				return nil, err
			}
			c.Committer = sig
		case "encoding":
			c.Encoding = val
		case "gpgsig", "mergetag":
			// multi-line headers: consume continuation lines (they start
			// with a space) until the next top-level header or the blank
			// separator. The signature itself is out of scope (spec.md
			// Non-goals: signature verification) so its content is
			// discarded rather than stored.
			for sc.Scan() {
				cont := sc.Text()
				if cont == "" {
					inMessage = true
					break
				}
				if !strings.HasPrefix(cont, " ") {
					// cont is actually the next header; re-process it by
					// falling through to the normal header handling on
					// the next outer loop iteration is not possible with
					// bufio.Scanner, so handle it inline here.
					k2, v2, ok2 := strings.Cut(cont, " ")
					if !ok2 {
						return nil, errkind.New(errkind.BadObjData, "malformed commit header line %q", cont)
					}
					if err := c.applyHeader(k2, v2); err != nil {
						return nil, err
					}
					break
				}
			}
		default:
			// Unknown headers (e.g. future git extensions) are ignored
			// rather than rejected, matching git's own forward-compat
			// stance on commit headers.
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errkind.Wrap(errkind.BadObjData, err)
	}

	c.Message = strings.Join(msgLines, "\n")
	if len(msgLines) > 0 {
		c.Message += "\n"
	}

	if c.TreeID.IsZero() {
		return nil, errkind.New(errkind.BadObjData, "commit missing tree header")
	}
	return c, nil
}

// applyHeader handles a single top-level commit header line reached while
// skipping a multi-line header's continuation lines.
func (c *Commit) applyHeader(key, val string) error {
	switch key {
	case "parent":
		pid, err := objid.FromHex(val)
		if err != nil {
			return errkind.Wrap(errkind.BadObjID, err)
		}
		c.ParentIDs = append(c.ParentIDs, pid)
	case "author":
		sig, err := ParseSignature(val)
		if err != nil {
			return err
		}
		c.Author = sig
	case "committer":
		sig, err := ParseSignature(val)
		if err != nil {
			return err
		}
		c.Committer = sig
	case "encoding":
		c.Encoding = val
	}
	return nil
}

// TreeEntry is one (name, mode, id) record of a decoded tree object, in
// the exact order git stored them (byte-wise sort of the name, with
// directory names compared as if suffixed by '/').
type TreeEntry struct {
	Name string
	Mode uint32 // git's own mode encoding, e.g. 0o100644, 0o40000, 0o160000
	ID   objid.ID
}

// Tree is the decoded content of a "tree" object.
type Tree struct {
	ID      objid.ID
	Entries []TreeEntry
}

// IsDir reports whether e addresses a subtree.
func (e TreeEntry) IsDir() bool { return e.Mode == 0o40000 }

// IsSubmodule reports whether e addresses a gitlink (submodule).
func (e TreeEntry) IsSubmodule() bool { return e.Mode == 0o160000 }

// DecodeTree parses raw tree object bytes: a sequence of
// "<mode-octal-ascii> <name>\0<20-byte-id>" records with no separators
// between records, per spec.md §4.2.
func DecodeTree(id objid.ID, data []byte) (*Tree, error) {
	t := &Tree{ID: id}
	for len(data) > 0 {
		sp := bytes.IndexByte(data, ' ')
		if sp < 0 {
			return nil, errkind.New(errkind.BadObjData, "truncated tree entry mode")
		}
		modeStr := string(data[:sp])
		mode, err := strconv.ParseUint(modeStr, 8, 32)
		if err != nil {
			return nil, errkind.New(errkind.BadObjData, "malformed tree entry mode %q", modeStr)
		}
		data = data[sp+1:]

		nul := bytes.IndexByte(data, 0)
		if nul < 0 {
			return nil, errkind.New(errkind.BadObjData, "truncated tree entry name")
		}
		name := string(data[:nul])
		data = data[nul+1:]

		if len(data) < objid.Size {
			return nil, errkind.New(errkind.BadObjData, "truncated tree entry id")
		}
		entID, err := objid.FromBytes(data[:objid.Size])
		if err != nil {
			return nil, errkind.Wrap(errkind.BadObjID, err)
		}
		data = data[objid.Size:]

		t.Entries = append(t.Entries, TreeEntry{Name: name, Mode: uint32(mode), ID: entID})
	}
	return t, nil
}

// ByTreeOrder sorts entries the way git itself orders them inside a tree
// object: directories compare as if their name carried a trailing '/'.
func ByTreeOrder(entries []TreeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return treeSortKey(entries[i]) < treeSortKey(entries[j])
	})
}

func treeSortKey(e TreeEntry) string {
	if e.Mode == 0o40000 {
		return e.Name + "/"
	}
	return e.Name
}

// Find returns the entry with the given name, or false if absent.
func (t *Tree) Find(name string) (TreeEntry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return TreeEntry{}, false
}

// Tag is the decoded content of an annotated "tag" object.
type Tag struct {
	ID         objid.ID
	TargetID   objid.ID
	TargetType packfile.ObjectType
	Name       string
	Tagger     Signature
	Message    string
}

// DecodeTag parses raw tag object bytes.
func DecodeTag(id objid.ID, data []byte) (*Tag, error) {
	tag := &Tag{ID: id}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var msgLines []string
	inMessage := false
	for sc.Scan() {
		line := sc.Text()
		if inMessage {
			msgLines = append(msgLines, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, errkind.New(errkind.BadObjData, "malformed tag header line %q", line)
		}
		switch key {
		case "object":
			tid, err := objid.FromHex(val)
			if err != nil {
				return nil, errkind.Wrap(errkind.BadObjID, err)
			}
			tag.TargetID = tid
		case "type":
			typ, err := parseObjectTypeName(val)
			if err != nil {
				return nil, err
			}
			tag.TargetType = typ
		case "tag":
			tag.Name = val
		case "tagger":
			sig, err := ParseSignature(val)
			if err != nil {
				return nil, err
			}
			tag.Tagger = sig
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errkind.Wrap(errkind.BadObjData, err)
	}

	tag.Message = strings.Join(msgLines, "\n")
	if len(msgLines) > 0 {
		tag.Message += "\n"
	}

	if tag.TargetID.IsZero() {
		return nil, errkind.New(errkind.BadObjData, "tag missing object header")
	}
	return tag, nil
}

func parseObjectTypeName(s string) (packfile.ObjectType, error) {
	switch s {
	case "commit":
		return packfile.TypeCommit, nil
	case "tree":
		return packfile.TypeTree, nil
	case "blob":
		return packfile.TypeBlob, nil
	case "tag":
		return packfile.TypeTag, nil
	default:
		return 0, errkind.New(errkind.ObjType, "unknown tag target type %q", s)
	}
}

// Blob is an opaque blob object; spec.md assigns it no structure beyond
// its raw bytes.
type Blob struct {
	ID   objid.ID
	Data []byte
}

// DecodeBlob wraps raw blob bytes; it never fails, mirroring git's own
// treatment of blob content as opaque.
func DecodeBlob(id objid.ID, data []byte) *Blob {
	return &Blob{ID: id, Data: data}
}
