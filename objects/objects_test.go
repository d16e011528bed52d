package objects

import (
	"testing"
	"time"

	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/packfile"
)

func mustID(t *testing.T, hex string) objid.ID {
	t.Helper()
	id, err := objid.FromHex(hex)
	if err != nil {
		t.Fatalf("FromHex(%q): %v", hex, err)
	}
	return id
}

func TestDecodeCommit(t *testing.T) {
	tree := mustID(t, "c2d30fa8ef288618f65f6eed6e168e0d514886f4")
	parent1 := mustID(t, "b029517f6300c2da0f4b651b8642506cd6aaf45d")
	parent2 := mustID(t, "b8e471f58bcbca63b07bda20e428190409c2db47")

	raw := "tree " + tree.String() + "\n" +
		"parent " + parent1.String() + "\n" +
		"parent " + parent2.String() + "\n" +
		"author Máximo Cuadros <mcuadros@gmail.com> 1427802434 +0200\n" +
		"committer Máximo Cuadros <mcuadros@gmail.com> 1427802434 +0200\n" +
		"\n" +
		"Merge pull request #1 from dripolles/feature\n\nCreating changelog\n"

	id := mustID(t, "a5b8b09e2f8fcb0bb99d3ccb0958157b40890d69")
	c, err := DecodeCommit(id, []byte(raw))
	if err != nil {
		t.Fatalf("DecodeCommit: %v", err)
	}

	if c.TreeID != tree {
		t.Fatalf("TreeID = %v, want %v", c.TreeID, tree)
	}
	if len(c.ParentIDs) != 2 || c.ParentIDs[0] != parent1 || c.ParentIDs[1] != parent2 {
		t.Fatalf("ParentIDs = %v", c.ParentIDs)
	}
	if c.Author.Email != "mcuadros@gmail.com" || c.Author.Name != "Máximo Cuadros" {
		t.Fatalf("Author = %+v", c.Author)
	}
	if c.Author.When.Format(time.RFC3339) != "2015-03-31T13:47:14+02:00" {
		t.Fatalf("Author.When = %v", c.Author.When.Format(time.RFC3339))
	}
	if c.Message != "Merge pull request #1 from dripolles/feature\n\nCreating changelog\n" {
		t.Fatalf("Message = %q", c.Message)
	}
}

func TestDecodeCommitMissingTree(t *testing.T) {
	raw := "author a <a@b.c> 1 +0000\ncommitter a <a@b.c> 1 +0000\n\nmsg\n"
	if _, err := DecodeCommit(objid.Zero, []byte(raw)); err == nil {
		t.Fatalf("expected bad-obj-data error for missing tree header")
	}
}

func TestDecodeCommitSkipsGPGSignature(t *testing.T) {
	tree := mustID(t, "c2d30fa8ef288618f65f6eed6e168e0d514886f4")
	raw := "tree " + tree.String() + "\n" +
		"author a <a@b.c> 1 +0000\n" +
		"gpgsig -----BEGIN PGP SIGNATURE-----\n" +
		" iQIzBAAB some base64 continuation\n" +
		" more continuation\n" +
		" -----END PGP SIGNATURE-----\n" +
		"committer a <a@b.c> 1 +0000\n" +
		"\n" +
		"signed commit\n"

	c, err := DecodeCommit(objid.Zero, []byte(raw))
	if err != nil {
		t.Fatalf("DecodeCommit: %v", err)
	}
	if c.Committer.Email != "a@b.c" {
		t.Fatalf("committer header after gpgsig was not parsed: %+v", c.Committer)
	}
	if c.Message != "signed commit\n" {
		t.Fatalf("Message = %q", c.Message)
	}
}

func TestDecodeTreeAndOrdering(t *testing.T) {
	blobID := mustID(t, "32858aad3c383ed1ff0a0f9bdf231d54a00c9e88")
	dirID := mustID(t, "0000000000000000000000000000000000000001")

	var raw []byte
	raw = append(raw, []byte("100644 .gitignore\x00")...)
	raw = append(raw, blobID[:]...)
	raw = append(raw, []byte("40000 go\x00")...)
	raw = append(raw, dirID[:]...)

	id := mustID(t, "a8d315b2b1c615d43042c3a62402b8a54288cf5c")
	tree, err := DecodeTree(id, raw)
	if err != nil {
		t.Fatalf("DecodeTree: %v", err)
	}
	if len(tree.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, want 2", len(tree.Entries))
	}
	e, ok := tree.Find(".gitignore")
	if !ok || e.Mode != 0o100644 || e.ID != blobID {
		t.Fatalf(".gitignore entry = %+v, ok=%v", e, ok)
	}
	dir, ok := tree.Find("go")
	if !ok || !dir.IsDir() {
		t.Fatalf("go entry = %+v, ok=%v", dir, ok)
	}

	// "go-lang" sorts before the directory "go" under git's tree ordering:
	// the directory compares as "go/", and '-' (0x2d) sorts before '/'
	// (0x2f).
	entries := []TreeEntry{
		{Name: "go-lang", Mode: 0o100644},
		{Name: "go", Mode: 0o40000},
	}
	ByTreeOrder(entries)
	if entries[0].Name != "go-lang" || entries[1].Name != "go" {
		t.Fatalf("ByTreeOrder = %v", entries)
	}
}

func TestDecodeTag(t *testing.T) {
	target := mustID(t, "a5b8b09e2f8fcb0bb99d3ccb0958157b40890d69")
	raw := "object " + target.String() + "\n" +
		"type commit\n" +
		"tag v1.0.0\n" +
		"tagger a <a@b.c> 1427802434 +0200\n" +
		"\n" +
		"release\n"

	tag, err := DecodeTag(objid.Zero, []byte(raw))
	if err != nil {
		t.Fatalf("DecodeTag: %v", err)
	}
	if tag.TargetID != target || tag.TargetType != packfile.TypeCommit {
		t.Fatalf("TargetID/TargetType = %v/%v", tag.TargetID, tag.TargetType)
	}
	if tag.Name != "v1.0.0" || tag.Message != "release\n" {
		t.Fatalf("Name/Message = %q/%q", tag.Name, tag.Message)
	}
}

func TestDecodeBlob(t *testing.T) {
	b := DecodeBlob(objid.Zero, []byte("hello\n"))
	if string(b.Data) != "hello\n" {
		t.Fatalf("Data = %q", b.Data)
	}
}
