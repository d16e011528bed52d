package repository

import (
	"bytes"
	"compress/zlib"
	"os"
	"path/filepath"
	"testing"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/packfile"
)

func writeLooseObject(t *testing.T, gitDir string, typ string, data []byte) objid.ID {
	t.Helper()

	header := []byte(typ + " " + itoa(len(data)) + "\x00")
	store := append(append([]byte{}, header...), data...)
	sum := sha1Sum(store)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(store); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	dir := filepath.Join(gitDir, "objects", sum[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sum[2:]), buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write loose object: %v", err)
	}

	id, err := objid.FromHex(sum)
	if err != nil {
		t.Fatalf("FromHex(%q): %v", sum, err)
	}
	return id
}

func TestDiscoverWorktreeGitDir(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	mustMkdirAll(t, gitDir, "objects", "refs")

	found, bare, err := discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if found != gitDir {
		t.Fatalf("gitDir = %q, want %q", found, gitDir)
	}
	if bare {
		t.Fatal("expected non-bare")
	}
}

func TestDiscoverWalksUpFromSubdirectory(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	mustMkdirAll(t, gitDir, "objects", "refs")

	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	found, _, err := discover(sub)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if found != gitDir {
		t.Fatalf("gitDir = %q, want %q", found, gitDir)
	}
}

func TestDiscoverBareRepo(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatalf("write HEAD: %v", err)
	}
	mustMkdirAll(t, root, "objects", "refs")

	found, bare, err := discover(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if found != root {
		t.Fatalf("gitDir = %q, want %q", found, root)
	}
	if !bare {
		t.Fatal("expected bare")
	}
}

func TestDiscoverLinkedWorktree(t *testing.T) {
	root := t.TempDir()
	realGitDir := filepath.Join(root, "main-checkout", ".git")
	mustMkdirAll(t, realGitDir, "objects", "refs")

	worktreeGitDir := filepath.Join(realGitDir, "worktrees", "feature")
	mustMkdirAll(t, worktreeGitDir)

	worktree := filepath.Join(root, "feature-checkout")
	if err := os.MkdirAll(worktree, 0o755); err != nil {
		t.Fatalf("mkdir worktree: %v", err)
	}
	link := filepath.Join(worktree, ".git")
	if err := os.WriteFile(link, []byte("gitdir: "+worktreeGitDir+"\n"), 0o644); err != nil {
		t.Fatalf("write gitlink: %v", err)
	}

	found, bare, err := discover(worktree)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if found != worktreeGitDir {
		t.Fatalf("gitDir = %q, want %q", found, worktreeGitDir)
	}
	if bare {
		t.Fatal("expected non-bare")
	}
}

func TestDiscoverNotFound(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "x")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, _, err := discover(sub)
	if !errkind.Is(err, errkind.NoObj) {
		t.Fatalf("err = %v, want NoObj", err)
	}
}

func TestResolveObjectLoose(t *testing.T) {
	gitDir := t.TempDir()
	id := writeLooseObject(t, gitDir, "blob", []byte("hello world"))

	repo := newBareRepoAt(t, gitDir)
	typ, data, err := repo.ResolveObject(id)
	if err != nil {
		t.Fatalf("ResolveObject: %v", err)
	}
	if typ != packfile.TypeBlob {
		t.Fatalf("type = %v, want blob", typ)
	}
	if string(data) != "hello world" {
		t.Fatalf("data = %q", data)
	}
}

func TestResolveObjectNotFound(t *testing.T) {
	gitDir := t.TempDir()
	mustMkdirAll(t, gitDir, "objects")

	repo := newBareRepoAt(t, gitDir)
	id, _ := objid.FromHex("ce013625030ba8dba906f756967f9e9ca394464a")
	if _, _, err := repo.ResolveObject(id); !errkind.Is(err, errkind.NoObj) {
		t.Fatalf("err = %v, want NoObj", err)
	}
}

func TestResolvePrefixUniqueAndUnknown(t *testing.T) {
	gitDir := t.TempDir()
	a := writeLooseObject(t, gitDir, "blob", []byte("alpha"))
	writeLooseObject(t, gitDir, "blob", []byte("beta"))

	repo := newBareRepoAt(t, gitDir)

	prefix := a.String()[:6]
	got, err := repo.ResolvePrefix(prefix)
	if err != nil {
		t.Fatalf("ResolvePrefix(%q): %v", prefix, err)
	}
	if got != a {
		t.Fatalf("got %v, want %v", got, a)
	}

	if _, err := repo.ResolvePrefix(a.String()[:1] + "x"); err == nil {
		t.Fatal("expected an error for a nonexistent prefix")
	}
}

func TestResolveRefSymbolicChain(t *testing.T) {
	gitDir := t.TempDir()
	mustMkdirAll(t, gitDir, "refs/heads")

	target := "ce013625030ba8dba906f756967f9e9ca394464a"
	if err := os.WriteFile(filepath.Join(gitDir, "refs", "heads", "main"), []byte(target+"\n"), 0o644); err != nil {
		t.Fatalf("write ref: %v", err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		t.Fatalf("write HEAD: %v", err)
	}

	repo := newBareRepoAt(t, gitDir)
	ref, err := repo.Resolve("HEAD")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Target.String() != target {
		t.Fatalf("target = %v, want %v", ref.Target, target)
	}
}

func TestResolveRefTooManyHops(t *testing.T) {
	gitDir := t.TempDir()
	mustMkdirAll(t, gitDir, "refs/heads")

	// a -> b -> c -> d -> e -> f -> g -> a, well past maxSymbolicDepth.
	chain := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, name := range chain {
		next := chain[(i+1)%len(chain)]
		content := "ref: refs/heads/" + next + "\n"
		if err := os.WriteFile(filepath.Join(gitDir, "refs", "heads", name), []byte(content), 0o644); err != nil {
			t.Fatalf("write ref %s: %v", name, err)
		}
	}

	repo := newBareRepoAt(t, gitDir)
	if _, err := repo.Resolve("refs/heads/a"); !errkind.Is(err, errkind.Recursion) {
		t.Fatalf("err = %v, want Recursion", err)
	}
}

func TestResolveRefFromPackedRefs(t *testing.T) {
	gitDir := t.TempDir()
	mustMkdirAll(t, gitDir, "refs/heads")

	target := "ce013625030ba8dba906f756967f9e9ca394464a"
	packed := "# pack-refs with: peeled fully-peeled sorted\n" + target + " refs/heads/main\n"
	if err := os.WriteFile(filepath.Join(gitDir, "packed-refs"), []byte(packed), 0o644); err != nil {
		t.Fatalf("write packed-refs: %v", err)
	}

	repo := newBareRepoAt(t, gitDir)
	ref, err := repo.Resolve("refs/heads/main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Target.String() != target {
		t.Fatalf("target = %v, want %v", ref.Target, target)
	}
}

func TestResolveRefMissing(t *testing.T) {
	gitDir := t.TempDir()
	mustMkdirAll(t, gitDir, "refs/heads")

	repo := newBareRepoAt(t, gitDir)
	if _, err := repo.Resolve("refs/heads/nope"); !errkind.Is(err, errkind.NoObj) {
		t.Fatalf("err = %v, want NoObj", err)
	}
}
