package repository

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/repocore/gitcore/packfile"
)

func itoa(n int) string { return strconv.Itoa(n) }

func sha1Sum(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

// mustMkdirAll creates base, plus each of rest as its own subdirectory
// directly under base (e.g. mustMkdirAll(t, gitDir, "objects", "refs")
// creates gitDir/objects and gitDir/refs as siblings, not a nested
// gitDir/objects/refs).
func mustMkdirAll(t *testing.T, base string, rest ...string) {
	t.Helper()
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", base, err)
	}
	for _, r := range rest {
		dir := filepath.Join(base, r)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
}

// newBareRepoAt builds a Repository rooted directly at gitDir, bypassing
// discover - the tests that use this exercise ResolveObject/ResolvePrefix
// and ref resolution against a hand-built gitdir layout, not discovery
// itself (covered separately by TestDiscover*).
func newBareRepoAt(t *testing.T, gitDir string) *Repository {
	t.Helper()
	repo := &Repository{
		fs:    osfs.New(gitDir),
		bare:  true,
		cache: packfile.NewDeltaCache(1 << 20),
	}
	if err := repo.openPacks(); err != nil {
		t.Fatalf("openPacks: %v", err)
	}
	return repo
}
