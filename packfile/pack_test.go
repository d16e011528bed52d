package packfile

import (
	"bytes"
	"compress/zlib"
	"os"
	"testing"

	"github.com/repocore/gitcore/idxfile"
)

// writeEntryHeader appends a pack entry's variable-length (type, size)
// header to buf, per spec.md §4.1.
func writeEntryHeader(buf *bytes.Buffer, typ ObjectType, size uint64) {
	b := byte(typ&0x7) << 4
	b |= byte(size & 0x0f)
	size >>= 4
	for size != 0 {
		buf.WriteByte(b | 0x80)
		b = byte(size & 0x7f)
		size >>= 7
	}
	buf.WriteByte(b)
}

// writeNegativeOffset appends an OFS_DELTA negative-offset varint for
// baseOffset = entryOffset - negOff, inverse of parseNegativeOffset.
func writeNegativeOffset(buf *bytes.Buffer, negOff int64) {
	var bytesRev []byte
	v := negOff
	bytesRev = append(bytesRev, byte(v&0x7f))
	v >>= 7
	for v > 0 {
		v--
		bytesRev = append(bytesRev, byte(v&0x7f)|0x80)
		v >>= 7
	}
	for i := len(bytesRev) - 1; i >= 0; i-- {
		buf.WriteByte(bytesRev[i])
	}
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

// buildDelta encodes the copy[0..4]+insert("XY")+copy[4..8] delta from
// spec.md §8 scenario 4 against an 8-byte base.
func buildDelta() []byte {
	return []byte{
		0x08, 0x0A,
		0x90, 0x04,
		0x02, 'X', 'Y',
		0x91, 0x04, 0x04,
	}
}

func TestPackResolveOffsetDeltaChain(t *testing.T) {
	var pack bytes.Buffer
	pack.WriteString("PACK")
	pack.Write([]byte{0, 0, 0, 2}) // version
	pack.Write([]byte{0, 0, 0, 1}) // object count

	baseData := []byte("abcdefgh")
	baseOff := int64(pack.Len())
	writeEntryHeader(&pack, TypeBlob, uint64(len(baseData)))
	pack.Write(deflate(t, baseData))

	delta := buildDelta()
	deltaOff := int64(pack.Len())
	writeEntryHeader(&pack, TypeOffsetDelta, uint64(len(delta)))
	writeNegativeOffset(&pack, deltaOff-baseOff)
	pack.Write(deflate(t, delta))

	r := NewSliceReaderAt(pack.Bytes())
	idx := &idxfile.Index{} // FindOffset unused by ResolveAt; ResolveObject goes through idx
	p, err := Open(r, idx, "test-pack", NewDeltaCache(1<<20))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	typ, data, err := p.ResolveAt(baseOff)
	if err != nil {
		t.Fatalf("ResolveAt(base): %v", err)
	}
	if typ != TypeBlob || string(data) != "abcdefgh" {
		t.Fatalf("base resolve = (%v,%q)", typ, data)
	}

	typ, data, err = p.ResolveAt(deltaOff)
	if err != nil {
		t.Fatalf("ResolveAt(delta): %v", err)
	}
	if typ != TypeBlob {
		t.Fatalf("delta inherited type = %v, want blob", typ)
	}
	if string(data) != "abcdXYefgh" {
		t.Fatalf("delta resolve = %q, want abcdXYefgh", data)
	}
}

func TestPackOpenRejectsBadHeader(t *testing.T) {
	r := NewSliceReaderAt([]byte("NOPE00000000"))
	if _, err := Open(r, &idxfile.Index{}, "bad", nil); err == nil {
		t.Fatalf("expected bad-pack-file error")
	}
}

// TestResolveChainRecursionLimit builds a chain of ofs-deltas one longer
// than MaxRecursionDepth and checks it is rejected, while a chain exactly
// at the limit succeeds, per spec.md §8 ("depth equal to the max is
// accepted; one more is recursion").
func TestResolveChainRecursionLimit(t *testing.T) {
	build := func(depth int) (*Pack, int64) {
		var pack bytes.Buffer
		pack.WriteString("PACK")
		pack.Write([]byte{0, 0, 0, 2})
		pack.Write([]byte{0, 0, 0, 1})

		base := []byte("a")
		prevOff := int64(pack.Len())
		writeEntryHeader(&pack, TypeBlob, uint64(len(base)))
		pack.Write(deflate(t, base))

		// identity delta: copy the whole 1-byte base, unchanged at each step.
		identity := []byte{0x01, 0x01, 0x91, 0x00, 0x01}
		var lastOff int64
		for i := 0; i < depth; i++ {
			off := int64(pack.Len())
			writeEntryHeader(&pack, TypeOffsetDelta, uint64(len(identity)))
			writeNegativeOffset(&pack, off-prevOff)
			pack.Write(deflate(t, identity))
			prevOff = off
			lastOff = off
		}

		r := NewSliceReaderAt(pack.Bytes())
		p, err := Open(r, &idxfile.Index{}, "chain", nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return p, lastOff
	}

	p, off := build(MaxRecursionDepth)
	if _, _, err := p.ResolveAt(off); err != nil {
		t.Fatalf("chain at exactly MaxRecursionDepth should resolve: %v", err)
	}

	p, off = build(MaxRecursionDepth + 1)
	if _, _, err := p.ResolveAt(off); err == nil {
		t.Fatalf("chain one deeper than MaxRecursionDepth should be rejected")
	}
}

// TestMaxChainSize checks that it reports the largest of the base size
// and every delta's declared result size, not just the last one.
func TestMaxChainSize(t *testing.T) {
	deltas := [][]byte{
		{4, 10}, // srcSize=4, resultSize=10
		{10, 0xC8, 0x01}, // srcSize=10, resultSize=200 (two-byte varint: 200 = 0x48|cont, 0x01)
	}
	got, err := maxChainSize(4, deltas)
	if err != nil {
		t.Fatalf("maxChainSize: %v", err)
	}
	if got != 200 {
		t.Fatalf("maxChainSize = %d, want 200", got)
	}
}

// TestApplyDeltaChainToFiles exercises ResolveAt's large-object path
// directly (rather than forcing a real object past the 8 MiB
// memoryThreshold, which would make this test slow to hand-verify): it
// applies the same two-step chain TestPackResolveOffsetDeltaChain uses
// against the file-swapping applier and checks it reconstructs the
// identical bytes as the in-memory ApplyDelta path.
func TestApplyDeltaChainToFiles(t *testing.T) {
	base := []byte("abcdefgh")
	delta := buildDelta()

	want, err := ApplyDelta(base, delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}

	got, err := applyDeltaChainToFiles(base, [][]byte{delta})
	if err != nil {
		t.Fatalf("applyDeltaChainToFiles: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("applyDeltaChainToFiles = %q, want %q", got, want)
	}
}

// TestApplyDeltaChainToFilesMultiStep chains two deltas through the
// file-swapping applier, checking that swapping cur/next across more
// than one step still produces the right final bytes (not just an
// identity no-op on the second step).
func TestApplyDeltaChainToFilesMultiStep(t *testing.T) {
	base := []byte("abcdefgh")
	delta1 := buildDelta() // abcdefgh -> abcdXYefgh
	// copy all 10 bytes of "abcdXYefgh", then append "!!"
	delta2 := []byte{0x0A, 0x0C, 0x90, 0x0A, 0x02, '!', '!'}

	mid, err := ApplyDelta(base, delta1)
	if err != nil {
		t.Fatalf("ApplyDelta(1): %v", err)
	}
	want, err := ApplyDelta(mid, delta2)
	if err != nil {
		t.Fatalf("ApplyDelta(2): %v", err)
	}

	got, err := applyDeltaChainToFiles(base, [][]byte{delta1, delta2})
	if err != nil {
		t.Fatalf("applyDeltaChainToFiles: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("applyDeltaChainToFiles = %q, want %q", got, want)
	}
}

// TestOpenFileReaderAtMatchesSliceReaderAt checks that a real file
// wrapped by OpenFileReaderAt (mmap'd if the platform supports it,
// read/seek otherwise) returns the same bytes a plain in-memory
// sliceReaderAt does over identical content, per spec.md §8's mmap/
// read-path equivalence property.
func TestOpenFileReaderAtMatchesSliceReaderAt(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	f, err := os.CreateTemp(t.TempDir(), "pack-*.pack")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ra, closer, err := OpenFileReaderAt(f)
	if err != nil {
		t.Fatalf("OpenFileReaderAt: %v", err)
	}
	defer closer()

	if ra.Size() != int64(len(content)) {
		t.Fatalf("Size() = %d, want %d", ra.Size(), len(content))
	}

	want := NewSliceReaderAt(content)
	buf1 := make([]byte, 9)
	buf2 := make([]byte, 9)
	if _, err := ra.ReadAt(buf1, 10); err != nil {
		t.Fatalf("ReadAt(file): %v", err)
	}
	if _, err := want.ReadAt(buf2, 10); err != nil {
		t.Fatalf("ReadAt(slice): %v", err)
	}
	if !bytes.Equal(buf1, buf2) {
		t.Fatalf("ReadAt mismatch: file=%q slice=%q", buf1, buf2)
	}
}

func TestDeltaCacheEviction(t *testing.T) {
	c := NewDeltaCache(10)
	c.Put(cacheKey{pack: "p", off: 0}, []byte("12345"))
	c.Put(cacheKey{pack: "p", off: 1}, []byte("67890"))
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	// third insert should evict the oldest to stay within the 10-byte budget
	c.Put(cacheKey{pack: "p", off: 2}, []byte("abcde"))
	if c.Len() != 2 {
		t.Fatalf("Len() after eviction = %d, want 2", c.Len())
	}
	if _, ok := c.Get(cacheKey{pack: "p", off: 0}); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, ok := c.Get(cacheKey{pack: "p", off: 2}); !ok {
		t.Fatalf("newest entry should still be cached")
	}

	// an insert larger than the whole budget is silently dropped.
	c.Put(cacheKey{pack: "p", off: 3}, []byte("this-is-longer-than-budget"))
	if _, ok := c.Get(cacheKey{pack: "p", off: 3}); ok {
		t.Fatalf("oversized entry should not be cached")
	}
}
