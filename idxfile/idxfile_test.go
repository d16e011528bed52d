package idxfile

import (
	"bytes"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/repocore/gitcore/objid"
)

// buildIndex constructs a well-formed pack-index v2 byte slice from a set
// of (id, offset, crc) triples, mirroring go-git's idxfile.Writer.CreateIndex
// but producing raw bytes instead of an in-memory structure, since here we
// are testing the decoder, not the encoder (encoding packs is a non-goal).
func buildIndex(t *testing.T, entries []Entry) []byte {
	t.Helper()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.Compare(entries[j].ID) < 0
	})

	var buf bytes.Buffer
	buf.Write(Header[:])
	var verBuf [4]byte
	binary.BigEndian.PutUint32(verBuf[:], Version)
	buf.Write(verBuf[:])

	var fanout [256]uint32
	for _, e := range entries {
		fanout[e.ID[0]]++
	}
	for i := 1; i < 256; i++ {
		fanout[i] += fanout[i-1]
	}
	for i := 0; i < 256; i++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], fanout[i])
		buf.Write(b[:])
	}

	for _, e := range entries {
		buf.Write(e.ID[:])
	}
	for _, e := range entries {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e.CRC32)
		buf.Write(b[:])
	}
	for _, e := range entries {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(e.Offset))
		buf.Write(b[:])
	}

	// pack checksum (arbitrary but deterministic for the test) + index
	// checksum (real SHA-1 over everything above).
	var packSum objid.ID
	packSum[0] = 0xAB
	buf.Write(packSum[:])
	sum := objid.Sum(buf.Bytes())
	buf.Write(sum[:])

	return buf.Bytes()
}

func idFor(b byte, tail byte) objid.ID {
	var id objid.ID
	id[0] = b
	id[19] = tail
	return id
}

func TestParseFanoutAndLookup(t *testing.T) {
	entries := []Entry{
		{ID: idFor(0x01, 1), Offset: 100, CRC32: 0x1111},
		{ID: idFor(0x01, 2), Offset: 200, CRC32: 0x2222},
		{ID: idFor(0xce, 3), Offset: 300, CRC32: 0x3333},
	}
	raw := buildIndex(t, entries)

	idx, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if idx.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", idx.Count())
	}

	off, err := idx.FindOffset(idFor(0xce, 3))
	if err != nil {
		t.Fatalf("FindOffset: %v", err)
	}
	if off != 300 {
		t.Fatalf("offset = %d, want 300", off)
	}

	crc, err := idx.FindCRC32(idFor(0x01, 2))
	if err != nil {
		t.Fatalf("FindCRC32: %v", err)
	}
	if crc != 0x2222 {
		t.Fatalf("crc = %x, want 2222", crc)
	}

	if _, err := idx.FindOffset(idFor(0x01, 9)); err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestFanoutInvariant(t *testing.T) {
	entries := []Entry{
		{ID: idFor(0x01, 1), Offset: 1},
		{ID: idFor(0x01, 2), Offset: 2},
		{ID: idFor(0xce, 3), Offset: 3},
	}
	raw := buildIndex(t, entries)
	idx, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	for b := 0; b < 256; b++ {
		lo, hi := idx.fanoutRange(byte(b))
		for pos := lo; pos < hi; pos++ {
			if idx.idAt(int(pos))[0] != byte(b) {
				t.Fatalf("fanout bucket %d contains id with first byte %d", b, idx.idAt(int(pos))[0])
			}
		}
	}
	if idx.fanout[255] != uint32(idx.Count()) {
		t.Fatalf("fanout[255] = %d, want %d", idx.fanout[255], idx.Count())
	}
}

func TestResolvePrefix(t *testing.T) {
	want, _ := objid.FromHex("ce013625030ba8dba906f756967f9e9ca394464a")
	other, _ := objid.FromHex("ce0200000000000000000000000000000000000f")
	raw := buildIndex(t, []Entry{{ID: want, Offset: 10}, {ID: other, Offset: 20}})
	idx, err := Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	matches, err := idx.ResolvePrefix("ce01")
	if err != nil {
		t.Fatalf("ResolvePrefix: %v", err)
	}
	if len(matches) != 1 || matches[0] != want {
		t.Fatalf("matches = %v, want [%v]", matches, want)
	}

	if _, err := idx.ResolvePrefix("c"); err == nil {
		t.Fatalf("expected error for single-char prefix")
	}
}

func TestChecksumMismatchRejected(t *testing.T) {
	raw := buildIndex(t, []Entry{{ID: idFor(0x01, 1), Offset: 1}})
	raw[len(raw)-1] ^= 0xff // corrupt the trailing index checksum
	if _, err := Parse(bytes.NewReader(raw)); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}
