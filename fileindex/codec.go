package fileindex

import (
	"bufio"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"hash"
	"io"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
)

const (
	magic = 0x676f7469 // "goti"

	// formatVersion is the version Encode writes and the newest version
	// Decode accepts: full stage support, per spec.md §6. legacyVersion
	// is an older on-disk format that predates staged entries - read
	// only, for backward compatibility with indexes written before
	// stage bits existed.
	formatVersion = 2
	legacyVersion = 1
)

// FixedEntrySize is the byte count of an entry's fields up to and
// excluding the path: 2*(8+8) timestamps, 4+4 uid/gid, 4 size, 2 mode,
// 20+20 blob/commit ids, 4 flags = 90. spec.md §8 scenario 5's worked
// arithmetic assumes 72 for this figure, but that does not add up
// against spec.md's own §3/§6 field list, which original_source's
// fileindex.c write_fileindex_entry independently confirms field by
// field; 90 is what both of those agree on, so it is what this codec
// implements. See DESIGN.md.
const FixedEntrySize = 8 + 8 + 8 + 8 + 4 + 4 + 4 + 2 + 20 + 20 + 4

// pathPadding returns how many NUL bytes must follow a path (including
// its own terminating NUL already counted by the caller) so the total
// written for the path is a multiple of 8. Unlike a plain modulo
// calculation, an already-aligned length still gets a full 8 bytes of
// padding: original_source's write_fileindex_path sets pad = 8 when
// the modulo comes out to 0, rather than skipping padding entirely.
func pathPadding(pathLenWithNUL int) int {
	pad := 8 - pathLenWithNUL%8
	if pad == 0 {
		pad = 8
	}
	return pad
}

type checksumWriter struct {
	w io.Writer
	h hash.Hash
}

func newChecksumWriter(w io.Writer) *checksumWriter {
	return &checksumWriter{w: w, h: sha1.New()}
}

func (c *checksumWriter) Write(p []byte) (int, error) {
	c.h.Write(p)
	return c.w.Write(p)
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeEntry(w io.Writer, e *Entry) error {
	if err := writeU64(w, e.CtimeSec); err != nil {
		return err
	}
	if err := writeU64(w, e.CtimeNsec); err != nil {
		return err
	}
	if err := writeU64(w, e.MtimeSec); err != nil {
		return err
	}
	if err := writeU64(w, e.MtimeNsec); err != nil {
		return err
	}
	if err := writeU32(w, e.UID); err != nil {
		return err
	}
	if err := writeU32(w, e.GID); err != nil {
		return err
	}
	if err := writeU32(w, e.Size); err != nil {
		return err
	}
	if err := writeU16(w, e.Mode); err != nil {
		return err
	}
	if _, err := w.Write(e.BlobID.Bytes()); err != nil {
		return err
	}
	if _, err := w.Write(e.CommitID.Bytes()); err != nil {
		return err
	}
	flags := e.Flags &^ flagNotFlushed
	if err := writeU32(w, flags); err != nil {
		return err
	}

	path := append([]byte(e.Path), 0)
	if _, err := w.Write(path); err != nil {
		return err
	}
	pad := pathPadding(len(path))
	if _, err := w.Write(make([]byte, pad)); err != nil {
		return err
	}

	if e.Stage() == StageAdd || e.Stage() == StageModify {
		if _, err := w.Write(e.StagedBlobID.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// Encode writes idx's header, every entry in its current order, and a
// trailing rolling SHA-1 over everything written before it.
func Encode(w io.Writer, idx *Index) error {
	cw := newChecksumWriter(w)
	if err := writeU32(cw, magic); err != nil {
		return err
	}
	if err := writeU32(cw, formatVersion); err != nil {
		return err
	}
	if err := writeU32(cw, uint32(idx.Len())); err != nil {
		return err
	}
	for _, e := range idx.entries {
		if err := writeEntry(cw, e); err != nil {
			return err
		}
	}
	_, err := w.Write(cw.h.Sum(nil))
	return err
}

type checksumReader struct {
	r *bufio.Reader
	h hash.Hash
}

func (c *checksumReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.h.Write(p[:n])
	}
	return n, err
}

func readFull(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readU64(r io.Reader) (uint64, error) {
	b, err := readFull(r, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func readU32(r io.Reader) (uint32, error) {
	b, err := readFull(r, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func readU16(r io.Reader) (uint16, error) {
	b, err := readFull(r, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// readPath reads a NUL-terminated path in 8-byte chunks the way
// read_fileindex_path does, since the path was written padded to a
// multiple of 8 bytes counting its own NUL. A NUL landing on the very
// last byte of a chunk means the path length was already a multiple
// of 8 including its NUL, and writeEntry's pathPadding rule then wrote
// one whole extra chunk of zero padding beyond it, which must still be
// consumed here to stay aligned with the next field.
func readPath(r io.Reader) (string, error) {
	var buf []byte
	for {
		chunk, err := readFull(r, 8)
		if err != nil {
			return "", err
		}
		if nul := indexByte(chunk, 0); nul >= 0 {
			buf = append(buf, chunk[:nul]...)
			if nul == 7 {
				if _, err := readFull(r, 8); err != nil {
					return "", err
				}
			}
			return string(buf), nil
		}
		buf = append(buf, chunk...)
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func readEntry(r io.Reader, version uint32) (*Entry, error) {
	e := &Entry{}
	var err error
	if e.CtimeSec, err = readU64(r); err != nil {
		return nil, err
	}
	if e.CtimeNsec, err = readU64(r); err != nil {
		return nil, err
	}
	if e.MtimeSec, err = readU64(r); err != nil {
		return nil, err
	}
	if e.MtimeNsec, err = readU64(r); err != nil {
		return nil, err
	}
	if e.UID, err = readU32(r); err != nil {
		return nil, err
	}
	if e.GID, err = readU32(r); err != nil {
		return nil, err
	}
	if e.Size, err = readU32(r); err != nil {
		return nil, err
	}
	if e.Mode, err = readU16(r); err != nil {
		return nil, err
	}
	blob, err := readFull(r, objid.Size)
	if err != nil {
		return nil, err
	}
	e.BlobID, err = objid.FromBytes(blob)
	if err != nil {
		return nil, errkind.Wrap(errkind.BadObjID, err)
	}
	commit, err := readFull(r, objid.Size)
	if err != nil {
		return nil, err
	}
	e.CommitID, err = objid.FromBytes(commit)
	if err != nil {
		return nil, errkind.Wrap(errkind.BadObjID, err)
	}
	if e.Flags, err = readU32(r); err != nil {
		return nil, err
	}
	if version == legacyVersion {
		// legacyVersion predates staged entries: every entry on disk
		// is StageNone, and none of them carry a trailing staged-blob
		// id to consume.
		e.Flags &^= flagStageMask
	}

	path, err := readPath(r)
	if err != nil {
		return nil, err
	}
	e.Path = path

	if version != legacyVersion && (e.Stage() == StageAdd || e.Stage() == StageModify) {
		staged, err := readFull(r, objid.Size)
		if err != nil {
			return nil, err
		}
		e.StagedBlobID, err = objid.FromBytes(staged)
		if err != nil {
			return nil, errkind.Wrap(errkind.BadObjID, err)
		}
	}
	return e, nil
}

// Decode reads a file index previously written by Encode. A
// completely empty input (EOF before even the magic is read) is not
// an error: it decodes to an empty Index, matching
// original_source's got_fileindex_read treating ENOENT-equivalent
// empty state as "nothing indexed yet" rather than corruption.
func Decode(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return New(), nil
	}

	cr := &checksumReader{r: br, h: sha1.New()}

	gotMagic, err := readU32(cr)
	if err != nil {
		return nil, err
	}
	if gotMagic != magic {
		return nil, errkind.New(errkind.FileIndexSignature, "bad file index signature %08x", gotMagic)
	}
	version, err := readU32(cr)
	if err != nil {
		return nil, err
	}
	if version == 0 || version > formatVersion {
		return nil, errkind.New(errkind.FileIndexVersion, "unsupported file index version %d", version)
	}
	count, err := readU32(cr)
	if err != nil {
		return nil, err
	}

	idx := New()
	idx.entries = make([]*Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		e, err := readEntry(cr, version)
		if err != nil {
			return nil, err
		}
		idx.entries = append(idx.entries, e)
	}

	sum := cr.h.Sum(nil)
	trailer, err := readFull(br, len(sum))
	if err != nil {
		return nil, err
	}
	for i := range sum {
		if sum[i] != trailer[i] {
			return nil, errkind.New(errkind.FileIndexChecksum, "file index checksum mismatch")
		}
	}
	return idx, nil
}
