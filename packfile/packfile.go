// Package packfile decodes Git pack files: the variable-length (type,size)
// entry headers, OFS/REF delta chains, and the zlib-compressed object
// bytes or delta commands that follow each header.
//
// Grounded on go-git's plumbing/format/packfile (scanner.go's header
// varint decode, patch_delta.go's copy/insert command decode and
// patchDelta two-buffer apply) and on original_source/lib/pack.c's
// resolve_offset_delta/resolve_ref_delta/resolve_delta_chain recursion,
// which fixes the exact recursion-limit semantics spec.md §4.1 describes.
package packfile

import (
	"compress/zlib"
	"io"
	"os"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/idxfile"
	"github.com/repocore/gitcore/objid"
)

// ObjectType is the type tag stored in a pack entry header.
type ObjectType int

const (
	_ ObjectType = iota
	TypeCommit
	TypeTree
	TypeBlob
	TypeTag
	_ // 5 reserved
	TypeOffsetDelta
	TypeRefDelta
)

func (t ObjectType) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	case TypeOffsetDelta:
		return "ofs-delta"
	case TypeRefDelta:
		return "ref-delta"
	default:
		return "unknown"
	}
}

// MaxRecursionDepth bounds delta-chain resolution, per spec.md §3 ("Length
// bounded by a recursion limit (e.g. 500)").
const MaxRecursionDepth = 500

// ReaderAt is the I/O-duality capability spec.md Design Notes calls for:
// every pack-reading routine is parameterized over this rather than
// choosing mmap or seek-based access itself. sliceReaderAt (an in-memory
// or memory-mapped byte slice) and seekReaderAt (a plain *os.File plus
// its size) both satisfy it.
type ReaderAt interface {
	io.ReaderAt
	Size() int64
}

// sliceReaderAt adapts an mmap'd (or otherwise fully loaded) byte slice to
// ReaderAt, giving the in-memory path identical behavior to the seek-based
// path as spec.md §8 requires.
type sliceReaderAt struct{ b []byte }

func NewSliceReaderAt(b []byte) ReaderAt { return sliceReaderAt{b} }

func (s sliceReaderAt) Size() int64 { return int64(len(s.b)) }

func (s sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.b)) {
		return 0, io.EOF
	}
	n := copy(p, s.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// entryHeader is the decoded (type, size) pair plus how many bytes the
// header itself occupied.
type entryHeader struct {
	Type      ObjectType
	Size      uint64
	HeaderLen int
}

// parseEntryHeader decodes the variable-length type+size header starting
// at off, per spec.md §4.1: the continuation byte's high 3 bits are the
// type, low 4 bits are size bits 0..3; each following byte contributes 7
// bits shifted by 4+7*(i-1), with the high bit as the continuation flag.
func parseEntryHeader(r ReaderAt, off int64) (entryHeader, error) {
	var buf [1]byte
	if _, err := r.ReadAt(buf[:], off); err != nil {
		return entryHeader{}, errkind.Wrap(errkind.BadPackFile, err)
	}
	b := buf[0]
	typ := ObjectType((b >> 4) & 0x7)
	size := uint64(b & 0x0f)
	shift := uint(4)
	n := 1
	for b&0x80 != 0 {
		if n >= 10 {
			return entryHeader{}, errkind.New(errkind.BadPackFile, "no-space: header too long")
		}
		if _, err := r.ReadAt(buf[:], off+int64(n)); err != nil {
			return entryHeader{}, errkind.Wrap(errkind.BadPackFile, err)
		}
		b = buf[0]
		size |= uint64(b&0x7f) << shift
		shift += 7
		n++
	}
	return entryHeader{Type: typ, Size: size, HeaderLen: n}, nil
}

// parseNegativeOffset decodes the OFS_DELTA variable-length negative
// offset: high bit is the continuation flag; each subsequent byte is
// ((cur+1)<<7)|low7, per spec.md §4.1.
func parseNegativeOffset(r ReaderAt, off int64) (value int64, consumed int, err error) {
	var buf [1]byte
	if _, e := r.ReadAt(buf[:], off); e != nil {
		return 0, 0, errkind.Wrap(errkind.BadPackFile, e)
	}
	b := buf[0]
	v := int64(b & 0x7f)
	n := 1
	for b&0x80 != 0 {
		if n >= 10 {
			return 0, 0, errkind.New(errkind.BadPackFile, "no-space: offset too long")
		}
		if _, e := r.ReadAt(buf[:], off+int64(n)); e != nil {
			return 0, 0, errkind.Wrap(errkind.BadPackFile, e)
		}
		b = buf[0]
		v = ((v + 1) << 7) | int64(b&0x7f)
		n++
	}
	return v, n, nil
}

// inflate zlib-decompresses exactly the bytes Git wrote for one object
// (the stream's own EOF marks the end; the caller doesn't know the
// compressed length up front, which is normal for pack entries).
func inflate(r io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, errkind.Wrap(errkind.BadPackFile, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errkind.Wrap(errkind.BadPackFile, err)
	}
	return out, nil
}

// offsetReader presents a ReaderAt starting at a fixed offset as an
// io.Reader, which is all zlib.NewReader needs.
type offsetReader struct {
	r   ReaderAt
	pos int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.r.ReadAt(p, o.pos)
	o.pos += int64(n)
	return n, err
}

// Pack is an open pack file plus its index, able to resolve any object it
// indexes to its final (type, bytes).
type Pack struct {
	r     ReaderAt
	idx   *idxfile.Index
	cache *DeltaCache
	id    string // pack identifier used as the cache key prefix
}

// Open wraps a ReaderAt pack file with its parsed index. cache may be nil,
// in which case delta bytes are never cached (every lookup re-inflates).
func Open(r ReaderAt, idx *idxfile.Index, id string, cache *DeltaCache) (*Pack, error) {
	var hdr [12]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, errkind.Wrap(errkind.BadPackFile, err)
	}
	if string(hdr[:4]) != "PACK" {
		return nil, errkind.New(errkind.BadPackFile, "bad pack header")
	}
	return &Pack{r: r, idx: idx, cache: cache, id: id}, nil
}

// deltaRecord is one step of a resolved delta chain; resolveChain returns
// the requested entry first and the plain base last, and ResolveAt walks
// that slice backwards to apply the deltas base-first.
type deltaRecord struct {
	offset int64 // where this entry's header starts in the pack
	hdr    entryHeader
	base   objid.ID // only set for REF_DELTA steps, informational
}

// ResolveObject reconstructs the object at a given pack id, following any
// delta chain to its terminal base and applying every delta in order.
func (p *Pack) ResolveObject(id objid.ID) (ObjectType, []byte, error) {
	off, err := p.idx.FindOffset(id)
	if err != nil {
		return 0, nil, err
	}
	return p.ResolveAt(off)
}

// memoryThreshold is the max-chain-size cutoff at or under which delta
// chain resolution reconstructs in memory with two swapping buffers;
// above it, ResolveAt instead swaps between two scratch files, per
// spec.md §4.1's Reconstruction strategy ("compute the maximum of every
// (base size, result size) along the chain... otherwise use two scratch
// files that swap roles"). Grounded on
// original_source/lib/pack.c's dump_delta_chain_to_file, which picks the
// same way between its in-memory and file-backed chain appliers.
const memoryThreshold = 8 << 20

// ResolveAt reconstructs the object whose entry header starts at off.
func (p *Pack) ResolveAt(off int64) (ObjectType, []byte, error) {
	chain, baseType, err := p.resolveChain(off, MaxRecursionDepth)
	if err != nil {
		return 0, nil, err
	}

	base, err := p.readBase(chain[len(chain)-1])
	if err != nil {
		return 0, nil, err
	}

	deltas := make([][]byte, 0, len(chain)-1)
	for i := len(chain) - 2; i >= 0; i-- {
		deltaBytes, err := p.readDeltaBytes(chain[i])
		if err != nil {
			return 0, nil, err
		}
		deltas = append(deltas, deltaBytes)
	}

	maxSize, err := maxChainSize(uint64(len(base)), deltas)
	if err != nil {
		return 0, nil, err
	}

	if maxSize <= memoryThreshold {
		result := base
		for _, d := range deltas {
			result, err = ApplyDelta(result, d)
			if err != nil {
				return 0, nil, err
			}
		}
		return baseType, result, nil
	}

	result, err := applyDeltaChainToFiles(base, deltas)
	if err != nil {
		return 0, nil, err
	}
	return baseType, result, nil
}

// maxChainSize returns the largest of baseSize and every delta's own
// declared result size, peeked from each delta's leading (src-size,
// result-size) varint pair without applying it - the same quantity
// original_source's get_delta_chain_max_size computes to decide between
// the in-memory and file-backed appliers.
func maxChainSize(baseSize uint64, deltas [][]byte) (uint64, error) {
	max := baseSize
	for _, d := range deltas {
		_, rest, err := decodeVarint(d)
		if err != nil {
			return 0, err
		}
		resultSize, _, err := decodeVarint(rest)
		if err != nil {
			return 0, err
		}
		if resultSize > max {
			max = resultSize
		}
	}
	return max, nil
}

// applyDeltaChainToFiles reconstructs the final object by swapping two
// temporary files' roles (current base, accumulation) across the chain,
// the large-object counterpart to the plain in-memory loop in ResolveAt.
// Only the base bytes and the final result are ever held fully in
// memory (the latter because ResolveAt's signature hands callers a
// []byte); every intermediate step streams through applyDeltaStream
// instead of materializing another whole-object buffer.
func applyDeltaChainToFiles(base []byte, deltas [][]byte) ([]byte, error) {
	baseFile, err := os.CreateTemp("", "gitcore-pack-base-*")
	if err != nil {
		return nil, errkind.Wrap(errkind.IO, err)
	}
	defer os.Remove(baseFile.Name())
	defer baseFile.Close()

	accumFile, err := os.CreateTemp("", "gitcore-pack-accum-*")
	if err != nil {
		return nil, errkind.Wrap(errkind.IO, err)
	}
	defer os.Remove(accumFile.Name())
	defer accumFile.Close()

	if _, err := baseFile.Write(base); err != nil {
		return nil, errkind.Wrap(errkind.IO, err)
	}
	if _, err := baseFile.Seek(0, io.SeekStart); err != nil {
		return nil, errkind.Wrap(errkind.IO, err)
	}

	cur, next := baseFile, accumFile
	for _, d := range deltas {
		if err := next.Truncate(0); err != nil {
			return nil, errkind.Wrap(errkind.IO, err)
		}
		if _, err := next.Seek(0, io.SeekStart); err != nil {
			return nil, errkind.Wrap(errkind.IO, err)
		}
		if err := applyDeltaStream(cur, d, next); err != nil {
			return nil, err
		}
		if _, err := cur.Seek(0, io.SeekStart); err != nil {
			return nil, errkind.Wrap(errkind.IO, err)
		}
		if _, err := next.Seek(0, io.SeekStart); err != nil {
			return nil, errkind.Wrap(errkind.IO, err)
		}
		cur, next = next, cur
	}

	if _, err := cur.Seek(0, io.SeekStart); err != nil {
		return nil, errkind.Wrap(errkind.IO, err)
	}
	result, err := io.ReadAll(cur)
	if err != nil {
		return nil, errkind.Wrap(errkind.IO, err)
	}
	return result, nil
}

// applyDeltaStream is applyDelta's file-backed counterpart: it reads
// base's bytes via ReadAt in bounded chunks instead of requiring the
// whole base in a single slice, and writes the reconstructed object
// straight to w instead of accumulating it in memory. Command decoding
// mirrors ApplyDelta exactly; only the copy command's source changed
// from a slice index to a ReadAt call.
func applyDeltaStream(base *os.File, delta []byte, w io.Writer) error {
	fi, err := base.Stat()
	if err != nil {
		return errkind.Wrap(errkind.IO, err)
	}
	baseSize := uint64(fi.Size())

	srcSize, delta, err := decodeVarint(delta)
	if err != nil {
		return err
	}
	if srcSize != baseSize {
		return errkind.New(errkind.BadDeltaChain, "delta base-size mismatch: want %d, have %d", srcSize, baseSize)
	}

	resultSize, delta, err := decodeVarint(delta)
	if err != nil {
		return err
	}

	var written uint64
	buf := make([]byte, 32*1024)
	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		if cmd&0x80 != 0 {
			var copyOff, copyLen uint64
			if cmd&0x01 != 0 {
				copyOff |= uint64(delta[0])
				delta = delta[1:]
			}
			if cmd&0x02 != 0 {
				copyOff |= uint64(delta[0]) << 8
				delta = delta[1:]
			}
			if cmd&0x04 != 0 {
				copyOff |= uint64(delta[0]) << 16
				delta = delta[1:]
			}
			if cmd&0x08 != 0 {
				copyOff |= uint64(delta[0]) << 24
				delta = delta[1:]
			}
			if cmd&0x10 != 0 {
				copyLen |= uint64(delta[0])
				delta = delta[1:]
			}
			if cmd&0x20 != 0 {
				copyLen |= uint64(delta[0]) << 8
				delta = delta[1:]
			}
			if cmd&0x40 != 0 {
				copyLen |= uint64(delta[0]) << 16
				delta = delta[1:]
			}
			if copyLen == 0 {
				copyLen = 0x10000
			}
			if copyOff+copyLen > baseSize {
				return errkind.New(errkind.BadDeltaChain, "copy command out of base range")
			}
			if err := copyFromReaderAt(w, base, int64(copyOff), copyLen, buf); err != nil {
				return err
			}
			written += copyLen
		} else {
			n := uint64(cmd)
			if n == 0 {
				return errkind.New(errkind.BadDeltaChain, "insert command with zero length")
			}
			if n > uint64(len(delta)) {
				return errkind.New(errkind.BadDeltaChain, "insert command truncated")
			}
			if _, err := w.Write(delta[:n]); err != nil {
				return errkind.Wrap(errkind.IO, err)
			}
			delta = delta[n:]
			written += n
		}
	}

	if written != resultSize {
		return errkind.New(errkind.BadDeltaChain, "reconstructed size %d != declared %d", written, resultSize)
	}
	return nil
}

// copyFromReaderAt streams n bytes from r starting at off into w, using
// buf as bounded scratch space instead of reading the whole span at
// once.
func copyFromReaderAt(w io.Writer, r io.ReaderAt, off int64, n uint64, buf []byte) error {
	for n > 0 {
		chunk := uint64(len(buf))
		if chunk > n {
			chunk = n
		}
		read, err := r.ReadAt(buf[:chunk], off)
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return errkind.Wrap(errkind.IO, werr)
			}
			off += int64(read)
			n -= uint64(read)
		}
		if err != nil {
			if err == io.EOF && n == 0 {
				break
			}
			return errkind.Wrap(errkind.IO, err)
		}
	}
	return nil
}

// resolveChain walks from off following OFS/REF deltas until it reaches a
// plain (non-delta) object, returning the chain terminal-last (index 0 is
// the originally requested entry, last is the plain base) and the base's
// type, which every object in the chain inherits (spec.md §3).
func (p *Pack) resolveChain(off int64, depth int) ([]deltaRecord, ObjectType, error) {
	hdr, err := parseEntryHeader(p.r, off)
	if err != nil {
		return nil, 0, err
	}

	switch hdr.Type {
	case TypeCommit, TypeTree, TypeBlob, TypeTag:
		return []deltaRecord{{offset: off, hdr: hdr}}, hdr.Type, nil

	case TypeOffsetDelta:
		if depth <= 0 {
			return nil, 0, errkind.New(errkind.Recursion, "delta chain exceeds recursion limit")
		}
		negOff, consumed, err := parseNegativeOffset(p.r, off+int64(hdr.HeaderLen))
		if err != nil {
			return nil, 0, err
		}
		baseOff := off - negOff
		if baseOff < 0 || baseOff >= off {
			return nil, 0, errkind.New(errkind.BadDeltaChain, "ofs-delta base out of range")
		}
		hdr.HeaderLen += consumed
		rest, baseType, err := p.resolveChain(baseOff, depth-1)
		if err != nil {
			return nil, 0, err
		}
		return append([]deltaRecord{{offset: off, hdr: hdr}}, rest...), baseType, nil

	case TypeRefDelta:
		if depth <= 0 {
			return nil, 0, errkind.New(errkind.Recursion, "delta chain exceeds recursion limit")
		}
		var idBuf [objid.Size]byte
		if _, err := p.r.ReadAt(idBuf[:], off+int64(hdr.HeaderLen)); err != nil {
			return nil, 0, errkind.Wrap(errkind.BadPackFile, err)
		}
		baseID, _ := objid.FromBytes(idBuf[:])
		baseOff, err := p.idx.FindOffset(baseID)
		if err != nil {
			return nil, 0, errkind.New(errkind.BadDeltaChain, "ref-delta base %s not indexed", baseID)
		}
		hdr.HeaderLen += objid.Size
		rest, baseType, err := p.resolveChain(baseOff, depth-1)
		if err != nil {
			return nil, 0, err
		}
		return append([]deltaRecord{{offset: off, hdr: hdr, base: baseID}}, rest...), baseType, nil

	default:
		return nil, 0, errkind.New(errkind.ObjType, "unknown pack entry type %d", hdr.Type)
	}
}

func (p *Pack) readBase(d deltaRecord) ([]byte, error) {
	return p.readInflated(d)
}

func (p *Pack) readDeltaBytes(d deltaRecord) ([]byte, error) {
	return p.readInflated(d)
}

// cacheKey identifies cached inflated bytes for one pack entry by
// (pack-id, data-offset), per spec.md §4.1 Reconstruction strategy.
type cacheKey struct {
	pack string
	off  int64
}

func (p *Pack) readInflated(d deltaRecord) ([]byte, error) {
	dataOff := d.offset + int64(d.hdr.HeaderLen)
	key := cacheKey{pack: p.id, off: dataOff}
	if p.cache != nil {
		if b, ok := p.cache.Get(key); ok {
			return b, nil
		}
	}
	b, err := inflate(&offsetReader{r: p.r, pos: dataOff})
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Put(key, b) // no-space is absorbed: see DeltaCache.Put
	}
	return b, nil
}
