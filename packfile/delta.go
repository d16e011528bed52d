package packfile

import (
	"github.com/repocore/gitcore/errkind"
)

// ApplyDelta reconstructs a target object by applying delta's copy/insert
// command stream to base.
//
// Grounded on go-git's plumbing/format/packfile/patch_delta.go
// (patchDelta): a copy command's low 7 bits select which of 4 offset bytes
// and 3 length bytes follow (spec.md §4.1), a length of 0 means 0x10000; an
// insert command's low 7 bits are the literal byte count and must be >= 1.
func ApplyDelta(base, delta []byte) ([]byte, error) {
	srcSize, delta, err := decodeVarint(delta)
	if err != nil {
		return nil, err
	}
	if srcSize != uint64(len(base)) {
		return nil, errkind.New(errkind.BadDeltaChain, "delta base-size mismatch: want %d, have %d", srcSize, len(base))
	}

	resultSize, delta, err := decodeVarint(delta)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, resultSize)
	for len(delta) > 0 {
		cmd := delta[0]
		delta = delta[1:]

		if cmd&0x80 != 0 {
			// copy command
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
			if copyOff+copyLen > uint64(len(base)) {
				return nil, errkind.New(errkind.BadDeltaChain, "copy command out of base range")
			}
			out = append(out, base[copyOff:copyOff+copyLen]...)
		} else {
			// insert command: cmd itself is the literal byte count.
			n := uint64(cmd)
			if n == 0 {
				return nil, errkind.New(errkind.BadDeltaChain, "insert command with zero length")
			}
			if n > uint64(len(delta)) {
				return nil, errkind.New(errkind.BadDeltaChain, "insert command truncated")
			}
			out = append(out, delta[:n]...)
			delta = delta[n:]
		}
	}

	if uint64(len(out)) != resultSize {
		return nil, errkind.New(errkind.BadDeltaChain, "reconstructed size %d != declared %d", len(out), resultSize)
	}
	return out, nil
}

// decodeVarint decodes Git's base/result-size LEB128-like prefix: 7 bits
// per byte, high bit is the continuation flag, least-significant group
// first.
func decodeVarint(b []byte) (uint64, []byte, error) {
	var v uint64
	shift := uint(0)
	for i := 0; ; i++ {
		if i >= len(b) {
			return 0, nil, errkind.New(errkind.BadDeltaChain, "truncated delta size varint")
		}
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, b[i+1:], nil
		}
		shift += 7
	}
}
