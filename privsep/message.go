// Package privsep implements the length-prefixed, typed-message RPC that
// spec.md §4.5 describes between the main process and a privilege-dropped
// parsing helper: the parent holds file descriptors and dispatches
// requests; the helper decodes pack/index/config bytes and returns
// structured results, never touching the filesystem itself beyond the fds
// it is handed.
//
// Grounded on two sources. The supervisor lifecycle (fork+exec, a
// context-scoped subprocess, graceful-then-kill shutdown) follows
// gg-scm-gg-git's git.go, which drives a `git` subprocess the same way;
// that package's shutdown helper lives in an internal/sigterm package that
// did not survive retrieval, so Supervisor.Stop reimplements the same
// SIGTERM-then-deadline-then-kill shape directly. Frame encode/decode
// follows go-git's utils/binary (fixed-width BigEndian helpers) and
// plumbing/format/idxfile's habit of reading a small fixed header with
// io.ReadFull before trusting any length it contains.
package privsep

import (
	"encoding/binary"
	"io"

	"github.com/repocore/gitcore/errkind"
)

// MsgType tags a frame's payload, one value per message spec.md §4.5
// enumerates.
type MsgType uint8

const (
	MsgError MsgType = iota
	MsgStop

	MsgObjectRequest
	MsgObject

	MsgCommitRequest
	MsgCommit
	MsgCommitLogMsg // continuation: a chunk of a commit's message

	MsgTreeRequest
	MsgTree
	MsgTreeEntry // continuation: one tree entry

	MsgTagRequest
	MsgTag
	MsgTagMsg // continuation: a chunk of a tag's message

	MsgBlobRequest
	MsgBlob
	MsgBlobOutFD // host->helper: fd to stream a large blob into

	MsgTmpFD // host->helper: a spare writable fd, for streaming replies

	MsgPackIdx // host->helper: fd for a pack index, plus its id
	MsgPack    // host->helper: fd for a pack file, plus its id

	MsgPackedObjectRequest

	MsgGitConfigParseRequest
	MsgGitConfigIntVal
	MsgGitConfigStrVal
	MsgGitConfigRemote
	MsgGitConfigRemotes
)

func (t MsgType) String() string {
	switch t {
	case MsgError:
		return "error"
	case MsgStop:
		return "stop"
	case MsgObjectRequest:
		return "object-request"
	case MsgObject:
		return "object"
	case MsgCommitRequest:
		return "commit-request"
	case MsgCommit:
		return "commit"
	case MsgCommitLogMsg:
		return "commit-logmsg"
	case MsgTreeRequest:
		return "tree-request"
	case MsgTree:
		return "tree"
	case MsgTreeEntry:
		return "tree-entry"
	case MsgTagRequest:
		return "tag-request"
	case MsgTag:
		return "tag"
	case MsgTagMsg:
		return "tag-tagmsg"
	case MsgBlobRequest:
		return "blob-request"
	case MsgBlob:
		return "blob"
	case MsgBlobOutFD:
		return "blob-outfd"
	case MsgTmpFD:
		return "tmpfd"
	case MsgPackIdx:
		return "packidx"
	case MsgPack:
		return "pack"
	case MsgPackedObjectRequest:
		return "packed-object-request"
	case MsgGitConfigParseRequest:
		return "gitconfig-parse-request"
	case MsgGitConfigIntVal:
		return "gitconfig-int-val"
	case MsgGitConfigStrVal:
		return "gitconfig-str-val"
	case MsgGitConfigRemote:
		return "gitconfig-remote"
	case MsgGitConfigRemotes:
		return "gitconfig-remotes"
	default:
		return "unknown"
	}
}

const (
	// frameHeaderSize is the 4-byte length prefix plus the 1-byte type tag
	// that precede every frame's payload.
	frameHeaderSize = 5

	// MaxFrameData bounds a single frame's payload, per spec.md §4.5's
	// "implementation-defined, e.g. 16 KiB minus header". Payloads that
	// would not fit (a commit's log message, a tree's entry list, a tag's
	// message) are split across continuation messages instead.
	MaxFrameData = 16*1024 - frameHeaderSize

	// blobInlineThreshold is the largest blob payload that travels inline
	// in a single MsgBlob frame; anything bigger requires the requester to
	// have supplied an output fd via MsgBlobOutFD first. The MsgBlob
	// payload spends 9 bytes (8-byte size, 1-byte streamed flag) ahead of
	// the blob's data, so the threshold leaves room for them.
	blobInlineThreshold = MaxFrameData - 9
)

// frame is one decoded message off the wire.
type frame struct {
	Type    MsgType
	Payload []byte
}

// writeFrame writes typ and payload as a single frame: a 4-byte BigEndian
// length (covering the type byte and payload), the type byte, then the
// payload.
func writeFrame(w io.Writer, typ MsgType, payload []byte) error {
	if len(payload) > MaxFrameData {
		return errkind.New(errkind.PrivsepMsg, "frame payload %d exceeds max %d", len(payload), MaxFrameData)
	}
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(payload)+1))
	hdr[4] = byte(typ)
	if _, err := w.Write(hdr[:]); err != nil {
		return errkind.Wrap(errkind.PrivsepPipe, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errkind.Wrap(errkind.PrivsepPipe, err)
	}
	return nil
}

// readFrame reads one frame from r, per writeFrame's layout.
func readFrame(r io.Reader) (frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return frame{}, errkind.Wrap(errkind.PrivsepDied, err)
		}
		return frame{}, errkind.Wrap(errkind.PrivsepRead, err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > MaxFrameData+1 {
		return frame{}, errkind.New(errkind.PrivsepLen, "frame length %d out of range", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, errkind.Wrap(errkind.PrivsepRead, err)
	}
	return frame{Type: MsgType(body[0]), Payload: body[1:]}, nil
}
