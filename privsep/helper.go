package privsep

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/idxfile"
	"github.com/repocore/gitcore/objects"
	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/packfile"
	"github.com/repocore/gitcore/plumbing/format/config"
)

// Helper is the privilege-dropped side of the connection: it holds the
// pack/index file descriptors the host has handed it and answers typed
// requests by decoding bytes, never touching the filesystem by path
// itself ("the helper drops all privileges except receive-fd/stdio",
// spec.md §4.5).
type Helper struct {
	conn *Conn

	packs   map[string]*packfile.Pack
	idxByID map[string]*idxfile.Index
	cache   *packfile.DeltaCache

	// pendingOutFD holds an fd the host delivered via MsgBlobOutFD, to be
	// consumed by the MsgBlobRequest that immediately follows it.
	pendingOutFD *os.File
}

// NewHelper wraps the helper's end of the socketpair. cache is shared
// across every opened pack, matching how the host-side packfile.Pack.Open
// callers are expected to share one DeltaCache per repository.
func NewHelper(conn *Conn, cache *packfile.DeltaCache) *Helper {
	return &Helper{
		conn:    conn,
		packs:   make(map[string]*packfile.Pack),
		idxByID: make(map[string]*idxfile.Index),
		cache:   cache,
	}
}

// Serve runs the helper's single-threaded request loop until a MsgStop
// arrives or the connection dies, matching spec.md §5's "single-threaded
// cooperative between a pair of processes".
func (h *Helper) Serve(ctx context.Context) error {
	for {
		f, fd, err := h.conn.recvFD(ctx, 0)
		if err != nil {
			if errkind.Is(err, errkind.PrivsepDied) {
				return nil
			}
			return err
		}

		switch f.Type {
		case MsgStop:
			return nil

		case MsgBlobOutFD:
			if fd >= 0 {
				h.pendingOutFD = os.NewFile(uintptr(fd), "privsep-blob-outfd")
			}
			continue // fire-and-forget: the host does not wait for a reply

		case MsgPackIdx:
			h.handleOpenIndex(ctx, f, fd)
		case MsgPack:
			h.handleOpenPack(ctx, f, fd)
		case MsgObjectRequest:
			h.handleObjectRequest(ctx, f)
		case MsgPackedObjectRequest:
			h.handlePackedObjectRequest(ctx, f)
		case MsgCommitRequest:
			h.handleCommitRequest(ctx, f)
		case MsgTreeRequest:
			h.handleTreeRequest(ctx, f)
		case MsgTagRequest:
			h.handleTagRequest(ctx, f)
		case MsgBlobRequest:
			h.handleBlobRequest(ctx, f)
		case MsgGitConfigParseRequest:
			h.handleGitConfigRequest(ctx, f)
		default:
			h.replyError(ctx, errkind.New(errkind.PrivsepMsg, "unexpected message %s", f.Type))
		}
	}
}

func (h *Helper) replyError(ctx context.Context, err error) {
	ep := errorFromLocal(err)
	// A reply send failing has no further recovery within Serve's loop;
	// the connection is presumed dead and the next recvFD will report it.
	_ = h.conn.sendFrame(ctx, MsgError, ep.marshal())
}

func (h *Helper) handleOpenIndex(ctx context.Context, f frame, fd int) {
	pf, err := unmarshalPackFile(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	if fd < 0 {
		h.replyError(ctx, errkind.New(errkind.PrivsepNoFd, "packidx message carried no fd"))
		return
	}
	file := os.NewFile(uintptr(fd), pf.PackID+".idx")
	idx, err := idxfile.Parse(file)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	h.idxByID[pf.PackID] = idx
	_ = h.conn.sendFrame(ctx, MsgPackIdx, nil)
}

func (h *Helper) handleOpenPack(ctx context.Context, f frame, fd int) {
	pf, err := unmarshalPackFile(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	if fd < 0 {
		h.replyError(ctx, errkind.New(errkind.PrivsepNoFd, "pack message carried no fd"))
		return
	}
	idx, ok := h.idxByID[pf.PackID]
	if !ok {
		h.replyError(ctx, errkind.New(errkind.PrivsepMsg, "pack %q opened before its index", pf.PackID))
		return
	}
	file := os.NewFile(uintptr(fd), pf.PackID+".pack")
	// unmap is discarded: the helper process never closes a pack fd
	// mid-run, so any mapping established here simply lives until the
	// helper exits and the OS reclaims it.
	ra, _, err := packfile.OpenFileReaderAt(file)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	pack, err := packfile.Open(ra, idx, pf.PackID, h.cache)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	h.packs[pf.PackID] = pack
	_ = h.conn.sendFrame(ctx, MsgPack, nil)
}

func (h *Helper) resolveByID(id objid.ID) (packfile.ObjectType, []byte, error) {
	for packID, idx := range h.idxByID {
		if !idx.Contains(id) {
			continue
		}
		pack, ok := h.packs[packID]
		if !ok {
			continue
		}
		return pack.ResolveObject(id)
	}
	return 0, nil, errkind.New(errkind.NoObj, "object %s not found in any open pack", id)
}

func (h *Helper) handleObjectRequest(ctx context.Context, f frame) {
	rp, err := unmarshalObjID(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	typ, data, err := h.resolveByID(rp.ID)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	_ = h.conn.sendFrame(ctx, MsgObject, objectPayload{Type: typ, Data: data}.marshal())
}

func (h *Helper) handlePackedObjectRequest(ctx context.Context, f frame) {
	rp, err := unmarshalPackedObjectRequest(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	pack, ok := h.packs[rp.PackID]
	if !ok {
		h.replyError(ctx, errkind.New(errkind.PrivsepMsg, "unknown pack %q", rp.PackID))
		return
	}
	typ, data, err := pack.ResolveAt(rp.Offset)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	_ = h.conn.sendFrame(ctx, MsgObject, objectPayload{Type: typ, Data: data}.marshal())
}

func (h *Helper) handleCommitRequest(ctx context.Context, f frame) {
	rp, err := unmarshalObjID(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	_, data, err := h.resolveByID(rp.ID)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	c, err := objects.DecodeCommit(rp.ID, data)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	cp := commitPayload{TreeID: c.TreeID, ParentIDs: c.ParentIDs, Author: c.Author, Committer: c.Committer, Encoding: c.Encoding}
	if err := h.conn.sendFrame(ctx, MsgCommit, cp.marshal()); err != nil {
		return
	}
	h.sendTextContinuations(ctx, MsgCommitLogMsg, c.Message)
}

func (h *Helper) handleTreeRequest(ctx context.Context, f frame) {
	rp, err := unmarshalObjID(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	_, data, err := h.resolveByID(rp.ID)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	t, err := objects.DecodeTree(rp.ID, data)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	hdr := treeHeaderPayload{EntryCount: uint32(len(t.Entries))}
	if err := h.conn.sendFrame(ctx, MsgTree, hdr.marshal()); err != nil {
		return
	}
	for _, e := range t.Entries {
		if err := h.conn.sendFrame(ctx, MsgTreeEntry, marshalTreeEntry(e)); err != nil {
			return
		}
	}
}

func (h *Helper) handleTagRequest(ctx context.Context, f frame) {
	rp, err := unmarshalObjID(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	_, data, err := h.resolveByID(rp.ID)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	t, err := objects.DecodeTag(rp.ID, data)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	tp := tagPayload{TargetID: t.TargetID, TargetType: t.TargetType, Name: t.Name, Tagger: t.Tagger}
	if err := h.conn.sendFrame(ctx, MsgTag, tp.marshal()); err != nil {
		return
	}
	h.sendTextContinuations(ctx, MsgTagMsg, t.Message)
}

// sendTextContinuations splits msg into MaxFrameData-sized chunks and
// sends one continuation frame per chunk, followed by a single empty
// frame that marks the end - Host.readTextContinuations' counterpart.
func (h *Helper) sendTextContinuations(ctx context.Context, typ MsgType, msg string) {
	b := []byte(msg)
	for len(b) > 0 {
		n := len(b)
		if n > MaxFrameData {
			n = MaxFrameData
		}
		if err := h.conn.sendFrame(ctx, typ, b[:n]); err != nil {
			return
		}
		b = b[n:]
	}
	_ = h.conn.sendFrame(ctx, typ, nil)
}

func (h *Helper) handleBlobRequest(ctx context.Context, f frame) {
	rp, err := unmarshalObjID(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	_, data, err := h.resolveByID(rp.ID)
	if err != nil {
		h.replyError(ctx, err)
		return
	}

	outFD := h.pendingOutFD
	h.pendingOutFD = nil

	if len(data) <= blobInlineThreshold || outFD == nil {
		_ = h.conn.sendFrame(ctx, MsgBlob, blobPayload{Size: uint64(len(data)), Data: data}.marshal())
		return
	}

	defer outFD.Close()
	if _, err := outFD.Write(data); err != nil {
		h.replyError(ctx, errkind.Wrap(errkind.IO, err))
		return
	}
	_ = h.conn.sendFrame(ctx, MsgBlob, blobPayload{Size: uint64(len(data)), Streamed: true}.marshal())
}

func (h *Helper) handleGitConfigRequest(ctx context.Context, f frame) {
	rp, err := unmarshalGitConfigParseRequest(f.Payload)
	if err != nil {
		h.replyError(ctx, err)
		return
	}
	cfg := config.New()
	if err := config.NewDecoder(strings.NewReader(rp.Text)).Decode(cfg); err != nil {
		h.replyError(ctx, errkind.Wrap(errkind.IO, err))
		return
	}

	switch rp.Subject {
	case subjectStrVal:
		v := cfg.GetOption(rp.Section, rp.Subsection, rp.Key)
		_ = h.conn.sendFrame(ctx, MsgGitConfigStrVal, gitConfigStrValPayload{Value: v}.marshal())

	case subjectIntVal:
		v := cfg.GetOption(rp.Section, rp.Subsection, rp.Key)
		n, perr := parseConfigInt(v)
		if perr != nil {
			h.replyError(ctx, perr)
			return
		}
		_ = h.conn.sendFrame(ctx, MsgGitConfigIntVal, gitConfigIntValPayload{Value: n}.marshal())

	case subjectRemote:
		rc, err := remoteFromConfig(cfg, rp.Subsection)
		if err != nil {
			h.replyError(ctx, err)
			return
		}
		_ = h.conn.sendFrame(ctx, MsgGitConfigRemote, gitConfigRemotePayload{Remote: rc}.marshal())

	case subjectRemotes:
		var remotes []RemoteConfig
		if sec := cfg.Section("remote"); sec != nil {
			for _, sub := range sec.Subsections {
				rc, err := remoteFromConfig(cfg, sub.Name)
				if err != nil {
					h.replyError(ctx, err)
					return
				}
				remotes = append(remotes, rc)
			}
		}
		_ = h.conn.sendFrame(ctx, MsgGitConfigRemotes, gitConfigRemotesPayload{Remotes: remotes}.marshal())

	default:
		h.replyError(ctx, errkind.New(errkind.PrivsepMsg, "unknown gitconfig subject %d", rp.Subject))
	}
}


// parseConfigInt parses a gitconfig integer value, accepting the k/m/g
// unit suffixes git itself allows (e.g. "core.packedGitWindowSize = 32m").
func parseConfigInt(v string) (int64, error) {
	if v == "" {
		return 0, errkind.New(errkind.BadObjData, "empty gitconfig integer value")
	}
	mult := int64(1)
	switch v[len(v)-1] {
	case 'k', 'K':
		mult, v = 1024, v[:len(v)-1]
	case 'm', 'M':
		mult, v = 1024*1024, v[:len(v)-1]
	case 'g', 'G':
		mult, v = 1024*1024*1024, v[:len(v)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, errkind.Wrap(errkind.BadObjData, err)
	}
	return n * mult, nil
}

// remoteFromConfig reads a [remote "name"] subsection the way git itself
// stores it: every url value and zero or more fetch refspecs.
func remoteFromConfig(cfg *config.Config, name string) (RemoteConfig, error) {
	sec := cfg.Section("remote")
	if sec == nil || !sec.HasSubsection(name) {
		return RemoteConfig{}, errkind.New(errkind.NoObj, "no remote %q configured", name)
	}
	return RemoteConfig{
		Name:  name,
		URLs:  cfg.GetAllOptions("remote", name, "url"),
		Fetch: cfg.GetAllOptions("remote", name, "fetch"),
	}, nil
}
