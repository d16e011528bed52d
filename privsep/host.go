package privsep

import (
	"context"
	"os"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/objects"
	"github.com/repocore/gitcore/packfile"
)

// Host issues typed requests to a helper over a Supervisor's Conn. Every
// method here is built on Conn.call, so the package-wide "no pipelining"
// rule (spec.md §5) holds automatically: a Host is not safe for
// concurrent use by more than one goroutine at a time, matching the
// single helper process behind it.
type Host struct {
	conn *Conn
}

func NewHost(conn *Conn) *Host { return &Host{conn: conn} }

// OpenPackIndex hands idx's fd to the helper, tagging it with packID so a
// later RequestPackedObject can name it.
func (h *Host) OpenPackIndex(ctx context.Context, packID string, idx *os.File) error {
	return h.sendFileRequest(ctx, MsgPackIdx, packFilePayload{PackID: packID}.marshal(), idx)
}

// OpenPack hands pack's fd to the helper under the same packID.
func (h *Host) OpenPack(ctx context.Context, packID string, pack *os.File) error {
	return h.sendFileRequest(ctx, MsgPack, packFilePayload{PackID: packID}.marshal(), pack)
}

func (h *Host) sendFileRequest(ctx context.Context, typ MsgType, payload []byte, f *os.File) error {
	if err := h.conn.sendFD(typ, payload, int(f.Fd())); err != nil {
		return err
	}
	reply, err := h.conn.recvFrame(ctx, 0)
	if err != nil {
		return err
	}
	if reply.Type == MsgError {
		ep, perr := unmarshalError(reply.Payload)
		if perr != nil {
			return perr
		}
		return ep.toHostError()
	}
	return nil
}

// RequestObject fetches the raw (type, bytes) of an object without
// decoding it, the generic object-request/object pair.
func (h *Host) RequestObject(ctx context.Context, id objid.ID) (packfile.ObjectType, []byte, error) {
	f, err := h.conn.call(ctx, MsgObjectRequest, objIDPayload{ID: id}.marshal())
	if err != nil {
		return 0, nil, err
	}
	op, err := unmarshalObject(f.Payload)
	if err != nil {
		return 0, nil, err
	}
	return op.Type, op.Data, nil
}

// RequestPackedObject fetches the raw (type, bytes) of the object at a
// known offset inside an already-opened pack.
func (h *Host) RequestPackedObject(ctx context.Context, packID string, offset int64) (packfile.ObjectType, []byte, error) {
	req := packedObjectRequestPayload{PackID: packID, Offset: offset}
	f, err := h.conn.call(ctx, MsgPackedObjectRequest, req.marshal())
	if err != nil {
		return 0, nil, err
	}
	op, err := unmarshalObject(f.Payload)
	if err != nil {
		return 0, nil, err
	}
	return op.Type, op.Data, nil
}

// RequestCommit fetches and fully decodes a commit, collecting its
// message across however many MsgCommitLogMsg continuation frames the
// helper sent.
func (h *Host) RequestCommit(ctx context.Context, id objid.ID) (*objects.Commit, error) {
	f, err := h.conn.call(ctx, MsgCommitRequest, objIDPayload{ID: id}.marshal())
	if err != nil {
		return nil, err
	}
	cp, err := unmarshalCommit(f.Payload)
	if err != nil {
		return nil, err
	}
	msg, err := h.readTextContinuations(ctx, MsgCommitLogMsg)
	if err != nil {
		return nil, err
	}
	return &objects.Commit{
		ID: id, TreeID: cp.TreeID, ParentIDs: cp.ParentIDs,
		Author: cp.Author, Committer: cp.Committer,
		Message: msg, Encoding: cp.Encoding,
	}, nil
}

// RequestTree fetches and fully decodes a tree, collecting its entries
// across however many MsgTreeEntry continuation frames the helper sent.
func (h *Host) RequestTree(ctx context.Context, id objid.ID) (*objects.Tree, error) {
	f, err := h.conn.call(ctx, MsgTreeRequest, objIDPayload{ID: id}.marshal())
	if err != nil {
		return nil, err
	}
	hdr, err := unmarshalTreeHeader(f.Payload)
	if err != nil {
		return nil, err
	}
	entries := make([]objects.TreeEntry, 0, hdr.EntryCount)
	for i := uint32(0); i < hdr.EntryCount; i++ {
		ef, err := h.conn.recvFrame(ctx, 0)
		if err != nil {
			return nil, err
		}
		if ef.Type != MsgTreeEntry {
			return nil, errkind.New(errkind.PrivsepMsg, "expected tree-entry, got %s", ef.Type)
		}
		e, err := unmarshalTreeEntry(ef.Payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &objects.Tree{ID: id, Entries: entries}, nil
}

// RequestTag fetches and fully decodes an annotated tag, collecting its
// message across however many MsgTagMsg continuation frames the helper
// sent.
func (h *Host) RequestTag(ctx context.Context, id objid.ID) (*objects.Tag, error) {
	f, err := h.conn.call(ctx, MsgTagRequest, objIDPayload{ID: id}.marshal())
	if err != nil {
		return nil, err
	}
	tp, err := unmarshalTag(f.Payload)
	if err != nil {
		return nil, err
	}
	msg, err := h.readTextContinuations(ctx, MsgTagMsg)
	if err != nil {
		return nil, err
	}
	return &objects.Tag{
		ID: id, TargetID: tp.TargetID, TargetType: tp.TargetType,
		Name: tp.Name, Tagger: tp.Tagger, Message: msg,
	}, nil
}

// RequestBlob fetches a blob. If the blob exceeds the inline threshold and
// out is non-nil, its fd is handed to the helper first so the blob is
// streamed directly to out instead of traveling inline; the returned
// *objects.Blob then has a nil Data and the caller must read out itself.
func (h *Host) RequestBlob(ctx context.Context, id objid.ID, out *os.File) (*objects.Blob, error) {
	if out != nil {
		if err := h.conn.sendFD(MsgBlobOutFD, nil, int(out.Fd())); err != nil {
			return nil, err
		}
	}
	f, err := h.conn.call(ctx, MsgBlobRequest, objIDPayload{ID: id}.marshal())
	if err != nil {
		return nil, err
	}
	bp, err := unmarshalBlob(f.Payload)
	if err != nil {
		return nil, err
	}
	if bp.Streamed {
		return &objects.Blob{ID: id, Data: nil}, nil
	}
	return &objects.Blob{ID: id, Data: bp.Data}, nil
}

// readTextContinuations drains continuation frames of the given type until
// a zero-length one marks the end, joining their payloads. A message with
// no continuation at all (empty message) is exactly one empty frame.
func (h *Host) readTextContinuations(ctx context.Context, want MsgType) (string, error) {
	var msg []byte
	for {
		f, err := h.conn.recvFrame(ctx, 0)
		if err != nil {
			return "", err
		}
		if f.Type != want {
			return "", errkind.New(errkind.PrivsepMsg, "expected %s, got %s", want, f.Type)
		}
		if len(f.Payload) == 0 {
			break
		}
		msg = append(msg, f.Payload...)
	}
	return string(msg), nil
}

// GitConfig parses gitconfig text and answers one "subject" question about
// it, collecting the four forms spec.md §4.5 lists
// (int-val/str-val/remote/remotes) under one call.
type GitConfig struct {
	h *Host
}

func (h *Host) GitConfig() *GitConfig { return &GitConfig{h: h} }

func (gc *GitConfig) request(ctx context.Context, text string, req gitConfigParseRequestPayload) (frame, error) {
	req.Text = text
	return gc.h.conn.call(ctx, MsgGitConfigParseRequest, req.marshal())
}

// StrVal returns section.[subsection.]key's raw string value.
func (gc *GitConfig) StrVal(ctx context.Context, text, section, subsection, key string) (string, error) {
	f, err := gc.request(ctx, text, gitConfigParseRequestPayload{
		Subject: subjectStrVal, Section: section, Subsection: subsection, Key: key,
	})
	if err != nil {
		return "", err
	}
	sv, err := unmarshalGitConfigStrVal(f.Payload)
	if err != nil {
		return "", err
	}
	return sv.Value, nil
}

// IntVal returns section.[subsection.]key parsed as an integer, the way
// git itself parses "core.repositoryformatversion" and similar keys.
func (gc *GitConfig) IntVal(ctx context.Context, text, section, subsection, key string) (int64, error) {
	f, err := gc.request(ctx, text, gitConfigParseRequestPayload{
		Subject: subjectIntVal, Section: section, Subsection: subsection, Key: key,
	})
	if err != nil {
		return 0, err
	}
	iv, err := unmarshalGitConfigIntVal(f.Payload)
	if err != nil {
		return 0, err
	}
	return iv.Value, nil
}

// Remote returns the named remote's configuration.
func (gc *GitConfig) Remote(ctx context.Context, text, name string) (RemoteConfig, error) {
	f, err := gc.request(ctx, text, gitConfigParseRequestPayload{Subject: subjectRemote, Subsection: name})
	if err != nil {
		return RemoteConfig{}, err
	}
	rp, err := unmarshalGitConfigRemote(f.Payload)
	if err != nil {
		return RemoteConfig{}, err
	}
	return rp.Remote, nil
}

// Remotes returns every configured remote.
func (gc *GitConfig) Remotes(ctx context.Context, text string) ([]RemoteConfig, error) {
	f, err := gc.request(ctx, text, gitConfigParseRequestPayload{Subject: subjectRemotes})
	if err != nil {
		return nil, err
	}
	rp, err := unmarshalGitConfigRemotes(f.Payload)
	if err != nil {
		return nil, err
	}
	return rp.Remotes, nil
}
