package privsep

import (
	"encoding/binary"
	"syscall"
	"time"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/objects"
	"github.com/repocore/gitcore/packfile"
)

// fixedZone and secToTime round-trip a signature's timestamp through the
// wire's (unix-seconds, zone-offset-seconds) pair, mirroring
// objects.Signature.String's own "<epoch> <zone>" wire representation.
func fixedZone(offsetSeconds int32) *time.Location {
	return time.FixedZone("", int(offsetSeconds))
}

func secToTime(sec int64, loc *time.Location) time.Time {
	return time.Unix(sec, 0).In(loc)
}

// payloadWriter and payloadReader are small append-only/consume-only byte
// cursors, the same shape as go-git's utils/binary.Write helpers but
// collected here rather than imported: that package's companion read.go
// never survived retrieval, and what remains of it is built around
// plumbing.Hash, an abstraction gitcore replaced with the fixed-size
// objid.ID (see objid.go's doc comment) - reconstructing it would mean
// reintroducing the abstraction this package deliberately dropped.
type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) byte(b byte)     { w.buf = append(w.buf, b) }
func (w *payloadWriter) bytes(b []byte)  { w.buf = append(w.buf, b...) }
func (w *payloadWriter) id(id objid.ID)  { w.buf = append(w.buf, id[:]...) }
func (w *payloadWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *payloadWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}
func (w *payloadWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

type payloadReader struct {
	buf []byte
	pos int
}

func newPayloadReader(b []byte) *payloadReader { return &payloadReader{buf: b} }

func (r *payloadReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return errkind.New(errkind.PrivsepMsg, "truncated payload: need %d more bytes", n)
	}
	return nil
}

func (r *payloadReader) byteVal() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *payloadReader) id() (objid.ID, error) {
	if err := r.need(objid.Size); err != nil {
		return objid.Zero, err
	}
	id, _ := objid.FromBytes(r.buf[r.pos : r.pos+objid.Size])
	r.pos += objid.Size
	return id, nil
}

func (r *payloadReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *payloadReader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *payloadReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *payloadReader) rest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// errorPayload carries the error-frame contract of spec.md §4.5: a kind
// tag and, when the kind is errno, the OS errno value.
type errorPayload struct {
	Kind  errkind.Kind
	Errno syscall.Errno
}

func (p errorPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(uint32(p.Kind))
	w.u32(uint32(p.Errno))
	return w.buf
}

func unmarshalError(b []byte) (errorPayload, error) {
	r := newPayloadReader(b)
	k, err := r.u32()
	if err != nil {
		return errorPayload{}, err
	}
	e, err := r.u32()
	if err != nil {
		return errorPayload{}, err
	}
	return errorPayload{Kind: errkind.Kind(k), Errno: syscall.Errno(e)}, nil
}

// toHostError turns a received error frame into the *errkind.Error a host
// caller sees, restoring an errno-kind error to a real syscall.Errno
// instead of a bare code.
func (p errorPayload) toHostError() error {
	if p.Kind == errkind.Errno {
		return errkind.FromErrno(p.Errno)
	}
	return errkind.New(p.Kind, "helper reported %s", p.Kind)
}

// errorFromLocal maps a local error (one the helper hit while servicing a
// request) to the wire's errorPayload, unwrapping *errkind.Error when
// possible and otherwise falling back to a generic IO kind.
func errorFromLocal(err error) errorPayload {
	if ce, ok := err.(*errkind.Error); ok {
		if ce.Kind == errkind.Errno {
			return errorPayload{Kind: errkind.Errno, Errno: ce.Errno}
		}
		return errorPayload{Kind: ce.Kind}
	}
	if errno, ok := asErrno(err); ok {
		return errorPayload{Kind: errkind.Errno, Errno: errno}
	}
	return errorPayload{Kind: errkind.IO}
}

func asErrno(err error) (syscall.Errno, bool) {
	e, ok := err.(syscall.Errno)
	return e, ok
}

// objIDPayload is shared by every *-request message that names a single
// object id (object-request, commit-request, tree-request, tag-request,
// blob-request).
type objIDPayload struct {
	ID objid.ID
}

func (p objIDPayload) marshal() []byte {
	w := &payloadWriter{}
	w.id(p.ID)
	return w.buf
}

func unmarshalObjID(b []byte) (objIDPayload, error) {
	r := newPayloadReader(b)
	id, err := r.id()
	if err != nil {
		return objIDPayload{}, err
	}
	return objIDPayload{ID: id}, nil
}

// objectPayload answers a generic object-request without decoding the
// object: the raw (type, bytes) pair packfile.Pack.ResolveObject produces.
type objectPayload struct {
	Type packfile.ObjectType
	Data []byte
}

func (p objectPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(uint32(p.Type))
	w.bytes(p.Data)
	return w.buf
}

func unmarshalObject(b []byte) (objectPayload, error) {
	r := newPayloadReader(b)
	t, err := r.u32()
	if err != nil {
		return objectPayload{}, err
	}
	return objectPayload{Type: packfile.ObjectType(t), Data: r.rest()}, nil
}

// commitPayload carries everything about a commit except its message,
// which follows as one or more MsgCommitLogMsg continuation frames (a
// commit's message has no fixed bound, unlike the rest of its header).
type commitPayload struct {
	TreeID    objid.ID
	ParentIDs []objid.ID
	Author    objects.Signature
	Committer objects.Signature
	Encoding  string
}

func marshalSignature(w *payloadWriter, s objects.Signature) {
	w.str(s.Name)
	w.str(s.Email)
	w.u64(uint64(s.When.Unix()))
	_, offset := s.When.Zone()
	w.u32(uint32(int32(offset)))
}

func unmarshalSignature(r *payloadReader) (objects.Signature, error) {
	name, err := r.str()
	if err != nil {
		return objects.Signature{}, err
	}
	email, err := r.str()
	if err != nil {
		return objects.Signature{}, err
	}
	sec, err := r.u64()
	if err != nil {
		return objects.Signature{}, err
	}
	offset, err := r.u32()
	if err != nil {
		return objects.Signature{}, err
	}
	loc := fixedZone(int32(offset))
	return objects.Signature{Name: name, Email: email, When: secToTime(int64(sec), loc)}, nil
}

func (p commitPayload) marshal() []byte {
	w := &payloadWriter{}
	w.id(p.TreeID)
	w.u32(uint32(len(p.ParentIDs)))
	for _, id := range p.ParentIDs {
		w.id(id)
	}
	marshalSignature(w, p.Author)
	marshalSignature(w, p.Committer)
	w.str(p.Encoding)
	return w.buf
}

func unmarshalCommit(b []byte) (commitPayload, error) {
	r := newPayloadReader(b)
	tree, err := r.id()
	if err != nil {
		return commitPayload{}, err
	}
	n, err := r.u32()
	if err != nil {
		return commitPayload{}, err
	}
	parents := make([]objid.ID, n)
	for i := range parents {
		parents[i], err = r.id()
		if err != nil {
			return commitPayload{}, err
		}
	}
	author, err := unmarshalSignature(r)
	if err != nil {
		return commitPayload{}, err
	}
	committer, err := unmarshalSignature(r)
	if err != nil {
		return commitPayload{}, err
	}
	enc, err := r.str()
	if err != nil {
		return commitPayload{}, err
	}
	return commitPayload{TreeID: tree, ParentIDs: parents, Author: author, Committer: committer, Encoding: enc}, nil
}

// treeHeaderPayload precedes a tree's entries: how many MsgTreeEntry
// continuation frames to expect.
type treeHeaderPayload struct {
	EntryCount uint32
}

func (p treeHeaderPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(p.EntryCount)
	return w.buf
}

func unmarshalTreeHeader(b []byte) (treeHeaderPayload, error) {
	r := newPayloadReader(b)
	n, err := r.u32()
	if err != nil {
		return treeHeaderPayload{}, err
	}
	return treeHeaderPayload{EntryCount: n}, nil
}

func marshalTreeEntry(e objects.TreeEntry) []byte {
	w := &payloadWriter{}
	w.u32(e.Mode)
	w.id(e.ID)
	w.str(e.Name)
	return w.buf
}

func unmarshalTreeEntry(b []byte) (objects.TreeEntry, error) {
	r := newPayloadReader(b)
	mode, err := r.u32()
	if err != nil {
		return objects.TreeEntry{}, err
	}
	id, err := r.id()
	if err != nil {
		return objects.TreeEntry{}, err
	}
	name, err := r.str()
	if err != nil {
		return objects.TreeEntry{}, err
	}
	return objects.TreeEntry{Name: name, Mode: mode, ID: id}, nil
}

// tagPayload carries everything about an annotated tag except its
// message, which follows as MsgTagMsg continuation frames.
type tagPayload struct {
	TargetID   objid.ID
	TargetType packfile.ObjectType
	Name       string
	Tagger     objects.Signature
}

func (p tagPayload) marshal() []byte {
	w := &payloadWriter{}
	w.id(p.TargetID)
	w.u32(uint32(p.TargetType))
	w.str(p.Name)
	marshalSignature(w, p.Tagger)
	return w.buf
}

func unmarshalTag(b []byte) (tagPayload, error) {
	r := newPayloadReader(b)
	target, err := r.id()
	if err != nil {
		return tagPayload{}, err
	}
	typ, err := r.u32()
	if err != nil {
		return tagPayload{}, err
	}
	name, err := r.str()
	if err != nil {
		return tagPayload{}, err
	}
	tagger, err := unmarshalSignature(r)
	if err != nil {
		return tagPayload{}, err
	}
	return tagPayload{TargetID: target, TargetType: packfile.ObjectType(typ), Name: name, Tagger: tagger}, nil
}

// blobPayload answers a blob-request. When Data is nil and Streamed is
// true, the blob's bytes were written to the fd the requester supplied
// via MsgBlobOutFD instead of travelling inline.
type blobPayload struct {
	Size     uint64
	Data     []byte
	Streamed bool
}

func (p blobPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u64(p.Size)
	if p.Streamed {
		w.byte(1)
	} else {
		w.byte(0)
	}
	w.bytes(p.Data)
	return w.buf
}

func unmarshalBlob(b []byte) (blobPayload, error) {
	r := newPayloadReader(b)
	size, err := r.u64()
	if err != nil {
		return blobPayload{}, err
	}
	streamedByte, err := r.byteVal()
	if err != nil {
		return blobPayload{}, err
	}
	return blobPayload{Size: size, Streamed: streamedByte != 0, Data: r.rest()}, nil
}

// packFilePayload names the pack id attached to an fd delivered alongside
// MsgPackIdx/MsgPack.
type packFilePayload struct {
	PackID string
}

func (p packFilePayload) marshal() []byte {
	w := &payloadWriter{}
	w.str(p.PackID)
	return w.buf
}

func unmarshalPackFile(b []byte) (packFilePayload, error) {
	r := newPayloadReader(b)
	id, err := r.str()
	if err != nil {
		return packFilePayload{}, err
	}
	return packFilePayload{PackID: id}, nil
}

// packedObjectRequestPayload addresses an object by its byte offset within
// an already-opened pack, per spec.md §4.5's packed-object-request.
type packedObjectRequestPayload struct {
	PackID string
	Offset int64
}

func (p packedObjectRequestPayload) marshal() []byte {
	w := &payloadWriter{}
	w.str(p.PackID)
	w.u64(uint64(p.Offset))
	return w.buf
}

func unmarshalPackedObjectRequest(b []byte) (packedObjectRequestPayload, error) {
	r := newPayloadReader(b)
	id, err := r.str()
	if err != nil {
		return packedObjectRequestPayload{}, err
	}
	off, err := r.u64()
	if err != nil {
		return packedObjectRequestPayload{}, err
	}
	return packedObjectRequestPayload{PackID: id, Offset: int64(off)}, nil
}

// gitConfigSubject selects what a gitconfig-parse-request is actually
// asking for, once the accompanying config text has been parsed: a single
// int-valued or string-valued option, one named remote, or every remote.
// This collects the "various subject requests" spec.md §4.5 mentions into
// one request shape instead of one message type per subject.
type gitConfigSubject uint8

const (
	subjectStrVal gitConfigSubject = iota
	subjectIntVal
	subjectRemote
	subjectRemotes
)

type gitConfigParseRequestPayload struct {
	Text       string
	Subject    gitConfigSubject
	Section    string
	Subsection string
	Key        string
}

func (p gitConfigParseRequestPayload) marshal() []byte {
	w := &payloadWriter{}
	w.str(p.Text)
	w.byte(byte(p.Subject))
	w.str(p.Section)
	w.str(p.Subsection)
	w.str(p.Key)
	return w.buf
}

func unmarshalGitConfigParseRequest(b []byte) (gitConfigParseRequestPayload, error) {
	r := newPayloadReader(b)
	text, err := r.str()
	if err != nil {
		return gitConfigParseRequestPayload{}, err
	}
	subj, err := r.byteVal()
	if err != nil {
		return gitConfigParseRequestPayload{}, err
	}
	section, err := r.str()
	if err != nil {
		return gitConfigParseRequestPayload{}, err
	}
	subsection, err := r.str()
	if err != nil {
		return gitConfigParseRequestPayload{}, err
	}
	key, err := r.str()
	if err != nil {
		return gitConfigParseRequestPayload{}, err
	}
	return gitConfigParseRequestPayload{
		Text: text, Subject: gitConfigSubject(subj),
		Section: section, Subsection: subsection, Key: key,
	}, nil
}

type gitConfigIntValPayload struct{ Value int64 }

func (p gitConfigIntValPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u64(uint64(p.Value))
	return w.buf
}

func unmarshalGitConfigIntVal(b []byte) (gitConfigIntValPayload, error) {
	r := newPayloadReader(b)
	v, err := r.u64()
	if err != nil {
		return gitConfigIntValPayload{}, err
	}
	return gitConfigIntValPayload{Value: int64(v)}, nil
}

type gitConfigStrValPayload struct{ Value string }

func (p gitConfigStrValPayload) marshal() []byte {
	w := &payloadWriter{}
	w.str(p.Value)
	return w.buf
}

func unmarshalGitConfigStrVal(b []byte) (gitConfigStrValPayload, error) {
	r := newPayloadReader(b)
	v, err := r.str()
	if err != nil {
		return gitConfigStrValPayload{}, err
	}
	return gitConfigStrValPayload{Value: v}, nil
}

// RemoteConfig is one "remote.<name>" section's relevant fields.
type RemoteConfig struct {
	Name  string
	URLs  []string
	Fetch []string
}

type gitConfigRemotePayload struct{ Remote RemoteConfig }

func (p gitConfigRemotePayload) marshal() []byte {
	w := &payloadWriter{}
	marshalRemote(w, p.Remote)
	return w.buf
}

func marshalRemote(w *payloadWriter, rc RemoteConfig) {
	w.str(rc.Name)
	w.u32(uint32(len(rc.URLs)))
	for _, u := range rc.URLs {
		w.str(u)
	}
	w.u32(uint32(len(rc.Fetch)))
	for _, f := range rc.Fetch {
		w.str(f)
	}
}

func unmarshalRemote(r *payloadReader) (RemoteConfig, error) {
	name, err := r.str()
	if err != nil {
		return RemoteConfig{}, err
	}
	n, err := r.u32()
	if err != nil {
		return RemoteConfig{}, err
	}
	urls := make([]string, n)
	for i := range urls {
		urls[i], err = r.str()
		if err != nil {
			return RemoteConfig{}, err
		}
	}
	n, err = r.u32()
	if err != nil {
		return RemoteConfig{}, err
	}
	fetch := make([]string, n)
	for i := range fetch {
		fetch[i], err = r.str()
		if err != nil {
			return RemoteConfig{}, err
		}
	}
	return RemoteConfig{Name: name, URLs: urls, Fetch: fetch}, nil
}

func unmarshalGitConfigRemote(b []byte) (gitConfigRemotePayload, error) {
	r := newPayloadReader(b)
	rc, err := unmarshalRemote(r)
	if err != nil {
		return gitConfigRemotePayload{}, err
	}
	return gitConfigRemotePayload{Remote: rc}, nil
}

type gitConfigRemotesPayload struct{ Remotes []RemoteConfig }

func (p gitConfigRemotesPayload) marshal() []byte {
	w := &payloadWriter{}
	w.u32(uint32(len(p.Remotes)))
	for _, rc := range p.Remotes {
		marshalRemote(w, rc)
	}
	return w.buf
}

func unmarshalGitConfigRemotes(b []byte) (gitConfigRemotesPayload, error) {
	r := newPayloadReader(b)
	n, err := r.u32()
	if err != nil {
		return gitConfigRemotesPayload{}, err
	}
	remotes := make([]RemoteConfig, n)
	for i := range remotes {
		remotes[i], err = unmarshalRemote(r)
		if err != nil {
			return gitConfigRemotesPayload{}, err
		}
	}
	return gitConfigRemotesPayload{Remotes: remotes}, nil
}
