package privsep

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/repocore/gitcore/errkind"
	"github.com/repocore/gitcore/objid"
	"github.com/repocore/gitcore/objects"
	"github.com/repocore/gitcore/packfile"
)

func mustID(t *testing.T, b byte) objid.ID {
	t.Helper()
	var raw [objid.Size]byte
	raw[0] = b
	id, err := objid.FromBytes(raw[:])
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	return id
}

func TestFrameRoundTrip(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		if err := writeFrame(pw, MsgObjectRequest, []byte("hello")); err != nil {
			t.Errorf("writeFrame: %v", err)
		}
		pw.Close()
	}()

	f, err := readFrame(pr)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.Type != MsgObjectRequest {
		t.Fatalf("Type = %v, want %v", f.Type, MsgObjectRequest)
	}
	if string(f.Payload) != "hello" {
		t.Fatalf("Payload = %q, want %q", f.Payload, "hello")
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	pr, pw := io.Pipe()
	go func() {
		writeFrame(pw, MsgStop, nil)
		pw.Close()
	}()
	f, err := readFrame(pr)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if f.Type != MsgStop || len(f.Payload) != 0 {
		t.Fatalf("got (%v, %q), want (%v, \"\")", f.Type, f.Payload, MsgStop)
	}
}

func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	pr, pw := io.Pipe()
	pr.Close()
	err := writeFrame(pw, MsgObject, make([]byte, MaxFrameData+1))
	if err == nil {
		t.Fatal("writeFrame: want error for oversize payload, got nil")
	}
}

func TestPayloadObjIDRoundTrip(t *testing.T) {
	id := mustID(t, 0x42)
	b := objIDPayload{ID: id}.marshal()
	got, err := unmarshalObjID(b)
	if err != nil {
		t.Fatalf("unmarshalObjID: %v", err)
	}
	if got.ID != id {
		t.Fatalf("ID = %x, want %x", got.ID, id)
	}
}

func TestPayloadCommitRoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("", -5*3600))
	sig := objects.Signature{Name: "A U Thor", Email: "a@example.com", When: when}
	cp := commitPayload{
		TreeID:    mustID(t, 1),
		ParentIDs: []objid.ID{mustID(t, 2), mustID(t, 3)},
		Author:    sig,
		Committer: sig,
		Encoding:  "UTF-8",
	}
	got, err := unmarshalCommit(cp.marshal())
	if err != nil {
		t.Fatalf("unmarshalCommit: %v", err)
	}
	if got.TreeID != cp.TreeID || len(got.ParentIDs) != 2 || got.Encoding != cp.Encoding {
		t.Fatalf("got %+v, want %+v", got, cp)
	}
	if got.Author.Name != sig.Name || got.Author.Email != sig.Email {
		t.Fatalf("Author = %+v, want %+v", got.Author, sig)
	}
	if !got.Author.When.Equal(when) {
		t.Fatalf("When = %v, want %v", got.Author.When, when)
	}
	if _, off := got.Author.When.Zone(); off != -5*3600 {
		t.Fatalf("zone offset = %d, want %d", off, -5*3600)
	}
}

func TestPayloadTreeEntryRoundTrip(t *testing.T) {
	e := objects.TreeEntry{Name: "main.go", Mode: 0100644, ID: mustID(t, 9)}
	got, err := unmarshalTreeEntry(marshalTreeEntry(e))
	if err != nil {
		t.Fatalf("unmarshalTreeEntry: %v", err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestPayloadBlobInlineVsStreamed(t *testing.T) {
	inline := blobPayload{Size: 3, Data: []byte("abc")}
	got, err := unmarshalBlob(inline.marshal())
	if err != nil {
		t.Fatalf("unmarshalBlob: %v", err)
	}
	if got.Streamed || string(got.Data) != "abc" {
		t.Fatalf("got %+v, want inline %q", got, "abc")
	}

	streamed := blobPayload{Size: 1 << 20, Streamed: true}
	got, err = unmarshalBlob(streamed.marshal())
	if err != nil {
		t.Fatalf("unmarshalBlob: %v", err)
	}
	if !got.Streamed || len(got.Data) != 0 || got.Size != 1<<20 {
		t.Fatalf("got %+v, want streamed, empty data, size 1<<20", got)
	}
}

func TestPayloadErrorRoundTrip(t *testing.T) {
	local := errkind.New(errkind.NoObj, "missing")
	ep := errorFromLocal(local)
	got, err := unmarshalError(ep.marshal())
	if err != nil {
		t.Fatalf("unmarshalError: %v", err)
	}
	hostErr := got.toHostError()
	if !errkind.Is(hostErr, errkind.NoObj) {
		t.Fatalf("toHostError() = %v, want kind NoObj", hostErr)
	}
}

func TestPayloadGitConfigRemoteRoundTrip(t *testing.T) {
	rc := RemoteConfig{Name: "origin", URLs: []string{"https://example.com/r.git"}, Fetch: []string{"+refs/heads/*:refs/remotes/origin/*"}}
	got, err := unmarshalGitConfigRemote(gitConfigRemotePayload{Remote: rc}.marshal())
	if err != nil {
		t.Fatalf("unmarshalGitConfigRemote: %v", err)
	}
	if got.Remote.Name != rc.Name || len(got.Remote.URLs) != 1 || len(got.Remote.Fetch) != 1 {
		t.Fatalf("got %+v, want %+v", got.Remote, rc)
	}
}

// pipeHelper drives a Helper's Serve loop over one end of a socketpair
// until the test body's host-side traffic on the other end completes.
func pipeHelper(t *testing.T) (host *Conn, stop func()) {
	t.Helper()
	h, helper, err := NewSocketpair()
	if err != nil {
		t.Fatalf("NewSocketpair: %v", err)
	}
	helperImpl := NewHelper(helper, packfile.NewDeltaCache(0))
	done := make(chan struct{})
	go func() {
		helperImpl.Serve(context.Background())
		close(done)
	}()
	return h, func() {
		h.Close()
		<-done
	}
}

func TestHostHelperObjectRequestNotFound(t *testing.T) {
	host, stop := pipeHelper(t)
	defer stop()

	hst := NewHost(host)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, err := hst.RequestObject(ctx, mustID(t, 0xaa))
	if err == nil {
		t.Fatal("RequestObject: want error for unknown object, got nil")
	}
	if !errkind.Is(err, errkind.NoObj) {
		t.Fatalf("RequestObject err = %v, want kind NoObj", err)
	}
}

func TestHostHelperStop(t *testing.T) {
	h, helper, err := NewSocketpair()
	if err != nil {
		t.Fatalf("NewSocketpair: %v", err)
	}
	helperImpl := NewHelper(helper, packfile.NewDeltaCache(0))
	done := make(chan error, 1)
	go func() { done <- helperImpl.Serve(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.sendFrame(ctx, MsgStop, nil); err != nil {
		t.Fatalf("sendFrame(MsgStop): %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil after MsgStop", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after MsgStop")
	}
	h.Close()
}
