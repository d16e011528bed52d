package privsep

import (
	"context"
	"io"
	"time"

	ctxio "github.com/jbenet/go-context/io"
	"golang.org/x/sys/unix"

	"github.com/repocore/gitcore/errkind"
)

// DefaultTimeout bounds how long a single request waits for its reply
// before Conn.call returns a Timeout error, per spec.md §4.5's
// "configurable timeout".
const DefaultTimeout = 30 * time.Second

// Conn is one end of the socketpair connecting the host and a helper. It
// implements the single-threaded, non-pipelined request/reply cycle of
// spec.md §5: at most one call in flight at a time, each one blocking on
// a poll for readability before it attempts to read the reply.
//
// Grounded on golang.org/x/sys/unix for Socketpair/UnixRights (there is no
// portable way to pass a file descriptor through net.Conn) and on
// github.com/jbenet/go-context/io to make the blocking Read/Write
// themselves cancellable by ctx, so a caller's context deadline or a
// Supervisor shutdown can interrupt a call waiting on a wedged helper.
type Conn struct {
	fd      int
	Timeout time.Duration
}

// newConn wraps an already-connected socketpair fd. The fd is not set
// non-blocking: poll's readability wait, not a non-blocking read loop, is
// what makes the call timeout-bounded.
func newConn(fd int) *Conn {
	return &Conn{fd: fd, Timeout: DefaultTimeout}
}

// NewSocketpair creates a connected pair of Conns suitable for handing one
// end to a forked child (via ExtraFiles) and keeping the other in the
// host, per spec.md §4.5's "parent forks+executes a helper, passing a
// socket pair".
func NewSocketpair() (host, helper *Conn, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.PrivsepPipe, err)
	}
	return newConn(fds[0]), newConn(fds[1]), nil
}

// Fd exposes the raw descriptor so a Supervisor can list it in a forked
// child's ExtraFiles; Close must not be called on the host's copy once
// ownership has passed to the child process via fork+exec.
func (c *Conn) Fd() int { return c.fd }

func (c *Conn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	if err != nil {
		return errkind.Wrap(errkind.PrivsepPipe, err)
	}
	return nil
}

// Read and Write let Conn satisfy io.Reader/io.Writer so ctxio can wrap it.
func (c *Conn) Read(p []byte) (int, error)  { return unix.Read(c.fd, p) }
func (c *Conn) Write(p []byte) (int, error) { return unix.Write(c.fd, p) }

// waitReadable blocks until the fd is readable, ctx is done, or timeout
// elapses, per spec.md §4.5's poll-based blocking scheduling model.
func (c *Conn) waitReadable(ctx context.Context, timeout time.Duration) error {
	deadline := timeout
	if deadline <= 0 {
		deadline = c.Timeout
	}
	msDeadline := int(deadline / time.Millisecond)
	if msDeadline <= 0 {
		msDeadline = 1
	}

	done := make(chan error, 1)
	go func() {
		fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, msDeadline)
		switch {
		case err != nil:
			done <- errkind.Wrap(errkind.PrivsepRead, err)
		case n == 0:
			done <- errkind.New(errkind.Timeout, "privsep: no reply within %s", deadline)
		default:
			done <- nil
		}
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errkind.Wrap(errkind.Interrupt, ctx.Err())
	}
}

// sendFrame writes one frame, wrapping the write in ctx so a caller can
// abandon a wedged helper instead of blocking forever on a full socket
// buffer.
func (c *Conn) sendFrame(ctx context.Context, typ MsgType, payload []byte) error {
	w := ctxio.NewWriter(ctx, c)
	return writeFrame(w, typ, payload)
}

// recvFrame waits for the fd to become readable (bounded by timeout, or
// Conn.Timeout if timeout <= 0) and then reads one frame.
func (c *Conn) recvFrame(ctx context.Context, timeout time.Duration) (frame, error) {
	if err := c.waitReadable(ctx, timeout); err != nil {
		return frame{}, err
	}
	r := ctxio.NewReader(ctx, c)
	return readFrame(r)
}

// call sends one request frame and waits for its reply, translating an
// MsgError reply into a host error. This is the only request/reply
// primitive every typed RPC in host.go is built from, enforcing spec.md
// §5's "no pipelining: one outstanding request per helper at a time" by
// construction - nothing in this package ever calls sendFrame again before
// the matching recvFrame returns.
func (c *Conn) call(ctx context.Context, reqType MsgType, reqPayload []byte) (frame, error) {
	if err := c.sendFrame(ctx, reqType, reqPayload); err != nil {
		return frame{}, err
	}
	f, err := c.recvFrame(ctx, 0)
	if err != nil {
		return frame{}, err
	}
	if f.Type == MsgError {
		ep, perr := unmarshalError(f.Payload)
		if perr != nil {
			return frame{}, perr
		}
		return frame{}, ep.toHostError()
	}
	return f, nil
}

// sendFD passes fd to the peer as ancillary data alongside a frame whose
// payload is msgPayload, the mechanism spec.md §4.5 uses for packidx/pack/
// blob-outfd/tmpfd delivery: the frame's own bytes identify what the fd is
// for, the fd itself travels out-of-band via SCM_RIGHTS.
func (c *Conn) sendFD(typ MsgType, msgPayload []byte, fd int) error {
	var hdr [frameHeaderSize]byte
	putFrameHeader(hdr[:], typ, len(msgPayload))
	oob := unix.UnixRights(fd)
	if err := unix.Sendmsg(c.fd, hdr[:], oob, nil, 0); err != nil {
		return errkind.Wrap(errkind.PrivsepPipe, err)
	}
	if len(msgPayload) > 0 {
		if _, err := unix.Write(c.fd, msgPayload); err != nil {
			return errkind.Wrap(errkind.PrivsepPipe, err)
		}
	}
	return nil
}

// recvFD reads one frame the way recvFrame does, but also extracts a
// single passed file descriptor from the frame's ancillary data. It is
// used only by the helper side, which expects exactly one fd per
// packidx/pack/blob-outfd/tmpfd frame; a frame of that type carrying no fd
// is a protocol error (PrivsepNoFd).
func (c *Conn) recvFD(ctx context.Context, timeout time.Duration) (frame, int, error) {
	if err := c.waitReadable(ctx, timeout); err != nil {
		return frame{}, -1, err
	}

	var hdr [frameHeaderSize]byte
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(c.fd, hdr[:], oob, 0)
	if err != nil {
		return frame{}, -1, errkind.Wrap(errkind.PrivsepRead, err)
	}
	if n == 0 {
		return frame{}, -1, errkind.New(errkind.PrivsepDied, "peer closed the connection")
	}
	if n < frameHeaderSize {
		return frame{}, -1, errkind.New(errkind.PrivsepLen, "short header on fd-bearing frame")
	}
	typ, bodyLen := parseFrameHeader(hdr[:])

	fd := -1
	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
		if err == nil && len(cmsgs) > 0 {
			if fds, err := unix.ParseUnixRights(&cmsgs[0]); err == nil && len(fds) > 0 {
				fd = fds[0]
			}
		}
	}

	payload := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(ctxio.NewReader(ctx, c), payload); err != nil {
			return frame{}, fd, errkind.Wrap(errkind.PrivsepRead, err)
		}
	}
	return frame{Type: typ, Payload: payload}, fd, nil
}

// putFrameHeader/parseFrameHeader factor the header layout writeFrame/
// readFrame use, so sendFD/recvFD (which must interleave the header with
// an out-of-band Sendmsg/Recvmsg call) stay byte-compatible with the
// ordinary frame path.
func putFrameHeader(hdr []byte, typ MsgType, payloadLen int) {
	hdr[0] = byte(uint32(payloadLen+1) >> 24)
	hdr[1] = byte(uint32(payloadLen+1) >> 16)
	hdr[2] = byte(uint32(payloadLen+1) >> 8)
	hdr[3] = byte(uint32(payloadLen + 1))
	hdr[4] = byte(typ)
}

func parseFrameHeader(hdr []byte) (MsgType, int) {
	n := uint32(hdr[0])<<24 | uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
	return MsgType(hdr[4]), int(n) - 1
}
