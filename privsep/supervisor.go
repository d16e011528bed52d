package privsep

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/repocore/gitcore/errkind"
)

// ShutdownGrace is how long Supervisor.Stop waits after SIGTERM before it
// escalates to SIGKILL, the same two-step shutdown gg-scm-gg-git's git.go
// drives a `git` subprocess with (there via an internal/sigterm package
// that did not survive retrieval).
const ShutdownGrace = 2 * time.Second

// Supervisor forks and execs a privsep helper, holding the host end of the
// socketpair passed to it and the *os.Process needed to wait for it to
// exit.
type Supervisor struct {
	cmd  *exec.Cmd
	conn *Conn
	done chan error
}

// HelperEntryEnv is set in a helper subprocess's environment so the
// re-executed binary knows to run as a helper instead of its ordinary
// main, and names the file descriptor (by index into ExtraFiles, offset
// by 3 for stdin/stdout/stderr) carrying its end of the socketpair.
const HelperEntryEnv = "GITCORE_PRIVSEP_HELPER_FD"

// Start forks exe (typically os.Args[0], re-executing this same binary in
// helper mode) with its end of a fresh socketpair attached as an extra
// file descriptor, and drops the helper's privileges via the supplied
// credential, if any - "the helper drops all privileges except receive-
// fd/stdio" per spec.md §4.5. A nil credential leaves the child running
// as the current user, which is the expected case under test or when the
// host itself is already unprivileged.
func Start(ctx context.Context, exe string, args []string, cred *syscall.Credential) (*Supervisor, error) {
	host, helper, err := NewSocketpair()
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.ExtraFiles = []*os.File{os.NewFile(uintptr(helper.Fd()), "privsep-helper")}
	cmd.Env = append(os.Environ(), HelperEntryEnv+"=3")
	cmd.Stdin = nil
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if cred != nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}
	// Don't let ctx cancellation reach for a default os/exec.Cmd.Cancel
	// (which would SIGKILL immediately): Supervisor.Stop drives its own
	// graceful-then-kill sequence below instead.
	cmd.Cancel = func() error { return nil }

	if err := cmd.Start(); err != nil {
		host.Close()
		helper.Close()
		return nil, errkind.Wrap(errkind.PrivsepPipe, err)
	}
	// The child has its own copy of the helper fd now; the parent's copy
	// would otherwise keep the pipe half-open after the child exits.
	helper.Close()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	return &Supervisor{cmd: cmd, conn: host, done: done}, nil
}

// Conn returns the host-side connection to the helper.
func (s *Supervisor) Conn() *Conn { return s.conn }

// Stop sends a stop message and waits for the helper to exit, escalating
// to SIGTERM and then, after ShutdownGrace, SIGKILL if it doesn't
// - "on stop, the child exits; the parent waits for termination" (spec.md
// §4.5), generalizing git.go's sigterm.Run pattern from "stop a `git`
// subprocess" to "stop a privsep helper that might be wedged".
func (s *Supervisor) Stop(ctx context.Context) error {
	stopErr := s.conn.sendFrame(ctx, MsgStop, nil)
	s.conn.Close()

	if stopErr == nil {
		select {
		case err := <-s.done:
			return exitErr(err)
		case <-time.After(ShutdownGrace):
		case <-ctx.Done():
		}
	}

	if s.cmd.Process != nil {
		s.cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case err := <-s.done:
		return exitErr(err)
	case <-time.After(ShutdownGrace):
	}

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return exitErr(<-s.done)
}

// exitErr maps os/exec's own Wait error (which is non-nil for any nonzero
// exit, including the SIGTERM/SIGKILL this package itself sends) to a
// PrivsepExit kind, or nil for a clean exit.
func exitErr(err error) error {
	if err == nil {
		return nil
	}
	return errkind.Wrap(errkind.PrivsepExit, err)
}
