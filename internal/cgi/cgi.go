// Package cgi implements component F of spec.md: the asynchronous CGI
// coupler. A Handle owns a forked child's stdin/stdout pipes and drives
// them with single non-blocking syscalls per event-loop iteration, the
// way internal/conn's state machine expects.
//
// Env construction follows the shape of Caddy's own
// caddyhttp/fastcgi.Handler buildEnv (teacher tree), adapted from
// FastCGI-over-socket params to pipe-to-forked-child env vars, per
// spec.md §6.
package cgi

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/luanch96/webserv/internal/httpmsg"
	"github.com/luanch96/webserv/internal/weblog"
	"go.uber.org/zap"
)

const (
	readBufSize = 8192

	// reapDeadline implements the non-blocking reap escalation recommended
	// by spec.md §9 in place of the source's blocking waitpid: each
	// deadline window is a bound on how long we wait at the current
	// escalation step (WNOHANG polling, then SIGTERM, then SIGKILL) before
	// moving to the next one. No step ever sleeps or blocks — see
	// PollReaps.
	reapDeadline = 2 * time.Second
)

// reapPhase tracks how far a pending child has been escalated.
type reapPhase int

const (
	reapPolling reapPhase = iota
	reapSentTerm
	reapSentKill
)

// pending holds every Handle whose child has not yet been reaped. It is
// only ever touched from the single event-loop goroutine (PollReaps is
// called once per iteration), so it needs no locking.
var pending []*Handle

// Handle is the parent-side state of one CGI invocation: two non-blocking
// pipe ends, the child pid, the pending request body with its send
// offset, and the accumulating output buffer. Mirrors
// original_source/include/ClientConnection.hpp's CGI fields.
type Handle struct {
	stdin  *os.File // write end, parent -> child stdin
	stdout *os.File // read end, child stdout -> parent

	pid int

	body     []byte
	bodySent int
	output   []byte
	active   bool

	contentType string

	reapPhase    reapPhase
	reapDeadline time.Time
}

// DefaultContentType is used when the child's output carries no header
// block at all, per spec.md §4.F.
const DefaultContentType = "text/html"

// BuildEnv constructs the CGI environment for one request, per spec.md §6.
func BuildEnv(req *httpmsg.Request, scriptFilename string) []string {
	env := []string{
		"REQUEST_METHOD=" + req.Method,
		"SCRIPT_FILENAME=" + scriptFilename,
		"SCRIPT_NAME=" + req.Path,
		"QUERY_STRING=" + req.Query,
		"PATH_INFO=" + req.Path,
		"SERVER_SOFTWARE=webserv/1.0",
	}
	if host := req.Header("host"); host != "" {
		env = append(env, "HTTP_HOST="+host)
	}
	if ct := req.Header("content-type"); ct != "" {
		env = append(env, "CONTENT_TYPE="+ct)
		env = append(env, "CONTENT_LENGTH="+strconv.FormatUint(req.ContentLength, 10))
	}
	return env
}

// Start forks executor as a child with scriptPath as argv[1], wires its
// stdin/stdout/stderr to fresh pipes, and returns a Handle owning the
// parent side. Matches the fork/dup2/execve sequence in
// original_source/src/ClientConnection.cpp's initCGI, realized with
// syscall.ForkExec (the primitive os/exec itself is built on) rather than
// a literal fork(), since Go runtime goroutines make a bare fork() unsafe.
func Start(executor, scriptPath string, req *httpmsg.Request) (*Handle, error) {
	if executor == "" {
		return nil, fmt.Errorf("cgi: no executor configured")
	}

	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("cgi: creating stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return nil, fmt.Errorf("cgi: creating stdout pipe: %w", err)
	}

	env := BuildEnv(req, scriptPath)
	attr := &syscall.ProcAttr{
		Files: []uintptr{stdinRead.Fd(), stdoutWrite.Fd(), stdoutWrite.Fd()},
		Env:   env,
	}

	pid, err := syscall.ForkExec(executor, []string{executor, scriptPath}, attr)
	stdinRead.Close()
	stdoutWrite.Close()
	if err != nil {
		stdinWrite.Close()
		stdoutRead.Close()
		return nil, fmt.Errorf("cgi: fork/exec %q: %w", executor, err)
	}

	if err := unix.SetNonblock(int(stdinWrite.Fd()), true); err != nil {
		weblog.Log().Warn("cgi: setting stdin non-blocking", zap.Error(err))
	}
	if err := unix.SetNonblock(int(stdoutRead.Fd()), true); err != nil {
		weblog.Log().Warn("cgi: setting stdout non-blocking", zap.Error(err))
	}

	return &Handle{
		stdin:       stdinWrite,
		stdout:      stdoutRead,
		pid:         pid,
		body:        req.Body,
		contentType: DefaultContentType,
		active:      true,
	}, nil
}

// Active reports whether this handle still owns live pipes/child state.
func (h *Handle) Active() bool { return h.active }

// HasBody reports whether there is request body left to stream to the
// child, used by the caller to choose WRITING_TO_CGI vs READING_FROM_CGI
// on CGI init, per spec.md §4.E.
func (h *Handle) HasBody() bool { return len(h.body) > 0 }

// StdinFd returns the write-end fd while it's open, or -1 once closed.
func (h *Handle) StdinFd() int {
	if h.stdin == nil {
		return -1
	}
	return int(h.stdin.Fd())
}

// StdoutFd returns the read-end fd while it's open, or -1 once closed.
func (h *Handle) StdoutFd() int {
	if h.stdout == nil {
		return -1
	}
	return int(h.stdout.Fd())
}

// WriteStdin attempts a single non-blocking write of the remaining body
// slice, per spec.md §4.F. Returns done=true once the pipe has been
// closed (body fully sent, or a write error/EOF — treated identically,
// per DESIGN.md decision #5).
func (h *Handle) WriteStdin() (done bool, err error) {
	if h.stdin == nil {
		return true, nil
	}
	if h.bodySent >= len(h.body) {
		h.closeStdin()
		return true, nil
	}

	n, werr := unix.Write(int(h.stdin.Fd()), h.body[h.bodySent:])
	if werr != nil {
		if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
			return false, nil
		}
		h.closeStdin()
		return true, nil
	}
	if n == 0 {
		h.closeStdin()
		return true, nil
	}

	h.bodySent += n
	if h.bodySent >= len(h.body) {
		h.closeStdin()
		return true, nil
	}
	return false, nil
}

func (h *Handle) closeStdin() {
	if h.stdin != nil {
		h.stdin.Close()
		h.stdin = nil
	}
}

// ReadStdout attempts a single non-blocking read into an 8 KiB buffer,
// appending to the accumulator, per spec.md §4.F. Returns done=true on
// EOF or read error, at which point the output/content-type are parsed
// and the child has been queued for background reaping (see PollReaps).
func (h *Handle) ReadStdout() (done bool, err error) {
	if h.stdout == nil {
		return true, nil
	}

	buf := make([]byte, readBufSize)
	n, rerr := unix.Read(int(h.stdout.Fd()), buf)
	if rerr != nil {
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			return false, nil
		}
		h.finishReading()
		return true, nil
	}
	if n == 0 {
		h.finishReading()
		return true, nil
	}

	h.output = append(h.output, buf[:n]...)
	return false, nil
}

func (h *Handle) finishReading() {
	if h.stdout != nil {
		h.stdout.Close()
		h.stdout = nil
	}
	h.enqueueReap()
	h.parseOutput()
	h.active = false
}

// parseOutput splits the CGI header block from the body per spec.md
// §4.F: everything before the first \r\n\r\n is headers; a
// case-insensitive Content-Type line sets h.contentType. Output with no
// separator is treated entirely as body with the default content type.
func (h *Handle) parseOutput() {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(h.output, sep)
	if idx < 0 {
		return
	}

	header := h.output[:idx]
	body := h.output[idx+len(sep):]

	for _, line := range bytes.Split(header, []byte("\r\n")) {
		lower := bytes.ToLower(line)
		if bytes.HasPrefix(lower, []byte("content-type:")) {
			value := bytes.TrimSpace(line[len("content-type:"):])
			if end := bytes.IndexAny(value, " \t"); end >= 0 {
				value = value[:end]
			}
			if len(value) > 0 {
				h.contentType = string(value)
			}
			break
		}
	}

	h.output = body
}

// Output returns the parsed response body (headers stripped, if any were
// present).
func (h *Handle) Output() []byte { return h.output }

// ContentType returns the parsed Content-Type, or DefaultContentType if
// the child's output carried no header block.
func (h *Handle) ContentType() string { return h.contentType }

// enqueueReap makes one immediate WNOHANG attempt, and if the child
// hasn't already exited, registers it in pending for PollReaps to keep
// checking on future event-loop iterations. Never blocks the caller.
func (h *Handle) enqueueReap() {
	if h.pid <= 0 {
		return
	}
	h.reapPhase = reapPolling
	h.reapDeadline = time.Now().Add(reapDeadline)
	if h.tryReapStep() {
		return
	}
	pending = append(pending, h)
}

// tryReapStep makes a single non-blocking WNOHANG check and, if the
// current escalation deadline has passed, sends the next signal in the
// SIGTERM-then-SIGKILL escalation. It never sleeps or blocks, so it is
// safe to call once per event-loop iteration from PollReaps — replacing
// the source's blocking waitpid per spec.md §9's redesign flag.
func (h *Handle) tryReapStep() bool {
	if h.pid <= 0 {
		return true
	}

	var status unix.WaitStatus
	wpid, err := unix.Wait4(h.pid, &status, unix.WNOHANG, nil)
	if err != nil && err != unix.EINTR {
		h.pid = -1
		return true
	}
	if wpid == h.pid {
		h.pid = -1
		return true
	}

	if time.Now().After(h.reapDeadline) {
		switch h.reapPhase {
		case reapPolling:
			_ = unix.Kill(h.pid, unix.SIGTERM)
			h.reapPhase = reapSentTerm
			h.reapDeadline = time.Now().Add(reapDeadline)
		case reapSentTerm:
			_ = unix.Kill(h.pid, unix.SIGKILL)
			h.reapPhase = reapSentKill
			h.reapDeadline = time.Now().Add(reapDeadline)
		case reapSentKill:
			// SIGKILL can't be caught or blocked; keep polling WNOHANG
			// until the kernel reports the zombie is gone.
		}
	}
	return false
}

// PollReaps advances every pending child's reap escalation by one
// non-blocking step. The event loop calls this once per iteration
// (internal/eventloop/loop.go) so a slow-to-exit or signal-ignoring CGI
// child never stalls any connection's dispatch, per spec.md §5's
// never-block-the-loop invariant.
func PollReaps() {
	if len(pending) == 0 {
		return
	}
	live := pending[:0]
	for _, h := range pending {
		if !h.tryReapStep() {
			live = append(live, h)
		}
	}
	pending = live
}

// Close releases every resource owned by this handle: open pipe fds are
// closed immediately and, if the child is still live, it is handed to
// the background reap queue rather than waited for synchronously —
// matching original_source's cleanupCGI in effect, but never blocking
// the caller (spec.md §3 invariants, §5 resource release).
func (h *Handle) Close() {
	h.closeStdin()
	if h.stdout != nil {
		h.stdout.Close()
		h.stdout = nil
	}
	h.enqueueReap()
	h.active = false
}
