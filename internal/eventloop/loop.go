package eventloop

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luanch96/webserv/internal/cgi"
	"github.com/luanch96/webserv/internal/config"
	"github.com/luanch96/webserv/internal/conn"
	"github.com/luanch96/webserv/internal/weblog"
)

const (
	// pollTimeoutMillis bounds each poll() call so the loop periodically
	// re-checks for idle timeouts and shutdown requests, matching
	// original_source/src/Server.cpp's 1-second poll timeout.
	pollTimeoutMillis = 1000

	// idleTimeout closes connections that have sat with no activity this
	// long, per spec.md §4.G's timeout sweep.
	idleTimeout = 30 * time.Second
)

// Loop is the single-threaded, single-goroutine event loop driving every
// listener and connection, per spec.md §4.G. Nothing in this package
// spawns a goroutine per connection — everything is dispatched from one
// poll() call per iteration, the way the spec requires.
type Loop struct {
	listeners []*Listener
	portOf    map[int]int // listening fd -> port
	conns     map[int]*conn.Connection
	tree      *config.Tree
	stop      func() bool
}

// New builds a Loop bound to every distinct port in tree, per spec.md
// §4.A. stop is polled once per iteration; when it returns true Run
// returns at once, leaving open connections for Close to release.
func New(tree *config.Tree, stop func() bool) (*Loop, error) {
	l := &Loop{
		portOf: make(map[int]int),
		conns:  make(map[int]*conn.Connection),
		tree:   tree,
		stop:   stop,
	}

	for _, port := range tree.Ports() {
		ln, err := Bind(port)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.listeners = append(l.listeners, ln)
		l.portOf[ln.Fd] = port
	}

	return l, nil
}

// Close tears down every listener and connection owned by the loop.
func (l *Loop) Close() {
	for _, ln := range l.listeners {
		ln.Close()
	}
	for _, c := range l.conns {
		c.Close()
	}
}

// Run drives the loop until stop() returns true. One iteration is:
// build the pollfd set, poll, accept any pending connections, dispatch
// readable/writable fds to their Connection, sweep closed connections,
// then sweep idle ones — per spec.md §4.G.
func (l *Loop) Run() error {
	for {
		if l.stop != nil && l.stop() {
			return nil
		}

		pfds, index := l.buildPollSet()
		n, err := unix.Poll(pfds, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		// Advance any pending CGI child reaps by one non-blocking step
		// every iteration, independent of what poll reported, so a
		// slow-to-exit child never stalls dispatch for other connections.
		cgi.PollReaps()

		if n == 0 {
			l.sweepIdle()
			continue
		}

		for i, pfd := range pfds {
			if pfd.Revents == 0 {
				continue
			}
			l.dispatch(pfd, index[i])
		}

		l.sweepClosed()
		l.sweepIdle()
	}
}

type fdRole struct {
	listenerPort int // > 0 if this pollfd is a listening socket
	connFd       int // fd of the owning Connection, if this is a client/CGI fd
	isCGIWrite   bool
	isCGIRead    bool
}

func (l *Loop) buildPollSet() ([]unix.PollFd, []fdRole) {
	var pfds []unix.PollFd
	var index []fdRole

	for _, ln := range l.listeners {
		pfds = append(pfds, unix.PollFd{Fd: int32(ln.Fd), Events: unix.POLLIN})
		index = append(index, fdRole{listenerPort: ln.Port})
	}

	for fd, c := range l.conns {
		switch c.State {
		case conn.StateReadingRequest:
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
			index = append(index, fdRole{connFd: fd})
		case conn.StateWritingResponse:
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
			index = append(index, fdRole{connFd: fd})
		case conn.StateWritingToCGI:
			if c.CGI != nil && c.CGI.StdinFd() >= 0 {
				pfds = append(pfds, unix.PollFd{Fd: int32(c.CGI.StdinFd()), Events: unix.POLLOUT})
				index = append(index, fdRole{connFd: fd, isCGIWrite: true})
			}
		case conn.StateReadingFromCGI:
			if c.CGI != nil && c.CGI.StdoutFd() >= 0 {
				pfds = append(pfds, unix.PollFd{Fd: int32(c.CGI.StdoutFd()), Events: unix.POLLIN})
				index = append(index, fdRole{connFd: fd, isCGIRead: true})
			}
		}
	}

	return pfds, index
}

func (l *Loop) dispatch(pfd unix.PollFd, role fdRole) {
	if role.listenerPort > 0 {
		l.acceptOn(int(pfd.Fd), role.listenerPort)
		return
	}

	c, ok := l.conns[role.connFd]
	if !ok {
		return
	}

	// A ready fd reporting POLLERR/POLLHUP/POLLNVAL immediately marks its
	// connection for closure, regardless of what state it's in or what
	// other bits are set — per spec.md §4.G, a socket error or hangup is
	// never something to keep waiting on.
	if pfd.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		c.State = conn.StateClosing
		return
	}

	switch {
	case role.isCGIWrite:
		c.HandleCGIWritable()
	case role.isCGIRead:
		c.HandleCGIReadable()
	case pfd.Revents&unix.POLLIN != 0 && c.State == conn.StateReadingRequest:
		c.HandleReadable()
	case pfd.Revents&unix.POLLOUT != 0 && c.State == conn.StateWritingResponse:
		c.HandleWritable()
	}
}

// acceptOn drains every pending connection on a listening socket in one
// pass, since poll() only reports the fd once per iteration even if
// several clients are queued, per spec.md §4.G step 1.
func (l *Loop) acceptOn(listenFd, port int) {
	var ln *Listener
	for _, candidate := range l.listeners {
		if candidate.Fd == listenFd {
			ln = candidate
			break
		}
	}
	if ln == nil {
		return
	}

	servers := l.tree.ServersOnPort(port)
	for {
		fd, ok, err := ln.Accept()
		if err != nil {
			weblog.Log().Warn("accept failed", zap.Int("port", port), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		l.conns[fd] = conn.New(fd, port, servers)
	}
}

func (l *Loop) sweepClosed() {
	for fd, c := range l.conns {
		if c.State == conn.StateClosing {
			c.Close()
			delete(l.conns, fd)
		}
	}
}

func (l *Loop) sweepIdle() {
	now := time.Now()
	for fd, c := range l.conns {
		if now.Sub(c.LastActivity) > idleTimeout {
			c.Close()
			delete(l.conns, fd)
		}
	}
}
