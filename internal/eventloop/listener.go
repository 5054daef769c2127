// Package eventloop implements components A and G of spec.md: binding
// one non-blocking listening socket per distinct port, and the single
// poll-based loop that drives every accepted connection and CGI pipe.
// Socket setup follows the shape of Caddy's listen_unix.go/listen_linux.go
// (teacher tree) — SO_REUSEADDR, then Bind/Listen — adapted from net's
// *net.TCPListener wrapper down to bare golang.org/x/sys/unix syscalls,
// since spec.md §1 rules out net/http's connection model entirely.
package eventloop

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luanch96/webserv/internal/weblog"
)

// listenBacklog matches the original's listen() backlog argument
// (original_source/src/Listener.cpp).
const listenBacklog = 128

// Listener is one bound, listening, non-blocking socket for a single
// port, shared by every server block that declares that port in its
// listen directive (spec.md §4.A dedup-by-port rule).
type Listener struct {
	Fd   int
	Port int
}

// Bind creates, configures, and binds a non-blocking IPv4 TCP socket on
// port across all interfaces, per spec.md §4.A.
func Bind(port int) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("eventloop: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: set non-blocking: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: bind :%d: %w", port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("eventloop: listen :%d: %w", port, err)
	}

	weblog.Log().Info("listening", zap.Int("port", port))
	return &Listener{Fd: fd, Port: port}, nil
}

// Close releases the listening socket.
func (l *Listener) Close() {
	if l.Fd >= 0 {
		_ = unix.Close(l.Fd)
		l.Fd = -1
	}
}

// Accept accepts one pending connection as a non-blocking fd, or
// returns ok=false if none is currently pending (EAGAIN/EWOULDBLOCK).
func (l *Listener) Accept() (fd int, ok bool, err error) {
	nfd, _, aerr := unix.Accept4(l.Fd, unix.SOCK_NONBLOCK)
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, aerr
	}
	return nfd, true, nil
}
