// Package conn implements component E of spec.md: the per-connection
// state machine that drives one accepted socket through parsing,
// routing, policy enforcement, optional CGI, and response writing.
// Modeled on original_source/include/ClientConnection.hpp's transition
// table, wired to internal/router, internal/cgi and internal/staticfiles
// the way Caddy's httpserver.Server wires its own middleware chain
// (teacher tree: caddyhttp/httpserver/server.go) — but driven entirely
// by explicit state rather than net/http's blocking handler model.
package conn

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/luanch96/webserv/internal/cgi"
	"github.com/luanch96/webserv/internal/config"
	"github.com/luanch96/webserv/internal/httpmsg"
	"github.com/luanch96/webserv/internal/router"
	"github.com/luanch96/webserv/internal/staticfiles"
	"github.com/luanch96/webserv/internal/weblog"
)

// State is this connection's position in the spec.md §4.E transition
// table.
type State int

const (
	StateReadingRequest State = iota
	StateProcessing
	StateWritingToCGI
	StateReadingFromCGI
	StateWritingResponse
	StateClosing
)

// readBufSize matches the original's per-recv() chunk size
// (original_source/src/ClientConnection.cpp).
const readBufSize = 8192

// Connection owns one accepted socket's full lifecycle from first byte
// to close, per spec.md §3/§4.E.
type Connection struct {
	Fd   int
	Port int // local port this connection arrived on, for vhost selection

	Servers []*config.Server

	Request  *httpmsg.Request
	Response *httpmsg.Response

	route router.Result

	outBuf []byte
	sent   int

	CGI *cgi.Handle

	State        State
	ShouldClose  bool
	LastActivity time.Time
}

// New wraps fd, accepted on localPort, into a fresh Connection ready to
// read its first request.
func New(fd, localPort int, servers []*config.Server) *Connection {
	return &Connection{
		Fd:           fd,
		Port:         localPort,
		Servers:      servers,
		Request:      httpmsg.NewRequest(),
		Response:     httpmsg.NewResponse(),
		State:        StateReadingRequest,
		LastActivity: time.Now(),
	}
}

// HandleReadable is called by the event loop when poll reports Fd
// readable. It performs one non-blocking read and, if that completes the
// request, advances straight into processing — mirroring the
// read-then-dispatch-in-the-same-iteration shape of
// original_source/src/ClientConnection.cpp's handleRead.
func (c *Connection) HandleReadable() {
	if c.State != StateReadingRequest {
		return
	}

	buf := make([]byte, readBufSize)
	n, err := unix.Read(c.Fd, buf)
	c.LastActivity = time.Now()

	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		c.State = StateClosing
		return
	}
	if n == 0 {
		// Peer closed the connection before completing a request.
		c.State = StateClosing
		return
	}

	if c.Request.Write(buf[:n]) {
		c.State = StateProcessing
		c.process()
		return
	}
	if c.Request.State == httpmsg.StateError {
		if c.Request.Chunked {
			c.writeError(501)
		} else {
			c.writeError(400)
		}
		c.State = StateWritingResponse
	}
}

// process implements spec.md §4.E's policy-then-dispatch pipeline: a
// completed request is routed, checked against redirect/method/body-size
// policy, then handed to CGI or the static file handler.
func (c *Connection) process() {
	if c.Request.Chunked {
		c.writeError(501)
		c.State = StateWritingResponse
		return
	}

	c.route = router.Route(c.Servers, c.Request, c.Port)
	if c.route.Server == nil {
		c.writeError(500)
		c.State = StateWritingResponse
		return
	}

	if c.route.Location != nil && c.route.Location.Redirect != "" {
		c.Response.SetStatus(301, "")
		c.Response.SetHeader("Location", c.route.Location.Redirect)
		c.Response.SetBody(nil)
		c.finishResponse()
		return
	}

	if c.route.Location != nil && !c.route.Location.AllowsMethod(c.Request.Method) {
		c.writeError(405)
		c.State = StateWritingResponse
		return
	}

	limit := config.EffectiveBodyLimit(c.route.Server, c.route.Location)
	if limit > 0 && int64(len(c.Request.Body)) > limit {
		c.writeError(413)
		c.State = StateWritingResponse
		return
	}

	if c.route.IsCGI {
		c.startCGI()
		return
	}

	c.dispatchStatic()
}

func (c *Connection) startCGI() {
	handle, err := cgi.Start(c.route.CGIExecutor, c.route.FilePath, c.Request)
	if err != nil {
		weblog.Log().Warn("cgi start failed", zap.Error(err))
		c.writeError(500)
		c.State = StateWritingResponse
		return
	}
	c.CGI = handle
	if handle.HasBody() {
		c.State = StateWritingToCGI
	} else {
		c.State = StateReadingFromCGI
	}
}

// HandleCGIWritable is called by the event loop when the CGI child's
// stdin pipe is writable.
func (c *Connection) HandleCGIWritable() {
	if c.State != StateWritingToCGI || c.CGI == nil {
		return
	}
	done, err := c.CGI.WriteStdin()
	if err != nil {
		weblog.Log().Warn("cgi stdin write failed", zap.Error(err))
	}
	if done {
		c.State = StateReadingFromCGI
	}
}

// HandleCGIReadable is called by the event loop when the CGI child's
// stdout pipe is readable.
func (c *Connection) HandleCGIReadable() {
	if c.State != StateReadingFromCGI || c.CGI == nil {
		return
	}
	done, err := c.CGI.ReadStdout()
	if err != nil {
		weblog.Log().Warn("cgi stdout read failed", zap.Error(err))
	}
	if !done {
		return
	}

	output := c.CGI.Output()
	if len(output) == 0 {
		// Empty CGI output is a successful empty body, not an error,
		// per DESIGN.md open-question decision #6.
		c.Response.SetStatus(200, "")
		c.Response.SetBody(nil)
	} else {
		c.Response.SetStatus(200, "")
		c.Response.SetBody(output)
		c.Response.SetHeader("Content-Type", c.CGI.ContentType())
	}
	c.finishResponse()
}

func (c *Connection) dispatchStatic() {
	switch c.Request.Method {
	case "GET", "HEAD":
		staticfiles.HandleGet(c.Request.Path, c.route.FilePath, c.route.Server, c.route.Location, c.Response)
		if c.Request.Method == "HEAD" {
			c.Response.Body = nil
		}
	case "POST":
		staticfiles.HandlePost(c.Request.Body, c.route.FilePath, c.route.Server, c.route.Location, c.Response)
	case "DELETE":
		staticfiles.HandleDelete(c.route.FilePath, c.route.Server, c.Response)
	default:
		c.writeError(501)
	}
	c.finishResponse()
}

// finishResponse applies keep-alive policy and queues the built response
// for writing, per spec.md §4.C/§4.E.
func (c *Connection) finishResponse() {
	connHeader := strings.ToLower(c.Request.Header("connection"))
	c.ShouldClose = connHeader != "" && connHeader != "keep-alive"
	if c.ShouldClose {
		c.Response.SetHeader("Connection", "close")
	} else {
		c.Response.SetHeader("Connection", "keep-alive")
	}

	c.outBuf = c.Response.Build()
	c.sent = 0
	c.State = StateWritingResponse
}

// writeError composes a minimal error response. Errors arising after a
// file was already resolved (405/413/501 from policy checks) go through
// here rather than staticfiles' handleError, since no file lookup is
// involved; spec.md §7 only requires the error_page override for
// filesystem-facing errors, which staticfiles.HandleGet/Post/Delete
// already apply themselves.
func (c *Connection) writeError(code int) {
	c.Response.SetStatus(code, "")
	c.Response.SetBody([]byte(httpmsg.ReasonPhrase(code)))
	c.Response.SetHeader("Content-Type", "text/plain; charset=utf-8")
	c.finishResponse()
}

// HandleWritable is called by the event loop when Fd is writable and this
// connection has a response queued. It returns true once the whole
// response has been flushed, at which point the caller should either
// reset for keep-alive reuse or close, per spec.md §4.E.
func (c *Connection) HandleWritable() bool {
	if c.State != StateWritingResponse {
		return false
	}

	for c.sent < len(c.outBuf) {
		n, err := unix.Write(c.Fd, c.outBuf[c.sent:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return false
			}
			c.State = StateClosing
			return true
		}
		if n == 0 {
			c.State = StateClosing
			return true
		}
		c.sent += n
	}

	c.LastActivity = time.Now()
	if c.ShouldClose {
		c.State = StateClosing
		return true
	}

	c.reuse()
	return true
}

// reuse puts the connection back into StateReadingRequest for keep-alive,
// preserving any pipelined bytes left in the request buffer per
// httpmsg.Request.Reset's documented residue-preserving behavior. A
// complete request already sitting in that residue is processed at once
// instead of waiting for the socket to become readable again.
func (c *Connection) reuse() {
	c.Request.Reset()
	c.Response.Clear()
	c.route = router.Result{}
	if c.CGI != nil {
		c.CGI.Close()
		c.CGI = nil
	}
	c.outBuf = nil
	c.sent = 0
	c.State = StateReadingRequest
	if c.Request.Write(nil) {
		c.State = StateProcessing
		c.process()
	}
}

// Close releases every resource this connection owns: the CGI child (if
// any) and the socket fd, matching original_source's closeConnection.
func (c *Connection) Close() {
	if c.CGI != nil {
		c.CGI.Close()
		c.CGI = nil
	}
	if c.Fd >= 0 {
		_ = unix.Close(c.Fd)
		c.Fd = -1
	}
	c.State = StateClosing
}
