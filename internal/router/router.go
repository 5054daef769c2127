// Package router implements component D of spec.md: server/location
// selection, filesystem path construction, and CGI detection. It enforces
// no policy itself (method allow-lists, body-size limits) — that's left to
// internal/conn, per spec.md §4.D.
package router

import (
	"strconv"
	"strings"

	"github.com/luanch96/webserv/internal/config"
	"github.com/luanch96/webserv/internal/httpmsg"
)

// Result is the outcome of routing one request, mirroring
// original_source/include/Router.hpp's RoutingResult.
type Result struct {
	Server      *config.Server
	Location    *config.Location
	FilePath    string
	IsCGI       bool
	CGIExecutor string
}

// Route selects the server and location that should handle req, arriving
// on a listener bound to localPort, and computes its filesystem path and
// CGI status. Result.Server is nil if no server block listens on
// localPort, per spec.md §4.D step 3 (caller emits 500 in that case).
func Route(servers []*config.Server, req *httpmsg.Request, localPort int) Result {
	var result Result

	result.Server = findServer(servers, req, localPort)
	if result.Server == nil {
		return result
	}

	result.Location = findLocation(result.Server, req.Path)
	result.FilePath = buildFilePath(result.Server, result.Location, req.Path)
	result.IsCGI, result.CGIExecutor = cgiInfo(result.Location, result.FilePath)
	return result
}

// findServer selects the candidate server bound to localPort whose
// server_names contains the (port-stripped) Host header, or else the
// first declared candidate on that port — the "default server" for the
// port, per spec.md §4.D steps 1–3 and DESIGN.md decision #7.
func findServer(servers []*config.Server, req *httpmsg.Request, localPort int) *config.Server {
	hostName := req.Header("host")
	if idx := strings.IndexByte(hostName, ':'); idx >= 0 {
		hostName = hostName[:idx]
	}

	var defaultServer *config.Server
	for _, srv := range servers {
		if !listensOnPort(srv, localPort) {
			continue
		}
		if defaultServer == nil {
			defaultServer = srv
		}
		if hostName != "" {
			for _, name := range srv.ServerNames {
				if name == hostName {
					return srv
				}
			}
		}
	}
	return defaultServer
}

func listensOnPort(srv *config.Server, port int) bool {
	for _, l := range srv.Listen {
		p := portOf(l)
		if p == port {
			return true
		}
	}
	return false
}

func portOf(listen string) int {
	s := listen
	if idx := strings.LastIndexByte(listen, ':'); idx >= 0 {
		s = listen[idx+1:]
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return p
}

// findLocation returns the location whose Path is the longest prefix of
// path, first-declared wins ties, per spec.md §4.D step 4.
func findLocation(srv *config.Server, path string) *config.Location {
	var best *config.Location
	bestLen := -1
	for _, loc := range srv.Locations {
		if strings.HasPrefix(path, loc.Path) && len(loc.Path) > bestLen {
			best = loc
			bestLen = len(loc.Path)
		}
	}
	return best
}

// buildFilePath computes the filesystem path per spec.md §4.D step 5.
func buildFilePath(srv *config.Server, loc *config.Location, requestPath string) string {
	root := srv.Root
	if loc != nil && loc.Root != "" {
		root = loc.Root
	}
	if root == "" {
		root = "./www"
	}

	path := requestPath
	if loc != nil && loc.Path != "" && strings.HasPrefix(path, loc.Path) {
		path = path[len(loc.Path):]
	}

	if path == "" || path == "/" {
		if srv.Index != "" {
			return root + "/" + srv.Index
		}
		return root + "/"
	}

	rootEndsSlash := strings.HasSuffix(root, "/")
	pathStartsSlash := strings.HasPrefix(path, "/")
	switch {
	case pathStartsSlash && rootEndsSlash:
		path = path[1:]
	case !pathStartsSlash && !rootEndsSlash:
		path = "/" + path
	}

	return root + path
}

// cgiInfo reports whether the resolved file's extension is mapped to an
// interpreter by loc.CGIPass, per spec.md §4.D step 6.
func cgiInfo(loc *config.Location, filePath string) (bool, string) {
	if loc == nil || len(loc.CGIPass) == 0 {
		return false, ""
	}
	dot := strings.LastIndexByte(filePath, '.')
	if dot < 0 {
		return false, ""
	}
	ext := filePath[dot:]
	executor, ok := loc.CGIPass[ext]
	if !ok {
		return false, ""
	}
	return true, executor
}
