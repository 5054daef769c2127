package config

// Server is one server{} block: listen endpoints, names, document root,
// error pages, body-size cap, and an ordered list of locations. Built once
// at startup and never mutated afterward; safe to share by pointer across
// the single event-loop goroutine.
type Server struct {
	Listen            []string
	ServerNames       []string
	Root              string
	Index             string
	ErrorPages        map[int]string
	ClientMaxBodySize int64
	Locations         []*Location
}

// Location is one location <path> {} block nested in a Server.
type Location struct {
	Path              string
	Root              string
	Autoindex         bool
	AllowedMethods    []string
	CGIPass           map[string]string // extension -> interpreter path
	Redirect          string
	ClientMaxBodySize int64
}

// NewServer returns a Server with the safe zero values the original parser
// initializes (original_source/src/ServerConfig.cpp).
func NewServer() *Server {
	return &Server{
		ErrorPages: make(map[int]string),
		Index:      "index.html",
	}
}

// NewLocation returns a Location with safe zero values
// (original_source/src/LocationConfig.cpp).
func NewLocation() *Location {
	return &Location{
		CGIPass: make(map[string]string),
	}
}

// AllowsMethod reports whether method is permitted by this location. An
// empty AllowedMethods set means "all methods allowed" per spec.md §3.
func (l *Location) AllowsMethod(method string) bool {
	if len(l.AllowedMethods) == 0 {
		return true
	}
	for _, m := range l.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// EffectiveBodyLimit resolves the per-location override against the
// server-wide default per spec.md §4.E step 4: a positive location
// override wins outright, otherwise the server value applies (which may
// itself be 0, meaning unlimited).
func EffectiveBodyLimit(srv *Server, loc *Location) int64 {
	if loc != nil && loc.ClientMaxBodySize > 0 {
		return loc.ClientMaxBodySize
	}
	return srv.ClientMaxBodySize
}

// Tree is the fully parsed, immutable configuration.
type Tree struct {
	Servers []*Server
}

// Ports returns the deduplicated set of numeric ports to bind, in first-seen
// order. Dedup key is the numeric port only, matching the source's
// behaviour (spec.md §4.A); see internal/eventloop for the listener that
// consumes this.
func (t *Tree) Ports() []int {
	seen := make(map[int]bool)
	var out []int
	for _, srv := range t.Servers {
		for _, l := range srv.Listen {
			_, port, err := splitListen(l)
			if err != nil {
				continue
			}
			if !seen[port] {
				seen[port] = true
				out = append(out, port)
			}
		}
	}
	return out
}

// ServersOnPort returns every server block that declares a listen directive
// matching the given port, in declaration order.
func (t *Tree) ServersOnPort(port int) []*Server {
	var out []*Server
	for _, srv := range t.Servers {
		for _, l := range srv.Listen {
			_, p, err := splitListen(l)
			if err == nil && p == port {
				out = append(out, srv)
				break
			}
		}
	}
	return out
}
