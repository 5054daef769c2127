package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Load reads path, lexes and parses it, and validates the result per
// spec.md §6/§7: a config that fails to parse or validate is a startup
// error that callers should report on stderr and exit(1) for.
func Load(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config %q: %w", path, err)
	}
	defer f.Close()

	tokens, err := tokenize(path, f)
	if err != nil {
		return nil, fmt.Errorf("lexing config %q: %w", path, err)
	}

	tree, err := parse(tokens)
	if err != nil {
		return nil, err
	}
	if err := validate(tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// parse implements the grammar in spec.md §6:
//
//	config      := server_block+
//	server_block:= "server" "{" directive* location* "}"
//	directive   := name value+ ";"
//	location    := "location" path "{" directive* "}"
func parse(tokens []Token) (*Tree, error) {
	d := newDispenser(tokens)
	tree := &Tree{}

	for d.next() {
		if d.val() != "server" {
			return nil, formatErr(d.tok(), "expected 'server', got %q", d.val())
		}
		srv, err := parseServerBlock(d)
		if err != nil {
			return nil, err
		}
		tree.Servers = append(tree.Servers, srv)
	}

	return tree, nil
}

func expect(d *dispenser, text string) error {
	if !d.next() {
		return fmt.Errorf("unexpected end of file, expected %q", text)
	}
	if d.val() != text {
		return formatErr(d.tok(), "expected %q, got %q", text, d.val())
	}
	return nil
}

func parseServerBlock(d *dispenser) (*Server, error) {
	if err := expect(d, "{"); err != nil {
		return nil, err
	}
	srv := NewServer()

	for {
		if !d.next() {
			return nil, fmt.Errorf("unexpected end of file inside server block")
		}
		switch {
		case d.val() == "}":
			return srv, nil
		case d.val() == "location":
			loc, err := parseLocationBlock(d)
			if err != nil {
				return nil, err
			}
			srv.Locations = append(srv.Locations, loc)
		default:
			name := d.val()
			nameTok := d.tok()
			args := d.args()
			if err := applyServerDirective(srv, name, args, nameTok); err != nil {
				return nil, err
			}
			if err := expect(d, ";"); err != nil {
				return nil, err
			}
		}
	}
}

func parseLocationBlock(d *dispenser) (*Location, error) {
	if !d.next() {
		return nil, fmt.Errorf("unexpected end of file, expected location path")
	}
	loc := NewLocation()
	loc.Path = d.val()

	if err := expect(d, "{"); err != nil {
		return nil, err
	}

	for {
		if !d.next() {
			return nil, fmt.Errorf("unexpected end of file inside location block")
		}
		if d.val() == "}" {
			return loc, nil
		}
		name := d.val()
		nameTok := d.tok()
		args := d.args()
		if err := applyLocationDirective(loc, name, args, nameTok); err != nil {
			return nil, err
		}
		if err := expect(d, ";"); err != nil {
			return nil, err
		}
	}
}

func applyServerDirective(srv *Server, name string, args []string, tok Token) error {
	switch name {
	case "listen":
		if len(args) == 0 {
			return formatErr(tok, "listen requires an argument")
		}
		srv.Listen = append(srv.Listen, args...)
	case "server_name":
		srv.ServerNames = append(srv.ServerNames, args...)
	case "root":
		if len(args) != 1 {
			return formatErr(tok, "root requires exactly one argument")
		}
		srv.Root = args[0]
	case "index":
		if len(args) != 1 {
			return formatErr(tok, "index requires exactly one argument")
		}
		srv.Index = args[0]
	case "error_page":
		if len(args) < 2 {
			return formatErr(tok, "error_page requires one or more codes and a path")
		}
		path := args[len(args)-1]
		for _, c := range args[:len(args)-1] {
			code, err := strconv.Atoi(c)
			if err != nil {
				return formatErr(tok, "invalid error_page code %q: %v", c, err)
			}
			srv.ErrorPages[code] = path
		}
	case "client_max_body_size":
		if len(args) != 1 {
			return formatErr(tok, "client_max_body_size requires exactly one argument")
		}
		n, err := parseBodySize(args[0])
		if err != nil {
			return formatErr(tok, "invalid client_max_body_size %q: %v", args[0], err)
		}
		srv.ClientMaxBodySize = n
	default:
		return formatErr(tok, "unrecognized server directive %q", name)
	}
	return nil
}

// knownMethods are the tokens internal/conn actually dispatches on
// (spec.md §4.E step 6: GET/HEAD, POST, DELETE; anything else is a
// request-time 501, not a configurable allow-list entry).
var knownMethods = map[string]bool{
	"GET":    true,
	"HEAD":   true,
	"POST":   true,
	"DELETE": true,
}

func applyLocationDirective(loc *Location, name string, args []string, tok Token) error {
	switch name {
	case "root":
		if len(args) != 1 {
			return formatErr(tok, "root requires exactly one argument")
		}
		loc.Root = args[0]
	case "index":
		// accepted for forward-compatibility with server-level index
		// overrides; unused unless a later version of the router reads it.
	case "autoindex":
		if len(args) != 1 {
			return formatErr(tok, "autoindex requires exactly one argument")
		}
		switch args[0] {
		case "on":
			loc.Autoindex = true
		case "off":
			loc.Autoindex = false
		default:
			return formatErr(tok, "autoindex must be 'on' or 'off', got %q", args[0])
		}
	case "allow_methods":
		if len(args) == 0 {
			return formatErr(tok, "allow_methods requires at least one method")
		}
		for _, m := range args {
			method := strings.ToUpper(m)
			if !knownMethods[method] {
				return formatErr(tok, "allow_methods: unrecognized method %q", m)
			}
			loc.AllowedMethods = append(loc.AllowedMethods, method)
		}
	case "cgi_pass":
		if len(args) != 2 {
			return formatErr(tok, "cgi_pass requires exactly <.ext> <executor>")
		}
		if !strings.HasPrefix(args[0], ".") {
			return formatErr(tok, "cgi_pass extension %q must start with '.'", args[0])
		}
		loc.CGIPass[args[0]] = args[1]
	case "return":
		if len(args) != 1 {
			return formatErr(tok, "return requires exactly one argument")
		}
		loc.Redirect = args[0]
	case "client_max_body_size":
		if len(args) != 1 {
			return formatErr(tok, "client_max_body_size requires exactly one argument")
		}
		n, err := parseBodySize(args[0])
		if err != nil {
			return formatErr(tok, "invalid client_max_body_size %q: %v", args[0], err)
		}
		loc.ClientMaxBodySize = n
	default:
		return formatErr(tok, "unrecognized location directive %q", name)
	}
	return nil
}

// parseBodySize accepts a bare byte count or one suffixed with k/K/m/M per
// spec.md §6, using go-humanize's byte parser so that "10m" parses the
// same way a human operator writing nginx-style config would expect.
func parseBodySize(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// Binary suffixes (1024-based), matching original_source's
	// Utils::parseSize rather than humanize's decimal "kb"/"mb" units.
	lower := strings.ToLower(s)
	var withB string
	switch {
	case strings.HasSuffix(lower, "k"):
		withB = strings.TrimSuffix(lower, "k") + "kib"
	case strings.HasSuffix(lower, "m"):
		withB = strings.TrimSuffix(lower, "m") + "mib"
	default:
		return 0, fmt.Errorf("unrecognized size suffix in %q", s)
	}
	n, err := humanize.ParseBytes(withB)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// splitListen parses a "listen" argument of the form "ip:port" or "port"
// per spec.md §6.
func splitListen(s string) (ip string, port int, err error) {
	if !strings.Contains(s, ":") {
		p, err := strconv.Atoi(s)
		if err != nil {
			return "", 0, fmt.Errorf("invalid listen port %q: %w", s, err)
		}
		return "0.0.0.0", p, validatePort(p)
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", s, err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen port in %q: %w", s, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, p, validatePort(p)
}

func validatePort(p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("port %d out of range [1, 65535]", p)
	}
	return nil
}

// validate performs the post-parse checks spec.md §4.A and §6 call for:
// at least one server, valid listen ports, '.'-prefixed cgi_pass
// extensions (already checked while parsing), and uniqueness isn't
// required since shared ports are an explicit, intended feature.
func validate(tree *Tree) error {
	if len(tree.Servers) == 0 {
		return fmt.Errorf("config declares no server blocks")
	}
	for _, srv := range tree.Servers {
		if len(srv.Listen) == 0 {
			return fmt.Errorf("server block has no listen directive")
		}
		for _, l := range srv.Listen {
			if _, _, err := splitListen(l); err != nil {
				return err
			}
		}
	}
	return nil
}
