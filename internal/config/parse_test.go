package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMinimalServer(t *testing.T) {
	input := `
server {
	listen 8080;
	server_name example.com;
	root /var/www;
	index index.html;
	client_max_body_size 10m;

	location /api {
		allow_methods GET POST;
		client_max_body_size 1k;
	}

	location /old {
		return /new;
	}
}
`
	tokens, err := tokenize("test.conf", strings.NewReader(input))
	require.NoError(t, err)

	tree, err := parse(tokens)
	require.NoError(t, err)
	require.Len(t, tree.Servers, 1)

	srv := tree.Servers[0]
	require.Equal(t, []string{"8080"}, srv.Listen)
	require.Equal(t, []string{"example.com"}, srv.ServerNames)
	require.Equal(t, "/var/www", srv.Root)
	require.Equal(t, "index.html", srv.Index)
	require.EqualValues(t, 10*1024*1024, srv.ClientMaxBodySize)
	require.Len(t, srv.Locations, 2)

	api := srv.Locations[0]
	require.Equal(t, "/api", api.Path)
	require.Equal(t, []string{"GET", "POST"}, api.AllowedMethods)
	require.EqualValues(t, 1024, api.ClientMaxBodySize)

	old := srv.Locations[1]
	require.Equal(t, "/new", old.Redirect)
}

func TestParseCGIPass(t *testing.T) {
	input := `
server {
	listen 127.0.0.1:9000;
	location /cgi {
		cgi_pass .py /usr/bin/python3;
	}
}
`
	tokens, err := tokenize("test.conf", strings.NewReader(input))
	require.NoError(t, err)
	tree, err := parse(tokens)
	require.NoError(t, err)

	loc := tree.Servers[0].Locations[0]
	require.Equal(t, "/usr/bin/python3", loc.CGIPass[".py"])
}

func TestParseRejectsBadExtension(t *testing.T) {
	input := `
server {
	listen 8080;
	location /cgi {
		cgi_pass py /usr/bin/python3;
	}
}
`
	tokens, err := tokenize("test.conf", strings.NewReader(input))
	require.NoError(t, err)
	_, err = parse(tokens)
	require.Error(t, err)
}

func TestParseRejectsUnknownMethod(t *testing.T) {
	input := `
server {
	listen 8080;
	location / {
		allow_methods GET BOGUS;
	}
}
`
	tokens, err := tokenize("test.conf", strings.NewReader(input))
	require.NoError(t, err)
	_, err = parse(tokens)
	require.Error(t, err)
}

func TestValidateRejectsEmptyConfig(t *testing.T) {
	err := validate(&Tree{})
	require.Error(t, err)
}

func TestSplitListen(t *testing.T) {
	ip, port, err := splitListen("8080")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", ip)
	require.Equal(t, 8080, port)

	ip, port, err = splitListen("127.0.0.1:9090")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", ip)
	require.Equal(t, 9090, port)

	_, _, err = splitListen("70000")
	require.Error(t, err)
}

func TestTreePortsDedup(t *testing.T) {
	tree := &Tree{Servers: []*Server{
		{Listen: []string{"8080"}},
		{Listen: []string{"127.0.0.1:8080"}},
		{Listen: []string{"9090"}},
	}}
	require.Equal(t, []int{8080, 9090}, tree.Ports())
	require.Len(t, tree.ServersOnPort(8080), 2)
}
