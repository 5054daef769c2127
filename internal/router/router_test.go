package router

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luanch96/webserv/internal/config"
	"github.com/luanch96/webserv/internal/httpmsg"
)

func reqFor(method, path, host string) *httpmsg.Request {
	r := httpmsg.NewRequest()
	line := method + " " + path + " HTTP/1.1\r\n"
	if host != "" {
		line += "Host: " + host + "\r\n"
	}
	line += "\r\n"
	r.Write([]byte(line))
	return r
}

func TestRouteExactHostMatch(t *testing.T) {
	a := config.NewServer()
	a.Listen = []string{"8080"}
	a.ServerNames = []string{"a.test"}
	a.Root = "/www/a"

	b := config.NewServer()
	b.Listen = []string{"8080"}
	b.ServerNames = []string{"b.test"}
	b.Root = "/www/b"

	result := Route([]*config.Server{a, b}, reqFor("GET", "/", "b.test"), 8080)
	require.Same(t, b, result.Server)
}

func TestRouteDefaultServerWhenNoHostMatches(t *testing.T) {
	a := config.NewServer()
	a.Listen = []string{"8080"}
	a.Root = "/www/a"

	b := config.NewServer()
	b.Listen = []string{"8080"}
	b.ServerNames = []string{"b.test"}

	result := Route([]*config.Server{a, b}, reqFor("GET", "/", "nowhere.test"), 8080)
	require.Same(t, a, result.Server)
}

func TestRouteNilServerWhenNoCandidateOnPort(t *testing.T) {
	a := config.NewServer()
	a.Listen = []string{"9090"}

	result := Route([]*config.Server{a}, reqFor("GET", "/", ""), 8080)
	require.Nil(t, result.Server)
}

func TestRouteLongestPrefixWinsAndTiesKeepFirstDeclared(t *testing.T) {
	srv := config.NewServer()
	srv.Listen = []string{"8080"}
	srv.Root = "/www"

	short := config.NewLocation()
	short.Path = "/api"
	long := config.NewLocation()
	long.Path = "/api/v2"
	tie := config.NewLocation()
	tie.Path = "/api/v2" // declared after `long`; `long` must still win

	srv.Locations = []*config.Location{short, long, tie}

	result := Route([]*config.Server{srv}, reqFor("GET", "/api/v2/things", ""), 8080)
	require.Same(t, long, result.Location)
}

func TestBuildFilePathAppendsIndexAtRoot(t *testing.T) {
	srv := config.NewServer()
	srv.Listen = []string{"8080"}
	srv.Root = "/www"
	srv.Index = "index.html"

	result := Route([]*config.Server{srv}, reqFor("GET", "/", ""), 8080)
	require.Equal(t, "/www/index.html", result.FilePath)
}

func TestBuildFilePathStripsLocationPrefix(t *testing.T) {
	srv := config.NewServer()
	srv.Listen = []string{"8080"}
	srv.Root = "/www"

	loc := config.NewLocation()
	loc.Path = "/static"
	loc.Root = "/assets"
	srv.Locations = []*config.Location{loc}

	result := Route([]*config.Server{srv}, reqFor("GET", "/static/app.js", ""), 8080)
	require.Equal(t, "/assets/app.js", result.FilePath)
}

func TestCGIDetectionByExtension(t *testing.T) {
	srv := config.NewServer()
	srv.Listen = []string{"8080"}
	srv.Root = "/www"

	loc := config.NewLocation()
	loc.Path = "/cgi"
	loc.CGIPass[".py"] = "/usr/bin/python3"
	srv.Locations = []*config.Location{loc}

	result := Route([]*config.Server{srv}, reqFor("GET", "/cgi/echo.py", ""), 8080)
	require.True(t, result.IsCGI)
	require.Equal(t, "/usr/bin/python3", result.CGIExecutor)

	result2 := Route([]*config.Server{srv}, reqFor("GET", "/cgi/readme.txt", ""), 8080)
	require.False(t, result2.IsCGI)
}
