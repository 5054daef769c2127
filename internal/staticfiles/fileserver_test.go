package staticfiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luanch96/webserv/internal/config"
	"github.com/luanch96/webserv/internal/httpmsg"
)

func TestHandleGetServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0o644))

	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	HandleGet("/hello.txt", filepath.Join(dir, "hello.txt"), srv, nil, resp)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, []byte("hi there"), resp.Body)
	require.Equal(t, "text/plain; charset=utf-8", resp.Header("Content-Type"))
}

func TestHandleGetMissingFileReturns404(t *testing.T) {
	dir := t.TempDir()
	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	HandleGet("/missing.txt", filepath.Join(dir, "missing.txt"), srv, nil, resp)
	require.Equal(t, 404, resp.Status)
}

func TestHandleGetDirectoryFallsBackToIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o644))

	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	HandleGet("/", filepath.Join(dir, "index.html"), srv, nil, resp)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, []byte("<h1>home</h1>"), resp.Body)
}

func TestHandleGetDirectoryWithoutIndexOrAutoindexIs403(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	srv := config.NewServer()
	srv.Root = dir
	srv.Index = "nope.html"
	resp := httpmsg.NewResponse()

	HandleGet("/sub", sub, srv, nil, resp)
	require.Equal(t, 403, resp.Status)
}

func TestHandleGetUsesConfiguredErrorPage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "404.html"), []byte("custom not found"), 0o644))

	srv := config.NewServer()
	srv.Root = dir
	srv.ErrorPages[404] = "/404.html"
	resp := httpmsg.NewResponse()

	HandleGet("/missing.txt", filepath.Join(dir, "missing.txt"), srv, nil, resp)
	require.Equal(t, 404, resp.Status)
	require.Equal(t, []byte("custom not found"), resp.Body)
}

func TestHandlePostCreatesFileAtExplicitPath(t *testing.T) {
	dir := t.TempDir()
	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	target := filepath.Join(dir, "upload.txt")
	HandlePost([]byte("payload"), target, srv, nil, resp)
	require.Equal(t, 201, resp.Status)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), content)
}

func TestHandlePostIntoDirectorySynthesizesUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	HandlePost([]byte("payload"), dir, srv, nil, resp)
	require.Equal(t, 201, resp.Status)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestHandlePostRejectsOversizedBody(t *testing.T) {
	dir := t.TempDir()
	srv := config.NewServer()
	srv.Root = dir
	srv.ClientMaxBodySize = 4
	resp := httpmsg.NewResponse()

	HandlePost([]byte("this is too big"), filepath.Join(dir, "x.txt"), srv, nil, resp)
	require.Equal(t, 413, resp.Status)
}

func TestHandleDeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	HandleDelete(target, srv, resp)
	require.Equal(t, 204, resp.Status)
	_, err := os.Stat(target)
	require.True(t, os.IsNotExist(err))
}

func TestHandleDeleteMissingFileIs404(t *testing.T) {
	dir := t.TempDir()
	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	HandleDelete(filepath.Join(dir, "missing.txt"), srv, resp)
	require.Equal(t, 404, resp.Status)
}

func TestHandleDeleteDirectoryIs403(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	srv := config.NewServer()
	srv.Root = dir
	resp := httpmsg.NewResponse()

	HandleDelete(sub, srv, resp)
	require.Equal(t, 403, resp.Status)
}
