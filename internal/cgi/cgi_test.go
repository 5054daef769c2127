package cgi

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luanch96/webserv/internal/httpmsg"
)

func reqWithBody(method, path, body string) *httpmsg.Request {
	r := httpmsg.NewRequest()
	head := method + " " + path + " HTTP/1.1\r\nHost: x\r\n"
	if body != "" {
		head += "Content-Length: " + strconv.Itoa(len(body)) + "\r\n"
	}
	head += "\r\n" + body
	r.Write([]byte(head))
	return r
}

// writeEchoScript writes a tiny shell script that reads stdin and prints a
// CGI-style header block followed by the echoed body, matching spec.md
// boundary scenario 5 ("CGI echo").
func writeEchoScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "echo.sh")
	script := "#!/bin/sh\nprintf 'Content-Type: text/plain\\r\\n\\r\\n'\ncat\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func drive(t *testing.T, h *Handle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.HasBody() || h.stdin != nil {
		done, err := h.WriteStdin()
		require.NoError(t, err)
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out writing to CGI stdin")
		}
	}
	for {
		done, err := h.ReadStdout()
		require.NoError(t, err)
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out reading from CGI stdout")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCGIEchoRoundTrip(t *testing.T) {
	script := writeEchoScript(t)
	req := reqWithBody("POST", "/cgi/echo.sh", "hi")

	h, err := Start("/bin/sh", script, req)
	require.NoError(t, err)
	defer h.Close()

	drive(t, h)

	require.Equal(t, "text/plain", h.ContentType())
	require.Equal(t, "hi", string(h.Output()))
}

func TestCGIEnvBuilding(t *testing.T) {
	req := reqWithBody("POST", "/cgi/x.py?a=1", "body")
	env := BuildEnv(req, "/www/cgi/x.py")

	require.Contains(t, env, "REQUEST_METHOD=POST")
	require.Contains(t, env, "SCRIPT_FILENAME=/www/cgi/x.py")
	require.Contains(t, env, "SCRIPT_NAME=/cgi/x.py")
	require.Contains(t, env, "QUERY_STRING=a=1")
	require.Contains(t, env, "PATH_INFO=/cgi/x.py")
	require.Contains(t, env, "SERVER_SOFTWARE=webserv/1.0")
	require.Contains(t, env, "HTTP_HOST=x")
}

func TestCGIEmptyOutputStillBuildsEmptyBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "silent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\ncat >/dev/null\n"), 0o755))

	req := reqWithBody("POST", "/cgi/silent.sh", "ignored")
	h, err := Start("/bin/sh", path, req)
	require.NoError(t, err)
	defer h.Close()

	drive(t, h)
	require.Empty(t, h.Output())
	require.Equal(t, DefaultContentType, h.ContentType())
}

func TestStartFailsWithoutExecutor(t *testing.T) {
	req := reqWithBody("GET", "/cgi/x", "")
	_, err := Start("", "/tmp/x", req)
	require.Error(t, err)
}

// Repeated PollReaps calls must reap a child that has exited, each call
// being a single non-blocking step that never sleeps or blocks the caller.
func TestPollReapsReapsExitedChild(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quick.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\ncat >/dev/null\nexit 0\n"), 0o755))

	req := reqWithBody("GET", "/cgi/quick.sh", "")
	h, err := Start("/bin/sh", path, req)
	require.NoError(t, err)

	drive(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for h.pid > 0 && time.Now().Before(deadline) {
		PollReaps()
		time.Sleep(time.Millisecond)
	}
	require.LessOrEqual(t, h.pid, 0)
}
