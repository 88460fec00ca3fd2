package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"devserve/internal/reload"
	"devserve/internal/version"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCommand(args ...string) (string, string, int) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func siteRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html><body>home</body></html>"), 0o644))
	return root
}

func TestVersionCommand(t *testing.T) {
	stdout, _, code := executeCommand("version")
	require.Equal(t, exitOK, code)
	assert.True(t, strings.HasPrefix(stdout, "devserve "), stdout)
}

func TestVersionCommandJSON(t *testing.T) {
	stdout, _, code := executeCommand("version", "--json")
	require.Equal(t, exitOK, code)

	var info version.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestConfigCommandPrintsEffectiveConfig(t *testing.T) {
	stdout, _, code := executeCommand("config", "--port", "4000", "--watch", "**/*.css", "--debounce", "250ms")
	require.Equal(t, exitOK, code)

	assert.Contains(t, stdout, "port: 4000")
	assert.Contains(t, stdout, "debounce: 250ms")
	assert.Contains(t, stdout, "**/*.css")
	assert.NotContains(t, stdout, "**/*.html")
}

func TestInvalidFlagExitsWithUsageCode(t *testing.T) {
	_, stderr, code := executeCommand("--port", "abc")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "invalid argument")
}

func TestInvalidConfigValueExitsWithUsageCode(t *testing.T) {
	_, stderr, code := executeCommand("--log-level", "loud")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "invalid log level")
}

func TestUnexpectedArgumentExitsWithUsageCode(t *testing.T) {
	_, _, code := executeCommand("serve-now")
	assert.Equal(t, exitUsage, code)
}

func TestEmptyWatchPatternsRejectedBeforeBinding(t *testing.T) {
	port := freePort(t)

	_, stderr, code := executeCommand("--watch=", "--root", siteRoot(t), "--host", "127.0.0.1", "--port", strconv.Itoa(port))

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "pattern set is empty")
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	require.NoError(t, listener.Close())
}

func TestMissingRootExitsWithFailure(t *testing.T) {
	_, stderr, code := executeCommand("--root", filepath.Join(t.TempDir(), "missing"), "--port", "0")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "watch config")
}

func TestBusyPortExitsWithFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	_, stderr, code := executeCommand("--root", siteRoot(t), "--host", "127.0.0.1", "--port", strconv.Itoa(port))

	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, strconv.Itoa(port))
}

func TestServeReloadsBrowserAndExitsCleanly(t *testing.T) {
	root := siteRoot(t)
	port := freePort(t)
	base := "http://127.0.0.1:" + strconv.Itoa(port)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	go func() {
		done <- execute(ctx, []string{
			"--root", root,
			"--host", "127.0.0.1",
			"--port", strconv.Itoa(port),
			"--watch", "**/*.html",
			"--debounce", "50ms",
			"--log-level", "error",
		}, io.Discard, io.Discard)
	}()

	var page string
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		page = string(body)
		return true
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, page, reload.ScriptPath)

	conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:"+strconv.Itoa(port)+reload.EndpointPath, nil)
	require.NoError(t, err)
	defer conn.Close()
	// Give the hub a moment to register the client before the change.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.html"), []byte("<p>a</p>"), 0o644))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var message reload.Message
	require.NoError(t, conn.ReadJSON(&message))
	assert.Equal(t, reload.TypeReload, message.Kind)
	assert.Contains(t, message.Paths, "a.html")

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, exitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("devserve did not stop after cancel")
	}
}
