package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerbench/sketch/internal/logging"
	"github.com/tinkerbench/sketch/internal/pipeline"
	"github.com/tinkerbench/sketch/internal/snapshot"
	"github.com/tinkerbench/sketch/internal/vfs"
)

type testServer struct {
	tree   *vfs.Tree
	pipe   *pipeline.Pipeline
	server *Server
	http   *httptest.Server
}

func newTestServer(t *testing.T, store *snapshot.Store) *testServer {
	t.Helper()

	tree := vfs.NewTree()
	require.NoError(t, tree.CreateFile("/App.tsx",
		"export default function App() { return <h1>hi</h1>; }"))

	pipe := pipeline.New(tree, pipeline.Options{Logger: logging.Discard()})
	pipe.RunOnce(context.Background())

	s := New(tree, pipe, store, Options{Logger: logging.Discard()})
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)

	return &testServer{tree: tree, pipe: pipe, server: s, http: ts}
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(ts.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.String()
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, string) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.String()
}

func TestIndexServesDocument(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "<!DOCTYPE html>")
	assert.Contains(t, body, `<script type="importmap">`)
}

func TestModuleHandle(t *testing.T) {
	ts := newTestServer(t, nil)

	result, ok := ts.pipe.Current()
	require.True(t, ok)

	var servePath string
	for path := range result.Build.Modules {
		if strings.HasPrefix(path, "/__run/") {
			servePath = path
			break
		}
	}
	require.NotEmpty(t, servePath)

	resp, body := ts.get(t, servePath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/javascript")
	assert.NotEmpty(t, body)
}

func TestModuleHandleSuperseded(t *testing.T) {
	ts := newTestServer(t, nil)

	result, _ := ts.pipe.Current()
	var stale string
	for path := range result.Build.Modules {
		if strings.HasPrefix(path, "/__run/") {
			stale = path
			break
		}
	}
	require.NotEmpty(t, stale)

	// A new run mints fresh handles and releases the old ones.
	require.NoError(t, ts.tree.UpdateFile("/App.tsx",
		"export default function App() { return <h2>v2</h2>; }"))
	ts.pipe.RunOnce(context.Background())

	resp, _ := ts.get(t, stale)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTreeListing(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.tree.CreateFile("/components/Button.tsx", "export {}"))

	resp, body := ts.get(t, "/api/tree")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Revision uint64 `json:"revision"`
		Entries  []struct {
			Path string `json:"path"`
			Kind string `json:"kind"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))

	paths := make(map[string]string)
	for _, entry := range payload.Entries {
		paths[entry.Path] = entry.Kind
	}
	assert.Equal(t, "file", paths["/App.tsx"])
	assert.Equal(t, "directory", paths["/components"])
	assert.Equal(t, "file", paths["/components/Button.tsx"])
}

func TestReadFile(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.get(t, "/api/file/App.tsx")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "function App")

	resp, _ = ts.get(t, "/api/file/missing.tsx")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApplyOps(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/ops", []map[string]any{
		{"type": "write", "path": "/util.ts", "content": "export const n = 1;"},
		{"type": "replace", "path": "/util.ts", "find": "1", "replace": "2"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Applied int `json:"applied"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	assert.Equal(t, 2, result.Applied)

	content, _ := ts.tree.ReadFile("/util.ts")
	assert.Equal(t, "export const n = 2;", content)
}

func TestApplyOpsFailure(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/ops", []map[string]any{
		{"type": "write", "path": "/ok.ts", "content": "fine"},
		{"type": "delete", "path": "/"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var result struct {
		Applied int    `json:"applied"`
		Code    string `json:"code"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &result))
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, "ERR_ROOT_IMMUTABLE", result.Code)

	// The op before the failure stuck.
	assert.True(t, ts.tree.Exists("/ok.ts"))
}

func TestProjectRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.tree.CreateFile("/a/b.ts", "x"))

	resp, exported := ts.get(t, "/api/project")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Wipe and re-import.
	var serialized vfs.Serialized
	require.NoError(t, json.Unmarshal([]byte(exported), &serialized))

	resp, _ = ts.do(t, http.MethodPut, "/api/project", serialized)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.True(t, ts.tree.Exists("/App.tsx"))
	assert.True(t, ts.tree.Exists("/a/b.ts"))
}

func TestSnapshotEndpoints(t *testing.T) {
	store, err := snapshot.Open(filepath.Join(t.TempDir(), "snap.db"))
	require.NoError(t, err)
	defer store.Close()

	ts := newTestServer(t, store)

	resp, _ := ts.do(t, http.MethodPut, "/api/snapshots/checkpoint", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ts.tree.Delete("/App.tsx"))

	resp, _ = ts.do(t, http.MethodPost, "/api/snapshots/checkpoint/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, ts.tree.Exists("/App.tsx"))

	resp, body := ts.get(t, "/api/snapshots")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "checkpoint")

	resp, _ = ts.do(t, http.MethodDelete, "/api/snapshots/checkpoint", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/snapshots/checkpoint", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSnapshotsDisabled(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := ts.get(t, "/api/snapshots")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)
}

func TestWebSocketReload(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Wait for the hub to register the client before broadcasting.
	require.Eventually(t, func() bool {
		return ts.server.hub.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	result := ts.pipe.RunOnce(context.Background())
	ts.server.hub.broadcastReload(result)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg struct {
		Type  string `json:"type"`
		RunID uint64 `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "full_reload", msg.Type)
	assert.Equal(t, result.RunID, msg.RunID)
}

func TestWebSocketOriginRejected(t *testing.T) {
	ts := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/ws", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
