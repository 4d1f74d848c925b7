package e2e_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alexjbarnes/bucket-sync/internal/manager"
	"github.com/alexjbarnes/bucket-sync/internal/mcpserver"
	"github.com/alexjbarnes/bucket-sync/internal/metrics"
	"github.com/alexjbarnes/bucket-sync/internal/remote/localstore"
	"github.com/alexjbarnes/bucket-sync/internal/server"
	"github.com/alexjbarnes/bucket-sync/internal/state"
	"github.com/alexjbarnes/bucket-sync/internal/watcher"
)

const testKey = "e2e-test-key-value"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// harness holds the full e2e test stack: a directory-backed remote store,
// a bolt metadata cache, the manager, and a real HTTP server serving the
// MCP tools and metrics behind the bearer key middleware.
type harness struct {
	URL       string
	Client    *http.Client
	Manager   *manager.Manager
	BucketDir string
	SrcDir    string
}

// newHarness wires the stack and starts an httptest server.
func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	bucketDir := filepath.Join(root, "bucket")
	srcDir := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))

	store, err := localstore.New(bucketDir, quietLogger)
	require.NoError(t, err)

	repo, err := state.LoadAt(filepath.Join(root, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	mgr := manager.New(store, repo, quietLogger,
		manager.WithDownloadDir(filepath.Join(root, "downloads")),
	)

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "bucket-sync-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, mgr)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(testKey), bcrypt.MinCost)
	require.NoError(t, err)

	mux := server.NewMux(server.MuxConfig{
		MCPHandler:     mcpHandler,
		MetricsHandler: metrics.Handler(),
		KeyHash:        string(hash),
		Logger:         quietLogger,
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &harness{
		URL:       ts.URL,
		Client:    ts.Client(),
		Manager:   mgr,
		BucketDir: bucketDir,
		SrcDir:    srcDir,
	}
}

// mcpSession creates an MCP client session authenticated with the given
// bearer key. Uses the MCP SDK's StreamableClientTransport with a
// custom HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// callTool calls a tool with no arguments and returns its text content.
func (h *harness) callTool(t *testing.T, session *mcp.ClientSession, name string) string {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: name})
	require.NoError(t, err)
	require.False(t, result.IsError, "tool %s returned an error", name)

	return extractTextContent(t, result)
}

// upload writes a local file and uploads it through the manager.
func (h *harness) upload(t *testing.T, name, content string) {
	t.Helper()

	path := filepath.Join(h.SrcDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := h.Manager.Upload(t.Context(), path)
	require.NoError(t, err)
}

// putRemote changes the bucket behind the cache's back, stamping the
// object with mtime.
func (h *harness) putRemote(t *testing.T, name, content string, mtime time.Time) {
	t.Helper()

	path := filepath.Join(h.BucketDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// startWatcher runs a watcher on a fresh directory until the test ends.
func (h *harness) startWatcher(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(filepath.Dir(h.SrcDir), "watch")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	w := watcher.New(dir, h.Manager, quietLogger)

	go func() {
		_ = w.Watch(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give fsnotify time to register the watch.
	time.Sleep(100 * time.Millisecond)

	return dir
}

// doGet performs a GET request with t.Context() and an optional key.
func (h *harness) doGet(t *testing.T, path, key string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), "GET", h.URL+path, nil)
	require.NoError(t, err)

	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := h.Client.Do(req)
	require.NoError(t, err)

	return resp
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}
