package uploader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ScrollsReplayRecorder/internal/ledger"
)

type captureNotifier struct {
	mu       sync.Mutex
	messages []string
	logs     []string
}

func (c *captureNotifier) SendMessage(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
}

func (c *captureNotifier) WriteLog(text string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, text)
}

func (c *captureNotifier) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func writeReplayFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "metadata|{\"game-id\":42}\nelapsed|1.23|{\"msg\":\"CardPlayed\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestUploadSuccessConfirmsLedger(t *testing.T) {
	dir := t.TempDir()
	lg := ledger.New(filepath.Join(dir, "upload-cache"))
	require.NoError(t, lg.Defer("42-white.spr"))

	var gotPath, gotField, gotFile, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		file, header, err := r.FormFile("replay")
		require.NoError(t, err)
		defer file.Close()

		gotField = "replay"
		gotFile = header.Filename
		body, err := io.ReadAll(file)
		require.NoError(t, err)
		gotBody = string(body)

		w.Write([]byte(`{"url":"http://scrollspost/r/42"}`))
	}))
	defer srv.Close()

	notifier := &captureNotifier{}
	u := New(srv.URL, lg, notifier, 0)
	path := writeReplayFile(t, dir, "42-white.spr")

	result, err := u.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, result.Uploaded())

	assert.Equal(t, "/v1/replays", gotPath)
	assert.Equal(t, "replay", gotField)
	assert.Equal(t, "42-white.spr", gotFile)
	assert.Contains(t, gotBody, "metadata|")

	// 成功上传后销账
	pending, err := lg.List()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// 短地址被补全成完整域名
	require.Len(t, notifier.all(), 1)
	assert.Contains(t, notifier.all()[0], "http://scrollspost.com/r/42")
}

func TestUploadBoundaryUsesEpochSeconds(t *testing.T) {
	dir := t.TempDir()
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"url":"http://scrollspost.com/r/42"}`))
	}))
	defer srv.Close()

	u := New(srv.URL, ledger.New(filepath.Join(dir, "upload-cache")), &captureNotifier{}, 0)
	u.now = func() time.Time { return time.Unix(1378167003, 0) }

	_, err := u.Upload(context.Background(), writeReplayFile(t, dir, "42-white.spr"))
	require.NoError(t, err)
	assert.Contains(t, contentType, "boundary=---------------------------1378167003")
}

func TestUploadGameTooShortDoesNotDefer(t *testing.T) {
	dir := t.TempDir()
	lg := ledger.New(filepath.Join(dir, "upload-cache"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"game_too_short"}`))
	}))
	defer srv.Close()

	notifier := &captureNotifier{}
	u := New(srv.URL, lg, notifier, 0)

	result, err := u.Upload(context.Background(), writeReplayFile(t, dir, "7-black.spr"))
	require.NoError(t, err)
	assert.False(t, result.Uploaded())
	assert.Equal(t, "game_too_short", result.Error)

	// 服务端最终判定，不再记账重试
	pending, err := lg.List()
	require.NoError(t, err)
	assert.Empty(t, pending)
	require.Len(t, notifier.all(), 1)
	assert.Contains(t, notifier.all()[0], "too short")
}

func TestUploadServerErrorDefers(t *testing.T) {
	dir := t.TempDir()
	lg := ledger.New(filepath.Join(dir, "upload-cache"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"internal_error"}`))
	}))
	defer srv.Close()

	notifier := &captureNotifier{}
	u := New(srv.URL, lg, notifier, 0)

	result, err := u.Upload(context.Background(), writeReplayFile(t, dir, "7-black.spr"))
	require.NoError(t, err)
	assert.Equal(t, "internal_error", result.Error)

	pending, err := lg.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"7-black.spr"}, pending)
	require.Len(t, notifier.all(), 1)
	assert.Contains(t, notifier.all()[0], "internal_error")
}

func TestUploadTransportErrorDefers(t *testing.T) {
	dir := t.TempDir()
	lg := ledger.New(filepath.Join(dir, "upload-cache"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 拒绝一切连接

	notifier := &captureNotifier{}
	u := New(srv.URL, lg, notifier, 0)

	_, err := u.Upload(context.Background(), writeReplayFile(t, dir, "9-white.spr"))
	require.Error(t, err)

	pending, lerr := lg.List()
	require.NoError(t, lerr)
	assert.Equal(t, []string{"9-white.spr"}, pending)
	require.Len(t, notifier.all(), 1)
	assert.Contains(t, notifier.all()[0], "HTTP error")
}

func TestUploadMalformedResponseDefers(t *testing.T) {
	dir := t.TempDir()
	lg := ledger.New(filepath.Join(dir, "upload-cache"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	u := New(srv.URL, lg, &captureNotifier{}, 0)

	_, err := u.Upload(context.Background(), writeReplayFile(t, dir, "9-white.spr"))
	require.Error(t, err)

	pending, lerr := lg.List()
	require.NoError(t, lerr)
	assert.Equal(t, []string{"9-white.spr"}, pending)
}

func TestUploadMissingFile(t *testing.T) {
	dir := t.TempDir()
	u := New("http://127.0.0.1:1", ledger.New(filepath.Join(dir, "upload-cache")), &captureNotifier{}, 0)

	_, err := u.Upload(context.Background(), filepath.Join(dir, "no-such.spr"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no-such.spr"))
}

func TestPoolUploadsEnqueuedReplays(t *testing.T) {
	dir := t.TempDir()
	lg := ledger.New(filepath.Join(dir, "upload-cache"))

	var mu sync.Mutex
	uploaded := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("replay")
		require.NoError(t, err)
		mu.Lock()
		uploaded[header.Filename] = true
		mu.Unlock()
		w.Write([]byte(`{"url":"http://scrollspost.com/r/1"}`))
	}))
	defer srv.Close()

	pool := NewPool(New(srv.URL, lg, &captureNotifier{}, 0), 2, 8)
	pool.Enqueue(writeReplayFile(t, dir, "1-white.spr"))
	pool.Enqueue(writeReplayFile(t, dir, "2-black.spr"))
	pool.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, uploaded["1-white.spr"])
	assert.True(t, uploaded["2-black.spr"])
}

func TestPoolEnqueueAfterShutdownDefers(t *testing.T) {
	dir := t.TempDir()
	lg := ledger.New(filepath.Join(dir, "upload-cache"))

	pool := NewPool(New("http://127.0.0.1:1", lg, &captureNotifier{}, 0), 1, 1)
	pool.Shutdown()
	pool.Enqueue(filepath.Join(dir, "late-game.spr"))

	pending, err := lg.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"late-game.spr"}, pending)
}
