package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gpscal/web-ftp-server/internal/config"
	"github.com/gpscal/web-ftp-server/internal/models"
	"github.com/gpscal/web-ftp-server/internal/storage"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	settings := config.Settings{
		ListenAddr:      ":0",
		FilesRoot:       t.TempDir(),
		MaxUploadSizeMB: 1,
	}
	store, err := storage.NewFileStore(settings.FilesRoot, settings.MaxUploadBytes())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewServer(settings, store), store.Root()
}

func do(t *testing.T, s *Server, method, target, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func seedFile(t *testing.T, root, rel, contents string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(full, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, root := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
	if body["files_root"] != root {
		t.Errorf("files_root = %q, want %q", body["files_root"], root)
	}
}

func TestListEndpoint(t *testing.T) {
	s, root := newTestServer(t)
	seedFile(t, root, "docs/a.txt", "alpha")
	if err := os.Mkdir(filepath.Join(root, "docs", "b"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	rec := do(t, s, http.MethodGet, "/api/files?path=docs", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var listing models.DirectoryListing
	decode(t, rec, &listing)
	if listing.Path != "docs" {
		t.Errorf("path = %q", listing.Path)
	}
	if listing.Parent == nil || *listing.Parent != "" {
		t.Errorf("parent = %v, want empty string", listing.Parent)
	}
	if len(listing.Items) != 2 || listing.Items[0].Name != "b" || listing.Items[1].Name != "a.txt" {
		t.Errorf("items = %+v, want [b a.txt]", listing.Items)
	}

	rec = do(t, s, http.MethodGet, "/api/files", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("root listing status = %d", rec.Code)
	}
	decode(t, rec, &listing)
	if listing.Parent != nil {
		t.Errorf("root parent = %q, want null", *listing.Parent)
	}
}

func TestListEndpointErrors(t *testing.T) {
	s, root := newTestServer(t)
	seedFile(t, root, "plain.txt", "x")

	cases := []struct {
		name   string
		target string
		want   int
	}{
		{"missing directory", "/api/files?path=missing", http.StatusNotFound},
		{"file path", "/api/files?path=plain.txt", http.StatusBadRequest},
		{"traversal clamped to missing", "/api/files?path=../../etc", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tc.target, "", nil)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["error"] == "" {
				t.Error("error message missing")
			}
		})
	}
}

func multipartBody(t *testing.T, destination string, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if destination != "" {
		if err := mw.WriteField("destination", destination); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for name, contents := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(contents)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUploadEndpoint(t *testing.T) {
	s, root := newTestServer(t)

	body, contentType := multipartBody(t, "incoming", map[string]string{
		"one.txt": "first",
		"two.txt": "second",
	})
	rec := do(t, s, http.MethodPost, "/api/files/upload", contentType, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Uploaded []string `json:"uploaded"`
	}
	decode(t, rec, &resp)
	if len(resp.Uploaded) != 2 {
		t.Fatalf("uploaded = %v", resp.Uploaded)
	}
	for name, want := range map[string]string{"one.txt": "first", "two.txt": "second"} {
		got, err := os.ReadFile(filepath.Join(root, "incoming", name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestUploadEndpointErrors(t *testing.T) {
	s, root := newTestServer(t)

	t.Run("no files", func(t *testing.T) {
		body, contentType := multipartBody(t, "incoming", nil)
		rec := do(t, s, http.MethodPost, "/api/files/upload", contentType, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("file destination", func(t *testing.T) {
		seedFile(t, root, "blob", "x")
		body, contentType := multipartBody(t, "blob", map[string]string{"a.txt": "x"})
		rec := do(t, s, http.MethodPost, "/api/files/upload", contentType, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("too large", func(t *testing.T) {
		oversized := strings.Repeat("x", 1<<20+1)
		body, contentType := multipartBody(t, "up", map[string]string{"big.bin": oversized})
		rec := do(t, s, http.MethodPost, "/api/files/upload", contentType, body)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("status = %d, want 413", rec.Code)
		}
		if _, err := os.Stat(filepath.Join(root, "up", "big.bin")); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("partial file left behind: %v", err)
		}
	})
}

func TestDownloadEndpoint(t *testing.T) {
	s, root := newTestServer(t)
	seedFile(t, root, "docs/data.json", `{"ok":true}`)

	rec := do(t, s, http.MethodGet, "/api/files/download?path=docs/data.json", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != `{"ok":true}` {
		t.Errorf("body = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="data.json"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestDownloadEndpointErrors(t *testing.T) {
	s, root := newTestServer(t)
	if err := os.Mkdir(filepath.Join(root, "folder"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cases := []struct {
		name   string
		target string
		want   int
	}{
		{"missing file", "/api/files/download?path=nope.txt", http.StatusNotFound},
		{"directory", "/api/files/download?path=folder", http.StatusNotFound},
		{"missing param", "/api/files/download", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodGet, tc.target, "", nil)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestCreateFolderEndpoint(t *testing.T) {
	s, root := newTestServer(t)

	payload := `{"parent": "a", "name": "b"}`
	rec := do(t, s, http.MethodPost, "/api/files/folder", "application/json", strings.NewReader(payload))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decode(t, rec, &resp)
	if resp["created"] != "a/b" {
		t.Errorf("created = %q, want a/b", resp["created"])
	}
	info, err := os.Stat(filepath.Join(root, "a", "b"))
	if err != nil || !info.IsDir() {
		t.Errorf("folder missing on disk: %v", err)
	}

	t.Run("conflict", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/files/folder", "application/json", strings.NewReader(payload))
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("blank name", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/files/folder", "application/json", strings.NewReader(`{"parent": "", "name": ""}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing parent", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/files/folder", "application/json", strings.NewReader(`{"name": "solo"}`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("empty parent is the root", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/files/folder", "application/json", strings.NewReader(`{"parent": "", "name": "solo"}`))
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp map[string]string
		decode(t, rec, &resp)
		if resp["created"] != "solo" {
			t.Errorf("created = %q, want solo", resp["created"])
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/files/folder", "application/json", strings.NewReader("{"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestRenameEndpoint(t *testing.T) {
	s, root := newTestServer(t)
	seedFile(t, root, "old.txt", "keep me")

	payload := `{"current_path": "old.txt", "new_path": "archive/new.txt"}`
	rec := do(t, s, http.MethodPatch, "/api/files/rename", "application/json", strings.NewReader(payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decode(t, rec, &resp)
	if resp["renamed"] != "archive/new.txt" {
		t.Errorf("renamed = %q", resp["renamed"])
	}
	got, err := os.ReadFile(filepath.Join(root, "archive", "new.txt"))
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(got) != "keep me" {
		t.Errorf("contents = %q", got)
	}

	t.Run("missing source", func(t *testing.T) {
		body := `{"current_path": "ghost.txt", "new_path": "x.txt"}`
		rec := do(t, s, http.MethodPatch, "/api/files/rename", "application/json", strings.NewReader(body))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("occupied destination", func(t *testing.T) {
		seedFile(t, root, "src.txt", "a")
		seedFile(t, root, "dst.txt", "b")
		body := `{"current_path": "src.txt", "new_path": "dst.txt"}`
		rec := do(t, s, http.MethodPatch, "/api/files/rename", "application/json", strings.NewReader(body))
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})
}

func TestDeleteEndpoint(t *testing.T) {
	s, root := newTestServer(t)
	seedFile(t, root, "tree/deep/leaf.txt", "x")

	rec := do(t, s, http.MethodDelete, "/api/files?path=tree", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decode(t, rec, &resp)
	if resp["deleted"] != "tree" {
		t.Errorf("deleted = %q", resp["deleted"])
	}
	if _, err := os.Stat(filepath.Join(root, "tree")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("tree still present: %v", err)
	}

	t.Run("missing target", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/api/files?path=tree", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("missing param", func(t *testing.T) {
		rec := do(t, s, http.MethodDelete, "/api/files", "", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodOptions, "/api/files", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", origin)
	}
	if methods := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "PATCH") {
		t.Errorf("Access-Control-Allow-Methods = %q", methods)
	}
}

func TestStaticFrontend(t *testing.T) {
	gin.SetMode(gin.TestMode)
	staticDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>front</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	settings := config.Settings{
		ListenAddr:      ":0",
		FilesRoot:       t.TempDir(),
		MaxUploadSizeMB: 1,
		StaticDir:       staticDir,
	}
	store, err := storage.NewFileStore(settings.FilesRoot, settings.MaxUploadBytes())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	s := NewServer(settings, store)

	rec := do(t, s, http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "front") {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, "/api/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown API route status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("unknown API route Content-Type = %q, want JSON", ct)
	}

	rec = do(t, s, http.MethodGet, "/ws/session", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("websocket subpath status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Errorf("websocket subpath Content-Type = %q, want JSON", ct)
	}
}

func TestWebSocketFeed(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The handler registers the client just after the handshake; wait for
	// it before feeding an event.
	waitUntil := time.Now().Add(5 * time.Second)
	for {
		s.clientMu.RLock()
		registered := len(s.clients) > 0
		s.clientMu.RUnlock()
		if registered {
			break
		}
		if time.Now().After(waitUntil) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	feed := make(chan models.ChangeEvent, 1)
	s.Feed(feed)
	feed <- models.ChangeEvent{
		Type:      models.ChangeCreated,
		Path:      "docs/new.txt",
		Timestamp: time.Now().UTC(),
	}

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	var got models.ChangeEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != models.ChangeCreated || got.Path != "docs/new.txt" {
		t.Errorf("event = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("event timestamp is zero")
	}
}
