package github_test

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/storageio/internal/adapter/driven/github"
	"github.com/ericfisherdev/storageio/internal/domain/model"
)

const (
	testOwner = "octo"
	testRepo  = "files"
	testToken = "test-token"
)

// fakeRepo emulates the subset of the GitHub contents and blobs APIs the
// provider uses. Blob SHAs are the SHA-1 of the content.
type fakeRepo struct {
	mu          sync.Mutex
	files       map[string][]byte
	token       string
	inlineLimit int
	conditional int // GETs answered with 304
	writes      []string
	deletes     []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{files: make(map[string][]byte), token: testToken, inlineLimit: 1 << 20}
}

func blobSHA(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}

func (f *fakeRepo) handler() http.Handler {
	mux := http.NewServeMux()
	prefix := fmt.Sprintf("/repos/%s/%s", testOwner, testRepo)
	mux.HandleFunc("GET "+prefix+"/contents/{path...}", f.get)
	mux.HandleFunc("PUT "+prefix+"/contents/{path...}", f.put)
	mux.HandleFunc("DELETE "+prefix+"/contents/{path...}", f.del)
	mux.HandleFunc("GET "+prefix+"/git/blobs/{sha}", f.blob)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		token := f.token
		f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (f *fakeRepo) seed(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = []byte(content)
}

func (f *fakeRepo) content(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	return string(data), ok
}

func (f *fakeRepo) fileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

func (f *fakeRepo) writeLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.writes)
}

func (f *fakeRepo) deleteLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deletes)
}

func (f *fakeRepo) revalidations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conditional
}

func (f *fakeRepo) setInlineLimit(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inlineLimit = n
}

func (f *fakeRepo) setToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeRepo) entry(path string, withContent bool) map[string]any {
	data := f.files[path]
	e := map[string]any{
		"type": "file",
		"name": path[strings.LastIndex(path, "/")+1:],
		"path": path,
		"sha":  blobSHA(data),
		"size": len(data),
	}
	if withContent {
		if len(data) > f.inlineLimit {
			e["encoding"] = "none"
			e["content"] = ""
		} else {
			e["encoding"] = "base64"
			e["content"] = base64.StdEncoding.EncodeToString(data)
		}
	}
	return e
}

func (f *fakeRepo) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.PathValue("path")

	var body any
	if _, ok := f.files[path]; ok {
		body = f.entry(path, true)
	} else {
		prefix := ""
		if path != "" {
			prefix = path + "/"
		}
		seenDirs := map[string]bool{}
		var entries []map[string]any
		for p := range f.files {
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			rest := strings.TrimPrefix(p, prefix)
			if i := strings.Index(rest, "/"); i >= 0 {
				dir := rest[:i]
				if !seenDirs[dir] {
					seenDirs[dir] = true
					entries = append(entries, map[string]any{"type": "dir", "name": dir, "path": prefix + dir, "sha": "d", "size": 0})
				}
				continue
			}
			entries = append(entries, f.entry(p, false))
		}
		if len(entries) == 0 {
			msg := "Not Found"
			if path == "" {
				msg = "This repository is empty."
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"message": msg})
			return
		}
		slices.SortFunc(entries, func(a, b map[string]any) int {
			return strings.Compare(a["path"].(string), b["path"].(string))
		})
		body = entries
	}

	raw, _ := json.Marshal(body)
	etag := `"` + blobSHA(raw) + `"`
	if r.Header.Get("If-None-Match") == etag {
		f.conditional++
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "private, max-age=60, s-maxage=60")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

type writeBody struct {
	Message string `json:"message"`
	Content []byte `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func (f *fakeRepo) put(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.PathValue("path")

	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	for p := range f.files {
		if strings.HasPrefix(path, p+"/") {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "parent is a file"})
			return
		}
	}

	current, exists := f.files[path]
	switch {
	case exists && body.SHA == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": `Invalid request. "sha" wasn't supplied.`})
		return
	case exists && body.SHA != blobSHA(current):
		writeJSON(w, http.StatusConflict, map[string]string{"message": fmt.Sprintf("%s does not match %s", path, body.SHA)})
		return
	case !exists && body.SHA != "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "sha does not exist"})
		return
	}

	f.files[path] = body.Content
	f.writes = append(f.writes, path)

	status := http.StatusOK
	if !exists {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"content": f.entry(path, false),
		"commit": map[string]any{
			"sha":       "c" + blobSHA(body.Content)[:6],
			"message":   body.Message,
			"committer": map[string]any{"name": "storageio", "date": "2026-10-19T10:00:00Z"},
		},
	})
}

func (f *fakeRepo) del(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.PathValue("path")

	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	current, ok := f.files[path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if body.SHA != blobSHA(current) {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "sha does not match"})
		return
	}
	delete(f.files, path)
	f.deletes = append(f.deletes, path)
	writeJSON(w, http.StatusOK, map[string]any{"content": nil, "commit": map[string]any{"sha": "cdel"}})
}

func (f *fakeRepo) blob(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha := r.PathValue("sha")
	for _, data := range f.files {
		if blobSHA(data) == sha {
			_, _ = w.Write(data)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newTestProvider creates a Provider backed by a fake repository server.
func newTestProvider(t *testing.T) (*ghAdapter.Provider, *fakeRepo) {
	t.Helper()

	repo := newFakeRepo()
	server := httptest.NewServer(repo.handler())
	t.Cleanup(server.Close)

	base, err := ghAdapter.ParseBaseURL(server.URL)
	require.NoError(t, err)

	p := ghAdapter.NewProvider(
		ghAdapter.WithBaseURL(base),
		ghAdapter.WithHTTPTransport(server.Client().Transport),
	)
	return p, repo
}

func testCred() model.Credential {
	return model.Credential{ID: "gh-1", Params: model.GitHubParams{Token: testToken, Owner: testOwner, Repo: testRepo}}
}
