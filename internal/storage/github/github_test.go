package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codereader/internal/errs"
	"github.com/codereader/internal/storage"
)

// newTestClient points a client at a fake GitHub API.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		Owner:      "acme",
		Repo:       "widgets",
		DefaultRef: "main",
		APIBaseURL: server.URL,
	})
	t.Cleanup(client.Close)
	return client
}

func contentsJSON(path, encoding, content string) []byte {
	name := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			name = path[i+1:]
			break
		}
	}
	data, _ := json.Marshal(map[string]any{
		"type":     "file",
		"encoding": encoding,
		"content":  content,
		"sha":      "abc123",
		"size":     len(content),
		"name":     name,
		"path":     path,
		"url":      "https://example.invalid/" + path,
	})
	return data
}

func TestReadFile(t *testing.T) {
	// GitHub wraps base64 payloads at 60 columns; make sure we tolerate that.
	encoded := base64.StdEncoding.EncodeToString([]byte("package main\n\nfunc main() {}\n"))
	wrapped := encoded[:20] + "\n" + encoded[20:] + "\n"

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/contents/cmd/main.go", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		w.Write(contentsJSON("cmd/main.go", "base64", wrapped))
	}))

	content, err := client.ReadFile(context.Background(), "cmd/main.go", "")
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", content)
}

func TestReadFile_ExplicitRef(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v1.2.0", r.URL.Query().Get("ref"))
		w.Write(contentsJSON("README.md", "base64", base64.StdEncoding.EncodeToString([]byte("hello"))))
	}))

	content, err := client.ReadFile(context.Background(), "README.md", "v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestReadFile_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Not Found"}`))
	}))

	_, err := client.ReadFile(context.Background(), "missing.go", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.NotErrorIs(t, err, errs.ErrProviderUnavailable)
}

func TestReadFile_DirectoryListing(t *testing.T) {
	// The contents API returns an array when the path is a directory.
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name": "a.go", "path": "pkg/a.go", "type": "file"}]`))
	}))

	_, err := client.ReadFile(context.Background(), "pkg", "")
	assert.ErrorIs(t, err, errs.ErrNotAFile)
}

func TestReadFile_NonFileType(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type": "symlink", "encoding": "base64", "content": "", "path": "link"}`))
	}))

	_, err := client.ReadFile(context.Background(), "link", "")
	assert.ErrorIs(t, err, errs.ErrNotAFile)
}

func TestReadFile_UnsupportedEncoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(contentsJSON("big.bin", "none", ""))
	}))

	_, err := client.ReadFile(context.Background(), "big.bin", "")
	assert.ErrorIs(t, err, errs.ErrUnsupportedEncoding)
}

func TestReadFile_ProviderUnavailable(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.ReadFile(context.Background(), "main.go", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
	assert.NotErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, 1, calls, "zero-retry config should make exactly one attempt")
}

func TestReadFile_RetriesTransientFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(contentsJSON("main.go", "base64", base64.StdEncoding.EncodeToString([]byte("ok"))))
	}))
	defer server.Close()

	client := NewClient(Config{
		Owner:      "acme",
		Repo:       "widgets",
		APIBaseURL: server.URL,
		MaxRetries: 3,
	})
	defer client.Close()
	// Shrink delays so the test does not sleep for real.
	client.retryCfg.BaseDelay = 0
	client.retryCfg.MaxDelay = 0

	content, err := client.ReadFile(context.Background(), "main.go", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, 3, calls)
}

func TestReadFile_RateLimited403IsTransient(t *testing.T) {
	// The primary rate limit answers 403 with an exhausted quota header,
	// not 429. It must retry and, once retries run out, classify as
	// provider unavailability rather than a plain request failure.
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write(contentsJSON("main.go", "base64", base64.StdEncoding.EncodeToString([]byte("ok"))))
	}))
	defer server.Close()

	client := NewClient(Config{
		Owner:      "acme",
		Repo:       "widgets",
		APIBaseURL: server.URL,
		MaxRetries: 2,
	})
	defer client.Close()
	client.retryCfg.BaseDelay = 0
	client.retryCfg.MaxDelay = 0

	content, err := client.ReadFile(context.Background(), "main.go", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, 2, calls)

	// A plain 403 without the exhausted quota header stays non-transient.
	denied := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err = denied.ReadFile(context.Background(), "main.go", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrProviderUnavailable)
}

func TestSearchFiles_InvalidOptions(t *testing.T) {
	called := false
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	_, err := client.SearchFiles(context.Background(), "main", storage.SearchOptions{Extension: "go", MaxResults: 10})
	assert.ErrorIs(t, err, errs.ErrInvalidOptions)

	_, err = client.SearchFiles(context.Background(), "main", storage.SearchOptions{MaxResults: 0})
	assert.ErrorIs(t, err, errs.ErrInvalidOptions)

	assert.False(t, called, "validation failures must not reach the network")
}

func treeJSON(entries []map[string]any) []byte {
	data, _ := json.Marshal(map[string]any{"tree": entries, "truncated": false})
	return data
}

func TestSearchFiles_LocalFiltering(t *testing.T) {
	tree := []map[string]any{
		{"path": "README.md", "type": "blob", "sha": "1", "size": 10},
		{"path": "src/test_Handler.py", "type": "blob", "sha": "2", "size": 30},
		{"path": "src/handler.py", "type": "blob", "sha": "3", "size": 20},
		{"path": "src", "type": "tree", "sha": "4"},
		{"path": "docs/handler.rst", "type": "blob", "sha": "5", "size": 40},
	}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/git/trees/main", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		w.Write(treeJSON(tree))
	}))

	results, err := client.SearchFiles(context.Background(), "handler", storage.SearchOptions{
		Extension:  ".py",
		MaxResults: 10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2, "tree entries and non-.py files must be filtered out")

	// Prefix match on the filename outranks the mid-name substring match,
	// even though the substring match came first in tree order.
	assert.Equal(t, "src/handler.py", results[0].Path)
	assert.Equal(t, "src/test_Handler.py", results[1].Path)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, storage.KindFile, results[0].Kind)
}

func TestSearchFiles_FirstNThenSort(t *testing.T) {
	// 150 matching blobs; only the first 10 in tree order may be scanned.
	// Deeper entries come first so a global top-N would pick different ones.
	var tree []map[string]any
	for i := 0; i < 150; i++ {
		path := fmt.Sprintf("a/b/c/d/e/query_%03d.txt", i)
		if i >= 100 {
			path = fmt.Sprintf("query_%03d.txt", i) // shallow, would win a global sort
		}
		tree = append(tree, map[string]any{"path": path, "type": "blob", "sha": fmt.Sprint(i)})
	}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(treeJSON(tree))
	}))

	results, err := client.SearchFiles(context.Background(), "query", storage.SearchOptions{MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, results, 10)

	for _, result := range results {
		assert.Contains(t, result.Path, "a/b/c/d/e/", "only the first 10 tree matches may be returned")
	}

	// Sorted among themselves: scores never increase.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchFiles_IncludeContentDegradesPerItem(t *testing.T) {
	tree := []map[string]any{
		{"path": "good.txt", "type": "blob", "sha": "1"},
		{"path": "gone.txt", "type": "blob", "sha": "2"},
	}

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/git/trees/main":
			w.Write(treeJSON(tree))
		case "/repos/acme/widgets/contents/good.txt":
			w.Write(contentsJSON("good.txt", "base64", base64.StdEncoding.EncodeToString([]byte("present"))))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	results, err := client.SearchFiles(context.Background(), "txt", storage.SearchOptions{
		MaxResults:     10,
		IncludeContent: true,
	})
	require.NoError(t, err, "a single failed content fetch must not fail the search")
	require.Len(t, results, 2)

	byPath := map[string]string{}
	for _, r := range results {
		byPath[r.Path] = r.Content
	}
	assert.Equal(t, "present", byPath["good.txt"])
	assert.Empty(t, byPath["gone.txt"])
}

func TestSearchFiles_ContentMode(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/code", r.URL.Path)
		assert.Equal(t, "retry repo:acme/widgets extension:go", r.URL.Query().Get("q"))
		w.Write([]byte(`{
			"total_count": 2,
			"items": [
				{"name": "backoff.go", "path": "internal/retry/backoff.go", "sha": "a", "score": 12.5},
				{"name": "retry.go", "path": "pkg/retry.go", "sha": "b", "score": 7.1}
			]
		}`))
	}))

	results, err := client.SearchFiles(context.Background(), "retry", storage.SearchOptions{
		Extension:       ".go",
		MaxResults:      10,
		SearchInContent: true,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Provider ranking order is preserved as-is.
	assert.Equal(t, "internal/retry/backoff.go", results[0].Path)
	assert.Equal(t, 12.5, results[0].Score)
	assert.Equal(t, "pkg/retry.go", results[1].Path)
}

func TestGetDirectoryStructure_Directory(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"name": "main.go", "path": "cmd/main.go", "type": "file", "size": 120, "sha": "a"},
			{"name": "sub", "path": "cmd/sub", "type": "dir", "sha": "b"}
		]`))
	}))

	results, err := client.GetDirectoryStructure(context.Background(), "cmd", "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, storage.KindFile, results[0].Kind)
	assert.Equal(t, int64(120), results[0].Size)
	assert.Equal(t, storage.KindDirectory, results[1].Kind)
	assert.Equal(t, "cmd/sub", results[1].Path)
}

func TestGetDirectoryStructure_SingleFile(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(contentsJSON("Makefile", "base64", "bWFrZQ=="))
	}))

	results, err := client.GetDirectoryStructure(context.Background(), "Makefile", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Makefile", results[0].Path)
	assert.Equal(t, storage.KindFile, results[0].Kind)
}

func TestGetDirectoryStructure_NotFound(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetDirectoryStructure(context.Background(), "nope", "")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGet_TokenHeader(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write(contentsJSON("f", "base64", ""))
	}))
	defer server.Close()

	client := NewClient(Config{Owner: "acme", Repo: "widgets", Token: "secret", APIBaseURL: server.URL})
	defer client.Close()

	_, err := client.ReadFile(context.Background(), "f", "")
	require.NoError(t, err)
	assert.Equal(t, "token secret", gotAuth)

	// Tokenless clients still work against public repositories.
	anon := NewClient(Config{Owner: "acme", Repo: "widgets", APIBaseURL: server.URL})
	defer anon.Close()

	_, err = anon.ReadFile(context.Background(), "f", "")
	require.NoError(t, err)
	assert.Empty(t, gotAuth)
}

func TestReadFile_Cancellation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(contentsJSON("f", "base64", ""))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ReadFile(ctx, "f", "")
	assert.ErrorIs(t, err, context.Canceled)
}
