// Package github implements the storage.Client interface against the GitHub
// REST API: contents endpoint for reads and listings, the recursive git tree
// for local filename search, and /search/code for full-text search.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/codereader/internal/errs"
	"github.com/codereader/internal/retry"
	"github.com/codereader/internal/storage"
)

const defaultAPIBaseURL = "https://api.github.com"

// Config configures a GitHub storage client. Token may be empty for
// read-only access to public repositories.
type Config struct {
	Owner      string
	Repo       string
	Token      string
	DefaultRef string        // revision used when a call passes ref=""
	APIBaseURL string        // override for GitHub Enterprise (/api/v3)
	UserAgent  string
	Timeout    time.Duration // per-request timeout (default: 30s)
	MaxRetries int           // retries on transient provider failures
}

// Client talks to one GitHub repository. It holds a single underlying
// HTTP client for its lifetime and is safe for concurrent use.
type Client struct {
	owner      string
	repo       string
	token      string
	defaultRef string
	apiBase    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
}

// NewClient creates a client for the given repository.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ref := cfg.DefaultRef
	if ref == "" {
		ref = "main"
	}

	// GitHub Enterprise callers pass their /api/v3 base here.
	apiBase := defaultAPIBaseURL
	if cfg.APIBaseURL != "" {
		apiBase = strings.TrimSuffix(cfg.APIBaseURL, "/")
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "CodeReader/1.0"
	}

	return &Client{
		owner:      cfg.Owner,
		repo:       cfg.Repo,
		token:      cfg.Token,
		defaultRef: ref,
		apiBase:    apiBase,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		// GitHub's secondary rate limits bite well below 10 req/s sustained.
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
		retryCfg: retry.ProviderConfig(cfg.MaxRetries),
	}
}

// Close releases the underlying connection pool. The client must not be
// used afterwards.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// fileContent is the contents API response for a single file entry.
type fileContent struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
	SHA      string `json:"sha"`
	Size     int64  `json:"size"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	URL      string `json:"url"`
}

// treeEntry is one entry of the recursive git tree listing.
type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

type treeResponse struct {
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// codeSearchResponse is the /search/code response shape.
type codeSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Name  string  `json:"name"`
		Path  string  `json:"path"`
		SHA   string  `json:"sha"`
		URL   string  `json:"url"`
		Score float64 `json:"score"`
	} `json:"items"`
}

// ReadFile fetches the decoded text content of the file at path.
func (c *Client) ReadFile(ctx context.Context, path, ref string) (string, error) {
	if ref == "" {
		ref = c.defaultRef
	}

	params := url.Values{}
	params.Set("ref", ref)

	body, status, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, c.repo, path), params)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", errs.NotFound(path, ref)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("github contents request for %s failed with status %d", path, status)
	}

	// The contents API returns a JSON array when the path is a directory.
	if isJSONArray(body) {
		return "", errs.NotAFile(path, "directory")
	}

	var file fileContent
	if err := json.Unmarshal(body, &file); err != nil {
		return "", fmt.Errorf("failed to decode contents response for %s: %w", path, err)
	}

	if file.Type != "file" {
		return "", errs.NotAFile(path, file.Type)
	}
	if file.Encoding != "base64" {
		return "", errs.UnsupportedEncoding(path, file.Encoding)
	}

	// GitHub wraps base64 payloads with newlines.
	raw, err := base64.StdEncoding.DecodeString(stripWhitespace(file.Content))
	if err != nil {
		return "", fmt.Errorf("failed to base64-decode %s: %w", path, err)
	}

	return string(raw), nil
}

// SearchFiles finds files matching query per opts, ordered most relevant
// first.
func (c *Client) SearchFiles(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if opts.SearchInContent {
		return c.searchInContent(ctx, query, opts)
	}
	return c.searchInTree(ctx, query, opts)
}

// searchInContent delegates to GitHub's code search; results keep the
// provider's own ranking order.
func (c *Client) searchInContent(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	qualifiers := []string{query, fmt.Sprintf("repo:%s/%s", c.owner, c.repo)}
	if opts.Extension != "" {
		qualifiers = append(qualifiers, "extension:"+strings.TrimPrefix(opts.Extension, "."))
	}

	params := url.Values{}
	params.Set("q", strings.Join(qualifiers, " "))
	params.Set("per_page", strconv.Itoa(opts.MaxResults))

	body, status, err := c.get(ctx, "/search/code", params)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("github code search failed with status %d", status)
	}

	var resp codeSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode code search response: %w", err)
	}

	results := make([]storage.SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		if len(results) >= opts.MaxResults {
			break
		}
		result := storage.SearchResult{
			Path:  item.Path,
			Name:  item.Name,
			Kind:  storage.KindFile,
			SHA:   item.SHA,
			URL:   item.URL,
			Score: item.Score,
		}
		if opts.IncludeContent {
			result.Content = c.fetchContentBestEffort(ctx, item.Path)
		}
		results = append(results, result)
	}

	return results, nil
}

// searchInTree fetches the recursive tree once and filters blob paths
// locally. Scanning stops after MaxResults matches in tree order; only
// those are scored and sorted. A later revision may prefer scoring the
// whole tree before truncating.
func (c *Client) searchInTree(ctx context.Context, query string, opts storage.SearchOptions) ([]storage.SearchResult, error) {
	params := url.Values{}
	params.Set("recursive", "1")

	body, status, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/git/trees/%s", c.owner, c.repo, c.defaultRef), params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, errs.NotFound(c.defaultRef, "")
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("github tree request failed with status %d", status)
	}

	var resp treeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode tree response: %w", err)
	}
	if resp.Truncated {
		log.Warn().Str("repo", c.owner+"/"+c.repo).Msg("tree listing truncated by provider, search results may be incomplete")
	}

	queryLower := strings.ToLower(query)
	results := make([]storage.SearchResult, 0, opts.MaxResults)

	for _, entry := range resp.Tree {
		if entry.Type != "blob" {
			continue
		}
		if opts.Extension != "" && !strings.HasSuffix(entry.Path, opts.Extension) {
			continue
		}

		name := entry.Path
		if idx := strings.LastIndex(entry.Path, "/"); idx >= 0 {
			name = entry.Path[idx+1:]
		}

		if !strings.Contains(strings.ToLower(entry.Path), queryLower) &&
			!strings.Contains(strings.ToLower(name), queryLower) {
			continue
		}

		result := storage.SearchResult{
			Path:  entry.Path,
			Name:  name,
			Kind:  storage.KindFile,
			Size:  entry.Size,
			SHA:   entry.SHA,
			URL:   entry.URL,
			Score: calculateScore(entry.Path, name, query),
		}
		if opts.IncludeContent {
			result.Content = c.fetchContentBestEffort(ctx, entry.Path)
		}

		results = append(results, result)
		if len(results) >= opts.MaxResults {
			break
		}
	}

	sortByScore(results)
	return results, nil
}

// GetDirectoryStructure lists the immediate children of a directory, or a
// one-element slice when path resolves to a single file.
func (c *Client) GetDirectoryStructure(ctx context.Context, path, ref string) ([]storage.SearchResult, error) {
	if ref == "" {
		ref = c.defaultRef
	}

	params := url.Values{}
	params.Set("ref", ref)

	body, status, err := c.get(ctx, fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, c.repo, path), params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, errs.NotFound(path, ref)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("github contents request for %s failed with status %d", path, status)
	}

	// Directory listings come back as an array, single files as an object.
	if isJSONArray(body) {
		var entries []struct {
			Name string `json:"name"`
			Path string `json:"path"`
			Type string `json:"type"` // "file" or "dir"
			Size int64  `json:"size"`
			SHA  string `json:"sha"`
			URL  string `json:"url"`
		}
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode directory listing for %s: %w", path, err)
		}

		results := make([]storage.SearchResult, 0, len(entries))
		for _, entry := range entries {
			results = append(results, storage.SearchResult{
				Path: entry.Path,
				Name: entry.Name,
				Kind: entryKind(entry.Type),
				Size: entry.Size,
				SHA:  entry.SHA,
				URL:  entry.URL,
			})
		}
		return results, nil
	}

	var file fileContent
	if err := json.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("failed to decode contents response for %s: %w", path, err)
	}

	return []storage.SearchResult{{
		Path: file.Path,
		Name: file.Name,
		Kind: entryKind(file.Type),
		Size: file.Size,
		SHA:  file.SHA,
		URL:  file.URL,
	}}, nil
}

// fetchContentBestEffort reads a file for include_content enrichment. A
// failure degrades that single result instead of failing the search.
func (c *Client) fetchContentBestEffort(ctx context.Context, path string) string {
	content, err := c.ReadFile(ctx, path, "")
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("failed to fetch content for search result")
		return ""
	}
	return content
}

// get performs a GET against the GitHub API with auth headers, pacing, and
// bounded retries on transient failures. It returns the response body and
// status for terminal responses; transport-level failures surface as
// ProviderUnavailable, cancellation as the context error.
func (c *Client) get(ctx context.Context, apiPath string, params url.Values) ([]byte, int, error) {
	requestURL := c.apiBase + apiPath
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	var body []byte
	var status int

	attempt := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.token != "" {
			req.Header.Set("Authorization", "token "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		// The primary rate limit answers 403 with a zeroed remaining
		// quota, not 429.
		if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return fmt.Errorf("github API rate limit exhausted (status 403): %s", strings.TrimSpace(string(data)))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("github API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}

		body = data
		status = resp.StatusCode
		return nil
	}

	err := retry.Do(ctx, c.retryCfg, "github GET "+apiPath, retry.IsTransient, attempt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, errs.ProviderUnavailable("GET "+apiPath, err)
	}

	return body, status, nil
}

func entryKind(apiType string) storage.EntryKind {
	if apiType == "file" {
		return storage.KindFile
	}
	return storage.KindDirectory
}

func isJSONArray(body []byte) bool {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	return strings.HasPrefix(trimmed, "[")
}

func stripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}
