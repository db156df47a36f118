// Package storage abstracts a code hosting provider's file read, search,
// and directory listing API behind a single client interface. Additional
// providers are added as new adapters of Client, never by branching inside
// an existing one.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/codereader/internal/errs"
)

// EntryKind distinguishes files from directories in listings and results.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// SearchOptions configures SearchFiles.
type SearchOptions struct {
	// Extension filters results to paths ending with it. Must carry the
	// leading dot, e.g. ".go".
	Extension string `json:"extension,omitempty"`

	// MaxResults caps how many results are returned. Minimum 1.
	MaxResults int `json:"max_results"`

	// IncludeContent fetches each result's file content. A failed fetch
	// leaves that single result's Content empty instead of failing the
	// whole search.
	IncludeContent bool `json:"include_content"`

	// SearchInContent selects the provider's full-text code search instead
	// of local path/name filtering over the repository tree.
	SearchInContent bool `json:"search_in_content"`
}

// DefaultSearchOptions returns options that search names only, capped at 100.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{MaxResults: 100}
}

// Validate rejects malformed options before any network call is made.
func (o SearchOptions) Validate() error {
	if o.Extension != "" && !strings.HasPrefix(o.Extension, ".") {
		return errs.InvalidOptions(fmt.Sprintf("extension %q must start with '.'", o.Extension))
	}
	if o.MaxResults < 1 {
		return errs.InvalidOptions(fmt.Sprintf("max_results must be >= 1, got %d", o.MaxResults))
	}
	return nil
}

// SearchResult describes one entry returned by search or directory listing.
// It is transient: the session layer copies out only what it tracks.
type SearchResult struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Kind    EntryKind `json:"kind"`
	Size    int64     `json:"size,omitempty"`
	SHA     string    `json:"sha,omitempty"`
	URL     string    `json:"url,omitempty"`
	Content string    `json:"content,omitempty"`
	Score   float64   `json:"score,omitempty"`
}

// Client is the capability set the rest of the system needs from a code
// hosting provider: read a file, search files, list a directory. All
// operations are network calls; none mutate provider state. Implementations
// must be safe for concurrent use and must release their underlying
// connection on Close.
type Client interface {
	// ReadFile returns the decoded text content of the file at path. An
	// empty ref selects the client's default revision.
	ReadFile(ctx context.Context, path, ref string) (string, error)

	// SearchFiles finds files matching query per opts, ordered most
	// relevant first.
	SearchFiles(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)

	// GetDirectoryStructure lists the immediate children of a directory.
	// If path resolves to a file it returns a single-element slice
	// describing that file.
	GetDirectoryStructure(ctx context.Context, path, ref string) ([]SearchResult, error)

	// Close releases the underlying connection. Safe to call once.
	Close()
}
