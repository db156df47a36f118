// Package service assembles a storage client and a session for one
// repository. Repository identity comes from the hosting URL; getting that
// wrong is a configuration error, not a storage error.
package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codereader/internal/config"
	"github.com/codereader/internal/session"
	"github.com/codereader/internal/storage"
	"github.com/codereader/internal/storage/github"
)

// ParseRepoURL extracts owner and repository from a github.com URL. Fewer
// than two path segments, or any other host, is rejected.
func ParseRepoURL(rawURL string) (owner, repo string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid repository URL %q: %w", rawURL, err)
	}

	host := strings.TrimPrefix(parsed.Host, "www.")
	if host != "github.com" {
		return "", "", fmt.Errorf("unsupported repository host %q, only github.com is supported", parsed.Host)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository URL %q must contain owner and repository", rawURL)
	}

	repo = strings.TrimSuffix(parts[1], ".git")
	return parts[0], repo, nil
}

// Reader binds one storage client to one repository revision.
type Reader struct {
	Client storage.Client
	Owner  string
	Repo   string
	Ref    string
}

// NewReader builds a Reader for the repository at repoURL.
func NewReader(cfg *config.Config, repoURL, ref string) (*Reader, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	if ref == "" {
		ref = "main"
	}

	if cfg.GitHub.Token == "" {
		log.Debug().Str("repo", owner+"/"+repo).Msg("no github token configured, using unauthenticated access")
	}

	client := github.NewClient(github.Config{
		Owner:      owner,
		Repo:       repo,
		Token:      cfg.GitHub.Token,
		DefaultRef: ref,
		APIBaseURL: cfg.GitHub.APIURL,
		UserAgent:  cfg.GitHub.UserAgent,
		Timeout:    time.Duration(cfg.GitHub.Timeout) * time.Second,
		MaxRetries: cfg.GitHub.MaxRetries,
	})

	return &Reader{Client: client, Owner: owner, Repo: repo, Ref: ref}, nil
}

// Close releases the underlying storage client.
func (r *Reader) Close() {
	r.Client.Close()
}

// OpenSession starts a fresh exploration session over this repository and
// wires it to the storage client for path validation.
func (r *Reader) OpenSession(cfg *config.Config, goal, scopeHint string) *session.Machine {
	sess := session.New(r.Owner, r.Repo, r.Ref, goal, scopeHint)

	staleness := session.DefaultStaleness
	if cfg.Session.StalenessSeconds > 0 {
		staleness = time.Duration(cfg.Session.StalenessSeconds) * time.Second
	}

	return session.NewMachine(sess, r.Client, session.WithStaleness(staleness))
}

// ResumeSession wires an existing session (restored from a store) back to
// this repository's storage client.
func (r *Reader) ResumeSession(cfg *config.Config, sess *session.Session) *session.Machine {
	staleness := session.DefaultStaleness
	if cfg.Session.StalenessSeconds > 0 {
		staleness = time.Duration(cfg.Session.StalenessSeconds) * time.Second
	}
	return session.NewMachine(sess, r.Client, session.WithStaleness(staleness))
}
