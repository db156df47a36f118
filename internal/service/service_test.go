package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		url   string
		owner string
		repo  string
	}{
		{"https://github.com/langchain-ai/langgraph/", "langchain-ai", "langgraph"},
		{"https://github.com/acme/widgets", "acme", "widgets"},
		{"https://www.github.com/acme/widgets", "acme", "widgets"},
		{"https://github.com/acme/widgets.git", "acme", "widgets"},
		{"https://github.com/acme/widgets/tree/main/src", "acme", "widgets"},
	}

	for _, tc := range cases {
		owner, repo, err := ParseRepoURL(tc.url)
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.owner, owner, tc.url)
		assert.Equal(t, tc.repo, repo, tc.url)
	}
}

func TestParseRepoURL_Invalid(t *testing.T) {
	invalid := []string{
		"https://gitlab.com/acme/widgets",
		"https://github.com/acme",
		"https://github.com/",
		"https://example.com/acme/widgets",
		"://broken",
	}

	for _, url := range invalid {
		_, _, err := ParseRepoURL(url)
		assert.Error(t, err, url)
	}
}
