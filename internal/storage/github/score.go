package github

import (
	"sort"
	"strings"

	"github.com/codereader/internal/storage"
)

// commonSourceExtensions get a small flat bonus: these are the files a
// reader most often wants first.
var commonSourceExtensions = []string{".py", ".ts", ".js", ".md", ".json", ".tsx", ".jsx"}

// calculateScore ranks a tree entry against a query. Pure function of
// path, filename, and query: exact filename match beats prefix beats
// name substring beats path-only substring, shallow paths beat deep ones.
func calculateScore(path, filename, query string) float64 {
	queryLower := strings.ToLower(query)
	nameLower := strings.ToLower(filename)
	pathLower := strings.ToLower(path)

	var score float64
	switch {
	case nameLower == queryLower:
		score += 100
	case strings.HasPrefix(nameLower, queryLower):
		score += 80
	case strings.Contains(nameLower, queryLower):
		score += 60
	case strings.Contains(pathLower, queryLower):
		score += 40
	}

	depth := strings.Count(path, "/")
	if bonus := 20 - depth; bonus > 0 {
		score += float64(bonus)
	}

	for _, ext := range commonSourceExtensions {
		if strings.HasSuffix(filename, ext) {
			score += 5
			break
		}
	}

	return score
}

// sortByScore orders results by descending score. The sort is stable so
// ties keep their original tree order.
func sortByScore(results []storage.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
