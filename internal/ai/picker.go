// Package ai defines the boundary to the external reasoning component: the
// thing that looks at a session snapshot and decides which file to read
// next. The core never depends on how the decision is produced; it only
// validates, stores, and sequences the result.
package ai

import (
	"context"

	"github.com/codereader/internal/session"
)

// DecisionKind discriminates the reasoning component's two possible answers.
type DecisionKind string

const (
	// DecisionNextFile carries a concrete file suggestion.
	DecisionNextFile DecisionKind = "next_file"

	// DecisionNeedInfo means the component cannot propose a file and asks
	// the user a clarifying question instead.
	DecisionNeedInfo DecisionKind = "need_more_info"
)

// Decision is the reasoning component's answer for one step.
type Decision struct {
	Kind     DecisionKind     `json:"decision"`
	NextFile session.NextFile `json:"next_file,omitempty"`
	Question string           `json:"question,omitempty"`
}

// Picker chooses the next file to analyze, or asks for more information.
// It sees only the read-only snapshot; it never touches tracked files or
// history directly.
type Picker interface {
	PickNextFile(ctx context.Context, snap session.Snapshot) (Decision, error)

	// Analyze produces an understanding of one file's content in the
	// context of the session goal.
	Analyze(ctx context.Context, snap session.Snapshot, path, content string) (string, error)
}
