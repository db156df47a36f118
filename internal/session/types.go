// Package session models one guided exploration run over a repository:
// which file is under review, what the user decided about each file, and
// the append-only history of those decisions. The state machine lives in
// machine.go; this file holds the entity model.
package session

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus is the review status of one tracked path.
type FileStatus string

const (
	StatusPending FileStatus = "pending"
	StatusIgnored FileStatus = "ignored" // terminal for that path
	StatusDone    FileStatus = "done"
)

// EntryKind mirrors the storage layer's file/directory distinction without
// importing it into every serialized session.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// State is the exploration state machine's current state, derived from the
// session's fields so it can never drift from them.
type State string

const (
	StateAwaitingNextFile State = "awaiting_next_file"
	StateAnalyzing        State = "analyzing"
	StateAwaitingFeedback State = "awaiting_feedback"
	StateBlockedNeedInfo  State = "blocked_need_info"
	StateFinished         State = "finished"
)

// Interaction tells the driver what the session needs next.
type Interaction string

const (
	InteractionNone             Interaction = "none"
	InteractionNeedInfo         Interaction = "need_info"
	InteractionAwaitingFeedback Interaction = "awaiting_feedback"
	InteractionFinished         Interaction = "finished"
)

// TrackedFile records the review status of one path within a session.
// Path is the unique key.
type TrackedFile struct {
	Path          string     `json:"path"`
	Status        FileStatus `json:"status"`
	Kind          EntryKind  `json:"kind"`
	Understanding string     `json:"understanding,omitempty"`
}

// CurrentFile is the path under active analysis. It exists only while a
// file is being reviewed and is cleared when feedback resolves it.
type CurrentFile struct {
	Path          string `json:"path"`
	Understanding string `json:"understanding,omitempty"`
}

// NextFile is a candidate path plus the rationale for visiting it,
// proposed by the external reasoning component.
type NextFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// HistoryEntry is the immutable audit record of one feedback decision.
// Entries are only ever appended, never edited or removed.
type HistoryEntry struct {
	Path      string         `json:"path"`
	Action    FeedbackAction `json:"action"`
	Reason    string         `json:"reason,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Session is one exploration run over one repository revision. It
// exclusively owns its tracked files, current file, pending suggestion,
// pending feedback, and history; nothing here is shared across sessions.
// All fields survive a JSON save/reload cycle unchanged.
type Session struct {
	ID        string `json:"id"`
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`
	Ref       string `json:"ref,omitempty"`
	Goal      string `json:"goal"`
	ScopeHint string `json:"scope_hint,omitempty"`

	Files   []TrackedFile  `json:"files"`
	History []HistoryEntry `json:"history"`

	Current         *CurrentFile `json:"current_file,omitempty"`
	Suggested       *NextFile    `json:"next_file,omitempty"`
	PendingFeedback *Feedback    `json:"pending_feedback,omitempty"`

	// PendingQuestion is set while the reasoning component waits on a
	// clarifying answer from the user.
	PendingQuestion string   `json:"pending_question,omitempty"`
	Clarifications  []string `json:"clarifications,omitempty"`

	// PreviousWrongPath is the last proposal rejected by path validation,
	// surfaced to the reasoning component so it avoids repeating it.
	PreviousWrongPath string `json:"previous_wrong_path,omitempty"`

	Completed   bool        `json:"completed"`
	Interaction Interaction `json:"interaction"`

	// LastHeartbeat is the cooperative execution lock: a mutation may
	// proceed only when no heartbeat is set or the one set has gone stale.
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// New creates a fresh session for one repository and goal.
func New(owner, repo, ref, goal, scopeHint string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		RepoOwner:   owner,
		RepoName:    repo,
		Ref:         ref,
		Goal:        goal,
		ScopeHint:   scopeHint,
		Files:       []TrackedFile{},
		History:     []HistoryEntry{},
		Interaction: InteractionNone,
	}
}

// State derives the machine state from the session's fields.
func (s *Session) State() State {
	switch {
	case s.Completed:
		return StateFinished
	case s.PendingQuestion != "":
		return StateBlockedNeedInfo
	case s.Current == nil:
		return StateAwaitingNextFile
	case s.Current.Understanding == "":
		return StateAnalyzing
	default:
		return StateAwaitingFeedback
	}
}

// trackedIndex returns the index of path in Files, or -1.
func (s *Session) trackedIndex(path string) int {
	for i := range s.Files {
		if s.Files[i].Path == path {
			return i
		}
	}
	return -1
}
