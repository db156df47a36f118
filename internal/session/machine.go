package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codereader/internal/errs"
)

// FileValidator is the narrow storage capability the machine needs: confirm
// that a suggested path exists and is a file. The GitHub storage client
// satisfies it.
type FileValidator interface {
	ReadFile(ctx context.Context, path, ref string) (string, error)
}

// DefaultStaleness is how old a heartbeat must be before a new operation may
// force-reclaim the session lock from an abandoned run.
const DefaultStaleness = 30 * time.Second

// Machine drives one Session through the exploration state machine. Every
// mutating operation first acquires the session's heartbeat lock, so two
// concurrent runs over the same session cannot interleave mutations.
type Machine struct {
	mu        sync.Mutex
	session   *Session
	files     FileValidator
	staleness time.Duration
	now       func() time.Time
}

// Option customizes a Machine.
type Option func(*Machine)

// WithStaleness overrides the heartbeat staleness window.
func WithStaleness(d time.Duration) Option {
	return func(m *Machine) { m.staleness = d }
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine wires a session to the storage capability used for path
// validation.
func NewMachine(s *Session, files FileValidator, opts ...Option) *Machine {
	m := &Machine{
		session:   s,
		files:     files,
		staleness: DefaultStaleness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session returns the machine's underlying session. Callers that persist
// it must do so between operations, never during one.
func (m *Machine) Session() *Session {
	return m.session
}

// Acquire claims the session's heartbeat lock. It fails with SessionClosed
// on a finished session and with LockContention while another operation
// holds a heartbeat younger than the staleness window. A stale heartbeat
// belongs to an abandoned run and is reclaimed silently.
func (m *Machine) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireLocked()
}

// Release gives the lock back. Every mutating operation releases on
// completion, success or failure.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

// acquireLocked and releaseLocked assume m.mu is held.
func (m *Machine) acquireLocked() error {
	if m.session.Completed {
		return errs.ErrSessionClosed
	}

	now := m.now()
	if hb := m.session.LastHeartbeat; hb != nil && now.Sub(*hb) < m.staleness {
		return errs.LockContention(m.session.ID)
	}

	m.session.LastHeartbeat = &now
	return nil
}

func (m *Machine) releaseLocked() {
	m.session.LastHeartbeat = nil
}

// done releases the heartbeat and then captures the result snapshot. A
// deferred release would run after the return value is built, so the
// caller would see a heartbeat for an operation that already finished.
func (m *Machine) done() Snapshot {
	m.releaseLocked()
	return m.snapshotLocked()
}

// ProposeNextFile validates a suggested path and, when it resolves to a
// file, makes it the current file and moves the session into analysis.
// NotFound, NotAFile, and a cancelled validation call all reject the
// proposal the same way: the path is recorded as the previous wrong path
// and the session stays in awaiting_next_file. Provider unavailability is
// surfaced untouched so the driver can retry the same proposal later.
func (m *Machine) ProposeNextFile(ctx context.Context, suggestion NextFile) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acquireLocked(); err != nil {
		return m.snapshotLocked(), err
	}

	s := m.session
	if state := s.State(); state != StateAwaitingNextFile {
		return m.done(), errs.InvalidTransition("propose_next_file", string(state))
	}

	if idx := s.trackedIndex(suggestion.Path); idx >= 0 && s.Files[idx].Status == StatusIgnored {
		s.rejectProposal(suggestion.Path)
		return m.done(), fmt.Errorf("%w: path %s was rejected earlier and is ignored", errs.ErrNotFound, suggestion.Path)
	}

	if _, err := m.files.ReadFile(ctx, suggestion.Path, s.Ref); err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound),
			errors.Is(err, errs.ErrNotAFile),
			errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):
			s.rejectProposal(suggestion.Path)
			return m.done(), fmt.Errorf("suggested path %s rejected: %w", suggestion.Path, err)
		default:
			return m.done(), err
		}
	}

	if s.trackedIndex(suggestion.Path) < 0 {
		s.Files = append(s.Files, TrackedFile{
			Path:   suggestion.Path,
			Status: StatusPending,
			Kind:   KindFile,
		})
	}

	s.Current = &CurrentFile{Path: suggestion.Path}
	s.Suggested = nil
	s.PreviousWrongPath = ""
	s.Interaction = InteractionNone
	return m.done(), nil
}

// rejectProposal marks a bad path suggestion. A standing override for the
// same path is dropped so it is not blindly reproposed.
func (s *Session) rejectProposal(path string) {
	s.PreviousWrongPath = path
	if s.Suggested != nil && s.Suggested.Path == path {
		s.Suggested = nil
	}
}

// RecordUnderstanding attaches the analysis result to the current file and
// moves the session to awaiting_feedback.
func (m *Machine) RecordUnderstanding(text string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acquireLocked(); err != nil {
		return m.snapshotLocked(), err
	}

	s := m.session
	if state := s.State(); state != StateAnalyzing {
		return m.done(), errs.InvalidTransition("record_understanding", string(state))
	}
	if text == "" {
		return m.done(), errs.InvalidOptions("understanding must not be empty")
	}

	s.Current.Understanding = text
	s.Interaction = InteractionAwaitingFeedback
	return m.done(), nil
}

// ApplyFeedback consumes one feedback decision. The effect on the tracked
// file and the history is fully determined by the variant and its payload.
func (m *Machine) ApplyFeedback(feedback Feedback) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acquireLocked(); err != nil {
		return m.snapshotLocked(), err
	}

	s := m.session
	if state := s.State(); state != StateAwaitingFeedback {
		return m.done(), errs.InvalidTransition("apply_feedback", string(state))
	}
	if err := feedback.Validate(); err != nil {
		return m.done(), err
	}

	s.PendingFeedback = &feedback
	path := s.Current.Path
	idx := s.trackedIndex(path)
	if idx < 0 {
		// Propose always tracks the path first; a missing entry means the
		// session was corrupted outside the machine.
		return m.done(), fmt.Errorf("current file %s is not tracked", path)
	}

	entry := HistoryEntry{
		Path:      path,
		Action:    feedback.Action,
		Timestamp: m.now().UTC(),
	}

	switch feedback.Action {
	case ActionAccept:
		s.Files[idx].Status = StatusDone
		s.Files[idx].Understanding = s.Current.Understanding
		entry.Reason = feedback.Note
		s.Current = nil
		s.Interaction = InteractionNone

	case ActionReject:
		if s.Files[idx].Status == StatusDone {
			// Rejecting a revisited accepted file reopens it; only
			// pending files can be ignored outright.
			s.Files[idx].Status = StatusPending
		} else {
			s.Files[idx].Status = StatusIgnored
		}
		entry.Reason = feedback.Reason
		s.Current = nil
		s.Interaction = InteractionNone

	case ActionRefine:
		s.Files[idx].Status = StatusPending
		s.Files[idx].Understanding = feedback.Understanding
		entry.Reason = feedback.Reason
		s.Current = nil
		if feedback.NextPath != "" {
			s.Suggested = &NextFile{Path: feedback.NextPath, Reason: "user override after refine"}
		}
		s.Interaction = InteractionNone

	case ActionFinish:
		s.Completed = true
		s.Current = nil
		s.Interaction = InteractionFinished
	}

	s.History = append(s.History, entry)
	s.PendingFeedback = nil
	return m.done(), nil
}

// AskUser parks the session while the reasoning component waits for a
// clarifying answer instead of proposing a file.
func (m *Machine) AskUser(question string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acquireLocked(); err != nil {
		return m.snapshotLocked(), err
	}

	s := m.session
	if state := s.State(); state != StateAwaitingNextFile {
		return m.done(), errs.InvalidTransition("ask_user", string(state))
	}
	if question == "" {
		return m.done(), errs.InvalidOptions("question must not be empty")
	}

	s.PendingQuestion = question
	s.Interaction = InteractionNeedInfo
	return m.done(), nil
}

// AnswerQuestion supplies the user's answer and unblocks the session.
func (m *Machine) AnswerQuestion(answer string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.acquireLocked(); err != nil {
		return m.snapshotLocked(), err
	}

	s := m.session
	if state := s.State(); state != StateBlockedNeedInfo {
		return m.done(), errs.InvalidTransition("answer_question", string(state))
	}

	s.Clarifications = append(s.Clarifications, s.PendingQuestion+": "+answer)
	s.PendingQuestion = ""
	s.Interaction = InteractionNone
	return m.done(), nil
}
