package session

import "time"

// Snapshot is a read-only copy of a session handed to the reasoning
// component and the driver. It shares no memory with the live session, so
// holding one across operations is safe.
type Snapshot struct {
	ID        string `json:"id"`
	RepoOwner string `json:"repo_owner"`
	RepoName  string `json:"repo_name"`
	Ref       string `json:"ref,omitempty"`
	Goal      string `json:"goal"`
	ScopeHint string `json:"scope_hint,omitempty"`

	State       State       `json:"state"`
	Interaction Interaction `json:"interaction"`
	Completed   bool        `json:"completed"`

	Files   []TrackedFile  `json:"files"`
	History []HistoryEntry `json:"history"`

	Current           *CurrentFile `json:"current_file,omitempty"`
	Suggested         *NextFile    `json:"next_file,omitempty"`
	PendingQuestion   string       `json:"pending_question,omitempty"`
	Clarifications    []string     `json:"clarifications,omitempty"`
	PreviousWrongPath string       `json:"previous_wrong_path,omitempty"`

	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}

// Snapshot copies the current session state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// snapshotLocked assumes m.mu is held.
func (m *Machine) snapshotLocked() Snapshot {
	s := m.session
	snap := Snapshot{
		ID:                s.ID,
		RepoOwner:         s.RepoOwner,
		RepoName:          s.RepoName,
		Ref:               s.Ref,
		Goal:              s.Goal,
		ScopeHint:         s.ScopeHint,
		State:             s.State(),
		Interaction:       s.Interaction,
		Completed:         s.Completed,
		Files:             append([]TrackedFile(nil), s.Files...),
		History:           append([]HistoryEntry(nil), s.History...),
		PendingQuestion:   s.PendingQuestion,
		Clarifications:    append([]string(nil), s.Clarifications...),
		PreviousWrongPath: s.PreviousWrongPath,
	}

	if s.Current != nil {
		current := *s.Current
		snap.Current = &current
	}
	if s.Suggested != nil {
		suggested := *s.Suggested
		snap.Suggested = &suggested
	}
	if s.LastHeartbeat != nil {
		hb := *s.LastHeartbeat
		snap.LastHeartbeat = &hb
	}

	return snap
}

// PendingFiles lists tracked paths still awaiting review, for prompt
// construction.
func (snap Snapshot) PendingFiles() []TrackedFile {
	var pending []TrackedFile
	for _, f := range snap.Files {
		if f.Status == StatusPending {
			pending = append(pending, f)
		}
	}
	return pending
}

// DoneFiles lists tracked paths whose understanding was accepted.
func (snap Snapshot) DoneFiles() []TrackedFile {
	var done []TrackedFile
	for _, f := range snap.Files {
		if f.Status == StatusDone {
			done = append(done, f)
		}
	}
	return done
}
