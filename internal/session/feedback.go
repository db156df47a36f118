package session

import (
	"errors"
	"fmt"
)

// FeedbackAction discriminates the four feedback variants.
type FeedbackAction string

const (
	ActionAccept FeedbackAction = "accept"
	ActionReject FeedbackAction = "reject"
	ActionRefine FeedbackAction = "refine"
	ActionFinish FeedbackAction = "finish"
)

// Feedback is the user's decision on the currently analyzed file. It is a
// tagged variant: exactly one action is active, and each variant's payload
// is validated at construction. Build values with the New* constructors;
// a zero Feedback is invalid.
type Feedback struct {
	Action FeedbackAction `json:"action"`

	// Note is the optional comment on an accept.
	Note string `json:"note,omitempty"`

	// Reason is required on reject, optional on refine.
	Reason string `json:"reason,omitempty"`

	// Understanding is the corrected analysis text, required on refine.
	Understanding string `json:"understanding,omitempty"`

	// NextPath optionally overrides the next file to visit after a refine.
	NextPath string `json:"next_path,omitempty"`
}

// NewAccept approves the current understanding, with an optional note.
func NewAccept(note string) Feedback {
	return Feedback{Action: ActionAccept, Note: note}
}

// NewReject discards the current file as irrelevant. The reason is
// mandatory: it feeds the audit history and the next prompt.
func NewReject(reason string) (Feedback, error) {
	if reason == "" {
		return Feedback{}, errors.New("reject feedback requires a reason")
	}
	return Feedback{Action: ActionReject, Reason: reason}, nil
}

// NewRefine replaces the current understanding with the user's own. The
// new understanding is mandatory; reason and next-file override are not.
func NewRefine(understanding, reason, nextPath string) (Feedback, error) {
	if understanding == "" {
		return Feedback{}, errors.New("refine feedback requires the corrected understanding")
	}
	return Feedback{
		Action:        ActionRefine,
		Understanding: understanding,
		Reason:        reason,
		NextPath:      nextPath,
	}, nil
}

// NewFinish ends the exploration. It carries no payload.
func NewFinish() Feedback {
	return Feedback{Action: ActionFinish}
}

// Validate reports whether the feedback was built with a valid
// action/payload combination. Deserialized values should be re-checked
// here before use.
func (f Feedback) Validate() error {
	switch f.Action {
	case ActionAccept, ActionFinish:
		return nil
	case ActionReject:
		if f.Reason == "" {
			return errors.New("reject feedback requires a reason")
		}
		return nil
	case ActionRefine:
		if f.Understanding == "" {
			return errors.New("refine feedback requires the corrected understanding")
		}
		return nil
	default:
		return fmt.Errorf("unknown feedback action %q", f.Action)
	}
}
