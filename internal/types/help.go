package types

import (
	"fmt"
	"time"
)

// HelpCategory classifies why an agent escalated to a human.
type HelpCategory string

const (
	HelpClarification     HelpCategory = "Clarification"
	HelpDecision          HelpCategory = "Decision"
	HelpTechnicalBlocker  HelpCategory = "TechnicalBlocker"
	HelpUnexpected        HelpCategory = "Unexpected"
)

func (c HelpCategory) IsValid() bool {
	switch c {
	case HelpClarification, HelpDecision, HelpTechnicalBlocker, HelpUnexpected:
		return true
	}
	return false
}

// HelpStatus is the help-request mini-workflow's state.
type HelpStatus string

const (
	HelpPending   HelpStatus = "Pending"
	HelpResponded HelpStatus = "Responded"
	HelpResolved  HelpStatus = "Resolved"
	HelpCancelled HelpStatus = "Cancelled"
)

func (s HelpStatus) IsValid() bool {
	switch s {
	case HelpPending, HelpResponded, HelpResolved, HelpCancelled:
		return true
	}
	return false
}

// HelpRequest is an agent-initiated escalation to a human (spec.md §3,
// §4.6). FromStatus records the task status to restore on resume.
type HelpRequest struct {
	ID               string
	TaskID           string
	FromStatus       TaskStatus
	Category         HelpCategory
	Reason           string
	SuggestedOptions []string
	Status           HelpStatus
	Response         string
	ChosenOption     *int
	CreatedAt        time.Time
	RespondedAt      *time.Time
	ResumedAt        *time.Time
}

func (h *HelpRequest) Validate() error {
	if h.ID == "" || h.TaskID == "" {
		return fmt.Errorf("help request: id and task_id required")
	}
	if !h.Category.IsValid() {
		return fmt.Errorf("help request %s: invalid category %q", h.ID, h.Category)
	}
	if !h.Status.IsValid() {
		return fmt.Errorf("help request %s: invalid status %q", h.ID, h.Status)
	}
	switch h.FromStatus {
	case StatusPending, StatusInProgress, StatusInReview:
	default:
		return fmt.Errorf("help request %s: invalid from_status %q", h.ID, h.FromStatus)
	}
	if h.ChosenOption != nil {
		if *h.ChosenOption < 0 || *h.ChosenOption >= len(h.SuggestedOptions) {
			return fmt.Errorf("help request %s: chosen_option %d out of range [0,%d)", h.ID, *h.ChosenOption, len(h.SuggestedOptions))
		}
	}
	return nil
}

// Learning is a durable note attached to a task, optionally a copy
// bubbled from an ancestor task (see SPEC_FULL.md "Learning bubble-up").
type Learning struct {
	ID           string
	TaskID       string
	Content      string
	SourceTaskID string // empty unless this is a bubbled copy
	CreatedAt    time.Time
}

func (l *Learning) Validate() error {
	if l.ID == "" || l.TaskID == "" {
		return fmt.Errorf("learning: id and task_id required")
	}
	if l.Content == "" {
		return fmt.Errorf("learning %s: content required", l.ID)
	}
	return nil
}
