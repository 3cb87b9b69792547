package types

import (
	"fmt"
	"time"
)

// SessionStatus is the broker session's state machine (spec.md §3,
// §6 "Broker session protocol" — only the state machine is core scope,
// framing belongs to the external broker collaborator).
type SessionStatus string

const (
	SessionPending   SessionStatus = "Pending"
	SessionActive    SessionStatus = "Active"
	SessionCompleted SessionStatus = "Completed"
	SessionFailed    SessionStatus = "Failed"
	SessionCancelled SessionStatus = "Cancelled"
)

func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionPending, SessionActive, SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionCancelled
}

// Session couples a Harness to a Task for the duration of one piece of
// agent-driven work. At most one non-terminal Session may exist per
// task (spec.md §5).
type Session struct {
	ID              string
	TaskID          string
	HarnessID       string
	Status          SessionStatus
	StartedAt       time.Time
	LastHeartbeatAt *time.Time
	CompletedAt     *time.Time
	Error           string
}

func (s *Session) Validate() error {
	if s.ID == "" || s.TaskID == "" || s.HarnessID == "" {
		return fmt.Errorf("session: id, task_id, and harness_id required")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("session %s: invalid status %q", s.ID, s.Status)
	}
	return nil
}

// Harness is a connected agent execution environment capable of
// running task sessions.
type Harness struct {
	ID           string
	Capabilities []string
	Connected    bool
	LastSeenAt   time.Time
}

func (h *Harness) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("harness: id required")
	}
	return nil
}

// Repo is a version-controlled repository Overseer manages tasks
// against (see SPEC_FULL.md "Repository registration").
type Repo struct {
	ID           string
	Path         string
	VcsType      VcsKind
	MainHead     string
	CreatedAt    time.Time
	Unregistered bool
}

func (r *Repo) Validate() error {
	if r.ID == "" || r.Path == "" {
		return fmt.Errorf("repo: id and path required")
	}
	return nil
}

// IdempotencyEntry caches a prior write response keyed by (Key,
// ScopeHash) with a TTL (spec.md §3, §4.8).
type IdempotencyEntry struct {
	Key            string
	Method         string
	Path           string
	ScopeHash      string
	RequestHash    string
	ResponseStatus int
	ResponseBody   []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

func (e *IdempotencyEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
