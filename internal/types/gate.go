package types

import (
	"fmt"
	"time"
)

// GateScopeType names whether a Gate applies to an entire repo or a
// single task.
type GateScopeType string

const (
	ScopeRepo GateScopeType = "Repo"
	ScopeTask GateScopeType = "Task"
)

func (s GateScopeType) IsValid() bool { return s == ScopeRepo || s == ScopeTask }

// Gate is a quality check: a spawned command evaluated once per review
// it applies to (spec.md §3, §4.5).
type Gate struct {
	ID               string
	ScopeType        GateScopeType
	ScopeID          string // repo_id or task_id depending on ScopeType
	Name             string
	Command          string
	TimeoutSecs      int
	MaxRetries       int
	PollIntervalSecs int
	MaxPendingSecs   int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (g *Gate) Validate() error {
	if g.ID == "" || g.Name == "" || g.Command == "" {
		return fmt.Errorf("gate: id, name, and command required")
	}
	if !g.ScopeType.IsValid() {
		return fmt.Errorf("gate %s: invalid scope type %q", g.ID, g.ScopeType)
	}
	if g.TimeoutSecs <= 0 {
		return fmt.Errorf("gate %s: timeout_secs must be > 0", g.ID)
	}
	if g.MaxRetries < 1 {
		return fmt.Errorf("gate %s: max_retries must be >= 1", g.ID)
	}
	if g.PollIntervalSecs <= 0 {
		return fmt.Errorf("gate %s: poll_interval_secs must be > 0", g.ID)
	}
	if g.MaxPendingSecs <= 0 {
		return fmt.Errorf("gate %s: max_pending_secs must be > 0", g.ID)
	}
	return nil
}

// GateResultStatus is the terminal or in-flight state of one gate
// execution attempt.
type GateResultStatus string

const (
	GateRunning   GateResultStatus = "Running"
	GatePending   GateResultStatus = "Pending"
	GatePassed    GateResultStatus = "Passed"
	GateFailed    GateResultStatus = "Failed"
	GateTimeout   GateResultStatus = "Timeout"
	GateEscalated GateResultStatus = "Escalated"
)

func (s GateResultStatus) IsValid() bool {
	switch s {
	case GateRunning, GatePending, GatePassed, GateFailed, GateTimeout, GateEscalated:
		return true
	}
	return false
}

func (s GateResultStatus) Terminal() bool {
	return s == GatePassed || s == GateFailed || s == GateTimeout || s == GateEscalated
}

// MaxTailBytes bounds captured stdout/stderr per spec.md §4.5 ("rolling
// 64 KiB tail per stream; excess is silently discarded").
const MaxTailBytes = 64 * 1024

// GateResult records one execution attempt of a Gate against a Review,
// keyed by (GateID, ReviewID, Attempt).
type GateResult struct {
	GateID      string
	ReviewID    string
	TaskID      string
	Attempt     int
	Status      GateResultStatus
	Stdout      string
	Stderr      string
	ExitCode    *int
	StartedAt   time.Time
	CompletedAt *time.Time
}

func (r *GateResult) Validate() error {
	if r.GateID == "" || r.ReviewID == "" {
		return fmt.Errorf("gate result: gate_id and review_id required")
	}
	if r.Attempt < 1 {
		return fmt.Errorf("gate result %s/%s: attempt must be >= 1", r.GateID, r.ReviewID)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("gate result %s/%s: invalid status %q", r.GateID, r.ReviewID, r.Status)
	}
	if len(r.Stdout) > MaxTailBytes || len(r.Stderr) > MaxTailBytes {
		return fmt.Errorf("gate result %s/%s: captured output exceeds tail limit", r.GateID, r.ReviewID)
	}
	return nil
}

// TailBytes truncates s to its last MaxTailBytes bytes, matching the
// "rolling tail" capture semantics.
func TailBytes(s string) string {
	if len(s) <= MaxTailBytes {
		return s
	}
	return s[len(s)-MaxTailBytes:]
}
