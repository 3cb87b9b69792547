package types

import (
	"fmt"
	"time"
)

// ReviewStatus is the three-phase review state machine (spec.md §4.4).
type ReviewStatus string

const (
	ReviewGatesPending    ReviewStatus = "GatesPending"
	ReviewGatesEscalated  ReviewStatus = "GatesEscalated"
	ReviewAgentPending    ReviewStatus = "AgentPending"
	ReviewHumanPending    ReviewStatus = "HumanPending"
	ReviewApproved        ReviewStatus = "Approved"
	ReviewChangesRequired ReviewStatus = "ChangesRequested"
)

func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewGatesPending, ReviewGatesEscalated, ReviewAgentPending, ReviewHumanPending, ReviewApproved, ReviewChangesRequired:
		return true
	}
	return false
}

// Terminal reports whether the review can no longer be acted on;
// ChangesRequested freezes its Review the same way Approved does
// (spec.md §4.4: "freezes the current Review; a subsequent submit
// creates a new Review").
func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewChangesRequired
}

// Review is one pass through the three-phase pipeline for a task.
// Exactly one Review per task is active at a time (its task's status
// is InReview).
type Review struct {
	ID               string
	TaskID           string
	Status           ReviewStatus
	SubmittedAt      time.Time
	GatesCompletedAt *time.Time
	AgentCompletedAt *time.Time
	HumanCompletedAt *time.Time
}

func (r *Review) Validate() error {
	if r.ID == "" || r.TaskID == "" {
		return fmt.Errorf("review: id and task_id required")
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("review %s: invalid status %q", r.ID, r.Status)
	}
	return nil
}

// CommentAuthor names who wrote a ReviewComment.
type CommentAuthor string

const (
	AuthorAgent CommentAuthor = "Agent"
	AuthorHuman CommentAuthor = "Human"
)

func (a CommentAuthor) IsValid() bool { return a == AuthorAgent || a == AuthorHuman }

// DiffSide names which side of a unified diff a comment anchors to.
type DiffSide string

const (
	SideLeft  DiffSide = "Left"
	SideRight DiffSide = "Right"
)

func (s DiffSide) IsValid() bool { return s == SideLeft || s == SideRight }

// ReviewComment is append-only; only ResolvedAt may mutate after
// creation (spec.md §4.4).
type ReviewComment struct {
	ID         string
	ReviewID   string
	TaskID     string
	Author     CommentAuthor
	FilePath   string
	LineStart  *int
	LineEnd    *int
	Side       DiffSide
	Body       string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func (c *ReviewComment) Validate() error {
	if c.ID == "" || c.ReviewID == "" || c.TaskID == "" {
		return fmt.Errorf("comment: id, review_id, task_id required")
	}
	if !c.Author.IsValid() {
		return fmt.Errorf("comment %s: invalid author %q", c.ID, c.Author)
	}
	if !c.Side.IsValid() {
		return fmt.Errorf("comment %s: invalid side %q", c.ID, c.Side)
	}
	if c.FilePath == "" {
		return fmt.Errorf("comment %s: file_path required", c.ID)
	}
	if c.LineStart != nil && c.LineEnd != nil && *c.LineStart > *c.LineEnd {
		return fmt.Errorf("comment %s: line_start must be <= line_end", c.ID)
	}
	return nil
}
