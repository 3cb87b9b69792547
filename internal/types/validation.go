package types

import "fmt"

// ValidateHierarchy enforces spec.md §3's hierarchy rule: Milestone has
// no parent; Task's parent, if present, must be Milestone; Subtask's
// parent must be exactly Task. parentKind is empty when hasParent is
// false. Ported from the original implementation's
// validate_task_hierarchy (os-core/src/validation.rs).
func ValidateHierarchy(kind TaskKind, hasParent bool, parentKind TaskKind) error {
	switch kind {
	case KindMilestone:
		if hasParent {
			return fmt.Errorf("invalid_hierarchy: milestone cannot have a parent")
		}
	case KindTask:
		if hasParent && parentKind != KindMilestone {
			return fmt.Errorf("invalid_hierarchy: task parent must be a milestone")
		}
	case KindSubtask:
		if !hasParent || parentKind != KindTask {
			return fmt.Errorf("invalid_hierarchy: subtask parent must be a task")
		}
	default:
		return fmt.Errorf("invalid_hierarchy: unknown kind %q", kind)
	}
	return nil
}

// validTransitions enumerates every allowed (from, to) status pair,
// ported verbatim from validate_task_status_transition in
// os-core/src/validation.rs. A same-state transition is always allowed
// as a no-op; ValidateStatusTransition accepts it before consulting
// this table.
var validTransitions = map[[2]TaskStatus]bool{
	{StatusPending, StatusInProgress}:       true,
	{StatusInProgress, StatusInReview}:      true,
	{StatusInReview, StatusCompleted}:       true,
	{StatusPending, StatusCancelled}:        true,
	{StatusInProgress, StatusCancelled}:     true,
	{StatusInReview, StatusCancelled}:       true,
	{StatusPending, StatusAwaitingHuman}:    true,
	{StatusInProgress, StatusAwaitingHuman}: true,
	{StatusInReview, StatusAwaitingHuman}:   true,
	{StatusAwaitingHuman, StatusPending}:    true,
	{StatusAwaitingHuman, StatusInProgress}: true,
	{StatusAwaitingHuman, StatusInReview}:   true,
	// spec.md §4.3 adds this transition beyond the operations table:
	// review ChangesRequested moves an InReview task back to
	// InProgress without going through AwaitingHuman.
	{StatusInReview, StatusInProgress}: true,
}

// ValidateStatusTransition checks whether a task may move from one
// status to another via the task engine's normal operations. Forced
// transitions via the human-only set_status operation bypass this
// check by design (spec.md §4.3 "set_status ... forced transition").
func ValidateStatusTransition(from, to TaskStatus) error {
	if from == to {
		return nil
	}
	if validTransitions[[2]TaskStatus{from, to}] {
		return nil
	}
	return fmt.Errorf("invalid_state: cannot transition task from %s to %s", from, to)
}
