package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateHierarchy(t *testing.T) {
	assert.NoError(t, ValidateHierarchy(KindMilestone, false, ""))
	assert.Error(t, ValidateHierarchy(KindMilestone, true, KindMilestone))

	assert.NoError(t, ValidateHierarchy(KindTask, false, ""))
	assert.NoError(t, ValidateHierarchy(KindTask, true, KindMilestone))
	assert.Error(t, ValidateHierarchy(KindTask, true, KindTask))

	assert.NoError(t, ValidateHierarchy(KindSubtask, true, KindTask))
	assert.Error(t, ValidateHierarchy(KindSubtask, false, ""))
	assert.Error(t, ValidateHierarchy(KindSubtask, true, KindMilestone))
}

func TestValidateStatusTransition(t *testing.T) {
	assert.NoError(t, ValidateStatusTransition(StatusPending, StatusPending))
	assert.NoError(t, ValidateStatusTransition(StatusPending, StatusInProgress))
	assert.NoError(t, ValidateStatusTransition(StatusInReview, StatusCompleted))
	assert.NoError(t, ValidateStatusTransition(StatusInReview, StatusInProgress))
	assert.Error(t, ValidateStatusTransition(StatusCompleted, StatusInProgress))
	assert.Error(t, ValidateStatusTransition(StatusPending, StatusCompleted))
}

func TestTaskValidate(t *testing.T) {
	tsk := &Task{ID: "task_x", Kind: KindTask, Description: "d", Priority: PriorityNormal, Status: StatusPending}
	assert.NoError(t, tsk.Validate())

	bad := &Task{ID: "task_x", Kind: KindTask, Description: "d", Priority: PriorityNormal, Status: StatusPending, BlockedBy: []string{"task_x"}}
	assert.Error(t, bad.Validate())
}

func TestHelpRequestChosenOptionRange(t *testing.T) {
	opt := 1
	h := &HelpRequest{ID: "help_x", TaskID: "task_x", FromStatus: StatusInProgress, Category: HelpDecision, Status: HelpResponded, SuggestedOptions: []string{"a", "b"}, ChosenOption: &opt}
	assert.NoError(t, h.Validate())

	bad := 5
	h.ChosenOption = &bad
	assert.Error(t, h.Validate())
}

func TestReviewCommentLineBounds(t *testing.T) {
	start, end := 10, 5
	c := &ReviewComment{ID: "cmt_x", ReviewID: "rev_x", TaskID: "task_x", Author: AuthorAgent, Side: SideRight, FilePath: "a.go", LineStart: &start, LineEnd: &end}
	assert.Error(t, c.Validate())
}
