package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseer-dev/overseer/internal/types"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and act on reviews",
}

var reviewGetCmd = &cobra.Command{
	Use:   "get <review-id>",
	Short: "Show a review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := core.Review.Get(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(r, func() {
			printKV("id", r.ID, "task", r.TaskID, "status", string(r.Status))
		})
		return nil
	},
}

var (
	reviewCommentBody string
	reviewCommentPath string
	reviewCommentLine int
)

var reviewCommentCmd = &cobra.Command{
	Use:   "comment <review-id>",
	Short: "Add a human comment to a review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := core.Review.Get(rootCtx, args[0])
		if err != nil {
			return err
		}
		var lineStart *int
		if reviewCommentLine > 0 {
			lineStart = &reviewCommentLine
		}
		c, err := core.Review.AddComment(rootCtx, args[0], r.TaskID, types.AuthorHuman, reviewCommentPath, lineStart, lineStart, types.SideRight, reviewCommentBody)
		if err != nil {
			return err
		}
		outputResult(c, func() { printKV("id", c.ID, "file", c.FilePath) })
		return nil
	},
}

var reviewApproveAgentCmd = &cobra.Command{
	Use:   "approve-agent <review-id>",
	Short: "Manually resolve AgentPending straight to HumanPending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := core.ApproveAgentPhase(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(r, func() {
			printKV("review", r.ID, "status", string(r.Status))
		})
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <review-id>",
	Short: "Approve a review and complete its task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, t, err := core.Approve(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(r, func() {
			printKV("review", r.ID, "status", string(r.Status), "task_status", string(t.Status))
		})
		return nil
	},
}

var reviewRequestChangesCmd = &cobra.Command{
	Use:   "request-changes <review-id>",
	Short: "Request changes on a review, returning its task to InProgress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, t, err := core.RequestChanges(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(r, func() {
			printKV("review", r.ID, "status", string(r.Status), "task_status", string(t.Status))
		})
		return nil
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list <task-id>",
	Short: "List all reviews for a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviews, err := core.Review.ListForTask(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(reviews, func() {
			for _, r := range reviews {
				fmt.Printf("%-20s %s\n", r.ID, r.Status)
			}
		})
		return nil
	},
}

func init() {
	reviewCommentCmd.Flags().StringVar(&reviewCommentPath, "path", "", "File path the comment refers to")
	reviewCommentCmd.Flags().StringVar(&reviewCommentBody, "body", "", "Comment body")
	reviewCommentCmd.Flags().IntVar(&reviewCommentLine, "line", 0, "Line number the comment refers to")
	reviewCmd.AddCommand(reviewGetCmd, reviewCommentCmd, reviewApproveAgentCmd, reviewApproveCmd, reviewRequestChangesCmd, reviewListCmd)
}
