package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/task"
	"github.com/overseer-dev/overseer/internal/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and manage tasks",
}

var (
	taskKind        string
	taskParent      string
	taskDescription string
	taskContext     string
	taskPriority    string
	taskBlockedBy   []string
)

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRepo == "" {
			return fmt.Errorf("--repo is required")
		}
		prio, err := parsePriority(taskPriority)
		if err != nil {
			return err
		}
		t, err := core.Tasks.Create(rootCtx, task.CreateInput{
			RepoID:      flagRepo,
			Kind:        types.TaskKind(taskKind),
			ParentID:    taskParent,
			Description: taskDescription,
			Context:     taskContext,
			Priority:    prio,
			BlockedBy:   taskBlockedBy,
		})
		if err != nil {
			return err
		}
		outputResult(t, func() { printTask(t) })
		return nil
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := core.Tasks.Get(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(t, func() { printTask(t) })
		return nil
	},
}

var taskListStatus string

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := storage.TaskFilter{RepoID: flagRepo}
		if taskListStatus != "" {
			f.Status = types.TaskStatus(taskListStatus)
		}
		tasks, err := core.Tasks.List(rootCtx, f)
		if err != nil {
			return err
		}
		outputResult(tasks, func() {
			for _, t := range tasks {
				fmt.Printf("%-20s %-10s %-12s %s\n", t.ID, t.Kind, t.Status, t.Description)
			}
		})
		return nil
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Start a task, creating its working ref",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, vcs, err := core.StartTask(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(t, func() {
			printTask(t)
			if vcs != nil {
				printKV("ref", vcs.RefName)
			}
		})
		return nil
	},
}

var taskSubmitHeadCommit string

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <task-id>",
	Short: "Submit a task for review, kicking off the gate pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, r, err := core.Submit(rootCtx, args[0], taskSubmitHeadCommit)
		if err != nil {
			return err
		}
		outputResult(r, func() {
			printTask(t)
			printKV("review", r.ID, "review_status", string(r.Status))
		})
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Force-complete a task outside the normal review flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := core.Tasks.ForceComplete(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(t, func() { printTask(t) })
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := core.Tasks.Cancel(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(t, func() { printTask(t) })
		return nil
	},
}

var taskBlockCmd = &cobra.Command{
	Use:   "block <task-id> <blocker-id>",
	Short: "Add a blocker to a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return core.Tasks.Block(rootCtx, args[0], args[1])
	},
}

var taskUnblockCmd = &cobra.Command{
	Use:   "unblock <task-id> <blocker-id>",
	Short: "Remove a blocker from a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return core.Tasks.Unblock(rootCtx, args[0], args[1])
	},
}

var readyScopeID string

var taskReadyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Show the next ready task in priority/creation order",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagRepo == "" {
			return fmt.Errorf("--repo is required")
		}
		t, err := core.Tasks.NextReady(rootCtx, flagRepo, readyScopeID)
		if err != nil {
			return err
		}
		outputResult(t, func() { printTask(t) })
		return nil
	},
}

func parsePriority(s string) (types.Priority, error) {
	switch s {
	case "", "normal":
		return types.PriorityNormal, nil
	case "urgent":
		return types.PriorityUrgent, nil
	case "high":
		return types.PriorityHigh, nil
	case "low":
		return types.PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func printTask(t *types.Task) {
	printKV(
		"id", t.ID,
		"kind", string(t.Kind),
		"status", string(t.Status),
		"description", t.Description,
	)
}

func init() {
	taskCreateCmd.Flags().StringVar(&taskKind, "kind", "Task", "Task|Milestone|Subtask")
	taskCreateCmd.Flags().StringVar(&taskParent, "parent", "", "Parent task id")
	taskCreateCmd.Flags().StringVar(&taskDescription, "description", "", "Task description")
	taskCreateCmd.Flags().StringVar(&taskContext, "context", "", "Free-form context for the assigned agent")
	taskCreateCmd.Flags().StringVar(&taskPriority, "priority", "normal", "urgent|high|normal|low")
	taskCreateCmd.Flags().StringSliceVar(&taskBlockedBy, "blocked-by", nil, "Task ids that block this one")

	taskListCmd.Flags().StringVar(&taskListStatus, "status", "", "Filter by status")
	taskSubmitCmd.Flags().StringVar(&taskSubmitHeadCommit, "head-commit", "", "Head commit/change id being submitted")
	taskReadyCmd.Flags().StringVar(&readyScopeID, "scope", "", "Restrict to a milestone/subtree id")

	taskCmd.AddCommand(taskCreateCmd, taskGetCmd, taskListCmd, taskStartCmd, taskSubmitCmd,
		taskCompleteCmd, taskCancelCmd, taskBlockCmd, taskUnblockCmd, taskReadyCmd)
}
