package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var helpCmd = &cobra.Command{
	Use:   "help-request",
	Short: "Inspect and resolve help requests raised by agents",
}

var helpListTaskID string

var helpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List help requests for a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		reqs, err := core.Help.ListForTask(rootCtx, helpListTaskID)
		if err != nil {
			return err
		}
		outputResult(reqs, func() {
			for _, h := range reqs {
				fmt.Printf("%-20s %-12s %s\n", h.ID, h.Status, h.Reason)
			}
		})
		return nil
	},
}

var (
	helpRespondText  string
	helpChosenOption int
	helpHasChosenOpt bool
)

var helpRespondCmd = &cobra.Command{
	Use:   "respond <help-id>",
	Short: "Answer a pending help request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var chosen *int
		if helpHasChosenOpt {
			chosen = &helpChosenOption
		}
		h, err := core.Help.Respond(rootCtx, args[0], helpRespondText, chosen)
		if err != nil {
			return err
		}
		outputResult(h, func() { printKV("id", h.ID, "status", string(h.Status)) })
		return nil
	},
}

var helpResumeCmd = &cobra.Command{
	Use:   "resume <help-id>",
	Short: "Resume a task that had been parked waiting on help",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, t, err := core.ResumeFromHelp(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(h, func() {
			printKV("id", h.ID, "status", string(h.Status), "task_status", string(t.Status))
		})
		return nil
	},
}

func init() {
	helpListCmd.Flags().StringVar(&helpListTaskID, "task", "", "Task id")
	helpRespondCmd.Flags().StringVar(&helpRespondText, "response", "", "Free-form response text")
	helpRespondCmd.Flags().IntVar(&helpChosenOption, "chosen-option", 0, "Index into the request's suggested options")
	helpRespondCmd.Flags().BoolVar(&helpHasChosenOpt, "has-chosen-option", false, "Set when --chosen-option should be sent")

	helpCmd.AddCommand(helpListCmd, helpRespondCmd, helpResumeCmd)
}
