package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "harness",
	Short: "Manage connected agent harnesses",
}

var harnessCapabilities string

var harnessRegisterCmd = &cobra.Command{
	Use:   "register <harness-id>",
	Short: "Register a harness and its capabilities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var caps []string
		if harnessCapabilities != "" {
			caps = strings.Split(harnessCapabilities, ",")
		}
		h, err := core.Sess.RegisterHarness(rootCtx, args[0], caps)
		if err != nil {
			return err
		}
		outputResult(h, func() { printKV("id", h.ID, "connected", fmt.Sprint(h.Connected)) })
		return nil
	},
}

var harnessListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known harnesses",
	RunE: func(cmd *cobra.Command, args []string) error {
		harnesses, err := core.Sess.ListHarnesses(rootCtx)
		if err != nil {
			return err
		}
		outputResult(harnesses, func() {
			for _, h := range harnesses {
				fmt.Printf("%-20s %-8v %s\n", h.ID, h.Connected, strings.Join(h.Capabilities, ","))
			}
		})
		return nil
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := core.Sess.Get(rootCtx, args[0])
		if err != nil {
			return err
		}
		outputResult(s, func() { printKV("id", s.ID, "task", s.TaskID, "status", string(s.Status)) })
		return nil
	},
}

func init() {
	harnessRegisterCmd.Flags().StringVar(&harnessCapabilities, "capabilities", "", "Comma-separated capability list")
	sessionCmd.AddCommand(harnessRegisterCmd, harnessListCmd, sessionGetCmd)
}
