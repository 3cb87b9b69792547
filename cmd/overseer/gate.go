package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseer-dev/overseer/internal/gate"
	"github.com/overseer-dev/overseer/internal/types"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Declare and inspect gates",
}

var (
	gateScope            string
	gateScopeID          string
	gateName             string
	gateCommand          string
	gateTimeoutSecs      int
	gateMaxRetries       int
	gatePollIntervalSecs int
	gateMaxPendingSecs   int
)

var gateAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a gate to a repo or task scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeID := gateScopeID
		scopeType := types.GateScopeType(gateScope)
		if scopeType == types.ScopeRepo && scopeID == "" {
			scopeID = flagRepo
		}
		g, err := core.Gates.CreateGate(rootCtx, gate.CreateInput{
			ScopeType:        scopeType,
			ScopeID:          scopeID,
			Name:             gateName,
			Command:          gateCommand,
			TimeoutSecs:      gateTimeoutSecs,
			MaxRetries:       gateMaxRetries,
			PollIntervalSecs: gatePollIntervalSecs,
			MaxPendingSecs:   gateMaxPendingSecs,
		})
		if err != nil {
			return err
		}
		outputResult(g, func() { printKV("id", g.ID, "name", g.Name, "scope", string(g.ScopeType)) })
		return nil
	},
}

var gateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gates in a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		scopeID := gateScopeID
		scopeType := types.GateScopeType(gateScope)
		if scopeType == types.ScopeRepo && scopeID == "" {
			scopeID = flagRepo
		}
		gates, err := core.Gates.ListGates(rootCtx, scopeType, scopeID)
		if err != nil {
			return err
		}
		outputResult(gates, func() {
			for _, g := range gates {
				fmt.Printf("%-20s %-16s %s\n", g.ID, g.Name, g.Command)
			}
		})
		return nil
	},
}

var gateRemoveCmd = &cobra.Command{
	Use:   "remove <gate-id>",
	Short: "Delete a gate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return core.Gates.DeleteGate(rootCtx, args[0])
	},
}

var gateRerunCmd = &cobra.Command{
	Use:   "rerun <review-id>",
	Short: "Rerun every gate for a review with attempt counters reset to 1",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return core.RerunGates(rootCtx, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{gateAddCmd, gateListCmd} {
		c.Flags().StringVar(&gateScope, "scope", "Repo", "Repo|Task")
		c.Flags().StringVar(&gateScopeID, "scope-id", "", "Scope id (defaults to --repo for Repo scope)")
	}
	gateAddCmd.Flags().StringVar(&gateName, "name", "", "Gate name, unique within its scope")
	gateAddCmd.Flags().StringVar(&gateCommand, "command", "", "Shell command to run")
	gateAddCmd.Flags().IntVar(&gateTimeoutSecs, "timeout-secs", 300, "Per-attempt timeout")
	gateAddCmd.Flags().IntVar(&gateMaxRetries, "max-retries", 2, "Attempts allowed before escalation")
	gateAddCmd.Flags().IntVar(&gatePollIntervalSecs, "poll-interval-secs", 5, "Pending-result poll interval")
	gateAddCmd.Flags().IntVar(&gateMaxPendingSecs, "max-pending-secs", 600, "Max time to wait on a pending result")

	gateCmd.AddCommand(gateAddCmd, gateListCmd, gateRemoveCmd, gateRerunCmd)
}
