package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overseer-dev/overseer/internal/types"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Register and manage repositories",
}

var repoVcs string
var repoMainHead string

var repoRegisterCmd = &cobra.Command{
	Use:   "register <path>",
	Short: "Register a repository with the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := core.Repos.Register(rootCtx, args[0], types.VcsKind(repoVcs), repoMainHead)
		if err != nil {
			return err
		}
		outputResult(r, func() {
			printKV("id", r.ID, "path", r.Path, "vcs", string(r.VcsType))
		})
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := core.Repos.List(rootCtx)
		if err != nil {
			return err
		}
		outputResult(repos, func() {
			for _, r := range repos {
				fmt.Printf("%-20s %-6s %s\n", r.ID, r.VcsType, r.Path)
			}
		})
		return nil
	},
}

var repoUnregisterCmd = &cobra.Command{
	Use:   "unregister <repo-id>",
	Short: "Unregister a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return core.Repos.Unregister(rootCtx, args[0])
	},
}

func init() {
	repoRegisterCmd.Flags().StringVar(&repoVcs, "vcs", "Git", "Git|Jj")
	repoRegisterCmd.Flags().StringVar(&repoMainHead, "main-head", "main", "Main branch/bookmark name")
	repoCmd.AddCommand(repoRegisterCmd, repoListCmd, repoUnregisterCmd)
}
