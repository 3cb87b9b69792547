// Command overseer is the CLI front-end over the core engine (package
// overseer), grounded on the teacher's cmd/bd root-command tree: a
// persistent-flag root command opens the store in PersistentPreRun and
// closes it in PersistentPostRun, and every resource gets its own
// subcommand file (task.go, repo.go, gate.go, help.go, session.go)
// the way cmd/bd splits by resource across activity.go, advice.go,
// and friends.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/overseer-dev/overseer/internal/config"
	"github.com/overseer-dev/overseer/internal/eventbus"
	"github.com/overseer-dev/overseer/internal/overseer"
	"github.com/overseer-dev/overseer/internal/storage/doltstore"
)

var (
	flagDBPath string
	flagRepo   string
	flagOutput string

	rootCtx context.Context
	store   *doltstore.Store
	core    *overseer.Overseer
	log     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "overseer",
	Short: "overseer - local-first control plane for agent-driven code work",
	Long:  `Overseer coordinates tasks, reviews, gates, and agent harnesses against a Dolt-backed store.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if isNoStoreCommand(cmd) {
			return nil
		}
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		cfg, err := appconfig.Load(wd, map[string]string{
			"db_path": flagDBPath,
			"output":  flagOutput,
		})
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if flagRepo == "" {
			flagRepo = cfg.DefaultRepo
		}
		if flagOutput == "" {
			flagOutput = cfg.Output
		}

		rootCtx = context.Background()
		log = slog.New(slog.NewTextHandler(os.Stderr, nil))

		s, err := doltstore.Open(rootCtx, doltstore.Config{
			Path:           cfg.DBPath,
			Database:       cfg.Database,
			CommitterName:  cfg.CommitterName,
			CommitterEmail: cfg.CommitterEmail,
		})
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		store = s

		bus := eventbus.New(store, log)
		core = overseer.New(store, bus, overseer.WithLogger(log))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if store == nil {
			return nil
		}
		return store.Close()
	},
}

// noStoreCommands lists commands that never touch the store, the same
// early-exit beads' PersistentPreRun makes for its no-db commands.
var noStoreCommands = map[string]bool{
	"help":    true,
	"version": true,
}

func isNoStoreCommand(cmd *cobra.Command) bool {
	return noStoreCommands[cmd.Name()]
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db-path", "", "Dolt database directory (default: .overseer/db)")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "Repo id to scope this command to")
	rootCmd.PersistentFlags().StringVar(&flagOutput, "output", "", "Output format: text|json")

	rootCmd.AddCommand(repoCmd, taskCmd, reviewCmd, gateCmd, helpCmd, sessionCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("overseer (dev build)")
	},
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
