// Package gateconfig loads repo-scope gates from the on-disk gate file
// (spec.md §6 "Gate configuration file format", `.overseer/gates.yaml`)
// and watches it for live reload, mirroring the way beads watches its
// own project files with fsnotify (cmd/bd/list.go's debounced watch
// loop) but reacting by re-registering gates against the store instead
// of re-rendering a CLI view.
package gateconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/gate"
	"github.com/overseer-dev/overseer/internal/types"
)

// FileName is the gate file's fixed name under a repository root.
const FileName = "gates.yaml"

// Entry is one gate declaration as it appears in the file.
type Entry struct {
	Name             string `yaml:"name"`
	Command          string `yaml:"command"`
	TimeoutSecs      int    `yaml:"timeout_secs,omitempty"`
	MaxRetries       int    `yaml:"max_retries,omitempty"`
	PollIntervalSecs int    `yaml:"poll_interval_secs,omitempty"`
	MaxPendingSecs   int    `yaml:"max_pending_secs,omitempty"`
}

type file struct {
	Gates []Entry `yaml:"gates"`
}

// Load parses the gate file at repoPath/.overseer/gates.yaml. A
// missing file is not an error -- it just yields no entries, the same
// as beads treats an absent config.yaml.
func Load(repoPath string) ([]Entry, error) {
	path := filepath.Join(repoPath, ".overseer", FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gateconfig: read %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("gateconfig: parse %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Gates))
	for _, e := range f.Gates {
		if seen[e.Name] {
			return nil, errs.New(errs.Conflict, "gate %q declared more than once in %s", e.Name, path)
		}
		seen[e.Name] = true
	}
	return f.Gates, nil
}

// Sync reconciles repo-scope gates in the store against the file's
// current contents: entries not yet registered are created, changed
// entries are updated in place, entries no longer present are left
// alone (removal is explicit, via gate.Scheduler.DeleteGate, never
// implicit from a config edit).
func Sync(ctx context.Context, scheduler *gate.Scheduler, repoID, repoPath string) error {
	entries, err := Load(repoPath)
	if err != nil {
		return err
	}
	existing, err := scheduler.ListGates(ctx, types.ScopeRepo, repoID)
	if err != nil {
		return err
	}
	byName := make(map[string]*types.Gate, len(existing))
	for _, g := range existing {
		byName[g.Name] = g
	}

	for _, e := range entries {
		if g, ok := byName[e.Name]; ok {
			if gateChanged(g, e) {
				cmd := e.Command
				timeout, retries, poll, pending := e.TimeoutSecs, e.MaxRetries, e.PollIntervalSecs, e.MaxPendingSecs
				if _, err := scheduler.UpdateGate(ctx, g.ID, &cmd, &timeout, &retries, &poll, &pending); err != nil {
					return err
				}
			}
			continue
		}
		if _, err := scheduler.CreateGate(ctx, gate.CreateInput{
			ScopeType:        types.ScopeRepo,
			ScopeID:          repoID,
			Name:             e.Name,
			Command:          e.Command,
			TimeoutSecs:      e.TimeoutSecs,
			MaxRetries:       e.MaxRetries,
			PollIntervalSecs: e.PollIntervalSecs,
			MaxPendingSecs:   e.MaxPendingSecs,
		}); err != nil {
			return err
		}
	}
	return nil
}

func gateChanged(g *types.Gate, e Entry) bool {
	return g.Command != e.Command || g.TimeoutSecs != e.TimeoutSecs ||
		g.MaxRetries != e.MaxRetries || g.PollIntervalSecs != e.PollIntervalSecs ||
		g.MaxPendingSecs != e.MaxPendingSecs
}

// Watch watches repoPath/.overseer for changes to gates.yaml and calls
// onChange (debounced) after each write or create, until ctx is
// canceled. Errors setting up the watcher are returned; errors the
// watcher reports afterwards are passed to onError and do not stop the
// watch loop.
func Watch(ctx context.Context, repoPath string, onChange func(), onError func(error)) error {
	dir := filepath.Join(repoPath, ".overseer")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gateconfig: ensure %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gateconfig: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("gateconfig: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		const debounceDelay = 300 * time.Millisecond
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != FileName {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounceDelay, onChange)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(werr)
				}
			}
		}
	}()
	return nil
}
