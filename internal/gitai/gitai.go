// Package gitai implements the agent-assisted review supplemented
// feature (SPEC_FULL.md "Agent-assisted review (GitAi)"): an automated
// pass over a task's diff that produces an Approve/RequestChanges
// verdict, gated behind OVERSEER_GIT_AI_MODE. With the mode off (the
// default) no verdict runs and the pipeline moves an AgentPending review
// straight on to HumanPending.
package gitai

import (
	"context"
	"fmt"
	"os"

	"github.com/overseer-dev/overseer/internal/types"
)

// Mode selects how AgentPending reviews are verdicted.
type Mode string

const (
	// ModeOff never runs an automated pass; the pipeline moves an
	// AgentPending review straight to HumanPending and does not wait for
	// an explicit approve/request_changes call. Default.
	ModeOff Mode = "off"
	// ModeStub runs a deterministic canned provider, for tests and
	// environments without Anthropic API access.
	ModeStub Mode = "stub"
	// ModeLive calls the Anthropic API.
	ModeLive Mode = "live"
)

// ModeFromEnv reads OVERSEER_GIT_AI_MODE, defaulting to ModeOff.
func ModeFromEnv() Mode {
	switch Mode(os.Getenv("OVERSEER_GIT_AI_MODE")) {
	case ModeStub:
		return ModeStub
	case ModeLive:
		return ModeLive
	default:
		return ModeOff
	}
}

// Verdict is the outcome of GitAi's automated pass over a task's diff.
type Verdict struct {
	Approve bool
	Comment string
}

// Request carries everything a Provider needs to render a review.
type Request struct {
	Task      *types.Task
	Diff      string
	Learnings []string // inherited ancestor-chain learnings, for context
}

// Provider is the pluggable surface GitAi calls to get a verdict. The
// default provider wraps the Anthropic API; a stub provider exists for
// ModeStub and for tests.
type Provider interface {
	Review(ctx context.Context, req Request) (*Verdict, error)
}

// Reviewer drives the AgentPending automated pass: when configured
// with anything other than ModeOff, Run produces a Verdict a caller
// (package overseer) feeds into review.Engine.Approve or
// review.Engine.RequestChanges exactly as a human reviewer would.
type Reviewer struct {
	mode     Mode
	provider Provider
}

// New builds a Reviewer for the given mode. ModeOff needs no provider
// and Run always returns nil, nil. ModeLive requires apiKey (or
// ANTHROPIC_API_KEY in the environment, which takes precedence).
func New(mode Mode, apiKey string) (*Reviewer, error) {
	switch mode {
	case ModeOff:
		return &Reviewer{mode: mode}, nil
	case ModeStub:
		return &Reviewer{mode: mode, provider: stubProvider{}}, nil
	case ModeLive:
		p, err := newAnthropicProvider(apiKey)
		if err != nil {
			return nil, err
		}
		return &Reviewer{mode: mode, provider: p}, nil
	default:
		return nil, fmt.Errorf("gitai: unknown mode %q", mode)
	}
}

func (r *Reviewer) Mode() Mode {
	return r.mode
}

// Run produces a Verdict for the task's current diff, or (nil, nil)
// when the reviewer is off.
func (r *Reviewer) Run(ctx context.Context, req Request) (*Verdict, error) {
	if r.mode == ModeOff {
		return nil, nil
	}
	return r.provider.Review(ctx, req)
}

// stubProvider always approves with a canned comment, for tests and
// for running the AgentPending pipeline without API access.
type stubProvider struct{}

func (stubProvider) Review(ctx context.Context, req Request) (*Verdict, error) {
	return &Verdict{Approve: true, Comment: "stub: no issues found"}, nil
}
