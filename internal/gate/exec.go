package gate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/telemetry"
	"github.com/overseer-dev/overseer/internal/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// Runner executes one gate command and reports its exit code and
// captured output. The default implementation shells out via os/exec;
// tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, gate *types.Gate, env []string) (exitCode int, stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, gate *types.Gate, env []string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", gate.Command)
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return 0, stdout.String(), stderr.String(), nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
	}
	// Process never started (binary missing, permission denied, etc).
	return 0, stdout.String(), stderr.String(), err
}

// Outcome summarizes one RunReview/Rerun pass across every effective
// gate for a review.
type Outcome struct {
	AllPassed bool
	Pending   bool
	Escalated bool
	Results   []*types.GateResult
}

// exitCodePending is the sentinel a gate command returns to mean "still
// running, poll me again" (spec.md §4.5 "exit-code mapping").
const exitCodePending = 75

func classify(exitCode int, timedOut bool) types.GateResultStatus {
	if timedOut {
		return types.GateTimeout
	}
	switch exitCode {
	case 0:
		return types.GatePassed
	case exitCodePending:
		return types.GatePending
	default:
		return types.GateFailed
	}
}

func gateEnv(task *types.Task, repoPath, reviewID, gateName string, attempt int) []string {
	return []string{
		"OVERSEER_TASK_ID=" + task.ID,
		"OVERSEER_REPO_ID=" + task.RepoID,
		"OVERSEER_REPO_PATH=" + repoPath,
		"OVERSEER_REVIEW_ID=" + reviewID,
		"OVERSEER_GATE_NAME=" + gateName,
		"OVERSEER_ATTEMPT=" + strconv.Itoa(attempt),
	}
}

func (s *Scheduler) execute(ctx context.Context, gate *types.Gate, review *types.Review, task *types.Task, repoPath string, attempt int) (*types.GateResult, error) {
	gateMetricsOnce.Do(initGateMetrics)
	tracer := telemetry.Tracer("github.com/overseer-dev/overseer/gate")
	ctx, span := tracer.Start(ctx, "gate.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("overseer.gate.name", gate.Name),
		attribute.String("overseer.review.id", review.ID),
		attribute.Int("overseer.gate.attempt", attempt),
	)

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(gate.TimeoutSecs)*time.Second)
	defer cancel()

	started := s.now()
	exitCode, stdout, stderr, err := s.runner().Run(runCtx, gate, gateEnv(task, repoPath, review.ID, gate.Name, attempt))
	ms := float64(s.now().Sub(started).Milliseconds())
	nameAttr := attribute.String("overseer.gate.name", gate.Name)
	if gateMetrics.duration != nil {
		gateMetrics.duration.Record(ctx, ms, metric.WithAttributes(nameAttr))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("spawning gate %s: %w", gate.Name, err)
	}
	timedOut := runCtx.Err() == context.DeadlineExceeded
	now := s.now()
	code := exitCode
	status := classify(exitCode, timedOut)
	span.SetAttributes(attribute.String("overseer.gate.status", string(status)))
	if gateMetrics.runs != nil {
		gateMetrics.runs.Add(ctx, 1, metric.WithAttributes(nameAttr, attribute.String("overseer.gate.status", string(status))))
	}
	return &types.GateResult{
		GateID:      gate.ID,
		ReviewID:    review.ID,
		TaskID:      task.ID,
		Attempt:     attempt,
		Status:      status,
		Stdout:      types.TailBytes(stdout),
		Stderr:      types.TailBytes(stderr),
		ExitCode:    &code,
		StartedAt:   started,
		CompletedAt: &now,
	}, nil
}

var gateMetrics struct {
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

var gateMetricsOnce sync.Once

func initGateMetrics() {
	m := telemetry.Meter("github.com/overseer-dev/overseer/gate")
	gateMetrics.runs, _ = m.Int64Counter("overseer.gate.runs",
		metric.WithDescription("gate command executions by name and status"),
		metric.WithUnit("{run}"),
	)
	gateMetrics.duration, _ = m.Float64Histogram("overseer.gate.duration",
		metric.WithDescription("gate command wall-clock duration"),
		metric.WithUnit("ms"),
	)
}

func (s *Scheduler) runner() Runner {
	if s.exec == nil {
		return execRunner{}
	}
	return s.exec
}

func (s *Scheduler) persist(ctx context.Context, r *types.GateResult, gateName string) error {
	var evt types.EventType
	switch r.Status {
	case types.GatePassed:
		evt = types.EventGatePassed
	case types.GateEscalated:
		evt = types.EventGateEscalated
	case types.GatePending:
		// Still running as of this poll: not a failure, just another
		// row recording that the command hasn't settled yet.
		evt = types.EventGatePolled
	default:
		evt = types.EventGateFailed
	}
	return s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.PutGateResult(ctx, r); err != nil {
			return errs.Wrap(errs.Internal, err, "storing gate result")
		}
		return appendEvent(ctx, tx, evt, map[string]any{
			"gate_id": r.GateID, "review_id": r.ReviewID, "name": gateName, "attempt": r.Attempt, "status": r.Status,
		})
	})
}

func nextAttemptOrReset(ctx context.Context, store storage.Store, gateID, reviewID string, forceReset bool) int {
	if forceReset {
		return 1
	}
	latest, err := store.LatestGateResult(ctx, gateID, reviewID)
	if err != nil {
		return 1
	}
	return latest.Attempt + 1
}

func repoPathFor(ctx context.Context, store storage.Store, repoID string) string {
	r, err := store.GetRepo(ctx, repoID)
	if err != nil {
		return ""
	}
	return r.Path
}
