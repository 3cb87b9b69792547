package doltstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

const (
	maxTransactionRetries = 2
	initialRetryDelay     = 50 * time.Millisecond
	maxRetryDelay         = 2 * time.Second
)

// RunInTransaction mirrors the teacher's dolt.DoltStore.RunInTransaction:
// a serialization conflict (Dolt/MySQL error 1213 or 1105) retries the
// whole closure with exponential backoff, for at most three attempts in
// all (maxTransactionRetries retries after the first); any other error
// aborts immediately. The backoff policy comes from cenkalti/backoff/v4,
// capped by a retry count instead of a deadline.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay
	bo.Multiplier = 2
	withRetries := backoff.WithMaxRetries(bo, maxTransactionRetries)
	withContext := backoff.WithContext(withRetries, ctx)

	attempts := 0
	op := func() error {
		attempts++
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationConflict(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, withContext); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return fmt.Errorf("doltstore: transaction failed after %d attempts: %w", attempts, err)
	}
	return nil
}

func (s *Store) runOnce(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("doltstore: begin: %w", err)
	}
	tx := &doltTx{tx: sqlTx}

	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

func isSerializationConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Error 1213") || strings.Contains(msg, "Error 1105") || strings.Contains(msg, "serialization")
}

type doltTx struct {
	tx *sql.Tx
}

func (t *doltTx) CreateTask(ctx context.Context, tk *types.Task) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO tasks (id, repo_id, parent_id, kind, description, context, priority, status, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tk.ID, tk.RepoID, tk.ParentID, tk.Kind, tk.Description, tk.Context, tk.Priority, tk.Status, tk.CreatedAt, tk.UpdatedAt, tk.StartedAt, tk.CompletedAt)
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	if err := setBlockers(ctx, t.tx, tk.ID, tk.BlockedBy); err != nil {
		return err
	}
	return err
}

func (t *doltTx) UpdateTask(ctx context.Context, tk *types.Task) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE tasks SET repo_id = ?, parent_id = ?, kind = ?, description = ?, context = ?, priority = ?, status = ?,
			updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?
	`, tk.RepoID, tk.ParentID, tk.Kind, tk.Description, tk.Context, tk.Priority, tk.Status, tk.UpdatedAt, tk.StartedAt, tk.CompletedAt, tk.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return setBlockers(ctx, t.tx, tk.ID, tk.BlockedBy)
}

func setBlockers(ctx context.Context, tx *sql.Tx, taskID string, blockedBy []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_blockers WHERE task_id = ?`, taskID); err != nil {
		return err
	}
	for _, b := range blockedBy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_blockers (task_id, blocker_id) VALUES (?, ?)`, taskID, b); err != nil {
			return err
		}
	}
	return nil
}

func (t *doltTx) DeleteTask(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	// task_blockers rows naming id as blocker_id are intentionally left
	// in place; spec.md §4.3 treats them as dangling and filters on read
	// the same way memstore.DeleteTask does.
	_, err = t.tx.ExecContext(ctx, `DELETE FROM task_blockers WHERE task_id = ?`, id)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM task_vcs WHERE task_id = ?`,
		`DELETE FROM reviews WHERE task_id = ?`,
		`DELETE FROM review_comments WHERE task_id = ?`,
		`DELETE FROM gate_results WHERE task_id = ?`,
		`DELETE FROM help_requests WHERE task_id = ?`,
		`DELETE FROM learnings WHERE task_id = ?`,
	} {
		if _, err := t.tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM gates WHERE scope_type = ? AND scope_id = ?`, types.ScopeTask, id); err != nil {
		return err
	}
	return nil
}

func (t *doltTx) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return scanTask(ctx, t.tx, id)
}

func (t *doltTx) ListBlockers(ctx context.Context, taskID string) ([]string, error) {
	return listBlockers(ctx, t.tx, taskID)
}

func (t *doltTx) BlockedByIndex(ctx context.Context, repoID string) (map[string][]string, error) {
	return blockedByIndex(ctx, t.tx, repoID)
}

func (t *doltTx) AddBlocker(ctx context.Context, taskID, blockerID string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT IGNORE INTO task_blockers (task_id, blocker_id) VALUES (?, ?)`, taskID, blockerID)
	return err
}

func (t *doltTx) RemoveBlocker(ctx context.Context, taskID, blockerID string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM task_blockers WHERE task_id = ? AND blocker_id = ?`, taskID, blockerID)
	return err
}

func (t *doltTx) PutTaskVcs(ctx context.Context, v *types.TaskVcs) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO task_vcs (task_id, repo_id, vcs_type, ref_name, change_id, base_commit, head_commit, start_commit, created_at, updated_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE repo_id = VALUES(repo_id), vcs_type = VALUES(vcs_type), ref_name = VALUES(ref_name),
			change_id = VALUES(change_id), base_commit = VALUES(base_commit), head_commit = VALUES(head_commit),
			start_commit = VALUES(start_commit), updated_at = VALUES(updated_at), archived_at = VALUES(archived_at)
	`, v.TaskID, v.RepoID, v.VcsType, v.RefName, v.ChangeID, v.BaseCommit, v.HeadCommit, v.StartCommit, v.CreatedAt, v.UpdatedAt, v.ArchivedAt)
	return err
}

func (t *doltTx) GetTaskVcs(ctx context.Context, taskID string) (*types.TaskVcs, error) {
	return scanTaskVcs(ctx, t.tx, taskID)
}

func (t *doltTx) CreateReview(ctx context.Context, r *types.Review) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reviews (id, task_id, status, submitted_at, gates_completed_at, agent_completed_at, human_completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.TaskID, r.Status, r.SubmittedAt, r.GatesCompletedAt, r.AgentCompletedAt, r.HumanCompletedAt)
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	return err
}

func (t *doltTx) UpdateReview(ctx context.Context, r *types.Review) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE reviews SET status = ?, gates_completed_at = ?, agent_completed_at = ?, human_completed_at = ?
		WHERE id = ?
	`, r.Status, r.GatesCompletedAt, r.AgentCompletedAt, r.HumanCompletedAt, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *doltTx) GetReview(ctx context.Context, id string) (*types.Review, error) {
	return scanReview(ctx, t.tx, id)
}

func (t *doltTx) AddComment(ctx context.Context, c *types.ReviewComment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO review_comments (id, review_id, task_id, author, file_path, line_start, line_end, side, body, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ReviewID, c.TaskID, c.Author, c.FilePath, c.LineStart, c.LineEnd, c.Side, c.Body, c.CreatedAt, c.ResolvedAt)
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	return err
}

func (t *doltTx) ResolveComment(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE review_comments SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the comment doesn't exist or it was already resolved;
		// disambiguate so callers get a real NotFound instead of a
		// silently-accepted no-op on a missing id.
		if _, err := scanComment(ctx, t.tx, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *doltTx) GetComment(ctx context.Context, id string) (*types.ReviewComment, error) {
	return scanComment(ctx, t.tx, id)
}

func (t *doltTx) CreateGate(ctx context.Context, g *types.Gate) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO gates (id, scope_type, scope_id, name, command, timeout_secs, max_retries, poll_interval_secs, max_pending_secs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.ScopeType, g.ScopeID, g.Name, g.Command, g.TimeoutSecs, g.MaxRetries, g.PollIntervalSecs, g.MaxPendingSecs, g.CreatedAt, g.UpdatedAt)
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	return err
}

func (t *doltTx) UpdateGate(ctx context.Context, g *types.Gate) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE gates SET command = ?, timeout_secs = ?, max_retries = ?, poll_interval_secs = ?, max_pending_secs = ?, updated_at = ?
		WHERE id = ?
	`, g.Command, g.TimeoutSecs, g.MaxRetries, g.PollIntervalSecs, g.MaxPendingSecs, g.UpdatedAt, g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *doltTx) DeleteGate(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM gates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *doltTx) GetGate(ctx context.Context, id string) (*types.Gate, error) {
	return scanGate(ctx, t.tx, id)
}

func (t *doltTx) ListGates(ctx context.Context, scopeType types.GateScopeType, scopeID string) ([]*types.Gate, error) {
	rows, err := t.tx.QueryContext(ctx, gateSelectCols+" FROM gates WHERE scope_type = ? AND scope_id = ?", scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGates(rows)
}

func (t *doltTx) PutGateResult(ctx context.Context, r *types.GateResult) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO gate_results (gate_id, review_id, attempt, task_id, status, stdout, stderr, exit_code, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE task_id = VALUES(task_id), status = VALUES(status), stdout = VALUES(stdout),
			stderr = VALUES(stderr), exit_code = VALUES(exit_code), started_at = VALUES(started_at), completed_at = VALUES(completed_at)
	`, r.GateID, r.ReviewID, r.Attempt, r.TaskID, r.Status, r.Stdout, r.Stderr, r.ExitCode, r.StartedAt, r.CompletedAt)
	return err
}

func (t *doltTx) LatestGateResult(ctx context.Context, gateID, reviewID string) (*types.GateResult, error) {
	return latestGateResult(ctx, t.tx, gateID, reviewID)
}

func (t *doltTx) CreateHelpRequest(ctx context.Context, h *types.HelpRequest) error {
	optionsJSON, err := json.Marshal(h.SuggestedOptions)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO help_requests (id, task_id, from_status, category, reason, suggested_options, status, response, chosen_option, created_at, responded_at, resumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.TaskID, h.FromStatus, h.Category, h.Reason, optionsJSON, h.Status, h.Response, h.ChosenOption, h.CreatedAt, h.RespondedAt, h.ResumedAt)
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	return err
}

func (t *doltTx) UpdateHelpRequest(ctx context.Context, h *types.HelpRequest) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE help_requests SET status = ?, response = ?, chosen_option = ?, responded_at = ?, resumed_at = ?
		WHERE id = ?
	`, h.Status, h.Response, h.ChosenOption, h.RespondedAt, h.ResumedAt, h.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *doltTx) GetHelpRequest(ctx context.Context, id string) (*types.HelpRequest, error) {
	return scanHelpRequest(ctx, t.tx, id)
}

func (t *doltTx) GetActiveHelpForTask(ctx context.Context, taskID string) (*types.HelpRequest, error) {
	return activeHelpForTask(ctx, t.tx, taskID)
}

func (t *doltTx) CreateLearning(ctx context.Context, l *types.Learning) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO learnings (id, task_id, content, source_task_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, l.ID, l.TaskID, l.Content, l.SourceTaskID, l.CreatedAt)
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	return err
}

func (t *doltTx) ListLearnings(ctx context.Context, taskID string) ([]*types.Learning, error) {
	rows, err := t.tx.QueryContext(ctx, learningSelectCols+" FROM learnings WHERE task_id = ? ORDER BY created_at ASC", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLearnings(rows)
}

func (t *doltTx) CreateSession(ctx context.Context, s *types.Session) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sessions (id, task_id, harness_id, status, started_at, last_heartbeat_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TaskID, s.HarnessID, s.Status, s.StartedAt, s.LastHeartbeatAt, s.CompletedAt, s.Error)
	if isDuplicateKey(err) {
		return storage.ErrConflict
	}
	return err
}

func (t *doltTx) UpdateSession(ctx context.Context, s *types.Session) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, last_heartbeat_at = ?, completed_at = ?, error = ?
		WHERE id = ?
	`, s.Status, s.LastHeartbeatAt, s.CompletedAt, s.Error, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *doltTx) GetActiveSessionForTask(ctx context.Context, taskID string) (*types.Session, error) {
	return activeSessionForTask(ctx, t.tx, taskID)
}

func (t *doltTx) PutHarness(ctx context.Context, h *types.Harness) error {
	capsJSON, err := json.Marshal(h.Capabilities)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO harnesses (id, capabilities, connected, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE capabilities = VALUES(capabilities), connected = VALUES(connected), last_seen_at = VALUES(last_seen_at)
	`, h.ID, capsJSON, h.Connected, h.LastSeenAt)
	return err
}

func (t *doltTx) PutRepo(ctx context.Context, r *types.Repo) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO repos (id, path, vcs_type, main_head, created_at, unregistered)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE path = VALUES(path), vcs_type = VALUES(vcs_type), main_head = VALUES(main_head), unregistered = VALUES(unregistered)
	`, r.ID, r.Path, r.VcsType, r.MainHead, r.CreatedAt, r.Unregistered)
	return err
}

// AllocateEventSeq locks the single event_seq row for the lifetime of
// the enclosing transaction, so two concurrent transactions can never
// observe or allocate the same sequence number -- the same role a
// dedicated counter row plays in the teacher's adaptive ID-length
// lookups (GetAdaptiveIDLengthTx), just for monotonic event ordering
// instead of ID collision avoidance.
func (t *doltTx) AllocateEventSeq(ctx context.Context) (uint64, error) {
	var current uint64
	if err := t.tx.QueryRowContext(ctx, `SELECT value FROM event_seq WHERE id = 1 FOR UPDATE`).Scan(&current); err != nil {
		return 0, fmt.Errorf("doltstore: lock event_seq: %w", err)
	}
	next := current + 1
	if _, err := t.tx.ExecContext(ctx, `UPDATE event_seq SET value = ? WHERE id = 1`, next); err != nil {
		return 0, fmt.Errorf("doltstore: advance event_seq: %w", err)
	}
	return next, nil
}

func (t *doltTx) AppendEvent(ctx context.Context, e *types.Event) error {
	if e.ID == "" {
		e.ID = ids.New(ids.Event)
	}
	bodyJSON, err := json.Marshal(e.Body)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO events (id, seq, type, at, correlation_id, source, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Seq, e.Type, e.At, e.CorrelationID, e.Source, bodyJSON)
	return err
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr interface{ Number() uint16 }
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number() == 1062
	}
	return strings.Contains(err.Error(), "Error 1062") || strings.Contains(err.Error(), "Duplicate entry")
}
