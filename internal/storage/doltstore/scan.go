package doltstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// queryer is satisfied by both *sql.DB and *sql.Tx, so every scan
// helper below works identically whether called from a read-only Store
// method or from inside doltTransaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const taskSelectCols = `SELECT id, repo_id, parent_id, kind, description, context, priority, status, created_at, updated_at, started_at, completed_at`

func scanTaskRow(row *sql.Row) (*types.Task, error) {
	var t types.Task
	var parentID sql.NullString
	var context sql.NullString
	if err := row.Scan(&t.ID, &t.RepoID, &parentID, &t.Kind, &t.Description, &context, &t.Priority, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	t.ParentID = parentID.String
	t.Context = context.String
	return &t, nil
}

func scanTask(ctx context.Context, q queryer, id string) (*types.Task, error) {
	row := q.QueryRowContext(ctx, taskSelectCols+" FROM tasks WHERE id = ?", id)
	t, err := scanTaskRow(row)
	if err != nil {
		return nil, err
	}
	blockers, err := listBlockers(ctx, q, id)
	if err != nil {
		return nil, err
	}
	t.BlockedBy = blockers
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var out []*types.Task
	for rows.Next() {
		var t types.Task
		var parentID, context sql.NullString
		if err := rows.Scan(&t.ID, &t.RepoID, &parentID, &t.Kind, &t.Description, &context, &t.Priority, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.StartedAt, &t.CompletedAt); err != nil {
			return nil, err
		}
		t.ParentID = parentID.String
		t.Context = context.String
		out = append(out, &t)
	}
	return out, rows.Err()
}

func taskFilterSQL(f storage.TaskFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.RepoID != "" {
		clauses = append(clauses, "repo_id = ?")
		args = append(args, f.RepoID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.HasParentFilter {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, f.ParentID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	where := " WHERE "
	for i, c := range clauses {
		if i > 0 {
			where += " AND "
		}
		where += c
	}
	return where, args
}

func listBlockers(ctx context.Context, q queryer, taskID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT blocker_id FROM task_blockers WHERE task_id = ?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func blockedByIndex(ctx context.Context, q queryer, repoID string) (map[string][]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT tb.task_id, tb.blocker_id
		FROM task_blockers tb
		JOIN tasks t ON t.id = tb.task_id
		WHERE t.repo_id = ?
	`, repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var taskID, blockerID string
		if err := rows.Scan(&taskID, &blockerID); err != nil {
			return nil, err
		}
		out[taskID] = append(out[taskID], blockerID)
	}
	return out, rows.Err()
}

const taskVcsSelectCols = `SELECT task_id, repo_id, vcs_type, ref_name, change_id, base_commit, head_commit, start_commit, created_at, updated_at, archived_at`

func scanTaskVcs(ctx context.Context, q queryer, taskID string) (*types.TaskVcs, error) {
	row := q.QueryRowContext(ctx, taskVcsSelectCols+" FROM task_vcs WHERE task_id = ?", taskID)
	var v types.TaskVcs
	if err := row.Scan(&v.TaskID, &v.RepoID, &v.VcsType, &v.RefName, &v.ChangeID, &v.BaseCommit, &v.HeadCommit, &v.StartCommit, &v.CreatedAt, &v.UpdatedAt, &v.ArchivedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func scanTaskVcsRows(rows *sql.Rows) ([]*types.TaskVcs, error) {
	var out []*types.TaskVcs
	for rows.Next() {
		var v types.TaskVcs
		if err := rows.Scan(&v.TaskID, &v.RepoID, &v.VcsType, &v.RefName, &v.ChangeID, &v.BaseCommit, &v.HeadCommit, &v.StartCommit, &v.CreatedAt, &v.UpdatedAt, &v.ArchivedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

const reviewSelectCols = `SELECT id, task_id, status, submitted_at, gates_completed_at, agent_completed_at, human_completed_at`

func scanReviewRow(row *sql.Row) (*types.Review, error) {
	var r types.Review
	if err := row.Scan(&r.ID, &r.TaskID, &r.Status, &r.SubmittedAt, &r.GatesCompletedAt, &r.AgentCompletedAt, &r.HumanCompletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanReview(ctx context.Context, q queryer, id string) (*types.Review, error) {
	return scanReviewRow(q.QueryRowContext(ctx, reviewSelectCols+" FROM reviews WHERE id = ?", id))
}

func scanReviews(rows *sql.Rows) ([]*types.Review, error) {
	var out []*types.Review
	for rows.Next() {
		var r types.Review
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Status, &r.SubmittedAt, &r.GatesCompletedAt, &r.AgentCompletedAt, &r.HumanCompletedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func activeReviewForTask(ctx context.Context, q queryer, taskID string) (*types.Review, error) {
	rows, err := q.QueryContext(ctx, reviewSelectCols+" FROM reviews WHERE task_id = ?", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	reviews, err := scanReviews(rows)
	if err != nil {
		return nil, err
	}
	for _, r := range reviews {
		if !r.Status.Terminal() {
			return r, nil
		}
	}
	return nil, storage.ErrNotFound
}

const commentSelectCols = `SELECT id, review_id, task_id, author, file_path, line_start, line_end, side, body, created_at, resolved_at`

func scanComments(rows *sql.Rows) ([]*types.ReviewComment, error) {
	var out []*types.ReviewComment
	for rows.Next() {
		var c types.ReviewComment
		if err := rows.Scan(&c.ID, &c.ReviewID, &c.TaskID, &c.Author, &c.FilePath, &c.LineStart, &c.LineEnd, &c.Side, &c.Body, &c.CreatedAt, &c.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func scanComment(ctx context.Context, q queryer, id string) (*types.ReviewComment, error) {
	row := q.QueryRowContext(ctx, commentSelectCols+" FROM review_comments WHERE id = ?", id)
	var c types.ReviewComment
	if err := row.Scan(&c.ID, &c.ReviewID, &c.TaskID, &c.Author, &c.FilePath, &c.LineStart, &c.LineEnd, &c.Side, &c.Body, &c.CreatedAt, &c.ResolvedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

const gateSelectCols = `SELECT id, scope_type, scope_id, name, command, timeout_secs, max_retries, poll_interval_secs, max_pending_secs, created_at, updated_at`

func scanGate(ctx context.Context, q queryer, id string) (*types.Gate, error) {
	row := q.QueryRowContext(ctx, gateSelectCols+" FROM gates WHERE id = ?", id)
	var g types.Gate
	if err := row.Scan(&g.ID, &g.ScopeType, &g.ScopeID, &g.Name, &g.Command, &g.TimeoutSecs, &g.MaxRetries, &g.PollIntervalSecs, &g.MaxPendingSecs, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func scanGates(rows *sql.Rows) ([]*types.Gate, error) {
	var out []*types.Gate
	for rows.Next() {
		var g types.Gate
		if err := rows.Scan(&g.ID, &g.ScopeType, &g.ScopeID, &g.Name, &g.Command, &g.TimeoutSecs, &g.MaxRetries, &g.PollIntervalSecs, &g.MaxPendingSecs, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

const gateResultSelectCols = `SELECT gate_id, review_id, attempt, task_id, status, stdout, stderr, exit_code, started_at, completed_at`

func scanGateResults(rows *sql.Rows) ([]*types.GateResult, error) {
	var out []*types.GateResult
	for rows.Next() {
		var r types.GateResult
		if err := rows.Scan(&r.GateID, &r.ReviewID, &r.Attempt, &r.TaskID, &r.Status, &r.Stdout, &r.Stderr, &r.ExitCode, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func latestGateResult(ctx context.Context, q queryer, gateID, reviewID string) (*types.GateResult, error) {
	row := q.QueryRowContext(ctx, gateResultSelectCols+` FROM gate_results WHERE gate_id = ? AND review_id = ? ORDER BY attempt DESC LIMIT 1`, gateID, reviewID)
	var r types.GateResult
	if err := row.Scan(&r.GateID, &r.ReviewID, &r.Attempt, &r.TaskID, &r.Status, &r.Stdout, &r.Stderr, &r.ExitCode, &r.StartedAt, &r.CompletedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

const helpSelectCols = `SELECT id, task_id, from_status, category, reason, suggested_options, status, response, chosen_option, created_at, responded_at, resumed_at`

func scanHelpRequestRow(row *sql.Row) (*types.HelpRequest, error) {
	var h types.HelpRequest
	var optionsJSON string
	if err := row.Scan(&h.ID, &h.TaskID, &h.FromStatus, &h.Category, &h.Reason, &optionsJSON, &h.Status, &h.Response, &h.ChosenOption, &h.CreatedAt, &h.RespondedAt, &h.ResumedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(optionsJSON), &h.SuggestedOptions); err != nil {
		return nil, fmt.Errorf("doltstore: decode suggested_options: %w", err)
	}
	return &h, nil
}

func scanHelpRequest(ctx context.Context, q queryer, id string) (*types.HelpRequest, error) {
	return scanHelpRequestRow(q.QueryRowContext(ctx, helpSelectCols+" FROM help_requests WHERE id = ?", id))
}

func scanHelpRequests(rows *sql.Rows) ([]*types.HelpRequest, error) {
	var out []*types.HelpRequest
	for rows.Next() {
		var h types.HelpRequest
		var optionsJSON string
		if err := rows.Scan(&h.ID, &h.TaskID, &h.FromStatus, &h.Category, &h.Reason, &optionsJSON, &h.Status, &h.Response, &h.ChosenOption, &h.CreatedAt, &h.RespondedAt, &h.ResumedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(optionsJSON), &h.SuggestedOptions); err != nil {
			return nil, fmt.Errorf("doltstore: decode suggested_options: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

func activeHelpForTask(ctx context.Context, q queryer, taskID string) (*types.HelpRequest, error) {
	rows, err := q.QueryContext(ctx, helpSelectCols+" FROM help_requests WHERE task_id = ?", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	reqs, err := scanHelpRequests(rows)
	if err != nil {
		return nil, err
	}
	for _, h := range reqs {
		if h.Status == types.HelpPending || h.Status == types.HelpResponded {
			return h, nil
		}
	}
	return nil, storage.ErrNotFound
}

const learningSelectCols = `SELECT id, task_id, content, source_task_id, created_at`

func scanLearnings(rows *sql.Rows) ([]*types.Learning, error) {
	var out []*types.Learning
	for rows.Next() {
		var l types.Learning
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Content, &l.SourceTaskID, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

const eventSelectCols = `SELECT id, seq, type, at, correlation_id, source, body`

func scanEvents(rows *sql.Rows) ([]*types.Event, error) {
	var out []*types.Event
	for rows.Next() {
		var e types.Event
		var bodyJSON string
		if err := rows.Scan(&e.ID, &e.Seq, &e.Type, &e.At, &e.CorrelationID, &e.Source, &bodyJSON); err != nil {
			return nil, err
		}
		if bodyJSON != "" {
			if err := json.Unmarshal([]byte(bodyJSON), &e.Body); err != nil {
				return nil, fmt.Errorf("doltstore: decode event body: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

const sessionSelectCols = `SELECT id, task_id, harness_id, status, started_at, last_heartbeat_at, completed_at, error`

func scanSessionRow(row *sql.Row) (*types.Session, error) {
	var s types.Session
	if err := row.Scan(&s.ID, &s.TaskID, &s.HarnessID, &s.Status, &s.StartedAt, &s.LastHeartbeatAt, &s.CompletedAt, &s.Error); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanSession(ctx context.Context, q queryer, id string) (*types.Session, error) {
	return scanSessionRow(q.QueryRowContext(ctx, sessionSelectCols+" FROM sessions WHERE id = ?", id))
}

func scanSessions(rows *sql.Rows) ([]*types.Session, error) {
	var out []*types.Session
	for rows.Next() {
		var s types.Session
		if err := rows.Scan(&s.ID, &s.TaskID, &s.HarnessID, &s.Status, &s.StartedAt, &s.LastHeartbeatAt, &s.CompletedAt, &s.Error); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func activeSessionForTask(ctx context.Context, q queryer, taskID string) (*types.Session, error) {
	rows, err := q.QueryContext(ctx, sessionSelectCols+" FROM sessions WHERE task_id = ?", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sessions, err := scanSessions(rows)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if !s.Status.Terminal() {
			return s, nil
		}
	}
	return nil, storage.ErrNotFound
}

const harnessSelectCols = `SELECT id, capabilities, connected, last_seen_at`

func scanHarness(ctx context.Context, q queryer, id string) (*types.Harness, error) {
	row := q.QueryRowContext(ctx, harnessSelectCols+" FROM harnesses WHERE id = ?", id)
	var h types.Harness
	var capsJSON string
	if err := row.Scan(&h.ID, &capsJSON, &h.Connected, &h.LastSeenAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(capsJSON), &h.Capabilities); err != nil {
		return nil, fmt.Errorf("doltstore: decode capabilities: %w", err)
	}
	return &h, nil
}

func scanHarnesses(rows *sql.Rows) ([]*types.Harness, error) {
	var out []*types.Harness
	for rows.Next() {
		var h types.Harness
		var capsJSON string
		if err := rows.Scan(&h.ID, &capsJSON, &h.Connected, &h.LastSeenAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(capsJSON), &h.Capabilities); err != nil {
			return nil, fmt.Errorf("doltstore: decode capabilities: %w", err)
		}
		out = append(out, &h)
	}
	return out, rows.Err()
}

const repoSelectCols = `SELECT id, path, vcs_type, main_head, created_at, unregistered`

func scanRepo(ctx context.Context, q queryer, id string) (*types.Repo, error) {
	row := q.QueryRowContext(ctx, repoSelectCols+" FROM repos WHERE id = ?", id)
	var r types.Repo
	if err := row.Scan(&r.ID, &r.Path, &r.VcsType, &r.MainHead, &r.CreatedAt, &r.Unregistered); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func scanRepos(rows *sql.Rows) ([]*types.Repo, error) {
	var out []*types.Repo
	for rows.Next() {
		var r types.Repo
		if err := rows.Scan(&r.ID, &r.Path, &r.VcsType, &r.MainHead, &r.CreatedAt, &r.Unregistered); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func scanIdempotency(ctx context.Context, q queryer, key, scopeHash string) (*types.IdempotencyEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT idem_key, method, path, scope_hash, request_hash, response_status, response_body, created_at, expires_at
		FROM idempotency_entries WHERE idem_key = ? AND scope_hash = ?
	`, key, scopeHash)
	var e types.IdempotencyEntry
	if err := row.Scan(&e.Key, &e.Method, &e.Path, &e.ScopeHash, &e.RequestHash, &e.ResponseStatus, &e.ResponseBody, &e.CreatedAt, &e.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
