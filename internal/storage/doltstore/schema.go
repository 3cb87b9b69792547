package doltstore

import (
	"context"
	"database/sql"
)

// schemaStatements creates every table Overseer's entity model needs,
// each with `IF NOT EXISTS` so opening an already-initialized database
// is a no-op, the same idempotent-bootstrap idiom as the teacher's own
// initSchemaOnDB.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS repos (
		id VARCHAR(64) PRIMARY KEY,
		path TEXT NOT NULL,
		vcs_type VARCHAR(16) NOT NULL,
		main_head VARCHAR(128) NOT NULL,
		created_at DATETIME NOT NULL,
		unregistered BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id VARCHAR(64) PRIMARY KEY,
		repo_id VARCHAR(64) NOT NULL,
		parent_id VARCHAR(64) NOT NULL DEFAULT '',
		kind VARCHAR(16) NOT NULL,
		description TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		priority INT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME NULL,
		completed_at DATETIME NULL,
		INDEX idx_tasks_repo (repo_id),
		INDEX idx_tasks_parent (parent_id),
		INDEX idx_tasks_status (status)
	)`,
	`CREATE TABLE IF NOT EXISTS task_blockers (
		task_id VARCHAR(64) NOT NULL,
		blocker_id VARCHAR(64) NOT NULL,
		PRIMARY KEY (task_id, blocker_id)
	)`,
	`CREATE TABLE IF NOT EXISTS task_vcs (
		task_id VARCHAR(64) PRIMARY KEY,
		repo_id VARCHAR(64) NOT NULL,
		vcs_type VARCHAR(16) NOT NULL,
		ref_name VARCHAR(256) NOT NULL,
		change_id VARCHAR(128) NOT NULL DEFAULT '',
		base_commit VARCHAR(128) NOT NULL DEFAULT '',
		head_commit VARCHAR(128) NOT NULL DEFAULT '',
		start_commit VARCHAR(128) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		archived_at DATETIME NULL,
		INDEX idx_task_vcs_repo (repo_id)
	)`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id VARCHAR(64) PRIMARY KEY,
		task_id VARCHAR(64) NOT NULL,
		status VARCHAR(24) NOT NULL,
		submitted_at DATETIME NOT NULL,
		gates_completed_at DATETIME NULL,
		agent_completed_at DATETIME NULL,
		human_completed_at DATETIME NULL,
		INDEX idx_reviews_task (task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS review_comments (
		id VARCHAR(64) PRIMARY KEY,
		review_id VARCHAR(64) NOT NULL,
		task_id VARCHAR(64) NOT NULL,
		author VARCHAR(8) NOT NULL,
		file_path TEXT NOT NULL,
		line_start INT NULL,
		line_end INT NULL,
		side VARCHAR(8) NOT NULL,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME NULL,
		INDEX idx_comments_review (review_id)
	)`,
	`CREATE TABLE IF NOT EXISTS gates (
		id VARCHAR(64) PRIMARY KEY,
		scope_type VARCHAR(8) NOT NULL,
		scope_id VARCHAR(64) NOT NULL,
		name VARCHAR(128) NOT NULL,
		command TEXT NOT NULL,
		timeout_secs INT NOT NULL,
		max_retries INT NOT NULL,
		poll_interval_secs INT NOT NULL,
		max_pending_secs INT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uniq_gate_scope_name (scope_type, scope_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS gate_results (
		gate_id VARCHAR(64) NOT NULL,
		review_id VARCHAR(64) NOT NULL,
		attempt INT NOT NULL,
		task_id VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		stdout MEDIUMTEXT NOT NULL,
		stderr MEDIUMTEXT NOT NULL,
		exit_code INT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME NULL,
		PRIMARY KEY (gate_id, review_id, attempt)
	)`,
	`CREATE TABLE IF NOT EXISTS help_requests (
		id VARCHAR(64) PRIMARY KEY,
		task_id VARCHAR(64) NOT NULL,
		from_status VARCHAR(16) NOT NULL,
		category VARCHAR(32) NOT NULL,
		reason TEXT NOT NULL,
		suggested_options JSON NOT NULL,
		status VARCHAR(16) NOT NULL,
		response TEXT NOT NULL DEFAULT '',
		chosen_option INT NULL,
		created_at DATETIME NOT NULL,
		responded_at DATETIME NULL,
		resumed_at DATETIME NULL,
		INDEX idx_help_task (task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS learnings (
		id VARCHAR(64) PRIMARY KEY,
		task_id VARCHAR(64) NOT NULL,
		content TEXT NOT NULL,
		source_task_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		INDEX idx_learnings_task (task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id VARCHAR(64) PRIMARY KEY,
		seq BIGINT NOT NULL UNIQUE,
		type VARCHAR(32) NOT NULL,
		at DATETIME NOT NULL,
		correlation_id VARCHAR(64) NOT NULL DEFAULT '',
		source VARCHAR(8) NOT NULL,
		body JSON NOT NULL,
		INDEX idx_events_seq (seq)
	)`,
	`CREATE TABLE IF NOT EXISTS event_seq (
		id INT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id VARCHAR(64) PRIMARY KEY,
		task_id VARCHAR(64) NOT NULL,
		harness_id VARCHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL,
		started_at DATETIME NOT NULL,
		last_heartbeat_at DATETIME NULL,
		completed_at DATETIME NULL,
		error TEXT NOT NULL DEFAULT '',
		INDEX idx_sessions_task (task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS harnesses (
		id VARCHAR(64) PRIMARY KEY,
		capabilities JSON NOT NULL,
		connected BOOLEAN NOT NULL DEFAULT FALSE,
		last_seen_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_entries (
		idem_key VARCHAR(128) NOT NULL,
		scope_hash VARCHAR(128) NOT NULL,
		method VARCHAR(16) NOT NULL,
		path VARCHAR(256) NOT NULL,
		request_hash VARCHAR(128) NOT NULL,
		response_status INT NOT NULL,
		response_body MEDIUMBLOB NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		PRIMARY KEY (idem_key, scope_hash),
		INDEX idx_idempotency_expires (expires_at)
	)`,
}

// initSchema runs every statement in schemaStatements and seeds the
// event sequence counter's single row if absent.
func initSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := db.ExecContext(ctx, `INSERT INTO event_seq (id, value) VALUES (1, 0)
		ON DUPLICATE KEY UPDATE id = id`)
	return err
}
