// Package doltstore implements storage.Store against an embedded Dolt
// database, grounded on the teacher's internal/storage/dolt package
// (DoltStore, Config, openEmbeddedConnection) but trimmed to the
// single-process embedded mode SPEC_FULL.md's scope calls for --
// server-mode federation, the advisory flock, branch-per-polecat, and
// the watchdog are beads-specific multi-process concerns Overseer has
// no operation that exercises.
package doltstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	embedded "github.com/dolthub/driver"
	_ "github.com/go-sql-driver/mysql"

	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// Config configures an embedded Dolt database directory.
type Config struct {
	Path           string // directory holding the Dolt database
	Database       string // database name within Dolt, default "overseer"
	CommitterName  string
	CommitterEmail string
}

// Store implements storage.Store against an embedded Dolt database.
type Store struct {
	db        *sql.DB
	connector *embedded.Connector
	closed    atomic.Bool
}

// Open creates the database if needed, runs schema bootstrap, and
// returns a ready Store. It mirrors the teacher's two-unit-of-work
// embedded open (create database, then init schema, then open the
// connection the returned store actually uses) so a canceled schema
// migration never poisons the connection pool the store hands out
// afterward.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Database == "" {
		cfg.Database = "overseer"
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = "overseer"
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = "overseer@localhost"
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("doltstore: resolve path: %w", err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", absPath, cfg.CommitterName, cfg.CommitterEmail)
	if err := withEmbedded(ctx, initDSN, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
		return err
	}); err != nil {
		return nil, fmt.Errorf("doltstore: create database: %w", err)
	}

	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s", absPath, cfg.CommitterName, cfg.CommitterEmail, cfg.Database)
	if err := withEmbedded(ctx, dbDSN, initSchema); err != nil {
		return nil, fmt.Errorf("doltstore: init schema: %w", err)
	}

	openCfg, err := embedded.ParseDSN(dbDSN)
	if err != nil {
		return nil, fmt.Errorf("doltstore: parse dsn: %w", err)
	}
	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, fmt.Errorf("doltstore: new connector: %w", err)
	}
	db := sql.OpenDB(connector)
	// Dolt embedded mode is single-writer, same as the teacher's own
	// embedded-mode pool sizing.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("doltstore: ping: %w", err)
	}

	return &Store{db: db, connector: connector}, nil
}

// withEmbedded opens a short-lived connector against dsn, runs fn, and
// tears the connector down -- the unit-of-work helper the teacher uses
// for database-creation and schema-init passes that must not poison the
// long-lived connector the returned store will actually serve from.
func withEmbedded(ctx context.Context, dsn string, fn func(ctx context.Context, db *sql.DB) error) error {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return err
	}
	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return err
	}
	db := sql.OpenDB(connector)
	defer func() {
		_ = db.Close()
		_ = connector.Close()
	}()
	return fn(ctx, db)
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.db.Close()
	if cerr := s.connector.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	return scanTask(ctx, s.db, id)
}

func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) ([]*types.Task, error) {
	where, args := taskFilterSQL(f)
	rows, err := s.db.QueryContext(ctx, taskSelectCols+" FROM tasks"+where+" ORDER BY created_at ASC", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *Store) ListBlockers(ctx context.Context, taskID string) ([]string, error) {
	return listBlockers(ctx, s.db, taskID)
}

func (s *Store) BlockedByIndex(ctx context.Context, repoID string) (map[string][]string, error) {
	return blockedByIndex(ctx, s.db, repoID)
}

func (s *Store) GetTaskVcs(ctx context.Context, taskID string) (*types.TaskVcs, error) {
	return scanTaskVcs(ctx, s.db, taskID)
}

func (s *Store) ListTaskVcs(ctx context.Context, repoID string) ([]*types.TaskVcs, error) {
	rows, err := s.db.QueryContext(ctx, taskVcsSelectCols+" FROM task_vcs WHERE repo_id = ?", repoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTaskVcsRows(rows)
}

func (s *Store) GetReview(ctx context.Context, id string) (*types.Review, error) {
	return scanReview(ctx, s.db, id)
}

func (s *Store) GetActiveReviewForTask(ctx context.Context, taskID string) (*types.Review, error) {
	return activeReviewForTask(ctx, s.db, taskID)
}

func (s *Store) ListReviewsForTask(ctx context.Context, taskID string) ([]*types.Review, error) {
	rows, err := s.db.QueryContext(ctx, reviewSelectCols+" FROM reviews WHERE task_id = ? ORDER BY submitted_at ASC", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviews(rows)
}

func (s *Store) ListComments(ctx context.Context, reviewID string) ([]*types.ReviewComment, error) {
	rows, err := s.db.QueryContext(ctx, commentSelectCols+" FROM review_comments WHERE review_id = ? ORDER BY created_at ASC", reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanComments(rows)
}

func (s *Store) GetGate(ctx context.Context, id string) (*types.Gate, error) {
	return scanGate(ctx, s.db, id)
}

func (s *Store) ListGates(ctx context.Context, scopeType types.GateScopeType, scopeID string) ([]*types.Gate, error) {
	rows, err := s.db.QueryContext(ctx, gateSelectCols+" FROM gates WHERE scope_type = ? AND scope_id = ?", scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGates(rows)
}

func (s *Store) ListGateResults(ctx context.Context, reviewID string) ([]*types.GateResult, error) {
	rows, err := s.db.QueryContext(ctx, gateResultSelectCols+" FROM gate_results WHERE review_id = ?", reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGateResults(rows)
}

func (s *Store) LatestGateResult(ctx context.Context, gateID, reviewID string) (*types.GateResult, error) {
	return latestGateResult(ctx, s.db, gateID, reviewID)
}

func (s *Store) GetHelpRequest(ctx context.Context, id string) (*types.HelpRequest, error) {
	return scanHelpRequest(ctx, s.db, id)
}

func (s *Store) GetActiveHelpForTask(ctx context.Context, taskID string) (*types.HelpRequest, error) {
	return activeHelpForTask(ctx, s.db, taskID)
}

func (s *Store) ListHelpForTask(ctx context.Context, taskID string) ([]*types.HelpRequest, error) {
	rows, err := s.db.QueryContext(ctx, helpSelectCols+" FROM help_requests WHERE task_id = ? ORDER BY created_at ASC", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHelpRequests(rows)
}

func (s *Store) ListLearnings(ctx context.Context, taskID string) ([]*types.Learning, error) {
	rows, err := s.db.QueryContext(ctx, learningSelectCols+" FROM learnings WHERE task_id = ? ORDER BY created_at ASC", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLearnings(rows)
}

func (s *Store) GetEventsFromSeq(ctx context.Context, sinceSeq uint64, limit int) ([]*types.Event, error) {
	query := eventSelectCols + " FROM events WHERE seq > ? ORDER BY seq ASC"
	args := []any{sinceSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) GetEventsRange(ctx context.Context, fromSeq, toSeq uint64) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, eventSelectCols+" FROM events WHERE seq >= ? AND seq <= ? ORDER BY seq ASC", fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	return scanSession(ctx, s.db, id)
}

func (s *Store) GetActiveSessionForTask(ctx context.Context, taskID string) (*types.Session, error) {
	return activeSessionForTask(ctx, s.db, taskID)
}

func (s *Store) GetHarness(ctx context.Context, id string) (*types.Harness, error) {
	return scanHarness(ctx, s.db, id)
}

func (s *Store) ListHarnesses(ctx context.Context) ([]*types.Harness, error) {
	rows, err := s.db.QueryContext(ctx, harnessSelectCols+" FROM harnesses")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHarnesses(rows)
}

func (s *Store) GetRepo(ctx context.Context, id string) (*types.Repo, error) {
	return scanRepo(ctx, s.db, id)
}

func (s *Store) ListRepos(ctx context.Context) ([]*types.Repo, error) {
	rows, err := s.db.QueryContext(ctx, repoSelectCols+" FROM repos WHERE unregistered = FALSE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRepos(rows)
}

func (s *Store) GetIdempotency(ctx context.Context, key, scopeHash string) (*types.IdempotencyEntry, error) {
	return scanIdempotency(ctx, s.db, key, scopeHash)
}

func (s *Store) PutIdempotency(ctx context.Context, e *types.IdempotencyEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_entries (idem_key, scope_hash, method, path, request_hash, response_status, response_body, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE method = VALUES(method), path = VALUES(path), request_hash = VALUES(request_hash),
			response_status = VALUES(response_status), response_body = VALUES(response_body),
			created_at = VALUES(created_at), expires_at = VALUES(expires_at)
	`, e.Key, e.ScopeHash, e.Method, e.Path, e.RequestHash, e.ResponseStatus, e.ResponseBody, e.CreatedAt, e.ExpiresAt)
	return err
}

func (s *Store) CleanupIdempotency(ctx context.Context, now int64) (int, error) {
	cutoff := time.Unix(now, 0).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_entries WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
