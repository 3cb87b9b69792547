// Package storage defines Overseer's Store contract: single-writer
// transactional tabular storage with monotonic event sequence
// allocation (spec.md §4.1). Two implementations satisfy this
// interface: memstore, an in-process map-backed store used by the
// engine's own tests, and doltstore, a Dolt/MySQL-backed store for
// production use, grounded on the teacher's storage.Storage interface
// (internal/storage/storage.go) and its dolt-backed driver wiring
// (internal/storage/dolt/open.go).
package storage

import (
	"context"
	"errors"

	"github.com/overseer-dev/overseer/internal/types"
)

// Sentinel errors matched with errors.Is by callers throughout the
// engine; they map onto spec.md §6's error taxonomy at the transport
// boundary (not owned by this package).
var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: conflict")
	ErrStorage  = errors.New("storage: I/O fault")
)

// TaskFilter narrows ListTasks. Zero values mean "unconstrained".
type TaskFilter struct {
	RepoID   string
	Status   types.TaskStatus
	ParentID string
	HasParentFilter bool
}

// Store is the persistence surface the whole engine is built on. Reads
// may run concurrently with each other and with the active write
// transaction (read-committed); writes are serialized by
// RunInTransaction.
type Store interface {
	// RunInTransaction executes fn inside a single write transaction.
	// The transaction commits if fn returns nil and rolls back
	// otherwise (including panics, which are re-raised after
	// rollback). Both entity mutation and event append happen inside
	// this one transaction per spec.md §4.1.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error

	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]*types.Task, error)
	ListBlockers(ctx context.Context, taskID string) ([]string, error)
	// BlockedByIndex returns, for every task in repoID, the set of ids
	// that block it -- used by the task engine's cycle-detection DFS
	// (spec.md §4.3) without one round-trip per node.
	BlockedByIndex(ctx context.Context, repoID string) (map[string][]string, error)

	GetTaskVcs(ctx context.Context, taskID string) (*types.TaskVcs, error)
	ListTaskVcs(ctx context.Context, repoID string) ([]*types.TaskVcs, error)

	GetReview(ctx context.Context, id string) (*types.Review, error)
	GetActiveReviewForTask(ctx context.Context, taskID string) (*types.Review, error)
	ListReviewsForTask(ctx context.Context, taskID string) ([]*types.Review, error)
	ListComments(ctx context.Context, reviewID string) ([]*types.ReviewComment, error)

	GetGate(ctx context.Context, id string) (*types.Gate, error)
	ListGates(ctx context.Context, scopeType types.GateScopeType, scopeID string) ([]*types.Gate, error)
	ListGateResults(ctx context.Context, reviewID string) ([]*types.GateResult, error)
	LatestGateResult(ctx context.Context, gateID, reviewID string) (*types.GateResult, error)

	GetHelpRequest(ctx context.Context, id string) (*types.HelpRequest, error)
	GetActiveHelpForTask(ctx context.Context, taskID string) (*types.HelpRequest, error)
	ListHelpForTask(ctx context.Context, taskID string) ([]*types.HelpRequest, error)

	ListLearnings(ctx context.Context, taskID string) ([]*types.Learning, error)

	GetEventsFromSeq(ctx context.Context, sinceSeq uint64, limit int) ([]*types.Event, error)
	GetEventsRange(ctx context.Context, fromSeq, toSeq uint64) ([]*types.Event, error)

	GetSession(ctx context.Context, id string) (*types.Session, error)
	GetActiveSessionForTask(ctx context.Context, taskID string) (*types.Session, error)
	GetHarness(ctx context.Context, id string) (*types.Harness, error)
	ListHarnesses(ctx context.Context) ([]*types.Harness, error)

	GetRepo(ctx context.Context, id string) (*types.Repo, error)
	ListRepos(ctx context.Context) ([]*types.Repo, error)

	GetIdempotency(ctx context.Context, key, scopeHash string) (*types.IdempotencyEntry, error)
	PutIdempotency(ctx context.Context, e *types.IdempotencyEntry) error
	CleanupIdempotency(ctx context.Context, now int64) (int, error)
}

// Tx is the subset of mutating operations executable within one write
// transaction, plus event append and seq allocation. Implementations
// must make AllocateEventSeq/AppendEvent atomic with every other
// mutation performed on the same Tx (spec.md §4.1, §9 "Event bus vs
// database writes").
type Tx interface {
	CreateTask(ctx context.Context, t *types.Task) error
	UpdateTask(ctx context.Context, t *types.Task) error
	DeleteTask(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (*types.Task, error)
	ListBlockers(ctx context.Context, taskID string) ([]string, error)
	BlockedByIndex(ctx context.Context, repoID string) (map[string][]string, error)
	AddBlocker(ctx context.Context, taskID, blockerID string) error
	RemoveBlocker(ctx context.Context, taskID, blockerID string) error

	PutTaskVcs(ctx context.Context, v *types.TaskVcs) error
	GetTaskVcs(ctx context.Context, taskID string) (*types.TaskVcs, error)

	CreateReview(ctx context.Context, r *types.Review) error
	UpdateReview(ctx context.Context, r *types.Review) error
	GetReview(ctx context.Context, id string) (*types.Review, error)
	AddComment(ctx context.Context, c *types.ReviewComment) error
	ResolveComment(ctx context.Context, id string) error
	GetComment(ctx context.Context, id string) (*types.ReviewComment, error)

	CreateGate(ctx context.Context, g *types.Gate) error
	UpdateGate(ctx context.Context, g *types.Gate) error
	DeleteGate(ctx context.Context, id string) error
	GetGate(ctx context.Context, id string) (*types.Gate, error)
	ListGates(ctx context.Context, scopeType types.GateScopeType, scopeID string) ([]*types.Gate, error)
	PutGateResult(ctx context.Context, r *types.GateResult) error
	LatestGateResult(ctx context.Context, gateID, reviewID string) (*types.GateResult, error)

	CreateHelpRequest(ctx context.Context, h *types.HelpRequest) error
	UpdateHelpRequest(ctx context.Context, h *types.HelpRequest) error
	GetHelpRequest(ctx context.Context, id string) (*types.HelpRequest, error)
	GetActiveHelpForTask(ctx context.Context, taskID string) (*types.HelpRequest, error)

	CreateLearning(ctx context.Context, l *types.Learning) error
	ListLearnings(ctx context.Context, taskID string) ([]*types.Learning, error)

	CreateSession(ctx context.Context, s *types.Session) error
	UpdateSession(ctx context.Context, s *types.Session) error
	GetActiveSessionForTask(ctx context.Context, taskID string) (*types.Session, error)
	PutHarness(ctx context.Context, h *types.Harness) error

	PutRepo(ctx context.Context, r *types.Repo) error

	AllocateEventSeq(ctx context.Context) (uint64, error)
	AppendEvent(ctx context.Context, e *types.Event) error
}
