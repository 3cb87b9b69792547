// Package memstore is an in-process, map-backed implementation of
// storage.Store. It is the store the engine's own unit tests run
// against, the same role beads' fake Storage implementations play in
// its own internal/*/  tests -- read-committed, single-writer,
// serialized by one mutex, values copied in and out so callers can
// never observe or corrupt another goroutine's in-flight mutation.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/overseer-dev/overseer/internal/ids"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
)

// Store is the in-memory storage.Store implementation.
type Store struct {
	mu sync.Mutex // single-writer lane; held for the duration of RunInTransaction

	tasks    map[string]*types.Task
	blockers map[string]map[string]bool // taskID -> set of blocker ids
	taskVcs  map[string]*types.TaskVcs

	reviews  map[string]*types.Review
	comments map[string]*types.ReviewComment

	gates       map[string]*types.Gate
	gateResults map[gateResultKey]*types.GateResult

	helps     map[string]*types.HelpRequest
	learnings map[string]*types.Learning

	events  []*types.Event
	nextSeq uint64

	sessions  map[string]*types.Session
	harnesses map[string]*types.Harness
	repos     map[string]*types.Repo

	idempotency map[idemKey]*types.IdempotencyEntry
}

type gateResultKey struct {
	gateID, reviewID string
	attempt          int
}

type idemKey struct{ key, scopeHash string }

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:       map[string]*types.Task{},
		blockers:    map[string]map[string]bool{},
		taskVcs:     map[string]*types.TaskVcs{},
		reviews:     map[string]*types.Review{},
		comments:    map[string]*types.ReviewComment{},
		gates:       map[string]*types.Gate{},
		gateResults: map[gateResultKey]*types.GateResult{},
		helps:       map[string]*types.HelpRequest{},
		learnings:   map[string]*types.Learning{},
		sessions:    map[string]*types.Session{},
		harnesses:   map[string]*types.Harness{},
		repos:       map[string]*types.Repo{},
		idempotency: map[idemKey]*types.IdempotencyEntry{},
	}
}

func (s *Store) Close() error { return nil }

// RunInTransaction holds the store mutex for the duration of fn,
// giving the single-writer semantics spec.md §4.1 and §5 require. A
// panic inside fn propagates after the mutex is released, matching the
// panic-safe defer-rollback idiom in the teacher's own
// storage/sqlite/transaction.go.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Snapshot everything mutable so a returned error rolls back
	// cleanly without partial writes leaking into the store.
	snapshot := s.snapshot()
	tx := &txn{s: s}

	defer func() {
		if r := recover(); r != nil {
			s.restore(snapshot)
			panic(r)
		}
	}()

	if err = fn(tx); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type stateSnapshot struct {
	tasks       map[string]*types.Task
	blockers    map[string]map[string]bool
	taskVcs     map[string]*types.TaskVcs
	reviews     map[string]*types.Review
	comments    map[string]*types.ReviewComment
	gates       map[string]*types.Gate
	gateResults map[gateResultKey]*types.GateResult
	helps       map[string]*types.HelpRequest
	learnings   map[string]*types.Learning
	events      []*types.Event
	nextSeq     uint64
	sessions    map[string]*types.Session
	harnesses   map[string]*types.Harness
	repos       map[string]*types.Repo
	idempotency map[idemKey]*types.IdempotencyEntry
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) snapshot() stateSnapshot {
	blockers := make(map[string]map[string]bool, len(s.blockers))
	for k, v := range s.blockers {
		blockers[k] = cloneMap(v)
	}
	events := make([]*types.Event, len(s.events))
	copy(events, s.events)
	return stateSnapshot{
		tasks:       cloneMap(s.tasks),
		blockers:    blockers,
		taskVcs:     cloneMap(s.taskVcs),
		reviews:     cloneMap(s.reviews),
		comments:    cloneMap(s.comments),
		gates:       cloneMap(s.gates),
		gateResults: cloneMap(s.gateResults),
		helps:       cloneMap(s.helps),
		learnings:   cloneMap(s.learnings),
		events:      events,
		nextSeq:     s.nextSeq,
		sessions:    cloneMap(s.sessions),
		harnesses:   cloneMap(s.harnesses),
		repos:       cloneMap(s.repos),
		idempotency: cloneMap(s.idempotency),
	}
}

func (s *Store) restore(snap stateSnapshot) {
	s.tasks = snap.tasks
	s.blockers = snap.blockers
	s.taskVcs = snap.taskVcs
	s.reviews = snap.reviews
	s.comments = snap.comments
	s.gates = snap.gates
	s.gateResults = snap.gateResults
	s.helps = snap.helps
	s.learnings = snap.learnings
	s.events = snap.events
	s.nextSeq = snap.nextSeq
	s.sessions = snap.sessions
	s.harnesses = snap.harnesses
	s.repos = snap.repos
	s.idempotency = snap.idempotency
}

// --- read-only Store methods (safe to call without the write lane;
// this map-backed implementation still takes the mutex briefly to
// avoid racing with an in-flight writer copying maps around) ---

func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTasks(ctx context.Context, f storage.TaskFilter) ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Task
	for _, t := range s.tasks {
		if f.RepoID != "" && t.RepoID != f.RepoID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.HasParentFilter && t.ParentID != f.ParentID {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) ListBlockers(ctx context.Context, taskID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id := range s.blockers[taskID] {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) BlockedByIndex(ctx context.Context, repoID string) (map[string][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string][]string{}
	for id, blockers := range s.blockers {
		t, ok := s.tasks[id]
		if !ok || t.RepoID != repoID {
			continue
		}
		for b := range blockers {
			out[id] = append(out[id], b)
		}
	}
	return out, nil
}

func (s *Store) GetTaskVcs(ctx context.Context, taskID string) (*types.TaskVcs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.taskVcs[taskID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *Store) ListTaskVcs(ctx context.Context, repoID string) ([]*types.TaskVcs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.TaskVcs
	for _, v := range s.taskVcs {
		if v.RepoID == repoID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetReview(ctx context.Context, id string) (*types.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reviews[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetActiveReviewForTask(ctx context.Context, taskID string) (*types.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reviews {
		if r.TaskID == taskID && !r.Status.Terminal() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListReviewsForTask(ctx context.Context, taskID string) ([]*types.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Review
	for _, r := range s.reviews {
		if r.TaskID == taskID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListComments(ctx context.Context, reviewID string) ([]*types.ReviewComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ReviewComment
	for _, c := range s.comments {
		if c.ReviewID == reviewID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetGate(ctx context.Context, id string) (*types.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) ListGates(ctx context.Context, scopeType types.GateScopeType, scopeID string) ([]*types.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Gate
	for _, g := range s.gates {
		if g.ScopeType == scopeType && g.ScopeID == scopeID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListGateResults(ctx context.Context, reviewID string) ([]*types.GateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.GateResult
	for k, r := range s.gateResults {
		if k.reviewID == reviewID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) LatestGateResult(ctx context.Context, gateID, reviewID string) (*types.GateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return latestGateResultLocked(s, gateID, reviewID)
}

func latestGateResultLocked(s *Store, gateID, reviewID string) (*types.GateResult, error) {
	var best *types.GateResult
	for k, r := range s.gateResults {
		if k.gateID != gateID || k.reviewID != reviewID {
			continue
		}
		if best == nil || r.Attempt > best.Attempt {
			cp := *r
			best = &cp
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best, nil
}

func (s *Store) GetHelpRequest(ctx context.Context, id string) (*types.HelpRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.helps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) GetActiveHelpForTask(ctx context.Context, taskID string) (*types.HelpRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getActiveHelpLocked(s, taskID)
}

func getActiveHelpLocked(s *Store, taskID string) (*types.HelpRequest, error) {
	for _, h := range s.helps {
		if h.TaskID == taskID && (h.Status == types.HelpPending || h.Status == types.HelpResponded) {
			cp := *h
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListHelpForTask(ctx context.Context, taskID string) ([]*types.HelpRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.HelpRequest
	for _, h := range s.helps {
		if h.TaskID == taskID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) ListLearnings(ctx context.Context, taskID string) ([]*types.Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listLearningsLocked(s, taskID), nil
}

func listLearningsLocked(s *Store, taskID string) []*types.Learning {
	var out []*types.Learning
	for _, l := range s.learnings {
		if l.TaskID == taskID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) GetEventsFromSeq(ctx context.Context, sinceSeq uint64, limit int) ([]*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Event
	for _, e := range s.events {
		if e.Seq > sinceSeq {
			cp := *e
			out = append(out, &cp)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) GetEventsRange(ctx context.Context, fromSeq, toSeq uint64) ([]*types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Event
	for _, e := range s.events {
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) GetActiveSessionForTask(ctx context.Context, taskID string) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getActiveSessionLocked(s, taskID)
}

func getActiveSessionLocked(s *Store, taskID string) (*types.Session, error) {
	for _, sess := range s.sessions {
		if sess.TaskID == taskID && !sess.Status.Terminal() {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) GetHarness(ctx context.Context, id string) (*types.Harness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.harnesses[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) ListHarnesses(ctx context.Context) ([]*types.Harness, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Harness
	for _, h := range s.harnesses {
		cp := *h
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetRepo(ctx context.Context, id string) (*types.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRepos(ctx context.Context) ([]*types.Repo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Repo
	for _, r := range s.repos {
		if !r.Unregistered {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) GetIdempotency(ctx context.Context, key, scopeHash string) (*types.IdempotencyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.idempotency[idemKey{key, scopeHash}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) PutIdempotency(ctx context.Context, e *types.IdempotencyEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.idempotency[idemKey{e.Key, e.ScopeHash}] = &cp
	return nil
}

func (s *Store) CleanupIdempotency(ctx context.Context, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	cutoff := time.Unix(now, 0)
	for k, e := range s.idempotency {
		if e.Expired(cutoff) {
			delete(s.idempotency, k)
			n++
		}
	}
	return n, nil
}

// txn implements storage.Tx against the Store's maps directly; it runs
// entirely under the mutex acquired by RunInTransaction.
type txn struct {
	s *Store
}

func (t *txn) CreateTask(ctx context.Context, tk *types.Task) error {
	if _, exists := t.s.tasks[tk.ID]; exists {
		return storage.ErrConflict
	}
	cp := *tk
	t.s.tasks[tk.ID] = &cp
	return nil
}

func (t *txn) UpdateTask(ctx context.Context, tk *types.Task) error {
	if _, exists := t.s.tasks[tk.ID]; !exists {
		return storage.ErrNotFound
	}
	cp := *tk
	t.s.tasks[tk.ID] = &cp
	return nil
}

func (t *txn) DeleteTask(ctx context.Context, id string) error {
	if _, exists := t.s.tasks[id]; !exists {
		return storage.ErrNotFound
	}
	delete(t.s.tasks, id)
	delete(t.s.blockers, id)
	delete(t.s.taskVcs, id)
	for rid, r := range t.s.reviews {
		if r.TaskID == id {
			delete(t.s.reviews, rid)
		}
	}
	for cid, c := range t.s.comments {
		if c.TaskID == id {
			delete(t.s.comments, cid)
		}
	}
	for gid, g := range t.s.gates {
		if g.ScopeType == types.ScopeTask && g.ScopeID == id {
			delete(t.s.gates, gid)
		}
	}
	for k := range t.s.gateResults {
		if r := t.s.gateResults[k]; r.TaskID == id {
			delete(t.s.gateResults, k)
		}
	}
	for hid, h := range t.s.helps {
		if h.TaskID == id {
			delete(t.s.helps, hid)
		}
	}
	for lid, l := range t.s.learnings {
		if l.TaskID == id {
			delete(t.s.learnings, lid)
		}
	}
	// Dangling blocked_by entries referencing id are left in place per
	// spec.md §4.3 ("do not touch other tasks' blocked_by entries...
	// they become dangling and are filtered on read"); ListBlockers
	// callers in package task filter against GetTask's NotFound.
	return nil
}

func (t *txn) GetTask(ctx context.Context, id string) (*types.Task, error) {
	tk, ok := t.s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *tk
	return &cp, nil
}

func (t *txn) ListBlockers(ctx context.Context, taskID string) ([]string, error) {
	var out []string
	for id := range t.s.blockers[taskID] {
		out = append(out, id)
	}
	return out, nil
}

func (t *txn) BlockedByIndex(ctx context.Context, repoID string) (map[string][]string, error) {
	out := map[string][]string{}
	for id, blockers := range t.s.blockers {
		tk, ok := t.s.tasks[id]
		if !ok || tk.RepoID != repoID {
			continue
		}
		for b := range blockers {
			out[id] = append(out[id], b)
		}
	}
	return out, nil
}

func (t *txn) AddBlocker(ctx context.Context, taskID, blockerID string) error {
	if t.s.blockers[taskID] == nil {
		t.s.blockers[taskID] = map[string]bool{}
	}
	t.s.blockers[taskID][blockerID] = true
	return nil
}

func (t *txn) RemoveBlocker(ctx context.Context, taskID, blockerID string) error {
	if set := t.s.blockers[taskID]; set != nil {
		delete(set, blockerID)
	}
	return nil
}

func (t *txn) PutTaskVcs(ctx context.Context, v *types.TaskVcs) error {
	cp := *v
	t.s.taskVcs[v.TaskID] = &cp
	return nil
}

func (t *txn) GetTaskVcs(ctx context.Context, taskID string) (*types.TaskVcs, error) {
	v, ok := t.s.taskVcs[taskID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (t *txn) CreateReview(ctx context.Context, r *types.Review) error {
	if _, exists := t.s.reviews[r.ID]; exists {
		return storage.ErrConflict
	}
	cp := *r
	t.s.reviews[r.ID] = &cp
	return nil
}

func (t *txn) UpdateReview(ctx context.Context, r *types.Review) error {
	if _, exists := t.s.reviews[r.ID]; !exists {
		return storage.ErrNotFound
	}
	cp := *r
	t.s.reviews[r.ID] = &cp
	return nil
}

func (t *txn) GetReview(ctx context.Context, id string) (*types.Review, error) {
	r, ok := t.s.reviews[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (t *txn) AddComment(ctx context.Context, c *types.ReviewComment) error {
	if _, exists := t.s.comments[c.ID]; exists {
		return storage.ErrConflict
	}
	cp := *c
	t.s.comments[c.ID] = &cp
	return nil
}

func (t *txn) ResolveComment(ctx context.Context, id string) error {
	c, ok := t.s.comments[id]
	if !ok {
		return storage.ErrNotFound
	}
	if c.ResolvedAt == nil {
		now := time.Now().UTC()
		cp := *c
		cp.ResolvedAt = &now
		t.s.comments[id] = &cp
	}
	return nil
}

func (t *txn) GetComment(ctx context.Context, id string) (*types.ReviewComment, error) {
	c, ok := t.s.comments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *txn) CreateGate(ctx context.Context, g *types.Gate) error {
	for _, existing := range t.s.gates {
		if existing.ScopeType == g.ScopeType && existing.ScopeID == g.ScopeID && existing.Name == g.Name {
			return storage.ErrConflict
		}
	}
	cp := *g
	t.s.gates[g.ID] = &cp
	return nil
}

func (t *txn) UpdateGate(ctx context.Context, g *types.Gate) error {
	if _, exists := t.s.gates[g.ID]; !exists {
		return storage.ErrNotFound
	}
	cp := *g
	t.s.gates[g.ID] = &cp
	return nil
}

func (t *txn) DeleteGate(ctx context.Context, id string) error {
	if _, exists := t.s.gates[id]; !exists {
		return storage.ErrNotFound
	}
	delete(t.s.gates, id)
	return nil
}

func (t *txn) GetGate(ctx context.Context, id string) (*types.Gate, error) {
	g, ok := t.s.gates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (t *txn) ListGates(ctx context.Context, scopeType types.GateScopeType, scopeID string) ([]*types.Gate, error) {
	var out []*types.Gate
	for _, g := range t.s.gates {
		if g.ScopeType == scopeType && g.ScopeID == scopeID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *txn) PutGateResult(ctx context.Context, r *types.GateResult) error {
	cp := *r
	t.s.gateResults[gateResultKey{r.GateID, r.ReviewID, r.Attempt}] = &cp
	return nil
}

func (t *txn) LatestGateResult(ctx context.Context, gateID, reviewID string) (*types.GateResult, error) {
	return latestGateResultLocked(t.s, gateID, reviewID)
}

func (t *txn) CreateHelpRequest(ctx context.Context, h *types.HelpRequest) error {
	if _, exists := t.s.helps[h.ID]; exists {
		return storage.ErrConflict
	}
	cp := *h
	t.s.helps[h.ID] = &cp
	return nil
}

func (t *txn) UpdateHelpRequest(ctx context.Context, h *types.HelpRequest) error {
	if _, exists := t.s.helps[h.ID]; !exists {
		return storage.ErrNotFound
	}
	cp := *h
	t.s.helps[h.ID] = &cp
	return nil
}

func (t *txn) GetHelpRequest(ctx context.Context, id string) (*types.HelpRequest, error) {
	h, ok := t.s.helps[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (t *txn) GetActiveHelpForTask(ctx context.Context, taskID string) (*types.HelpRequest, error) {
	return getActiveHelpLocked(t.s, taskID)
}

func (t *txn) CreateLearning(ctx context.Context, l *types.Learning) error {
	if _, exists := t.s.learnings[l.ID]; exists {
		return storage.ErrConflict
	}
	cp := *l
	t.s.learnings[l.ID] = &cp
	return nil
}

func (t *txn) ListLearnings(ctx context.Context, taskID string) ([]*types.Learning, error) {
	return listLearningsLocked(t.s, taskID), nil
}

func (t *txn) CreateSession(ctx context.Context, sess *types.Session) error {
	if _, exists := t.s.sessions[sess.ID]; exists {
		return storage.ErrConflict
	}
	cp := *sess
	t.s.sessions[sess.ID] = &cp
	return nil
}

func (t *txn) UpdateSession(ctx context.Context, sess *types.Session) error {
	if _, exists := t.s.sessions[sess.ID]; !exists {
		return storage.ErrNotFound
	}
	cp := *sess
	t.s.sessions[sess.ID] = &cp
	return nil
}

func (t *txn) GetActiveSessionForTask(ctx context.Context, taskID string) (*types.Session, error) {
	return getActiveSessionLocked(t.s, taskID)
}

func (t *txn) PutHarness(ctx context.Context, h *types.Harness) error {
	cp := *h
	t.s.harnesses[h.ID] = &cp
	return nil
}

func (t *txn) PutRepo(ctx context.Context, r *types.Repo) error {
	cp := *r
	t.s.repos[r.ID] = &cp
	return nil
}

func (t *txn) AllocateEventSeq(ctx context.Context) (uint64, error) {
	t.s.nextSeq++
	return t.s.nextSeq, nil
}

func (t *txn) AppendEvent(ctx context.Context, e *types.Event) error {
	if e.ID == "" {
		e.ID = ids.New(ids.Event)
	}
	cp := *e
	t.s.events = append(t.s.events, &cp)
	return nil
}
