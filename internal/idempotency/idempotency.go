// Package idempotency implements Overseer's write-idempotency layer
// (spec.md §4.8): a client-supplied key, scoped by method+path+caller,
// caches the first response for 24h and replays it on retry; a second
// request with the same key but a different body is a Conflict.
// Grounded on original_source/crates/os-serve/src/middleware/
// idempotency.rs (wait_on_inflight/notify_inflight single-flight map,
// canonical_query/canonical_body/normalize_json request-hash
// canonicalization, and the cache/conflict/replay decision tree) and
// os-db/src/idempotency.rs's IdempotencyRecord persistence shape. The
// original's tokio::sync::Notify-per-key map is replaced here by
// golang.org/x/sync/singleflight, the idiomatic Go equivalent and
// already a transitive dependency of the x/sync module this project
// takes for errgroup.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/storage"
	"github.com/overseer-dev/overseer/internal/types"
	"golang.org/x/sync/singleflight"
)

// TTL is how long a cached response may be replayed (spec.md §4.8).
const TTL = 24 * time.Hour

// Result is what Execute returns: either a freshly computed response or
// one replayed from cache.
type Result struct {
	Status int
	Body   []byte
	Replay bool
}

// Layer coalesces concurrent identical requests and caches completed
// ones for replay.
type Layer struct {
	store storage.Store
	group singleflight.Group
	now   func() time.Time
}

func New(store storage.Store) *Layer {
	return &Layer{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Request describes one idempotent write, keyed by the client-supplied
// Idempotency-Key header plus the caller's scope (spec.md §6
// "Idempotency header").
type Request struct {
	Key    string
	Scope  string // e.g. an authenticated principal or session id
	Method string
	Path   string
	Query  map[string][]string
	Body   json.RawMessage
}

// Execute runs fn at most once for a given (Key, Scope, requestHash),
// replaying its cached result to every later call with the same key and
// scope. A later call with the same key and scope but a different body
// hash returns a Conflict without invoking fn.
func (l *Layer) Execute(ctx context.Context, req Request, fn func(ctx context.Context) (status int, body []byte, err error)) (*Result, error) {
	if req.Key == "" {
		status, body, err := fn(ctx)
		return &Result{Status: status, Body: body}, err
	}

	scopeHash := hashString(req.Scope)
	requestHash := canonicalRequestHash(req)

	if cached, err := l.store.GetIdempotency(ctx, req.Key, scopeHash); err == nil {
		if cached.RequestHash != requestHash {
			return nil, errs.New(errs.Conflict, "idempotency key %q already used with a different request", req.Key)
		}
		if !cached.Expired(l.now()) {
			return &Result{Status: cached.ResponseStatus, Body: cached.ResponseBody, Replay: true}, nil
		}
	}

	sfKey := req.Key + "|" + scopeHash
	v, err, _ := l.group.Do(sfKey, func() (any, error) {
		// Re-check the cache: another goroutine may have completed and
		// committed the response while this one waited to enter Do.
		if cached, err := l.store.GetIdempotency(ctx, req.Key, scopeHash); err == nil && !cached.Expired(l.now()) {
			if cached.RequestHash != requestHash {
				return nil, errs.New(errs.Conflict, "idempotency key %q already used with a different request", req.Key)
			}
			return &Result{Status: cached.ResponseStatus, Body: cached.ResponseBody, Replay: true}, nil
		}

		status, body, ferr := fn(ctx)
		if ferr != nil {
			return nil, ferr
		}
		// 4xx responses are the caller's fault, not a durable outcome of
		// this key -- a corrected retry with the same key must be free to
		// go through rather than replay the old rejection (spec.md §4.8
		// "4xx validation errors are not cached").
		if status < 400 || status >= 500 {
			entry := &types.IdempotencyEntry{
				Key: req.Key, Method: req.Method, Path: req.Path,
				ScopeHash: scopeHash, RequestHash: requestHash,
				ResponseStatus: status, ResponseBody: body,
				CreatedAt: l.now(), ExpiresAt: l.now().Add(TTL),
			}
			if err := l.store.PutIdempotency(ctx, entry); err != nil {
				return nil, errs.Wrap(errs.Internal, err, "caching idempotent response")
			}
		}
		return &Result{Status: status, Body: body}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

// Cleanup removes every expired entry, meant to run at startup and on a
// periodic timer (spec.md §4.8 "TTL cleanup").
func (l *Layer) Cleanup(ctx context.Context) (int, error) {
	return l.store.CleanupIdempotency(ctx, l.now().Unix())
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// canonicalRequestHash hashes method+path+canonicalized query+
// canonicalized body, mirroring canonical_query/canonical_body/
// normalize_json: query params sorted by key, JSON object keys sorted
// recursively, so two byte-different-but-semantically-equal requests
// hash identically.
func canonicalRequestHash(req Request) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte('\n')
	b.WriteString(req.Path)
	b.WriteByte('\n')
	b.WriteString(canonicalQuery(req.Query))
	b.WriteByte('\n')
	b.WriteString(canonicalBody(req.Body))
	return hashString(b.String())
}

func canonicalQuery(q map[string][]string) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), q[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte('&')
		}
	}
	return b.String()
}

func canonicalBody(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(normalizeJSON(v))
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// normalizeJSON recursively sorts map keys by rebuilding through an
// ordered slice of key/value pairs is unnecessary in Go since
// encoding/json already marshals map[string]any keys in sorted order;
// this function's only job is to recurse into nested maps/slices so
// json.Marshal's key-sorting applies at every level, not just the top.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeJSON(val)
		}
		return out
	default:
		return v
	}
}
