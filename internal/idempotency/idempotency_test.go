package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/overseer-dev/overseer/internal/errs"
	"github.com/overseer-dev/overseer/internal/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCachesAndReplays(t *testing.T) {
	ctx := context.Background()
	l := New(memstore.New())
	var calls atomic.Int32

	fn := func(ctx context.Context) (int, []byte, error) {
		calls.Add(1)
		return 200, []byte(`{"ok":true}`), nil
	}

	req := Request{Key: "k1", Scope: "user_a", Method: "POST", Path: "/tasks", Body: []byte(`{"a":1}`)}
	r1, err := l.Execute(ctx, req, fn)
	require.NoError(t, err)
	assert.False(t, r1.Replay)

	r2, err := l.Execute(ctx, req, fn)
	require.NoError(t, err)
	assert.True(t, r2.Replay)
	assert.Equal(t, r1.Body, r2.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecuteConflictsOnDifferentBody(t *testing.T) {
	ctx := context.Background()
	l := New(memstore.New())
	fn := func(ctx context.Context) (int, []byte, error) { return 200, []byte("ok"), nil }

	req1 := Request{Key: "k1", Scope: "user_a", Method: "POST", Path: "/tasks", Body: []byte(`{"a":1}`)}
	_, err := l.Execute(ctx, req1, fn)
	require.NoError(t, err)

	req2 := Request{Key: "k1", Scope: "user_a", Method: "POST", Path: "/tasks", Body: []byte(`{"a":2}`)}
	_, err = l.Execute(ctx, req2, fn)
	require.Error(t, err)
	assert.Equal(t, errs.Conflict, errs.CodeOf(err))
}

func TestExecuteCoalescesConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	l := New(memstore.New())
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(ctx context.Context) (int, []byte, error) {
		calls.Add(1)
		<-release
		return 200, []byte("done"), nil
	}

	req := Request{Key: "k1", Scope: "user_a", Method: "POST", Path: "/tasks"}
	var wg sync.WaitGroup
	results := make([]*Result, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := l.Execute(ctx, req, fn)
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, []byte("done"), r.Body)
	}
}

func TestKeyIsScopedByCaller(t *testing.T) {
	ctx := context.Background()
	l := New(memstore.New())
	var calls atomic.Int32
	fn := func(ctx context.Context) (int, []byte, error) {
		calls.Add(1)
		return 200, []byte("ok"), nil
	}

	_, err := l.Execute(ctx, Request{Key: "k1", Scope: "user_a", Method: "POST", Path: "/tasks"}, fn)
	require.NoError(t, err)
	_, err = l.Execute(ctx, Request{Key: "k1", Scope: "user_b", Method: "POST", Path: "/tasks"}, fn)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
}
