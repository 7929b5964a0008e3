package tool

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/pkg/schema"
)

func newTestExecutor(t *testing.T, cfg Config, tools ...Tool) (*Executor, *Cache) {
	t.Helper()
	reg := NewRegistry()
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	cache := NewCache()
	return NewExecutor(reg, nil, cache, cfg, nil), cache
}

func TestExecutor_Success(t *testing.T) {
	echo := NewFunc("echo", Spec{}, func(_ context.Context, params json.RawMessage) (any, error) {
		var p map[string]any
		require.NoError(t, json.Unmarshal(params, &p))
		return p, nil
	})
	exec, _ := newTestExecutor(t, Config{}, echo)

	res := exec.Execute(context.Background(), "echo", json.RawMessage(`{"n":5}`))
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"n": float64(5)}, res.Output)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.Cached)
}

func TestExecutor_UnknownToolIsFailureResult(t *testing.T) {
	exec, _ := newTestExecutor(t, Config{})

	res := exec.Execute(context.Background(), "ghost", nil)
	require.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, schema.ErrCodeToolUnavailable, res.Error.Code)
}

func TestExecutor_ToolErrorsAreDataNotPanics(t *testing.T) {
	boom := NewFunc("boom", Spec{}, func(context.Context, json.RawMessage) (any, error) {
		return nil, schema.NewError(schema.ErrCodeToolFailed, "network unreachable")
	})
	exec, _ := newTestExecutor(t, Config{}, boom)

	res := exec.Execute(context.Background(), "boom", nil)
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeToolFailed, res.Error.Code)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestExecutor_CacheWithinTTL(t *testing.T) {
	var calls atomic.Int32
	fetch := NewFunc("fetch", Spec{
		Cache: &schema.CachePolicy{TTL: schema.Duration(time.Second)},
	}, func(context.Context, json.RawMessage) (any, error) {
		calls.Add(1)
		return map[string]any{"n": 5}, nil
	})
	exec, cache := newTestExecutor(t, Config{}, fetch)

	// Deterministic clock: t=0, t=500ms, t=1500ms.
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	cache.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	params := json.RawMessage(`{"url":"https://example.com"}`)

	first := exec.Execute(context.Background(), "fetch", params)
	require.True(t, first.Success)
	assert.False(t, first.Cached)

	advance(500 * time.Millisecond)
	second := exec.Execute(context.Background(), "fetch", params)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.EqualValues(t, 1, calls.Load())

	advance(time.Second)
	third := exec.Execute(context.Background(), "fetch", params)
	require.True(t, third.Success)
	assert.False(t, third.Cached)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExecutor_CacheKeyIgnoresKeyOrder(t *testing.T) {
	var calls atomic.Int32
	fetch := NewFunc("fetch", Spec{
		Cache: &schema.CachePolicy{TTL: schema.Duration(time.Minute)},
	}, func(context.Context, json.RawMessage) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	exec, _ := newTestExecutor(t, Config{}, fetch)

	exec.Execute(context.Background(), "fetch", json.RawMessage(`{"a":1,"b":2}`))
	res := exec.Execute(context.Background(), "fetch", json.RawMessage(`{"b":2,"a":1}`))
	assert.True(t, res.Cached)
	assert.EqualValues(t, 1, calls.Load())
}

func TestExecutor_CacheDistinctParams(t *testing.T) {
	var calls atomic.Int32
	fetch := NewFunc("fetch", Spec{
		Cache: &schema.CachePolicy{TTL: schema.Duration(time.Minute)},
	}, func(context.Context, json.RawMessage) (any, error) {
		calls.Add(1)
		return "ok", nil
	})
	exec, _ := newTestExecutor(t, Config{}, fetch)

	exec.Execute(context.Background(), "fetch", json.RawMessage(`{"a":1}`))
	exec.Execute(context.Background(), "fetch", json.RawMessage(`{"a":2}`))
	assert.EqualValues(t, 2, calls.Load())
}

func TestExecutor_RetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	flaky := NewFunc("flaky", Spec{
		Retry: &schema.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     "linear",
			Delay:       schema.Duration(time.Millisecond),
		},
	}, func(_ context.Context, _ json.RawMessage) (any, error) {
		n := calls.Add(1)
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed, "attempt %d failed", n)
	})
	exec, _ := newTestExecutor(t, Config{}, flaky)

	res := exec.Execute(context.Background(), "flaky", nil)
	require.False(t, res.Success)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 3, res.Attempts)
	// The surfaced error is the one from the final attempt.
	assert.Contains(t, res.Error.Message, "attempt 3")
}

func TestExecutor_RetrySucceedsMidway(t *testing.T) {
	var calls atomic.Int32
	flaky := NewFunc("flaky", Spec{
		Retry: &schema.RetryPolicy{
			MaxAttempts: 5,
			Delay:       schema.Duration(time.Millisecond),
		},
	}, func(context.Context, json.RawMessage) (any, error) {
		if calls.Add(1) < 3 {
			return nil, schema.NewError(schema.ErrCodeToolFailed, "transient")
		}
		return "ok", nil
	})
	exec, _ := newTestExecutor(t, Config{}, flaky)

	res := exec.Execute(context.Background(), "flaky", nil)
	require.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.EqualValues(t, 3, calls.Load())
}

func TestExecutor_RetryStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	bad := NewFunc("bad", Spec{
		Retry: &schema.RetryPolicy{MaxAttempts: 3, Delay: schema.Duration(time.Millisecond)},
	}, func(context.Context, json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, schema.NewError(schema.ErrCodeInvalidParameters, "bad input")
	})
	exec, _ := newTestExecutor(t, Config{}, bad)

	res := exec.Execute(context.Background(), "bad", nil)
	require.False(t, res.Success)
	assert.EqualValues(t, 1, calls.Load())
}

func TestExecutor_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := NewFunc("slow", Spec{}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return "done", nil
	})
	exec, _ := newTestExecutor(t, Config{MaxConcurrency: 3}, slow)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := exec.Execute(context.Background(), "slow", nil)
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestExecutor_Timeout(t *testing.T) {
	var sawCancel atomic.Bool
	hang := NewFunc("hang", Spec{
		Timeout: schema.Duration(20 * time.Millisecond),
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case <-time.After(time.Second):
			return "too late", nil
		case <-ctx.Done():
			sawCancel.Store(true)
			return nil, ctx.Err()
		}
	})
	exec, _ := newTestExecutor(t, Config{}, hang)

	res := exec.Execute(context.Background(), "hang", nil)
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeTimeout, res.Error.Code)

	// Cancellation reaches the underlying call.
	assert.Eventually(t, sawCancel.Load, time.Second, 5*time.Millisecond)
}

func TestExecutor_TimeoutRetriedAsTransient(t *testing.T) {
	var calls atomic.Int32
	hang := NewFunc("hang", Spec{
		Timeout: schema.Duration(10 * time.Millisecond),
		Retry:   &schema.RetryPolicy{MaxAttempts: 2, Delay: schema.Duration(time.Millisecond)},
	}, func(ctx context.Context, _ json.RawMessage) (any, error) {
		calls.Add(1)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	exec, _ := newTestExecutor(t, Config{}, hang)

	res := exec.Execute(context.Background(), "hang", nil)
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeTimeout, res.Error.Code)
	assert.EqualValues(t, 2, calls.Load())
}

type requireSchemaValidator struct{}

func (requireSchemaValidator) ValidateParams(params, paramSchema []byte) error {
	var p map[string]any
	if err := json.Unmarshal(params, &p); err != nil {
		return schema.NewError(schema.ErrCodeInvalidParameters, "not json")
	}
	if _, ok := p["url"]; !ok {
		return schema.NewError(schema.ErrCodeInvalidParameters, "url is required")
	}
	return nil
}

func TestExecutor_ValidationShortCircuits(t *testing.T) {
	var calls atomic.Int32
	fetch := NewFunc("fetch", Spec{
		ParamSchema: json.RawMessage(`{"type":"object","required":["url"]}`),
	}, func(context.Context, json.RawMessage) (any, error) {
		calls.Add(1)
		return "ok", nil
	})

	reg := NewRegistry()
	require.NoError(t, reg.Register(fetch))
	exec := NewExecutor(reg, requireSchemaValidator{}, nil, Config{}, nil)

	res := exec.Execute(context.Background(), "fetch", json.RawMessage(`{"nope":1}`))
	require.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeInvalidParameters, res.Error.Code)
	assert.EqualValues(t, 0, calls.Load())

	res = exec.Execute(context.Background(), "fetch", json.RawMessage(`{"url":"https://example.com"}`))
	require.True(t, res.Success)
	assert.EqualValues(t, 1, calls.Load())
}

func TestBackoffDelay(t *testing.T) {
	linear := &schema.RetryPolicy{Backoff: "linear", Delay: schema.Duration(100 * time.Millisecond)}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(linear, 1))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(linear, 3))

	exp := &schema.RetryPolicy{Backoff: "exponential", Delay: schema.Duration(100 * time.Millisecond)}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(exp, 1))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(exp, 3))

	// Delay defaults to one second.
	def := &schema.RetryPolicy{}
	assert.Equal(t, time.Second, backoffDelay(def, 1))
}
