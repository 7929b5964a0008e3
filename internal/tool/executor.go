package tool

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/avandres/stepflow/internal/logging"
	"github.com/avandres/stepflow/pkg/schema"
)

// Invocation is the ephemeral record of one tool call moving through the
// middleware chain.
type Invocation struct {
	Tool    string
	Params  json.RawMessage
	Attempt int
	Start   time.Time
}

// Result is the outcome of a tool call. The executor never returns a Go
// error for tool-level failures: callers inspect Success, and Error carries
// the structured failure.
type Result struct {
	Success  bool             `json:"success"`
	Output   any              `json:"output,omitempty"`
	Error    *schema.FlowError `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
	Cached   bool             `json:"cached,omitempty"`
	Attempts int              `json:"attempts,omitempty"`
}

// Handler executes one invocation stage.
type Handler func(ctx context.Context, inv *Invocation) *Result

// Middleware wraps a Handler, observing or short-circuiting it.
type Middleware func(next Handler) Handler

// ParamsValidator validates tool parameters against a JSON schema.
// Satisfied by validation.SchemaValidator.
type ParamsValidator interface {
	ValidateParams(params, paramSchema []byte) error
}

// Config tunes an Executor. MaxConcurrency bounds in-flight calls across
// all tools (0 = unbounded). DefaultTimeout applies to tools that declare
// none (0 = no deadline).
type Config struct {
	MaxConcurrency int
	DefaultTimeout schema.Duration
}

// Executor runs tool calls through the fixed middleware pipeline, outermost
// to innermost: logging, retry, concurrency gate, timeout, caching,
// parameter validation, core call. Stages whose policy is absent for a tool
// drop out of its chain. Cache and gate are instance-owned: two executors
// never share state unless constructed with the same Cache.
type Executor struct {
	registry  *Registry
	validator ParamsValidator
	cache     *Cache
	gate      *Gate
	cfg       Config
	log       *slog.Logger
}

// NewExecutor creates an Executor. validator may be nil to skip parameter
// validation; cache may be nil for a private cache.
func NewExecutor(registry *Registry, validator ParamsValidator, cache *Cache, cfg Config, log *slog.Logger) *Executor {
	if cache == nil {
		cache = NewCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		registry:  registry,
		validator: validator,
		cache:     cache,
		gate:      NewGate(cfg.MaxConcurrency),
		cfg:       cfg,
		log:       log,
	}
}

// Tools lists the registry's catalog, sorted by name.
func (e *Executor) Tools() []Info {
	return e.registry.List()
}

// Execute runs the named tool with the given parameters. Tool-level
// failures, including unknown tools, come back as Result{Success: false}.
func (e *Executor) Execute(ctx context.Context, toolName string, params json.RawMessage) *Result {
	start := time.Now()

	t, err := e.registry.Get(toolName)
	if err != nil {
		return failure(err, start, 0)
	}

	ctx = logging.WithToolName(ctx, toolName)
	inv := &Invocation{Tool: toolName, Params: params, Attempt: 1, Start: start}
	return e.chainFor(t)(ctx, inv)
}

// chainFor composes the middleware chain for one tool based on its spec.
func (e *Executor) chainFor(t Tool) Handler {
	spec := t.Spec()

	handler := e.coreHandler(t)
	if e.validator != nil && len(spec.ParamSchema) > 0 {
		handler = e.validationMiddleware(spec.ParamSchema)(handler)
	}
	if spec.Cache != nil {
		handler = e.cacheMiddleware(spec.Cache)(handler)
	}
	if timeout := e.timeoutFor(spec); timeout > 0 {
		handler = e.timeoutMiddleware(timeout)(handler)
	}
	if e.gate != nil {
		handler = e.gateMiddleware()(handler)
	}
	if spec.Retry != nil && spec.Retry.MaxAttempts > 1 {
		handler = e.retryMiddleware(spec.Retry)(handler)
	}
	return e.loggingMiddleware()(handler)
}

func (e *Executor) timeoutFor(spec Spec) time.Duration {
	if spec.Timeout > 0 {
		return spec.Timeout.Std()
	}
	return e.cfg.DefaultTimeout.Std()
}

// coreHandler invokes the tool itself.
func (e *Executor) coreHandler(t Tool) Handler {
	return func(ctx context.Context, inv *Invocation) *Result {
		output, err := t.Execute(ctx, inv.Params)
		if err != nil {
			return failure(wrapToolError(err, inv.Tool), inv.Start, inv.Attempt)
		}
		return &Result{
			Success:  true,
			Output:   output,
			Duration: time.Since(inv.Start),
			Attempts: inv.Attempt,
		}
	}
}

// validationMiddleware rejects parameters violating the tool's schema
// before any I/O occurs.
func (e *Executor) validationMiddleware(paramSchema json.RawMessage) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) *Result {
			if err := e.validator.ValidateParams(inv.Params, paramSchema); err != nil {
				return failure(err, inv.Start, inv.Attempt)
			}
			return next(ctx, inv)
		}
	}
}

// cacheMiddleware serves unexpired hits without re-invoking; only
// successful results are stored.
func (e *Executor) cacheMiddleware(policy *schema.CachePolicy) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) *Result {
			key, err := CacheKey(inv.Tool, inv.Params)
			if err != nil {
				return failure(err, inv.Start, inv.Attempt)
			}
			if output, ok := e.cache.Get(key); ok {
				return &Result{
					Success:  true,
					Output:   output,
					Duration: time.Since(inv.Start),
					Cached:   true,
					Attempts: inv.Attempt,
				}
			}
			res := next(ctx, inv)
			if res.Success {
				e.cache.Put(key, res.Output, policy.TTL.Std())
			}
			return res
		}
	}
}

// timeoutMiddleware races the call against a deadline. Cancellation is
// propagated to the underlying call; a tool that ignores its context may
// still complete in the background, but its result is discarded.
func (e *Executor) timeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) *Result {
			tctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *Result, 1)
			go func() {
				done <- next(tctx, inv)
			}()

			select {
			case res := <-done:
				return res
			case <-tctx.Done():
				err := schema.NewErrorf(schema.ErrCodeTimeout,
					"tool %q timed out after %s", inv.Tool, timeout)
				if errors.Is(tctx.Err(), context.Canceled) {
					err = schema.NewErrorf(schema.ErrCodeCancelled,
						"tool %q cancelled", inv.Tool).WithCause(ctx.Err())
				}
				return failure(err, inv.Start, inv.Attempt)
			}
		}
	}
}

// gateMiddleware bounds in-flight calls across the executor.
func (e *Executor) gateMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) *Result {
			if err := e.gate.Acquire(ctx); err != nil {
				return failure(schema.NewErrorf(schema.ErrCodeCancelled,
					"tool %q cancelled while waiting for a slot", inv.Tool).WithCause(err),
					inv.Start, inv.Attempt)
			}
			defer e.gate.Release()
			return next(ctx, inv)
		}
	}
}

// retryMiddleware re-runs failed calls per the tool's policy. Permanent
// errors stop immediately; exhausting attempts surfaces the last error.
func (e *Executor) retryMiddleware(policy *schema.RetryPolicy) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) *Result {
			var res *Result
			for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
				inv.Attempt = attempt
				res = next(ctx, inv)
				if res.Success {
					return res
				}
				if res.Error != nil && !res.Error.IsRetryable() {
					return res
				}
				if attempt == policy.MaxAttempts {
					break
				}
				select {
				case <-time.After(backoffDelay(policy, attempt)):
				case <-ctx.Done():
					return failure(schema.NewErrorf(schema.ErrCodeCancelled,
						"tool %q cancelled between retries", inv.Tool).WithCause(ctx.Err()),
						inv.Start, attempt)
				}
			}
			return res
		}
	}
}

// loggingMiddleware records start and outcome with duration, independent
// of success.
func (e *Executor) loggingMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) *Result {
			e.log.DebugContext(ctx, "tool call started")
			res := next(ctx, inv)
			if res.Success {
				e.log.InfoContext(ctx, "tool call succeeded",
					"duration", res.Duration, "cached", res.Cached, "attempts", res.Attempts)
			} else {
				e.log.WarnContext(ctx, "tool call failed",
					"duration", res.Duration, "attempts", res.Attempts, "error", res.Error)
			}
			return res
		}
	}
}

// backoffDelay computes the wait before the next attempt: linear is
// attempt * delay, exponential is 2^(attempt-1) * delay. Delay defaults to
// one second.
func backoffDelay(policy *schema.RetryPolicy, attempt int) time.Duration {
	delay := policy.Delay.Std()
	if delay <= 0 {
		delay = time.Second
	}
	if policy.Backoff == "exponential" {
		return delay * (1 << (attempt - 1))
	}
	return delay * time.Duration(attempt)
}

func failure(err error, start time.Time, attempts int) *Result {
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		fe = schema.NewError(schema.ErrCodeToolFailed, err.Error()).WithCause(err)
	}
	return &Result{
		Success:  false,
		Error:    fe,
		Duration: time.Since(start),
		Attempts: attempts,
	}
}

func wrapToolError(err error, toolName string) *schema.FlowError {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe
	}
	return schema.NewErrorf(schema.ErrCodeToolFailed, "tool %q failed: %s", toolName, err.Error()).
		WithCause(err)
}
