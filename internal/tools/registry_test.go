package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/ratelimit"
)

// fakeAdapter is a configurable test double for the four-method contract.
type fakeAdapter struct {
	name    string
	schema  mcp.ToolInputSchema
	execute func(ctx context.Context, args map[string]interface{}) ExecutionResult
	initErr error
	initRan bool
	downErr error
	downRan bool
}

func (f *fakeAdapter) Definition() mcp.Tool {
	schema := f.schema
	if schema.Type == "" {
		schema = mcp.ToolInputSchema{Type: "object", Properties: map[string]interface{}{}}
	}
	return mcp.Tool{Name: f.name, Description: "test tool", InputSchema: schema}
}

func (f *fakeAdapter) Execute(ctx context.Context, args map[string]interface{}, _ *ExecContext) ExecutionResult {
	if f.execute != nil {
		return f.execute(ctx, args)
	}
	return OK("ok")
}

// lifecycleAdapter adds the optional Initialize/Shutdown surface.
type lifecycleAdapter struct {
	fakeAdapter
}

func (f *lifecycleAdapter) Initialize(_ context.Context, _ *ExecContext) error {
	f.initRan = true
	return f.initErr
}

func (f *lifecycleAdapter) Shutdown(_ context.Context) error {
	f.downRan = true
	return f.downErr
}

func newTestRegistry(t *testing.T, lim ratelimit.Limit) *Registry {
	t.Helper()
	limiter, err := ratelimit.NewRateLimiter(lim)
	require.NoError(t, err)
	return NewRegistry(limiter, 0)
}

func execCtx() *ExecContext {
	return &ExecContext{SessionID: "s", InvocationID: "i"}
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})

	require.NoError(t, r.Register(&fakeAdapter{name: "dev_search"}))
	err := r.Register(&fakeAdapter{name: "dev_search"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_EmptyNameRejected(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})
	require.Error(t, r.Register(&fakeAdapter{name: ""}))
}

func TestRegistry_DefinitionsInRegistrationOrder(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})
	require.NoError(t, r.Register(&fakeAdapter{name: "b_tool"}))
	require.NoError(t, r.Register(&fakeAdapter{name: "a_tool"}))

	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "b_tool", defs[0].Name)
	assert.Equal(t, "a_tool", defs[1].Name)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})

	result := r.Execute(context.Background(), "nope", nil, execCtx())
	require.False(t, result.Success)
	assert.Equal(t, CodeNotFound, result.Err.Code)
	assert.NotEmpty(t, result.Err.Suggestion)
}

func TestRegistry_ExecuteRateLimited(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 1, RefillRate: 0.2})
	require.NoError(t, r.Register(&fakeAdapter{name: "t"}))

	first := r.Execute(context.Background(), "t", nil, execCtx())
	require.True(t, first.Success)

	second := r.Execute(context.Background(), "t", nil, execCtx())
	require.False(t, second.Success)
	assert.Equal(t, CodeRateLimited, second.Err.Code)

	retryAfter, ok := second.Err.Details["retryAfter"].(int)
	require.True(t, ok)
	assert.Equal(t, 5, retryAfter)
}

func TestRegistry_ExecuteValidatesArgs(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})
	require.NoError(t, r.Register(&fakeAdapter{
		name: "t",
		schema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			Required: []string{"query"},
		},
	}))

	result := r.Execute(context.Background(), "t", map[string]interface{}{}, execCtx())
	require.False(t, result.Success)
	assert.Equal(t, CodeInvalidParams, result.Err.Code)
	assert.Equal(t, "query is required", result.Err.Message)
}

func TestRegistry_ExecutePanicNormalized(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})
	require.NoError(t, r.Register(&fakeAdapter{
		name: "t",
		execute: func(context.Context, map[string]interface{}) ExecutionResult {
			panic("boom")
		},
	}))

	result := r.Execute(context.Background(), "t", nil, execCtx())
	require.False(t, result.Success)
	assert.Equal(t, CodeInternalError, result.Err.Code)
	assert.Contains(t, result.Err.Message, "boom")
}

func TestRegistry_ExecuteTimeoutMapped(t *testing.T) {
	limiter, err := ratelimit.NewRateLimiter(ratelimit.Limit{Capacity: 10, RefillRate: 1})
	require.NoError(t, err)
	r := NewRegistry(limiter, 20*time.Millisecond)

	require.NoError(t, r.Register(&fakeAdapter{
		name: "slow",
		execute: func(ctx context.Context, _ map[string]interface{}) ExecutionResult {
			<-ctx.Done()
			return Fail(CodeInternalError, "context deadline exceeded")
		},
	}))

	result := r.Execute(context.Background(), "slow", nil, execCtx())
	require.False(t, result.Success)
	assert.Equal(t, CodeTimeout, result.Err.Code)
}

func TestRegistry_InitializeAllPartialFailure(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})

	bad := &lifecycleAdapter{fakeAdapter{name: "bad", initErr: errors.New("no backing store")}}
	good := &lifecycleAdapter{fakeAdapter{name: "good"}}
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(good))

	r.InitializeAll(context.Background(), execCtx())
	assert.True(t, bad.initRan)
	assert.True(t, good.initRan)

	// The failed adapter is unavailable, the other still dispatches.
	result := r.Execute(context.Background(), "bad", nil, execCtx())
	require.False(t, result.Success)
	assert.Equal(t, CodeNotFound, result.Err.Code)

	result = r.Execute(context.Background(), "good", nil, execCtx())
	assert.True(t, result.Success)
}

func TestRegistry_ShutdownAllContinuesOnFailure(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})

	bad := &lifecycleAdapter{fakeAdapter{name: "bad", downErr: errors.New("flush failed")}}
	good := &lifecycleAdapter{fakeAdapter{name: "good"}}
	require.NoError(t, r.Register(bad))
	require.NoError(t, r.Register(good))

	r.ShutdownAll(context.Background())
	assert.True(t, bad.downRan)
	assert.True(t, good.downRan)
}

func TestRegistry_Stats(t *testing.T) {
	r := newTestRegistry(t, ratelimit.Limit{Capacity: 10, RefillRate: 1})
	require.NoError(t, r.Register(&fakeAdapter{name: "ok_tool"}))
	require.NoError(t, r.Register(&fakeAdapter{
		name: "fail_tool",
		execute: func(context.Context, map[string]interface{}) ExecutionResult {
			return Fail(CodeInternalError, "nope")
		},
	}))

	r.Execute(context.Background(), "ok_tool", nil, execCtx())
	r.Execute(context.Background(), "ok_tool", nil, execCtx())
	r.Execute(context.Background(), "fail_tool", nil, execCtx())

	stats := r.Stats()
	assert.Equal(t, 2, stats.RegisteredTools)
	assert.Equal(t, 2, stats.AvailableTools)
	assert.Equal(t, int64(2), stats.Invocations["ok_tool"])
	assert.Equal(t, int64(1), stats.Invocations["fail_tool"])
	assert.Equal(t, int64(1), stats.Failures["fail_tool"])
}
