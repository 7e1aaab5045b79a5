package tools

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/ratelimit"
)

// entry is one registered adapter plus its runtime bookkeeping.
type entry struct {
	adapter     ToolAdapter
	definition  mcp.Tool
	available   atomic.Bool
	invocations atomic.Int64
	failures    atomic.Int64
}

// Stats is an observability snapshot of the registry.
type Stats struct {
	RegisteredTools int              `json:"registeredTools"`
	AvailableTools  int              `json:"availableTools"`
	Invocations     map[string]int64 `json:"invocations"`
	Failures        map[string]int64 `json:"failures"`
}

// Registry owns the set of registered tool adapters, coordinates their
// lifecycle, and performs validated, rate-limited dispatch.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string

	limiter     *ratelimit.RateLimiter
	execTimeout time.Duration
}

// NewRegistry creates an empty registry. execTimeout bounds each adapter
// execution; zero disables the deadline.
func NewRegistry(limiter *ratelimit.RateLimiter, execTimeout time.Duration) *Registry {
	return &Registry{
		entries:     make(map[string]*entry),
		limiter:     limiter,
		execTimeout: execTimeout,
	}
}

// Register stores an adapter under its declared tool name. A duplicate
// name is a configuration error surfaced at startup, never silent
// shadowing.
func (r *Registry) Register(adapter ToolAdapter) error {
	def := adapter.Definition()
	if def.Name == "" {
		return fmt.Errorf("adapter declares an empty tool name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}

	e := &entry{adapter: adapter, definition: def}
	e.available.Store(true)
	r.entries[def.Name] = e
	r.order = append(r.order, def.Name)

	log.Debug().Str("tool", def.Name).Msg("Tool adapter registered")
	return nil
}

// InitializeAll runs optional adapter initialization. An individual
// failure marks that adapter unavailable but does not prevent the others
// from starting.
func (r *Registry) InitializeAll(ctx context.Context, ec *ExecContext) {
	for _, e := range r.snapshot() {
		init, ok := e.adapter.(Initializer)
		if !ok {
			continue
		}
		if err := init.Initialize(ctx, ec); err != nil {
			e.available.Store(false)
			log.Error().
				Err(err).
				Str("tool", e.definition.Name).
				Msg("Adapter initialization failed, marking unavailable")
			continue
		}
		log.Debug().Str("tool", e.definition.Name).Msg("Adapter initialized")
	}
}

// Definitions returns every registered tool definition in registration
// order, used to answer tools/list.
func (r *Registry) Definitions() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].definition)
	}
	return defs
}

// Execute dispatches a tool call: lookup, rate-limit consult, input
// validation, then the adapter itself. Panics from the adapter are
// recovered and normalized; nothing escapes as a raw failure.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, ec *ExecContext) ExecutionResult {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return FailWith(&ToolError{
			Code:       CodeNotFound,
			Message:    fmt.Sprintf("unknown tool: %s", name),
			Suggestion: "call tools/list to see the available tools",
		})
	}
	if !e.available.Load() {
		return FailWith(&ToolError{
			Code:       CodeNotFound,
			Message:    fmt.Sprintf("tool %s failed to initialize and is unavailable", name),
			Suggestion: "check the server logs for the initialization error",
		})
	}

	if decision := r.limiter.Check(name); !decision.Allowed {
		return FailWith(&ToolError{
			Code:    CodeRateLimited,
			Message: fmt.Sprintf("rate limit exceeded for %s", name),
			Details: map[string]interface{}{
				"retryAfter": decision.RetryAfter,
			},
			Suggestion: fmt.Sprintf("retry after %d seconds", decision.RetryAfter),
		})
	}

	if args == nil {
		args = map[string]interface{}{}
	}
	if err := validateArgs(e.definition.InputSchema, args); err != nil {
		return Fail(CodeInvalidParams, err.Error())
	}

	if r.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.execTimeout)
		defer cancel()
	}

	e.invocations.Add(1)
	result := r.invoke(ctx, e, args, ec)
	if !result.Success {
		if result.Err == nil {
			// A failed result must always carry a structured error.
			result.Err = &ToolError{
				Code:    CodeInternalError,
				Message: fmt.Sprintf("tool %s returned a failure with no error", name),
			}
		}
		e.failures.Add(1)
	}
	return result
}

// invoke runs the adapter with panic recovery.
func (r *Registry) invoke(ctx context.Context, e *entry, args map[string]interface{}, ec *ExecContext) (result ExecutionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("tool", e.definition.Name).
				Str("invocation_id", ec.InvocationID).
				Msg("Adapter panicked during execution")
			result = Fail(CodeInternalError, fmt.Sprintf("tool %s failed: %v", e.definition.Name, rec))
		}
	}()

	result = e.adapter.Execute(ctx, args, ec)

	// An exhausted deadline surfaces as TIMEOUT regardless of how the
	// adapter reported it.
	if !result.Success && result.Err != nil && ctx.Err() == context.DeadlineExceeded && result.Err.Code == CodeInternalError {
		result.Err.Code = CodeTimeout
		result.Err.Suggestion = "narrow the request or raise the tool timeout"
	}
	return result
}

// Stats reports registration and invocation counters.
func (r *Registry) Stats() Stats {
	stats := Stats{
		Invocations: make(map[string]int64),
		Failures:    make(map[string]int64),
	}
	for _, e := range r.snapshot() {
		stats.RegisteredTools++
		if e.available.Load() {
			stats.AvailableTools++
		}
		if n := e.invocations.Load(); n > 0 {
			stats.Invocations[e.definition.Name] = n
		}
		if n := e.failures.Load(); n > 0 {
			stats.Failures[e.definition.Name] = n
		}
	}
	return stats
}

// ShutdownAll runs optional adapter shutdown. An individual failure is
// logged and does not abort shutdown of the remaining adapters.
func (r *Registry) ShutdownAll(ctx context.Context) {
	for _, e := range r.snapshot() {
		down, ok := e.adapter.(Shutdowner)
		if !ok {
			continue
		}
		if err := down.Shutdown(ctx); err != nil {
			log.Error().
				Err(err).
				Str("tool", e.definition.Name).
				Msg("Adapter shutdown failed, continuing")
		}
	}
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, r.entries[name])
	}
	return entries
}
