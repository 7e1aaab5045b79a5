// Package tools owns the tool-adapter contract and the registry that
// performs validated, rate-limited dispatch across it. Adapters never leak
// panics or raw errors past this package: every outcome is an
// ExecutionResult.
package tools

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
)

// Semantic error codes crossing the registry boundary. The orchestrator
// maps these to numeric wire codes.
const (
	CodeNotFound      = "NOT_FOUND"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInvalidParams = "INVALID_PARAMS"
	CodeTimeout       = "TIMEOUT"
	CodeInternalError = "INTERNAL_ERROR"
)

// ToolError describes a failed execution in a client-presentable way.
type ToolError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
}

// ExecutionResult is the sum type returned by every adapter execution:
// either Data is meaningful (Success true) or Err is set. It propagates by
// value across adapter, registry, and orchestrator so failure handling is
// total.
type ExecutionResult struct {
	Success bool
	Data    interface{}
	Err     *ToolError
}

// OK wraps a successful result.
func OK(data interface{}) ExecutionResult {
	return ExecutionResult{Success: true, Data: data}
}

// Fail wraps a failure with a semantic code and message.
func Fail(code, message string) ExecutionResult {
	return ExecutionResult{Success: false, Err: &ToolError{Code: code, Message: message}}
}

// FailWith wraps a fully populated ToolError.
func FailWith(err *ToolError) ExecutionResult {
	return ExecutionResult{Success: false, Err: err}
}

// ExecContext carries per-session and per-invocation state into adapter
// lifecycle and dispatch calls. It is passed explicitly everywhere rather
// than living in ambient globals.
type ExecContext struct {
	SessionID    string
	InvocationID string
	RepoRoot     string
	Logger       zerolog.Logger
}

// ToolAdapter is the four-method capability contract. The registry never
// inspects what an adapter does internally, only this surface.
type ToolAdapter interface {
	Definition() mcp.Tool
	Execute(ctx context.Context, args map[string]interface{}, ec *ExecContext) ExecutionResult
}

// Initializer is implemented by adapters that need startup work.
type Initializer interface {
	Initialize(ctx context.Context, ec *ExecContext) error
}

// Shutdowner is implemented by adapters that hold releasable resources.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}
