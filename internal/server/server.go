// Package server wires the transport, codec, rate limiter, and tool
// registry into the protocol method state machine. It owns the mapping
// from internal error semantics to wire-level error codes; no other
// package needs to know numeric JSON-RPC codes.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
	"github.com/codectx/dev-agent-mcp/internal/tools"
)

// Lifecycle states.
const (
	stateConstructed int32 = iota
	stateStarting
	stateRunning
	stateStopping
	stateStopped
)

// defaultProtocolVersion is echoed when the client requests none.
const defaultProtocolVersion = "2025-06-18"

// ToolBackend is the registry surface the orchestrator depends on.
type ToolBackend interface {
	InitializeAll(ctx context.Context, ec *tools.ExecContext)
	Definitions() []mcp.Tool
	Execute(ctx context.Context, name string, args map[string]interface{}, ec *tools.ExecContext) tools.ExecutionResult
	ShutdownAll(ctx context.Context)
}

// Options configures a Server.
type Options struct {
	Info            mcp.ServerInfo
	ProtocolVersion string // fallback when the client requests none
	RepoRoot        string
	DrainTimeout    time.Duration // how long Stop waits for in-flight calls
}

// Server routes protocol requests to method handlers and tool adapters.
type Server struct {
	opts      Options
	transport mcp.Transport
	backend   ToolBackend

	sessionID string
	state     atomic.Int32
	rootCtx   context.Context
	inflight  sync.WaitGroup
}

// NewServer creates a server in the constructed state.
func NewServer(opts Options, transport mcp.Transport, backend ToolBackend) *Server {
	if opts.ProtocolVersion == "" {
		opts.ProtocolVersion = defaultProtocolVersion
	}
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	return &Server{
		opts:      opts,
		transport: transport,
		backend:   backend,
		sessionID: uuid.NewString(),
	}
}

// Start initializes the adapters, wires the transport callbacks, and
// begins reading. The server is running only after transport start
// succeeds.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateConstructed, stateStarting) {
		return fmt.Errorf("server already started")
	}
	s.rootCtx = ctx

	s.backend.InitializeAll(ctx, s.execContext(""))

	s.transport.OnMessage(s.handleMessage)
	s.transport.OnError(s.handleTransportError)

	if err := s.transport.Start(); err != nil {
		s.state.Store(stateStopped)
		return fmt.Errorf("transport start: %w", err)
	}

	s.state.Store(stateRunning)
	log.Info().
		Str("server", s.opts.Info.Name).
		Str("version", s.opts.Info.Version).
		Str("session_id", s.sessionID).
		Msg("Server running")
	return nil
}

// Stop drains in-flight tool calls up to the drain timeout, shuts the
// adapters down, and closes the transport. Idempotent.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(stateRunning, stateStopping) &&
		!s.state.CompareAndSwap(stateStarting, stateStopping) {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.opts.DrainTimeout):
		log.Warn().
			Dur("drain_timeout", s.opts.DrainTimeout).
			Msg("Drain timeout elapsed, dropping in-flight responses")
	}

	s.backend.ShutdownAll(ctx)
	s.transport.Stop()
	s.state.Store(stateStopped)

	log.Info().Msg("Server stopped")
	return nil
}

// Done is closed when the transport read loop has exited.
func (s *Server) Done() <-chan struct{} {
	return s.transport.Done()
}

// handleMessage classifies one raw message and dispatches it. Requests
// are processed concurrently; the client correlates responses by id, so
// no arrival-order guarantee is needed.
func (s *Server) handleMessage(raw json.RawMessage) {
	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendParseError(raw, err)
		return
	}

	if req.JSONRPC != "2.0" {
		if mcp.IsRequest(&req) {
			s.send(mcp.NewErrorResponse(req.ID,
				mcp.NewError(mcp.CodeInvalidRequest, "Invalid Request", "jsonrpc must be '2.0'")))
		} else {
			log.Warn().Str("method", req.Method).Msg("Dropping message with bad jsonrpc version")
		}
		return
	}

	if !mcp.IsRequest(&req) {
		s.handleNotification(&req)
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.send(s.routeRequest(s.rootCtx, &req))
	}()
}

// handleNotification acknowledges lifecycle notifications and logs the
// rest. Notifications never produce a reply.
func (s *Server) handleNotification(req *mcp.JSONRPCRequest) {
	switch req.Method {
	case "initialized", "notifications/initialized":
		log.Debug().Str("session_id", s.sessionID).Msg("Client acknowledged initialization")
	case "notifications/cancelled":
		// No enforced cancellation; the in-flight call runs to completion.
		log.Debug().Msg("Client cancellation received, ignoring")
	default:
		log.Debug().Str("method", req.Method).Msg("Ignoring unrecognized notification")
	}
}

// routeRequest dispatches by method name. It always returns exactly one
// response for the request id, success or error.
func (s *Server) routeRequest(ctx context.Context, req *mcp.JSONRPCRequest) (resp *mcp.JSONRPCResponse) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Str("method", req.Method).
				Msg("Request handler panicked")
			resp = mcp.NewErrorResponse(req.ID,
				mcp.NewError(mcp.CodeInternalError, "Internal error", fmt.Sprintf("%v", rec)))
		}
	}()

	if req.Method == "" {
		return mcp.NewErrorResponse(req.ID,
			mcp.NewError(mcp.CodeInvalidRequest, "Invalid Request", "method is required"))
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return mcp.NewResponse(req.ID, map[string]interface{}{})
	case "tools/list":
		return mcp.NewResponse(req.ID, mcp.ToolsListResult{Tools: s.backend.Definitions()})
	case "tools/call":
		return s.handleToolCall(ctx, req)
	}

	if strings.HasPrefix(req.Method, "resources/") || strings.HasPrefix(req.Method, "prompts/") {
		return mcp.NewErrorResponse(req.ID,
			mcp.NewError(mcp.CodeMethodNotFound,
				fmt.Sprintf("method not implemented: %s", req.Method), nil))
	}
	return mcp.NewErrorResponse(req.ID,
		mcp.NewError(mcp.CodeMethodNotFound,
			fmt.Sprintf("unknown method: %s", req.Method), nil))
}

// handleInitialize echoes the client's requested protocol version back
// with static capabilities and server info.
func (s *Server) handleInitialize(req *mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return mcp.NewErrorResponse(req.ID,
				mcp.NewError(mcp.CodeInvalidParams, "Invalid params", err.Error()))
		}
	}

	version := params.ProtocolVersion
	if version == "" {
		version = s.opts.ProtocolVersion
	}

	log.Info().
		Str("protocol_version", version).
		Str("client", params.ClientInfo.Name).
		Str("client_version", params.ClientInfo.Version).
		Msg("Session initialized")

	return mcp.NewResponse(req.ID, mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: mcp.ToolCapabilities{Supported: true},
		},
		ServerInfo: s.opts.Info,
	})
}

// handleToolCall delegates to the registry and wraps the outcome in the
// protocol's content-block envelope or a wire error.
func (s *Server) handleToolCall(ctx context.Context, req *mcp.JSONRPCRequest) *mcp.JSONRPCResponse {
	var params mcp.ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return mcp.NewErrorResponse(req.ID,
			mcp.NewError(mcp.CodeInvalidParams, "Invalid params", err.Error()))
	}
	if params.Name == "" {
		return mcp.NewErrorResponse(req.ID,
			mcp.NewError(mcp.CodeInvalidParams, "name is required", nil))
	}

	ec := s.execContext(uuid.NewString())
	result := s.backend.Execute(ctx, params.Name, params.Arguments, ec)

	if result.Success {
		return mcp.NewResponse(req.ID, mcp.ToolCallResult{
			Content: []mcp.Content{{Type: "text", Text: stringify(result.Data)}},
		})
	}
	return mcp.NewErrorResponse(req.ID, wireError(result.Err))
}

// wireError maps a semantic tool error to its numeric wire code, carrying
// details and suggestion as side data.
func wireError(toolErr *tools.ToolError) *mcp.RPCError {
	var code int
	switch toolErr.Code {
	case tools.CodeInvalidParams:
		code = mcp.CodeInvalidParams
	case tools.CodeNotFound:
		code = mcp.CodeNotFound
	case tools.CodeRateLimited:
		code = mcp.CodeRateLimited
	case tools.CodeTimeout:
		code = mcp.CodeTimeout
	default:
		code = mcp.CodeInternalError
	}

	data := map[string]interface{}{"code": toolErr.Code}
	if len(toolErr.Details) > 0 {
		data["details"] = toolErr.Details
	}
	if toolErr.Suggestion != "" {
		data["suggestion"] = toolErr.Suggestion
	}
	return mcp.NewError(code, toolErr.Message, data)
}

// stringify renders an adapter's raw output as the text block payload.
// Strings pass through; everything else is JSON-serialized.
func stringify(data interface{}) string {
	if s, ok := data.(string); ok {
		return s
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(encoded)
}

// sendParseError mirrors the classic recovery path: try to pull an id out
// of the malformed payload so the client can still observe the failure.
func (s *Server) sendParseError(raw []byte, parseErr error) {
	var probe map[string]interface{}
	if json.Unmarshal(raw, &probe) == nil {
		if id, ok := probe["id"]; ok && id != nil {
			s.send(mcp.NewErrorResponse(id,
				mcp.NewError(mcp.CodeParseError, "Parse error", parseErr.Error())))
			return
		}
	}
	log.Warn().Err(parseErr).Msg("Dropping unparseable message with no recoverable id")
}

func (s *Server) handleTransportError(err error) {
	if pe, ok := err.(*mcp.ParseError); ok {
		s.sendParseError(pe.Raw, pe.Err)
		return
	}
	// I/O errors do not crash the process; the stream continues or the
	// read loop exits and Done fires.
	log.Error().Err(err).Msg("Transport error")
}

func (s *Server) send(resp *mcp.JSONRPCResponse) {
	if resp == nil {
		return
	}
	if err := s.transport.Send(resp); err != nil {
		log.Error().Err(err).Interface("id", resp.ID).Msg("Failed to send response")
	}
}

func (s *Server) execContext(invocationID string) *tools.ExecContext {
	return &tools.ExecContext{
		SessionID:    s.sessionID,
		InvocationID: invocationID,
		RepoRoot:     s.opts.RepoRoot,
		Logger:       log.With().Str("session_id", s.sessionID).Logger(),
	}
}
