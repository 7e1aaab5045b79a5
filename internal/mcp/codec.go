package mcp

// Codec helpers. Pure functions: they classify raw messages and build
// response envelopes, nothing here touches the transport or any state.

// IsRequest reports whether the message expects a response. Per JSON-RPC,
// a message with no id (or an explicit null id) is a notification.
func IsRequest(req *JSONRPCRequest) bool {
	return req != nil && req.ID != nil
}

// NewResponse builds a success envelope for the given request id.
func NewResponse(id interface{}, result interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse builds an error envelope. A nil id means the request was
// malformed beyond id recovery; a sentinel id of 0 is used so the client
// still observes the failure instead of waiting forever.
func NewErrorResponse(id interface{}, rpcErr *RPCError) *JSONRPCResponse {
	if id == nil {
		id = 0
	}
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rpcErr,
	}
}

// NewError constructs the structured error handlers hand back up the stack.
func NewError(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}
