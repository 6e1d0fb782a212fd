package mcpclient

import "errors"

// Sentinel errors for MCP client operations. Callers match them with
// errors.Is; lower layers wrap them with fmt.Errorf("%w: ...", Err...).
var (
	// ErrConnectionFailed is returned when a transport cannot establish or
	// keep its connection (spawn failure, broken pipe, network error).
	ErrConnectionFailed = errors.New("mcp: connection failed")

	// ErrRequestFailed is returned when a request could not complete:
	// non-2xx HTTP status, request timeout, or a JSON-RPC error reply for
	// non-tool methods.
	ErrRequestFailed = errors.New("mcp: request failed")

	// ErrNotConnected is returned when an operation is attempted on a
	// client that has not connected, or whose server is not in the
	// Connected state.
	ErrNotConnected = errors.New("mcp: server not connected")

	// ErrConfig is returned when a ServerConfig or AgentConfig is missing
	// required fields or references an unknown server.
	ErrConfig = errors.New("mcp: invalid config")

	// ErrInvalidURI is returned when a resource URI cannot be parsed.
	ErrInvalidURI = errors.New("mcp: invalid uri")

	// ErrServerNotFound is returned when referencing a server name the
	// Manager does not know about.
	ErrServerNotFound = errors.New("mcp: server not found")

	// ErrToolCallFailed is returned when the remote reports an error for a
	// tools/call request.
	ErrToolCallFailed = errors.New("mcp: tool call failed")

	// ErrProtocol is returned when the remote sends a malformed or
	// unmatched JSON-RPC message.
	ErrProtocol = errors.New("mcp: protocol error")

	// ErrResourceNotFound is returned by the cache when no connected
	// server advertises the requested URI.
	ErrResourceNotFound = errors.New("mcp: resource not found")
)

// IsRetryable reports whether err is a transient failure the RetryPolicy may
// retry. The classification is fixed: connection, request and not-connected
// failures are transient; everything else is permanent and surfaces on the
// first occurrence.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrRequestFailed) ||
		errors.Is(err, ErrNotConnected)
}
