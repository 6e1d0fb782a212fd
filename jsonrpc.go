package mcpclient

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ProtocolVersion is the MCP protocol revision this client declares during
// the initialize handshake.
const ProtocolVersion = "2024-11-05"

const jsonRPCVersion = "2.0"

// JSON-RPC method names used by the client.
const (
	methodInitialize    = "initialize"
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"
	methodResourcesList = "resources/list"
	methodResourcesRead = "resources/read"
	methodPromptsList   = "prompts/list"
	methodPromptsGet    = "prompts/get"

	notificationInitialized = "notifications/initialized"
)

// rpcRequest is an outgoing JSON-RPC 2.0 request or, when ID is empty, a
// notification.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is an incoming JSON-RPC 2.0 response. The ID echoes the
// request's correlation id; responses are matched by it.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// newRequest builds a request with a fresh correlation id.
func newRequest(method string, params any) rpcRequest {
	return rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}
}

// newNotification builds a notification (no id, no response expected).
func newNotification(method string) rpcRequest {
	return rpcRequest{JSONRPC: jsonRPCVersion, Method: method}
}

// resultOf validates a matched response and extracts its result payload. A
// JSON-RPC error on tools/call maps to ErrToolCallFailed, everything else to
// ErrRequestFailed; a response with neither result nor error is malformed.
func resultOf(resp *rpcResponse, method string) (json.RawMessage, error) {
	if resp.Error != nil {
		if method == methodToolsCall {
			return nil, fmt.Errorf("%w: %s: %s", ErrToolCallFailed, method, resp.Error)
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrRequestFailed, method, resp.Error)
	}
	if resp.Result == nil {
		return nil, fmt.Errorf("%w: %s: response carries neither result nor error", ErrProtocol, method)
	}
	return resp.Result, nil
}

// Request/response payloads for the operations and the handshake.

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    clientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

type clientCapabilities struct {
	Tools     struct{} `json:"tools"`
	Resources struct{} `json:"resources"`
	Prompts   struct{} `json:"prompts"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type resourcesListResult struct {
	Resources []ResourceInfo `json:"resources"`
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourcesReadResult struct {
	Contents []ResourceContents `json:"contents"`
}

type promptsListResult struct {
	Prompts []PromptInfo `json:"prompts"`
}

type promptsGetParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
