package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Info identifies one side of the handshake (name + version).
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities are the capability sets a server declares during the
// handshake. A nil member means the capability is absent.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
}

// ToolsCapability describes the server's tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes the server's resource support.
type ResourcesCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// PromptsCapability describes the server's prompt support.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerInfo is what the server declared during the initialize handshake.
type ServerInfo struct {
	Name            string             `json:"name"`
	Version         string             `json:"version"`
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
}

// ToolInfo describes a tool discovered from a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceInfo describes a resource advertised by a server.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptInfo describes a prompt advertised by a server.
type PromptInfo struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// Client is the contract both transports implement. All operations are
// request/response with per-request correlation ids; Connect must complete
// the initialize/initialized handshake before any other call is made.
type Client interface {
	// Connect establishes the transport and performs the handshake. It
	// fails with ErrConnectionFailed on transport errors and ErrProtocol
	// if the handshake reply is malformed.
	Connect(ctx context.Context) error

	// Disconnect releases transport resources. It is idempotent and
	// best-effort: it never fails observably.
	Disconnect(ctx context.Context) error

	// Connected reports whether the handshake completed and the transport
	// is still usable.
	Connected() bool

	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	ListResources(ctx context.Context) ([]ResourceInfo, error)
	ReadResource(ctx context.Context, uri string) ([]ResourceContents, error)

	ListPrompts(ctx context.Context) ([]PromptInfo, error)
	GetPrompt(ctx context.Context, name string, args map[string]any) (*PromptResult, error)

	// ServerInfo returns the protocol version and capabilities declared by
	// the server during the handshake, or nil before Connect.
	ServerInfo() *ServerInfo
}

// NewClient creates a Client for the given ServerConfig. The transport is a
// closed set selected once here, never by runtime type inspection.
func NewClient(cfg ServerConfig, opts ...Option) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.kind() {
	case TransportStdio:
		return newStdioClient(cfg, opts...), nil
	case TransportHTTP:
		return newHTTPClient(cfg, opts...), nil
	default:
		return nil, fmt.Errorf("%w: unsupported transport %q", ErrConfig, cfg.Transport)
	}
}

// caller is the transport-specific half of a client: one correlation id in,
// one matched result out.
type caller interface {
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
	notify(ctx context.Context, method string) error
	connected() bool
}

// ops implements the operation surface shared by both transports on top of a
// caller. It holds the guard-and-decode logic so the transports only differ
// in how bytes move.
type ops struct {
	c caller
}

func (o ops) ListTools(ctx context.Context) ([]ToolInfo, error) {
	raw, err := o.guardedCall(ctx, methodToolsList, struct{}{})
	if err != nil {
		return nil, err
	}
	var res toolsListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding tools/list result: %v", ErrProtocol, err)
	}
	return res.Tools, nil
}

func (o ops) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := o.guardedCall(ctx, methodToolsCall, toolsCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var res ToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding tools/call result: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (o ops) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	raw, err := o.guardedCall(ctx, methodResourcesList, struct{}{})
	if err != nil {
		return nil, err
	}
	var res resourcesListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding resources/list result: %v", ErrProtocol, err)
	}
	return res.Resources, nil
}

func (o ops) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	if err := validateURI(uri); err != nil {
		return nil, err
	}
	raw, err := o.guardedCall(ctx, methodResourcesRead, resourcesReadParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var res resourcesReadResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding resources/read result: %v", ErrProtocol, err)
	}
	return res.Contents, nil
}

func (o ops) ListPrompts(ctx context.Context) ([]PromptInfo, error) {
	raw, err := o.guardedCall(ctx, methodPromptsList, struct{}{})
	if err != nil {
		return nil, err
	}
	var res promptsListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding prompts/list result: %v", ErrProtocol, err)
	}
	return res.Prompts, nil
}

func (o ops) GetPrompt(ctx context.Context, name string, args map[string]any) (*PromptResult, error) {
	raw, err := o.guardedCall(ctx, methodPromptsGet, promptsGetParams{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var res PromptResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding prompts/get result: %v", ErrProtocol, err)
	}
	return &res, nil
}

func (o ops) guardedCall(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !o.c.connected() {
		return nil, fmt.Errorf("%w: %s before connect", ErrNotConnected, method)
	}
	return o.c.call(ctx, method, params)
}

// handshake runs initialize/initialized over an already-open transport and
// returns the declared server info. No other request may precede it.
func handshake(ctx context.Context, c caller, clientInfo Info) (*ServerInfo, error) {
	raw, err := c.call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      clientInfo,
	})
	if err != nil {
		return nil, err
	}
	var res initializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("%w: decoding initialize result: %v", ErrProtocol, err)
	}
	if res.ProtocolVersion == "" {
		return nil, fmt.Errorf("%w: initialize result missing protocolVersion", ErrProtocol)
	}
	if err := c.notify(ctx, notificationInitialized); err != nil {
		return nil, err
	}
	return &ServerInfo{
		Name:            res.ServerInfo.Name,
		Version:         res.ServerInfo.Version,
		ProtocolVersion: res.ProtocolVersion,
		Capabilities:    res.Capabilities,
	}, nil
}

// validateURI rejects URIs the transports cannot parse. MCP resource URIs
// must carry a scheme.
func validateURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidURI, uri, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("%w: %q: missing scheme", ErrInvalidURI, uri)
	}
	return nil
}
