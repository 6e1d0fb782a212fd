package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Tool naming convention for aggregated toolsets: mcp__{server}__{tool}.
// The double underscore keeps server and tool names unambiguous as long as
// server names themselves avoid "__", which Config.Validate enforces.

// BridgedToolName returns the namespaced name for a server's tool.
func BridgedToolName(server, tool string) string {
	return "mcp__" + server + "__" + tool
}

// SplitBridgedName is the inverse of BridgedToolName. ok is false when name
// does not follow the convention.
func SplitBridgedName(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, "mcp__")
	if !found {
		return "", "", false
	}
	server, tool, found = strings.Cut(rest, "__")
	if !found || server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// BridgedTool is one discovered tool bound to its route through the Manager.
// Call invokes the underlying server tool directly; the filter has already
// been applied, so holding a BridgedTool is holding permission to call it.
type BridgedTool struct {
	// Server is the server the tool belongs to.
	Server string

	// Name is the tool's original name on its server.
	Name string

	// FullName is the namespaced mcp__{server}__{tool} form.
	FullName string

	// Description is the server-provided description, possibly empty.
	Description string

	// InputSchema is the tool's JSON Schema for arguments, verbatim from
	// the server.
	InputSchema json.RawMessage

	manager *Manager
}

// Call invokes the tool on its owning server.
func (t *BridgedTool) Call(ctx context.Context, args map[string]any) (*ToolResult, error) {
	return t.manager.CallTool(ctx, t.Server, t.Name, args)
}

// Toolset is the filtered, namespaced view of every tool the connected
// servers expose. It is a snapshot: rebuild it after Reconnect or when
// servers change what they serve.
type Toolset struct {
	tools []*BridgedTool
	index map[string]*BridgedTool
}

// DiscoverToolset aggregates tools from all connected servers, applies the
// agent's tool filter to the namespaced names, and binds each survivor to
// its route. Excluded tools are logged at debug and dropped.
func DiscoverToolset(ctx context.Context, m *Manager, opts ...Option) (*Toolset, error) {
	o := resolveOptions(opts)
	filter, err := NewFilter(m.AgentConfig().Tools)
	if err != nil {
		return nil, err
	}

	discovered, err := m.DiscoverTools(ctx)
	if err != nil {
		return nil, err
	}

	ts := &Toolset{index: make(map[string]*BridgedTool, len(discovered))}
	for _, d := range discovered {
		full := BridgedToolName(d.Server, d.Name)
		if !filter.ShouldInclude(full) {
			o.logger.Debug("tool excluded by filter", zap.String("tool", full))
			continue
		}
		t := &BridgedTool{
			Server:      d.Server,
			Name:        d.Name,
			FullName:    full,
			Description: d.Description,
			InputSchema: d.InputSchema,
			manager:     m,
		}
		ts.tools = append(ts.tools, t)
		ts.index[full] = t
	}
	o.logger.Info("toolset assembled",
		zap.Int("included", len(ts.tools)),
		zap.Int("discovered", len(discovered)))
	return ts, nil
}

// Tools returns the included tools in discovery order (sorted by server,
// then tool name).
func (ts *Toolset) Tools() []*BridgedTool {
	return ts.tools
}

// Lookup finds a tool by its namespaced name.
func (ts *Toolset) Lookup(fullName string) (*BridgedTool, bool) {
	t, ok := ts.index[fullName]
	return t, ok
}

// Call routes a call by namespaced name. Unknown or filtered-out names fail
// with ErrServerNotFound so callers cannot probe past the filter.
func (ts *Toolset) Call(ctx context.Context, fullName string, args map[string]any) (*ToolResult, error) {
	t, ok := ts.index[fullName]
	if !ok {
		return nil, fmt.Errorf("%w: no tool %q", ErrServerNotFound, fullName)
	}
	return t.Call(ctx, args)
}

// Len returns the number of included tools.
func (ts *Toolset) Len() int {
	return len(ts.tools)
}

// Resourceset is the filtered view of every resource the connected servers
// expose, keyed by URI. Resource filters match raw URIs, not namespaced
// names.
type Resourceset struct {
	resources []ServerResource
	index     map[string]ServerResource
}

// DiscoverResourceset aggregates resources from all connected servers and
// applies the agent's resource filter to their URIs.
func DiscoverResourceset(ctx context.Context, m *Manager, opts ...Option) (*Resourceset, error) {
	o := resolveOptions(opts)
	filter, err := NewFilter(m.AgentConfig().Resources)
	if err != nil {
		return nil, err
	}

	discovered, err := m.DiscoverResources(ctx)
	if err != nil {
		return nil, err
	}

	rs := &Resourceset{index: make(map[string]ServerResource, len(discovered))}
	for _, d := range discovered {
		if !filter.ShouldInclude(d.URI) {
			o.logger.Debug("resource excluded by filter", zap.String("uri", d.URI))
			continue
		}
		rs.resources = append(rs.resources, d)
		rs.index[d.URI] = d
	}
	return rs, nil
}

// Resources returns the included resources sorted by server, then URI.
func (rs *Resourceset) Resources() []ServerResource {
	return rs.resources
}

// Lookup finds an included resource by URI.
func (rs *Resourceset) Lookup(uri string) (ServerResource, bool) {
	r, ok := rs.index[uri]
	return r, ok
}

// Len returns the number of included resources.
func (rs *Resourceset) Len() int {
	return len(rs.resources)
}
