package mcpclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ConnectionState is the lifecycle state of one managed server. It is owned
// exclusively by the Manager and never mutated from outside.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// ServerTool is a discovered tool tagged with its owning server.
type ServerTool struct {
	Server string
	ToolInfo
}

// ServerResource is a discovered resource tagged with its owning server.
type ServerResource struct {
	Server string
	ResourceInfo
}

// ServerPrompt is a discovered prompt tagged with its owning server.
type ServerPrompt struct {
	Server string
	PromptInfo
}

type serverEntry struct {
	name    string
	client  Client
	state   ConnectionState
	lastErr error
}

// Manager owns one Client per configured server and coordinates the
// connect/retry/health/shutdown lifecycle across them. A failure on one
// server is recorded against that server only; the rest keep working
// (graceful degradation).
type Manager struct {
	logger   *zap.Logger
	retry    RetryPolicy
	agent    string
	agentCfg AgentConfig

	mu      sync.RWMutex
	servers map[string]*serverEntry
}

// NewManager builds a Manager for the named agent from a validated Config.
// Clients are constructed eagerly, so shape errors in any referenced
// ServerConfig surface here, not at Initialize time. The agent must exist in
// cfg.Agents (or a "default" entry must).
func NewManager(cfg Config, agent string, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	agentCfg, ok := cfg.AgentFor(agent)
	if !ok {
		return nil, fmt.Errorf("%w: no agent configuration for %q", ErrConfig, agent)
	}

	o := resolveOptions(opts)
	m := &Manager{
		logger:   o.logger.With(zap.String("agent", agent)),
		retry:    o.retry,
		agent:    agent,
		agentCfg: agentCfg,
		servers:  make(map[string]*serverEntry, len(agentCfg.Servers)),
	}
	for _, name := range agentCfg.Servers {
		client, err := NewClient(cfg.Servers[name], opts...)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", name, err)
		}
		m.servers[name] = &serverEntry{name: name, client: client, state: StateDisconnected}
	}
	return m, nil
}

// newManagerWithClients wires pre-built clients, for tests.
func newManagerWithClients(clients map[string]Client, agentCfg AgentConfig, opts ...Option) *Manager {
	o := resolveOptions(opts)
	m := &Manager{
		logger:   o.logger,
		retry:    o.retry,
		agentCfg: agentCfg,
		servers:  make(map[string]*serverEntry, len(clients)),
	}
	for name, c := range clients {
		m.servers[name] = &serverEntry{name: name, client: c, state: StateDisconnected}
	}
	return m
}

// AgentConfig returns the filter and server-set configuration for the agent
// this Manager was built for.
func (m *Manager) AgentConfig() AgentConfig {
	return m.agentCfg
}

// Initialize attempts to connect every configured server in parallel, each
// attempt wrapped by the retry policy. Per-server outcomes are recorded
// independently: a server that cannot connect is marked Failed and the rest
// proceed. The returned error is non-nil only when ctx is cancelled; callers
// inspect HealthCheck or ConnectedServers to learn how many succeeded.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			m.connectEntry(ctx, e)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	connected := len(m.ConnectedServers())
	if connected == 0 && len(entries) > 0 {
		m.logger.Warn("no servers connected", zap.Int("configured", len(entries)))
	} else {
		m.logger.Info("initialization complete",
			zap.Int("connected", connected), zap.Int("configured", len(entries)))
	}
	return nil
}

// connectEntry runs the retry-wrapped connect for one server and records the
// outcome.
func (m *Manager) connectEntry(ctx context.Context, e *serverEntry) {
	m.setState(e, StateConnecting, nil)

	err := m.retry.Do(ctx, m.logger, "connect "+e.name, func(ctx context.Context) error {
		return e.client.Connect(ctx)
	})
	if err != nil {
		m.logger.Warn("server unavailable, continuing without it",
			zap.String("server", e.name), zap.Error(err))
		m.setState(e, StateFailed, err)
		return
	}
	m.logger.Info("server connected", zap.String("server", e.name))
	m.setState(e, StateConnected, nil)
}

// DiscoverTools lists tools from every Connected server in parallel, tags
// each with its owning server and concatenates, ordered by server name.
// Servers in Failed state are skipped silently; a list failure demotes only
// that server's contribution, never the aggregate.
func (m *Manager) DiscoverTools(ctx context.Context) ([]ServerTool, error) {
	var (
		mu  sync.Mutex
		all []ServerTool
	)
	err := m.eachConnected(ctx, func(ctx context.Context, e *serverEntry) {
		tools, err := e.client.ListTools(ctx)
		if err != nil {
			m.logger.Warn("listing tools failed", zap.String("server", e.name), zap.Error(err))
			return
		}
		mu.Lock()
		for _, t := range tools {
			all = append(all, ServerTool{Server: e.name, ToolInfo: t})
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	sortByServer(all, func(t ServerTool) string { return t.Server + "\x00" + t.Name })
	return all, nil
}

// DiscoverResources is DiscoverTools for resources.
func (m *Manager) DiscoverResources(ctx context.Context) ([]ServerResource, error) {
	var (
		mu  sync.Mutex
		all []ServerResource
	)
	err := m.eachConnected(ctx, func(ctx context.Context, e *serverEntry) {
		resources, err := e.client.ListResources(ctx)
		if err != nil {
			m.logger.Warn("listing resources failed", zap.String("server", e.name), zap.Error(err))
			return
		}
		mu.Lock()
		for _, r := range resources {
			all = append(all, ServerResource{Server: e.name, ResourceInfo: r})
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	sortByServer(all, func(r ServerResource) string { return r.Server + "\x00" + r.URI })
	return all, nil
}

// DiscoverPrompts is DiscoverTools for prompts.
func (m *Manager) DiscoverPrompts(ctx context.Context) ([]ServerPrompt, error) {
	var (
		mu  sync.Mutex
		all []ServerPrompt
	)
	err := m.eachConnected(ctx, func(ctx context.Context, e *serverEntry) {
		prompts, err := e.client.ListPrompts(ctx)
		if err != nil {
			m.logger.Warn("listing prompts failed", zap.String("server", e.name), zap.Error(err))
			return
		}
		mu.Lock()
		for _, p := range prompts {
			all = append(all, ServerPrompt{Server: e.name, PromptInfo: p})
		}
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}
	sortByServer(all, func(p ServerPrompt) string { return p.Server + "\x00" + p.Name })
	return all, nil
}

// CallTool routes a tool call to the named server. Filtering already
// happened at discovery time; this is pure routing, no policy.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*ToolResult, error) {
	client, err := m.connectedClient(server)
	if err != nil {
		return nil, err
	}
	return client.CallTool(ctx, tool, args)
}

// ReadResource routes a resource read to the named server.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) ([]ResourceContents, error) {
	client, err := m.connectedClient(server)
	if err != nil {
		return nil, err
	}
	return client.ReadResource(ctx, uri)
}

// GetPrompt routes a prompt fetch to the named server.
func (m *Manager) GetPrompt(ctx context.Context, server, name string, args map[string]any) (*PromptResult, error) {
	client, err := m.connectedClient(server)
	if err != nil {
		return nil, err
	}
	return client.GetPrompt(ctx, name, args)
}

// ServerInfo returns the handshake-declared info for the named server, nil
// if it never connected.
func (m *Manager) ServerInfo(server string) (*ServerInfo, error) {
	m.mu.RLock()
	e, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, server)
	}
	return e.client.ServerInfo(), nil
}

// State returns the recorded connection state for the named server and the
// last connect error, if any.
func (m *Manager) State(server string) (ConnectionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.servers[server]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrServerNotFound, server)
	}
	return e.state, e.lastErr
}

// HealthCheck probes each server's transport-level liveness without mutating
// any state. A server can be recorded Connected yet unhealthy, e.g. when a
// subprocess died since the last call.
func (m *Manager) HealthCheck(context.Context) map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.servers))
	for name, e := range m.servers {
		healthy := e.state == StateConnected && e.client.Connected()
		status[name] = healthy
		if !healthy && e.state == StateConnected {
			m.logger.Warn("server recorded connected but transport is down",
				zap.String("server", name))
		}
	}
	return status
}

// Reconnect re-runs the retry-wrapped connect for one server, typically
// after HealthCheck reported it down. The old transport is released first.
func (m *Manager) Reconnect(ctx context.Context, server string) error {
	m.mu.RLock()
	e, ok := m.servers[server]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrServerNotFound, server)
	}

	_ = e.client.Disconnect(ctx)
	m.connectEntry(ctx, e)

	state, lastErr := m.State(server)
	if state != StateConnected {
		return lastErr
	}
	return nil
}

// Shutdown disconnects every client regardless of individual failures and
// marks every server Disconnected. Safe to call multiple times and safe
// concurrently with in-flight calls, which may fail with ErrNotConnected
// once their server's transport closes.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	for _, e := range entries {
		_ = e.client.Disconnect(ctx)
		m.setState(e, StateDisconnected, nil)
	}
	m.logger.Info("all servers disconnected")
	return nil
}

// ConnectedServers returns the sorted names of servers currently recorded
// Connected.
func (m *Manager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name, e := range m.servers {
		if e.state == StateConnected {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ServerNames returns the sorted names of all configured servers.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasConnections reports whether any server is currently Connected.
func (m *Manager) HasConnections() bool {
	return len(m.ConnectedServers()) > 0
}

func (m *Manager) connectedClient(server string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.servers[server]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerNotFound, server)
	}
	if e.state != StateConnected {
		return nil, fmt.Errorf("%w: server %q is %s", ErrNotConnected, server, e.state)
	}
	return e.client, nil
}

// eachConnected runs fn in parallel over every Connected server. fn records
// its own failures; the only error out of here is ctx cancellation.
func (m *Manager) eachConnected(ctx context.Context, fn func(context.Context, *serverEntry)) error {
	m.mu.RLock()
	entries := make([]*serverEntry, 0, len(m.servers))
	for _, e := range m.servers {
		if e.state == StateConnected {
			entries = append(entries, e)
		}
	}
	m.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			fn(ctx, e)
			return ctx.Err()
		})
	}
	return g.Wait()
}

func (m *Manager) setState(e *serverEntry, state ConnectionState, err error) {
	m.mu.Lock()
	e.state = state
	e.lastErr = err
	m.mu.Unlock()
}

func sortByServer[T any](items []T, key func(T) string) {
	sort.Slice(items, func(i, j int) bool { return key(items[i]) < key(items[j]) })
}
