package mcpclient

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient is a Client stub that returns canned data for testing.
type mockClient struct {
	mu          sync.Mutex
	tools       []ToolInfo
	resources   []ResourceInfo
	prompts     []PromptInfo
	connectErrs []error // consumed one per Connect attempt, then success
	callFn      func(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	readFn      func(ctx context.Context, uri string) ([]ResourceContents, error)
	info        *ServerInfo

	connected    bool
	connectCalls int
	disconnects  int
}

func newMockClient() *mockClient {
	return &mockClient{
		info: &ServerInfo{Name: "mock", Version: "1.0.0", ProtocolVersion: ProtocolVersion},
	}
}

func (m *mockClient) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	m.connected = true
	return nil
}

func (m *mockClient) Disconnect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connected = false
	return nil
}

func (m *mockClient) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) ListTools(context.Context) ([]ToolInfo, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	return m.tools, nil
}

func (m *mockClient) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	if m.callFn != nil {
		return m.callFn(ctx, name, args)
	}
	return &ToolResult{Content: []Content{TextContent("mock result")}}, nil
}

func (m *mockClient) ListResources(context.Context) ([]ResourceInfo, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	return m.resources, nil
}

func (m *mockClient) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	if m.readFn != nil {
		return m.readFn(ctx, uri)
	}
	return []ResourceContents{{URI: uri, MIMEType: "text/plain", Text: "mock content"}}, nil
}

func (m *mockClient) ListPrompts(context.Context) ([]PromptInfo, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	return m.prompts, nil
}

func (m *mockClient) GetPrompt(ctx context.Context, name string, args map[string]any) (*PromptResult, error) {
	if !m.Connected() {
		return nil, ErrNotConnected
	}
	return &PromptResult{
		Description: "prompt " + name,
		Messages:    []PromptMessage{{Role: "user", Content: TextContent("hello")}},
	}, nil
}

func (m *mockClient) ServerInfo() *ServerInfo {
	return m.info
}

func fastRetry(attempts int) Option {
	return WithRetryPolicy(RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
	})
}

func TestNewManager_UnknownAgent(t *testing.T) {
	cfg := Config{
		Servers: map[string]ServerConfig{"s": {Command: "echo"}},
		Agents:  map[string]AgentConfig{},
	}
	_, err := NewManager(cfg, "researcher")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewManager_UnknownServerReference(t *testing.T) {
	cfg := Config{
		Servers: map[string]ServerConfig{"s": {Command: "echo"}},
		Agents:  map[string]AgentConfig{"default": {Servers: []string{"s", "ghost"}}},
	}
	_, err := NewManager(cfg, "default")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewManager_FallsBackToDefaultAgent(t *testing.T) {
	cfg := Config{
		Servers: map[string]ServerConfig{"s": {Command: "echo"}},
		Agents:  map[string]AgentConfig{"default": {Servers: []string{"s"}}},
	}
	mgr, err := NewManager(cfg, "researcher")
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, mgr.ServerNames())
}

func TestManager_Initialize_PartialFailure(t *testing.T) {
	bad := newMockClient()
	bad.connectErrs = []error{fmt.Errorf("%w: bad binary", ErrConfig)}
	good := newMockClient()

	mgr := newManagerWithClients(map[string]Client{"bad": bad, "good": good}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	assert.Equal(t, []string{"good"}, mgr.ConnectedServers())
	assert.True(t, mgr.HasConnections())

	state, lastErr := mgr.State("bad")
	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, lastErr, ErrConfig)

	state, lastErr = mgr.State("good")
	assert.Equal(t, StateConnected, state)
	assert.NoError(t, lastErr)
}

func TestManager_Initialize_RetriesTransientFailures(t *testing.T) {
	flaky := newMockClient()
	flaky.connectErrs = []error{ErrConnectionFailed, ErrConnectionFailed}

	mgr := newManagerWithClients(map[string]Client{"flaky": flaky}, AgentConfig{}, fastRetry(3))
	require.NoError(t, mgr.Initialize(context.Background()))

	assert.Equal(t, 3, flaky.connectCalls)
	state, _ := mgr.State("flaky")
	assert.Equal(t, StateConnected, state)
}

func TestManager_Initialize_PermanentFailureSkipsRetry(t *testing.T) {
	bad := newMockClient()
	bad.connectErrs = []error{ErrConfig, ErrConfig, ErrConfig}

	mgr := newManagerWithClients(map[string]Client{"bad": bad}, AgentConfig{}, fastRetry(3))
	require.NoError(t, mgr.Initialize(context.Background()))

	assert.Equal(t, 1, bad.connectCalls, "non-retryable error must not be retried")
	state, _ := mgr.State("bad")
	assert.Equal(t, StateFailed, state)
}

func TestManager_CallTool(t *testing.T) {
	mock := newMockClient()
	mock.callFn = func(_ context.Context, name string, args map[string]any) (*ToolResult, error) {
		return &ToolResult{Content: []Content{TextContent("hello " + args["name"].(string))}}, nil
	}
	mgr := newManagerWithClients(map[string]Client{"greeter": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	result, err := mgr.CallTool(context.Background(), "greeter", "greet", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.JoinedText())
}

func TestManager_CallTool_ServerNotFound(t *testing.T) {
	mgr := newManagerWithClients(map[string]Client{}, AgentConfig{})

	_, err := mgr.CallTool(context.Background(), "ghost", "tool", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestManager_CallTool_FailedServer(t *testing.T) {
	bad := newMockClient()
	bad.connectErrs = []error{ErrConnectionFailed}
	mgr := newManagerWithClients(map[string]Client{"bad": bad}, AgentConfig{}, fastRetry(1))
	require.NoError(t, mgr.Initialize(context.Background()))

	_, err := mgr.CallTool(context.Background(), "bad", "tool", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_DiscoverTools(t *testing.T) {
	alpha := newMockClient()
	alpha.tools = []ToolInfo{{Name: "search"}, {Name: "read"}}
	beta := newMockClient()
	beta.tools = []ToolInfo{{Name: "write"}}

	mgr := newManagerWithClients(map[string]Client{"alpha": alpha, "beta": beta}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	tools, err := mgr.DiscoverTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)

	// Ordered by server then tool name.
	assert.Equal(t, "alpha", tools[0].Server)
	assert.Equal(t, "read", tools[0].Name)
	assert.Equal(t, "alpha", tools[1].Server)
	assert.Equal(t, "search", tools[1].Name)
	assert.Equal(t, "beta", tools[2].Server)
	assert.Equal(t, "write", tools[2].Name)
}

func TestManager_DiscoverTools_SkipsFailedServers(t *testing.T) {
	up := newMockClient()
	up.tools = []ToolInfo{{Name: "ok"}}
	down := newMockClient()
	down.connectErrs = []error{ErrConnectionFailed}

	mgr := newManagerWithClients(map[string]Client{"up": up, "down": down}, AgentConfig{}, fastRetry(1))
	require.NoError(t, mgr.Initialize(context.Background()))

	tools, err := mgr.DiscoverTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "up", tools[0].Server)
}

func TestManager_DiscoverResources(t *testing.T) {
	mock := newMockClient()
	mock.resources = []ResourceInfo{
		{URI: "file:///b.txt", Name: "b"},
		{URI: "file:///a.txt", Name: "a"},
	}
	mgr := newManagerWithClients(map[string]Client{"files": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	resources, err := mgr.DiscoverResources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "file:///a.txt", resources[0].URI)
	assert.Equal(t, "file:///b.txt", resources[1].URI)
}

func TestManager_DiscoverPrompts(t *testing.T) {
	mock := newMockClient()
	mock.prompts = []PromptInfo{{Name: "summarize"}}
	mgr := newManagerWithClients(map[string]Client{"p": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	prompts, err := mgr.DiscoverPrompts(context.Background())
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "p", prompts[0].Server)
	assert.Equal(t, "summarize", prompts[0].Name)
}

func TestManager_ReadResource_Routing(t *testing.T) {
	mock := newMockClient()
	mgr := newManagerWithClients(map[string]Client{"docs": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	contents, err := mgr.ReadResource(context.Background(), "docs", "file:///readme.md")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "mock content", contents[0].Text)

	_, err = mgr.ReadResource(context.Background(), "missing", "file:///readme.md")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestManager_HealthCheck(t *testing.T) {
	mock := newMockClient()
	mgr := newManagerWithClients(map[string]Client{"srv": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	health := mgr.HealthCheck(context.Background())
	assert.True(t, health["srv"])

	// Transport dies underneath the recorded state.
	mock.mu.Lock()
	mock.connected = false
	mock.mu.Unlock()

	health = mgr.HealthCheck(context.Background())
	assert.False(t, health["srv"])

	// HealthCheck observes, never mutates.
	state, _ := mgr.State("srv")
	assert.Equal(t, StateConnected, state)
}

func TestManager_Reconnect(t *testing.T) {
	flaky := newMockClient()
	flaky.connectErrs = []error{ErrConnectionFailed}
	mgr := newManagerWithClients(map[string]Client{"flaky": flaky}, AgentConfig{}, fastRetry(1))
	require.NoError(t, mgr.Initialize(context.Background()))

	state, _ := mgr.State("flaky")
	require.Equal(t, StateFailed, state)

	require.NoError(t, mgr.Reconnect(context.Background(), "flaky"))
	state, _ = mgr.State("flaky")
	assert.Equal(t, StateConnected, state)

	err := mgr.Reconnect(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestManager_Shutdown_Idempotent(t *testing.T) {
	mock := newMockClient()
	mgr := newManagerWithClients(map[string]Client{"srv": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	require.NoError(t, mgr.Shutdown(context.Background()))
	require.NoError(t, mgr.Shutdown(context.Background()))

	assert.False(t, mgr.HasConnections())
	_, err := mgr.CallTool(context.Background(), "srv", "tool", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_Shutdown_Concurrent(t *testing.T) {
	mock := newMockClient()
	mgr := newManagerWithClients(map[string]Client{"srv": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.Shutdown(context.Background())
		}()
	}
	wg.Wait()
	assert.False(t, mgr.HasConnections())
}

func TestManager_ServerInfo(t *testing.T) {
	mock := newMockClient()
	mgr := newManagerWithClients(map[string]Client{"srv": mock}, AgentConfig{})
	require.NoError(t, mgr.Initialize(context.Background()))

	info, err := mgr.ServerInfo("srv")
	require.NoError(t, err)
	assert.Equal(t, "mock", info.Name)

	_, err = mgr.ServerInfo("ghost")
	assert.ErrorIs(t, err, ErrServerNotFound)
}
