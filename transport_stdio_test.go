package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperConfig spawns the test binary itself as an MCP stdio server; see
// TestHelperProcess.
func helperConfig() ServerConfig {
	return ServerConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess"},
		Env:     map[string]string{"GO_MCP_HELPER": "1"},
	}
}

func newStdioFixture(t *testing.T, opts ...Option) Client {
	t.Helper()
	client, err := NewClient(helperConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	return client
}

func TestStdioClient_EndToEnd(t *testing.T) {
	client := newStdioFixture(t)
	assert.False(t, client.Connected())

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.Connected())

	info := client.ServerInfo()
	require.NotNil(t, info)
	assert.Equal(t, "helper", info.Name)
	assert.Equal(t, ProtocolVersion, info.ProtocolVersion)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "echo")

	result, err := client.CallTool(context.Background(), "echo", map[string]any{"text": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ping", result.JoinedText())
	assert.False(t, result.IsError)

	contents, err := client.ReadResource(context.Background(), "file:///hello.txt")
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "resource:file:///hello.txt", contents[0].Text)

	require.NoError(t, client.Disconnect(context.Background()))
	assert.False(t, client.Connected())
}

func TestStdioClient_Disconnect_Idempotent(t *testing.T) {
	client := newStdioFixture(t)
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Disconnect(context.Background()))
	require.NoError(t, client.Disconnect(context.Background()))
	assert.False(t, client.Connected())
}

func TestStdioClient_GuardsBeforeConnect(t *testing.T) {
	client := newStdioFixture(t)

	_, err := client.ListTools(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStdioClient_SpawnFailure(t *testing.T) {
	client, err := NewClient(ServerConfig{Command: "/nonexistent/mcp-server-binary"})
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.False(t, client.Connected())
}

func TestStdioClient_PipelinedRequestsCompleteOutOfOrder(t *testing.T) {
	client := newStdioFixture(t)
	require.NoError(t, client.Connect(context.Background()))

	order := make(chan string, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		_, err := client.CallTool(context.Background(), "sleep", map[string]any{"ms": float64(400)})
		assert.NoError(t, err)
		order <- "slow"
	}()

	// Give the slow request a head start on the pipe.
	time.Sleep(50 * time.Millisecond)
	go func() {
		defer wg.Done()
		result, err := client.CallTool(context.Background(), "echo", map[string]any{"text": "fast"})
		assert.NoError(t, err)
		assert.Equal(t, "fast", result.JoinedText())
		order <- "fast"
	}()

	wg.Wait()
	close(order)
	assert.Equal(t, "fast", <-order, "later short request must not wait behind an earlier slow one")
	assert.Equal(t, "slow", <-order)
}

func TestStdioClient_CancelledCallLeavesConnectionUsable(t *testing.T) {
	client := newStdioFixture(t)
	require.NoError(t, client.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.CallTool(ctx, "sleep", map[string]any{"ms": float64(10000)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned request must not poison the connection.
	assert.True(t, client.Connected())
	result, err := client.CallTool(context.Background(), "echo", map[string]any{"text": "still alive"})
	require.NoError(t, err)
	assert.Equal(t, "still alive", result.JoinedText())
}

func TestStdioClient_RequestTimeout(t *testing.T) {
	client := newStdioFixture(t, WithRequestTimeout(100*time.Millisecond))
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.CallTool(context.Background(), "black_hole", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestStdioClient_ServerDeathFailsInFlightCalls(t *testing.T) {
	client := newStdioFixture(t, WithShutdownGrace(200*time.Millisecond))
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.CallTool(context.Background(), "die", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionFailed)

	require.Eventually(t, func() bool { return !client.Connected() },
		2*time.Second, 10*time.Millisecond)

	_, err = client.CallTool(context.Background(), "echo", map[string]any{"text": "x"})
	require.Error(t, err)
}

func TestStdioClient_RemoteToolError(t *testing.T) {
	client := newStdioFixture(t)
	require.NoError(t, client.Connect(context.Background()))

	_, err := client.CallTool(context.Background(), "fail", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolCallFailed)
}

// TestHelperProcess is not a real test: when re-executed with GO_MCP_HELPER
// set it becomes a newline-delimited JSON-RPC server on its own stdin/stdout,
// handling each request concurrently so responses can complete out of order.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_MCP_HELPER") != "1" {
		return
	}
	defer os.Exit(0)

	var writeMu sync.Mutex
	reply := func(id string, result any, rpcErr *rpcError) {
		body := map[string]any{"jsonrpc": "2.0", "id": id}
		if rpcErr != nil {
			body["error"] = rpcErr
		} else {
			body["result"] = result
		}
		data, err := json.Marshal(body)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		os.Stdout.Write(append(data, '\n'))
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var req struct {
				ID     string          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if json.Unmarshal(line, &req) == nil && req.ID != "" {
				go handleHelperRequest(req.ID, req.Method, req.Params, reply)
			}
		}
		if err != nil {
			return
		}
	}
}

func handleHelperRequest(id, method string, params json.RawMessage, reply func(string, any, *rpcError)) {
	switch method {
	case methodInitialize:
		reply(id, map[string]any{
			"protocolVersion": ProtocolVersion,
			"serverInfo":      map[string]any{"name": "helper", "version": "0.0.1"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}, nil)

	case methodToolsList:
		reply(id, map[string]any{"tools": []map[string]any{
			{"name": "echo", "description": "Echo text back"},
			{"name": "sleep", "description": "Wait the given milliseconds"},
		}}, nil)

	case methodToolsCall:
		var call struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal(params, &call); err != nil {
			reply(id, nil, &rpcError{Code: -32602, Message: "bad params"})
			return
		}
		switch call.Name {
		case "echo":
			text, _ := call.Arguments["text"].(string)
			reply(id, textToolResult(text), nil)
		case "sleep":
			ms, _ := call.Arguments["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			reply(id, textToolResult("woke"), nil)
		case "black_hole":
			// Never respond.
		case "die":
			os.Exit(1)
		case "fail":
			reply(id, nil, &rpcError{Code: -32000, Message: "tool failed"})
		default:
			reply(id, nil, &rpcError{Code: -32601, Message: "unknown tool"})
		}

	case methodResourcesRead:
		var read struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(params, &read); err != nil {
			reply(id, nil, &rpcError{Code: -32602, Message: "bad params"})
			return
		}
		reply(id, map[string]any{"contents": []map[string]any{
			{"uri": read.URI, "mimeType": "text/plain", "text": "resource:" + read.URI},
		}}, nil)

	default:
		reply(id, nil, &rpcError{Code: -32601, Message: fmt.Sprintf("method %q not found", method)})
	}
}

func textToolResult(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": false,
	}
}
