// Package mcpclient is a multi-server Model Context Protocol (MCP) client.
//
// It lets a host application discover and invoke tools, resources and prompts
// exposed by external MCP servers, over either a local subprocess (stdio)
// transport or a remote HTTP transport, interchangeably and concurrently.
//
// The entry point is [Manager], which owns one [Client] per configured server
// and handles the connect/retry/health/shutdown lifecycle:
//
//	cfg := mcpclient.Config{
//	    Servers: map[string]mcpclient.ServerConfig{
//	        "files": {Transport: mcpclient.TransportStdio, Command: "mcp-files", Args: []string{"--root", "."}},
//	        "search": {Transport: mcpclient.TransportHTTP, URL: "https://search.internal/mcp"},
//	    },
//	    Agents: map[string]mcpclient.AgentConfig{
//	        "assistant": {Servers: []string{"files", "search"}, Tools: mcpclient.FilterSpec{Allow: []string{"*"}}},
//	    },
//	}
//	mgr, err := mcpclient.NewManager(cfg, "assistant")
//	if err != nil { ... }
//	mgr.Initialize(ctx) // degrades gracefully; check mgr.HealthCheck()
//	defer mgr.Shutdown(context.Background())
//
//	tools, _ := mgr.DiscoverTools(ctx)
//	result, err := mgr.CallTool(ctx, "files", "read_file", map[string]any{"path": "go.mod"})
//
// [ResourceCache] adds URI-keyed caching with bulk prefetch in front of
// resource reads, and [DiscoverToolset] turns discovered capabilities plus
// the agent's allow/deny [Filter] into a flat name-to-callable mapping with
// mcp__{server}__{tool} namespacing.
//
// A server that fails to connect never takes the others down: Initialize
// records per-server outcomes and every discovery and routing operation works
// with whatever subset is Connected.
package mcpclient
