package mcpclient

import (
	"fmt"
	"strings"
	"time"
)

// TransportType selects how a server is reached.
type TransportType string

const (
	// TransportStdio spawns the server as a subprocess and speaks
	// newline-delimited JSON-RPC over its standard streams.
	TransportStdio TransportType = "stdio"

	// TransportHTTP speaks JSON-RPC over HTTP POST, with optional SSE
	// response streaming.
	TransportHTTP TransportType = "http"
)

// DefaultHTTPTimeout applies when an HTTP server config leaves Timeout zero.
const DefaultHTTPTimeout = 30 * time.Second

// ServerConfig describes how to connect to a single MCP server. Exactly one
// transport shape is active, selected by Transport; the stdio fields and the
// HTTP fields are mutually exclusive.
type ServerConfig struct {
	// Transport selects the shape. If empty, it is inferred: Command set
	// means stdio, URL set means http.
	Transport TransportType

	// Stdio shape.
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// HTTP shape.
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// kind resolves the effective transport, inferring it when unset.
func (c ServerConfig) kind() TransportType {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return TransportStdio
	}
	if c.URL != "" {
		return TransportHTTP
	}
	return ""
}

// Validate checks that the config carries the fields its transport requires
// and none of the other shape's fields.
func (c ServerConfig) Validate() error {
	switch c.kind() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("%w: stdio transport requires command", ErrConfig)
		}
		if c.URL != "" || len(c.Headers) > 0 {
			return fmt.Errorf("%w: stdio transport must not set url or headers", ErrConfig)
		}
	case TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("%w: http transport requires url", ErrConfig)
		}
		if c.Command != "" || len(c.Args) > 0 {
			return fmt.Errorf("%w: http transport must not set command or args", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: server config needs either command or url", ErrConfig)
	}
	return nil
}

// FilterSpec is the allow/deny pattern configuration consumed by NewFilter.
// Patterns support a single wildcard `*` meaning "any substring".
type FilterSpec struct {
	Allow []string
	Deny  []string
}

// AgentConfig scopes one caller identity: which servers it may use and how
// its tool and resource sets are filtered.
type AgentConfig struct {
	// Servers lists the server names this agent may use. Every name must
	// exist in Config.Servers.
	Servers []string

	// Tools filters discovered tool names.
	Tools FilterSpec

	// Resources filters discovered resource URIs.
	Resources FilterSpec
}

// Config is the validated configuration the core consumes. It is produced by
// an external loader; environment placeholders are already resolved and
// defaults already merged by the time it reaches this package.
type Config struct {
	Servers map[string]ServerConfig
	Agents  map[string]AgentConfig
}

// Validate checks every server config and every agent's server references.
// Unresolved references are a configuration error, not a runtime error.
func (c Config) Validate() error {
	for name, sc := range c.Servers {
		if name == "" {
			return fmt.Errorf("%w: server name must not be empty", ErrConfig)
		}
		// Reserved as the separator in namespaced tool names.
		if strings.Contains(name, "__") {
			return fmt.Errorf("%w: server name %q must not contain %q", ErrConfig, name, "__")
		}
		if err := sc.Validate(); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}
	for agent, ac := range c.Agents {
		for _, ref := range ac.Servers {
			if _, ok := c.Servers[ref]; !ok {
				return fmt.Errorf("%w: agent %q references unknown server %q", ErrConfig, agent, ref)
			}
		}
	}
	return nil
}

// AgentFor returns the config for the named agent, falling back to the
// "default" entry when no specific one exists.
func (c Config) AgentFor(name string) (AgentConfig, bool) {
	if ac, ok := c.Agents[name]; ok {
		return ac, true
	}
	ac, ok := c.Agents["default"]
	return ac, ok
}
