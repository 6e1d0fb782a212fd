package mcpclient

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Defaults applied by resolveOptions.
const (
	// DefaultRequestTimeout bounds a single stdio request when the caller's
	// context carries no earlier deadline. The HTTP transport uses the
	// per-server configured timeout instead.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultShutdownGrace is how long a disconnecting stdio transport
	// waits for the child process to exit before killing it.
	DefaultShutdownGrace = 5 * time.Second
)

var defaultClientInfo = Info{Name: "mcpclient", Version: "0.1.0"}

// Option configures clients, the Manager and the ResourceCache via the
// functional options pattern.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	clientInfo     Info
	retry          RetryPolicy
	requestTimeout time.Duration
	shutdownGrace  time.Duration
	httpClient     *http.Client
}

func resolveOptions(opts []Option) options {
	o := options{
		logger:         zap.NewNop(),
		clientInfo:     defaultClientInfo,
		retry:          DefaultRetryPolicy(),
		requestTimeout: DefaultRequestTimeout,
		shutdownGrace:  DefaultShutdownGrace,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClientInfo sets the name/version declared during the handshake.
func WithClientInfo(info Info) Option {
	return func(o *options) { o.clientInfo = info }
}

// WithRetryPolicy sets the policy the Manager wraps around connection
// attempts.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithRequestTimeout sets the per-request liveness timeout on the stdio
// transport.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// WithShutdownGrace sets how long a disconnecting stdio transport waits for
// graceful exit before killing the child process.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownGrace = d
		}
	}
}

// WithHTTPClient injects the HTTP client used by the network transport,
// primarily for testing. The configured request timeout still applies
// per server unless the injected client sets its own.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}
