package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"sync"

	"github.com/tmaxmax/go-sse"
	"go.uber.org/zap"
)

const (
	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"
)

// httpClient implements Client over HTTP: one JSON-RPC object POSTed per
// request, one JSON-RPC object in the response body. Servers may answer with
// an SSE stream instead of a single body; the first event carrying the
// request's correlation id is taken as the logical response, so the contract
// (one id, one response) is unchanged.
type httpClient struct {
	ops

	cfg        ServerConfig
	logger     *zap.Logger
	clientInfo Info
	http       *http.Client

	mu         sync.Mutex
	serverInfo *ServerInfo
	ready      bool
}

var _ Client = (*httpClient)(nil)

func newHTTPClient(cfg ServerConfig, opts ...Option) *httpClient {
	o := resolveOptions(opts)
	hc := o.httpClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultHTTPTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	c := &httpClient{
		cfg:        cfg,
		logger:     o.logger.With(zap.String("transport", "http"), zap.String("url", cfg.URL)),
		clientInfo: o.clientInfo,
		http:       hc,
	}
	c.ops = ops{c: c}
	return c
}

// Connect performs the handshake as ordinary requests; there is no
// transport-level connection to establish.
func (c *httpClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	info, err := handshake(ctx, c, c.clientInfo)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.serverInfo = info
	c.ready = true
	c.mu.Unlock()
	c.logger.Debug("handshake complete",
		zap.String("server", info.Name), zap.String("protocol", info.ProtocolVersion))
	return nil
}

func (c *httpClient) Disconnect(context.Context) error {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	c.http.CloseIdleConnections()
	return nil
}

func (c *httpClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *httpClient) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

func (c *httpClient) connected() bool {
	return c.Connected()
}

// call POSTs one request and parses the matched response from either a JSON
// body or an SSE stream.
func (c *httpClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := newRequest(method, params)
	httpResp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%w: %s: HTTP %d: %s", ErrRequestFailed, method, httpResp.StatusCode, bytes.TrimSpace(body))
	}

	var resp *rpcResponse
	if isEventStream(httpResp.Header.Get("Content-Type")) {
		resp, err = readSSEResponse(httpResp.Body, req.ID)
	} else {
		resp, err = readJSONResponse(httpResp.Body, req.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProtocol, method, err)
	}
	return resultOf(resp, method)
}

// notify sends a notification. Per the protocol no response is expected, so
// delivery is fire-and-forget; failures are logged, not surfaced.
func (c *httpClient) notify(ctx context.Context, method string) error {
	resp, err := c.post(ctx, newNotification(method))
	if err != nil {
		c.logger.Debug("notification not delivered", zap.String("method", method), zap.Error(err))
		return nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return nil
}

func (c *httpClient) post(ctx context.Context, msg rpcRequest) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling %s: %v", ErrRequestFailed, msg.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeJSON+", "+contentTypeSSE)
	// Configured headers go on every request verbatim (bearer tokens etc.).
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A request that ran out of time is a request failure; only
		// dial/transport errors count as connection failures.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s: %v", ErrRequestFailed, msg.Method, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, msg.Method, err)
	}
	return resp, nil
}

func readJSONResponse(body io.Reader, wantID string) (*rpcResponse, error) {
	var resp rpcResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response body: %v", err)
	}
	if resp.ID != wantID {
		return nil, fmt.Errorf("response id %q does not match request id %q", resp.ID, wantID)
	}
	return &resp, nil
}

// readSSEResponse scans an event stream for the response to wantID. Events
// for other ids and non-message events are skipped; the stream ending without
// a match is a protocol error.
func readSSEResponse(body io.Reader, wantID string) (*rpcResponse, error) {
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return nil, fmt.Errorf("reading event stream: %v", err)
		}
		if ev.Type != "" && ev.Type != "message" {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal([]byte(ev.Data), &resp); err != nil {
			continue
		}
		if resp.ID == wantID {
			return &resp, nil
		}
	}
	return nil, fmt.Errorf("event stream ended without a response for id %q", wantID)
}

func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == contentTypeSSE
}
