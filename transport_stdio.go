package mcpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// stdioClient implements Client over a child process, speaking newline-
// delimited JSON-RPC on its standard streams. Requests are pipelined: a
// reader goroutine matches responses to waiters by correlation id, so
// multiple calls may be in flight and complete out of order.
type stdioClient struct {
	ops

	cfg            ServerConfig
	logger         *zap.Logger
	clientInfo     Info
	requestTimeout time.Duration
	shutdownGrace  time.Duration

	// mu guards the process handles and handshake state.
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	serverInfo *ServerInfo
	ready      bool

	// writeMu serializes line writes so concurrent requests never
	// interleave bytes on the pipe.
	writeMu sync.Mutex

	// pending maps correlation id to the waiter for its response.
	pendingMu sync.Mutex
	pending   map[string]chan *rpcResponse

	// done is closed when the reader loop exits; nil before Connect.
	done chan struct{}
}

var _ Client = (*stdioClient)(nil)

func newStdioClient(cfg ServerConfig, opts ...Option) *stdioClient {
	o := resolveOptions(opts)
	c := &stdioClient{
		cfg:            cfg,
		logger:         o.logger.With(zap.String("transport", "stdio"), zap.String("command", cfg.Command)),
		clientInfo:     o.clientInfo,
		requestTimeout: o.requestTimeout,
		shutdownGrace:  o.shutdownGrace,
		pending:        make(map[string]chan *rpcResponse),
	}
	c.ops = ops{c: c}
	return c
}

// Connect spawns the configured executable and runs the handshake. A failed
// handshake tears the process down before returning, so there is no exit
// path that leaves an orphaned child.
func (c *stdioClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cmd != nil {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: stdin pipe: %v", ErrConnectionFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: stdout pipe: %v", ErrConnectionFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: stderr pipe: %v", ErrConnectionFailed, err)
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: spawning %s: %v", ErrConnectionFailed, c.cfg.Command, err)
	}
	c.logger.Debug("spawned server process", zap.Int("pid", cmd.Process.Pid))

	c.cmd = cmd
	c.stdin = stdin
	c.done = make(chan struct{})
	go c.readLoop(stdout)
	go c.drainStderr(stderr)
	c.mu.Unlock()

	info, err := handshake(ctx, c, c.clientInfo)
	if err != nil {
		c.terminate()
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

// Disconnect closes stdin, waits up to the shutdown grace period for the
// process to exit, then kills it. Idempotent and best-effort.
func (c *stdioClient) Disconnect(context.Context) error {
	c.terminate()
	return nil
}

func (c *stdioClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready || c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *stdioClient) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// connected implements caller. It requires ready, so operations are rejected
// until the handshake completes; the handshake itself bypasses this guard by
// invoking call directly.
func (c *stdioClient) connected() bool {
	return c.Connected()
}

// call writes one request line and waits for the response matching its id.
// Cancellation abandons only this request: the pending entry is dropped and
// the process keeps serving others.
func (c *stdioClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := newRequest(method, params)

	ch := make(chan *rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.writeLine(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	select {
	case resp := <-ch:
		return resultOf(resp, method)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s timed out after %s", ErrRequestFailed, method, c.requestTimeout)
	case <-done:
		return nil, fmt.Errorf("%w: server closed connection", ErrConnectionFailed)
	}
}

func (c *stdioClient) notify(_ context.Context, method string) error {
	return c.writeLine(newNotification(method))
}

func (c *stdioClient) writeLine(msg rpcRequest) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshaling %s: %v", ErrRequestFailed, msg.Method, err)
	}
	data = append(data, '\n')

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("%w: transport not open", ErrNotConnected)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := stdin.Write(data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrConnectionFailed, msg.Method, err)
	}
	return nil
}

// readLoop reads response lines until EOF and dispatches them by id. On exit
// it closes done, which fails every in-flight call with ErrConnectionFailed.
func (c *stdioClient) readLoop(stdout io.Reader) {
	defer close(c.done)

	// bufio.Reader rather than Scanner: tool results can exceed the
	// Scanner's max token size.
	reader := bufio.NewReader(stdout)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.logger.Debug("stdout read ended", zap.Error(err))
			}
			return
		}
	}
}

func (c *stdioClient) dispatch(line []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		c.logger.Warn("discarding malformed response line", zap.Error(err))
		return
	}
	if resp.ID == "" {
		// Server-initiated notification; this client does not subscribe
		// to any, so drop it.
		c.logger.Debug("ignoring server notification")
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		// Either a cancelled request's late reply or a genuinely
		// unknown id.
		c.logger.Debug("dropping response with no waiter", zap.String("id", resp.ID))
		return
	}
	ch <- &resp
}

func (c *stdioClient) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		c.logger.Debug("server stderr", zap.String("line", scanner.Text()))
	}
}

// terminate is the single termination routine every exit path converges on:
// explicit disconnect, handshake failure, and manager shutdown. It closes
// stdin, grants the child the grace period, then kills it.
func (c *stdioClient) terminate() {
	c.mu.Lock()
	cmd := c.cmd
	stdin := c.stdin
	done := c.done
	c.cmd = nil
	c.stdin = nil
	c.ready = false
	c.mu.Unlock()

	if cmd == nil {
		return
	}

	if stdin != nil {
		_ = stdin.Close()
	}

	// Let the reader drain before Wait releases the pipes.
	if done != nil {
		select {
		case <-done:
		case <-time.After(c.shutdownGrace):
		}
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-waitCh:
		c.logger.Debug("server process exited")
	case <-time.After(c.shutdownGrace):
		c.logger.Warn("server process did not exit, killing", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-waitCh
	}
}
