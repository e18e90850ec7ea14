package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// DefaultClientTimeout bounds one request/response exchange.
const DefaultClientTimeout = 250 * time.Millisecond

// ErrNotRunning means no process is listening on the socket.
var ErrNotRunning = errors.New("no earshot session is running")

// Client sends commands to the session that owns Path.
type Client struct {
	Path    string
	Timeout time.Duration
}

// NewClient returns a client for path with the default timeout.
func NewClient(path string) *Client {
	return &Client{Path: path, Timeout: DefaultClientTimeout}
}

// Do performs one request/response exchange. A missing socket or refused
// connection is reported as ErrNotRunning.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
			return Response{}, fmt.Errorf("%w: %w", ErrNotRunning, err)
		}
		return Response{}, fmt.Errorf("dial %s: %w", c.Path, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Response{}, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("encode request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Alive reports whether a responsive owner is listening. Any failure other
// than ErrNotRunning is returned, since the owner may just be slow.
func (c *Client) Alive(ctx context.Context) (bool, error) {
	_, err := c.Do(ctx, Request{Command: CommandStatus})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotRunning):
		return false, nil
	default:
		return false, fmt.Errorf("probe socket: %w", err)
	}
}

// Status is a convenience for Do with CommandStatus.
func (c *Client) Status(ctx context.Context) (Response, error) {
	return c.Do(ctx, Request{Command: CommandStatus})
}

// SetGate asks the session to replace one or both level thresholds.
func (c *Client) SetGate(ctx context.Context, noiseGate, minSpeechLevel *int) (Response, error) {
	return c.Do(ctx, Request{Command: CommandGate, NoiseGate: noiseGate, MinSpeechLevel: minSpeechLevel})
}
