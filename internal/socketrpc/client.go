package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/journald-query/internal/model"
)

// defaultCallTimeout bounds a call whose context carries no deadline.
const defaultCallTimeout = 30 * time.Second

// Client implements model.JournalReader over a Unix domain socket using JSON-RPC 2.0.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

var _ model.JournalReader = (*Client)(nil)

// Dial connects to the socket RPC server at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), clientMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs a JSON-RPC call and unmarshals the result into dest.
func (c *Client) call(ctx context.Context, method string, params any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	var paramsData json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("socketrpc: marshal params: %w", err)
		}
		paramsData = data
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}
	c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsData}
	if err := c.encoder.Encode(req); err != nil {
		return c.transportError(ctx, "send", err)
	}

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return c.transportError(ctx, "read", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.ID != id {
		return fmt.Errorf("socketrpc: response id %d, want %d", resp.ID, id)
	}

	if resp.Error != nil {
		return fmt.Errorf("socketrpc: %s: %w", method, resp.Error)
	}

	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// transportError prefers the context error when the context ended the call.
// The connection is unusable afterwards since a late response may still
// arrive on it.
func (c *Client) transportError(ctx context.Context, op string, err error) error {
	c.conn.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("socketrpc: %s: %w", op, ctxErr)
	}
	return fmt.Errorf("socketrpc: %s: %w", op, err)
}

func (c *Client) DiscoverHosts(ctx context.Context) ([]string, error) {
	var result []string
	err := c.call(ctx, "DiscoverHosts", nil, &result)
	return result, err
}

func (c *Client) DiscoverUnits(ctx context.Context) ([]string, error) {
	var result []string
	err := c.call(ctx, "DiscoverUnits", nil, &result)
	return result, err
}

func (c *Client) DiscoverHostsAndUnits(ctx context.Context) ([]string, []string, error) {
	var result HostsAndUnits
	err := c.call(ctx, "DiscoverHostsAndUnits", nil, &result)
	return result.Hosts, result.Units, err
}

func (c *Client) DiscoverServices(ctx context.Context) (model.Hosts, error) {
	var result model.Hosts
	err := c.call(ctx, "DiscoverServices", nil, &result)
	return result, err
}

func (c *Client) Query(ctx context.Context, q model.Query) ([]model.Entry, error) {
	var result []model.Entry
	err := c.call(ctx, "Query", map[string]any{"Query": q}, &result)
	return result, err
}
