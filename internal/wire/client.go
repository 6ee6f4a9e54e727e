package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
)

// SocketClient forwards commands to an authority daemon over a stream
// socket. Calls are serialised on the single connection.
type SocketClient struct {
	network string
	address string
	conn    net.Conn
	reader  *bufio.Reader
	mu      sync.Mutex
	reqID   atomic.Int64
	closed  bool
}

// Dial connects to the daemon. network is "unix" or "tcp".
func Dial(ctx context.Context, network, address string) (*SocketClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("connect to authority at %s: %w", address, err)
	}
	return &SocketClient{
		network: network,
		address: address,
		conn:    conn,
		reader:  bufio.NewReaderSize(conn, 64*1024),
	}, nil
}

// Invoke sends one command and waits for its response. A Fault from the
// authority is returned as the error.
func (c *SocketClient) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	payload, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("socket client is closed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(noDeadline)
	}

	req := Request{
		ID:      strconv.FormatInt(c.reqID.Add(1), 10),
		Command: command,
		Args:    payload,
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(c.conn, "%s\n", data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if !resp.OK {
		if resp.Fault == nil {
			return nil, NewFault(CodeInternal, "%s failed without a fault", command)
		}
		return nil, resp.Fault
	}
	return resp.Result, nil
}

// Close disconnects from the daemon.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func marshalArgs(args any) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}
	return data, nil
}
