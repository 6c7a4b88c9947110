package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"
)

// Client sends control messages over the unix socket.
type Client struct {
	socketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Probe reports whether something is listening on the socket.
func (c *Client) Probe() error {
	conn, err := net.DialTimeout("unix", c.socketPath, 200*time.Millisecond)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (c *Client) withConn(ctx context.Context, fn func(conn net.Conn) error) error {
	d := net.Dialer{Timeout: 500 * time.Millisecond}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	return fn(conn)
}

// Send delivers msg and waits for the reply. A reply with Success false is
// returned along with an error carrying its message.
func (c *Client) Send(ctx context.Context, msg Message) (*Reply, error) {
	var reply Reply
	err := c.withConn(ctx, func(conn net.Conn) error {
		if err := json.NewEncoder(conn).Encode(&msg); err != nil {
			return err
		}
		return json.NewDecoder(conn).Decode(&reply)
	})
	if err != nil {
		return nil, err
	}
	if !reply.Success {
		if reply.Error == "" {
			return &reply, errors.New("control: request failed")
		}
		return &reply, errors.New(reply.Error)
	}
	return &reply, nil
}
