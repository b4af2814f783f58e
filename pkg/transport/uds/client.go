package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrClosed is returned by requests on a closed connection.
var ErrClosed = errors.New("connection closed")

// EventHandler is called when the server pushes an event. It runs on the
// client's read goroutine.
type EventHandler func(msg Message)

// Client connects to a procwatchd server over a Unix domain socket.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner

	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[string]chan Message
	events  EventHandler

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	c := &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
		pending: make(map[string]chan Message),
		done:    make(chan struct{}),
	}
	c.scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)
	go c.readLoop()
	return c, nil
}

// OnEvent registers a handler for server-pushed events.
func (c *Client) OnEvent(h EventHandler) {
	c.mu.Lock()
	c.events = h
	c.mu.Unlock()
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Request sends a request and waits for the correlated response.
func (c *Client) Request(ctx context.Context, method string, data any) (Message, error) {
	msg, err := NewRequest(method, data)
	if err != nil {
		return Message{}, err
	}

	ch := make(chan Message, 1)
	c.mu.Lock()
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, err
	}
	raw = append(raw, '\n')

	c.writeMu.Lock()
	_, err = c.conn.Write(raw)
	c.writeMu.Unlock()
	if err != nil {
		return Message{}, fmt.Errorf("write: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("server error: %s", resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, ErrClosed
	}
}

// Call sends a request and decodes the response payload into out, which
// may be nil when the method returns nothing.
func (c *Client) Call(ctx context.Context, method string, in, out any) error {
	resp, err := c.Request(ctx, method, in)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.UnmarshalData(out)
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.shutdown()
	return err
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for c.scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(c.scanner.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Type {
		case MsgTypeRes:
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case MsgTypeEvt:
			c.mu.Lock()
			h := c.events
			c.mu.Unlock()
			if h != nil {
				h(msg)
			}
		}
	}
}
