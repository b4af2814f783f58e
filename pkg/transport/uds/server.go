package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

const (
	maxLineSize  = 1024 * 1024
	writeTimeout = 5 * time.Second
)

// HandlerFunc processes a request and returns a response data payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

// conn serialises writes from request handling and broadcasts.
type conn struct {
	net.Conn
	mu sync.Mutex
}

func (c *conn) writeLine(line []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.Write(line)
	return err
}

// Server listens on a Unix domain socket and dispatches NDJSON messages.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]HandlerFunc
	clients    map[*conn]struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
	ready      chan struct{}
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[*conn]struct{}),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the socket is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Handle registers a handler for a method. Register handlers before Start.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.handlers[method] = h
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Start begins listening. It removes any stale socket file first and
// blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server listening", "socket", s.socketPath)
	close(s.ready)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil // shutting down
			}
			s.logger.Error("accept error", "err", err)
			continue
		}
		c := &conn{Conn: nc}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(ctx, c)
	}
}

// Broadcast sends an event to all connected clients. A client that cannot
// keep up is disconnected.
func (s *Server) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("broadcast marshal error", "err", err)
		return
	}
	line := append(data, '\n')

	s.mu.RLock()
	clients := make([]*conn, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeLine(line); err != nil {
			s.logger.Warn("broadcast write error, dropping client", "err", err)
			c.Close()
		}
	}
}

// Shutdown cleanly stops the server.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.clients {
		c.Close()
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

func (s *Server) handleConn(ctx context.Context, c *conn) {
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, maxLineSize), maxLineSize)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Error("invalid message", "err", err)
			continue
		}

		if msg.Type != MsgTypeReq {
			continue
		}

		handler, ok := s.handlers[msg.Method]
		if !ok {
			resp := NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method))
			s.writeMessage(c, resp)
			continue
		}

		result, err := handler(ctx, msg)
		var resp Message
		if err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		} else if resp, err = NewResponse(msg.ID, msg.Method, result); err != nil {
			resp = NewErrorResponse(msg.ID, msg.Method, err.Error())
		}
		s.writeMessage(c, resp)
	}
}

func (s *Server) writeMessage(c *conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal response error", "err", err)
		return
	}
	data = append(data, '\n')
	if err := c.writeLine(data); err != nil {
		s.logger.Error("write response error", "err", err)
	}
}
