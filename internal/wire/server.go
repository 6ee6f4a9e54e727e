package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

var noDeadline time.Time

// Handler executes one command. A returned *Fault is sent to the client
// as is; any other error becomes an internal fault.
type Handler interface {
	Handle(ctx context.Context, command string, args json.RawMessage) (any, error)
}

// Server serves a Handler on a stream socket.
type Server struct {
	handler Handler
	logger  *slog.Logger
	wg      sync.WaitGroup
	connMu  sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer creates a server for h.
func NewServer(h Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{handler: h, logger: logger}
}

// Listen opens the listening socket. For unix sockets a stale socket file
// is removed first and the new one is restricted to the owner.
func Listen(network, address string) (net.Listener, error) {
	if network == "unix" {
		if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	}
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", address, err)
	}
	if network == "unix" {
		if err := os.Chmod(address, 0o600); err != nil {
			ln.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
	}
	return ln, nil
}

// Serve accepts connections until ctx is cancelled. On shutdown all client
// connections are closed so handlers unblock promptly.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.connMu.Lock()
	s.conns = make(map[net.Conn]struct{})
	s.connMu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				done := make(chan struct{})
				go func() { s.wg.Wait(); close(done) }()
				select {
				case <-done:
				case <-time.After(5 * time.Second):
					s.logger.Warn("shutdown timeout, dropping connections")
				}
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
			s.connMu.Lock()
			delete(s.conns, conn)
			s.connMu.Unlock()
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(conn, Response{Fault: NewFault(CodeBadRequest, "invalid request: %v", err)})
			continue
		}
		s.write(conn, Dispatch(ctx, s.handler, req))
	}

	if err := scanner.Err(); err != nil {
		s.logger.Debug("connection closed", "error", err)
	}
}

func (s *Server) write(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		s.logger.Debug("write response", "error", err)
	}
}

// Dispatch runs req through h and builds the response.
func Dispatch(ctx context.Context, h Handler, req Request) Response {
	result, err := h.Handle(ctx, req.Command, req.Args)
	if err != nil {
		return Response{ID: req.ID, Fault: AsFault(err)}
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{ID: req.ID, Fault: NewFault(CodeInternal, "marshal result: %v", err)}
	}
	return Response{OK: true, ID: req.ID, Result: data}
}
