// Package tcp serves newline-delimited envelopes over raw TCP connections.
// A connection may carry any number of request/response exchanges.
package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"weldon/internal/wire"
	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/contextkey"
	"weldon/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher runs one serialised envelope.
type Dispatcher interface {
	DispatchBytes(ctx context.Context, data []byte) []byte
}

// Config configures the TCP transport.
type Config struct {
	Addr           string        `yaml:"addr"`
	MaxLineBytes   int           `yaml:"maxLineBytes"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

const (
	defaultMaxLineBytes   = 4 << 20
	defaultIdleTimeout    = 10 * time.Minute
	defaultRequestTimeout = 2 * time.Minute

	drainTimeout = time.Second
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("tcp: server closed")

// Server accepts connections and dispatches one envelope per line.
type Server struct {
	cfg        Config
	dispatcher Dispatcher

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer validates cfg and returns an idle server.
func NewServer(d Dispatcher, cfg Config) (*Server, error) {
	if d == nil {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("dispatcher is required")
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Server{cfg: cfg, dispatcher: d, conns: make(map[net.Conn]struct{})}, nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting, closes idle reads and waits for in-flight
// exchanges until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for conn := range s.conns {
		// Wake blocked reads; in-flight writes still complete.
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	connID := uuid.NewString()
	base := context.WithValue(context.Background(), contextkey.Transport, "tcp")
	logger.Debug(base, "connection opened",
		zap.String("conn_id", connID), zap.String("remote", conn.RemoteAddr().String()))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64*1024, s.cfg.MaxLineBytes)), s.cfg.MaxLineBytes)
	writer := bufio.NewWriter(conn)

	for {
		if s.isClosed() {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		if !scanner.Scan() {
			if errors.Is(scanner.Err(), bufio.ErrTooLong) {
				s.rejectOversized(base, conn, writer, connID)
				return
			}
			if err := scanner.Err(); err != nil && !isClosedConn(err) {
				logger.Warn(base, "connection read failed",
					zap.String("conn_id", connID), zap.Error(err))
			}
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		ctx := context.WithValue(base, contextkey.TraceID, uuid.NewString())
		ctx = context.WithValue(ctx, contextkey.RequestID, connID)
		ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		reply := s.dispatcher.DispatchBytes(ctx, line)
		cancel()

		if _, err := writer.Write(reply); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			logger.Warn(base, "connection write failed",
				zap.String("conn_id", connID), zap.Error(err))
			return
		}
	}
}

// rejectOversized answers an over-long line with a failed envelope, then
// half-closes and drains so the reply is not lost to a reset.
func (s *Server) rejectOversized(ctx context.Context, conn net.Conn, w *bufio.Writer, connID string) {
	err := pkgerrors.ProtocolError(nil, fmt.Sprintf("request line exceeds %d bytes", s.cfg.MaxLineBytes))
	logger.Warn(ctx, "request rejected",
		zap.String("conn_id", connID), zap.String("message", err.Error()))

	if reply, encErr := failureReply(err); encErr == nil {
		_, _ = w.Write(reply)
		_ = w.WriteByte('\n')
		_ = w.Flush()
	}
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = hc.CloseWrite()
	}
	_ = conn.SetReadDeadline(time.Now().Add(drainTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, int64(s.cfg.MaxLineBytes)))
}

func failureReply(err error) ([]byte, error) {
	body, encErr := json.Marshal(wire.Fail(err))
	if encErr != nil {
		return nil, encErr
	}
	env, encErr := wire.Seal(body, nil)
	if encErr != nil {
		return nil, encErr
	}
	return wire.EncodeEnvelope(env)
}

func isClosedConn(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
