package client

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"weldon/internal/transport/grpcapi"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Transport exchanges one serialised envelope for its reply.
type Transport interface {
	RoundTrip(ctx context.Context, envelope []byte) ([]byte, error)
	Close() error
}

// Dial picks a transport from the target scheme: tcp://, http(s):// or
// grpc://. A bare host:port means tcp.
func Dial(target string, timeout time.Duration) (Transport, error) {
	if !strings.Contains(target, "://") {
		return NewTCPTransport(target, timeout), nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse target %q: %w", target, err)
	}
	switch u.Scheme {
	case "tcp":
		return NewTCPTransport(u.Host, timeout), nil
	case "http", "https":
		return NewHTTPTransport(strings.TrimRight(target, "/")+"/rpc", timeout), nil
	case "grpc":
		return NewGRPCTransport(u.Host)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// TCPTransport keeps one connection open and redials after failures.
type TCPTransport struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCPTransport returns a lazily connected TCP transport.
func NewTCPTransport(addr string, timeout time.Duration) *TCPTransport {
	return &TCPTransport{addr: addr, timeout: timeout}
}

// RoundTrip writes one line and reads one line back.
func (t *TCPTransport) RoundTrip(ctx context.Context, envelope []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", t.addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", t.addr, err)
		}
		t.conn = conn
		t.reader = bufio.NewReader(conn)
	}
	deadline := time.Time{}
	if t.timeout > 0 {
		deadline = time.Now().Add(t.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = t.conn.SetDeadline(deadline)

	if _, err := t.conn.Write(append(bytes.TrimRight(envelope, "\n"), '\n')); err != nil {
		t.reset()
		return nil, fmt.Errorf("write request: %w", err)
	}
	line, err := t.reader.ReadBytes('\n')
	if err != nil {
		t.reset()
		return nil, fmt.Errorf("read response: %w", err)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// Close drops the connection.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}

func (t *TCPTransport) reset() {
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = nil
	t.reader = nil
}

// HTTPTransport posts envelopes to the /rpc route.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport targets the full /rpc URL.
func NewHTTPTransport(rpcURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{url: rpcURL, client: &http.Client{Timeout: timeout}}
}

// RoundTrip posts the envelope. Non-2xx replies still carry an envelope.
func (t *HTTPTransport) RoundTrip(ctx context.Context, envelope []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body failed: %w", err)
	}
	return body, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// GRPCTransport calls the envelope service.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	client *grpcapi.Client
}

// NewGRPCTransport connects to addr without transport security.
func NewGRPCTransport(addr string, opts ...grpc.DialOption) (*GRPCTransport, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client %s: %w", addr, err)
	}
	return &GRPCTransport{conn: conn, client: grpcapi.NewClient(conn)}, nil
}

// RoundTrip invokes Call.
func (t *GRPCTransport) RoundTrip(ctx context.Context, envelope []byte) ([]byte, error) {
	return t.client.Call(ctx, envelope)
}

// Close closes the connection.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}
