package httpapi

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"weldon/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type echoDispatcher struct {
	got []byte
	ctx context.Context
}

func (e *echoDispatcher) DispatchBytes(ctx context.Context, data []byte) []byte {
	e.got = data
	e.ctx = ctx
	return []byte(`{"encryptionKey":null,"payload":"ok"}`)
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRPCRoute(t *testing.T) {
	d := &echoDispatcher{}
	router := NewRouter(d, Config{})
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"encryptionKey":null,"payload":"[]"}`))
	req.Header.Set(traceIDHeader, "trace-42")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != `{"encryptionKey":null,"payload":"ok"}` {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if string(d.got) != `{"encryptionKey":null,"payload":"[]"}` {
		t.Fatalf("dispatcher got %s", d.got)
	}
	if rec.Header().Get(traceIDHeader) != "trace-42" {
		t.Fatalf("trace header not echoed")
	}
}

func TestRPCRejectsOversizedBody(t *testing.T) {
	d := &echoDispatcher{}
	router := NewRouter(d, Config{MaxBodyBytes: 8})
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(strings.Repeat("x", 64)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `\"status\":\"failed\"`) {
		t.Fatalf("expected failed envelope, got %s", rec.Body.String())
	}
	if d.got != nil {
		t.Fatalf("oversized body must not be dispatched")
	}
}

func TestHealthz(t *testing.T) {
	router := NewRouter(&echoDispatcher{}, Config{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, rec.Code)
		}
	}
}

func TestServerCompressesLargeResponses(t *testing.T) {
	big := []byte(`{"encryptionKey":null,"payload":"` + strings.Repeat("a", 4096) + `"}`)
	d := dispatcherFunc(func(ctx context.Context, data []byte) []byte { return big })
	srv := httptest.NewServer(NewServer(d, Config{}).Handler)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/rpc", bytes.NewReader([]byte("{}")))
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", resp.Header.Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	body, _ := io.ReadAll(zr)
	if !bytes.Equal(body, big) {
		t.Fatalf("decompressed body mismatch")
	}
}

type dispatcherFunc func(ctx context.Context, data []byte) []byte

func (f dispatcherFunc) DispatchBytes(ctx context.Context, data []byte) []byte { return f(ctx, data) }

func TestTraceMiddlewareSeedsContext(t *testing.T) {
	d := &echoDispatcher{}
	router := NewRouter(d, Config{})

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
	req.Header.Set(requestIDHeader, "req-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	traceID, _ := d.ctx.Value(contextkey.TraceID).(string)
	if traceID == "" || rec.Header().Get(traceIDHeader) != traceID {
		t.Fatalf("generated trace id %q not echoed (%q)", traceID, rec.Header().Get(traceIDHeader))
	}
	if d.ctx.Value(contextkey.RequestID) != "req-1" {
		t.Fatalf("request id = %v", d.ctx.Value(contextkey.RequestID))
	}
	if d.ctx.Value(contextkey.Transport) != "http" {
		t.Fatalf("transport = %v", d.ctx.Value(contextkey.Transport))
	}
	if _, ok := d.ctx.Deadline(); !ok {
		t.Fatalf("dispatch context should carry the request timeout")
	}
}
