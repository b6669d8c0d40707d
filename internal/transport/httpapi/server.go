// Package httpapi serves the command envelope over HTTP.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	pkgerrors "weldon/pkg/errors"
	"weldon/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
)

// Dispatcher runs one serialised envelope.
type Dispatcher interface {
	DispatchBytes(ctx context.Context, data []byte) []byte
}

// Config configures the HTTP transport.
type Config struct {
	Addr           string        `yaml:"addr"`
	MaxBodyBytes   int64         `yaml:"maxBodyBytes"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	DisableGzip    bool          `yaml:"disableGzip"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

const (
	defaultMaxBodyBytes   = 4 << 20
	defaultRequestTimeout = 2 * time.Minute
)

// NewRouter builds the gin engine: POST /rpc plus health probes.
func NewRouter(d Dispatcher, cfg Config) *gin.Engine {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(traceMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/readyz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/rpc", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, cfg.MaxBodyBytes+1))
		if err != nil {
			response.AbortWithError(c, pkgerrors.ProtocolError(err, "read body"))
			return
		}
		if int64(len(body)) > cfg.MaxBodyBytes {
			response.AbortWithError(c, pkgerrors.Newf(pkgerrors.ProtocolViolation,
				"request body exceeds %d bytes", cfg.MaxBodyBytes))
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()
		response.Envelope(c, d.DispatchBytes(ctx, body))
	})
	return router
}

// NewServer wraps the router, gzip-compressed unless disabled.
func NewServer(d Dispatcher, cfg Config) *http.Server {
	var handler http.Handler = NewRouter(d, cfg)
	if !cfg.DisableGzip {
		handler = gzhttp.GzipHandler(handler)
	}
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
