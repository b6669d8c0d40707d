package response

import (
	"encoding/json"
	"net/http"

	"weldon/internal/wire"
	"weldon/pkg/errors"
	"weldon/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	traceIDKey      = "trace_id"
)

// Envelope writes an already serialised response envelope.
// Command failures travel inside the envelope, so the status is always 200.
func Envelope(c *gin.Context, body []byte) {
	c.Data(http.StatusOK, contentTypeJSON, body)
}

// Error sends a plaintext failed envelope for errors raised before a
// command could be dispatched (oversized body, wrong method).
func Error(c *gin.Context, err error) {
	customErr := errors.GetError(err)

	logger.Warn(c.Request.Context(), "request rejected",
		zap.Int("code", int(customErr.Code)),
		zap.String("message", customErr.Error()),
		zap.String("trace_id", getTraceID(c)),
	)

	body, _ := json.Marshal(wire.Fail(customErr))
	env, _ := wire.Seal(body, nil)
	c.JSON(customErr.Code.HTTPStatus(), env)
}

// AbortWithError aborts the request and sends error response
func AbortWithError(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}

// getTraceID extracts trace ID from context
func getTraceID(c *gin.Context) string {
	if traceID, exists := c.Get(traceIDKey); exists {
		if s, ok := traceID.(string); ok {
			return s
		}
	}
	return ""
}
