package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/parkpal/pkg/errors"
)

// Response is the envelope shared by every JSON endpoint.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo is the client-facing part of an AppError.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta accompanies list payloads.
type Meta struct {
	Count int `json:"count"`
}

var errRequestTimeout = &appErrors.AppError{
	Code:       "REQUEST_TIMEOUT",
	Message:    "The request took too long to complete",
	StatusCode: http.StatusGatewayTimeout,
}

func Success(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, Response{Success: true, Data: data})
}

// SuccessWithMeta writes a list payload with its metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data any, meta *Meta) {
	c.JSON(statusCode, Response{Success: true, Data: data, Meta: meta})
}

// Error renders err as an AppError. The underlying cause is attached to the
// gin context so the request logger records it without exposing it to clients.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}
	_ = c.Error(err)

	appErr := appErrors.FromError(err)
	if errors.Is(err, context.DeadlineExceeded) && appErr.StatusCode >= http.StatusInternalServerError {
		appErr = errRequestTimeout
	}

	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, Response{
		Error: &ErrorInfo{Code: appErr.Code, Message: appErr.Message},
	})
}
