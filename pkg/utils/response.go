package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Response represents a standard API response
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
	Meta      interface{} `json:"meta,omitempty"`
}

// ErrorResponse represents an error response with request context
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     string      `json:"error"`
	Code      int         `json:"code"`
	Timestamp string      `json:"timestamp"`
	Request   RequestInfo `json:"request"`
	Details   interface{} `json:"details,omitempty"`
}

// RequestInfo provides context about the failed request
type RequestInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendSuccessWithMeta sends a successful response with metadata
func SendSuccessWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Meta:      meta,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendError sends an error response with request context
func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
	})
}

// SendErrorWithDetails sends an error response carrying structured details,
// used for field-scoped validation failures.
func SendErrorWithDetails(c *gin.Context, statusCode int, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		Success:   false,
		Error:     message,
		Code:      statusCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Request: RequestInfo{
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
			Query:  c.Request.URL.RawQuery,
		},
		Details: details,
	})
}
