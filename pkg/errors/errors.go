package errors

import "fmt"

// AppError is an error that maps directly to an HTTP status code, so
// handlers can return engine errors without translating them.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// New creates an AppError with the given status code
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}
