package response

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Response is the envelope for acknowledgements and errors.
// Successful reads return their payload unwrapped.
type Response struct {
	Success bool   `json:"success"`
	Error   *Error `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeTimeout           = "TIMEOUT"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var (
	mappingsMu sync.RWMutex
	mappings   []errorMapping
)

// RegisterError maps a domain error, matched with errors.Is, to an HTTP status and code
func RegisterError(target error, status int, code string) {
	mappingsMu.Lock()
	defer mappingsMu.Unlock()
	mappings = append(mappings, errorMapping{target: target, status: status, code: code})
}

// Handle writes data on success and the mapped error response otherwise
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	case errors.Is(err, context.DeadlineExceeded):
		write(c, http.StatusGatewayTimeout, ErrCodeTimeout, "Request timed out")
	default:
		handleError(c, err)
	}
}

// Success sends a 200 with data, or a bare acknowledgement when data is nil
func Success(c *gin.Context, data interface{}) {
	if data == nil {
		c.JSON(http.StatusOK, Response{Success: true})
		return
	}
	c.JSON(http.StatusOK, data)
}

func write(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	write(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	write(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	write(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	write(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	write(c, http.StatusTooManyRequests, ErrCodeRateLimited, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	write(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	write(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	mappingsMu.RLock()
	defer mappingsMu.RUnlock()

	for _, m := range mappings {
		if errors.Is(err, m.target) {
			write(c, m.status, m.code, err.Error())
			return
		}
	}

	log.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled request error")
	InternalError(c, "An unexpected error occurred")
}
