package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Kind classifies an application error and decides its HTTP status.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindUnsupportedCurrency Kind = "unsupported_currency"
	KindPaymentRequired     Kind = "payment_required"
	KindUpstream            Kind = "upstream"
	KindSignature           Kind = "signature"
	KindUnauthorized        Kind = "unauthorized"
	KindForbidden           Kind = "forbidden"
	KindInternal            Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	KindUnsupportedCurrency: http.StatusBadRequest,
	KindPaymentRequired:     http.StatusBadRequest,
	KindUpstream:            http.StatusInternalServerError,
	KindSignature:           http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindForbidden:           http.StatusForbidden,
	KindInternal:            http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Kind    Kind           `json:"kind"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"-"`
	Err     error          `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// With attaches a detail field rendered next to the message in the response body.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Body is the JSON payload written for this error. Wrapped causes are never included.
func (e *Error) Body() gin.H {
	body := gin.H{"error": e.Message, "kind": e.Kind}
	for k, v := range e.Details {
		body[k] = v
	}
	return body
}

// New creates a new Error
func New(kind Kind, message string, err error) *Error {
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func Validation(message string) *Error { return New(KindValidation, message, nil) }
func NotFound(message string) *Error   { return New(KindNotFound, message, nil) }
func Conflict(message string) *Error   { return New(KindConflict, message, nil) }
func Forbidden(message string) *Error  { return New(KindForbidden, message, nil) }

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message, nil)
}

func UnsupportedCurrency(currency string) *Error {
	return New(KindUnsupportedCurrency, "Unsupported currency: "+currency, nil).With("currency", currency)
}

func PaymentRequired(message string) *Error {
	return New(KindPaymentRequired, message, nil)
}

func Upstream(message string, err error) *Error {
	return New(KindUpstream, message, err)
}

func Signature(err error) *Error {
	return New(KindSignature, "invalid webhook signature", err)
}

func Internal(err error) *Error {
	return New(KindInternal, "Server error", err)
}

// As extracts an *Error from err, wrapping unknown errors as internal.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// Respond writes err as a JSON error response. Server-side failures are logged with their cause.
func Respond(c *gin.Context, logger *zap.Logger, err error) {
	appErr := As(err)
	if logger != nil {
		fields := []zap.Field{
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", c.Request.URL.Path),
		}
		if appErr.Err != nil {
			fields = append(fields, zap.Error(appErr.Err))
		}
		if appErr.Code >= http.StatusInternalServerError {
			logger.Error(appErr.Message, fields...)
		} else {
			logger.Warn(appErr.Message, fields...)
		}
	}
	c.AbortWithStatusJSON(appErr.Code, appErr.Body())
}

// ErrorMiddleware renders the last error attached with c.Error.
func ErrorMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			Respond(c, logger, c.Errors.Last().Err)
		}
	}
}
