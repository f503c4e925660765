package driver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound      = errors.New("driver: not found")
	ErrConflict      = errors.New("driver: conflict")
	ErrInvalidPath   = errors.New("driver: invalid path")
	ErrInvalidCursor = errors.New("driver: invalid cursor")
	ErrUnsupported   = errors.New("driver: operation not supported")
)

// TransportError is a failed request. Code follows HTTP status semantics; 0
// means the request never produced a response.
type TransportError struct {
	Op      string
	Path    string
	Code    int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code == 0 {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, msg)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Op, e.Path, e.Code, msg)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrConflict:
		return e.Code == http.StatusConflict
	}
	return false
}

// IsTransient reports whether err may succeed when the request is repeated.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}

	switch {
	case te.Code == 0:
		return true
	case te.Code == http.StatusRequestTimeout, te.Code == http.StatusTooManyRequests:
		return true
	case te.Code >= 500:
		return true
	}
	return false
}
