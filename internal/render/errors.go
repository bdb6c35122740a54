package render

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// RenderError classifies rendering-engine failures as transient/permanent.
// A failed group is skipped while sibling groups still render, so the
// classification only drives logging and metrics, not retries.
type RenderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *RenderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "render error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *RenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a render failure looks retryable on a future
// import attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var renderErr *RenderError
	if errors.As(err, &renderErr) {
		return renderErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
