// Package resilience classifies failures from external collaborators so the
// pipeline can decide between skipping an item and aborting the run.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/extract-trainer/internal/model"
)

// TransientError marks a failed call to the capture or extraction service
// (timeout, rate limit, 5xx). The current item is skipped; nothing retries it.
type TransientError struct {
	Service    string
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.Service == "" {
		return e.Err.Error()
	}
	return e.Service + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(service string, err error, statusCode int) *TransientError {
	return &TransientError{Service: service, Err: err, StatusCode: statusCode}
}

// IsTransient returns true if err is, or wraps, a TransientError, or looks
// like a network-level failure (timeout, reset, refused, DNS).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"context deadline exceeded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is a transient
// server-side condition.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Kind groups an error by how the pipeline reacts to it.
type Kind string

const (
	KindNone      Kind = ""
	KindTransient Kind = "transient"
	KindNotFound  Kind = "not_found"
	KindStorage   Kind = "storage"
	KindOther     Kind = "other"
)

// Classify returns the Kind of err.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case model.IsStorageError(err):
		return KindStorage
	case model.IsNotFound(err):
		return KindNotFound
	case IsTransient(err):
		return KindTransient
	}
	return KindOther
}

// Skippable reports whether a per-item failure may be logged and skipped
// without aborting the run. Storage failures are never skippable.
func Skippable(err error) bool {
	return Classify(err) != KindStorage
}
