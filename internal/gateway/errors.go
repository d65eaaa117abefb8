package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"

	openai "github.com/openai/openai-go/v3"
)

// ErrorKind classifies a model-service failure for retry decisions.
type ErrorKind string

const (
	// KindTransient failures (rate limits, 5xx, timeouts, connection resets)
	// are retried with backoff.
	KindTransient ErrorKind = "transient"
	// KindPermanent failures (bad credentials, malformed requests, content
	// policy rejections) are never retried.
	KindPermanent ErrorKind = "permanent"
)

// ServiceError is the terminal error surfaced by the gateway. Exhausted marks
// a transient failure that used up the attempt ceiling, distinguishing it
// from a first-strike permanent failure.
type ServiceError struct {
	Kind      ErrorKind
	Status    int
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Exhausted:
		return fmt.Sprintf("model service unavailable after %d attempts: %v", e.Attempts, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("model service error (status %d, %s): %v", e.Status, e.Kind, e.Err)
	default:
		return fmt.Sprintf("model service error (%s): %v", e.Kind, e.Err)
	}
}

func (e *ServiceError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable service failure.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == KindTransient
}

// IsPermanent reports whether err is a non-retryable service failure.
func IsPermanent(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == KindPermanent
}

// classify maps SDK and transport errors onto the retry taxonomy.
func classify(err error) *ServiceError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := KindPermanent
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			kind = KindTransient
		case apiErr.StatusCode == http.StatusRequestTimeout:
			kind = KindTransient
		case apiErr.StatusCode >= 500:
			kind = KindTransient
		}
		return &ServiceError{Kind: kind, Status: apiErr.StatusCode, Err: err}
	}

	// Transport-level failures: timeouts and resets are transient.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ServiceError{Kind: KindTransient, Err: err}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &ServiceError{Kind: KindTransient, Err: err}
	}
	if strings.Contains(err.Error(), "connection reset") {
		return &ServiceError{Kind: KindTransient, Err: err}
	}

	return &ServiceError{Kind: KindPermanent, Err: err}
}
