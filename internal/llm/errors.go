package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrUnauthorized  = errors.New("llm unauthorized")
	ErrUnavailable   = errors.New("llm unavailable")
	ErrEgressBlocked = errors.New("egress blocked")
	ErrRateLimited   = errors.New("llm rate limited")
	ErrTimeout       = errors.New("llm call timed out")
	ErrEmptyResponse = errors.New("llm empty response")
	ErrStreamAborted = errors.New("llm stream aborted")
)

// StatusError carries an HTTP status (or the status embedded in a stream
// error event) together with the upstream message.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Message)
	switch {
	case e.Status > 0 && e.Code != "":
		return fmt.Sprintf("llm status %d (%s): %s", e.Status, e.Code, msg)
	case e.Status > 0:
		return fmt.Sprintf("llm status %d: %s", e.Status, msg)
	case e.Code != "":
		return fmt.Sprintf("llm error (%s): %s", e.Code, msg)
	default:
		return "llm error: " + msg
	}
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Status == 401 || e.Status == 403:
		return ErrUnauthorized
	case e.Status == 429:
		return ErrRateLimited
	case e.Status >= 500:
		return ErrUnavailable
	}
	return nil
}

var transientStatuses = map[int]bool{
	408: true,
	409: true,
	425: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsTransientStatus reports whether an HTTP status is worth retrying.
func IsTransientStatus(status int) bool {
	return transientStatuses[status]
}

// StatusOf returns the status code carried by err, or 0.
func StatusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return 0
}

// IsTimeout reports whether err is a timeout or abort without a status code.
func IsTimeout(err error) bool {
	if err == nil || StatusOf(err) != 0 {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrStreamAborted) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable: a transient status, or a timeout/abort/empty stream that carries no status.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if status := StatusOf(err); status != 0 {
		return IsTransientStatus(status)
	}
	if IsTimeout(err) || errors.Is(err, ErrEmptyResponse) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
