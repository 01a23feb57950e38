// Package retry wraps store I/O with a fixed backoff schedule. Only
// connectivity-class failures are retried; semantic errors (bad SQL,
// constraint violations, merge conflicts) surface immediately.
package retry

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/meridian/chat-insights/internal/pkg/logger"
)

// ErrExhausted marks an operation that failed on every attempt.
var ErrExhausted = errors.New("retries exhausted")

// DefaultDelays is the wait schedule between attempts: one initial try
// plus one retry per entry.
var DefaultDelays = []time.Duration{
	200 * time.Millisecond,
	1 * time.Second,
	5 * time.Second,
}

// Do runs fn with the default backoff schedule. The op string names the
// operation in logs and error messages.
func Do(ctx context.Context, op string, fn func() error) error {
	return DoWithDelays(ctx, op, DefaultDelays, fn)
}

// DoWithDelays runs fn, retrying transient failures after each delay in
// order. It stops early on success, on a non-transient error, or when ctx
// is done.
func DoWithDelays(ctx context.Context, op string, delays []time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= len(delays); attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		if attempt > 0 {
			delay := delays[attempt-1]
			logger.Warn("retrying after transient store error",
				"op", op,
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr.Error(),
			)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return lastErr
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
	}

	return &exhaustedError{op: op, attempts: len(delays) + 1, last: lastErr}
}

type exhaustedError struct {
	op       string
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("%s: %v after %d attempts: %v", e.op, ErrExhausted, e.attempts, e.last)
}

func (e *exhaustedError) Is(target error) bool { return target == ErrExhausted }

func (e *exhaustedError) Unwrap() error { return e.last }

// IsTransient reports whether err looks like a connectivity failure worth
// retrying. Context cancellation and semantic store errors are not
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, probe := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"no such host",
		"network is unreachable",
	} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}
