// Package retry decides which request failures are transient and how long to
// wait before trying again.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"
)

// StatusError reports a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Policy implements exponential backoff with jitter for idempotent requests.
type Policy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// New builds a policy allowing maxRetries retries after the first attempt.
func New(maxRetries int, baseDelay, maxDelay time.Duration) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = baseDelay
	}
	return &Policy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// Default matches the catalog client defaults: five retries starting at 300ms.
func Default() *Policy {
	return New(5, 300*time.Millisecond, 10*time.Second)
}

// MaxRetries returns the number of retries after the first attempt.
func (p *Policy) MaxRetries() int { return p.maxRetries }

// BaseDelay returns the first backoff step.
func (p *Policy) BaseDelay() time.Duration { return p.baseDelay }

// MaxDelay returns the backoff ceiling.
func (p *Policy) MaxDelay() time.Duration { return p.maxDelay }

// Transient reports whether err is worth retrying: server-side status codes
// and transport timeouts. Client errors and cancellations are final.
func (p *Policy) Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return RetryableStatus(statusErr.StatusCode)
	}
	// Client.Timeout errors also match context.DeadlineExceeded, so the
	// timeout check must come first.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ShouldRetry decides whether attempt (zero based) may be followed by another.
// Once the caller's own context is done nothing is retried.
func (p *Policy) ShouldRetry(ctx context.Context, err error, attempt int) bool {
	if attempt >= p.maxRetries || ctx.Err() != nil {
		return false
	}
	return p.Transient(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// RetryableStatus reports whether a status code signals a transient server
// failure.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IdempotentMethod reports whether a request method may be replayed.
func IdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
