package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"voxreview.app/relay/internal/model"
)

// Connector talks to one third-party review platform.
type Connector interface {
	Platform() model.Platform
	// Post publishes a review variant and returns the platform's id for it.
	Post(ctx context.Context, variant model.PlatformVariant, creds model.Credentials, idempotencyKey string) (string, error)
	// Reply answers the review named by variant.InReplyTo.
	Reply(ctx context.Context, variant model.PlatformVariant, creds model.Credentials, idempotencyKey string) (string, error)
	// Pull lists reviews received after since.
	Pull(ctx context.Context, creds model.Credentials, since time.Time) ([]model.InboundReview, error)
}

// Error is a failed platform call. Transient errors are worth retrying with
// the same idempotency key; the rest are terminal for the attempt.
type Error struct {
	Platform   model.Platform
	Op         string
	StatusCode int
	Transient  bool
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.Platform, e.Op, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Platform, e.Op, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient classifies any error returned by a Connector. Errors that did
// not come from a connector are treated as network trouble and retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Transient
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Reason is the short text stored on an attempt for err.
func Reason(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Reason != "" {
		return cerr.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// statusTransient maps an HTTP status to retry semantics: 408, 425, 429 and
// 5xx are retried, every other 4xx is final.
func statusTransient(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

func statusReason(code int) string {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "auth-revoked"
	case http.StatusTooManyRequests:
		return "rate-limited"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "policy-rejected"
	case http.StatusNotFound:
		return "not-found"
	case http.StatusConflict:
		return "duplicate"
	}
	if code >= 500 {
		return "platform-unavailable"
	}
	return http.StatusText(code)
}

func transportError(platform model.Platform, op string, err error) *Error {
	reason := "network-error"
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		reason = "timeout"
	}
	return &Error{
		Platform:  platform,
		Op:        op,
		Transient: !errors.Is(err, context.Canceled),
		Reason:    reason,
		Err:       err,
	}
}
