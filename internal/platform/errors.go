package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/model"
)

// Kind classifies a platform failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindRateLimit
	KindAuth
	KindNotFound
	KindCircuitOpen
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "TransientNetworkError"
	case KindRateLimit:
		return "RateLimitExceeded"
	case KindAuth:
		return "AuthError"
	case KindNotFound:
		return "NotFoundError"
	case KindCircuitOpen:
		return "CircuitOpenError"
	default:
		return "UnknownError"
	}
}

// Retryable reports whether the governor may retry a failure of this kind.
func (k Kind) Retryable() bool {
	return k == KindTransient || k == KindRateLimit
}

// Sentinel errors, one per kind. *Error matches the sentinel of its kind
// with errors.Is.
var (
	ErrTransient   = errors.New("transient network error")
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrAuth        = errors.New("authentication failed")
	ErrNotFound    = errors.New("not found")
	ErrCircuitOpen = errors.New("circuit open")
	ErrNotModified = errors.New("not modified")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransient:
		return ErrTransient
	case KindRateLimit:
		return ErrRateLimited
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	case KindCircuitOpen:
		return ErrCircuitOpen
	}
	return nil
}

// Error is a classified platform failure.
type Error struct {
	Platform   model.Platform
	Op         string
	Kind       Kind
	StatusCode int
	// RetryAfter is the server's hint for RateLimitExceeded, zero if absent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Platform))
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	sb.WriteString(": ")
	if s := e.Kind.sentinel(); s != nil {
		sb.WriteString(s.Error())
	} else {
		sb.WriteString("request failed")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&sb, " retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// NewError builds a classified error.
func NewError(p model.Platform, op string, kind Kind, err error) *Error {
	return &Error{Platform: p, Op: op, Kind: kind, Err: err}
}

// KindOf classifies any error. Context expiry and network errors are
// transient; unclassified errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrRateLimited):
		return KindRateLimit
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTransient
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindUnknown
}

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// KindForStatus maps an HTTP status to a Kind. A 403 is only a rate limit
// when the response says the quota is spent or carries Retry-After.
func KindForStatus(status int, header http.Header) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		if header.Get("Retry-After") != "" || quotaSpent(header) {
			return KindRateLimit
		}
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusRequestTimeout, status >= 500 && status < 600:
		return KindTransient
	}
	return KindUnknown
}

func quotaSpent(h http.Header) bool {
	for _, k := range []string{"X-RateLimit-Remaining", "RateLimit-Remaining"} {
		if v := h.Get(k); v != "" {
			return v == "0"
		}
	}
	return false
}

// ParseRetryAfter reads a Retry-After header given either as delta seconds
// or as an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// maxErrorBody bounds how much of an error response is kept in the message.
const maxErrorBody = 512

// CheckResponse returns nil for 2xx responses and a classified *Error
// otherwise. It reads (and bounds) the body for the message but does not
// close it.
func CheckResponse(p model.Platform, op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusNotModified {
		return ErrNotModified
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	e := &Error{
		Platform:   p,
		Op:         op,
		Kind:       KindForStatus(resp.StatusCode, resp.Header),
		StatusCode: resp.StatusCode,
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		e.Err = errors.New(msg)
	}
	if e.Kind == KindRateLimit {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

// WrapTransport classifies an error returned by http.Client.Do. Context
// errors keep their identity so callers can tell a caller cancellation
// apart from a network failure.
func WrapTransport(p model.Platform, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Platform: p, Op: op, Kind: KindTransient, Err: err}
}
