package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/chat-knowledge-base/internal/core/domain"
)

// Verdict tells the executor whether to retry a failed attempt and whether
// the failure counts against the breaker.
type Verdict struct {
	Retryable     bool
	RecordFailure bool
}

type Classifier func(err error) Verdict

var (
	verdictCancelled = Verdict{Retryable: false, RecordFailure: false}
	verdictTransient = Verdict{Retryable: true, RecordFailure: true}
	verdictRejected  = Verdict{Retryable: false, RecordFailure: false}
	verdictBroken    = Verdict{Retryable: false, RecordFailure: true}
)

// StatusError is a non-2xx response from an HTTP backend.
type StatusError struct {
	Backend    string
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

// NewStatusError reads at most 2KB of the response body into the error.
func NewStatusError(backend, operation string, resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{
		Backend:    backend,
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s status: %s", e.Backend, e.Operation, e.Status)
	}
	return fmt.Sprintf("%s %s status: %s: %s", e.Backend, e.Operation, e.Status, e.Body)
}

// HasStatus reports whether err carries one of the given HTTP status codes.
func HasStatus(err error, codes ...int) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	for _, code := range codes {
		if statusErr.StatusCode == code {
			return true
		}
	}
	return false
}

// ClassifyHTTP retries throttling, 5xx gateway errors and network failures.
// Other status errors are the caller's fault and do not trip the breaker.
func ClassifyHTTP(err error) Verdict {
	switch {
	case err == nil:
		return Verdict{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return verdictCancelled
	case IsCircuitOpen(err):
		return verdictTransient
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if retryableStatus(statusErr.StatusCode) {
			return verdictTransient
		}
		return verdictRejected
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return verdictTransient
	}
	return verdictBroken
}

// MarkTemporary wraps failures the classifier would retry as ErrTemporary, so
// callers see an outage rather than a permanent error once retries run out.
func MarkTemporary(operation string, err error, classify Classifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classify == nil {
		classify = ClassifyHTTP
	}
	if classify(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
