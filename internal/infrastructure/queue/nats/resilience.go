package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/chat-knowledge-base/internal/infrastructure/resilience"
)

func classifyNATSError(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Verdict{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Verdict{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err):
		return resilience.Verdict{Retryable: true, RecordFailure: true}
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected):
		return resilience.Verdict{Retryable: true, RecordFailure: true}
	default:
		return resilience.Verdict{Retryable: false, RecordFailure: true}
	}
}

// wrapTemporaryIfNeeded marks broker outages as ErrTemporary so submissions
// surface them as 503.
func wrapTemporaryIfNeeded(err error) error {
	return resilience.MarkTemporary("nats dispatch", err, classifyNATSError)
}
