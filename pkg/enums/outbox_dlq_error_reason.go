package enums

import "fmt"

// OutboxDLQErrorReason records why an outbox row stopped being retried.
type OutboxDLQErrorReason string

const (
	// Pub/Sub kept failing until OUTBOX_MAX_ATTEMPTS ran out.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// The payload or topic can never be published as is.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// No topic routes this event type.
	OutboxDLQReasonNoPublisher OutboxDLQErrorReason = "no_publisher"
)

// OutboxDLQErrorReasons lists every reason in a stable order.
func OutboxDLQErrorReasons() []OutboxDLQErrorReason {
	return []OutboxDLQErrorReason{
		OutboxDLQReasonMaxAttempts,
		OutboxDLQReasonNonRetryable,
		OutboxDLQReasonNoPublisher,
	}
}

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonNoPublisher:
		return true
	}
	return false
}

func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	r := OutboxDLQErrorReason(value)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid outbox dlq reason %q", value)
	}
	return r, nil
}
