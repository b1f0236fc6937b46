// Package types holds the JSON envelopes shared by every HTTP response.
package types

// SuccessEnvelope wraps a successful payload as {"data": ...}.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public face of a pkg/errors code. Retryable tells clients
// such as the workshop tablet app whether resending the same request can succeed.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}
