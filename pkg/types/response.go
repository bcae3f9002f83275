// Package types defines the JSON envelopes every API response is wrapped in.
package types

// SuccessEnvelope wraps a successful payload under the data key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the wire shape of a failed request: a stable machine-readable
// code, a human message, and optional structured details such as per-field
// validation errors or the order id a timed-out wait refers to.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps an APIError under the error key.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
