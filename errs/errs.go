// Package errs provides structured error types and helpers for marketwire.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies a failure category within the client.
type Code string

const (
	// CodeDecode indicates a malformed or structurally invalid frame.
	CodeDecode Code = "decode"
	// CodeDuplicate indicates a replayed sequence number. Tracked as a
	// statistic, not propagated to callers.
	CodeDuplicate Code = "duplicate"
	// CodeSequenceGap indicates a buffered message expired before its gap filled.
	CodeSequenceGap Code = "sequence_gap"
	// CodeNetwork indicates a transport-level failure.
	CodeNetwork Code = "network"
	// CodeAuth indicates a rejected or expired session token.
	CodeAuth Code = "auth"
	// CodeSubscriptionRejected indicates the venue refused a subscription.
	CodeSubscriptionRejected Code = "subscription_rejected"
	// CodeOrderValidation indicates a locally rejected order request.
	CodeOrderValidation Code = "order_validation"
	// CodeOrderTimeout indicates an order request with no response before the
	// deadline. The outcome is unknown, not failed.
	CodeOrderTimeout Code = "order_timeout"
	// CodeOrderRejected indicates the venue rejected an order request.
	CodeOrderRejected Code = "order_rejected"
	// CodeRateLimited indicates the request exceeded a local or venue rate limit.
	CodeRateLimited Code = "rate_limited"
	// CodeShutdown indicates an in-flight operation aborted by intentional stop.
	CodeShutdown Code = "shutdown"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
)

// E captures structured error information produced across the client.
type E struct {
	Component string
	Code      Code
	Message   string
	Channel   string
	ReqID     string
	RawCode   string
	RawMsg    string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the component and error code.
func New(component string, code Code, opts ...Option) *E {
	e := &E{
		Component: strings.TrimSpace(component),
		Code:      code,
		Message:   "",
		Channel:   "",
		ReqID:     "",
		RawCode:   "",
		RawMsg:    "",
		cause:     nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithChannel records the subscription channel the error relates to.
func WithChannel(channel string) Option {
	trimmed := strings.TrimSpace(channel)
	return func(e *E) {
		e.Channel = trimmed
	}
}

// WithReqID records the correlation identifier of the originating request.
func WithReqID(reqID string) Option {
	trimmed := strings.TrimSpace(reqID)
	return func(e *E) {
		e.ReqID = trimmed
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	component := strings.TrimSpace(e.Component)
	if component == "" {
		component = "unknown"
	}
	parts = append(parts, "component="+component)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Channel != "" {
		parts = append(parts, "channel="+e.Channel)
	}
	if e.ReqID != "" {
		parts = append(parts, "req_id="+e.ReqID)
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the failure category from err, walking the wrap chain.
// Errors that did not originate from this package report an empty code.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) && envelope != nil {
		return envelope.Code
	}
	return ""
}

// HasCode reports whether err carries the given failure category.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
