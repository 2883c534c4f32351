package marketplace

import (
	"fmt"
	"strings"
	"time"
)

// AuthenticationError is returned when an access token could not be obtained
// after exhausting all retries.
type AuthenticationError struct {
	Attempts int
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("marketplace: authentication failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ApiRequestError is returned when an authenticated call kept failing until its
// retries ran out, or when a successful response could not be decoded. Err is the
// failure of the last attempt.
type ApiRequestError struct {
	Method   string
	Attempts int
	Err      error
}

func (e *ApiRequestError) Error() string {
	return fmt.Sprintf("marketplace: %s failed after %d attempt(s): %v", e.Method, e.Attempts, e.Err)
}

func (e *ApiRequestError) Unwrap() error {
	return e.Err
}

// TimeoutError is a single attempt that ran past its deadline, it is usually found
// wrapped inside an AuthenticationError or ApiRequestError.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("marketplace: %s timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ReservedParamError is returned when caller params would overwrite one of the
// query parameters the client sets itself.
type ReservedParamError struct {
	Keys []string
}

func (e *ReservedParamError) Error() string {
	return fmt.Sprintf("marketplace: params use reserved key(s): %s", strings.Join(e.Keys, ", "))
}

// EnvelopeError is an application level error reported inside a 2xx response body.
type EnvelopeError struct {
	Code      string
	Msg       string
	RequestId string
}

func (e *EnvelopeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("error response: %s", e.Msg)
	}
	return fmt.Sprintf("error response (%s): %s", e.Code, e.Msg)
}

// StatusError is a non-2xx http response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}
