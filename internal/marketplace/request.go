package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ApiRequest describes a single call to the router endpoint.
type ApiRequest struct {
	Method  string
	Version string
	Params  map[string]string
}

var reservedParams = []string{"method", "v", "access_token"}

// Validate fails if any caller param would collide with a parameter set by the client.
func (r ApiRequest) Validate() error {
	var collisions []string
	for _, key := range reservedParams {
		if _, ok := r.Params[key]; ok {
			collisions = append(collisions, key)
		}
	}
	if len(collisions) > 0 {
		return &ReservedParamError{Keys: collisions}
	}
	if r.Method == "" {
		return fmt.Errorf("marketplace: request method is empty")
	}
	return nil
}

// looseString decodes both json strings and numbers, the api is not consistent
// about which one it uses for codes.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		err := json.Unmarshal(data, &str)
		if err != nil {
			return err
		}
		*s = looseString(str)
		return nil
	}
	*s = looseString(data)
	return nil
}

type errorEnvelope struct {
	Code      looseString `json:"code"`
	Msg       string      `json:"msg"`
	SubCode   string      `json:"sub_code"`
	SubMsg    string      `json:"sub_msg"`
	RequestId string      `json:"request_id"`
}

func (e errorEnvelope) toError() *EnvelopeError {
	code := string(e.Code)
	if e.SubCode != "" {
		code = fmt.Sprintf("%s/%s", code, e.SubCode)
	}
	msg := e.Msg
	if e.SubMsg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.SubMsg)
	}
	return &EnvelopeError{Code: code, Msg: msg, RequestId: e.RequestId}
}

// isTokenRejection reports whether a failed attempt means the token itself is no
// longer accepted, in which case the cached token is thrown away before retrying.
func isTokenRejection(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusUnauthorized
	}
	var envelopeErr *EnvelopeError
	if errors.As(err, &envelopeErr) {
		return strings.Contains(strings.ToLower(envelopeErr.Code), "token")
	}
	return false
}

// Request performs an authenticated router call and decodes the response body into T.
// Transport errors, non-2xx responses and error envelopes are retried with exponential
// backoff, once retries run out an *ApiRequestError is returned.
func Request[T any](ctx context.Context, client *Client, req ApiRequest) (T, error) {
	var out T
	body, attempts, err := client.do(ctx, req)
	if err != nil {
		return out, err
	}
	// a body that parses as an envelope but not as T will not parse on a retry
	// either, so this is terminal.
	err = json.Unmarshal(body, &out)
	if err != nil {
		err = &ApiRequestError{
			Method:   req.Method,
			Attempts: attempts,
			Err:      fmt.Errorf("unmarshal response: %w", err),
		}
		client.tel.ReportBroken(report_client_request, err)
		return out, err
	}
	return out, nil
}

// Do is Request without decoding, it returns the raw response body of the
// first successful attempt.
func (c *Client) Do(ctx context.Context, req ApiRequest) ([]byte, error) {
	body, _, err := c.do(ctx, req)
	return body, err
}

// do also returns how many attempts were made.
func (c *Client) do(ctx context.Context, req ApiRequest) ([]byte, int, error) {
	ctx, span := tracer.Start(ctx, "Request")
	defer span.End()
	span.SetAttributes(
		attribute.String("method", req.Method),
		attribute.String("version", req.Version),
	)

	err := req.Validate()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		return nil, 0, err
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.baseDelay, attempt)
			c.tel.ReportDebug(report_client_state, "retrying", req.Method, attempt, delay.String())
			c.retryCounter.Add(ctx, 1)
			err := c.time.Sleep(ctx, delay)
			if err != nil {
				lastErr = err
				break
			}
		}

		token, err := c.Token(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "authentication failed")
			return nil, attempts, err
		}

		c.tel.ReportDebug(report_client_state, "requesting", req.Method, attempt+1)
		attempts++
		body, err := c.attempt(ctx, req, token)
		if err == nil {
			c.tel.ReportDebug(report_client_state, "success", req.Method, attempts)
			return body, attempts, nil
		}

		lastErr = err
		c.tel.ReportWarning(report_client_request, req.Method, err, attempts)

		if isTokenRejection(err) {
			err := c.cache.Invalidate(ctx)
			if err != nil {
				c.tel.ReportWarning(report_client_token, fmt.Errorf("invalidate token: %w", err))
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	err = &ApiRequestError{Method: req.Method, Attempts: attempts, Err: lastErr}
	c.tel.ReportBroken(report_client_request, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "retries exhausted")
	return nil, attempts, err
}

func (c *Client) attempt(ctx context.Context, req ApiRequest, token Token) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// params were validated to not contain any reserved keys
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(req.Params).
		SetQueryParam("method", req.Method).
		SetQueryParam("v", req.Version).
		SetQueryParam("access_token", token.AccessToken).
		Get("/router")
	if err != nil {
		return nil, c.wrapTransportError(ctx, req.Method, err)
	}
	if res.IsError() || res.StatusCode() < 200 || res.StatusCode() > 299 {
		return nil, &StatusError{StatusCode: res.StatusCode(), Body: res.String()}
	}

	body := res.Body()
	var envelope struct {
		ErrorResponse *errorEnvelope `json:"error_response"`
	}
	err = json.Unmarshal(body, &envelope)
	if err != nil {
		return nil, fmt.Errorf("response is not json: %w", err)
	}
	if envelope.ErrorResponse != nil && envelope.ErrorResponse.Msg != "" {
		return nil, envelope.ErrorResponse.toError()
	}

	return body, nil
}
