package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"shopsnap-backend/internal/components/assert"
	"shopsnap-backend/internal/components/chrono"
	"shopsnap-backend/internal/components/telemetry"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	report_client_token   = "client.token"
	report_client_request = "client.request"
	report_client_state   = "client.state"
)

const (
	DefaultTimeout           = 10 * time.Second
	DefaultMaxRetries        = 2
	DefaultBaseDelay         = time.Second
	DefaultSafetyMargin      = time.Minute
	DefaultRequestsPerSecond = 5
)

var (
	tracer = otel.Tracer("shopsnap.internal.marketplace")
	meter  = otel.Meter("shopsnap.internal.marketplace")
)

// Credentials used for the password grant on the token endpoint.
type Credentials struct {
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// Options configures a Client, zero values fall back to the Default* constants.
type Options struct {
	BaseUrl     string
	Credentials Credentials

	// Timeout bounds every single outbound call (token fetch or router call).
	Timeout time.Duration
	// MaxRetries is the amount of retries after the first attempt, a negative
	// value disables retrying.
	MaxRetries int
	// BaseDelay is the wait before the first retry, it doubles for every retry after.
	BaseDelay time.Duration
	// SafetyMargin is how long before its expiry a cached token stops being used.
	SafetyMargin      time.Duration
	RequestsPerSecond float64

	// Cache defaults to a MemoryTokenCache.
	Cache TokenCache
}

// Client is an authenticated client for the marketplace's router api.
type Client struct {
	http  *resty.Client
	cache TokenCache
	creds Credentials
	time  chrono.TimeAPI
	tel   telemetry.API

	timeout      time.Duration
	maxRetries   int
	baseDelay    time.Duration
	safetyMargin time.Duration

	refreshGroup   *singleflight.Group
	refreshCounter metric.Int64Counter
	retryCounter   metric.Int64Counter
}

func NewClient(opts Options, time chrono.TimeAPI, tel telemetry.API) (*Client, error) {
	assert.NotEmptyStr(opts.BaseUrl)
	assert.NotNil(time)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("marketplace", tel)

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.SafetyMargin <= 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryTokenCache()
	}

	refreshCounter, err := meter.Int64Counter(
		"marketplace_token_refresh_total",
		metric.WithDescription("The total amount of times a token has been fetched."),
	)
	if err != nil {
		return nil, err
	}
	retryCounter, err := meter.Int64Counter(
		"marketplace_request_retry_total",
		metric.WithDescription("The total amount of retried marketplace calls."),
	)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetHeader("accept", "application/json")

	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, tel)

	return &Client{
		http:           httpClient,
		cache:          opts.Cache,
		creds:          opts.Credentials,
		time:           time,
		tel:            tel,
		timeout:        opts.Timeout,
		maxRetries:     opts.MaxRetries,
		baseDelay:      opts.BaseDelay,
		safetyMargin:   opts.SafetyMargin,
		refreshGroup:   &singleflight.Group{},
		refreshCounter: refreshCounter,
		retryCounter:   retryCounter,
	}, nil
}

// Token returns the cached token if it is still usable, otherwise it fetches a new one.
// Concurrent callers share a single in-flight refresh.
func (c *Client) Token(ctx context.Context) (Token, error) {
	cached, ok, err := c.cache.Load(ctx)
	if err != nil {
		c.tel.ReportWarning(report_client_token, fmt.Errorf("load cached token: %w", err))
	}
	if ok && cached.Usable(c.time.Now(), c.safetyMargin) {
		return cached, nil
	}

	c.tel.ReportDebug(report_client_state, "authenticating")

	// the refresh is detached from the caller that happened to start it so
	// that the callers joining it are not cancelled along with the first one.
	refreshCtx := context.WithoutCancel(ctx)
	resultChan := c.refreshGroup.DoChan("token", func() (any, error) {
		return c.refresh(refreshCtx)
	})

	select {
	case <-ctx.Done():
		return Token{}, &AuthenticationError{Attempts: 0, Err: ctx.Err()}
	case res := <-resultChan:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

// refresh fetches a token in a bounded retry loop and stores it.
func (c *Client) refresh(ctx context.Context) (Token, error) {
	// another refresh may have completed between the caller's cache check and now
	cached, ok, err := c.cache.Load(ctx)
	if err == nil && ok && cached.Usable(c.time.Now(), c.safetyMargin) {
		return cached, nil
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.baseDelay, attempt)
			c.tel.ReportDebug(report_client_state, "retrying token", attempt, delay.String())
			err := c.time.Sleep(ctx, delay)
			if err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		token, err := c.fetchToken(ctx)
		if err != nil {
			lastErr = err
			c.tel.ReportWarning(report_client_token, err, attempts)
			continue
		}

		err = c.cache.Store(ctx, token)
		if err != nil {
			c.tel.ReportWarning(report_client_token, fmt.Errorf("store token: %w", err))
		}
		c.refreshCounter.Add(ctx, 1)
		return token, nil
	}

	err = &AuthenticationError{Attempts: attempts, Err: lastErr}
	c.tel.ReportBroken(report_client_token, err)
	return Token{}, err
}

type tokenResponse struct {
	AccessToken      string         `json:"access_token"`
	TokenType        string         `json:"token_type"`
	ExpiresIn        json.Number    `json:"expires_in"`
	ExpireTime       json.Number    `json:"expire_time"`
	Error            string         `json:"error"`
	ErrorDescription string         `json:"error_description"`
	ErrorResponse    *errorEnvelope `json:"error_response"`
}

func (c *Client) fetchToken(ctx context.Context) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":    "password",
			"client_id":     c.creds.ClientId,
			"client_secret": c.creds.ClientSecret,
			"username":      c.creds.Username,
			"password":      c.creds.Password,
		}).
		Get("/oauth2/access_token")
	if err != nil {
		return Token{}, c.wrapTransportError(ctx, "token fetch", err)
	}
	if res.IsError() {
		return Token{}, &StatusError{StatusCode: res.StatusCode(), Body: res.String()}
	}

	var parsed tokenResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		return Token{}, fmt.Errorf("unmarshal token response: %w", err)
	}
	if parsed.ErrorResponse != nil && parsed.ErrorResponse.Msg != "" {
		return Token{}, parsed.ErrorResponse.toError()
	}
	if parsed.Error != "" {
		return Token{}, &EnvelopeError{Code: parsed.Error, Msg: parsed.ErrorDescription}
	}
	if parsed.AccessToken == "" {
		return Token{}, fmt.Errorf("token response did not contain an access token")
	}

	now := c.time.Now()
	expiresAt, err := parseExpiry(now, parsed.ExpiresIn, parsed.ExpireTime)
	if err != nil {
		return Token{}, err
	}
	if !now.Before(expiresAt) {
		return Token{}, fmt.Errorf("token response is already expired (expires at %s)", expiresAt.Format(time.RFC3339))
	}

	return Token{AccessToken: parsed.AccessToken, ExpiresAt: expiresAt}, nil
}

// parseExpiry prefers the absolute expire_time (ms since epoch) over the
// relative expires_in (seconds).
func parseExpiry(now time.Time, expiresIn, expireTime json.Number) (time.Time, error) {
	if expireTime != "" {
		ms, err := strconv.ParseInt(expireTime.String(), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expire_time: %w", err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	if expiresIn != "" {
		seconds, err := strconv.ParseInt(expiresIn.String(), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expires_in: %w", err)
		}
		return now.Add(time.Duration(seconds) * time.Second), nil
	}
	return time.Time{}, fmt.Errorf("token response did not contain an expiry")
}

// wrapTransportError turns deadline related failures into a TimeoutError, ctx is
// the per-attempt context.
func (c *Client) wrapTransportError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Timeout: c.timeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Op: op, Timeout: c.timeout, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
