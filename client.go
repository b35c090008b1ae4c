package quotacache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/parkerroan/quotacache/bucket"
	"github.com/sony/gobreaker"
	"golang.org/x/exp/slog"
	"golang.org/x/time/rate"
)

// ConsumeRequest is the remote consume RPC's request. Exactly one of
// Operation or Path must be set, and path requests must carry their HTTP
// method.
type ConsumeRequest struct {
	Operation       string `json:"operation,omitempty"`
	Path            string `json:"path,omitempty"`
	HTTPMethod      string `json:"http_method,omitempty"`
	UserID          string `json:"user_identifier"`
	TokensRequested int    `json:"tokens_requested"`
	ApplicationID   string `json:"application_id,omitempty"`

	// FillBucket tags the request as a local-bucket fill so the service can
	// account for batch grants separately from single consumes.
	FillBucket bool `json:"fill_bucket,omitempty"`
}

// Validate checks the request shape before any network attempt.
func (r ConsumeRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Reason: "user identifier must not be blank"}
	}
	if r.TokensRequested <= 0 {
		return &ValidationError{Reason: "tokens requested must be positive"}
	}
	if (r.Operation == "") == (r.Path == "") {
		return &ValidationError{Reason: "exactly one of operation or path must be set"}
	}
	if r.Path != "" && r.HTTPMethod == "" {
		return &ValidationError{Reason: "http method is required for path requests"}
	}
	return nil
}

// ConsumeResponse is the remote consume RPC's response, including the rule
// the service matched the request to.
type ConsumeResponse struct {
	TokensRemaining int         `json:"tokens_remaining"`
	TokensConsumed  int         `json:"tokens_consumed"`
	Throttles       int         `json:"throttles"`
	Rule            bucket.Rule `json:"rule"`
}

// Client is the transport collaborator that executes the remote consume RPC.
type Client interface {
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error)
}

// HTTPClient talks to the quota service over HTTP. Transport resilience lives
// here, not in the cache: a circuit breaker around the service, backoff
// retries for transport failures, and an optional throttle on outbound calls.
type HTTPClient struct {
	baseURL string
	apiKey  string
	appID   string

	httpClient  *http.Client
	breaker     *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	maxAttempts int
	logger      *slog.Logger
}

// NewHTTPClient creates a client for the quota service at baseURL. Invalid
// credentials or an unparseable URL fail immediately with a ConfigError.
func NewHTTPClient(baseURL, apiKey string, opts ...func(*HTTPClient)) (*HTTPClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Field: "api key", Reason: "must not be empty"}
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, &ConfigError{Field: "base url", Reason: err.Error()}
	}

	c := &HTTPClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		appID:       uuid.NewString(),
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		logger:      slog.Default(),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "quotaservice",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
	})

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WithHTTPClient sets the underlying *http.Client, e.g. to adjust timeouts.
func WithHTTPClient(hc *http.Client) func(*HTTPClient) {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithApplicationID overrides the generated application id sent with every
// consume request.
func WithApplicationID(id string) func(*HTTPClient) {
	return func(c *HTTPClient) {
		c.appID = id
	}
}

// WithMaxAttempts sets how many times a transport failure is attempted before
// giving up. API errors are never retried.
func WithMaxAttempts(n int) func(*HTTPClient) {
	return func(c *HTTPClient) {
		c.maxAttempts = n
	}
}

// WithOutboundLimit throttles calls to the quota service itself, so a local
// cache stampede cannot hammer it.
func WithOutboundLimit(rps float64, burst int) func(*HTTPClient) {
	return func(c *HTTPClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClientLogger sets the logger used for transport warnings.
func WithClientLogger(logger *slog.Logger) func(*HTTPClient) {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// Consume executes the remote consume RPC. Validation failures return before
// any network activity; transport failures are retried with backoff inside
// the circuit breaker.
func (c *HTTPClient) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ApplicationID == "" {
		req.ApplicationID = c.appID
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Err: err}
		}
	}

	resp, err := c.breaker.Execute(func() (interface{}, error) {
		return c.consumeWithRetry(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &TransportError{Err: err}
		}
		return nil, err
	}
	return resp.(*ConsumeResponse), nil
}

func (c *HTTPClient) consumeWithRetry(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error) {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &TransportError{Err: ctx.Err()}
			case <-time.After(b.Duration()):
			}
		}

		resp, err := c.do(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Only transport failures are retried; the service's own verdicts
		// are final.
		var te *TransportError
		if !errors.As(err, &te) {
			return nil, err
		}

		c.logger.Warn("quota consume attempt failed",
			slog.Int("attempt", attempt),
			slog.String("user", req.UserID),
			slog.Any("error", err.Error()))
	}
	return nil, lastErr
}

func (c *HTTPClient) do(ctx context.Context, req ConsumeRequest) (*ConsumeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/consume", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var out ConsumeResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding consume response: %w", err)
	}
	return &out, nil
}
