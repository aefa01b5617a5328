// Package provider implements the HTTP client for the external verification
// provider that issues challenge/token pairs. The client enforces an
// encrypted transport to a fully-qualified host and maps provider failures
// into a taxonomy the orchestrator can surface distinctly: configuration
// errors, timeouts, provider-side throttling (with a retry hint), transient
// upstream failures, and malformed responses.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrConfig covers client-side misconfiguration: missing credentials,
	// a rejected domain, or any other 4xx from the provider. Not retryable.
	ErrConfig = errors.New("challenge provider rejected the request")

	// ErrTimeout indicates the provider did not answer within the deadline.
	ErrTimeout = errors.New("challenge provider timed out")

	// ErrUnavailable covers transient 5xx failures; a fresh create may retry.
	ErrUnavailable = errors.New("challenge provider unavailable")

	// ErrMalformed indicates a non-JSON or incomplete provider response.
	ErrMalformed = errors.New("challenge provider returned a malformed response")
)

// ThrottleError is the provider-side rate limit (HTTP 429), carrying the
// provider's Retry-After hint when one was sent.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("challenge provider throttled, retry after %s", e.RetryAfter)
}

// Challenge is a freshly issued challenge/token pair. Challenge identifies
// the flow to the eventual receipt; Token drives the browser-side widget.
type Challenge struct {
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
}

const (
	headerAPIKey    = "X-API-Key"
	headerAPISecret = "X-API-Secret"

	defaultTimeout  = 15 * time.Second
	maxResponseBody = 1 << 20
)

// Client calls the provider's challenge-creation endpoint.
type Client struct {
	endpoint   *url.URL
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	log        zerolog.Logger
}

// New validates the endpoint and constructs a client. The endpoint must be
// https with a fully-qualified host; anything else is refused up front
// rather than at the first create attempt. A nil httpClient gets a default
// with a hard timeout.
func New(endpoint, apiKey, apiSecret string, httpClient *http.Client, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("provider endpoint: %w", err)
	}
	if u.Scheme != "https" {
		return nil, errors.New("provider endpoint must use https")
	}
	if !strings.Contains(u.Hostname(), ".") {
		return nil, errors.New("provider endpoint host must be fully qualified")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		endpoint:   u,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		httpClient: httpClient,
		log:        log.With().Str("component", "provider").Logger(),
	}, nil
}

// CreateChallenge requests a challenge/token pair for the given forum
// domain. Credentials are checked first so a misconfigured deployment fails
// immediately instead of burning a provider round trip.
func (c *Client) CreateChallenge(ctx context.Context, domain string) (*Challenge, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, fmt.Errorf("%w: missing API credentials", ErrConfig)
	}

	payload, err := json.Marshal(map[string]string{"domain": domain})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerAPISecret, c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.log.Warn().Err(err).Msg("challenge request timed out")
			return nil, ErrTimeout
		}
		c.log.Warn().Err(err).Msg("challenge request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retry := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.log.Warn().Dur("retry_after", retry).Msg("provider throttled challenge request")
		return nil, &ThrottleError{RetryAfter: retry}
	case resp.StatusCode >= 500:
		c.log.Warn().Int("status", resp.StatusCode).Msg("provider unavailable")
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		// Bad credentials or a bad domain; operators need the status, the
		// caller only needs "config error".
		c.log.Error().Int("status", resp.StatusCode).Msg("provider rejected challenge request")
		return nil, fmt.Errorf("%w: status=%d", ErrConfig, resp.StatusCode)
	}

	var ch Challenge
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ch.Challenge == "" || ch.Token == "" {
		return nil, fmt.Errorf("%w: missing challenge or token", ErrMalformed)
	}
	return &ch, nil
}

// isTimeout reports whether err is a deadline or transport timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// parseRetryAfter reads a Retry-After header given in seconds. A missing or
// unparseable value falls back to one minute.
func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Minute
}
