// Package httpclient provides the retrying HTTP client shared by discovery and
// asset retrieval. Requests are GETs only; transient failures are retried per
// the retry package policy.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-harvester/internal/retry"
)

// Config controls client behaviour.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	LargeTimeout      time.Duration
	RequestsPerSecond float64
	Referer           string
}

// Payload is a downloaded body.
type Payload struct {
	Body        []byte
	ContentType string
}

// Client issues GET requests with bounded automatic retry.
type Client struct {
	standard *resty.Client
	large    *resty.Client
	policy   *retry.Policy
	logger   *zap.Logger
}

// New builds a Client. The standard client serves API, page and image
// requests; the large client uses LargeTimeout for documents.
func New(cfg Config, policy *retry.Policy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = retry.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LargeTimeout < cfg.Timeout {
		cfg.LargeTimeout = cfg.Timeout
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	c := &Client{policy: policy, logger: logger}
	transport := newHTTPTransport()
	c.standard = c.build(cfg, cfg.Timeout, transport, limiter)
	c.large = c.build(cfg, cfg.LargeTimeout, transport, limiter)
	return c
}

func (c *Client) build(cfg Config, timeout time.Duration, transport http.RoundTripper, limiter *rate.Limiter) *resty.Client {
	r := resty.New()
	r.SetLogger(c.logger.Named("resty").Sugar())
	r.SetTransport(transport)
	r.SetTimeout(timeout)
	if cfg.UserAgent != "" {
		r.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Referer != "" {
		r.SetHeader("Referer", cfg.Referer)
	}
	r.SetRetryCount(c.policy.MaxRetries())
	r.SetRetryWaitTime(c.policy.BaseDelay())
	r.SetRetryMaxWaitTime(c.policy.MaxDelay())
	r.AddRetryCondition(c.shouldRetry)
	r.AddRetryHook(func(resp *resty.Response, err error) {
		fields := []zap.Field{zap.Error(err)}
		if resp != nil {
			fields = append(fields, zap.Int("status_code", resp.StatusCode()), zap.Int("attempt", resp.Request.Attempt))
			if resp.Request.RawRequest != nil {
				fields = append(fields, zap.String("url", resp.Request.RawRequest.URL.String()))
			}
		}
		c.logger.Debug("retrying request", fields...)
	})
	if limiter != nil {
		r.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}
	return r
}

// shouldRetry retries idempotent requests that failed transiently, unless
// the caller's context is already done.
func (c *Client) shouldRetry(resp *resty.Response, err error) bool {
	if resp != nil && resp.Request != nil {
		if !retry.IdempotentMethod(resp.Request.Method) || resp.Request.Context().Err() != nil {
			return false
		}
	}
	if err != nil {
		return c.policy.Transient(err)
	}
	if resp == nil {
		return false
	}
	return retry.RetryableStatus(resp.StatusCode())
}

// GetJSON fetches rawURL with query and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	resp, err := c.standard.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetQueryParamsFromValues(query).
		Get(rawURL)
	if err != nil {
		return fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return &retry.StatusError{URL: rawURL, StatusCode: resp.StatusCode()}
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// Download fetches rawURL into memory. large selects the longer timeout.
func (c *Client) Download(ctx context.Context, rawURL string, large bool) (Payload, error) {
	client := c.standard
	if large {
		client = c.large
	}
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		Get(rawURL)
	if err != nil {
		return Payload{}, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	if resp.IsError() {
		return Payload{}, &retry.StatusError{URL: rawURL, StatusCode: resp.StatusCode()}
	}
	return Payload{
		Body:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
	}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
