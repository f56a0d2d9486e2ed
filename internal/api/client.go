// Package api fetches remote JSON documents for the formatter.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// ErrTooLarge is returned when a response body exceeds the configured limit
var ErrTooLarge = errors.New("document too large")

// TokenSource looks up the bearer token for a host. An empty token means none.
type TokenSource interface {
	LoadToken(host string) (string, error)
}

// Options configure a Client
type Options struct {
	Timeout       time.Duration
	RetryCount    int
	RetryWaitTime time.Duration
	MaxBytes      int64
	UserAgent     string
}

// FetchRequest is validated before any request is made
type FetchRequest struct {
	URL string `validate:"required,http_url"`
}

// Client represents a document fetch client
type Client struct {
	http     *resty.Client
	maxBytes int64
	tokens   TokenSource
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewClient creates a new fetch client. tokens may be nil.
func NewClient(opts Options, tokens TokenSource, log logrus.FieldLogger) *Client {
	if opts.RetryWaitTime <= 0 {
		opts.RetryWaitTime = 500 * time.Millisecond
	}

	client := &Client{
		maxBytes: opts.MaxBytes,
		tokens:   tokens,
		validate: validator.New(),
		log:      log,
	}

	// Configure resty client
	client.http = resty.New().
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWaitTime).
		SetRetryMaxWaitTime(4 * opts.RetryWaitTime).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Retry on 429 (Too Many Requests) and 5xx server errors
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})

	return client
}

// FetchJSON downloads the document at rawURL and returns it as text.
// The body is not parsed; it is handed to the formatter like typed input.
func (c *Client) FetchJSON(ctx context.Context, rawURL string) (string, error) {
	req := FetchRequest{URL: strings.TrimSpace(rawURL)}
	if err := c.validate.Struct(req); err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	r := c.http.R().SetContext(ctx).SetDoNotParseResponse(true)
	if token := c.tokenFor(u.Hostname()); token != "" {
		r.SetAuthToken(token)
	}

	start := time.Now()
	resp, err := r.Get(req.URL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch document: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if !resp.IsSuccess() {
		return "", fmt.Errorf("request failed: %s", resp.Status())
	}

	if c.maxBytes > 0 && resp.RawResponse.ContentLength > c.maxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.RawResponse.ContentLength)
	}

	text, err := c.readLimited(body)
	if err != nil {
		return "", err
	}

	c.log.WithFields(logrus.Fields{
		"host":  u.Host,
		"bytes": len(text),
	}).Infof("Fetched document in %v", time.Since(start).Round(time.Millisecond))

	return text, nil
}

func (c *Client) readLimited(body io.Reader) (string, error) {
	if c.maxBytes <= 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("failed to read response: %w", err)
		}
		return string(data), nil
	}

	data, err := io.ReadAll(io.LimitReader(body, c.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}
	return string(data), nil
}

func (c *Client) tokenFor(host string) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.LoadToken(host)
	if err != nil {
		c.log.Warnf("WARNING: failed to load token for %s: %v", host, err)
		return ""
	}
	return token
}
