// Package lookup proxies word definitions and passage explanations to
// upstream HTTP APIs. Requests are rate limited client-side and never
// retried.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrMissingKey is returned when no API key is configured.
	ErrMissingKey = errors.New("lookup: missing api key")
	// ErrEmptyInput is returned for a blank word or passage.
	ErrEmptyInput = errors.New("lookup: empty input")
	// ErrUpstream wraps non-2xx responses and transport failures.
	ErrUpstream = errors.New("lookup: upstream error")
)

const (
	defaultTimeout = 15 * time.Second
	maxBody        = 1 << 20
)

// Options configures a client.
type Options struct {
	BaseURL    string
	APIKey     string
	RPS        float64
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type base struct {
	url     string
	key     string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newBase(o Options, domain string) base {
	hc := o.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	limit := rate.Inf
	if o.RPS > 0 {
		limit = rate.Limit(o.RPS)
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		url:     o.BaseURL,
		key:     o.APIKey,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("domain", domain),
	}
}

// do waits for the limiter, sends req and returns the body of a 2xx response.
func (b base) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := b.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	b.logger.Debug("upstream call", "action", "lookup", "status", resp.StatusCode, "duration", time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// StatusError is returned for a non-2xx upstream response. It matches
// ErrUpstream with errors.Is.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d %s", e.Code, e.Body)
}

// Is reports whether target is ErrUpstream.
func (e *StatusError) Is(target error) bool { return target == ErrUpstream }
