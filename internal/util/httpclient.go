package util

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rizzling/toshiwatcher/internal/config"
)

// NewHTTPClient builds a client for a single upstream. Unset fields of c
// take the config defaults.
func NewHTTPClient(c config.CommonHTTP) *http.Client {
	c = c.WithDefaults()
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: c.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        c.MaxIdleConns,
		MaxIdleConnsPerHost: c.MaxIdleConns,
		IdleConnTimeout:     c.IdleConnTimeout,
		TLSHandshakeTimeout: c.DialTimeout,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Timeout: c.Timeout, Transport: tr}
}

// Retry calls fn and, while it fails, retries it up to retries more times
// with exponential backoff from initial to maxInterval. onRetry, if set,
// sees every failure that will be retried.
func Retry(ctx context.Context, retries int, initial, maxInterval time.Duration, onRetry func(attempt int, err error), fn func() error) error {
	if retries < 0 {
		retries = 0
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = maxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	attempt := 0
	err := backoff.RetryNotify(fn, b, func(err error, next time.Duration) {
		attempt++
		if onRetry != nil {
			onRetry(attempt, err)
		}
	})
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
