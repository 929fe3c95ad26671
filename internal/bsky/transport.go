package bsky

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

// leveledZerolog adapts zerolog to retryablehttp. Intermediate failures are
// logged at WARN since the request may still succeed on retry.
type leveledZerolog struct {
	inner zerolog.Logger
}

func (l leveledZerolog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Info(msg string, keysAndValues ...any) {
	l.inner.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledZerolog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug().Fields(keysAndValues).Msg(msg)
}

// retryPolicy leaves 429 to the caller so rate limiting is classified like any
// other retryable failure instead of being hidden inside the transport.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// newTransport returns the pooled transport shared by both HTTP clients.
func newTransport(proxy *url.URL) *http.Transport {
	t := cleanhttp.DefaultPooledTransport()
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}

// newQueryClient retries idempotent queries on connection errors and 5xx.
// onRetry, when set, is called with the XRPC method of every repeated attempt.
func newQueryClient(t http.RoundTripper, retries int, timeout time.Duration, logger zerolog.Logger, onRetry func(string)) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = t
	rc.RetryMax = retries
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 10 * time.Second
	rc.Logger = retryablehttp.LeveledLogger(leveledZerolog{inner: logger.With().Str("subsystem", "xrpc").Logger()})
	rc.CheckRetry = retryPolicy
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 && onRetry != nil {
			onRetry(xrpcMethod(req.URL.Path))
		}
	}

	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

// newProcedureClient never retries; mutating calls are retried by the engine.
func newProcedureClient(t http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Timeout: timeout}
}

func xrpcMethod(path string) string {
	if i := strings.LastIndex(path, "/xrpc/"); i >= 0 {
		return path[i+len("/xrpc/"):]
	}
	return path
}
