package client

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/replicate/rget/pkg/logging"
	"github.com/replicate/rget/pkg/version"
)

const (
	retryMinWait     = 100 * time.Millisecond  // in milliseconds
	retryMaxWait     = 3000 * time.Millisecond // in milliseconds, do not backoff further than 3 seconds
	retrySleepJitter = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in backoffFunc

	defaultConnectTimeout = 10 * time.Second
)

// HTTPClient is the subset of *http.Client used by the downloader.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures the transport.
type Options struct {
	// MaxRetries is how many times a request is re-sent when it fails before
	// any response body was handed out. Zero disables retries.
	MaxRetries int
	// ConnectTimeout bounds establishing a connection.
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout bounds the wait for response headers once the
	// request is sent. Zero means no limit.
	ResponseHeaderTimeout time.Duration
	// MaxConnPerHost limits connections per host. Zero means no limit.
	MaxConnPerHost int
	// ResolveOverrides maps host:port to the ip:port that should be dialed
	// instead, without affecting the Host header or TLS verification.
	ResolveOverrides map[string]string
}

type UserAgentTransport struct {
	Transport http.RoundTripper
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", fmt.Sprintf("rget/%s", version.GetVersion()))
	return t.Transport.RoundTrip(req)
}

// NewHTTPClient returns an *http.Client backed by a retrying transport.
// Redirects are followed.
func NewHTTPClient(opts Options) *http.Client {
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	baseTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: transportDialContext(&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}, opts.ResolveOverrides),
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		MaxConnsPerHost:       opts.MaxConnPerHost,
		// range requests must return the bytes as stored
		DisableCompression: true,
	}
	transport := &UserAgentTransport{Transport: baseTransport}

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirectFunc,
		},
		Logger:       nil,
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      backoffFunc,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	return retryClient.StandardClient()
}

// backoffFunc is a wrapper around retryablehttp.DefaultBackoff that allows for adding a random jitter to the backoff
// we utilize the jitter to avoid thundering herd issues since we are running with significant numbers of concurrent
// downloads.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

// checkRedirectFunc logs redirects and otherwise keeps net/http's default
// limit of 10 hops.
func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after %d redirects", len(via))
	}
	logger := logging.GetLogger()
	event := logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String())
	if req.Response != nil {
		event = event.Int("status", req.Response.StatusCode)
	}
	event.Msg("Redirect")
	return nil
}

// transportDialContext is a wrapper around net.Dialer that allows for overriding DNS lookups via the values passed to
// `--resolve` argument.
func transportDialContext(dialer *net.Dialer, overrides map[string]string) func(context.Context, string, string) (net.Conn, error) {
	// Allow for overriding DNS lookups in the dialer without impacting Host and SSL resolution
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addrOverride := overrides[addr]; addrOverride != "" {
			logger := logging.GetLogger()
			logger.Debug().Str("addr", addr).Str("override", addrOverride).Msg("DNS Override")
			addr = addrOverride
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

func GetSchemeHostKey(urlString string) (string, error) {
	parsedURL, err := url.Parse(urlString)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host), err
}
