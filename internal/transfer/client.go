package transfer

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

// ClientOptions configures the HTTP client shared by discovery, the size
// probe and the transfer engine.
type ClientOptions struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	// Default: 10s
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for response headers.
	// Default: 30s
	ReadTimeout time.Duration

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// AuthToken is sent as a bearer token on every request when set.
	AuthToken string

	// Header is added to every request that does not already carry the key.
	Header http.Header
}

// DefaultClientOptions returns options with sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ConnectTimeout:      10 * time.Second,
		ReadTimeout:         30 * time.Second,
		MaxIdleConnsPerHost: 16,
	}
}

// NewHTTPClient creates a client tuned for long streaming downloads. It has
// no overall timeout; stalls are caught by the engine's read watchdog.
func NewHTTPClient(opts ClientOptions) *http.Client {
	defaults := DefaultClientOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaults.ConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	var rt http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    true, // byte offsets must refer to the raw body
	}

	if len(opts.Header) > 0 {
		rt = &headerTransport{base: rt, header: opts.Header.Clone()}
	}

	if opts.AuthToken != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AuthToken}),
			Base:   rt,
		}
	}

	return &http.Client{Transport: otelhttp.NewTransport(rt)}
}

// headerTransport adds static headers to outgoing requests.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	for key, values := range t.header {
		if req.Header.Get(key) == "" {
			req.Header[key] = values
		}
	}

	return t.base.RoundTrip(req)
}
