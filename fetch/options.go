package fetch

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

type options struct {
	withHTTPClient *http.Client
	withTimeout    time.Duration
	withUserAgent  string
	withLogger     hclog.Logger
}

// Option configures a fetch Client.
type Option func(*options)

func getOpts(opt ...Option) options {
	opts := options{
		withTimeout:   DefaultTimeout,
		withUserAgent: DefaultUserAgent,
		withLogger:    hclog.NewNullLogger(),
	}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithHTTPClient provides a fully configured http.Client, overriding the
// default pooled client and WithTimeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.withHTTPClient = c
	}
}

// WithTimeout bounds each fetch, including redirect hops.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withTimeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.withUserAgent = ua
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.withLogger = l
		}
	}
}
