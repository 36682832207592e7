package fediverse

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

// defaultHTTPTimeout bounds each instance API call.
const defaultHTTPTimeout = 30 * time.Second

type options struct {
	withHomepage   string
	withTimeout    time.Duration
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

// Option configures the Fediverse handler.
type Option func(*options)

func getOpts(opt ...Option) options {
	opts := options{
		withTimeout: DefaultTimeout,
		withLogger:  hclog.NewNullLogger(),
	}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	if opts.withHTTPClient == nil {
		client := cleanhttp.DefaultPooledClient()
		client.Timeout = defaultHTTPTimeout
		opts.withHTTPClient = client
	}
	return opts
}

// WithHomepage sets the website homepage sent along with app registration.
func WithHomepage(homepage string) Option {
	return func(o *options) {
		o.withHomepage = homepage
	}
}

// WithTimeout bounds the whole login transaction, checked at callback time.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withTimeout = d
		}
	}
}

// WithHTTPClient provides the client used for instance API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.withHTTPClient = c
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
