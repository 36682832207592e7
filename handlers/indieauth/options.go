package indieauth

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"

	"github.com/herald-auth/herald/fetch"
)

// defaultHTTPTimeout bounds the code-redemption POST.
const defaultHTTPTimeout = 5 * time.Second

type options struct {
	withClientIDFunc func() string
	withTimeout      time.Duration
	withFetchClient  *fetch.Client
	withHTTPClient   *http.Client
	withLogger       hclog.Logger
}

// Option configures the IndieAuth handler.
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
	if opts.withFetchClient == nil {
		opts.withFetchClient = fetch.New(fetch.WithLogger(opts.withLogger))
	}
	if opts.withHTTPClient == nil {
		client := cleanhttp.DefaultPooledClient()
		client.Timeout = defaultHTTPTimeout
		opts.withHTTPClient = client
	}
	return opts
}

// WithClientIDFunc supplies the client_id at request time instead of
// statically, for applications that derive it from the serving host.
func WithClientIDFunc(f func() string) Option {
	return func(o *options) {
		o.withClientIDFunc = f
	}
}

// WithTimeout bounds the whole login transaction, checked at callback time
// against the transaction's stored creation timestamp.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withTimeout = d
		}
	}
}

// WithFetchClient provides the client used for endpoint discovery fetches.
func WithFetchClient(c *fetch.Client) Option {
	return func(o *options) {
		if c != nil {
			o.withFetchClient = c
		}
	}
}

// WithHTTPClient provides the client used for the code-redemption POST.
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
