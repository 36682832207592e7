package herald

import (
	"github.com/hashicorp/go-hclog"

	"github.com/herald-auth/herald/fetch"
	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/tokens"
)

type options struct {
	withHandlers    []handlers.Handler
	withFetchClient *fetch.Client
	withTokenStore  tokens.Store
	withLogger      hclog.Logger
}

// Option configures a Broker.
type Option func(*options)

func getOpts(opt ...Option) options {
	opts := options{withLogger: hclog.NewNullLogger()}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithHandlers registers handlers at construction time, in decreasing
// priority order.
func WithHandlers(h ...handlers.Handler) Option {
	return func(o *options) {
		o.withHandlers = append(o.withHandlers, h...)
	}
}

// WithFetchClient provides the client used to fetch identity addresses
// during resolution.
func WithFetchClient(c *fetch.Client) Option {
	return func(o *options) {
		if c != nil {
			o.withFetchClient = c
		}
	}
}

// WithTokenStore provides the transaction token store shared by the
// handlers FromConfig enables. Defaults to an instance-local DictStore,
// which will not work well in load-balanced deployments; swap in a
// tokens.Serializer or a shared-store implementation there.
func WithTokenStore(s tokens.Store) Option {
	return func(o *options) {
		if s != nil {
			o.withTokenStore = s
		}
	}
}

// WithLogger provides an optional logger, propagated to the components the
// Broker constructs itself.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.withLogger = l
		}
	}
}
