package emailaddr

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

type options struct {
	withFrom         string
	withSubject      string
	withLifetime     time.Duration
	withTemplateText string
	withPendingSize  int
	withLogger       hclog.Logger
}

// Option configures the email handler.
type Option func(*options)

func getOpts(opt ...Option) options {
	opts := options{
		withSubject:      DefaultSubject,
		withLifetime:     DefaultLifetime,
		withTemplateText: DefaultTemplateText,
		withPendingSize:  1024,
		withLogger:       hclog.NewNullLogger(),
	}
	for _, o := range opt {
		if o != nil {
			o(&opts)
		}
	}
	return opts
}

// WithFrom sets the From address placed on outgoing messages.
func WithFrom(from string) Option {
	return func(o *options) {
		o.withFrom = from
	}
}

// WithSubject sets the Subject line placed on outgoing messages.
func WithSubject(subject string) Option {
	return func(o *options) {
		o.withSubject = subject
	}
}

// WithLifetime sets how long a mailed link stays valid.
func WithLifetime(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withLifetime = d
		}
	}
}

// WithTemplateText overrides the plaintext email body template. The template
// receives {{.URL}} and {{.Minutes}}.
func WithTemplateText(text string) Option {
	return func(o *options) {
		if text != "" {
			o.withTemplateText = text
		}
	}
}

// WithPendingSize bounds the anti-abuse pending set.
func WithPendingSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.withPendingSize = n
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
