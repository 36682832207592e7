package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
)

// defaultHTTPTimeout bounds each provider API call.
const defaultHTTPTimeout = 30 * time.Second

type options struct {
	withTimeout    time.Duration
	withHTTPClient *http.Client
	withLogger     hclog.Logger
}

// Option configures an OAuth handler.
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

// WithTimeout bounds the whole login transaction, checked at callback time.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.withTimeout = d
		}
	}
}

// WithHTTPClient provides the client used for provider API calls.
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

// newVerifier generates a PKCE code verifier (RFC 7636).
func newVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("unable to generate verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// challenge converts a PKCE verifier into its S256 challenge.
func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
