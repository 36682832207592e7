// Package fetch retrieves identity URLs on behalf of the resolution and
// discovery machinery. It guesses a scheme when the address has none, records
// the redirect chain so the permanent (canonical) URL can be computed, and
// exposes the response's Link headers and parsed HTML to callers.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"github.com/peterhellberg/link"
)

// DefaultTimeout bounds a single fetch, including all redirect hops.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent identifies herald to the servers it probes.
const DefaultUserAgent = "herald (+https://github.com/herald-auth/herald)"

// maxBodyBytes caps how much of a profile page we are willing to read.
const maxBodyBytes = 4 << 20

// Redirect is one hop of a response's redirect history: the URL that was
// requested and the status code it answered with.
type Redirect struct {
	URL        string
	StatusCode int
}

// Result is a fetched response. Body has already been read in full.
type Result struct {
	// URL is the final URL after following redirects.
	URL string

	StatusCode int
	Header     http.Header
	Body       string

	// History holds the redirect chain, oldest hop first. It is empty when
	// the response was served directly.
	History []Redirect

	// Links holds the parsed Link: headers, keyed by rel.
	Links link.Group

	page    *Page
	pageErr error
}

// Client fetches identity URLs. The zero value is not usable; use New.
type Client struct {
	http      *http.Client
	userAgent string
	logger    hclog.Logger
}

// New creates a fetch client. Supported options: WithHTTPClient,
// WithTimeout, WithUserAgent, WithLogger.
func New(opt ...Option) *Client {
	opts := getOpts(opt...)
	httpClient := opts.withHTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = opts.withTimeout
	}
	return &Client{
		http:      httpClient,
		userAgent: opts.withUserAgent,
		logger:    opts.withLogger,
	}
}

// Fetch requests addr, attempting to canonicalize it as it goes. When addr
// has no scheme, it is retried as https:// and then http://. Returns nil and
// an error only when every attempt failed; a non-2xx response is still a
// Result, for the caller to judge.
func (c *Client) Fetch(ctx context.Context, addr string) (*Result, error) {
	const op = "fetch.Client.Fetch"
	var lastErr error
	for _, prefix := range []string{"", "https://", "http://"} {
		attempt := prefix + addr
		u, err := url.Parse(attempt)
		if err != nil || !u.IsAbs() || u.Host == "" {
			continue
		}
		result, err := c.get(ctx, attempt)
		if err != nil {
			c.logger.Debug("fetch attempt failed", "url", attempt, "error", err)
			lastErr = err
			continue
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no fetchable form of %q", op, addr)
	}
	return nil, fmt.Errorf("%s: %w", op, lastErr)
}

func (c *Client) get(ctx context.Context, rawURL string) (*Result, error) {
	var history []Redirect

	// Shallow-copy the client so this request gets its own redirect
	// recorder; the transport is still shared.
	httpClient := *c.http
	httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("stopped after 10 redirects")
		}
		prev := via[len(via)-1]
		history = append(history, Redirect{
			URL:        prev.URL.String(),
			StatusCode: req.Response.StatusCode,
		})
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	return &Result{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       string(body),
		History:    history,
		Links:      link.ParseHeader(resp.Header),
	}, nil
}

// Success reports whether the response carried a 2xx status.
func (r *Result) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// PermanentURL determines the canonical URL for the response from its
// redirect history. Permanent (301/308) hops are skipped: a permanent
// redirect means the hop's URL should no longer be treated as canonical. The
// first URL reached by anything other than a permanent redirect wins; if the
// whole chain was permanent, the final URL is canonical.
func (r *Result) PermanentURL() string {
	for _, hop := range r.History {
		if hop.StatusCode == http.StatusMovedPermanently || hop.StatusCode == http.StatusPermanentRedirect {
			continue
		}
		return normalizeURL(hop.URL)
	}
	return normalizeURL(r.URL)
}

// JSON decodes the body as JSON into v.
func (r *Result) JSON(v interface{}) error {
	return json.Unmarshal([]byte(r.Body), v)
}

// Page parses the body as HTML. The parse happens once; subsequent calls
// return the same tree.
func (r *Result) Page() (*Page, error) {
	if r.page == nil && r.pageErr == nil {
		r.page, r.pageErr = ParsePage(r.URL, r.Body)
	}
	return r.page, r.pageErr
}

// normalizeURL lowercases the host portion of a URL, leaving the rest alone.
func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
