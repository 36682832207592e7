// Package webfinger resolves @user@domain style addresses into candidate
// profile URLs via the RFC 7033 well-known endpoint.
package webfinger

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/net/idna"

	"github.com/herald-auth/herald/fetch"
)

// profileRels are the link rels that point at a profile resource. The
// long-form profile-page rel is what Mastodon and friends emit.
var profileRels = map[string]bool{
	"http://webfinger.net/rel/profile-page": true,
	"profile":                               true,
	"self":                                  true,
}

var addressRE = regexp.MustCompile(`^(?:@|acct:)([^@]+)@([^@]+)$`)

// Resolver turns WebFinger addresses into candidate profile URLs.
type Resolver struct {
	client *fetch.Client
	logger hclog.Logger
}

// New creates a Resolver. Supported options: WithClient, WithLogger.
func New(opt ...Option) *Resolver {
	opts := getOpts(opt...)
	client := opts.withClient
	if client == nil {
		client = fetch.New()
	}
	return &Resolver{client: client, logger: opts.withLogger}
}

// Profiles returns the candidate identity URLs for a WebFinger-style address
// (@user@domain or acct:user@domain). For any other address shape it returns
// nil. When the domain does not answer WebFinger queries (non-2xx status or
// malformed JSON), the conventional profile URL https://domain/@user is
// returned as the sole guess. Unreachable domains yield an empty set.
func (r *Resolver) Profiles(ctx context.Context, addr string) []string {
	match := addressRE.FindStringSubmatch(strings.TrimSpace(addr))
	if match == nil {
		return nil
	}
	user, domain := match[1], match[2]

	if ascii, err := idna.Lookup.ToASCII(domain); err == nil {
		domain = ascii
	}
	domain = strings.ToLower(domain)

	resource := fmt.Sprintf("acct:%s@%s", user, domain)
	query := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s",
		domain, url.QueryEscape(resource))

	fallback := []string{fmt.Sprintf("https://%s/@%s", domain, user)}

	resp, err := r.client.Fetch(ctx, query)
	if err != nil {
		r.logger.Debug("webfinger query failed", "resource", resource, "error", err)
		return nil
	}
	if !resp.Success() {
		r.logger.Debug("webfinger not supported, using conventional profile",
			"resource", resource, "status", resp.StatusCode)
		return fallback
	}

	var doc struct {
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := resp.JSON(&doc); err != nil {
		r.logger.Debug("webfinger response undecodable", "resource", resource, "error", err)
		return fallback
	}

	var profiles []string
	seen := map[string]bool{}
	for _, l := range doc.Links {
		if profileRels[l.Rel] && l.Href != "" && !seen[l.Href] {
			seen[l.Href] = true
			profiles = append(profiles, l.Href)
		}
	}
	return profiles
}

type options struct {
	withClient *fetch.Client
	withLogger hclog.Logger
}

// Option configures a Resolver.
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

// WithClient provides the fetch client used for WebFinger queries.
func WithClient(c *fetch.Client) Option {
	return func(o *options) {
		o.withClient = c
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
