package indieauth

import (
	"context"
	"net/url"

	"github.com/peterhellberg/link"

	"github.com/herald-auth/herald/fetch"
)

// endpointRels are the IndieWeb endpoint relations worth discovering.
// authorization_endpoint is the one the handshake depends on; the rest are
// surfaced to the application through the profile's "endpoints" map.
var endpointRels = []string{
	"authorization_endpoint",
	"token_endpoint",
	"ticket_endpoint",
	"webmention",
	"micropub",
	"microsub",
}

// discovered is a cached discovery outcome: the endpoint rel->URL map and
// the permanent profile URL the identity canonicalized to.
type discovered struct {
	endpoints  map[string]string
	profileURL string
}

// discover finds the IndieWeb endpoints for an identity URL. links and page
// may carry an already-fetched response for the URL; when both are nil and
// nothing usable is cached, the page is fetched. Fresh link/page data takes
// precedence over cached values, since the endpoints may have changed.
func (h *Handler) discover(ctx context.Context, idURL string, links link.Group, page *fetch.Page) discovered {
	profile := idURL

	cached, haveCached := h.endpointCache.Get(idURL)
	if haveCached {
		profile = cached.profileURL
	}

	if !haveCached && links == nil && page == nil {
		result, err := h.client.Fetch(ctx, idURL)
		if err != nil {
			h.logger.Debug("endpoint discovery fetch failed", "url", idURL, "error", err)
			return discovered{endpoints: map[string]string{}, profileURL: profile}
		}
		links = result.Links
		profile = result.PermanentURL()
		if p, err := result.Page(); err == nil {
			page = p
		}
	}

	endpoints := map[string]string{}
	if haveCached {
		for rel, u := range cached.endpoints {
			endpoints[rel] = u
		}
	}
	for _, rel := range endpointRels {
		if endpoint := deriveEndpoint(idURL, rel, links, page); endpoint != "" {
			endpoints[rel] = endpoint
		}
	}

	found := discovered{endpoints: endpoints, profileURL: profile}
	if len(endpoints) > 0 && idURL != "" {
		h.endpointCache.Set(idURL, found)
		h.endpointCache.Set(profile, found)

		// Opportunistically prefill the profile cache while we have the page.
		if page != nil {
			h.profileCache.Set(profile, page.HCard())
		}
	}
	return found
}

// deriveEndpoint resolves one endpoint rel from the Link headers or, failing
// that, the page's <link> tags. Values are resolved relative to the identity
// URL.
func deriveEndpoint(idURL, rel string, links link.Group, page *fetch.Page) string {
	if links != nil {
		if l, ok := links[rel]; ok && l.URI != "" {
			return resolveAgainst(idURL, l.URI)
		}
	}
	if page != nil {
		return page.LinkRel(rel)
	}
	return ""
}

func resolveAgainst(baseURL, href string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// hCardProfile returns the h-card profile fields for an identity URL,
// preferring the cache and fetching the page on a miss.
func (h *Handler) hCardProfile(ctx context.Context, idURL string) map[string]string {
	if cached, ok := h.profileCache.Get(idURL); ok {
		return cached
	}
	result, err := h.client.Fetch(ctx, idURL)
	if err != nil {
		h.logger.Debug("profile fetch failed", "url", idURL, "error", err)
		return map[string]string{}
	}
	page, err := result.Page()
	if err != nil {
		return map[string]string{}
	}
	profile := page.HCard()
	h.profileCache.Set(idURL, profile)
	return profile
}
