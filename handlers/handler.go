// Package handlers defines the contract every protocol handler implements.
// Handlers are registered with a herald.Broker, which selects one per
// identity address and then delegates the handshake to it.
//
// Selection happens in two passes. First the broker asks each handler, in
// registration order, whether it recognizes the literal address
// (HandlesURL); this must be a cheap pattern test wherever possible. If no
// handler claims the address, the broker fetches it and asks each handler
// whether the page's headers, content or link relations indicate support
// (HandlesPage).
package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/peterhellberg/link"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/fetch"
)

// URLScheme is a (template, placeholder) pair for login UIs. The template
// contains a "%" marking where the placeholder text goes, e.g.
// ("https://%", "instance/").
type URLScheme struct {
	Template    string
	Placeholder string
}

// Logo is an (HTML, label) pair for login buttons. The HTML should be an
// isolated <svg> element or an <img> with a publicly usable https source.
type Logo struct {
	HTML  string
	Label string
}

// Handler is one authentication protocol. Implementations are constructed
// once at configuration time and must be immutable afterward, apart from
// internal caches, which must be safe for concurrent use.
type Handler interface {
	// CbID is the callback identifier used to route callbacks back to this
	// handler. It must be unique across a broker instance, short, and
	// stable.
	CbID() string

	// ServiceName is the human-readable name of the service.
	ServiceName() string

	// URLSchemes lists the supported address shapes for login UIs.
	URLSchemes() []URLScheme

	// Description describes the service, in HTML.
	Description() string

	// HandlesURL reports whether this handler can handle the literal
	// address, returning a canonicalized form of it if so and "" if not.
	// The returned value is what will later be passed to InitiateAuth, so
	// it should be a usable identity URL. Probing a well-known API endpoint
	// relative to the address is acceptable here; anything that requires
	// parsing the page itself belongs in HandlesPage.
	HandlesURL(ctx context.Context, url string) string

	// HandlesPage reports whether this handler can handle the address based
	// on the fetched page: its headers, parsed content, and Link-header
	// relations.
	HandlesPage(ctx context.Context, url string, headers http.Header, page *fetch.Page, links link.Group) bool

	// InitiateAuth begins the authentication flow for the canonicalized
	// identity URL. callbackURI is where the provider should send the user
	// afterward; redir is where the application wants the user to land once
	// verified.
	InitiateAuth(ctx context.Context, idURL, callbackURI, redir string) disposition.Disposition

	// CheckCallback processes the provider's callback. url is the full
	// callback URL; get and form carry the query and POST parameters. All
	// internal failures must be translated into disposition.Error, never
	// propagated as raw errors.
	CheckCallback(ctx context.Context, url string, get, form url.Values) disposition.Disposition
}

// GenericURLer is implemented by handlers that can be used with a fixed URL
// irrespective of the user's identity, e.g. a hosted login service.
type GenericURLer interface {
	GenericURL() string
}

// Logoer is implemented by handlers that ship login-button artwork.
type Logoer interface {
	LogoHTML() []Logo
}
