// Package testloopback provides a deterministic handler that "verifies" any
// test: URL without network traffic. It exists so the broker and framework
// adapters can be integration-tested; it must never be enabled in a
// production configuration.
package testloopback

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/peterhellberg/link"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/fetch"
	"github.com/herald-auth/herald/handlers"
)

// Handler accepts any test: URL and immediately verifies it, except for the
// sentinel test:error which fails.
type Handler struct{}

var _ handlers.Handler = Handler{}

// New creates a loopback handler.
func New() Handler { return Handler{} }

// CbID implements handlers.Handler. The id is deliberately loud.
func (Handler) CbID() string { return "TEST_DO_NOT_USE" }

// ServiceName implements handlers.Handler.
func (Handler) ServiceName() string { return "Loopback" }

// Description implements handlers.Handler.
func (Handler) Description() string {
	return "Used for testing purposes. Don't use this on a production website."
}

// URLSchemes implements handlers.Handler.
func (Handler) URLSchemes() []handlers.URLScheme {
	return []handlers.URLScheme{{Template: "test:%", Placeholder: "example"}}
}

// HandlesURL accepts any URL with the test: scheme.
func (Handler) HandlesURL(_ context.Context, url string) string {
	if strings.HasPrefix(url, "test:") {
		return url
	}
	return ""
}

// HandlesPage implements handlers.Handler.
func (Handler) HandlesPage(context.Context, string, http.Header, *fetch.Page, link.Group) bool {
	return false
}

// InitiateAuth immediately verifies the identity, or fails for test:error.
func (Handler) InitiateAuth(_ context.Context, idURL, _, redir string) disposition.Disposition {
	if idURL == "test:error" {
		return disposition.Error{Message: "Error identity requested", Redir: redir}
	}
	return disposition.Verified{Identity: idURL, Redir: redir, Profile: disposition.Profile{}}
}

// CheckCallback implements handlers.Handler; the loopback flow never issues
// a callback.
func (Handler) CheckCallback(context.Context, string, url.Values, url.Values) disposition.Disposition {
	return disposition.Error{Message: "This shouldn't be possible"}
}
