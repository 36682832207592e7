// Package oauth implements the shared shape of OAuth2 authorization-code
// handlers: statically configured provider endpoints, an optional PKCE
// binding, a bounded-lifetime state token, and a provider-specific identity
// lookup once the code has been exchanged. Protocol variants that differ
// only in endpoints, scopes and profile mapping are presets over this one
// handler rather than handlers of their own.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/peterhellberg/link"
	"golang.org/x/oauth2"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/fetch"
	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/tokens"
)

// DefaultTimeout is how long a login transaction may take end to end.
const DefaultTimeout = 10 * time.Minute

// IdentityFunc fetches the authenticated user's identity from the provider
// once a code exchange has produced an access token. It must return either
// a Verified or an Error disposition.
type IdentityFunc func(ctx context.Context, client *http.Client, accessToken, redir string) disposition.Disposition

// Provider statically describes one OAuth2 provider integration.
type Provider struct {
	// Name is the human-readable service name.
	Name string

	// CbID is the callback identifier; must be unique per broker.
	CbID string

	// Description describes the service, in HTML.
	Description string

	// URLSchemes lists the supported address shapes for login UIs.
	URLSchemes []handlers.URLScheme

	// AuthURL and TokenURL are the provider's OAuth2 endpoints. RevokeURL,
	// if set, is used for best-effort token revocation after the handshake.
	AuthURL   string
	TokenURL  string
	RevokeURL string

	// ClientID and ClientSecret are the pre-registered client credentials.
	ClientID     string
	ClientSecret string

	// Scopes to request.
	Scopes []string

	// UsePKCE attaches an S256 code challenge to the authorization request
	// and the matching verifier to the exchange.
	UsePKCE bool

	// HandlesURL is the pattern test mapping a literal address to its
	// canonical identity URL, or "" for no match.
	HandlesURL func(addr string) string

	// Identity resolves the authenticated user once a token is held.
	Identity IdentityFunc
}

// Handler drives the authorization-code flow for one configured Provider.
type Handler struct {
	provider Provider
	store    tokens.Store
	timeout  time.Duration
	http     *http.Client
	logger   hclog.Logger
}

var _ handlers.Handler = (*Handler)(nil)

// New creates an OAuth handler for the given provider description.
// Supported options: WithTimeout, WithHTTPClient, WithLogger.
func New(provider Provider, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "oauth.New"
	switch {
	case store == nil:
		return nil, fmt.Errorf("%s: nil token store", op)
	case provider.CbID == "":
		return nil, fmt.Errorf("%s: provider callback id is empty", op)
	case provider.AuthURL == "" || provider.TokenURL == "":
		return nil, fmt.Errorf("%s: provider endpoints are incomplete", op)
	case provider.ClientID == "":
		return nil, fmt.Errorf("%s: provider client id is empty", op)
	case provider.Identity == nil:
		return nil, fmt.Errorf("%s: provider identity func is nil", op)
	}
	opts := getOpts(opt...)
	return &Handler{
		provider: provider,
		store:    store,
		timeout:  opts.withTimeout,
		http:     opts.withHTTPClient,
		logger:   opts.withLogger,
	}, nil
}

// CbID implements handlers.Handler.
func (h *Handler) CbID() string { return h.provider.CbID }

// ServiceName implements handlers.Handler.
func (h *Handler) ServiceName() string { return h.provider.Name }

// Description implements handlers.Handler.
func (h *Handler) Description() string { return h.provider.Description }

// URLSchemes implements handlers.Handler.
func (h *Handler) URLSchemes() []handlers.URLScheme { return h.provider.URLSchemes }

// HandlesURL implements handlers.Handler via the provider's pattern test.
func (h *Handler) HandlesURL(_ context.Context, addr string) string {
	if h.provider.HandlesURL == nil {
		return ""
	}
	return h.provider.HandlesURL(addr)
}

// HandlesPage implements handlers.Handler; static providers are recognized
// by URL shape alone.
func (h *Handler) HandlesPage(context.Context, string, http.Header, *fetch.Page, link.Group) bool {
	return false
}

// InitiateAuth stores a fresh transaction and redirects to the provider's
// authorize endpoint.
func (h *Handler) InitiateAuth(_ context.Context, _, callbackURI, redir string) disposition.Disposition {
	verifier := ""
	if h.provider.UsePKCE {
		v, err := newVerifier()
		if err != nil {
			h.logger.Error("unable to generate PKCE verifier", "error", err)
			return disposition.Error{Message: "Unable to start transaction", Redir: redir}
		}
		verifier = v
	}

	state, err := h.store.Put([]string{verifier, tokens.FormatTime(time.Now()), redir})
	if err != nil {
		h.logger.Error("unable to store transaction", "error", err)
		return disposition.Error{Message: "Unable to start transaction", Redir: redir}
	}

	conf := h.oauthConfig(callbackURI)
	var authOpts []oauth2.AuthCodeOption
	if verifier != "" {
		authOpts = append(authOpts,
			oauth2.SetAuthURLParam("code_challenge", challenge(verifier)),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return disposition.Redirect{URL: conf.AuthCodeURL(state, authOpts...)}
}

// CheckCallback consumes the state token, exchanges the code, resolves the
// identity via the provider's identity func, and revokes the access token
// best-effort.
func (h *Handler) CheckCallback(ctx context.Context, cbURL string, get, _ url.Values) disposition.Disposition {
	state := get.Get("state")
	if state == "" {
		return disposition.Error{Message: "No transaction provided"}
	}
	value, err := h.store.Pop(state)
	if err != nil {
		return disposition.Error{Message: "Transaction invalid or expired"}
	}
	fields, err := tokens.Unpack(value, 3)
	if err != nil {
		return disposition.Error{Message: "Transaction invalid or expired"}
	}
	verifier, redir := fields[0], fields[2]
	when, err := tokens.ParseTime(fields[1])
	if err != nil {
		return disposition.Error{Message: "Transaction invalid or expired"}
	}

	if errMsg := get.Get("error"); errMsg != "" {
		desc := get.Get("error_description")
		if desc == "" {
			desc = errMsg
		}
		return disposition.Error{Message: "Provider returned an error: " + desc, Redir: redir}
	}

	if time.Now().After(when.Add(h.timeout)) {
		return disposition.Error{Message: "Login timed out", Redir: redir}
	}

	code := get.Get("code")
	if code == "" {
		return disposition.Error{Message: "Missing auth code", Redir: redir}
	}

	conf := h.oauthConfig(stripQuery(cbURL))
	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, h.http)
	var exchangeOpts []oauth2.AuthCodeOption
	if verifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("code_verifier", verifier))
	}
	token, err := conf.Exchange(oauthCtx, code, exchangeOpts...)
	if err != nil {
		h.logger.Info("code exchange failed", "provider", h.provider.Name, "error", err)
		return disposition.Error{Message: "Could not retrieve access token", Redir: redir}
	}

	result := h.provider.Identity(ctx, h.http, token.AccessToken, redir)

	h.revokeToken(ctx, token.AccessToken)

	return result
}

func (h *Handler) oauthConfig(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     h.provider.ClientID,
		ClientSecret: h.provider.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       h.provider.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  h.provider.AuthURL,
			TokenURL: h.provider.TokenURL,
		},
	}
}

// revokeToken revokes the access token if the provider supports it.
// Failures are logged and otherwise ignored.
func (h *Handler) revokeToken(ctx context.Context, token string) {
	if h.provider.RevokeURL == "" {
		return
	}
	form := url.Values{
		"client_id": {h.provider.ClientID},
		"token":     {token},
	}
	if h.provider.ClientSecret != "" {
		form.Set("client_secret", h.provider.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		h.provider.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.http.Do(req)
	if err != nil {
		h.logger.Warn("unable to revoke access token", "provider", h.provider.Name, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.logger.Warn("unable to revoke access token", "provider", h.provider.Name, "status", resp.StatusCode)
	}
}

func stripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
