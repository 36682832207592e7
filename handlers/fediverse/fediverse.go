// Package fediverse authenticates users against Mastodon-compatible
// Fediverse instances. The user's instance is discovered by probing the
// Mastodon instance API, an OAuth client is registered with it dynamically,
// and the user's identity is the profile URL reported by the instance's
// verify-credentials endpoint — which must live on the instance's own
// domain.
package fediverse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/peterhellberg/link"
	"golang.org/x/oauth2"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/fetch"
	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/internal/cache"
	"github.com/herald-auth/herald/tokens"
)

// DefaultTimeout is how long a login transaction may take end to end.
const DefaultTimeout = 10 * time.Minute

// scopes is the only access this handler ever needs: reading the account it
// is verifying.
var scopes = []string{"read:accounts"}

var userPatterns = []*regexp.Regexp{
	regexp.MustCompile(`.*/@(.*)$`),
	regexp.MustCompile(`.*/user/(.*)$`),
}

// Handler authenticates via Mastodon-compatible instances.
type Handler struct {
	name     string
	homepage string
	store    tokens.Store
	timeout  time.Duration
	http     *http.Client
	logger   hclog.Logger

	// instances caches probe outcomes per candidate host; the empty string
	// marks a host known not to be an instance.
	instances *cache.Cache[string]
}

var _ handlers.Handler = (*Handler)(nil)

// New creates a Fediverse handler. name is the human-readable name of your
// website, registered with each instance; homepage, if set, is sent along
// with the registration.
//
// Supported options: WithHomepage, WithTimeout, WithHTTPClient, WithLogger.
func New(name string, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "fediverse.New"
	if name == "" {
		return nil, fmt.Errorf("%s: website name is empty", op)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: nil token store", op)
	}
	opts := getOpts(opt...)
	return &Handler{
		name:      name,
		homepage:  opts.withHomepage,
		store:     store,
		timeout:   opts.withTimeout,
		http:      opts.withHTTPClient,
		logger:    opts.withLogger,
		instances: cache.New[string](128, 5*time.Minute),
	}, nil
}

// CbID implements handlers.Handler.
func (h *Handler) CbID() string { return "fv" }

// ServiceName implements handlers.Handler.
func (h *Handler) ServiceName() string { return "Fediverse" }

// Description implements handlers.Handler.
func (h *Handler) Description() string {
	return `Identifies you using your choice of Fediverse instance
	(currently supported: <a href="https://joinmastodon.org/">Mastodon</a>,
	<a href="https://pleroma.social/">Pleroma</a>)`
}

// URLSchemes implements handlers.Handler.
func (h *Handler) URLSchemes() []handlers.URLScheme {
	return []handlers.URLScheme{{Template: "https://%", Placeholder: "instance/"}}
}

// HandlesURL probes the address's host for a Mastodon-compatible instance
// API. The probe is network-bound, so its outcome is cached. When the
// address looks like a profile URL (/@user or /user/name), the canonical
// profile URL on the instance is returned; otherwise the instance root.
func (h *Handler) HandlesURL(ctx context.Context, addr string) string {
	instance := h.getInstance(ctx, addr)
	if instance == "" {
		return ""
	}
	for _, pattern := range userPatterns {
		if m := pattern.FindStringSubmatch(addr); m != nil {
			return instance + "/@" + m[1]
		}
	}
	return instance
}

// HandlesPage implements handlers.Handler; instance detection happens in
// HandlesURL via the API probe.
func (h *Handler) HandlesPage(context.Context, string, http.Header, *fetch.Page, link.Group) bool {
	return false
}

// getInstance returns the base URL of the Mastodon-compatible instance
// serving addr, or "" if its host does not expose a plausible instance API.
// A response only counts when it carries the uri, version and urls keys.
func (h *Handler) getInstance(ctx context.Context, addr string) string {
	u, err := url.Parse(addr)
	if err != nil {
		return ""
	}
	if u.Host == "" {
		if u, err = url.Parse("https://" + addr); err != nil || u.Host == "" {
			return ""
		}
	}
	domain := strings.ToLower(u.Host)

	if cached, ok := h.instances.Get(domain); ok {
		return cached
	}

	instance := "https://" + domain
	probe := func() string {
		info, status, err := h.getJSON(ctx, instance+"/api/v1/instance", "")
		if err != nil {
			h.logger.Debug("instance probe failed", "instance", instance, "error", err)
			return ""
		}
		if status != http.StatusOK {
			h.logger.Debug("instance endpoint returned error", "instance", instance, "status", status)
			return ""
		}
		for _, key := range []string{"uri", "version", "urls"} {
			if _, ok := info[key]; !ok {
				h.logger.Debug("instance data missing key", "instance", instance, "key", key)
				return ""
			}
		}
		return instance
	}

	result := probe()
	h.instances.Set(domain, result)
	if result != "" {
		h.logger.Info("found Fediverse instance", "instance", result)
	}
	return result
}

// InitiateAuth registers an OAuth client with the user's instance and
// redirects the user to its authorize endpoint.
func (h *Handler) InitiateAuth(ctx context.Context, idURL, callbackURI, redir string) disposition.Disposition {
	instance := h.getInstance(ctx, idURL)
	if instance == "" {
		return disposition.Error{Message: "Not a Fediverse instance", Redir: redir}
	}

	clientID, clientSecret, err := h.registerApp(ctx, instance, callbackURI)
	if err != nil {
		h.logger.Info("app registration failed", "instance", instance, "error", err)
		return disposition.Errorf(redir, "Failed to register client: %v", err)
	}

	state, err := h.store.Put([]string{
		instance, clientID, clientSecret, tokens.FormatTime(time.Now()), redir,
	})
	if err != nil {
		h.logger.Error("unable to store transaction", "error", err)
		return disposition.Error{Message: "Unable to start transaction", Redir: redir}
	}

	conf := h.oauthConfig(instance, clientID, clientSecret, callbackURI)
	return disposition.Redirect{URL: conf.AuthCodeURL(state)}
}

// CheckCallback exchanges the authorization code for an access token,
// fetches the authenticated account, and verifies the identity it claims
// belongs to the instance that vouched for it. The access token is revoked
// afterward regardless of outcome.
func (h *Handler) CheckCallback(ctx context.Context, cbURL string, get, _ url.Values) disposition.Disposition {
	state := get.Get("state")
	if state == "" {
		return disposition.Error{Message: "No transaction provided"}
	}
	value, err := h.store.Pop(state)
	if err != nil {
		return disposition.Error{Message: "Invalid transaction"}
	}
	fields, err := tokens.Unpack(value, 5)
	if err != nil {
		return disposition.Error{Message: "Invalid transaction"}
	}
	instance, clientID, clientSecret, redir := fields[0], fields[1], fields[2], fields[4]
	when, err := tokens.ParseTime(fields[3])
	if err != nil {
		return disposition.Error{Message: "Invalid transaction"}
	}

	if errMsg := get.Get("error"); errMsg != "" {
		desc := get.Get("error_description")
		if desc == "" {
			desc = errMsg
		}
		return disposition.Error{Message: "Error signing into instance: " + desc, Redir: redir}
	}

	if time.Now().After(when.Add(h.timeout)) {
		return disposition.Error{Message: "Login timed out", Redir: redir}
	}

	code := get.Get("code")
	if code == "" {
		return disposition.Error{Message: "Missing code", Redir: redir}
	}

	conf := h.oauthConfig(instance, clientID, clientSecret, stripQuery(cbURL))
	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, h.http)
	token, err := conf.Exchange(oauthCtx, code)
	if err != nil {
		h.logger.Info("code exchange failed", "instance", instance, "error", err)
		return disposition.Errorf(redir, "Error signing into instance: %v", err)
	}

	account, status, err := h.getJSON(ctx, instance+"/api/v1/accounts/verify_credentials", token.AccessToken)
	result := h.getIdentity(instance, account, status, err, redir)

	// Clean up after ourselves. Best effort only; a failed revocation never
	// changes the outcome.
	h.revokeToken(ctx, instance, clientID, clientSecret, token.AccessToken)

	return result
}

// getIdentity turns a verify-credentials response into a disposition. The
// canonicalized profile URL must be on the instance's own domain; otherwise
// a malicious instance could vouch for an unrelated identity.
func (h *Handler) getIdentity(instance string, account map[string]interface{}, status int, err error, redir string) disposition.Disposition {
	if err != nil || status != http.StatusOK {
		h.logger.Info("verify_credentials failed", "instance", instance, "status", status, "error", err)
		return disposition.Error{Message: "Unable to fetch user profile", Redir: redir}
	}

	profileURL, _ := account["url"].(string)
	if profileURL == "" {
		return disposition.Error{Message: "Missing user profile", Redir: redir}
	}

	instanceURL, _ := url.Parse(instance)
	idURL := profileURL
	if ref, err := url.Parse(profileURL); err == nil {
		idURL = instanceURL.ResolveReference(ref).String()
	}
	parsed, err := url.Parse(idURL)
	if err != nil || !strings.EqualFold(parsed.Host, instanceURL.Host) {
		h.logger.Warn("instance returned foreign identity", "instance", instance, "identity", idURL)
		return disposition.Error{Message: "Domains do not match", Redir: redir}
	}

	profile := disposition.Profile{}
	if name, _ := account["display_name"].(string); name != "" {
		profile["name"] = name
	}
	source, _ := account["source"].(map[string]interface{})
	if bio, _ := source["note"].(string); bio != "" {
		profile["bio"] = bio
	}
	if avatar, _ := account["avatar_static"].(string); avatar != "" {
		profile["avatar"] = avatar
	} else if avatar, _ := account["avatar"].(string); avatar != "" {
		profile["avatar"] = avatar
	}

	// Profile metadata fields are freeform; pick out a homepage and
	// pronouns when they are recognizable.
	if fields, ok := source["fields"].([]interface{}); ok {
		for _, f := range fields {
			field, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := field["name"].(string)
			value, _ := field["value"].(string)
			if u, err := url.Parse(value); err == nil && u.Scheme != "" && profile["homepage"] == nil {
				profile["homepage"] = value
			} else if strings.Contains(strings.ToLower(name), "pronoun") {
				profile["pronouns"] = value
			}
		}
	}

	return disposition.Verified{Identity: idURL, Redir: redir, Profile: profile}
}

func (h *Handler) oauthConfig(instance, clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  instance + "/oauth/authorize",
			TokenURL: instance + "/oauth/token",
		},
	}
}

// registerApp dynamically registers an OAuth client with the instance.
func (h *Handler) registerApp(ctx context.Context, instance, callbackURI string) (clientID, clientSecret string, err error) {
	const op = "fediverse.registerApp"
	form := url.Values{
		"client_name":   {h.name},
		"redirect_uris": {callbackURI},
		"scopes":        {strings.Join(scopes, " ")},
	}
	if h.homepage != "" {
		form.Set("website", h.homepage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		instance+"/api/v1/apps", strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := h.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%s: app registration returned %d", op, resp.StatusCode)
	}

	var app struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &app); err != nil {
		return "", "", fmt.Errorf("%s: undecodable registration response: %w", op, err)
	}
	if app.ClientID == "" || app.ClientSecret == "" {
		return "", "", fmt.Errorf("%s: registration response missing client credentials", op)
	}
	return app.ClientID, app.ClientSecret, nil
}

// revokeToken revokes an access token. Failures are logged and otherwise
// ignored.
func (h *Handler) revokeToken(ctx context.Context, instance, clientID, clientSecret, token string) {
	form := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"token":         {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		instance+"/oauth/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.http.Do(req)
	if err != nil {
		h.logger.Warn("unable to revoke access token", "instance", instance, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		h.logger.Warn("unable to revoke access token", "instance", instance, "status", resp.StatusCode)
	}
}

// getJSON GETs a URL and decodes the JSON object it returns, optionally with
// a bearer token.
func (h *Handler) getJSON(ctx context.Context, rawURL, bearer string) (map[string]interface{}, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, resp.StatusCode, err
	}
	return decoded, resp.StatusCode, nil
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
