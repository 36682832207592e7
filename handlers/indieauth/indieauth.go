// Package indieauth authenticates users against their own websites using
// the IndieAuth federated protocol: the identity URL declares an
// authorization endpoint via link relations, and the handshake is an
// authorization-code exchange with PKCE against that endpoint.
//
// The client ID sent to the remote endpoint must match your website's
// public-facing origin, scheme included.
package indieauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/peterhellberg/link"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/fetch"
	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/internal/cache"
	"github.com/herald-auth/herald/tokens"
)

// DefaultTimeout is how long a login transaction may take end to end.
const DefaultTimeout = 10 * time.Minute

const (
	cacheSize = 128
	cacheTTL  = 5 * time.Minute
)

// Handler authenticates via IndieAuth.
type Handler struct {
	clientID func() string
	store    tokens.Store
	timeout  time.Duration
	client   *fetch.Client
	http     *http.Client
	logger   hclog.Logger

	// Discovery caches. These are an optimization shared between the
	// resolution pass and the handshake; every value in them can be
	// re-derived by fetching the page again.
	endpointCache *cache.Cache[discovered]
	profileCache  *cache.Cache[map[string]string]
}

var _ handlers.Handler = (*Handler)(nil)

// New creates an IndieAuth handler. clientID is the client_id presented to
// the remote authorization endpoint; use WithClientIDFunc when it must be
// derived at request time.
//
// A non-revocable token store (tokens.Serializer) is rejected outright:
// replaying a state token must fail after first use, and several deployed
// IndieAuth servers rely on that.
//
// Supported options: WithClientIDFunc, WithTimeout, WithFetchClient,
// WithHTTPClient, WithLogger.
func New(clientID string, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "indieauth.New"
	if store == nil {
		return nil, fmt.Errorf("%s: nil token store", op)
	}
	if !tokens.IsRevocable(store) {
		return nil, fmt.Errorf("%s: non-revocable token stores are not supported; state replay must be rejectable", op)
	}
	opts := getOpts(opt...)
	clientIDFunc := opts.withClientIDFunc
	if clientIDFunc == nil {
		if clientID == "" {
			return nil, fmt.Errorf("%s: client id is empty", op)
		}
		clientIDFunc = func() string { return clientID }
	}
	return &Handler{
		clientID:      clientIDFunc,
		store:         store,
		timeout:       opts.withTimeout,
		client:        opts.withFetchClient,
		http:          opts.withHTTPClient,
		logger:        opts.withLogger,
		endpointCache: cache.New[discovered](cacheSize, cacheTTL),
		profileCache:  cache.New[map[string]string](cacheSize, cacheTTL),
	}, nil
}

// CbID implements handlers.Handler.
func (h *Handler) CbID() string { return "ia" }

// ServiceName implements handlers.Handler.
func (h *Handler) ServiceName() string { return "IndieAuth" }

// Description implements handlers.Handler.
func (h *Handler) Description() string {
	return `Supports login via an <a href="https://indieweb.org/IndieAuth">IndieAuth</a> provider.`
}

// URLSchemes implements handlers.Handler.
func (h *Handler) URLSchemes() []handlers.URLScheme {
	return []handlers.URLScheme{{Template: "%", Placeholder: "https://domain.example.com"}}
}

// HandlesURL answers purely from the endpoint cache: if this URL is already
// known to declare an authorization endpoint, its canonical profile URL is
// returned without a network round trip. The staleness window is accepted as
// a tradeoff; a cache miss falls through to HandlesPage, which always sees
// fresh content.
func (h *Handler) HandlesURL(_ context.Context, url string) string {
	if cached, ok := h.endpointCache.Get(url); ok && cached.endpoints["authorization_endpoint"] != "" {
		return cached.profileURL
	}
	return ""
}

// HandlesPage reports whether the fetched page declares an
// authorization_endpoint, via either a Link header or a <link> tag.
func (h *Handler) HandlesPage(ctx context.Context, url string, _ http.Header, page *fetch.Page, links link.Group) bool {
	return h.discover(ctx, url, links, page).endpoints["authorization_endpoint"] != ""
}

// InitiateAuth discovers the identity's authorization endpoint and redirects
// the user to it with a fresh PKCE challenge and state token.
func (h *Handler) InitiateAuth(ctx context.Context, idURL, callbackURI, redir string) disposition.Disposition {
	found := h.discover(ctx, idURL, nil, nil)
	endpoint := found.endpoints["authorization_endpoint"]
	if endpoint == "" {
		return disposition.Error{Message: "Failed to get IndieAuth endpoint", Redir: redir}
	}
	idURL = found.profileURL

	verifier, err := newVerifier()
	if err != nil {
		h.logger.Error("unable to generate PKCE verifier", "error", err)
		return disposition.Error{Message: "Unable to start transaction", Redir: redir}
	}

	state, err := h.store.Put([]string{
		idURL, endpoint, callbackURI, verifier, tokens.FormatTime(time.Now()), redir,
	})
	if err != nil {
		h.logger.Error("unable to store transaction", "error", err)
		return disposition.Error{Message: "Unable to start transaction", Redir: redir}
	}

	clientID := h.clientID()
	h.logger.Debug("initiating IndieAuth flow", "identity", idURL, "endpoint", endpoint, "client_id", clientID)

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	authURL := endpoint + sep + url.Values{
		"redirect_uri":          {callbackURI},
		"client_id":             {clientID},
		"state":                 {state},
		"code_challenge":        {challenge(verifier)},
		"code_challenge_method": {"S256"},
		"response_type":         {"code"},
		"scope":                 {"profile email"},
		"me":                    {idURL},
	}.Encode()

	return disposition.Redirect{URL: authURL}
}

// CheckCallback consumes the state token, exchanges the authorization code
// (with the PKCE verifier) at the stored endpoint, and verifies that the
// identity the endpoint vouched for is equivalent to the one requested.
func (h *Handler) CheckCallback(ctx context.Context, _ string, get, _ url.Values) disposition.Disposition {
	state := get.Get("state")
	if state == "" {
		return disposition.Error{Message: "No transaction provided"}
	}

	// Pop, not Get: replaying the same state after a completed callback
	// must always fail.
	value, err := h.store.Pop(state)
	if err != nil {
		return disposition.Error{Message: "Invalid token"}
	}
	fields, err := tokens.Unpack(value, 6)
	if err != nil {
		return disposition.Error{Message: "Invalid token"}
	}
	idURL, endpoint, callbackURI, verifier := fields[0], fields[1], fields[2], fields[3]
	redir := fields[5]
	when, err := tokens.ParseTime(fields[4])
	if err != nil {
		return disposition.Error{Message: "Invalid token"}
	}

	if time.Now().After(when.Add(h.timeout)) {
		return disposition.Error{Message: "Transaction timed out", Redir: redir}
	}

	if errMsg := get.Get("error"); errMsg != "" {
		desc := get.Get("error_description")
		if desc == "" {
			desc = errMsg
		}
		return disposition.Error{Message: "Authorization endpoint returned an error: " + desc, Redir: redir}
	}
	code := get.Get("code")
	if code == "" {
		return disposition.Error{Message: "Missing code", Redir: redir}
	}

	response, errDisp := h.redeemCode(ctx, endpoint, code, callbackURI, verifier, redir)
	if errDisp != nil {
		return *errDisp
	}

	me, _ := response["me"].(string)
	if me == "" {
		return disposition.Error{Message: "Missing me", Redir: redir}
	}

	verified, err := h.VerifyID(ctx, idURL, me)
	if err != nil {
		return disposition.Error{Message: err.Error(), Redir: redir}
	}

	serverProfile, _ := response["profile"].(map[string]interface{})
	return disposition.Verified{
		Identity: verified,
		Redir:    redir,
		Profile:  h.buildProfile(ctx, verified, serverProfile),
	}
}

// redeemCode POSTs the authorization code and PKCE verifier back to the
// endpoint and decodes the JSON response.
func (h *Handler) redeemCode(ctx context.Context, endpoint, code, callbackURI, verifier, redir string) (map[string]interface{}, *disposition.Error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {h.clientID()},
		"redirect_uri":  {callbackURI},
		"code_verifier": {verifier},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &disposition.Error{Message: "Unable to contact authorization endpoint", Redir: redir}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		h.logger.Info("authorization endpoint unreachable", "endpoint", endpoint, "error", err)
		return nil, &disposition.Error{Message: "Unable to contact authorization endpoint", Redir: redir}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &disposition.Error{Message: "Unable to read endpoint response", Redir: redir}
	}
	if resp.StatusCode != http.StatusOK {
		h.logger.Info("authorization endpoint rejected code", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &disposition.Error{
			Message: fmt.Sprintf("Authorization endpoint returned %d", resp.StatusCode),
			Redir:   redir,
		}
	}

	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		h.logger.Info("authorization endpoint returned invalid JSON", "endpoint", endpoint, "error", err)
		return nil, &disposition.Error{Message: "Got invalid response JSON", Redir: redir}
	}
	return response, nil
}

// VerifyID checks that responseID is a valid identity for requestID and
// returns the canonical verified identity. An exact match always passes;
// otherwise both URLs must declare the same authorization endpoint. Endpoint
// equivalence, not same-origin, is the security boundary here: a domain
// cannot impersonate an unrelated identity unless it also controls an
// identical authorization endpoint.
func (h *Handler) VerifyID(ctx context.Context, requestID, responseID string) (string, error) {
	if requestID == responseID {
		return responseID, nil
	}

	reqFound := h.discover(ctx, requestID, nil, nil)
	respFound := h.discover(ctx, responseID, nil, nil)

	respEndpoint := respFound.endpoints["authorization_endpoint"]
	if respEndpoint == "" {
		return "", fmt.Errorf("profile %s missing IndieAuth endpoint", respFound.profileURL)
	}
	if reqFound.endpoints["authorization_endpoint"] != respEndpoint {
		return "", fmt.Errorf("authorization endpoint mismatch for %s and %s", requestID, responseID)
	}
	return respFound.profileURL, nil
}

// buildProfile merges the h-card profile from the identity's page with any
// structured profile the endpoint supplied; the endpoint's values win.
func (h *Handler) buildProfile(ctx context.Context, idURL string, serverProfile map[string]interface{}) disposition.Profile {
	profile := disposition.Profile{}
	for k, v := range h.hCardProfile(ctx, idURL) {
		if v != "" {
			profile[k] = v
		}
	}

	for _, m := range []struct{ in, out string }{
		{"name", "name"},
		{"photo", "avatar"},
		{"url", "homepage"},
		{"email", "email"},
	} {
		if v, ok := serverProfile[m.in].(string); ok && v != "" {
			profile[m.out] = v
		}
	}

	if found := h.discover(ctx, idURL, nil, nil); len(found.endpoints) > 0 {
		profile["endpoints"] = found.endpoints
	}
	return profile
}
