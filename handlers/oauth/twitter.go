package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/tokens"
)

// Twitter OAuth2 endpoints.
const (
	twitterAuthURL   = "https://twitter.com/i/oauth2/authorize"
	twitterTokenURL  = "https://api.twitter.com/2/oauth2/token"
	twitterRevokeURL = "https://api.twitter.com/2/oauth2/revoke"
	twitterMeURL     = "https://api.twitter.com/2/users/me?user.fields=name,description,location,profile_image_url,url"
)

var twitterProfileRE = regexp.MustCompile(`^https?://(?:www\.|mobile\.)?twitter\.com/@?([A-Za-z0-9_]+)/?$`)

// NewTwitter creates a Twitter handler as a preset over the generic OAuth
// flow: fixed endpoints, PKCE enabled, and profile mapping from the v2
// users/me API.
func NewTwitter(clientKey, clientSecret string, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "oauth.NewTwitter"
	if clientKey == "" {
		return nil, fmt.Errorf("%s: client key is empty", op)
	}
	return New(Provider{
		Name:        "Twitter",
		CbID:        "t",
		Description: `Uses your <a href="https://twitter.com/">Twitter</a> account to log you in.`,
		URLSchemes: []handlers.URLScheme{
			{Template: "https://twitter.com/%", Placeholder: "username"},
			{Template: "@%", Placeholder: "username"},
		},
		AuthURL:      twitterAuthURL,
		TokenURL:     twitterTokenURL,
		RevokeURL:    twitterRevokeURL,
		ClientID:     clientKey,
		ClientSecret: clientSecret,
		Scopes:       []string{"users.read", "tweet.read"},
		UsePKCE:      true,
		HandlesURL:   twitterHandlesURL,
		Identity:     twitterIdentity,
	}, store, opt...)
}

// twitterHandlesURL canonicalizes twitter profile URLs. Bare @name addresses
// are left to the WebFinger machinery, which never matches them, so only
// full profile URLs are claimed here.
func twitterHandlesURL(addr string) string {
	if m := twitterProfileRE.FindStringSubmatch(addr); m != nil {
		return "https://twitter.com/" + m[1]
	}
	return ""
}

// twitterIdentity resolves the authenticated account via the v2 users/me
// API and maps its fields onto the common profile schema.
func twitterIdentity(ctx context.Context, client *http.Client, accessToken, redir string) disposition.Disposition {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, twitterMeURL, nil)
	if err != nil {
		return disposition.Error{Message: "Unable to fetch user profile", Redir: redir}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return disposition.Error{Message: "Unable to fetch user profile", Redir: redir}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil || resp.StatusCode != http.StatusOK {
		return disposition.Error{Message: "Unable to fetch user profile", Redir: redir}
	}

	var decoded struct {
		Data struct {
			Username        string `json:"username"`
			Name            string `json:"name"`
			Description     string `json:"description"`
			Location        string `json:"location"`
			ProfileImageURL string `json:"profile_image_url"`
			URL             string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Data.Username == "" {
		return disposition.Error{Message: "Malformed user profile", Redir: redir}
	}

	d := decoded.Data
	profile := disposition.Profile{"profile_url": "https://twitter.com/" + d.Username}
	if d.Name != "" {
		profile["name"] = d.Name
	}
	if d.Description != "" {
		profile["bio"] = d.Description
	}
	if d.Location != "" {
		profile["location"] = d.Location
	}
	if d.ProfileImageURL != "" {
		profile["avatar"] = d.ProfileImageURL
	}
	if d.URL != "" {
		profile["homepage"] = d.URL
	}

	return disposition.Verified{
		Identity: "https://twitter.com/" + d.Username,
		Redir:    redir,
		Profile:  profile,
	}
}

// FromConfigTwitter builds a Twitter handler from a configuration map.
// Recognized keys:
//
//	TWITTER_CLIENT_KEY     the OAuth2 client id (required)
//	TWITTER_CLIENT_SECRET  the OAuth2 client secret
//	TWITTER_TIMEOUT        transaction timeout in seconds
func FromConfigTwitter(config handlers.Config, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "oauth.FromConfigTwitter"
	key := config.String("TWITTER_CLIENT_KEY")
	if key == "" {
		return nil, fmt.Errorf("%s: TWITTER_CLIENT_KEY is required", op)
	}
	opt = append([]Option{WithTimeout(config.Seconds("TWITTER_TIMEOUT", DefaultTimeout))}, opt...)
	return NewTwitter(key, config.String("TWITTER_CLIENT_SECRET"), store, opt...)
}
