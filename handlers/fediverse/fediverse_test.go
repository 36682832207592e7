package fediverse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/tokens"
)

// rewriteTransport routes every request to the fake instance server over
// plain HTTP, keeping the originally requested host visible to the server.
type rewriteTransport struct {
	host string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Host = req.URL.Host
	r.URL.Scheme = "http"
	r.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(r)
}

// fakeInstance is a minimal Mastodon-compatible instance.
type fakeInstance struct {
	mux        *http.ServeMux
	srv        *httptest.Server
	probes     int32
	registered int32
	revoked    int32

	// accountURL is what verify_credentials claims as the user's profile.
	accountURL string
}

func newFakeInstance(t *testing.T) *fakeInstance {
	t.Helper()
	f := &fakeInstance{mux: http.NewServeMux(), accountURL: "https://fedi.example/@user"}
	f.srv = httptest.NewServer(f.mux)
	t.Cleanup(f.srv.Close)

	f.mux.HandleFunc("/api/v1/instance", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.probes, 1)
		if r.Host != "fedi.example" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"uri":"fedi.example","version":"4.2.0","urls":{"streaming_api":"wss://fedi.example"}}`))
	})
	f.mux.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.registered, 1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "read:accounts", r.PostForm.Get("scopes"))
		_, _ = w.Write([]byte(`{"client_id":"cid","client_secret":"csec"}`))
	})
	f.mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok123","token_type":"Bearer"}`))
	})
	f.mux.HandleFunc("/oauth/revoke", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.revoked, 1)
	})
	f.mux.HandleFunc("/api/v1/accounts/verify_credentials", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"username": "user",
			"url": "` + f.accountURL + `",
			"display_name": "Fedi User",
			"avatar_static": "https://fedi.example/avatar.png",
			"source": {
				"note": "just a test account",
				"fields": [
					{"name": "Website", "value": "https://user.example/"},
					{"name": "Pronouns", "value": "they/them"}
				]
			}
		}`))
	})
	return f
}

func (f *fakeInstance) handler(t *testing.T, store tokens.Store, opt ...Option) *Handler {
	t.Helper()
	if store == nil {
		store = tokens.NewDictStore()
	}
	opt = append([]Option{WithHTTPClient(&http.Client{
		Transport: rewriteTransport{host: f.srv.Listener.Addr().String()},
	})}, opt...)
	h, err := New("Test App", store, opt...)
	require.NoError(t, err)
	return h
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", tokens.NewDictStore())
	assert.Error(t, err)
	_, err = New("Test App", nil)
	assert.Error(t, err)
}

func TestHandlesURL(t *testing.T) {
	f := newFakeInstance(t)
	h := f.handler(t, nil)
	ctx := context.Background()

	tests := []struct {
		addr string
		want string
	}{
		{"https://fedi.example/", "https://fedi.example"},
		{"fedi.example", "https://fedi.example"},
		{"https://fedi.example/@someone", "https://fedi.example/@someone"},
		{"https://fedi.example/user/someone", "https://fedi.example/@someone"},
		{"https://other.example/@someone", ""},
		{"not a url \x7f", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.HandlesURL(ctx, tt.addr), "address %q", tt.addr)
	}
}

func TestHandlesURL_ProbeIsCached(t *testing.T) {
	f := newFakeInstance(t)
	h := f.handler(t, nil)
	ctx := context.Background()

	h.HandlesURL(ctx, "https://fedi.example/@a")
	h.HandlesURL(ctx, "https://fedi.example/@b")
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.probes))

	// Negative outcomes are cached too.
	h.HandlesURL(ctx, "https://other.example/")
	h.HandlesURL(ctx, "https://other.example/")
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.probes))
}

func TestInitiateAuth(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	f := newFakeInstance(t)
	store := tokens.NewDictStore()
	h := f.handler(t, store)

	d := h.InitiateAuth(context.Background(), "https://fedi.example/@user", "https://app.example/cb/fv", "/home")
	redirect, ok := d.(disposition.Redirect)
	require.True(ok, "got %v", d)
	require.Equal(int32(1), atomic.LoadInt32(&f.registered))

	u, err := url.Parse(redirect.URL)
	require.NoError(err)
	assert.Equal("fedi.example", u.Host)
	assert.Equal("/oauth/authorize", u.Path)

	q := u.Query()
	assert.Equal("cid", q.Get("client_id"))
	assert.Equal("https://app.example/cb/fv", q.Get("redirect_uri"))
	assert.Equal("read:accounts", q.Get("scope"))
	assert.Equal("code", q.Get("response_type"))

	value, err := store.Get(q.Get("state"))
	require.NoError(err)
	fields, err := tokens.Unpack(value, 5)
	require.NoError(err)
	assert.Equal("https://fedi.example", fields[0])
	assert.Equal("/home", fields[4])
}

func TestInitiateAuth_NotAnInstance(t *testing.T) {
	f := newFakeInstance(t)
	h := f.handler(t, nil)

	d := h.InitiateAuth(context.Background(), "https://other.example/", "https://app.example/cb/fv", "/")
	e, ok := d.(disposition.Error)
	require.True(t, ok, "got %T", d)
	assert.Equal(t, "Not a Fediverse instance", e.Message)
}

func TestCheckCallback_FullFlow(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	f := newFakeInstance(t)
	h := f.handler(t, nil)
	ctx := context.Background()

	d := h.InitiateAuth(ctx, "https://fedi.example/", "https://app.example/cb/fv", "/home")
	redirect := d.(disposition.Redirect)
	u, err := url.Parse(redirect.URL)
	require.NoError(err)
	state := u.Query().Get("state")

	d = h.CheckCallback(ctx, "https://app.example/cb/fv",
		url.Values{"state": {state}, "code": {"authcode"}}, nil)
	verified, ok := d.(disposition.Verified)
	require.True(ok, "got %v", d)

	assert.Equal("https://fedi.example/@user", verified.Identity)
	assert.Equal("/home", verified.Redir)
	assert.Equal("Fedi User", verified.Profile["name"])
	assert.Equal("just a test account", verified.Profile["bio"])
	assert.Equal("https://fedi.example/avatar.png", verified.Profile["avatar"])
	assert.Equal("https://user.example/", verified.Profile["homepage"])
	assert.Equal("they/them", verified.Profile["pronouns"])

	// The short-lived access token is revoked after use.
	assert.Equal(int32(1), atomic.LoadInt32(&f.revoked))
}

func TestCheckCallback_RejectsForeignIdentity(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	f := newFakeInstance(t)
	f.accountURL = "https://evil.example/@user"
	h := f.handler(t, nil)
	ctx := context.Background()

	d := h.InitiateAuth(ctx, "https://fedi.example/", "https://app.example/cb/fv", "/")
	redirect := d.(disposition.Redirect)
	u, err := url.Parse(redirect.URL)
	require.NoError(err)

	d = h.CheckCallback(ctx, "https://app.example/cb/fv",
		url.Values{"state": {u.Query().Get("state")}, "code": {"authcode"}}, nil)
	e, ok := d.(disposition.Error)
	require.True(ok, "got %v", d)
	assert.Equal("Domains do not match", e.Message)

	// Even a rejected login revokes the token it acquired.
	assert.Equal(int32(1), atomic.LoadInt32(&f.revoked))
}

func TestCheckCallback_Errors(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	f := newFakeInstance(t)
	store := tokens.NewDictStore()
	h := f.handler(t, store)
	ctx := context.Background()

	checkError := func(get url.Values, wantMsg string) {
		t.Helper()
		d := h.CheckCallback(ctx, "https://app.example/cb/fv", get, nil)
		e, ok := d.(disposition.Error)
		require.True(ok, "got %T", d)
		assert.Contains(e.Message, wantMsg)
	}

	checkError(url.Values{}, "No transaction provided")
	checkError(url.Values{"state": {"bogus"}}, "Invalid transaction")

	plant := func(when time.Time) string {
		token, err := store.Put([]string{
			"https://fedi.example", "cid", "csec", tokens.FormatTime(when), "/",
		})
		require.NoError(err)
		return token
	}

	denied := plant(time.Now())
	checkError(url.Values{"state": {denied}, "error": {"access_denied"}}, "Error signing into instance")

	stale := plant(time.Now().Add(-DefaultTimeout - time.Minute))
	checkError(url.Values{"state": {stale}, "code": {"c"}}, "Login timed out")

	missing := plant(time.Now())
	checkError(url.Values{"state": {missing}}, "Missing code")
}

func TestCheckCallback_StateReplayFails(t *testing.T) {
	require := require.New(t)
	f := newFakeInstance(t)
	h := f.handler(t, nil)
	ctx := context.Background()

	d := h.InitiateAuth(ctx, "https://fedi.example/", "https://app.example/cb/fv", "/")
	redirect := d.(disposition.Redirect)
	u, err := url.Parse(redirect.URL)
	require.NoError(err)
	params := url.Values{"state": {u.Query().Get("state")}, "code": {"c"}}

	d = h.CheckCallback(ctx, "https://app.example/cb/fv", params, nil)
	_, ok := d.(disposition.Verified)
	require.True(ok, "got %v", d)

	d = h.CheckCallback(ctx, "https://app.example/cb/fv", params, nil)
	e, ok := d.(disposition.Error)
	require.True(ok, "got %T", d)
	require.Equal("Invalid transaction", e.Message)
}

func TestFromConfig(t *testing.T) {
	store := tokens.NewDictStore()

	_, err := FromConfig(map[string]interface{}{}, store)
	assert.Error(t, err)

	h, err := FromConfig(map[string]interface{}{
		"FEDIVERSE_NAME":     "Test App",
		"FEDIVERSE_HOMEPAGE": "https://app.example/",
		"FEDIVERSE_TIMEOUT":  300,
	}, store)
	require.NoError(t, err)
	assert.Equal(t, "Test App", h.name)
	assert.Equal(t, "https://app.example/", h.homepage)
	assert.Equal(t, 5*time.Minute, h.timeout)

	// Deprecated MASTODON_* spellings still work.
	h, err = FromConfig(map[string]interface{}{"MASTODON_NAME": "Legacy App"}, store)
	require.NoError(t, err)
	assert.Equal(t, "Legacy App", h.name)
}
