package emailaddr

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/tokens"
)

// sendRecorder captures messages instead of delivering them.
type sendRecorder struct {
	sent []*Message
	err  error
}

func (s *sendRecorder) send(_ context.Context, msg *Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newTestHandler(t *testing.T, rec *sendRecorder, opt ...Option) *Handler {
	t.Helper()
	h, err := New(rec.send, "check your email", tokens.NewDictStore(), opt...)
	require.NoError(t, err)
	return h
}

// tokenFromMessage digs the login token out of a mailed link.
func tokenFromMessage(t *testing.T, msg *Message) string {
	t.Helper()
	i := strings.Index(msg.Body, "?t=")
	require.GreaterOrEqual(t, i, 0, "no login link in body: %q", msg.Body)
	rest := msg.Body[i+3:]
	if j := strings.IndexAny(rest, " \n"); j >= 0 {
		rest = rest[:j]
	}
	token, err := url.QueryUnescape(rest)
	require.NoError(t, err)
	return token
}

func TestNew_Validation(t *testing.T) {
	rec := &sendRecorder{}
	_, err := New(nil, "msg", tokens.NewDictStore())
	assert.Error(t, err)
	_, err = New(rec.send, "msg", nil)
	assert.Error(t, err)
	_, err = New(rec.send, "msg", tokens.NewDictStore(), WithTemplateText("{{.Broken"))
	assert.Error(t, err)
}

func TestHandlesURL(t *testing.T) {
	h := newTestHandler(t, &sendRecorder{})
	ctx := context.Background()

	tests := []struct {
		addr string
		want string
	}{
		{"user@example.com", "mailto:user@example.com"},
		{"mailto:user@example.com", "mailto:user@example.com"},
		{"mailto:User@Example.COM", "mailto:user@example.com"},
		{"mailto:user@example.com?subject=hi", "mailto:user@example.com"},
		{" user@example.com ", "mailto:user@example.com"},
		{"not an email", ""},
		{"https://example.com/user", ""},
		{"user@", ""},
		{"@example.com", ""},
		{"<user@example.com>", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, h.HandlesURL(ctx, tt.addr), "address %q", tt.addr)
	}
}

func TestInitiateAuth_SendsLink(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	rec := &sendRecorder{}
	h := newTestHandler(t, rec)

	d := h.InitiateAuth(context.Background(), "mailto:user@example.com", "https://app.example/cb/e", "/dashboard")
	notify, ok := d.(disposition.Notify)
	require.True(ok, "got %T", d)
	assert.Equal("check your email", notify.CData)

	require.Len(rec.sent, 1)
	msg := rec.sent[0]
	assert.Equal("user@example.com", msg.To)
	assert.Equal(DefaultSubject, msg.Subject)
	assert.Contains(msg.Body, "https://app.example/cb/e?t=")
	assert.Contains(msg.Body, "15 minutes")
}

func TestInitiateAuth_CallbackURIWithQuery(t *testing.T) {
	rec := &sendRecorder{}
	h := newTestHandler(t, rec)

	h.InitiateAuth(context.Background(), "user@example.com", "https://app.example/cb?h=e", "/")
	require.Len(t, rec.sent, 1)
	assert.Contains(t, rec.sent[0].Body, "https://app.example/cb?h=e&t=")
}

func TestInitiateAuth_MalformedAddress(t *testing.T) {
	h := newTestHandler(t, &sendRecorder{})
	d := h.InitiateAuth(context.Background(), "https://example.com/", "https://app.example/cb/e", "/")
	e, ok := d.(disposition.Error)
	require.True(t, ok, "got %T", d)
	assert.Equal(t, "Malformed email URL", e.Message)
}

func TestInitiateAuth_SendFailure(t *testing.T) {
	rec := &sendRecorder{err: errors.New("smtp down")}
	h := newTestHandler(t, rec)

	d := h.InitiateAuth(context.Background(), "user@example.com", "https://app.example/cb/e", "/")
	_, ok := d.(disposition.Error)
	assert.True(t, ok, "got %T", d)
}

func TestInitiateAuth_PendingLinkNotResent(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	rec := &sendRecorder{}
	h := newTestHandler(t, rec)
	ctx := context.Background()

	d := h.InitiateAuth(ctx, "user@example.com", "https://app.example/cb/e", "/")
	_, ok := d.(disposition.Notify)
	require.True(ok)
	require.Len(rec.sent, 1)

	// Asking again while the first link is live only re-notifies.
	d = h.InitiateAuth(ctx, "mailto:User@example.com", "https://app.example/cb/e", "/")
	_, ok = d.(disposition.Notify)
	require.True(ok)
	assert.Len(rec.sent, 1)

	// Completing the login clears the pending state, so a later request
	// mails a fresh link.
	token := tokenFromMessage(t, rec.sent[0])
	d = h.CheckCallback(ctx, "https://app.example/cb/e", url.Values{}, url.Values{"t": {token}})
	_, ok = d.(disposition.Verified)
	require.True(ok, "got %T", d)

	h.InitiateAuth(ctx, "user@example.com", "https://app.example/cb/e", "/")
	assert.Len(rec.sent, 2)
}

func TestCheckCallback_GetBecomesPost(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	rec := &sendRecorder{}
	h := newTestHandler(t, rec)
	ctx := context.Background()

	h.InitiateAuth(ctx, "user@example.com", "https://app.example/cb/e", "/dashboard")
	require.Len(rec.sent, 1)
	token := tokenFromMessage(t, rec.sent[0])

	// The GET from clicking the link must not consume the token; it asks
	// the browser to POST it back instead.
	d := h.CheckCallback(ctx, "https://app.example/cb/e?t="+url.QueryEscape(token),
		url.Values{"t": {token}}, url.Values{})
	needsPost, ok := d.(disposition.NeedsPost)
	require.True(ok, "got %T", d)
	assert.Equal("https://app.example/cb/e", needsPost.URL)
	assert.Equal(token, needsPost.Data.Get("t"))

	// The POST completes the login.
	d = h.CheckCallback(ctx, "https://app.example/cb/e", url.Values{}, needsPost.Data)
	verified, ok := d.(disposition.Verified)
	require.True(ok, "got %T", d)
	assert.Equal("mailto:user@example.com", verified.Identity)
	assert.Equal("/dashboard", verified.Redir)
	assert.Equal("user@example.com", verified.Profile["email"])
}

func TestCheckCallback_TokenIsSingleUse(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	rec := &sendRecorder{}
	h := newTestHandler(t, rec)
	ctx := context.Background()

	h.InitiateAuth(ctx, "user@example.com", "https://app.example/cb/e", "/")
	token := tokenFromMessage(t, rec.sent[0])

	d := h.CheckCallback(ctx, "https://app.example/cb/e", url.Values{}, url.Values{"t": {token}})
	_, ok := d.(disposition.Verified)
	require.True(ok, "got %T", d)

	d = h.CheckCallback(ctx, "https://app.example/cb/e", url.Values{}, url.Values{"t": {token}})
	e, ok := d.(disposition.Error)
	require.True(ok, "got %T", d)
	assert.Equal("Invalid token", e.Message)
}

func TestCheckCallback_MissingAndInvalidTokens(t *testing.T) {
	assert := assert.New(t)
	h := newTestHandler(t, &sendRecorder{})
	ctx := context.Background()

	d := h.CheckCallback(ctx, "https://app.example/cb/e", url.Values{}, url.Values{})
	e, ok := d.(disposition.Error)
	assert.True(ok, "got %T", d)
	assert.Equal("Missing token", e.Message)

	d = h.CheckCallback(ctx, "https://app.example/cb/e", url.Values{}, url.Values{"t": {"bogus"}})
	e, ok = d.(disposition.Error)
	assert.True(ok, "got %T", d)
	assert.Equal("Invalid token", e.Message)
}

func TestCheckCallback_Timeout(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	store := tokens.NewDictStore()
	rec := &sendRecorder{}
	h, err := New(rec.send, "msg", store)
	require.NoError(err)

	// Plant a token minted well before the link lifetime.
	stale := time.Now().Add(-DefaultLifetime - time.Minute)
	token, err := store.Put([]string{"user@example.com", "/dashboard", tokens.FormatTime(stale)})
	require.NoError(err)

	d := h.CheckCallback(context.Background(), "https://app.example/cb/e",
		url.Values{}, url.Values{"t": {token}})
	e, ok := d.(disposition.Error)
	require.True(ok, "got %T", d)
	assert.Equal("Login timed out", e.Message)
	assert.Equal("/dashboard", e.Redir)
}

func TestFromConfig(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	rec := &sendRecorder{}
	store := tokens.NewDictStore()

	_, err := FromConfig(map[string]interface{}{}, store)
	require.Error(err)

	h, err := FromConfig(map[string]interface{}{
		"EMAIL_SENDMAIL":    SendFunc(rec.send),
		"EMAIL_FROM":        "login@app.example",
		"EMAIL_SUBJECT":     "Sign in to app.example",
		"EMAIL_EXPIRE_TIME": 600,
	}, store)
	require.NoError(err)
	assert.Equal(10*time.Minute, h.lifetime)
	assert.Equal(DefaultCheckMessage, h.cdata)
	assert.Equal("login@app.example", h.from)
	assert.Equal("Sign in to app.example", h.subject)
}
