package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParsePage(t *testing.T, baseURL, body string) *Page {
	t.Helper()
	p, err := ParsePage(baseURL, body)
	require.NoError(t, err)
	return p
}

func TestPage_LinkRel(t *testing.T) {
	p := mustParsePage(t, "https://example.com/user/", `<html><head>
		<link rel="authorization_endpoint" href="/auth">
		<link rel="token_endpoint webmention" href="https://other.example/hook">
		<link rel="authorization_endpoint" href="/auth2">
	</head></html>`)

	// Relative hrefs resolve against the page URL; the first match wins.
	assert.Equal(t, "https://example.com/auth", p.LinkRel("authorization_endpoint"))
	assert.Equal(t,
		[]string{"https://example.com/auth", "https://example.com/auth2"},
		p.LinkRels("authorization_endpoint"))

	// rel is a space-separated list.
	assert.Equal(t, "https://other.example/hook", p.LinkRel("token_endpoint"))
	assert.Equal(t, "https://other.example/hook", p.LinkRel("webmention"))

	assert.Empty(t, p.LinkRel("micropub"))
}

func TestPage_RelMe(t *testing.T) {
	p := mustParsePage(t, "https://example.com/", `<html><head>
		<link rel="me" href="https://social.example/@user">
	</head><body>
		<a rel="me" href="/alias">me elsewhere</a>
		<a rel="nofollow me" href="https://social.example/@user">duplicate</a>
		<a href="https://unrelated.example/">not me</a>
	</body></html>`)

	assert.Equal(t, []string{
		"https://social.example/@user",
		"https://example.com/alias",
	}, p.RelMe())
}

func TestPage_HCard(t *testing.T) {
	p := mustParsePage(t, "https://example.com/", `<html><body>
		<div class="h-card">
			<img class="u-photo" src="/me.jpg">
			<span class="p-name">Mx Example</span>
			<a class="u-url" href="https://example.com/">home</a>
			<a class="u-email" href="mailto:mx@example.com">email</a>
			<p class="p-note">I am an example.</p>
			<span class="p-pronouns">they/them</span>
		</div>
		<div class="h-card"><span class="p-name">Second Card</span></div>
	</body></html>`)

	assert.Equal(t, map[string]string{
		"name":     "Mx Example",
		"bio":      "I am an example.",
		"avatar":   "https://example.com/me.jpg",
		"homepage": "https://example.com/",
		"email":    "mx@example.com",
		"pronouns": "they/them",
	}, p.HCard())
}

func TestPage_HCardEmpty(t *testing.T) {
	p := mustParsePage(t, "https://example.com/", `<html><body><p>no card</p></body></html>`)
	assert.Empty(t, p.HCard())
}
