package fetch

import (
	"net/url"
	"strings"

	"github.com/yhat/scrape"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is a parsed HTML document with helpers for the link-relation and
// microformat lookups the protocol handlers need.
type Page struct {
	root *html.Node
	base *url.URL
}

// ParsePage parses body as HTML. Relative URLs found in the document are
// resolved against baseURL.
func ParsePage(baseURL, body string) (*Page, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = &url.URL{}
	}
	return &Page{root: root, base: base}, nil
}

// LinkRel returns the href of the first <link> tag carrying the given rel,
// resolved against the page's base URL, or "" if none exists.
func (p *Page) LinkRel(rel string) string {
	if hrefs := p.LinkRels(rel); len(hrefs) > 0 {
		return hrefs[0]
	}
	return ""
}

// LinkRels returns the hrefs of every <link> tag carrying the given rel, in
// document order, resolved against the page's base URL.
func (p *Page) LinkRels(rel string) []string {
	var hrefs []string
	for _, n := range scrape.FindAll(p.root, func(n *html.Node) bool {
		return n.DataAtom == atom.Link && hasRel(n, rel)
	}) {
		if href := p.resolve(scrape.Attr(n, "href")); href != "" {
			hrefs = append(hrefs, href)
		}
	}
	return hrefs
}

// RelMe returns every URL referenced by a rel="me" link or anchor tag on the
// page, in document order, without duplicates.
func (p *Page) RelMe() []string {
	var urls []string
	seen := map[string]bool{}
	for _, n := range scrape.FindAll(p.root, func(n *html.Node) bool {
		return (n.DataAtom == atom.Link || n.DataAtom == atom.A) && hasRel(n, "me")
	}) {
		href := p.resolve(scrape.Attr(n, "href"))
		if href != "" && !seen[href] {
			seen[href] = true
			urls = append(urls, href)
		}
	}
	return urls
}

// HCard extracts profile fields from the page's h-card microformat markup.
// When several h-cards exist, earlier cards win per field. The returned map
// uses herald's common profile keys (avatar, bio, email, homepage, name,
// pronouns) and omits empty fields.
func (p *Page) HCard() map[string]string {
	profile := map[string]string{}
	for _, card := range scrape.FindAll(p.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, "h-card")
	}) {
		p.fillFromCard(card, profile)
	}
	return profile
}

func (p *Page) fillFromCard(card *html.Node, profile map[string]string) {
	set := func(key, value string) {
		value = strings.TrimSpace(value)
		if value != "" && profile[key] == "" {
			profile[key] = value
		}
	}
	set("name", p.textProperty(card, "p-name"))
	set("bio", p.textProperty(card, "p-note"))
	set("avatar", p.urlProperty(card, "u-photo"))
	set("homepage", p.urlProperty(card, "u-url"))
	set("pronouns", p.textProperty(card, "p-pronouns"))
	set("pronouns", p.textProperty(card, "p-pronoun"))
	if email := p.urlProperty(card, "u-email"); email != "" {
		set("email", strings.TrimPrefix(email, "mailto:"))
	}
}

func (p *Page) textProperty(card *html.Node, class string) string {
	n, ok := scrape.Find(card, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, class)
	})
	if !ok {
		return ""
	}
	return scrape.Text(n)
}

func (p *Page) urlProperty(card *html.Node, class string) string {
	n, ok := scrape.Find(card, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, class)
	})
	if !ok {
		return ""
	}
	for _, attr := range []string{"href", "src"} {
		if v := scrape.Attr(n, attr); v != "" {
			if strings.HasPrefix(v, "mailto:") {
				return v
			}
			return p.resolve(v)
		}
	}
	return strings.TrimSpace(scrape.Text(n))
}

func (p *Page) resolve(href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return p.base.ResolveReference(u).String()
}

// hasRel reports whether the node's (space-separated) rel attribute contains
// the given rel value.
func hasRel(n *html.Node, rel string) bool {
	for _, r := range strings.Fields(scrape.Attr(n, "rel")) {
		if strings.EqualFold(r, rel) {
			return true
		}
	}
	return false
}

// hasClass reports whether the node's class attribute contains the class.
func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(scrape.Attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
