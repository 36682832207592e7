// Package emailaddr authenticates users by emailing them a "magic link": a
// single-use, time-bounded URL that completes the login when visited. The
// actual delivery transport is a collaborator injected by the application;
// the handler composes the message and decides when (not) to send one.
package emailaddr

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/peterhellberg/link"

	"github.com/herald-auth/herald/disposition"
	"github.com/herald-auth/herald/fetch"
	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/internal/cache"
	"github.com/herald-auth/herald/tokens"
)

// DefaultLifetime is how long a mailed login link stays valid.
const DefaultLifetime = 15 * time.Minute

// DefaultSubject is the Subject line used when none is configured.
const DefaultSubject = "Login link"

// DefaultTemplateText is the plaintext body template for the login email.
// Templates receive {{.URL}} (the link to visit) and {{.Minutes}} (how long
// the link stays valid).
const DefaultTemplateText = `Hello! Someone, possibly you, asked to log in using this email address. If this
was you, please visit the following link within the next {{.Minutes}} minutes:

    {{.URL}}

If this wasn't you, you can safely disregard this message.
`

// Message is the outgoing notification handed to the send function. From and
// Subject carry the configured values and may be empty, in which case the
// send function supplies its own.
type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}

// SendFunc delivers a composed login email.
type SendFunc func(ctx context.Context, msg *Message) error

// Handler authenticates via emailed magic links.
type Handler struct {
	send     SendFunc
	cdata    interface{}
	store    tokens.Store
	from     string
	subject  string
	lifetime time.Duration
	pending  *cache.Cache[string]
	tmpl     *template.Template
	logger   hclog.Logger
}

var _ handlers.Handler = (*Handler)(nil)

// New creates an email handler.
//
// send delivers the composed message; notifyCData is the client data
// returned in the Notify disposition telling the user to go check their
// mail. Supported options: WithLifetime, WithTemplateText, WithPendingSize,
// WithLogger.
func New(send SendFunc, notifyCData interface{}, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "emailaddr.New"
	if send == nil {
		return nil, fmt.Errorf("%s: nil send function", op)
	}
	if store == nil {
		return nil, fmt.Errorf("%s: nil token store", op)
	}
	opts := getOpts(opt...)
	tmpl, err := template.New("email").Parse(opts.withTemplateText)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse email template: %w", op, err)
	}
	return &Handler{
		send:     send,
		cdata:    notifyCData,
		store:    store,
		from:     opts.withFrom,
		subject:  opts.withSubject,
		lifetime: opts.withLifetime,
		pending:  cache.New[string](opts.withPendingSize, opts.withLifetime),
		tmpl:     tmpl,
		logger:   opts.withLogger,
	}, nil
}

// CbID implements handlers.Handler.
func (h *Handler) CbID() string { return "e" }

// ServiceName implements handlers.Handler.
func (h *Handler) ServiceName() string { return "Email" }

// Description implements handlers.Handler.
func (h *Handler) Description() string {
	return `Uses email to log you in, by sending a "magic link" to the destination address.`
}

// URLSchemes implements handlers.Handler.
func (h *Handler) URLSchemes() []handlers.URLScheme {
	return []handlers.URLScheme{
		{Template: "mailto:%", Placeholder: "email@example.com"},
		{Template: "%", Placeholder: "email@example.com"},
	}
}

// HandlesURL accepts any address formatted as user@example.com or
// mailto:user@example.com, returning the canonical mailto: form.
func (h *Handler) HandlesURL(_ context.Context, addr string) string {
	canonical, err := canonicalAddress(addr)
	if err != nil {
		return ""
	}
	return canonical
}

// HandlesPage implements handlers.Handler; email addresses never arrive as
// fetched pages.
func (h *Handler) HandlesPage(context.Context, string, http.Header, *fetch.Page, link.Group) bool {
	return false
}

// InitiateAuth mails a login link, unless one is already pending for this
// address, in which case the user is just reminded to check their email
// again. Repeated requests within the link's lifetime never cause a second
// send; that is the anti-abuse guard.
func (h *Handler) InitiateAuth(ctx context.Context, idURL, callbackURI, redir string) disposition.Disposition {
	canonical, err := canonicalAddress(idURL)
	if err != nil || !strings.HasPrefix(canonical, "mailto:") {
		return disposition.Error{Message: "Malformed email URL", Redir: redir}
	}
	dest := strings.TrimPrefix(canonical, "mailto:")

	if token, ok := h.pending.Get(dest); ok {
		if h.stillPending(token) {
			h.logger.Debug("login link still pending, not re-sending", "address", dest)
			return disposition.Notify{CData: h.cdata}
		}
		h.pending.Remove(dest)
	}

	now := time.Now()
	token, err := h.store.Put([]string{dest, redir, tokens.FormatTime(now)})
	if err != nil {
		h.logger.Error("unable to store login token", "error", err)
		return disposition.Error{Message: "Unable to store login token", Redir: redir}
	}
	h.pending.Set(dest, token)

	sep := "?"
	if strings.Contains(callbackURI, "?") {
		sep = "&"
	}
	linkURL := callbackURI + sep + url.Values{"t": {token}}.Encode()

	var body strings.Builder
	minutes := int(math.Ceil(h.lifetime.Minutes()))
	if err := h.tmpl.Execute(&body, map[string]interface{}{
		"URL":     linkURL,
		"Minutes": minutes,
	}); err != nil {
		h.logger.Error("unable to render email template", "error", err)
		return disposition.Error{Message: "Unable to compose email", Redir: redir}
	}

	if err := h.send(ctx, &Message{To: dest, From: h.from, Subject: h.subject, Body: body.String()}); err != nil {
		h.logger.Error("unable to send login email", "address", dest, "error", err)
		return disposition.Error{Message: "Failed to send login email", Redir: redir}
	}

	return disposition.Notify{CData: h.cdata}
}

// stillPending reports whether a previously issued token for this address is
// still within its lifetime.
func (h *Handler) stillPending(token string) bool {
	value, err := h.store.Get(token)
	if err != nil {
		return false
	}
	fields, err := tokens.Unpack(value, 3)
	if err != nil {
		return false
	}
	when, err := tokens.ParseTime(fields[2])
	if err != nil {
		return false
	}
	return !time.Now().After(when.Add(h.lifetime))
}

// CheckCallback completes the login. A GET with the token responds with
// NeedsPost, forcing the link click to become an explicit POST; this keeps
// email scanners and prefetching agents from consuming one-time links. The
// POST then consumes the token.
func (h *Handler) CheckCallback(_ context.Context, cbURL string, get, form url.Values) disposition.Disposition {
	if len(form) == 0 {
		token := get.Get("t")
		if token == "" {
			return disposition.Error{Message: "Missing token"}
		}
		return disposition.NeedsPost{
			URL:     stripQuery(cbURL),
			Message: "Complete your login",
			Data:    url.Values{"t": {token}},
		}
	}

	token := form.Get("t")
	if token == "" {
		return disposition.Error{Message: "Missing token"}
	}

	value, err := h.store.Pop(token)
	if err != nil {
		return disposition.Error{Message: "Invalid token"}
	}
	fields, err := tokens.Unpack(value, 3)
	if err != nil {
		return disposition.Error{Message: "Invalid token"}
	}
	addr, redir := fields[0], fields[1]
	when, err := tokens.ParseTime(fields[2])
	if err != nil {
		return disposition.Error{Message: "Invalid token"}
	}

	h.pending.Remove(addr)

	if time.Now().After(when.Add(h.lifetime)) {
		return disposition.Error{Message: "Login timed out", Redir: redir}
	}

	return disposition.Verified{
		Identity: "mailto:" + addr,
		Redir:    redir,
		Profile:  disposition.Profile{"email": addr},
	}
}

// canonicalAddress validates and canonicalizes an email identity: query
// parameters are stripped, the address is lower-cased, and the result is
// returned in mailto: form.
func canonicalAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	addr = strings.TrimPrefix(addr, "mailto:")
	if i := strings.IndexByte(addr, '?'); i >= 0 {
		addr = addr[:i]
	}
	if addr == "" || strings.ContainsAny(addr, " !<>") {
		return "", fmt.Errorf("not an email address")
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return "", fmt.Errorf("not an email address")
	}
	return "mailto:" + strings.ToLower(addr), nil
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
