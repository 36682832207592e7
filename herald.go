package herald

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/herald-auth/herald/fetch"
	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/webfinger"
)

// maxResolveDepth bounds recursive resolution through WebFinger candidates
// and rel="me" links, so mutually linking profile pages cannot loop.
const maxResolveDepth = 3

// Broker coordinates the configured protocol handlers: given an identity
// address (a URL, an email address, or a WebFinger address) it selects the
// handler to run the login transaction, and it routes in-progress callbacks
// back to the handler that owns them.
//
// The handler registry is fixed after configuration time; Resolve may be
// called concurrently from independent requests.
type Broker struct {
	byID   map[string]handlers.Handler
	order  []handlers.Handler
	client *fetch.Client
	wf     *webfinger.Resolver
	logger hclog.Logger
}

// New creates a Broker. Supported options: WithHandlers, WithFetchClient,
// WithLogger.
func New(opt ...Option) (*Broker, error) {
	opts := getOpts(opt...)
	client := opts.withFetchClient
	if client == nil {
		client = fetch.New(fetch.WithLogger(opts.withLogger))
	}
	b := &Broker{
		byID:   map[string]handlers.Handler{},
		client: client,
		wf:     webfinger.New(webfinger.WithClient(client), webfinger.WithLogger(opts.withLogger)),
		logger: opts.withLogger,
	}
	for _, h := range opts.withHandlers {
		if err := b.AddHandler(h); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// AddHandler registers a handler at the lowest priority. Registering two
// handlers with the same callback id is a configuration error.
func (b *Broker) AddHandler(h handlers.Handler) error {
	const op = "herald.Broker.AddHandler"
	cbID := h.CbID()
	if _, exists := b.byID[cbID]; exists {
		return fmt.Errorf("%s: already have handler with id %q: %w", op, cbID, ErrDuplicateHandler)
	}
	b.byID[cbID] = h
	b.order = append(b.order, h)
	return nil
}

// HandlerByID returns the handler registered under the given callback id,
// for a transaction in progress, or nil.
func (b *Broker) HandlerByID(cbID string) handlers.Handler {
	return b.byID[cbID]
}

// Handlers returns all registered handlers in priority order.
func (b *Broker) Handlers() []handlers.Handler {
	out := make([]handlers.Handler, len(b.order))
	copy(out, b.order)
	return out
}

// Resolve maps an identity address to the handler that can authenticate it.
// It returns the handler, its callback id, and the canonicalized identity,
// or (nil, "", "") when no handler matches. Resolution may fetch the
// address and candidate profile pages; protocol-level failures along the
// way only disqualify candidates, they are never fatal.
func (b *Broker) Resolve(ctx context.Context, address string) (handlers.Handler, string, string) {
	return b.resolve(ctx, address, 0)
}

func (b *Broker) resolve(ctx context.Context, address string, depth int) (handlers.Handler, string, string) {
	address = strings.TrimSpace(address)
	if address == "" || depth >= maxResolveDepth {
		return nil, "", ""
	}

	// WebFinger is tried first: it is the standardized discovery mechanism,
	// and a structured profile beats fetching an arbitrary page.
	for _, profile := range b.wf.Profiles(ctx, address) {
		b.logger.Debug("checking webfinger profile", "address", address, "profile", profile)
		if h, cbID, id := b.resolve(ctx, profile, depth+1); h != nil {
			return h, cbID, id
		}
	}

	// Cheap local pattern tests precede any network fetch.
	if h, cbID, id := b.matchURL(ctx, address); h != nil {
		return h, cbID, id
	}

	result, err := b.client.Fetch(ctx, address)
	if err != nil {
		b.logger.Debug("address not fetchable", "address", address, "error", err)
		return nil, "", ""
	}

	// A permanent redirect means the original URL is no longer canonical;
	// re-run the pattern tests against what it became.
	permanent := result.PermanentURL()
	if permanent != address {
		b.logger.Debug("address canonicalized", "address", address, "permanent", permanent)
		if h, cbID, id := b.matchURL(ctx, permanent); h != nil {
			return h, cbID, id
		}
	}

	page, err := result.Page()
	if err != nil {
		b.logger.Debug("unparseable page", "address", address, "error", err)
		return nil, "", ""
	}

	for _, h := range b.order {
		if h.HandlesPage(ctx, permanent, result.Header, page, result.Links) {
			b.logger.Debug("page content matched handler", "address", permanent, "handler", h.ServiceName())
			return h, h.CbID(), result.URL
		}
	}

	// RelMeAuth fallback: the loosest signal, tried last. Any page the
	// profile links to with rel="me" may itself be a supported identity.
	for _, me := range page.RelMe() {
		b.logger.Debug("checking rel=me candidate", "address", address, "candidate", me)
		if h, cbID, id := b.resolve(ctx, me, depth+1); h != nil {
			return h, cbID, id
		}
	}

	b.logger.Debug("no handler found", "address", address)
	return nil, "", ""
}

// matchURL asks each handler, in priority order, whether it recognizes the
// literal address. The first match wins.
func (b *Broker) matchURL(ctx context.Context, address string) (handlers.Handler, string, string) {
	for _, h := range b.order {
		if canonical := h.HandlesURL(ctx, address); canonical != "" {
			b.logger.Debug("address matched handler", "address", address, "handler", h.ServiceName())
			return h, h.CbID(), canonical
		}
	}
	return nil, "", ""
}
