package herald

import (
	"fmt"

	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/handlers/emailaddr"
	"github.com/herald-auth/herald/handlers/fediverse"
	"github.com/herald-auth/herald/handlers/indieauth"
	"github.com/herald-auth/herald/handlers/oauth"
	"github.com/herald-auth/herald/handlers/testloopback"
	"github.com/herald-auth/herald/tokens"
)

// FromConfig builds a Broker with handlers enabled from a configuration
// map. Handlers are enabled by truthy values of these keys, in decreasing
// priority order:
//
//	EMAIL_FROM / EMAIL_SENDMAIL  email magic links (emailaddr)
//	INDIEAUTH_CLIENT_ID          IndieAuth (indieauth)
//	FEDIVERSE_NAME               Fediverse instances (fediverse);
//	                             MASTODON_NAME accepted as an alias
//	TWITTER_CLIENT_KEY           Twitter (oauth)
//	TEST_ENABLED                 the loopback test handler — never enable
//	                             this in production
//
// Each handler's FromConfig documents its own additional keys. The token
// store defaults to an instance-local DictStore; provide WithTokenStore for
// load-balanced deployments.
func FromConfig(config handlers.Config, opt ...Option) (*Broker, error) {
	const op = "herald.FromConfig"
	opts := getOpts(opt...)
	store := opts.withTokenStore
	if store == nil {
		store = tokens.NewDictStore()
	}

	b, err := New(opt...)
	if err != nil {
		return nil, err
	}

	add := func(h handlers.Handler, err error) error {
		if err != nil {
			return fmt.Errorf("%s: %w (%w)", op, ErrInvalidConfig, err)
		}
		return b.AddHandler(h)
	}

	if config.Has("EMAIL_FROM") || config.Has("EMAIL_SENDMAIL") {
		h, err := emailaddr.FromConfig(config, store, emailaddr.WithLogger(opts.withLogger))
		if err := add(h, err); err != nil {
			return nil, err
		}
	}

	if config.Has("INDIEAUTH_CLIENT_ID") {
		h, err := indieauth.FromConfig(config, store,
			indieauth.WithLogger(opts.withLogger),
			indieauth.WithFetchClient(b.client))
		if err := add(h, err); err != nil {
			return nil, err
		}
	}

	if config.Has("FEDIVERSE_NAME") || config.Has("MASTODON_NAME") {
		h, err := fediverse.FromConfig(config, store, fediverse.WithLogger(opts.withLogger))
		if err := add(h, err); err != nil {
			return nil, err
		}
	}

	if config.Has("TWITTER_CLIENT_KEY") {
		h, err := oauth.FromConfigTwitter(config, store, oauth.WithLogger(opts.withLogger))
		if err := add(h, err); err != nil {
			return nil, err
		}
	}

	if config.Bool("TEST_ENABLED") {
		if err := b.AddHandler(testloopback.New()); err != nil {
			return nil, err
		}
	}

	return b, nil
}
