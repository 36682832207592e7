package fediverse

import (
	"fmt"

	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/tokens"
)

// FromConfig builds a Fediverse handler from a configuration map.
// Recognized keys:
//
//	FEDIVERSE_NAME      the name of your website (required)
//	FEDIVERSE_HOMEPAGE  your website's homepage (recommended)
//	FEDIVERSE_TIMEOUT   transaction timeout in seconds
//
// The older MASTODON_* spellings of these keys are accepted as deprecated
// aliases.
func FromConfig(config handlers.Config, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "fediverse.FromConfig"

	get := func(key string) string {
		if v := config.String("FEDIVERSE_" + key); v != "" {
			return v
		}
		return config.String("MASTODON_" + key)
	}

	name := get("NAME")
	if name == "" {
		return nil, fmt.Errorf("%s: FEDIVERSE_NAME is required", op)
	}

	opts := []Option{WithTimeout(config.Seconds("FEDIVERSE_TIMEOUT", config.Seconds("MASTODON_TIMEOUT", DefaultTimeout)))}
	if homepage := get("HOMEPAGE"); homepage != "" {
		opts = append(opts, WithHomepage(homepage))
	}
	opts = append(opts, opt...)

	return New(name, store, opts...)
}
