package indieauth

import (
	"fmt"

	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/tokens"
)

// FromConfig builds an IndieAuth handler from a configuration map.
// Recognized keys:
//
//	INDIEAUTH_CLIENT_ID    the client_id (URL) of your website (required)
//	INDIEAUTH_PENDING_TTL  transaction timeout in seconds (default: 10 minutes)
func FromConfig(config handlers.Config, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "indieauth.FromConfig"
	clientID := config.String("INDIEAUTH_CLIENT_ID")
	if clientID == "" {
		if f, ok := config["INDIEAUTH_CLIENT_ID"].(func() string); ok {
			opt = append([]Option{WithClientIDFunc(f)}, opt...)
		} else {
			return nil, fmt.Errorf("%s: INDIEAUTH_CLIENT_ID is required", op)
		}
	}
	opt = append([]Option{WithTimeout(config.Seconds("INDIEAUTH_PENDING_TTL", DefaultTimeout))}, opt...)
	return New(clientID, store, opt...)
}
