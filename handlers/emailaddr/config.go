package emailaddr

import (
	"fmt"
	"os"

	"github.com/herald-auth/herald/handlers"
	"github.com/herald-auth/herald/tokens"
)

// DefaultCheckMessage is the Notify client data used when the application
// doesn't configure its own.
const DefaultCheckMessage = "Check your email for a login link."

// FromConfig builds an email handler from a configuration map. Recognized
// keys:
//
//	EMAIL_SENDMAIL       a SendFunc that delivers the composed message
//	                     (required; the application owns the transport)
//	EMAIL_FROM           the From address placed on outgoing messages
//	EMAIL_SUBJECT        the Subject line (default: DefaultSubject)
//	EMAIL_CHECK_MESSAGE  the Notify client data (default: DefaultCheckMessage)
//	EMAIL_TEMPLATE_FILE  path to a UTF-8 plaintext body template
//	EMAIL_EXPIRE_TIME    link lifetime in seconds (default: 15 minutes)
func FromConfig(config handlers.Config, store tokens.Store, opt ...Option) (*Handler, error) {
	const op = "emailaddr.FromConfig"

	send, ok := config["EMAIL_SENDMAIL"].(SendFunc)
	if !ok {
		return nil, fmt.Errorf("%s: EMAIL_SENDMAIL is required and must be an emailaddr.SendFunc", op)
	}

	cdata := config["EMAIL_CHECK_MESSAGE"]
	if cdata == nil {
		cdata = DefaultCheckMessage
	}

	opts := []Option{WithLifetime(config.Seconds("EMAIL_EXPIRE_TIME", DefaultLifetime))}
	if from := config.String("EMAIL_FROM"); from != "" {
		opts = append(opts, WithFrom(from))
	}
	if subject := config.String("EMAIL_SUBJECT"); subject != "" {
		opts = append(opts, WithSubject(subject))
	}
	if path := config.String("EMAIL_TEMPLATE_FILE"); path != "" {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read EMAIL_TEMPLATE_FILE: %w", op, err)
		}
		opts = append(opts, WithTemplateText(string(text)))
	}
	opts = append(opts, opt...)

	return New(send, cdata, store, opts...)
}
