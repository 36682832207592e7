package emailaddr

import "github.com/herald-auth/herald/handlers"

// envelopeSVG is a minimal inline mail icon for login buttons.
const envelopeSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 24 24" width="24" height="24" aria-hidden="true"><path fill="currentColor" d="M2 5h20a1 1 0 0 1 1 1v12a1 1 0 0 1-1 1H2a1 1 0 0 1-1-1V6a1 1 0 0 1 1-1zm10 8L3 7v10h18V7l-9 6zm0-2.4L19.6 7H4.4L12 10.6z"/></svg>`

var _ handlers.Logoer = (*Handler)(nil)

// LogoHTML implements handlers.Logoer.
func (h *Handler) LogoHTML() []handlers.Logo {
	return []handlers.Logo{{HTML: envelopeSVG, Label: "Email"}}
}
