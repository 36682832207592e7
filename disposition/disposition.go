// Package disposition defines the tagged result type returned by every
// handshake-advancing call in herald. A Disposition tells the hosting
// application what to do next: redirect the user, treat them as verified,
// show them a notification, report an error, or render a self-submitting
// form for an explicit POST.
package disposition

import (
	"fmt"
	"net/url"
)

// Disposition is the result of one step of an authentication transaction.
// The closed set of implementations is Redirect, Verified, Notify, Error and
// NeedsPost. Values are created fresh per handshake step and are never
// mutated after construction.
type Disposition interface {
	// String returns a terse, log-friendly description of the disposition.
	String() string

	disposition()
}

// Profile is an open string-keyed map of profile information attached to a
// Verified disposition. Recognized (but optional) keys:
//
//	avatar      URL to the user's avatar image
//	bio         brief biographical information
//	email       the user's email address
//	homepage    the user's personal homepage
//	location    the user's stated location
//	name        the user's display name
//	pronouns    the user's declared pronouns
//	profile_url human-readable URL of the service-specific profile
//	endpoints   map[string]string of the user's integration endpoints
type Profile map[string]interface{}

// Redirect indicates that the authenticating user should be sent to another
// URL for the next step.
type Redirect struct {
	// URL to redirect the user to.
	URL string
}

func (r Redirect) String() string { return "REDIR:" + r.URL }
func (r Redirect) disposition()   {}

// Verified indicates that the user's identity has been verified; it is now up
// to the application to establish a session and send the user onward.
type Verified struct {
	// Identity is the verified, canonical identity URL.
	Identity string

	// Redir is where the application should send the user after establishing
	// the session.
	Redir string

	// Profile holds any profile information discovered during verification.
	Profile Profile
}

func (v Verified) String() string { return "VERIFIED:" + v.Identity }
func (v Verified) disposition()   {}

// Notify indicates that the user should be told to take an external action,
// such as checking their email. CData is application-configured client data,
// typically a message string.
type Notify struct {
	CData interface{}
}

func (n Notify) String() string { return fmt.Sprintf("NOTIFY:%v", n.CData) }
func (n Notify) disposition()   {}

// Error indicates that authentication failed.
type Error struct {
	// Message is the human-readable failure description.
	Message string

	// Redir is the original redirection target of the attempt, if known, so
	// the application can return the user to where they started.
	Redir string
}

func (e Error) String() string { return "ERROR:" + e.Message }
func (e Error) disposition()   {}

// Errorf builds an Error disposition with a formatted message.
func Errorf(redir, format string, args ...interface{}) Error {
	return Error{Message: fmt.Sprintf(format, args...), Redir: redir}
}

// NeedsPost indicates that the next step must arrive as an explicit POST.
// The application should render a form (or auto-submitting page) that POSTs
// Data to URL. This is how one-time links are protected from email scanners
// and other prefetching agents.
type NeedsPost struct {
	// URL is the form's action target.
	URL string

	// Message is a prompt to display to the user.
	Message string

	// Data holds the form fields to submit.
	Data url.Values
}

func (n NeedsPost) String() string { return "NEEDS-POST:" + n.URL }
func (n NeedsPost) disposition()   {}
