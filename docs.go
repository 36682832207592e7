// Package herald is a pluggable federated-identity authentication broker.
// Given a user-supplied identity address — a URL, an email address, or a
// WebFinger handle like @user@example.com — it discovers which of the
// configured authentication protocols applies, drives that protocol's
// handshake, and returns a normalized result for the hosting web
// application to act on.
//
// The Broker holds an ordered registry of protocol handlers (IndieAuth,
// Fediverse, email magic links, generic OAuth providers) and resolves
// addresses to handlers using pattern tests, WebFinger discovery, page
// content, and rel="me" links, in that order of strength. Every
// handshake-advancing call returns a disposition.Disposition value telling
// the application what to do next.
//
// herald provides no HTTP server, UI, or database of its own: the hosting
// application routes callbacks at .../cb/{cb_id} back into the matching
// handler, renders the dispositions, and may supply its own transactional
// token storage.
package herald
