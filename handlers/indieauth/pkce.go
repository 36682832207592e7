package indieauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// newVerifier generates a PKCE code verifier (RFC 7636). The verifier binds
// the authorization code to this transaction even when the token store
// cannot guarantee single-use state.
func newVerifier() (string, error) {
	const op = "indieauth.newVerifier"
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%s: unable to generate verifier: %w", op, err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// challenge converts a PKCE verifier into its S256 challenge.
func challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
