package tokens

import (
	"fmt"

	jose "gopkg.in/square/go-jose.v2"
)

// Serializer stores token values inside the token itself, as an HMAC-signed
// compact JWS. No backing store is needed, so it works across load-balanced
// nodes and service restarts as long as every instance shares the secret key.
//
// Security caveat: Put is deterministic — the same tuple always re-derives
// the same token — and Remove cannot revoke anything, so tokens produced by
// a Serializer are replayable until they time out. Only use it with handlers
// whose replay defense does not depend on single-use state.
type Serializer struct {
	signer jose.Signer
	secret []byte
}

var _ Store = (*Serializer)(nil)

// NewSerializer creates a Serializer signing with the given secret key.
func NewSerializer(secret []byte) (*Serializer, error) {
	const op = "tokens.NewSerializer"
	if len(secret) == 0 {
		return nil, fmt.Errorf("%s: empty secret key: %w", op, ErrMalformedValue)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create signer: %w", op, err)
	}
	return &Serializer{signer: signer, secret: secret}, nil
}

// Put encodes value into a signed, self-contained token.
func (s *Serializer) Put(value []string) (string, error) {
	const op = "tokens.Serializer.Put"
	payload, err := encodeValue(value)
	if err != nil {
		return "", fmt.Errorf("%s: unable to encode value: %w", op, err)
	}
	jws, err := s.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("%s: unable to sign value: %w", op, err)
	}
	token, err := jws.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("%s: unable to serialize token: %w", op, err)
	}
	return token, nil
}

// Get verifies the token's signature and decodes its value. Tampered or
// malformed tokens fail with ErrNotFound, indistinguishable from absence.
func (s *Serializer) Get(token string) ([]string, error) {
	const op = "tokens.Serializer.Get"
	jws, err := jose.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: unparseable token: %w", op, ErrNotFound)
	}
	payload, err := jws.Verify(s.secret)
	if err != nil {
		return nil, fmt.Errorf("%s: signature verification failed: %w", op, ErrNotFound)
	}
	value, err := decodeValue(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return value, nil
}

// Remove is a no-op; self-contained tokens cannot be revoked.
func (s *Serializer) Remove(_ string) {}

// Pop is equivalent to Get, since there is nothing to consume.
func (s *Serializer) Pop(token string) ([]string, error) {
	return s.Get(token)
}

// IsRevocable reports whether a Store can actually revoke tokens. Handlers
// that depend on single-use state check this at construction time.
func IsRevocable(s Store) bool {
	_, isSerializer := s.(*Serializer)
	return !isSerializer
}
