// Package tokens provides storage for in-flight login transaction state.
// Given a tuple of values to store, a Store returns an opaque token that can
// later reconstitute the tuple.
//
// Two implementations are provided. DictStore keeps values in a bounded,
// time-expiring in-memory map and supports true single-use consumption and
// revocation; it is the right choice for a single-node deployment. Serializer
// encodes the values into a tamper-evident signed token that needs no backing
// store at all, which makes it suitable for load-balanced deployments — but
// identical inputs always re-derive the identical token and Remove is a
// no-op, so at-most-once consumption cannot be enforced. Do not use
// Serializer with any protocol whose replay defense depends on single-use
// state (the IndieAuth handler refuses it outright).
//
// It is entirely reasonable to provide your own Store backed by a shared
// data store such as Redis or a database.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned when a token is absent, already consumed, or
	// failed signature verification.
	ErrNotFound = errors.New("token not found")

	// ErrMalformedValue is returned when a stored tuple does not have the
	// shape the caller expected.
	ErrMalformedValue = errors.New("malformed token value")
)

// Store is storage for transaction tokens. Implementations must be safe for
// concurrent use from independent requests.
type Store interface {
	// Put stores the value tuple and returns an opaque token for it.
	Put(value []string) (string, error)

	// Get retrieves the tuple for token. It returns ErrNotFound if the token
	// is absent, invalid or tampered with.
	Get(token string) ([]string, error)

	// Remove deletes the token from the backing store, if there is one.
	// Removing an unknown token is a no-op.
	Remove(token string)

	// Pop retrieves the tuple and deletes the token. The removal is
	// attempted even when retrieval fails, so a token can never be retried
	// after its first Pop (for stores with a backing store).
	Pop(token string) ([]string, error)
}

// Unpack validates that a stored tuple has exactly want fields, returning
// ErrMalformedValue otherwise. Handlers use this instead of indexing blindly
// into tuples that may have been written by an older version.
func Unpack(value []string, want int) ([]string, error) {
	if len(value) != want {
		return nil, fmt.Errorf("expected %d fields, got %d: %w", want, len(value), ErrMalformedValue)
	}
	return value, nil
}

// FormatTime encodes an absolute timestamp for storage in a token tuple.
func FormatTime(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// ParseTime decodes a timestamp previously encoded with FormatTime.
func ParseTime(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, ErrMalformedValue)
	}
	return time.Unix(secs, 0), nil
}

func encodeValue(value []string) ([]byte, error) {
	return json.Marshal(value)
}

func decodeValue(raw []byte) ([]string, error) {
	var value []string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("undecodable token payload: %w", ErrNotFound)
	}
	return value, nil
}
