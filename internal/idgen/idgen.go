// Package idgen provides the ID primitives shared across the scoreboard
// components: nonces, subscriber IDs, broadcast envelope IDs, and
// action-log entry IDs. All are ULIDs, sortable and unique.
package idgen

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a new ULID string (26 chars), seeded off now.
func New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewNonce returns a ULID suitable for use as an ActionToken nonce.
func NewNonce(now time.Time) (string, error) { return New(now) }

// NewSubscriberID returns a ULID used to identify a Broadcaster subscriber.
func NewSubscriberID(now time.Time) (string, error) { return New(now) }

// NewEnvelopeID returns a ULID used as a broadcast envelope id.
func NewEnvelopeID(now time.Time) (string, error) { return New(now) }

// NewActionLogID returns a ULID used as an ActionLogEntry primary key.
func NewActionLogID(now time.Time) (string, error) { return New(now) }
