// Package verifier implements the scoreboard's ActionVerifier: issuing and
// verifying single-use action tokens, enforcing rate limits, and delegating
// bearer-credential verification to the identity collaborator.
package verifier

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"

	"scoreboard/internal/idgen"
)

// ActionToken is the server-issued, single-use increment authorization
// described by the data model: nonce + increment + issued_at bound together
// by a MAC under the server secret.
type ActionToken struct {
	Nonce     string    `json:"nonce"`
	Increment int64     `json:"increment"`
	IssuedAt  time.Time `json:"issued_at"`
	MAC       string    `json:"mac"`
}

// macInput renders the fields the MAC binds in a fixed, unambiguous order.
// issued_at is rendered with nanosecond precision so re-computation is
// exact regardless of how the token was marshaled in transit.
func macInput(nonce string, increment int64, issuedAt time.Time) string {
	return nonce + "|" + strconv.FormatInt(increment, 10) + "|" + issuedAt.UTC().Format(time.RFC3339Nano)
}

// computeMAC computes H(secret || nonce || increment || issued_at) via
// HMAC-SHA256.
func computeMAC(secret []byte, nonce string, increment int64, issuedAt time.Time) string {
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write([]byte(macInput(nonce, increment, issuedAt)))
	return hex.EncodeToString(m.Sum(nil))
}

// verifyMAC compares in constant time.
func verifyMAC(secret []byte, tok ActionToken) bool {
	want := computeMAC(secret, tok.Nonce, tok.Increment, tok.IssuedAt)
	return subtle.ConstantTimeCompare([]byte(want), []byte(tok.MAC)) == 1
}

// Issue produces a fresh ActionToken. No state is written; the action log
// records only acceptances (in ScoreEngine.apply via Store.Increment).
func (v *Verifier) Issue(increment int64) (ActionToken, error) {
	if increment < 1 || increment > v.cfg.MaxIncrement {
		return ActionToken{}, errInvalidIncrement
	}

	now := time.Now().UTC()
	nonce, err := idgen.NewNonce(now)
	if err != nil {
		return ActionToken{}, err
	}

	tok := ActionToken{
		Nonce:     nonce,
		Increment: increment,
		IssuedAt:  now,
	}
	tok.MAC = computeMAC(v.cfg.HMACKey, tok.Nonce, tok.Increment, tok.IssuedAt)
	return tok, nil
}
