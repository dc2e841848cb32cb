package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// accessClaims is the payload of a bearer access token. The token is a
// self-contained, HMAC-signed string rather than a server-side session
// lookup: "<base64url(claims json)>.<hmac-sha256 hex>". A self-verifying
// token avoids a session store, since there is no session-rotation or
// logout-everywhere requirement (see DESIGN.md).
type accessClaims struct {
	Identity string    `json:"identity"`
	Username string    `json:"username"`
	IssuedAt time.Time `json:"issued_at"`
}

var ErrMalformedToken = errors.New("identity: malformed bearer token")
var ErrTokenSignature = errors.New("identity: bearer token signature mismatch")

func signBearerToken(secret []byte, identity, username string) (string, error) {
	claims := accessClaims{Identity: identity, Username: username, IssuedAt: time.Now().UTC()}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	payloadB64 := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmacHex(secret, payloadB64)
	return payloadB64 + "." + mac, nil
}

func parseBearerToken(secret []byte, token string) (accessClaims, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return accessClaims{}, ErrMalformedToken
	}

	want := hmacHex(secret, parts[0])
	if subtle.ConstantTimeCompare([]byte(want), []byte(parts[1])) != 1 {
		return accessClaims{}, ErrTokenSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return accessClaims{}, ErrMalformedToken
	}

	var claims accessClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return accessClaims{}, ErrMalformedToken
	}
	return claims, nil
}

func hmacHex(secret []byte, s string) string {
	m := hmac.New(sha256.New, secret)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}
