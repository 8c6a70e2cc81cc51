package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignResource returns an unpadded base64url HMAC-SHA256 of parts joined by
// colons.
func SignResource(secret string, parts ...string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, ":")))
	return []byte(base64.RawURLEncoding.EncodeToString(mac.Sum(nil)))
}

// SessionSigningKey derives the request signing key handed to a session at
// sign-in. The server recomputes it instead of storing it.
func SessionSigningKey(secret string, sessionID string) string {
	return string(SignResource(secret, "session", sessionID))
}
