package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Placement-Signature"
	HeaderDate      = "X-Placement-Date"
	HeaderNonce     = "X-Placement-Nonce"
)

var ErrMissingSignature = errors.New("missing signature headers")

func ComputeBodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ComputeSignature signs one request with the session's signing key.
func ComputeSignature(key string, sessionID string, method string, path string, query string, bodyHash string, date string, nonce string) string {
	data := strings.Join([]string{
		sessionID,
		strings.ToUpper(method),
		path,
		query,
		bodyHash,
		date,
		nonce,
	}, "\n")

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func ValidateSignature(key string, sessionID string, signature string, method string, path string, query string, body []byte, date string, nonce string) bool {
	bodyHash := ComputeBodyHash(body)
	expected := ComputeSignature(key, sessionID, method, path, query, bodyHash, date, nonce)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func ExtractSignatureHeaders(h http.Header) (date string, nonce string, signature string, err error) {
	date = h.Get(HeaderDate)
	nonce = h.Get(HeaderNonce)
	signature = h.Get(HeaderSignature)

	if date == "" || nonce == "" || signature == "" {
		return "", "", "", ErrMissingSignature
	}
	return date, nonce, signature, nil
}

// SignRequest sets the signature headers on an outgoing request. body must be
// the exact bytes sent.
func SignRequest(req *http.Request, key string, sessionID string, body []byte, nonce string, now time.Time) {
	date := now.UTC().Format(time.RFC3339)
	path, query := CanonicalPath(req)
	sig := ComputeSignature(key, sessionID, req.Method, path, query, ComputeBodyHash(body), date, nonce)

	req.Header.Set(HeaderDate, date)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, sig)
}

func CanonicalPath(r *http.Request) (string, string) {
	return r.URL.Path, r.URL.RawQuery
}
