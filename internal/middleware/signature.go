package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"placement/internal/security"
)

type SigningKeys interface {
	SigningKey(sessionID string) string
}

type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Signature verifies the request signature made with the session's signing
// key and rejects replayed nonces. It must run after Auth.
func Signature(keys SigningKeys, nonces NonceStore, skew time.Duration, log zerolog.Logger) gin.HandlerFunc {
	if skew <= 0 {
		skew = 5 * time.Minute
	}

	return func(c *gin.Context) {
		date, nonce, signature, err := security.ExtractSignatureHeaders(c.Request.Header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "signature_required"})
			return
		}

		requestTime, err := time.Parse(time.RFC3339, date)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_date"})
			return
		}
		if time.Since(requestTime) > skew || time.Until(requestTime) > skew {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "request_expired"})
			return
		}

		rawBody, err := c.GetRawData()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		principal, ok := CurrentPrincipal(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		path, query := security.CanonicalPath(c.Request)
		valid := security.ValidateSignature(
			keys.SigningKey(principal.SessionID),
			principal.SessionID,
			signature,
			c.Request.Method,
			path,
			query,
			rawBody,
			date,
			nonce,
		)
		if !valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}

		fresh, err := nonces.Claim(c.Request.Context(), principal.SessionID+":"+nonce, 2*skew)
		if err != nil {
			log.Error().Err(err).Str("session_id", principal.SessionID).Msg("nonce check failed")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
			return
		}
		if !fresh {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "replay_detected"})
			return
		}

		c.Next()
	}
}
