package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"placement/internal/core"
	"placement/internal/identity"
)

// Error codes of the JSON error body. The remote identity client maps them
// back to identity errors.
const (
	CodeInvalidRequest           = "invalid_request"
	CodeInvalidCredentials       = "invalid_credentials"
	CodeCredentialNotProvisioned = "credential_not_provisioned"
	CodeEmailTaken               = "email_taken"
	CodeNotFound                 = "not_found"
	CodeForbidden                = "forbidden"
	CodeInvalidToken             = "invalid_token"
	CodeRateLimited              = "rate_limited"
	CodeInternal                 = "internal_error"
)

func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.AbortWithStatusJSON(status, gin.H{"error": code})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, identity.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials
	case errors.Is(err, identity.ErrNotSignedIn):
		return http.StatusUnauthorized, CodeInvalidToken
	case errors.Is(err, identity.ErrCredentialNotProvisioned):
		return http.StatusForbidden, CodeCredentialNotProvisioned
	case errors.Is(err, identity.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, identity.ErrEmailTaken):
		return http.StatusConflict, CodeEmailTaken
	case errors.Is(err, identity.ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	}
	return http.StatusInternalServerError, CodeInternal
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": CodeInvalidRequest, "message": err.Error()})
}
