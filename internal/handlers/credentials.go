package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"placement/internal/identity"
	"placement/internal/middleware"
	"placement/internal/service"
)

type credentialRequest struct {
	Email      string `json:"email" binding:"required"`
	Password   string `json:"password" binding:"required"`
	DeviceName string `json:"deviceName"`
}

type credentialResponse struct {
	ID    string `json:"credentialId"`
	Email string `json:"email"`
}

type sessionResponse struct {
	AccessToken string             `json:"accessToken"`
	SessionID   string             `json:"sessionId"`
	SigningKey  string             `json:"signingKey"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	Credential  credentialResponse `json:"credential"`
}

type reconcileRequest struct {
	Reason string `json:"reason"`
}

func (h HandlerSet) CreateCredential(c *gin.Context) {
	input, ok := bindCredential(c)
	if !ok {
		return
	}

	result, err := h.auth.CreateCredential(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(result))
}

func (h HandlerSet) SignIn(c *gin.Context) {
	input, ok := bindCredential(c)
	if !ok {
		return
	}

	result, err := h.auth.SignIn(c.Request.Context(), input)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(result))
}

func (h HandlerSet) SignOut(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	if err := h.auth.SignOut(c.Request.Context(), principal.SessionID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) Me(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"credential": credentialResponse{ID: principal.CredentialID, Email: principal.Email},
	})
}

func (h HandlerSet) DeleteCredential(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	if err := h.auth.DeleteCredential(c.Request.Context(), principal, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) ReconcileCredential(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	if err := h.records.Reconcile(c.Request.Context(), principal, c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func bindCredential(c *gin.Context) (service.CredentialInput, bool) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return service.CredentialInput{}, false
	}

	return service.CredentialInput{
		Email:      req.Email,
		Password:   req.Password,
		DeviceName: req.DeviceName,
		IPAddress:  c.ClientIP(),
		UserAgent:  c.GetHeader("User-Agent"),
	}, true
}

func principal(c *gin.Context) (service.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		writeError(c, identity.ErrNotSignedIn)
	}
	return p, ok
}

func toSessionResponse(result service.SessionResult) sessionResponse {
	return sessionResponse{
		AccessToken: result.AccessToken,
		SessionID:   result.SessionID,
		SigningKey:  result.SigningKey,
		ExpiresAt:   result.ExpiresAt,
		Credential: credentialResponse{
			ID:    result.Credential.ID,
			Email: result.Credential.Email,
		},
	}
}
