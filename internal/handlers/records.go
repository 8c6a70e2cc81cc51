package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"placement/internal/models"
)

func (h HandlerSet) GetAccount(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	acc, err := h.records.GetAccount(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": acc})
}

// PutAccount creates or replaces the account at the path id; an id in the
// body is ignored.
func (h HandlerSet) PutAccount(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	var acc models.Account
	if err := c.ShouldBindJSON(&acc); err != nil {
		badRequest(c, err)
		return
	}
	acc.ID = c.Param("id")

	saved, err := h.records.PutAccount(c.Request.Context(), principal, acc)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": saved})
}

func (h HandlerSet) GetProfile(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	profile, err := h.records.GetProfile(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (h HandlerSet) PutProfile(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	var profile models.StudentProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		badRequest(c, err)
		return
	}
	profile.AccountID = c.Param("id")

	if err := h.records.PutProfile(c.Request.Context(), principal, profile); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
