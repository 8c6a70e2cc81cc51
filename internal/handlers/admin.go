package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"placement/internal/core"
	"placement/internal/models"
)

// ListAccounts serves GET /records/accounts?role=student.
func (h HandlerSet) ListAccounts(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	role, valid := models.ParseRole(c.Query("role"))
	if !valid {
		writeError(c, core.ErrInvalidRole)
		return
	}

	accounts, err := h.records.ListAccounts(c.Request.Context(), principal, role)
	if err != nil {
		writeError(c, err)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts": accounts,
	})
}

func (h HandlerSet) PatchAccount(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	var patch models.AccountPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.records.PatchAccount(c.Request.Context(), principal, c.Param("id"), patch); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h HandlerSet) DeleteAccount(c *gin.Context) {
	principal, ok := principal(c)
	if !ok {
		return
	}

	if err := h.records.DeleteAccount(c.Request.Context(), principal, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
