package handler

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/chain-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth *service.AdminAuthService
}

func NewAuthHandler(auth *service.AdminAuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// Handles POST /admin/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}

	token, expiresAt, err := h.auth.Login(req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
	})
}
