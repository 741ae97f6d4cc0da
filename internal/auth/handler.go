package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers auth routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/auth/me", h.Me)
}

// Me echoes the caller resolved from the access token
func (h *Handler) Me(c *gin.Context) {
	userID, role, _ := Caller(c)
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": role})
}
