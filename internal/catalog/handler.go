package catalog

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/auth"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	offers := rg.Group("/offers")
	{
		offers.GET("", h.List)
		offers.GET("/:id", h.Get)
		offers.POST("/:id/approve", auth.RequireRole(auth.RoleAdmin), h.Approve)
		offers.POST("/:id/reject", auth.RequireRole(auth.RoleAdmin), h.Reject)
	}
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) List(c *gin.Context) {
	var status *OfferStatus
	if raw := c.Query("status"); raw != "" {
		s := OfferStatus(raw)
		status = &s
	}

	var farmerID *uuid.UUID
	if userID, role, _ := auth.Caller(c); role == auth.RoleFarmer {
		farmerID = &userID
	} else if status == nil && role != auth.RoleAdmin {
		active := OfferActive
		status = &active
	}

	offers, err := h.service.ListOffers(c.Request.Context(), status, farmerID)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, offers)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	offer, err := h.service.GetOffer(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

func (h *Handler) Approve(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	reviewer, _, _ := auth.Caller(c)

	offer, err := h.service.ApproveOffer(c.Request.Context(), id, reviewer)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}

func (h *Handler) Reject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reviewer, _, _ := auth.Caller(c)

	offer, err := h.service.RejectOffer(c.Request.Context(), id, reviewer, req.Reason)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, offer)
}
