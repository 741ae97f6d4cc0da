package escrow

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/auth"
)

type Handler struct {
	service *Service
	limit   gin.HandlerFunc
}

// NewHandler creates the order handler. placeLimit throttles order placement; nil disables it.
func NewHandler(service *Service, placeLimit gin.HandlerFunc) *Handler {
	if placeLimit == nil {
		placeLimit = func(c *gin.Context) { c.Next() }
	}
	return &Handler{service: service, limit: placeLimit}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	{
		orders.POST("", auth.RequireRole(auth.RoleBuyer), h.limit, h.Place)
		orders.GET("", h.List)
		orders.GET("/:id", h.Get)
		orders.POST("/:id/fund", auth.RequireRole(auth.RoleBuyer), h.Fund)
		orders.POST("/:id/release-escrow", auth.RequireRole(auth.RoleAdmin), h.Release)
		orders.PUT("/:id/status", auth.RequireRole(auth.RoleAdmin), h.UpdateStatus)
		orders.POST("/:id/confirm-delivery", auth.RequireRole(auth.RoleBuyer), h.ConfirmDelivery)
		orders.POST("/:id/cancel", auth.RequireRole(auth.RoleBuyer, auth.RoleAdmin), h.Cancel)
	}
}

type statusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
	Reason string      `json:"reason"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Place creates the order and funds its escrow. A funding failure still returns the PENDING order.
func (h *Handler) Place(c *gin.Context) {
	var req PlaceOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	buyer, _, _ := auth.Caller(c)

	order, err := h.service.CreateOrder(c.Request.Context(), buyer, req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	funded, err := h.service.FundEscrow(c.Request.Context(), order.ID)
	if err != nil {
		message := err.Error()
		if apperrors.KindOf(err) == apperrors.KindInternal {
			message = "internal server error"
		}
		c.JSON(apperrors.HTTPStatus(err), gin.H{
			"error": message,
			"code":  apperrors.CodeOf(err),
			"order": order,
		})
		return
	}

	c.JSON(http.StatusCreated, funded)
}

func (h *Handler) Fund(c *gin.Context) {
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	funded, err := h.service.FundEscrow(c.Request.Context(), order.ID)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, funded)
}

func (h *Handler) Get(c *gin.Context) {
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) List(c *gin.Context) {
	filter := OrderFilter{Limit: 200}
	userID, role, _ := auth.Caller(c)
	switch role {
	case auth.RoleBuyer:
		filter.BuyerID = &userID
	case auth.RoleFarmer:
		filter.FarmerID = &userID
	case auth.RoleAdmin:
	default:
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
		return
	}
	if raw := c.Query("status"); raw != "" {
		status := OrderStatus(raw)
		filter.Status = &status
	}

	orders, err := h.service.ListOrders(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

func (h *Handler) Release(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	order, err := h.service.ReleaseEscrow(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.UpdateStatus(c.Request.Context(), id, req.Status, req.Reason)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) ConfirmDelivery(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	buyer, _, _ := auth.Caller(c)

	order, err := h.service.ConfirmDelivery(c.Request.Context(), id, buyer)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) Cancel(c *gin.Context) {
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cancelled, err := h.service.Cancel(c.Request.Context(), order.ID, req.Reason)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, cancelled)
}

// ownedOrder loads the order in the path. Only its buyer, its farmer and admins may see it.
func (h *Handler) ownedOrder(c *gin.Context) (*Order, bool) {
	id, ok := orderID(c)
	if !ok {
		return nil, false
	}

	order, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return nil, false
	}

	userID, role, _ := auth.Caller(c)
	if role != auth.RoleAdmin && order.BuyerID != userID && order.FarmerID != userID {
		apperrors.Respond(c, ErrOrderNotFound)
		return nil, false
	}
	if role == auth.RoleBuyer && order.BuyerID != userID {
		apperrors.Respond(c, ErrOrderNotFound)
		return nil, false
	}
	return order, true
}

func orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
