package settlement

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Artifique/Agrilend-Backend/internal/apperrors"
	"github.com/Artifique/Agrilend-Backend/internal/auth"
)

type Handler struct {
	journal    *Journal
	reconciler *Reconciler
}

func NewHandler(journal *Journal, reconciler *Reconciler) *Handler {
	return &Handler{journal: journal, reconciler: reconciler}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	settlements := rg.Group("/settlements", auth.RequireRole(auth.RoleAdmin))
	{
		settlements.GET("", h.List)
		settlements.GET("/:id", h.Get)
		settlements.POST("/reconcile", h.Reconcile)
	}
}

func (h *Handler) List(c *gin.Context) {
	var filter Filter

	if raw := c.Query("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order_id"})
			return
		}
		filter.OrderID = &id
	}
	if raw := c.Query("receipt_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receipt_id"})
			return
		}
		filter.ReceiptID = &id
	}
	if raw := c.Query("status"); raw != "" {
		status := RecordStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("type"); raw != "" {
		filter.Types = []RecordType{RecordType(raw)}
	}

	filter.Limit = 200
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}

	records, err := h.journal.List(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	rec, err := h.journal.Get(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Reconcile(c *gin.Context) {
	summary, err := h.reconciler.Run(c.Request.Context())
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
