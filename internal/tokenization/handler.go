package tokenization

import (
	"net/http"
	"strconv"

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
	receipts := rg.Group("/receipts")
	{
		receipts.POST("", auth.RequireRole(auth.RoleAdmin), h.Create)
		receipts.GET("", h.List)
		receipts.GET("/:id", h.Get)
		receipts.PATCH("/:id", auth.RequireRole(auth.RoleAdmin), h.Amend)
		receipts.POST("/:id/validate", auth.RequireRole(auth.RoleAuditor, auth.RoleAdmin), h.Validate)
		receipts.POST("/:id/mint", auth.RequireRole(auth.RoleAdmin), h.PrepareMint)
		receipts.POST("/:id/distribute", auth.RequireRole(auth.RoleAdmin), h.Distribute)
		receipts.POST("/:id/redeem", auth.RequireRole(auth.RoleBuyer), h.Redeem)
		receipts.GET("/:id/token", h.Token)
		receipts.GET("/:id/certificate", h.Certificate)
	}

	rg.POST("/mints/:scheduleId/sign", auth.RequireRole(auth.RoleAuditor, auth.RoleAdmin), h.SignMint)
}

type validateRequest struct {
	InspectionReport string `json:"inspection_report"`
}

type distributeRequest struct {
	Lines []DistributionLine `json:"lines" binding:"required,min=1"`
}

type redeemRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

func (h *Handler) Create(c *gin.Context) {
	var req ReceiptInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.service.CreateReceipt(c.Request.Context(), req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

func (h *Handler) List(c *gin.Context) {
	filter := ReceiptFilter{Limit: 200}
	if userID, role, _ := auth.Caller(c); role == auth.RoleFarmer {
		filter.ProducerID = &userID
	} else if raw := c.Query("producer_id"); raw != "" {
		producerID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid producer_id"})
			return
		}
		filter.ProducerID = &producerID
	}
	if raw := c.Query("minted"); raw != "" {
		minted, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid minted flag"})
			return
		}
		filter.Minted = &minted
	}

	receipts, err := h.service.ListReceipts(c.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, receipts)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	receipt, err := h.service.GetReceipt(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) Amend(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	var req ReceiptAmendment
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.service.AmendReceipt(c.Request.Context(), id, req)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) Validate(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	validator, _, _ := auth.Caller(c)

	receipt, err := h.service.Validate(c.Request.Context(), id, validator, req.InspectionReport)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) PrepareMint(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	prepared, err := h.service.PrepareMint(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, prepared)
}

func (h *Handler) SignMint(c *gin.Context) {
	scheduleID := c.Param("scheduleId")
	signer, _, _ := auth.Caller(c)

	receipt, err := h.service.SignMint(c.Request.Context(), scheduleID, signer)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}

func (h *Handler) Distribute(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	var req distributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Distribute(c.Request.Context(), id, req.Lines)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, result)
}

func (h *Handler) Redeem(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	holder, _, _ := auth.Caller(c)

	token, err := h.service.Redeem(c.Request.Context(), id, holder, req.Amount)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, token)
}

func (h *Handler) Token(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	token, err := h.service.Token(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, token)
}

func (h *Handler) Certificate(c *gin.Context) {
	id, ok := receiptID(c)
	if !ok {
		return
	}

	doc, receipt, err := h.service.Certificate(c.Request.Context(), id)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	filename := "receipt_" + receipt.BatchNumber + ".pdf"
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.DataFromReader(http.StatusOK, -1, "application/pdf", doc, nil)
}

func receiptID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
