package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonefund/internal/engine"
)

type PlatformHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewPlatformHandler(eng *engine.Engine, logger *zap.Logger) *PlatformHandler {
	return &PlatformHandler{engine: eng, logger: logger}
}

// State GET /platform，返回配置和手续费池
func (h *PlatformHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.GetPlatformState())
}

// QuoteFee GET /platform/fee?amount=
func (h *PlatformHandler) QuoteFee(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil {
		badRequest(c, "invalid amount parameter")
		return
	}
	out, err := h.engine.CalculatePlatformFee(amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type setFeeRequest struct {
	FeeBasisPoints *int64 `json:"fee_basis_points"`
}

// SetFee PUT /platform/fee
func (h *PlatformHandler) SetFee(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	var req setFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FeeBasisPoints == nil {
		badRequest(c, "fee_basis_points is required")
		return
	}
	out, err := h.engine.SetPlatformFeeBasisPoints(c.Request.Context(), actor, *req.FeeBasisPoints)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// SetLimits PUT /platform/limits
func (h *PlatformHandler) SetLimits(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	var req engine.InvestmentLimits
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	out, err := h.engine.SetInvestmentLimits(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type withdrawRequest struct {
	Recipient string `json:"recipient"`
}

// WithdrawFees POST /platform/fees/withdraw
func (h *PlatformHandler) WithdrawFees(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	out, err := h.engine.WithdrawPlatformFees(c.Request.Context(), actor, req.Recipient)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Audit GET /audit?offset=0&limit=100
func (h *PlatformHandler) Audit(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		badRequest(c, "invalid offset parameter")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		badRequest(c, "invalid limit parameter")
		return
	}
	events, err := h.engine.AuditLog(c.Request.Context(), actor, offset, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "offset": offset, "limit": limit})
}
