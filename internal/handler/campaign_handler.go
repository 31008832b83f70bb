package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonefund/internal/engine"
	"milestonefund/internal/service/campaign"
)

type CampaignHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewCampaignHandler(eng *engine.Engine, logger *zap.Logger) *CampaignHandler {
	return &CampaignHandler{engine: eng, logger: logger}
}

type createCampaignRequest struct {
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	TargetAmount int64     `json:"target_amount"`
	Deadline     time.Time `json:"deadline"`
	UnitPrice    int64     `json:"unit_price"`
}

// Create POST /campaigns
func (h *CampaignHandler) Create(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	out, err := h.engine.CreateCampaign(c.Request.Context(), actor, campaign.CreateInput{
		Title:        req.Title,
		Description:  req.Description,
		TargetAmount: req.TargetAmount,
		Deadline:     req.Deadline,
		UnitPrice:    req.UnitPrice,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// List GET /campaigns
func (h *CampaignHandler) List(c *gin.Context) {
	out, err := h.engine.ListCampaigns(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": out})
}

// Get GET /campaigns/:id
func (h *CampaignHandler) Get(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.GetCampaign(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *CampaignHandler) Pause(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.PauseCampaign(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *CampaignHandler) Unpause(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.UnpauseCampaign(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Cancel POST /campaigns/:id/cancel，退款给所有贡献者
func (h *CampaignHandler) Cancel(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.CancelCampaign(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// EvaluateExpiry POST /campaigns/:id/evaluate-expiry
// 截止时间已过且未达标时结束活动并退款，任何人都可以触发
func (h *CampaignHandler) EvaluateExpiry(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.EvaluateExpiry(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type investRequest struct {
	Amount int64 `json:"amount"`
}

// Invest POST /campaigns/:id/investments
func (h *CampaignHandler) Invest(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req investRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	out, err := h.engine.Invest(c.Request.Context(), actor, id, req.Amount)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetInvestment GET /campaigns/:id/investments/:contributor
func (h *CampaignHandler) GetInvestment(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.GetInvestment(c.Request.Context(), id, strings.TrimSpace(c.Param("contributor")))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Contributors GET /campaigns/:id/contributors
func (h *CampaignHandler) Contributors(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.GetCampaignContributors(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contributors": out})
}

// Refund POST /campaigns/:id/refunds/:contributor
func (h *CampaignHandler) Refund(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.RefundContributor(c.Request.Context(), actor, id, c.Param("contributor"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Escrow GET /campaigns/:id/escrow
func (h *CampaignHandler) Escrow(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.GetEscrowBalance(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
