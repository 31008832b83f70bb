package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonefund/internal/engine"
	"milestonefund/internal/service/governor"
)

type MilestoneHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewMilestoneHandler(eng *engine.Engine, logger *zap.Logger) *MilestoneHandler {
	return &MilestoneHandler{engine: eng, logger: logger}
}

// voting_duration 使用 Go duration 格式，例如 "72h"
type createMilestoneRequest struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	TargetAmount   int64  `json:"target_amount"`
	VotingDuration string `json:"voting_duration"`
}

type updateMilestoneRequest struct {
	Title        *string `json:"title"`
	Description  *string `json:"description"`
	TargetAmount *int64  `json:"target_amount"`
}

type voteRequest struct {
	InFavor *bool `json:"in_favor"`
}

// Create POST /campaigns/:id/milestones
func (h *MilestoneHandler) Create(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, ok := campaignID(c)
	if !ok {
		return
	}
	var req createMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	duration, err := time.ParseDuration(req.VotingDuration)
	if err != nil {
		badRequest(c, "invalid voting_duration")
		return
	}
	out, err := h.engine.CreateMilestone(c.Request.Context(), actor, id, governor.MilestoneInput{
		Title:          req.Title,
		Description:    req.Description,
		TargetAmount:   req.TargetAmount,
		VotingDuration: duration,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// List GET /campaigns/:id/milestones
func (h *MilestoneHandler) List(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	out, err := h.engine.ListMilestones(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": out})
}

func (h *MilestoneHandler) Get(c *gin.Context) {
	id, index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	out, err := h.engine.GetMilestone(c.Request.Context(), id, index)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Update PATCH /campaigns/:id/milestones/:index
func (h *MilestoneHandler) Update(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	var req updateMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	out, err := h.engine.UpdateMilestone(c.Request.Context(), actor, id, index, governor.MilestoneUpdate{
		Title:        req.Title,
		Description:  req.Description,
		TargetAmount: req.TargetAmount,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *MilestoneHandler) Delete(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	out, err := h.engine.DeleteMilestone(c.Request.Context(), actor, id, index)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Vote POST /campaigns/:id/milestones/:index/votes
func (h *MilestoneHandler) Vote(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.InFavor == nil {
		badRequest(c, "in_favor is required")
		return
	}
	out, err := h.engine.Vote(c.Request.Context(), actor, id, index, *req.InFavor)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Votes GET /campaigns/:id/milestones/:index/votes
func (h *MilestoneHandler) Votes(c *gin.Context) {
	id, index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	out, err := h.engine.GetMilestoneVotes(c.Request.Context(), id, index)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"votes": out})
}

// VotingStatus GET /campaigns/:id/milestones/:index/voting
func (h *MilestoneHandler) VotingStatus(c *gin.Context) {
	id, index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	out, err := h.engine.GetMilestoneVotingStatus(c.Request.Context(), id, index)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Execute POST /campaigns/:id/milestones/:index/execute
func (h *MilestoneHandler) Execute(c *gin.Context) {
	actor, ok := getActor(c)
	if !ok {
		return
	}
	id, index, ok := milestoneIndex(c)
	if !ok {
		return
	}
	out, err := h.engine.ExecuteMilestone(c.Request.Context(), actor, id, index)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
