package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestonefund/internal/model"
	"milestonefund/pkg/logger"
)

// StatusFor 错误类型到 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrBelowMinimum),
		errors.Is(err, model.ErrLimitExceeded),
		errors.Is(err, model.ErrSelfInvestment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrCampaignNotInvestable),
		errors.Is(err, model.ErrVotingClosed),
		errors.Is(err, model.ErrVotingNotEnded),
		errors.Is(err, model.ErrAlreadyExecuted),
		errors.Is(err, model.ErrInsufficientEscrow):
		return http.StatusConflict
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidRate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError 写错误响应；内部错误不向调用方暴露细节
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := StatusFor(err)
	kind := model.Kind(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal error", "kind": kind})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "kind": model.Kind(model.ErrValidation)})
}
