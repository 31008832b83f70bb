package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"milestonefund/internal/model"
)

// ActorKey 认证中间件写入 gin context 的调用方身份
const ActorKey = "actor"

// getActor 读取认证中间件设置的调用方
func getActor(c *gin.Context) (model.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return model.Actor{}, false
	}
	actor, ok := v.(model.Actor)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid actor"})
		return model.Actor{}, false
	}
	return actor, true
}

func campaignID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid campaign id")
		return 0, false
	}
	return id, true
}

func milestoneIndex(c *gin.Context) (int64, int, bool) {
	id, ok := campaignID(c)
	if !ok {
		return 0, 0, false
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		badRequest(c, "invalid milestone index")
		return 0, 0, false
	}
	return id, index, true
}
