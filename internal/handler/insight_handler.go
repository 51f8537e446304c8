package handler

import (
	"net/http"
	"strconv"

	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/service"

	"github.com/gin-gonic/gin"
)

// InsightHandler 负责处理分析洞察相关的 API 请求。
type InsightHandler struct {
	insightService service.InsightService
}

// NewInsightHandler 创建一个新的 InsightHandler 实例。
func NewInsightHandler(insightService service.InsightService) *InsightHandler {
	return &InsightHandler{insightService: insightService}
}

// ListActive 返回当前用户的活跃洞察，按生成时间倒序。
func (h *InsightHandler) ListActive(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	insights, err := h.insightService.ActiveInsights(c.Request.Context(), user.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": insights})
}

// SaveInsightRequest 定义了分析服务回写洞察的请求体结构。
type SaveInsightRequest struct {
	AgentType       string                   `json:"agentType" binding:"required"`
	InsightType     string                   `json:"insightType"`
	Title           string                   `json:"title" binding:"required"`
	Content         string                   `json:"content"`
	Recommendations model.RecommendationList `json:"recommendations"`
	PriorityScore   int                      `json:"priorityScore"`
}

// Save 保存一条新洞察。同一 agentType 的旧洞察会被置为不活跃，
// 活跃集合里每类分析只保留最新的结论。
func (h *InsightHandler) Save(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req SaveInsightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：agentType 和 title 不能为空"})
		return
	}
	if req.PriorityScore == 0 {
		req.PriorityScore = 5
	}

	insight := &model.AgentInsight{
		UserID:          user.ID,
		AgentType:       req.AgentType,
		InsightType:     req.InsightType,
		Title:           req.Title,
		Content:         req.Content,
		Recommendations: req.Recommendations,
		PriorityScore:   req.PriorityScore,
	}
	if err := h.insightService.SaveInsight(c.Request.Context(), insight); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "洞察已保存", "data": insight})
}
