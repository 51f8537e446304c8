package handler

import (
	"net/http"

	"github.com/prixroxx/RupAI/internal/service"
	"github.com/prixroxx/RupAI/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 负责处理检索上下文相关的 API 请求。
type SearchHandler struct {
	retrievalService service.RetrievalService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(retrievalService service.RetrievalService) *SearchHandler {
	return &SearchHandler{retrievalService: retrievalService}
}

// SearchRequest 定义了检索 API 的请求体结构。
type SearchRequest struct {
	Query      string  `json:"query" binding:"required"`
	MaxResults int     `json:"maxResults"`
	Threshold  float64 `json:"threshold"`
}

// Search 组装一次检索上下文并原样返回。
// 子数据源失败只体现在 report 字段里，HTTP 层面始终是 200。
func (h *SearchHandler) Search(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：query 不能为空"})
		return
	}

	rc := h.retrievalService.Retrieve(c.Request.Context(), req.Query, user.ID, service.RetrieveOptions{
		MaxResults: req.MaxResults,
		Threshold:  req.Threshold,
	})
	if rc.Report.Degraded() {
		log.Warnf("Search: Partial context for user %d, reasons: %v", user.ID, rc.Report.Reasons)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": rc})
}
