package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/service"
	"github.com/prixroxx/RupAI/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// FinancialHandler 负责处理财务数据相关的 API 请求。
type FinancialHandler struct {
	financialService service.FinancialService
}

// NewFinancialHandler 创建一个新的 FinancialHandler 实例。
func NewFinancialHandler(financialService service.FinancialService) *FinancialHandler {
	return &FinancialHandler{financialService: financialService}
}

// Summary 返回当前用户的财务概要快照。
func (h *FinancialHandler) Summary(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	summary, err := h.financialService.Summarize(c.Request.Context(), user.ID)
	if err != nil {
		log.Errorf("Summary: Failed for user %d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "聚合财务数据失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summary})
}

// AddDataPointRequest 定义了手动录入财务数据点的请求体结构。
// Confidence 用指针区分「未提供」和显式的 0，未提供时按人工录入记满置信。
type AddDataPointRequest struct {
	DataType   string          `json:"dataType" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Category   string          `json:"category"`
	Date       string          `json:"date"`
	Confidence *float64        `json:"confidence"`
}

// AddDataPoint 处理手动录入财务数据点的请求。
func (h *FinancialHandler) AddDataPoint(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	var req AddDataPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：dataType 和 amount 不能为空"})
		return
	}

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	point := &model.FinancialDataPoint{
		UserID:     user.ID,
		DataType:   model.DataType(req.DataType),
		Amount:     &req.Amount,
		Category:   req.Category,
		Confidence: confidence,
		Date:       time.Now(),
	}
	if req.Date != "" {
		d, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "日期格式必须为 YYYY-MM-DD"})
			return
		}
		point.Date = d
	}

	if err := h.financialService.AddDataPoint(c.Request.Context(), point); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "数据点已保存", "data": point})
}

// ListDataPoints 分页返回当前用户的财务数据点。
func (h *FinancialHandler) ListDataPoints(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	points, total, err := h.financialService.ListDataPoints(c.Request.Context(), user.ID, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"dataPoints": points,
			"total":      total,
			"page":       page,
			"size":       size,
		},
	})
}
