package handler

import (
	"net/http"
	"strconv"

	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/service"
	"github.com/prixroxx/RupAI/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理文档管理相关的 API 请求。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Upload 处理单次文档上传请求（multipart/form-data，字段名 file）。
func (h *DocumentHandler) Upload(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少上传文件"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无法读取上传文件"})
		return
	}
	defer file.Close()

	doc, err := h.documentService.Upload(c.Request.Context(), file, fileHeader, user.ID)
	if err != nil {
		log.Warnf("Upload: Failed for user %d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档已接收，正在后台处理",
		"data": gin.H{
			"documentId": doc.ID,
			"filename":   doc.Filename,
			"status":     doc.Status,
		},
	})
}

// List 分页返回当前用户的文档列表。
func (h *DocumentHandler) List(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	docs, total, err := h.documentService.List(c.Request.Context(), user.ID, page, size)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"documents": docs,
			"total":     total,
			"page":      page,
			"size":      size,
		},
	})
}

// Status 返回文档的处理状态与元数据。
func (h *DocumentHandler) Status(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	docID, ok := pathDocumentID(c)
	if !ok {
		return
	}

	status, err := h.documentService.Status(c.Request.Context(), docID, user.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": status})
}

// Reprocess 重新摄取一份终态文档。
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	docID, ok := pathDocumentID(c)
	if !ok {
		return
	}

	if err := h.documentService.Reprocess(c.Request.Context(), docID, user.ID); err != nil {
		log.Warnf("Reprocess: Failed for document %d, error: %v", docID, err)
		c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文档已重新进入处理队列"})
}

// Delete 级联删除一份文档。
func (h *DocumentHandler) Delete(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	docID, ok := pathDocumentID(c)
	if !ok {
		return
	}

	if err := h.documentService.Delete(c.Request.Context(), docID, user.ID); err != nil {
		log.Warnf("Delete: Failed for document %d, error: %v", docID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文档已删除"})
}

// Download 返回文档的临时下载链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}
	docID, ok := pathDocumentID(c)
	if !ok {
		return
	}

	info, err := h.documentService.GenerateDownloadURL(c.Request.Context(), docID, user.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": info})
}

// currentUser 从上下文中取出 AuthMiddleware 注入的用户，取不到时直接响应 500。
func currentUser(c *gin.Context) *model.User {
	userValue, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil
	}
	user, ok := userValue.(*model.User)
	if !ok || user == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "用户数据类型错误"})
		return nil
	}
	return user
}

// pathDocumentID 解析路径参数中的文档 ID。
func pathDocumentID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的文档 ID"})
		return 0, false
	}
	return uint(id), true
}
