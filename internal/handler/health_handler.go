package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prixroxx/RupAI/pkg/database"
	"github.com/prixroxx/RupAI/pkg/embedding"
	"github.com/prixroxx/RupAI/pkg/es"
	"github.com/prixroxx/RupAI/pkg/storage"

	"github.com/gin-gonic/gin"
)

// HealthHandler 负责健康检查端点。
type HealthHandler struct {
	embeddingClient embedding.Client
	bucketName      string
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(embeddingClient embedding.Client, bucketName string) *HealthHandler {
	return &HealthHandler{embeddingClient: embeddingClient, bucketName: bucketName}
}

// Check 探测各依赖的可达性。任一依赖不可达时整体置为 degraded 并返回 503。
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	mark := func(name string, err error) {
		if err != nil {
			checks[name] = gin.H{"status": "down", "error": err.Error()}
			healthy = false
			return
		}
		checks[name] = gin.H{"status": "up"}
	}

	// MySQL
	sqlDB, err := database.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	mark("mysql", err)

	// Redis
	mark("redis", database.RDB.Ping(ctx).Err())

	// MinIO，以目标桶的存在性探测
	exists, err := storage.MinioClient.BucketExists(ctx, h.bucketName)
	if err == nil && !exists {
		err = fmt.Errorf("bucket %s not found", h.bucketName)
	}
	mark("minio", err)

	// Elasticsearch
	mark("elasticsearch", es.Ping(ctx))

	// Embedding 服务，用一条极短文本探测
	_, err = h.embeddingClient.EmbedText(ctx, "ping")
	mark("embedding", err)

	status := "ok"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
