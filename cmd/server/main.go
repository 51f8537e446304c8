// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/handler"
	"github.com/prixroxx/RupAI/internal/middleware"
	"github.com/prixroxx/RupAI/internal/pipeline"
	"github.com/prixroxx/RupAI/internal/repository"
	"github.com/prixroxx/RupAI/internal/service"
	"github.com/prixroxx/RupAI/pkg/database"
	"github.com/prixroxx/RupAI/pkg/embedding"
	"github.com/prixroxx/RupAI/pkg/es"
	"github.com/prixroxx/RupAI/pkg/kafka"
	"github.com/prixroxx/RupAI/pkg/llm"
	"github.com/prixroxx/RupAI/pkg/log"
	"github.com/prixroxx/RupAI/pkg/storage"
	"github.com/prixroxx/RupAI/pkg/tika"
	"github.com/prixroxx/RupAI/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与向量索引
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducers(cfg.Kafka)

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	docRepo := repository.NewDocumentRepository(database.DB)
	chunkRepo := repository.NewChunkRepository(database.DB)
	financialRepo := repository.NewFinancialDataRepository(database.DB)
	insightRepo := repository.NewInsightRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	userService := service.NewUserService(userRepo, jwtManager)
	documentService := service.NewDocumentService(docRepo, chunkRepo, financialRepo, cfg.MinIO, cfg.Elasticsearch)
	financialService := service.NewFinancialService(financialRepo)
	insightService := service.NewInsightService(insightRepo)
	retrievalService := service.NewRetrievalService(
		embeddingClient,
		service.NewESChunkSearcher(cfg.Elasticsearch),
		financialService,
		insightService,
		cfg.Retrieval,
	)
	chatService := service.NewChatService(retrievalService, llmClient, conversationRepo)

	// 6. 初始化文档摄取管道 (Processor)
	processor := pipeline.NewProcessor(
		pipeline.NewMinioFetcher(cfg.MinIO),
		pipeline.NewTikaExtractor(tikaClient),
		embeddingClient,
		pipeline.NewESIndexer(cfg.Elasticsearch),
		pipeline.NewExtractor(llmClient),
		docRepo,
		chunkRepo,
		financialRepo,
		cfg.Embedding,
		cfg.Pipeline,
	)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	r.GET("/health", handler.NewHealthHandler(embeddingClient, cfg.MinIO.BucketName).Check)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewAuthHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
			}
		}

		// Document 路由组，需要认证
		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			documents.POST("/upload", handler.NewDocumentHandler(documentService).Upload)
			documents.GET("", handler.NewDocumentHandler(documentService).List)
			documents.GET("/:id/status", handler.NewDocumentHandler(documentService).Status)
			documents.POST("/:id/reprocess", handler.NewDocumentHandler(documentService).Reprocess)
			documents.DELETE("/:id", handler.NewDocumentHandler(documentService).Delete)
			documents.GET("/:id/download", handler.NewDocumentHandler(documentService).Download)
		}

		// Financial 路由组，需要认证
		financial := apiV1.Group("/financial")
		financial.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			financial.GET("/summary", handler.NewFinancialHandler(financialService).Summary)
			financial.POST("/data-points", handler.NewFinancialHandler(financialService).AddDataPoint)
			financial.GET("/data-points", handler.NewFinancialHandler(financialService).ListDataPoints)
		}

		// Insight 路由组，需要认证
		insights := apiV1.Group("/insights")
		insights.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			insightHandler := handler.NewInsightHandler(insightService)
			insights.GET("", insightHandler.ListActive)
			// 分析服务回写结论的入口
			insights.POST("", insightHandler.Save)
		}

		// Search 路由组，需要认证
		search := apiV1.Group("/search")
		search.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			search.POST("", handler.NewSearchHandler(retrievalService).Search)
		}

		// Chat 路由 (WebSocket)
		chatHandler := handler.NewChatHandler(chatService, jwtManager)
		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
			chatGroup.POST("/reset", middleware.AuthMiddleware(jwtManager, userService), chatHandler.ResetSession)
		}
		r.GET("/chat/:token", chatHandler.Handle)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
