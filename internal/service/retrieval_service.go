// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"sync"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/pkg/embedding"
	"github.com/prixroxx/RupAI/pkg/es"
	"github.com/prixroxx/RupAI/pkg/log"
)

// RetrieveOptions 控制单次检索的召回参数，零值回落到配置默认。
type RetrieveOptions struct {
	MaxResults int
	Threshold  float64
}

// RetrievalService 接口定义了问答上下文的组装操作。
type RetrievalService interface {
	// Retrieve 并发拉取三路数据源（文档分块、财务概要、分析洞察），
	// 组装成一次性的上下文包。任何一路失败都只降级，不让整次检索失败。
	Retrieve(ctx context.Context, query string, userID uint, opts RetrieveOptions) *model.RetrievalContext
}

// ChunkSearcher 是向量检索入口，抽象出来便于替换与测试。
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, queryVector []float32, userID uint, threshold float64, limit int) ([]model.ChunkMatch, error)
}

// FinancialSummarizer 提供用户财务概要。
type FinancialSummarizer interface {
	Summarize(ctx context.Context, userID uint) (*model.FinancialSummary, error)
}

// InsightProvider 提供用户的活跃分析洞察。
type InsightProvider interface {
	ActiveInsights(ctx context.Context, userID uint, limit int) ([]model.AgentInsight, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	searcher        ChunkSearcher
	financial       FinancialSummarizer
	insights        InsightProvider
	retrievalCfg    config.RetrievalConfig
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(
	embeddingClient embedding.Client,
	searcher ChunkSearcher,
	financial FinancialSummarizer,
	insights InsightProvider,
	retrievalCfg config.RetrievalConfig,
) RetrievalService {
	return &retrievalService{
		embeddingClient: embeddingClient,
		searcher:        searcher,
		financial:       financial,
		insights:        insights,
		retrievalCfg:    retrievalCfg,
	}
}

// Retrieve 组装一次查询的完整上下文。
func (s *retrievalService) Retrieve(ctx context.Context, query string, userID uint, opts RetrieveOptions) *model.RetrievalContext {
	log.Infof("[RetrievalService] 开始组装检索上下文, query: '%s', userID: %d", query, userID)

	limit := opts.MaxResults
	if limit <= 0 {
		limit = s.retrievalCfg.MaxResults
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = s.retrievalCfg.SimilarityThreshold
	}

	rc := &model.RetrievalContext{
		Query:    query,
		Chunks:   []model.ChunkMatch{},
		Insights: []model.AgentInsight{},
		Report: model.SourceReport{
			Chunks:   model.SourceOK,
			Summary:  model.SourceOK,
			Insights: model.SourceOK,
			Reasons:  map[string]string{},
		},
	}
	var mu sync.Mutex
	markDown := func(source string, status *model.SourceStatus, err error) {
		mu.Lock()
		defer mu.Unlock()
		*status = model.SourceUnavailable
		rc.Report.Reasons[source] = err.Error()
	}

	var wg sync.WaitGroup
	wg.Add(3)

	// 数据源一：向量化查询后做租户内相似检索。
	// 向量化失败整路降级，不做无向量的兜底检索。
	go func() {
		defer wg.Done()
		queryVector, err := s.embeddingClient.EmbedText(ctx, query)
		if err != nil {
			log.Errorf("[RetrievalService] 查询向量化失败: %v", err)
			markDown("chunks", &rc.Report.Chunks, err)
			return
		}
		chunks, err := s.searcher.SearchChunks(ctx, queryVector, userID, threshold, limit)
		if err != nil {
			log.Errorf("[RetrievalService] 向量检索失败: %v", err)
			markDown("chunks", &rc.Report.Chunks, err)
			return
		}
		mu.Lock()
		rc.Chunks = chunks
		mu.Unlock()
	}()

	// 数据源二：财务概要。
	go func() {
		defer wg.Done()
		summary, err := s.financial.Summarize(ctx, userID)
		if err != nil {
			log.Errorf("[RetrievalService] 获取财务概要失败: %v", err)
			markDown("summary", &rc.Report.Summary, err)
			return
		}
		mu.Lock()
		rc.Summary = summary
		mu.Unlock()
	}()

	// 数据源三：活跃分析洞察。
	go func() {
		defer wg.Done()
		insights, err := s.insights.ActiveInsights(ctx, userID, s.retrievalCfg.MaxInsights)
		if err != nil {
			log.Errorf("[RetrievalService] 获取分析洞察失败: %v", err)
			markDown("insights", &rc.Report.Insights, err)
			return
		}
		mu.Lock()
		rc.Insights = insights
		mu.Unlock()
	}()

	wg.Wait()

	if len(rc.Report.Reasons) == 0 {
		rc.Report.Reasons = nil
	}
	log.Infof("[RetrievalService] 上下文组装完毕, 分块: %d, 洞察: %d, 降级: %v",
		len(rc.Chunks), len(rc.Insights), rc.Report.Degraded())
	return rc
}

// esChunkSearcher 把全局 ES 客户端适配成 ChunkSearcher。
type esChunkSearcher struct {
	indexName string
}

// NewESChunkSearcher 创建一个查询指定索引的 ChunkSearcher。
func NewESChunkSearcher(cfg config.ElasticsearchConfig) ChunkSearcher {
	return &esChunkSearcher{indexName: cfg.IndexName}
}

func (s *esChunkSearcher) SearchChunks(ctx context.Context, queryVector []float32, userID uint, threshold float64, limit int) ([]model.ChunkMatch, error) {
	return es.SearchChunks(ctx, s.indexName, queryVector, userID, threshold, limit)
}
