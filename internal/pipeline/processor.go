package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/repository"
	"github.com/prixroxx/RupAI/pkg/database"
	"github.com/prixroxx/RupAI/pkg/embedding"
	"github.com/prixroxx/RupAI/pkg/kafka"
	"github.com/prixroxx/RupAI/pkg/log"
	"github.com/prixroxx/RupAI/pkg/tasks"
)

// ObjectFetcher 从对象存储读取原始文档。
type ObjectFetcher interface {
	Fetch(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

// TextExtractor 把二进制文档解析为纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// VectorIndexer 维护向量索引中某文档的分块集合。
type VectorIndexer interface {
	ReplaceChunks(ctx context.Context, docID uint, docs []model.ChunkDocument) error
}

// Processor 封装了文档摄取的所有依赖和逻辑。
// 状态机是它的骨架：pending -> processing -> completed | failed，
// 推进全部走受保护的条件更新，终态只能通过显式重置离开。
type Processor struct {
	fetcher         ObjectFetcher
	extractor       TextExtractor
	embeddingClient embedding.Client
	indexer         VectorIndexer
	financial       Extractor
	docRepo         repository.DocumentRepository
	chunkRepo       repository.ChunkRepository
	financialRepo   repository.FinancialDataRepository
	embeddingCfg    config.EmbeddingConfig
	pipelineCfg     config.PipelineConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	fetcher ObjectFetcher,
	extractor TextExtractor,
	embeddingClient embedding.Client,
	indexer VectorIndexer,
	financial Extractor,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	financialRepo repository.FinancialDataRepository,
	embeddingCfg config.EmbeddingConfig,
	pipelineCfg config.PipelineConfig,
) *Processor {
	return &Processor{
		fetcher:         fetcher,
		extractor:       extractor,
		embeddingClient: embeddingClient,
		indexer:         indexer,
		financial:       financial,
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		financialRepo:   financialRepo,
		embeddingCfg:    embeddingCfg,
		pipelineCfg:     pipelineCfg,
	}
}

// Process 是文档摄取的主函数。
// 任何步骤失败都把文档推进到 failed 并在元数据中记录原因；
// 唯一的例外是财务抽取：抽取失败只降级为元数据里的告警。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理文档, TaskID: %s, DocumentID: %d, UserID: %d", task.TaskID, task.DocumentID, task.UserID)

	// 0. 领取任务：pending -> processing 的条件推进就是互斥锁，
	// 抢不到说明该文档已被处理过（重复投递或并发消费者），直接放弃。
	if err := p.docRepo.TransitionStatus(task.DocumentID, model.StatusPending, model.StatusProcessing); err != nil {
		if errors.Is(err, model.ErrStateConflict) {
			log.Warnf("[Processor] 文档 %d 不在 pending 状态，跳过本次消息", task.DocumentID)
			return nil
		}
		return fmt.Errorf("推进文档状态失败: %w", err)
	}
	p.acquireLock(ctx, task.DocumentID)
	defer p.releaseLock(ctx, task.DocumentID)

	// 1. 从对象存储下载文件
	log.Infof("[Processor] 步骤1: 下载原始文档, ObjectKey: %s", task.ObjectKey)
	object, err := p.fetcher.Fetch(ctx, task.ObjectKey)
	if err != nil {
		return p.fail(task.DocumentID, fmt.Sprintf("下载文档失败: %v", err))
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return p.fail(task.DocumentID, fmt.Sprintf("读取对象流失败: %v", err))
	}
	if size == 0 {
		return p.fail(task.DocumentID, "文档内容为空")
	}
	log.Infof("[Processor] 步骤1: 下载成功, 文件大小: %d字节", size)

	// 2. 提取文本
	log.Info("[Processor] 步骤2: 提取文本内容")
	textContent, err := p.extractor.ExtractText(ctx, bytes.NewReader(buf.Bytes()), task.Filename)
	if err != nil {
		return p.fail(task.DocumentID, fmt.Sprintf("提取文本失败: %v", err))
	}
	if textContent == "" {
		return p.fail(task.DocumentID, "提取的文本内容为空")
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	// 3. 文本切块
	log.Infof("[Processor] 步骤3: 文本分块, chunkSize: %d, chunkOverlap: %d", p.pipelineCfg.ChunkSize, p.pipelineCfg.ChunkOverlap)
	textChunks, err := SplitText(textContent, p.pipelineCfg.ChunkSize, p.pipelineCfg.ChunkOverlap)
	if err != nil {
		return p.fail(task.DocumentID, fmt.Sprintf("分块参数非法: %v", err))
	}
	if len(textChunks) == 0 {
		return p.fail(task.DocumentID, "未生成任何文本分块")
	}
	log.Infof("[Processor] 步骤3: 分块完成, 共 %d 个分块", len(textChunks))

	// 4. 批量向量化。任何一个分块失败整个文档就算失败，
	// 不保留部分结果，检索结果里不允许出现残缺的文档。
	log.Info("[Processor] 步骤4: 批量向量化")
	texts := make([]string, len(textChunks))
	for i, c := range textChunks {
		texts[i] = c.Text
	}
	results := p.embeddingClient.EmbedBatch(ctx, texts)

	var failedChunks []int
	for _, r := range results {
		if r.Err != nil {
			failedChunks = append(failedChunks, r.Index)
		}
	}
	if len(failedChunks) > 0 {
		log.Errorf("[Processor] 向量化失败的分块: %v", failedChunks)
		return p.failWithMeta(task.DocumentID, model.ProcessingMetadata{
			Error:        fmt.Sprintf("%d/%d 个分块向量化失败", len(failedChunks), len(textChunks)),
			FailedChunks: failedChunks,
			ChunkCount:   len(textChunks),
		})
	}

	// 5. 写入向量索引与数据库。索引先行，数据库分块在一个事务里先删后插，
	// 重新摄取时旧分块被整体替换。
	log.Info("[Processor] 步骤5: 写入向量索引与分块记录")
	esDocs := make([]model.ChunkDocument, len(textChunks))
	dbChunks := make([]model.DocumentChunk, len(textChunks))
	for i, c := range textChunks {
		esDocs[i] = model.ChunkDocument{
			VectorID:     fmt.Sprintf("%d_%d", task.DocumentID, i),
			DocumentID:   task.DocumentID,
			ChunkIndex:   i,
			Content:      c.Text,
			StartOffset:  c.StartOffset,
			EndOffset:    c.EndOffset,
			Vector:       results[i].Vector,
			ModelVersion: p.embeddingCfg.Model,
			UserID:       task.UserID,
		}
		dbChunks[i] = model.DocumentChunk{
			DocumentID:  task.DocumentID,
			ChunkIndex:  i,
			Content:     c.Text,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			UserID:      task.UserID,
		}
	}
	if err := p.indexer.ReplaceChunks(ctx, task.DocumentID, esDocs); err != nil {
		return p.fail(task.DocumentID, fmt.Sprintf("写入向量索引失败: %v", err))
	}
	if err := p.chunkRepo.ReplaceForDocument(task.DocumentID, dbChunks); err != nil {
		return p.fail(task.DocumentID, fmt.Sprintf("保存分块记录失败: %v", err))
	}

	// 6. 财务信息抽取。失败不致命，告警写进元数据。
	log.Info("[Processor] 步骤6: 财务信息抽取")
	points, warning := p.financial.Extract(ctx, textContent)
	if warning == "" && len(points) > 0 {
		for i := range points {
			points[i].UserID = task.UserID
			docID := task.DocumentID
			points[i].DocumentID = &docID
		}
		if err := p.financialRepo.DeleteByDocumentID(task.DocumentID); err != nil {
			log.Warnf("[Processor] 清理旧财务数据点失败: %v", err)
		}
		if err := p.financialRepo.BatchCreate(points); err != nil {
			log.Errorf("[Processor] 保存财务数据点失败: %v", err)
			warning = fmt.Sprintf("extraction persisted nothing: %v", err)
			points = nil
		}
	}
	log.Infof("[Processor] 步骤6: 抽取完成, 数据点: %d, 告警: %q", len(points), warning)

	// 7. 收尾：processing -> completed，并记录处理元数据。
	now := time.Now()
	meta := model.ProcessingMetadata{
		ChunkCount:        len(textChunks),
		ExtractedPoints:   len(points),
		ExtractionWarning: warning,
		CompletedAt:       &now,
	}
	if err := p.docRepo.TransitionStatusWithMetadata(task.DocumentID, model.StatusProcessing, model.StatusCompleted, meta); err != nil {
		return fmt.Errorf("推进文档到 completed 失败: %w", err)
	}

	// 8. 触发下游分析，尽力而为。
	kafka.ProduceAnalysisTask(tasks.AnalysisTask{DocumentID: task.DocumentID, UserID: task.UserID})

	log.Infof("[Processor] 文档处理成功完成, DocumentID: %d", task.DocumentID)
	return nil
}

// fail 把文档推进到 failed 并记录错误原因。
func (p *Processor) fail(docID uint, reason string) error {
	return p.failWithMeta(docID, model.ProcessingMetadata{Error: reason})
}

func (p *Processor) failWithMeta(docID uint, meta model.ProcessingMetadata) error {
	log.Errorf("[Processor] 文档 %d 处理失败: %s", docID, meta.Error)
	if err := p.docRepo.TransitionStatusWithMetadata(docID, model.StatusProcessing, model.StatusFailed, meta); err != nil {
		log.Errorf("[Processor] 推进文档 %d 到 failed 状态失败: %v", docID, err)
	}
	return errors.New(meta.Error)
}

// acquireLock 在 Redis 中放一个短期处理标记，供运维侧观察在途任务。
// 互斥由数据库的条件更新保证，这里只是可见性，Redis 不可用时直接跳过。
func (p *Processor) acquireLock(ctx context.Context, docID uint) {
	if database.RDB == nil {
		return
	}
	key := fmt.Sprintf("ingest:processing:%d", docID)
	if err := database.RDB.Set(ctx, key, time.Now().Unix(), 30*time.Minute).Err(); err != nil {
		log.Warnf("[Processor] 写入处理标记失败: %v", err)
	}
}

func (p *Processor) releaseLock(ctx context.Context, docID uint) {
	if database.RDB == nil {
		return
	}
	key := fmt.Sprintf("ingest:processing:%d", docID)
	if err := database.RDB.Del(ctx, key).Err(); err != nil {
		log.Warnf("[Processor] 删除处理标记失败: %v", err)
	}
}
