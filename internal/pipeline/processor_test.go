package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/pkg/embedding"
	"github.com/prixroxx/RupAI/pkg/tasks"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 测试替身 ---

type fakeDocRepo struct {
	transitions []string
	lastMeta    model.ProcessingMetadata
	claimErr    error
}

func (f *fakeDocRepo) Create(*model.Document) error                  { return nil }
func (f *fakeDocRepo) FindByID(uint) (*model.Document, error)        { return nil, nil }
func (f *fakeDocRepo) FindByIDForUser(uint, uint) (*model.Document, error) {
	return nil, nil
}
func (f *fakeDocRepo) FindByUserID(uint, int, int) ([]model.Document, int64, error) {
	return nil, 0, nil
}
func (f *fakeDocRepo) TransitionStatus(docID uint, from, to model.DocumentStatus) error {
	if f.claimErr != nil {
		return f.claimErr
	}
	f.transitions = append(f.transitions, fmt.Sprintf("%s->%s", from, to))
	return nil
}
func (f *fakeDocRepo) TransitionStatusWithMetadata(docID uint, from, to model.DocumentStatus, meta model.ProcessingMetadata) error {
	f.transitions = append(f.transitions, fmt.Sprintf("%s->%s", from, to))
	f.lastMeta = meta
	return nil
}
func (f *fakeDocRepo) ResetForReprocess(uint, uint) error { return nil }
func (f *fakeDocRepo) Delete(uint, uint) error            { return nil }

type fakeChunkRepo struct {
	replaced []model.DocumentChunk
	calls    int
	err      error
}

func (f *fakeChunkRepo) ReplaceForDocument(docID uint, chunks []model.DocumentChunk) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.replaced = chunks
	return nil
}
func (f *fakeChunkRepo) FindByDocumentID(uint) ([]model.DocumentChunk, error) { return nil, nil }
func (f *fakeChunkRepo) DeleteByDocumentID(uint) error                        { return nil }

type fakeFinancialRepo struct {
	created   []model.FinancialDataPoint
	deleted   []uint
	createErr error
}

func (f *fakeFinancialRepo) Create(*model.FinancialDataPoint) error { return nil }
func (f *fakeFinancialRepo) BatchCreate(points []model.FinancialDataPoint) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, points...)
	return nil
}
func (f *fakeFinancialRepo) FindByUserID(uint, int, int) ([]model.FinancialDataPoint, int64, error) {
	return nil, 0, nil
}
func (f *fakeFinancialRepo) DeleteByDocumentID(docID uint) error {
	f.deleted = append(f.deleted, docID)
	return nil
}
func (f *fakeFinancialRepo) Aggregate(uint) ([]model.AggregateRow, *decimal.Decimal, *time.Time, error) {
	return nil, nil, nil, nil
}

type fakeFetcher struct {
	content string
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.content)), nil
}

type fakeTextExtractor struct {
	text string
	err  error
}

func (f *fakeTextExtractor) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	return f.text, f.err
}

type fakeEmbedder struct {
	failIndexes map[int]bool
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) []embedding.BatchResult {
	results := make([]embedding.BatchResult, len(texts))
	for i := range texts {
		results[i] = embedding.BatchResult{Index: i, Vector: []float32{float32(i), 1}}
		if f.failIndexes[i] {
			results[i].Vector = nil
			results[i].Err = errors.New("embed failed")
		}
	}
	return results
}

type fakeIndexer struct {
	docs  []model.ChunkDocument
	calls int
	err   error
}

func (f *fakeIndexer) ReplaceChunks(ctx context.Context, docID uint, docs []model.ChunkDocument) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.docs = docs
	return nil
}

type fakeFinancialExtractor struct {
	points  []model.FinancialDataPoint
	warning string
}

func (f *fakeFinancialExtractor) Extract(ctx context.Context, text string) ([]model.FinancialDataPoint, string) {
	return f.points, f.warning
}

type processorFixture struct {
	docRepo       *fakeDocRepo
	chunkRepo     *fakeChunkRepo
	financialRepo *fakeFinancialRepo
	fetcher       *fakeFetcher
	textExtractor *fakeTextExtractor
	embedder      *fakeEmbedder
	indexer       *fakeIndexer
	financial     *fakeFinancialExtractor
	processor     *Processor
}

func newFixture() *processorFixture {
	f := &processorFixture{
		docRepo:       &fakeDocRepo{},
		chunkRepo:     &fakeChunkRepo{},
		financialRepo: &fakeFinancialRepo{},
		fetcher:       &fakeFetcher{content: "raw-bytes"},
		textExtractor: &fakeTextExtractor{text: strings.Repeat("财务报表内容 ", 100)},
		embedder:      &fakeEmbedder{},
		indexer:       &fakeIndexer{},
		financial:     &fakeFinancialExtractor{},
	}
	f.processor = NewProcessor(
		f.fetcher, f.textExtractor, f.embedder, f.indexer, f.financial,
		f.docRepo, f.chunkRepo, f.financialRepo,
		config.EmbeddingConfig{Model: "test-embed"},
		config.PipelineConfig{ChunkSize: 100, ChunkOverlap: 20},
	)
	return f
}

func testTask() tasks.IngestTask {
	return tasks.IngestTask{TaskID: "t-1", DocumentID: 42, UserID: 7, ObjectKey: "documents/7/a.pdf", Filename: "a.pdf"}
}

// --- 用例 ---

func TestProcess_Success(t *testing.T) {
	f := newFixture()
	amount := decimal.NewFromInt(5000)
	f.financial.points = []model.FinancialDataPoint{
		{DataType: model.DataTypeIncome, Category: "salary", Amount: &amount, Confidence: 0.9, Date: time.Now()},
	}

	err := f.processor.Process(context.Background(), testTask())
	require.NoError(t, err)

	// 状态推进：pending->processing，processing->completed
	require.Len(t, f.docRepo.transitions, 2)
	assert.Equal(t, "pending->processing", f.docRepo.transitions[0])
	assert.Equal(t, "processing->completed", f.docRepo.transitions[1])

	// 索引和数据库分块一致，VectorID 形如 docID_index
	require.NotEmpty(t, f.indexer.docs)
	assert.Equal(t, len(f.indexer.docs), len(f.chunkRepo.replaced))
	assert.Equal(t, "42_0", f.indexer.docs[0].VectorID)
	assert.Equal(t, uint(7), f.indexer.docs[0].UserID)
	assert.Equal(t, "test-embed", f.indexer.docs[0].ModelVersion)

	// 财务数据点带上了用户和文档归属
	require.Len(t, f.financialRepo.created, 1)
	assert.Equal(t, uint(7), f.financialRepo.created[0].UserID)
	require.NotNil(t, f.financialRepo.created[0].DocumentID)
	assert.Equal(t, uint(42), *f.financialRepo.created[0].DocumentID)
	assert.Equal(t, []uint{42}, f.financialRepo.deleted)

	meta := f.docRepo.lastMeta
	assert.Equal(t, len(f.indexer.docs), meta.ChunkCount)
	assert.Equal(t, 1, meta.ExtractedPoints)
	assert.Empty(t, meta.ExtractionWarning)
	assert.NotNil(t, meta.CompletedAt)
}

func TestProcess_ClaimConflictSkips(t *testing.T) {
	f := newFixture()
	f.docRepo.claimErr = model.ErrStateConflict

	// 领取失败意味着消息重复投递，消费者应原样提交而不重试
	err := f.processor.Process(context.Background(), testTask())
	require.NoError(t, err)
	assert.Zero(t, f.fetcher.calls)
	assert.Zero(t, f.indexer.calls)
}

func TestProcess_FetchFailure(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("minio unreachable")

	err := f.processor.Process(context.Background(), testTask())
	require.Error(t, err)
	assert.Equal(t, "processing->failed", f.docRepo.transitions[len(f.docRepo.transitions)-1])
	assert.Contains(t, f.docRepo.lastMeta.Error, "下载文档失败")
}

func TestProcess_EmptyDocument(t *testing.T) {
	f := newFixture()
	f.fetcher.content = ""

	err := f.processor.Process(context.Background(), testTask())
	require.Error(t, err)
	assert.Contains(t, f.docRepo.lastMeta.Error, "文档内容为空")
}

func TestProcess_EmptyExtractedText(t *testing.T) {
	f := newFixture()
	f.textExtractor.text = ""

	err := f.processor.Process(context.Background(), testTask())
	require.Error(t, err)
	assert.Contains(t, f.docRepo.lastMeta.Error, "提取的文本内容为空")
}

func TestProcess_PartialEmbedFailureIsAllOrNothing(t *testing.T) {
	f := newFixture()
	f.embedder.failIndexes = map[int]bool{1: true, 3: true}

	err := f.processor.Process(context.Background(), testTask())
	require.Error(t, err)

	// 任一分块失败就整体失败，索引和数据库都不写
	assert.Zero(t, f.indexer.calls)
	assert.Zero(t, f.chunkRepo.calls)

	meta := f.docRepo.lastMeta
	assert.Equal(t, []int{1, 3}, meta.FailedChunks)
	assert.Contains(t, meta.Error, "2/")
	assert.Contains(t, meta.Error, "个分块向量化失败")
	assert.Positive(t, meta.ChunkCount)
}

func TestProcess_IndexFailure(t *testing.T) {
	f := newFixture()
	f.indexer.err = errors.New("es down")

	err := f.processor.Process(context.Background(), testTask())
	require.Error(t, err)
	assert.Zero(t, f.chunkRepo.calls)
	assert.Contains(t, f.docRepo.lastMeta.Error, "写入向量索引失败")
}

func TestProcess_ExtractionWarningDoesNotFail(t *testing.T) {
	f := newFixture()
	f.financial.warning = "extraction skipped: llm call failed"

	err := f.processor.Process(context.Background(), testTask())
	require.NoError(t, err)

	assert.Equal(t, "processing->completed", f.docRepo.transitions[len(f.docRepo.transitions)-1])
	assert.Equal(t, 0, f.docRepo.lastMeta.ExtractedPoints)
	assert.Equal(t, "extraction skipped: llm call failed", f.docRepo.lastMeta.ExtractionWarning)
	assert.Empty(t, f.financialRepo.created)
}

func TestProcess_FinancialPersistFailureDowngradesToWarning(t *testing.T) {
	f := newFixture()
	amount := decimal.NewFromInt(100)
	f.financial.points = []model.FinancialDataPoint{
		{DataType: model.DataTypeExpense, Category: "rent", Amount: &amount, Confidence: 1, Date: time.Now()},
	}
	f.financialRepo.createErr = errors.New("mysql down")

	err := f.processor.Process(context.Background(), testTask())
	require.NoError(t, err)

	// 持久化失败降级为告警，数据点计数清零
	assert.Equal(t, "processing->completed", f.docRepo.transitions[len(f.docRepo.transitions)-1])
	assert.Equal(t, 0, f.docRepo.lastMeta.ExtractedPoints)
	assert.Contains(t, f.docRepo.lastMeta.ExtractionWarning, "extraction persisted nothing")
}
