package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return s.vector, s.err
}
func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) []embedding.BatchResult {
	return nil
}

type stubSearcher struct {
	chunks        []model.ChunkMatch
	err           error
	gotThreshold  float64
	gotLimit      int
	gotUserID     uint
	called        bool
}

func (s *stubSearcher) SearchChunks(ctx context.Context, queryVector []float32, userID uint, threshold float64, limit int) ([]model.ChunkMatch, error) {
	s.called = true
	s.gotUserID = userID
	s.gotThreshold = threshold
	s.gotLimit = limit
	return s.chunks, s.err
}

type stubSummarizer struct {
	summary *model.FinancialSummary
	err     error
}

func (s *stubSummarizer) Summarize(ctx context.Context, userID uint) (*model.FinancialSummary, error) {
	return s.summary, s.err
}

type stubInsights struct {
	insights []model.AgentInsight
	err      error
	gotLimit int
}

func (s *stubInsights) ActiveInsights(ctx context.Context, userID uint, limit int) ([]model.AgentInsight, error) {
	s.gotLimit = limit
	return s.insights, s.err
}

func defaultRetrievalCfg() config.RetrievalConfig {
	return config.RetrievalConfig{SimilarityThreshold: 0.7, MaxResults: 5, MaxInsights: 10}
}

func TestRetrieve_AllSourcesOK(t *testing.T) {
	searcher := &stubSearcher{chunks: []model.ChunkMatch{
		{DocumentID: 1, ChunkIndex: 0, Content: "第一季度营收增长", Similarity: 0.92},
	}}
	summarizer := &stubSummarizer{summary: model.EmptySummary()}
	insights := &stubInsights{insights: []model.AgentInsight{{ID: 3, Title: "支出告警"}}}

	svc := NewRetrievalService(&stubEmbedder{vector: []float32{0.1, 0.2}}, searcher, summarizer, insights, defaultRetrievalCfg())
	rc := svc.Retrieve(context.Background(), "营收情况如何", 7, RetrieveOptions{})

	require.NotNil(t, rc)
	assert.Equal(t, "营收情况如何", rc.Query)
	assert.Len(t, rc.Chunks, 1)
	assert.NotNil(t, rc.Summary)
	assert.Len(t, rc.Insights, 1)
	assert.False(t, rc.Report.Degraded())
	assert.Nil(t, rc.Report.Reasons)

	// 零值选项落到配置默认
	assert.Equal(t, uint(7), searcher.gotUserID)
	assert.Equal(t, 0.7, searcher.gotThreshold)
	assert.Equal(t, 5, searcher.gotLimit)
	assert.Equal(t, 10, insights.gotLimit)
}

func TestRetrieve_OptionsOverrideDefaults(t *testing.T) {
	searcher := &stubSearcher{}
	svc := NewRetrievalService(&stubEmbedder{vector: []float32{1}}, searcher, &stubSummarizer{summary: model.EmptySummary()}, &stubInsights{}, defaultRetrievalCfg())

	svc.Retrieve(context.Background(), "q", 1, RetrieveOptions{MaxResults: 3, Threshold: 0.5})
	assert.Equal(t, 0.5, searcher.gotThreshold)
	assert.Equal(t, 3, searcher.gotLimit)
}

func TestRetrieve_EmbedFailureDegradesChunksOnly(t *testing.T) {
	searcher := &stubSearcher{}
	summarizer := &stubSummarizer{summary: model.EmptySummary()}
	insights := &stubInsights{insights: []model.AgentInsight{{ID: 1}}}

	svc := NewRetrievalService(&stubEmbedder{err: errors.New("embedding api timeout")}, searcher, summarizer, insights, defaultRetrievalCfg())
	rc := svc.Retrieve(context.Background(), "q", 7, RetrieveOptions{})

	// 向量化失败不触发检索，也不影响其余两路
	assert.False(t, searcher.called)
	assert.Equal(t, model.SourceUnavailable, rc.Report.Chunks)
	assert.Equal(t, model.SourceOK, rc.Report.Summary)
	assert.Equal(t, model.SourceOK, rc.Report.Insights)
	assert.Empty(t, rc.Chunks)
	assert.NotNil(t, rc.Summary)
	assert.Len(t, rc.Insights, 1)
	assert.Contains(t, rc.Report.Reasons["chunks"], "embedding api timeout")
	assert.True(t, rc.Report.Degraded())
}

func TestRetrieve_SearchFailureDegradesChunks(t *testing.T) {
	searcher := &stubSearcher{err: errors.New("es unavailable")}
	svc := NewRetrievalService(&stubEmbedder{vector: []float32{1}}, searcher, &stubSummarizer{summary: model.EmptySummary()}, &stubInsights{}, defaultRetrievalCfg())

	rc := svc.Retrieve(context.Background(), "q", 7, RetrieveOptions{})
	assert.Equal(t, model.SourceUnavailable, rc.Report.Chunks)
	assert.Equal(t, "es unavailable", rc.Report.Reasons["chunks"])
}

func TestRetrieve_AllSourcesDownStillReturns(t *testing.T) {
	svc := NewRetrievalService(
		&stubEmbedder{err: errors.New("e1")},
		&stubSearcher{},
		&stubSummarizer{err: errors.New("e2")},
		&stubInsights{err: errors.New("e3")},
		defaultRetrievalCfg(),
	)

	rc := svc.Retrieve(context.Background(), "q", 7, RetrieveOptions{})
	require.NotNil(t, rc)
	assert.Equal(t, model.SourceUnavailable, rc.Report.Chunks)
	assert.Equal(t, model.SourceUnavailable, rc.Report.Summary)
	assert.Equal(t, model.SourceUnavailable, rc.Report.Insights)
	assert.Len(t, rc.Report.Reasons, 3)
	assert.Nil(t, rc.Summary)
	assert.NotNil(t, rc.Chunks)
	assert.NotNil(t, rc.Insights)
}
