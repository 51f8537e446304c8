// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/pkg/log"
)

// ErrTransient 标记可重试的依赖故障（超时或 5xx），调用方可带退避重试。
var ErrTransient = errors.New("embedding service transient failure")

// BatchResult 是批量向量化中单条文本的结果，成功与失败逐条上报。
type BatchResult struct {
	Index  int
	Vector []float32
	Err    error
}

// Client defines the interface for an embedding client.
type Client interface {
	// EmbedText 将单条文本向量化（查询路径）。
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 将一组文本分批向量化，返回与输入等长、按输入顺序排列的逐条结果。
	// 单个子批的失败不会中止整个批次，失败以 BatchResult.Err 的形式上报。
	EmbedBatch(ctx context.Context, texts []string) []BatchResult
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedText calls the OpenAI-compatible API to get the vector for a given text.
func (c *openAICompatibleClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.callWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, errors.New("received empty embedding from api")
	}
	return vectors[0], nil
}

// EmbedBatch 以有界子批调用 Embedding API。
// 服务可能拒绝过大的单次负载，批大小由配置约束；子批之间互不影响。
func (c *openAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) []BatchResult {
	results := make([]BatchResult, len(texts))
	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		sub := texts[start:end]

		vectors, err := c.callWithRetry(ctx, sub)
		if err != nil {
			log.Errorf("[EmbeddingClient] 子批 [%d,%d) 向量化失败: %v", start, end, err)
			for i := start; i < end; i++ {
				results[i] = BatchResult{Index: i, Err: err}
			}
			continue
		}
		for i := start; i < end; i++ {
			vec := vectors[i-start]
			if len(vec) == 0 {
				results[i] = BatchResult{Index: i, Err: errors.New("received empty embedding from api")}
				continue
			}
			results[i] = BatchResult{Index: i, Vector: vec}
		}
	}
	return results
}

// callWithRetry 执行一次 API 调用，对瞬时故障做有限次退避重试。
func (c *openAICompatibleClient) callWithRetry(ctx context.Context, input []string) ([][]float32, error) {
	maxRetries := c.cfg.MaxRetries
	backoff := 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, err := c.call(ctx, input)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransient) {
			return nil, err
		}
		log.Warnf("[EmbeddingClient] 瞬时故障，第 %d 次尝试失败: %v", attempt+1, err)
	}
	return nil, lastErr
}

func (c *openAICompatibleClient) call(ctx context.Context, input []string) ([][]float32, error) {
	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      input,
		Dimensions: c.cfg.Dimensions,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// 网络错误与超时按瞬时故障处理
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %s", ErrTransient, resp.Status)
		}
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(embeddingResp.Data) != len(input) {
		return nil, fmt.Errorf("embedding api returned %d vectors for %d inputs", len(embeddingResp.Data), len(input))
	}

	// API 不保证 data 的顺序，按 index 字段归位
	vectors := make([][]float32, len(input))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(input) {
			return nil, fmt.Errorf("embedding api returned out-of-range index %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}
