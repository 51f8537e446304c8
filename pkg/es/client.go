// Package es 提供了与 Elasticsearch 交互的客户端功能，承担分块向量的存储与相似度检索。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/pkg/log"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端并确保分块索引存在。
// dims 为向量维度，必须与 Embedding 服务的输出一致。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// Ping 检查 Elasticsearch 是否可达，用于健康检查。
func Ping(ctx context.Context) error {
	res, err := ESClient.Ping(ESClient.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned %s", res.Status())
	}
	return nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它。
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 向量维度来自配置，相似度固定为 cosine
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "long" },
				"chunk_index": { "type": "integer" },
				"content": { "type": "text" },
				"start_offset": { "type": "integer" },
				"end_offset": { "type": "integer" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"user_id": { "type": "long" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// BulkIndexChunks 将一个文档的整组分块向量通过单次 _bulk 请求写入索引。
// 整组写入要么全部成功要么报错返回，避免分块集合的部分可见。
func BulkIndexChunks(ctx context.Context, indexName string, docs []model.ChunkDocument) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]map[string]string{
			"index": {"_index": indexName, "_id": doc.VectorID},
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	req := esapi.BulkRequest{
		Body:    bytes.NewReader(buf.Bytes()),
		Refresh: "true",
	}
	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("批量索引分块到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index chunks")
	}

	// _bulk 整体 200 时仍可能有单条失败，必须逐条检查
	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 _bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		return errors.New("部分分块索引失败")
	}
	return nil
}

// DeleteByDocumentID 删除某个文档的全部分块向量（文档删除/重新摄取时调用）。
func DeleteByDocumentID(ctx context.Context, indexName string, documentID uint) error {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":%d}}}`, documentID)
	res, err := ESClient.DeleteByQuery(
		[]string{indexName},
		strings.NewReader(query),
		ESClient.DeleteByQuery.WithContext(ctx),
		ESClient.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("按文档删除分块向量失败: %s", res.String())
	}
	return nil
}

// searchHit 是检索响应中单条命中的解码结构。
type searchHit struct {
	Score  float64             `json:"_score"`
	Source model.ChunkDocument `json:"_source"`
}

// SearchChunks 在指定用户的分块中按余弦相似度检索。
// 租户过滤写在 kNN 查询内部（term user_id），不依赖调用方的事后过滤。
func SearchChunks(ctx context.Context, indexName string, queryVector []float32, userID uint, threshold float64, limit int) ([]model.ChunkMatch, error) {
	if limit <= 0 {
		return []model.ChunkMatch{}, nil
	}

	// 召回多于 limit 的候选，严格阈值过滤在解析阶段完成
	candidates := limit * 4
	if candidates < 20 {
		candidates = 20
	}

	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              candidates,
			"num_candidates": candidates * 5,
			"filter": map[string]interface{}{
				"term": map[string]interface{}{"user_id": userID},
			},
		},
		"size": candidates,
		"_source": map[string]interface{}{
			"excludes": []string{"vector"},
		},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("Elasticsearch 返回错误, status: %s", res.Status())
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []searchHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	return rankHits(esResponse.Hits.Hits, threshold, limit), nil
}

// rankHits 将 ES 命中转换为严格大于阈值、按相似度降序的分块匹配。
// ES 对 cosine 相似度的打分为 (1+cos)/2，这里还原为余弦相似度本身。
// 相似度相等时按 (document_id, chunk_index) 升序稳定排序，保证结果可复现。
func rankHits(hits []searchHit, threshold float64, limit int) []model.ChunkMatch {
	matches := make([]model.ChunkMatch, 0, len(hits))
	for _, hit := range hits {
		similarity := 2*hit.Score - 1
		if similarity <= threshold {
			continue
		}
		matches = append(matches, model.ChunkMatch{
			DocumentID:  hit.Source.DocumentID,
			ChunkIndex:  hit.Source.ChunkIndex,
			Content:     hit.Source.Content,
			StartOffset: hit.Source.StartOffset,
			EndOffset:   hit.Source.EndOffset,
			Similarity:  similarity,
		})
	}

	// 全序比较器（平局由创建顺序决定），排序结果对同一数据快照可复现
	sort.Slice(matches, func(i, j int) bool {
		return less(matches[i], matches[j])
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func less(a, b model.ChunkMatch) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.ChunkIndex < b.ChunkIndex
}
