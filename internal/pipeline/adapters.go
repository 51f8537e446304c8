package pipeline

import (
	"context"
	"io"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/pkg/es"
	"github.com/prixroxx/RupAI/pkg/storage"
	"github.com/prixroxx/RupAI/pkg/tika"

	"github.com/minio/minio-go/v7"
)

// minioFetcher 基于全局 MinIO 客户端实现 ObjectFetcher。
type minioFetcher struct {
	bucket string
}

// NewMinioFetcher 创建一个从指定桶读取对象的 ObjectFetcher。
func NewMinioFetcher(cfg config.MinIOConfig) ObjectFetcher {
	return &minioFetcher{bucket: cfg.BucketName}
}

func (f *minioFetcher) Fetch(ctx context.Context, objectKey string) (io.ReadCloser, error) {
	return storage.MinioClient.GetObject(ctx, f.bucket, objectKey, minio.GetObjectOptions{})
}

// tikaExtractor 基于 Tika 客户端实现 TextExtractor。
type tikaExtractor struct {
	client *tika.Client
}

// NewTikaExtractor 创建一个调用 Tika 服务的 TextExtractor。
func NewTikaExtractor(client *tika.Client) TextExtractor {
	return &tikaExtractor{client: client}
}

func (t *tikaExtractor) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	return t.client.ExtractText(ctx, r, fileName)
}

// esIndexer 基于全局 Elasticsearch 客户端实现 VectorIndexer。
type esIndexer struct {
	indexName string
}

// NewESIndexer 创建一个写入指定索引的 VectorIndexer。
func NewESIndexer(cfg config.ElasticsearchConfig) VectorIndexer {
	return &esIndexer{indexName: cfg.IndexName}
}

// ReplaceChunks 先清掉索引里该文档的旧分块，再批量写入新分块。
func (e *esIndexer) ReplaceChunks(ctx context.Context, docID uint, docs []model.ChunkDocument) error {
	if err := es.DeleteByDocumentID(ctx, e.indexName, docID); err != nil {
		return err
	}
	return es.BulkIndexChunks(ctx, e.indexName, docs)
}
