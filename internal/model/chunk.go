package model

// DocumentChunk 对应于数据库中的 document_chunks 表。
// 一个文档的分块在摄取成功时整体写入，此后不可变，随文档删除级联清理。
type DocumentChunk struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID  uint   `gorm:"not null;index" json:"documentId"`
	ChunkIndex  int    `gorm:"not null" json:"chunkIndex"`
	Content     string `gorm:"type:text;not null" json:"content"`
	StartOffset int    `gorm:"not null" json:"startOffset"`
	EndOffset   int    `gorm:"not null" json:"endOffset"`
	UserID      uint   `gorm:"not null;index" json:"userId"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

// ChunkDocument 定义了存储在 Elasticsearch 中的分块向量文档结构。
type ChunkDocument struct {
	VectorID     string    `json:"vector_id"` // 唯一标识：documentID_chunkIndex
	DocumentID   uint      `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	StartOffset  int       `json:"start_offset"`
	EndOffset    int       `json:"end_offset"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
}

// ChunkMatch 是一次相似度检索命中的分块及其余弦相似度。
type ChunkMatch struct {
	DocumentID  uint    `json:"documentId"`
	Filename    string  `json:"filename,omitempty"`
	ChunkIndex  int     `json:"chunkIndex"`
	Content     string  `json:"content"`
	StartOffset int     `json:"startOffset"`
	EndOffset   int     `json:"endOffset"`
	Similarity  float64 `json:"similarity"`
}
