package repository

import (
	"github.com/prixroxx/RupAI/internal/model"

	"gorm.io/gorm"
)

// ChunkRepository 接口定义了文档分块的持久化操作。
// 分块的写入是全有或全无的：同一文档的分块在一个事务里先删后插。
type ChunkRepository interface {
	ReplaceForDocument(docID uint, chunks []model.DocumentChunk) error
	FindByDocumentID(docID uint) ([]model.DocumentChunk, error)
	DeleteByDocumentID(docID uint) error
}

// chunkRepository 是 ChunkRepository 接口的 GORM 实现。
type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// ReplaceForDocument 在一个事务内替换某文档的全部分块。
// 事务回滚时不会留下半套分块，重新摄取同一文档也不会产生重复记录。
func (r *chunkRepository) ReplaceForDocument(docID uint, chunks []model.DocumentChunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&model.DocumentChunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Create(&chunks).Error
	})
}

// FindByDocumentID 按分块序号升序返回某文档的全部分块。
func (r *chunkRepository) FindByDocumentID(docID uint) ([]model.DocumentChunk, error) {
	var chunks []model.DocumentChunk
	err := r.db.Where("document_id = ?", docID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

// DeleteByDocumentID 删除某文档的全部分块。
func (r *chunkRepository) DeleteByDocumentID(docID uint) error {
	return r.db.Where("document_id = ?", docID).Delete(&model.DocumentChunk{}).Error
}
