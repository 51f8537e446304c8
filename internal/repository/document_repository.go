package repository

import (
	"github.com/prixroxx/RupAI/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 接口定义了财务文档记录的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(docID uint) (*model.Document, error)
	FindByIDForUser(docID, userID uint) (*model.Document, error)
	FindByUserID(userID uint, offset, limit int) ([]model.Document, int64, error)
	// TransitionStatus 以条件更新的方式推进文档状态机。
	// 只有当数据库中的当前状态恰好等于 from 时更新才会生效，
	// 否则返回 model.ErrStateConflict，调用方不得覆盖他人的推进结果。
	TransitionStatus(docID uint, from, to model.DocumentStatus) error
	// TransitionStatusWithMetadata 在推进状态的同时写入处理元数据（同一条 UPDATE）。
	TransitionStatusWithMetadata(docID uint, from, to model.DocumentStatus, meta model.ProcessingMetadata) error
	// ResetForReprocess 将终态文档显式重置回 pending，这是重新摄取的唯一入口。
	ResetForReprocess(docID, userID uint) error
	Delete(docID, userID uint) error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 查找文档（不做租户过滤，仅供内部流水线使用）。
func (r *documentRepository) FindByID(docID uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.First(&doc, docID).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByIDForUser 根据 ID 查找属于指定用户的文档。
func (r *documentRepository) FindByIDForUser(docID, userID uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("id = ? AND user_id = ?", docID, userID).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUserID 分页检索指定用户的文档，按创建时间倒序。
func (r *documentRepository) FindByUserID(userID uint, offset, limit int) ([]model.Document, int64, error) {
	var docs []model.Document
	var total int64

	db := r.db.Model(&model.Document{}).Where("user_id = ?", userID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// TransitionStatus 执行受保护的状态推进。
func (r *documentRepository) TransitionStatus(docID uint, from, to model.DocumentStatus) error {
	if !from.CanTransition(to) {
		return model.ErrStateConflict
	}
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", docID, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 数据库中的状态已经不是 from，说明有其他流程抢先推进
		return model.ErrStateConflict
	}
	return nil
}

// TransitionStatusWithMetadata 执行受保护的状态推进并写入元数据。
func (r *documentRepository) TransitionStatusWithMetadata(docID uint, from, to model.DocumentStatus, meta model.ProcessingMetadata) error {
	if !from.CanTransition(to) {
		return model.ErrStateConflict
	}
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", docID, from).
		Updates(map[string]interface{}{
			"status":   to,
			"metadata": meta,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrStateConflict
	}
	return nil
}

// ResetForReprocess 把终态（completed / failed）的文档重置回 pending 并清空元数据。
// 正常状态机不允许离开终态，重置是带租户校验的显式操作。
func (r *documentRepository) ResetForReprocess(docID, userID uint) error {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND user_id = ? AND status IN ?", docID, userID,
			[]model.DocumentStatus{model.StatusCompleted, model.StatusFailed}).
		Updates(map[string]interface{}{
			"status":   model.StatusPending,
			"metadata": model.ProcessingMetadata{},
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return model.ErrStateConflict
	}
	return nil
}

// Delete 删除指定用户的文档记录。
func (r *documentRepository) Delete(docID, userID uint) error {
	return r.db.Where("id = ? AND user_id = ?", docID, userID).
		Delete(&model.Document{}).Error
}
