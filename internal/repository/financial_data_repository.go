package repository

import (
	"errors"
	"time"

	"github.com/prixroxx/RupAI/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FinancialDataRepository 接口定义了财务数据点的持久化与聚合操作。
type FinancialDataRepository interface {
	Create(point *model.FinancialDataPoint) error
	BatchCreate(points []model.FinancialDataPoint) error
	FindByUserID(userID uint, offset, limit int) ([]model.FinancialDataPoint, int64, error)
	DeleteByDocumentID(docID uint) error
	// Aggregate 在单个事务内读取用户财务数据的一致快照：
	// 按（类型，类别）分组求和、最新征信分与最近更新时间来自同一快照。
	Aggregate(userID uint) ([]model.AggregateRow, *decimal.Decimal, *time.Time, error)
}

// financialDataRepository 是 FinancialDataRepository 接口的 GORM 实现。
type financialDataRepository struct {
	db *gorm.DB
}

// NewFinancialDataRepository 创建一个新的 FinancialDataRepository 实例。
func NewFinancialDataRepository(db *gorm.DB) FinancialDataRepository {
	return &financialDataRepository{db: db}
}

// Create 创建一条财务数据点记录。
func (r *financialDataRepository) Create(point *model.FinancialDataPoint) error {
	return r.db.Create(point).Error
}

// BatchCreate 批量创建财务数据点记录。
func (r *financialDataRepository) BatchCreate(points []model.FinancialDataPoint) error {
	if len(points) == 0 {
		return nil
	}
	return r.db.Create(&points).Error
}

// FindByUserID 分页检索指定用户的财务数据点，按创建时间倒序。
func (r *financialDataRepository) FindByUserID(userID uint, offset, limit int) ([]model.FinancialDataPoint, int64, error) {
	var points []model.FinancialDataPoint
	var total int64

	db := r.db.Model(&model.FinancialDataPoint{}).Where("user_id = ?", userID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&points).Error
	if err != nil {
		return nil, 0, err
	}
	return points, total, nil
}

// DeleteByDocumentID 删除由某文档抽取出的全部财务数据点。
func (r *financialDataRepository) DeleteByDocumentID(docID uint) error {
	return r.db.Where("document_id = ?", docID).Delete(&model.FinancialDataPoint{}).Error
}

// Aggregate 读取用户财务数据的一致快照。
// 三条查询放在同一个事务中，避免汇总与征信分来自不同时刻的数据。
func (r *financialDataRepository) Aggregate(userID uint) ([]model.AggregateRow, *decimal.Decimal, *time.Time, error) {
	var rows []model.AggregateRow
	var creditScore *decimal.Decimal
	var lastUpdated *time.Time

	err := r.db.Transaction(func(tx *gorm.DB) error {
		// amount 列可空，缺失金额按零计入合计，整组全空时 SUM 不得返回 NULL
		if err := tx.Model(&model.FinancialDataPoint{}).
			Select("data_type, category, SUM(COALESCE(amount, 0)) AS total, MAX(created_at) AS latest").
			Where("user_id = ? AND data_type <> ?", userID, model.DataTypeCreditScore).
			Group("data_type, category").
			Scan(&rows).Error; err != nil {
			return err
		}

		// 征信分不求和，取最近一条
		var latest model.FinancialDataPoint
		err := tx.Where("user_id = ? AND data_type = ?", userID, model.DataTypeCreditScore).
			Order("created_at DESC, id DESC").
			First(&latest).Error
		if err == nil {
			creditScore = latest.Amount
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var maxCreated *time.Time
		if err := tx.Model(&model.FinancialDataPoint{}).
			Select("MAX(created_at)").
			Where("user_id = ?", userID).
			Scan(&maxCreated).Error; err != nil {
			return err
		}
		lastUpdated = maxCreated
		return nil
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return rows, creditScore, lastUpdated, nil
}
