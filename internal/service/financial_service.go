package service

import (
	"context"
	"errors"

	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/repository"
	"github.com/prixroxx/RupAI/pkg/log"

	"github.com/shopspring/decimal"
)

// FinancialService 接口定义了财务数据的业务操作。
type FinancialService interface {
	// Summarize 把用户的财务数据点聚合成一份概要快照。
	Summarize(ctx context.Context, userID uint) (*model.FinancialSummary, error)
	// AddDataPoint 手动录入一条财务数据点（无文档关联）。
	AddDataPoint(ctx context.Context, point *model.FinancialDataPoint) error
	ListDataPoints(ctx context.Context, userID uint, page, size int) ([]model.FinancialDataPoint, int64, error)
}

type financialService struct {
	financialRepo repository.FinancialDataRepository
}

// NewFinancialService 创建一个新的 FinancialService 实例。
func NewFinancialService(financialRepo repository.FinancialDataRepository) FinancialService {
	return &financialService{financialRepo: financialRepo}
}

// Summarize 聚合用户财务数据。所有行来自同一数据库快照，
// 总额与分类细分不会因并发写入而互相矛盾。
func (s *financialService) Summarize(ctx context.Context, userID uint) (*model.FinancialSummary, error) {
	rows, creditScore, lastUpdated, err := s.financialRepo.Aggregate(userID)
	if err != nil {
		log.Errorf("[FinancialService] 聚合财务数据失败, userID: %d, error: %v", userID, err)
		return nil, err
	}

	summary := model.EmptySummary()
	summary.LatestCreditScore = creditScore
	summary.LastUpdated = lastUpdated

	for _, row := range rows {
		switch row.DataType {
		case model.DataTypeIncome:
			summary.TotalIncome = summary.TotalIncome.Add(row.Total)
		case model.DataTypeExpense:
			summary.TotalExpenses = summary.TotalExpenses.Add(row.Total)
		case model.DataTypeDebt:
			summary.TotalDebt = summary.TotalDebt.Add(row.Total)
		case model.DataTypeSavings:
			summary.TotalSavings = summary.TotalSavings.Add(row.Total)
		case model.DataTypeInvestment:
			summary.TotalInvestments = summary.TotalInvestments.Add(row.Total)
		default:
			continue
		}

		byCategory, ok := summary.Categories[row.DataType]
		if !ok {
			byCategory = make(map[string]decimal.Decimal)
			summary.Categories[row.DataType] = byCategory
		}
		byCategory[row.Category] = byCategory[row.Category].Add(row.Total)
	}
	return summary, nil
}

// AddDataPoint 校验并保存一条手动录入的数据点。
func (s *financialService) AddDataPoint(ctx context.Context, point *model.FinancialDataPoint) error {
	if !point.DataType.Valid() {
		return errors.New("未知的财务数据类型")
	}
	if point.Amount == nil {
		return errors.New("金额不能为空")
	}
	if point.Confidence < 0 || point.Confidence > 1 {
		return errors.New("置信度必须在 [0, 1] 区间内")
	}
	// 手动录入不关联文档
	point.DocumentID = nil
	return s.financialRepo.Create(point)
}

// ListDataPoints 分页返回用户的财务数据点。
func (s *financialService) ListDataPoints(ctx context.Context, userID uint, page, size int) ([]model.FinancialDataPoint, int64, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return s.financialRepo.FindByUserID(userID, (page-1)*size, size)
}
