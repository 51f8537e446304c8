package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prixroxx/RupAI/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFinancialRepo struct {
	rows        []model.AggregateRow
	creditScore *decimal.Decimal
	lastUpdated *time.Time
	aggErr      error

	created *model.FinancialDataPoint
	points  []model.FinancialDataPoint
	total   int64
}

func (s *stubFinancialRepo) Create(point *model.FinancialDataPoint) error {
	s.created = point
	return nil
}
func (s *stubFinancialRepo) BatchCreate([]model.FinancialDataPoint) error { return nil }
func (s *stubFinancialRepo) FindByUserID(userID uint, offset, limit int) ([]model.FinancialDataPoint, int64, error) {
	return s.points, s.total, nil
}
func (s *stubFinancialRepo) DeleteByDocumentID(uint) error { return nil }
func (s *stubFinancialRepo) Aggregate(uint) ([]model.AggregateRow, *decimal.Decimal, *time.Time, error) {
	return s.rows, s.creditScore, s.lastUpdated, s.aggErr
}

func TestSummarize_GroupsByTypeAndCategory(t *testing.T) {
	score := decimal.NewFromInt(720)
	updated := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubFinancialRepo{
		rows: []model.AggregateRow{
			{DataType: model.DataTypeIncome, Category: "salary", Total: decimal.NewFromInt(100)},
			{DataType: model.DataTypeIncome, Category: "bonus", Total: decimal.NewFromInt(50)},
			{DataType: model.DataTypeExpense, Category: "rent", Total: decimal.NewFromInt(200)},
			{DataType: model.DataTypeSavings, Category: "", Total: decimal.NewFromInt(30)},
		},
		creditScore: &score,
		lastUpdated: &updated,
	}

	summary, err := NewFinancialService(repo).Summarize(context.Background(), 7)
	require.NoError(t, err)

	assert.True(t, summary.TotalIncome.Equal(decimal.NewFromInt(150)))
	assert.True(t, summary.TotalExpenses.Equal(decimal.NewFromInt(200)))
	assert.True(t, summary.TotalDebt.IsZero())
	assert.True(t, summary.TotalSavings.Equal(decimal.NewFromInt(30)))
	assert.True(t, summary.TotalInvestments.IsZero())

	assert.True(t, summary.Categories[model.DataTypeIncome]["salary"].Equal(decimal.NewFromInt(100)))
	assert.True(t, summary.Categories[model.DataTypeIncome]["bonus"].Equal(decimal.NewFromInt(50)))
	// 未归类记录落在空串分类下
	assert.True(t, summary.Categories[model.DataTypeSavings][""].Equal(decimal.NewFromInt(30)))

	require.NotNil(t, summary.LatestCreditScore)
	assert.True(t, summary.LatestCreditScore.Equal(score))
	require.NotNil(t, summary.LastUpdated)
	assert.True(t, summary.LastUpdated.Equal(updated))
}

func TestSummarize_NoData(t *testing.T) {
	summary, err := NewFinancialService(&stubFinancialRepo{}).Summarize(context.Background(), 7)
	require.NoError(t, err)

	assert.True(t, summary.TotalIncome.IsZero())
	assert.True(t, summary.TotalExpenses.IsZero())
	assert.Empty(t, summary.Categories)
	assert.Nil(t, summary.LatestCreditScore)
	assert.Nil(t, summary.LastUpdated)
}

func TestSummarize_AggregateError(t *testing.T) {
	repo := &stubFinancialRepo{aggErr: errors.New("mysql down")}
	_, err := NewFinancialService(repo).Summarize(context.Background(), 7)
	assert.Error(t, err)
}

func TestAddDataPoint_Validation(t *testing.T) {
	amount := decimal.NewFromInt(10)
	cases := []struct {
		name  string
		point model.FinancialDataPoint
	}{
		{"unknown type", model.FinancialDataPoint{DataType: "lottery", Amount: &amount}},
		{"nil amount", model.FinancialDataPoint{DataType: model.DataTypeIncome}},
		{"confidence above one", model.FinancialDataPoint{DataType: model.DataTypeIncome, Amount: &amount, Confidence: 1.2}},
		{"negative confidence", model.FinancialDataPoint{DataType: model.DataTypeIncome, Amount: &amount, Confidence: -0.1}},
	}
	svc := NewFinancialService(&stubFinancialRepo{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.point
			assert.Error(t, svc.AddDataPoint(context.Background(), &p))
		})
	}
}

func TestAddDataPoint_StripsDocumentAssociation(t *testing.T) {
	repo := &stubFinancialRepo{}
	amount := decimal.NewFromInt(10)
	docID := uint(99)
	point := &model.FinancialDataPoint{
		DataType:   model.DataTypeExpense,
		Amount:     &amount,
		DocumentID: &docID,
		Confidence: 0.8,
	}

	require.NoError(t, NewFinancialService(repo).AddDataPoint(context.Background(), point))
	require.NotNil(t, repo.created)
	// 手动录入不关联文档
	assert.Nil(t, repo.created.DocumentID)
	assert.Equal(t, 0.8, repo.created.Confidence)
}

func TestAddDataPoint_ZeroConfidenceIsPreserved(t *testing.T) {
	repo := &stubFinancialRepo{}
	amount := decimal.NewFromInt(10)
	point := &model.FinancialDataPoint{
		DataType:   model.DataTypeIncome,
		Amount:     &amount,
		Confidence: 0,
	}

	// 0 是合法置信度，不能被改写
	require.NoError(t, NewFinancialService(repo).AddDataPoint(context.Background(), point))
	require.NotNil(t, repo.created)
	assert.Equal(t, 0.0, repo.created.Confidence)
}

func TestListDataPoints_PaginationBounds(t *testing.T) {
	repo := &stubFinancialRepo{points: []model.FinancialDataPoint{{ID: 1}}, total: 1}
	svc := NewFinancialService(repo)

	points, total, err := svc.ListDataPoints(context.Background(), 7, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, points, 1)
}
