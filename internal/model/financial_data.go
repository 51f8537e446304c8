package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DataType 表示一条财务数据点的类别。
type DataType string

const (
	DataTypeIncome      DataType = "income"
	DataTypeExpense     DataType = "expense"
	DataTypeDebt        DataType = "debt"
	DataTypeSavings     DataType = "savings"
	DataTypeInvestment  DataType = "investment"
	DataTypeCreditScore DataType = "credit_score"
)

// Valid 报告数据类型是否为已知类别。
func (t DataType) Valid() bool {
	switch t {
	case DataTypeIncome, DataTypeExpense, DataTypeDebt,
		DataTypeSavings, DataTypeInvestment, DataTypeCreditScore:
		return true
	}
	return false
}

// FinancialDataPoint 对应于数据库中的 financial_data 表。
// 由摄取管道的抽取步骤批量创建，也可由用户手动录入（无文档关联）。
type FinancialDataPoint struct {
	ID         uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint             `gorm:"not null;index" json:"userId"`
	DocumentID *uint            `gorm:"index" json:"documentId,omitempty"`
	DataType   DataType         `gorm:"type:varchar(20);not null;index" json:"dataType"`
	Amount     *decimal.Decimal `gorm:"type:decimal(14,2)" json:"amount,omitempty"`
	Category   string           `gorm:"type:varchar(100)" json:"category,omitempty"`
	Date       time.Time        `gorm:"type:date" json:"date"`
	Confidence float64          `gorm:"not null;default:1" json:"confidence"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"createdAt"`
}

func (FinancialDataPoint) TableName() string {
	return "financial_data"
}

// FinancialSummary 是按用户聚合出的结构化财务概要快照。
type FinancialSummary struct {
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpenses    decimal.Decimal `json:"totalExpenses"`
	TotalDebt        decimal.Decimal `json:"totalDebt"`
	TotalSavings     decimal.Decimal `json:"totalSavings"`
	TotalInvestments decimal.Decimal `json:"totalInvestments"`
	// Categories 按 (数据类型 -> 分类 -> 合计) 给出分类细分，未归类记录落在空串分类下。
	Categories        map[DataType]map[string]decimal.Decimal `json:"categories"`
	LatestCreditScore *decimal.Decimal                        `json:"latestCreditScore,omitempty"`
	LastUpdated       *time.Time                              `json:"lastUpdated,omitempty"`
}

// EmptySummary 返回全零的概要，用于没有任何数据点的用户。
func EmptySummary() *FinancialSummary {
	return &FinancialSummary{
		Categories: make(map[DataType]map[string]decimal.Decimal),
	}
}

// AggregateRow 是分组聚合查询的一行结果：(数据类型, 分类) 上非空金额的合计。
type AggregateRow struct {
	DataType DataType
	Category string
	Total    decimal.Decimal
	Latest   time.Time
}
