package repository

import (
	"regexp"
	"testing"
	"time"

	"github.com/prixroxx/RupAI/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db, mock
}

// 分组求和必须对可空的 amount 列做 COALESCE，
// 一组内金额全为 NULL 时合计按零返回而不是让扫描失败。
func TestAggregate_NullAmountsSumToZero(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFinancialDataRepository(db)

	now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SUM(COALESCE(amount, 0)) AS total")).
		WithArgs(7, string(model.DataTypeCreditScore)).
		WillReturnRows(sqlmock.NewRows([]string{"data_type", "category", "total", "latest"}).
			AddRow("income", "salary", "150.00", now).
			AddRow("debt", "loan", "0", now))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "data_type", "amount"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(created_at)")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"MAX(created_at)"}).AddRow(now))
	mock.ExpectCommit()

	rows, creditScore, lastUpdated, err := repo.Aggregate(7)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, rows, 2)
	assert.Equal(t, model.DataTypeIncome, rows[0].DataType)
	assert.Equal(t, "150", rows[0].Total.String())
	// 金额全空的分组合计为零
	assert.Equal(t, model.DataTypeDebt, rows[1].DataType)
	assert.True(t, rows[1].Total.IsZero())

	assert.Nil(t, creditScore)
	require.NotNil(t, lastUpdated)
	assert.True(t, lastUpdated.Equal(now))
}

func TestAggregate_CreditScoreFromLatestRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFinancialDataRepository(db)

	now := time.Date(2025, 7, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SUM(COALESCE(amount, 0)) AS total")).
		WithArgs(7, string(model.DataTypeCreditScore)).
		WillReturnRows(sqlmock.NewRows([]string{"data_type", "category", "total", "latest"}))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "data_type", "amount", "confidence"}).
			AddRow(3, 7, string(model.DataTypeCreditScore), "720", 1.0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT MAX(created_at)")).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"MAX(created_at)"}).AddRow(now))
	mock.ExpectCommit()

	rows, creditScore, _, err := repo.Aggregate(7)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Empty(t, rows)
	require.NotNil(t, creditScore)
	assert.Equal(t, "720", creditScore.String())
}
