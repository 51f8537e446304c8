package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prixroxx/RupAI/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFinancialService struct {
	added *model.FinancialDataPoint
}

func (s *stubFinancialService) Summarize(ctx context.Context, userID uint) (*model.FinancialSummary, error) {
	return model.EmptySummary(), nil
}

func (s *stubFinancialService) AddDataPoint(ctx context.Context, point *model.FinancialDataPoint) error {
	s.added = point
	return nil
}

func (s *stubFinancialService) ListDataPoints(ctx context.Context, userID uint, page, size int) ([]model.FinancialDataPoint, int64, error) {
	return nil, 0, nil
}

func postDataPoint(t *testing.T, svc *stubFinancialService, body string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/financial/data-points", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set("user", &model.User{ID: 7})

	NewFinancialHandler(svc).AddDataPoint(c)
	return w
}

func TestAddDataPoint_OmittedConfidenceDefaultsToOne(t *testing.T) {
	svc := &stubFinancialService{}
	w := postDataPoint(t, svc, `{"dataType":"income","amount":"5000","category":"salary"}`)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.added)
	assert.Equal(t, 1.0, svc.added.Confidence)
	assert.Equal(t, uint(7), svc.added.UserID)
}

func TestAddDataPoint_ExplicitZeroConfidenceKept(t *testing.T) {
	svc := &stubFinancialService{}
	w := postDataPoint(t, svc, `{"dataType":"expense","amount":"12.50","confidence":0}`)

	// 显式的 0 与「未提供」不同，必须原样入库
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.added)
	assert.Equal(t, 0.0, svc.added.Confidence)
}

func TestAddDataPoint_InvalidDate(t *testing.T) {
	svc := &stubFinancialService{}
	w := postDataPoint(t, svc, `{"dataType":"income","amount":"1","date":"06/01/2025"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.added)
}
