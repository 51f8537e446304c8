package service

import (
	"context"
	"errors"
	"testing"

	"github.com/prixroxx/RupAI/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInsightRepo struct {
	calls         []string
	created       *model.AgentInsight
	deactivateErr error
	active        []model.AgentInsight
	gotLimit      int
}

func (s *stubInsightRepo) Create(insight *model.AgentInsight) error {
	s.calls = append(s.calls, "create")
	s.created = insight
	return nil
}

func (s *stubInsightRepo) FindActiveByUser(userID uint, limit int) ([]model.AgentInsight, error) {
	s.gotLimit = limit
	return s.active, nil
}

func (s *stubInsightRepo) DeactivateByAgentType(userID uint, agentType string) error {
	s.calls = append(s.calls, "deactivate:"+agentType)
	return s.deactivateErr
}

func TestSaveInsight_DeactivatesOldBeforeInsert(t *testing.T) {
	repo := &stubInsightRepo{}
	svc := NewInsightService(repo)

	insight := &model.AgentInsight{
		UserID:        7,
		AgentType:     "spending_analyzer",
		Title:         "本月餐饮支出上升",
		PriorityScore: 6,
	}
	require.NoError(t, svc.SaveInsight(context.Background(), insight))

	// 先停用同类型旧洞察，再写入新洞察
	assert.Equal(t, []string{"deactivate:spending_analyzer", "create"}, repo.calls)
	require.NotNil(t, repo.created)
	assert.True(t, repo.created.IsActive)
}

func TestSaveInsight_Validation(t *testing.T) {
	svc := NewInsightService(&stubInsightRepo{})
	cases := []struct {
		name    string
		insight model.AgentInsight
	}{
		{"missing agent type", model.AgentInsight{Title: "t", PriorityScore: 5}},
		{"missing title", model.AgentInsight{AgentType: "a", PriorityScore: 5}},
		{"priority too low", model.AgentInsight{AgentType: "a", Title: "t", PriorityScore: 0}},
		{"priority too high", model.AgentInsight{AgentType: "a", Title: "t", PriorityScore: 11}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ins := tc.insight
			assert.Error(t, svc.SaveInsight(context.Background(), &ins))
		})
	}
}

func TestSaveInsight_DeactivateFailureAbortsInsert(t *testing.T) {
	repo := &stubInsightRepo{deactivateErr: errors.New("mysql down")}
	svc := NewInsightService(repo)

	err := svc.SaveInsight(context.Background(), &model.AgentInsight{
		AgentType: "a", Title: "t", PriorityScore: 5,
	})
	require.Error(t, err)
	assert.NotContains(t, repo.calls, "create")
}

func TestActiveInsights_DefaultLimit(t *testing.T) {
	repo := &stubInsightRepo{active: []model.AgentInsight{{ID: 1}}}
	svc := NewInsightService(repo)

	insights, err := svc.ActiveInsights(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Len(t, insights, 1)
	assert.Equal(t, 10, repo.gotLimit)
}
