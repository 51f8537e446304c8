package service

import (
	"context"
	"errors"

	"github.com/prixroxx/RupAI/internal/model"
	"github.com/prixroxx/RupAI/internal/repository"
)

// InsightService 接口定义了分析洞察的业务操作。
type InsightService interface {
	// ActiveInsights 返回用户当前活跃的洞察，按生成时间倒序。
	ActiveInsights(ctx context.Context, userID uint, limit int) ([]model.AgentInsight, error)
	// SaveInsight 保存一条新洞察，并把同类型的旧洞察置为不活跃。
	SaveInsight(ctx context.Context, insight *model.AgentInsight) error
}

type insightService struct {
	insightRepo repository.InsightRepository
}

// NewInsightService 创建一个新的 InsightService 实例。
func NewInsightService(insightRepo repository.InsightRepository) InsightService {
	return &insightService{insightRepo: insightRepo}
}

// ActiveInsights 返回用户的活跃洞察。
func (s *insightService) ActiveInsights(ctx context.Context, userID uint, limit int) ([]model.AgentInsight, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.insightRepo.FindActiveByUser(userID, limit)
}

// SaveInsight 先停用同类型旧洞察，再写入新洞察。
func (s *insightService) SaveInsight(ctx context.Context, insight *model.AgentInsight) error {
	if insight.AgentType == "" || insight.Title == "" {
		return errors.New("洞察缺少 agentType 或 title")
	}
	if insight.PriorityScore < 1 || insight.PriorityScore > 10 {
		return errors.New("优先级必须在 [1, 10] 区间内")
	}
	if err := s.insightRepo.DeactivateByAgentType(insight.UserID, insight.AgentType); err != nil {
		return err
	}
	insight.IsActive = true
	return s.insightRepo.Create(insight)
}
