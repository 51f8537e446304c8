package repository

import (
	"github.com/prixroxx/RupAI/internal/model"

	"gorm.io/gorm"
)

// InsightRepository 接口定义了分析洞察的持久化操作。
type InsightRepository interface {
	Create(insight *model.AgentInsight) error
	FindActiveByUser(userID uint, limit int) ([]model.AgentInsight, error)
	// DeactivateByAgentType 将某用户某分析类型的历史洞察置为不活跃，
	// 新一轮分析结果写入前调用，保证活跃洞察始终是最新一批。
	DeactivateByAgentType(userID uint, agentType string) error
}

// insightRepository 是 InsightRepository 接口的 GORM 实现。
type insightRepository struct {
	db *gorm.DB
}

// NewInsightRepository 创建一个新的 InsightRepository 实例。
func NewInsightRepository(db *gorm.DB) InsightRepository {
	return &insightRepository{db: db}
}

// Create 创建一条洞察记录。
func (r *insightRepository) Create(insight *model.AgentInsight) error {
	return r.db.Create(insight).Error
}

// FindActiveByUser 返回某用户的活跃洞察，按创建时间倒序，最多 limit 条。
func (r *insightRepository) FindActiveByUser(userID uint, limit int) ([]model.AgentInsight, error) {
	var insights []model.AgentInsight
	err := r.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Limit(limit).
		Find(&insights).Error
	return insights, err
}

// DeactivateByAgentType 停用某用户某分析类型的全部活跃洞察。
func (r *insightRepository) DeactivateByAgentType(userID uint, agentType string) error {
	return r.db.Model(&model.AgentInsight{}).
		Where("user_id = ? AND agent_type = ? AND is_active = ?", userID, agentType, true).
		Update("is_active", false).Error
}
