package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Recommendation 是洞察中的单条建议。
type Recommendation struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// RecommendationList 以 JSON 列形式存储建议列表。
type RecommendationList []Recommendation

// Value 实现 driver.Valuer。
func (l RecommendationList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]Recommendation{})
	}
	return json.Marshal(l)
}

// Scan 实现 sql.Scanner。
func (l *RecommendationList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*l = nil
			return nil
		}
		return json.Unmarshal(v, l)
	case string:
		if v == "" {
			*l = nil
			return nil
		}
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("无法将 %T 解析为 RecommendationList", value)
	}
}

// AgentInsight 对应于数据库中的 agent_insights 表。
// 由下游分析服务产出，检索编排时作为上下文消费。
type AgentInsight struct {
	ID              uint               `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          uint               `gorm:"not null;index" json:"userId"`
	AgentType       string             `gorm:"type:varchar(50);not null" json:"agentType"`
	InsightType     string             `gorm:"type:varchar(50);not null" json:"insightType"`
	Title           string             `gorm:"type:varchar(255);not null" json:"title"`
	Content         string             `gorm:"type:text" json:"content"`
	Recommendations RecommendationList `gorm:"type:json" json:"recommendations"`
	PriorityScore   int                `gorm:"not null;default:5" json:"priorityScore"` // 1-10
	IsActive        bool               `gorm:"not null;default:true" json:"isActive"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"createdAt"`
}

func (AgentInsight) TableName() string {
	return "agent_insights"
}
