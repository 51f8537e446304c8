package model

import "time"

// SourceStatus 表示检索上下文中某个数据源的获取结果。
type SourceStatus string

const (
	SourceOK          SourceStatus = "ok"
	SourceUnavailable SourceStatus = "unavailable"
)

// SourceReport 汇报各子数据源的状态；次要数据源失败时请求整体仍然成功。
type SourceReport struct {
	Chunks   SourceStatus `json:"chunks"`
	Summary  SourceStatus `json:"summary"`
	Insights SourceStatus `json:"insights"`
	// Reasons 记录各不可用数据源的原因，便于观测。
	Reasons map[string]string `json:"reasons,omitempty"`
}

// Degraded 报告是否有数据源未能取得。
func (r SourceReport) Degraded() bool {
	return r.Chunks != SourceOK || r.Summary != SourceOK || r.Insights != SourceOK
}

// RetrievalContext 是一次查询组装出的临时上下文包，不做持久化，用后即弃。
type RetrievalContext struct {
	Query    string            `json:"query"`
	Chunks   []ChunkMatch      `json:"chunks"`
	Summary  *FinancialSummary `json:"summary,omitempty"`
	Insights []AgentInsight    `json:"insights"`
	Report   SourceReport      `json:"report"`
}

// ChatMessage 代表存储在 Redis 中的单条对话消息。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
