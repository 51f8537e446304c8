// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DocumentStatus 表示文档摄取状态机中的一个状态。
type DocumentStatus string

// 文档状态只能沿 pending → processing → {completed, failed} 单向推进。
const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// CanTransition 判断状态机是否允许从 from 推进到 to。
// completed/failed 是终态，只有显式的重新处理（重置为 pending）可以离开终态，
// 该重置不走此函数，而是仓储层的显式 Reset 操作。
func (from DocumentStatus) CanTransition(to DocumentStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Valid 报告状态值是否为已知状态。
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ProcessingMetadata 记录摄取过程的可观测信息，字段集合是封闭的。
type ProcessingMetadata struct {
	Error             string     `json:"error,omitempty"`
	FailedChunks      []int      `json:"failed_chunks,omitempty"`
	ChunkCount        int        `json:"chunk_count,omitempty"`
	ExtractedPoints   int        `json:"extracted_points,omitempty"`
	ExtractionWarning string     `json:"extraction_warning,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// Value 实现 driver.Valuer，将元数据序列化为 JSON 存入数据库。
func (m ProcessingMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan 实现 sql.Scanner，从数据库 JSON 列还原元数据。
func (m *ProcessingMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = ProcessingMetadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*m = ProcessingMetadata{}
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			*m = ProcessingMetadata{}
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("无法将 %T 解析为 ProcessingMetadata", value)
	}
}

// ErrStateConflict 表示状态转移被状态机规则拒绝（例如终态文档再次推进）。
var ErrStateConflict = errors.New("文档状态转移冲突")

// Document 对应于数据库中的 documents 表。
// 记录用户上传的财务文档及其摄取状态，归属用户独占。
type Document struct {
	ID        uint               `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint               `gorm:"not null;index" json:"userId"`
	Filename  string             `gorm:"type:varchar(255);not null" json:"filename"`
	MimeType  string             `gorm:"type:varchar(100)" json:"mimeType"`
	FileSize  int64              `gorm:"not null" json:"fileSize"`
	ObjectKey string             `gorm:"type:varchar(255);not null" json:"-"`
	Status    DocumentStatus     `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Metadata  ProcessingMetadata `gorm:"type:json" json:"metadata"`
	CreatedAt time.Time          `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time          `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
