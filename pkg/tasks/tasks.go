// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents the data structure for a document ingestion job.
type IngestTask struct {
	TaskID     string `json:"task_id"`
	DocumentID uint   `json:"document_id"`
	UserID     uint   `json:"user_id"`
	ObjectKey  string `json:"object_key"`
	Filename   string `json:"filename"`
}

// AnalysisTask triggers downstream agent analysis for a completed document.
// The result is ignored beyond logging (fire-and-forget).
type AnalysisTask struct {
	DocumentID uint `json:"document_id"`
	UserID     uint `json:"user_id"`
}
