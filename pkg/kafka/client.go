// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"

	"github.com/prixroxx/RupAI/internal/config"
	"github.com/prixroxx/RupAI/pkg/log"
	"github.com/prixroxx/RupAI/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

var (
	ingestProducer   *kafka.Writer
	analysisProducer *kafka.Writer
)

// InitProducers 初始化 Kafka 生产者（摄取主题与分析触发主题）。
func InitProducers(cfg config.KafkaConfig) {
	ingestProducer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.IngestTopic,
		Balancer: &kafka.LeastBytes{},
	}
	analysisProducer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.AnalysisTopic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceIngestTask 发送一个文档摄取任务到 Kafka。
func ProduceIngestTask(task tasks.IngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	return ingestProducer.WriteMessages(context.Background(),
		kafka.Message{
			Value: taskBytes,
		},
	)
}

// ProduceAnalysisTask 在文档处理完成后发送分析触发消息。
// 触发是尽力而为的：发送失败只记日志，不影响文档的最终状态。
func ProduceAnalysisTask(task tasks.AnalysisTask) {
	if analysisProducer == nil {
		return
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		log.Errorf("无法序列化分析触发消息: DocumentID=%d, Error: %v", task.DocumentID, err)
		return
	}

	if err := analysisProducer.WriteMessages(context.Background(),
		kafka.Message{
			Value: taskBytes,
		},
	); err != nil {
		log.Errorf("发送分析触发消息失败: DocumentID=%d, Error: %v", task.DocumentID, err)
	}
}

// StartConsumer 启动一个 Kafka 消费者来处理文档摄取任务。
// 每条消息只处理一次：无论成功失败都提交 offset，失败的结果已经
// 落在文档状态上（failed + 错误元数据），重新处理走显式的 API 重置。
func StartConsumer(cfg config.KafkaConfig, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.IngestTopic,
		GroupID:  "rupai-ingest-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.IngestTopic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break // 退出循环，可能需要重启策略
		}

		log.Infof("收到 Kafka 消息: offset %d", m.Offset)

		var task tasks.IngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理摄取任务: TaskID=%s, DocumentID=%d", task.TaskID, task.DocumentID)
		// 同步处理任务
		if err := processor.Process(context.Background(), task); err != nil {
			log.Errorf("摄取任务处理失败: TaskID=%s, DocumentID=%d, Error: %v", task.TaskID, task.DocumentID, err)
		} else {
			log.Infof("摄取任务处理成功: TaskID=%s, DocumentID=%d", task.TaskID, task.DocumentID)
		}

		// 单次尝试后无条件提交 offset，失败不靠 Kafka 重投
		if err := r.CommitMessages(context.Background(), m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}
