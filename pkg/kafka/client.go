// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"career-chat-go/internal/config"
	"career-chat-go/pkg/database"
	"career-chat-go/pkg/events"
	"career-chat-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// ExchangeProcessor defines the interface for any service that can process a
// completed exchange. This decouples the Kafka consumer from the concrete
// indexer implementation.
type ExchangeProcessor interface {
	Process(ctx context.Context, event events.ExchangeCompletedEvent) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceExchangeEvent 发送一条交换完成事件到 Kafka。
// 以会话 ID 作为 key，保证同一会话的事件落在同一分区、保序消费。
func ProduceExchangeEvent(event events.ExchangeCompletedEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(event.SessionID),
			Value: eventBytes,
		},
	)
}

// StartConsumer 启动一个 Kafka 消费者来处理交换完成事件。
func StartConsumer(cfg config.KafkaConfig, processor ExchangeProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "career-chat-go-consumer",
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break // 退出循环，可能需要重启策略
		}

		var event events.ExchangeCompletedEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		if err := processor.Process(context.Background(), event); err != nil {
			log.Errorf("处理交换事件失败: session=%s, error: %v", event.SessionID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("kafka:attempts:%s:%d", event.SessionID, m.Offset)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr == nil {
				_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			}
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			if attempts >= 3 {
				log.Errorf("交换事件多次失败(>=3)，提交 offset 终止重试: session=%s", event.SessionID)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			// attempts < 3 时，不提交 offset 让 Kafka 自动重试
		} else {
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:attempts:%s:%d", event.SessionID, m.Offset)).Err()
			// 事件处理成功后，手动提交 offset
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Fatalf("关闭 Kafka 消费者失败: %v", err)
	}
}
