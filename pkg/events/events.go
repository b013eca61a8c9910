// Package events defines the payloads that are sent to Kafka.
package events

import "time"

// ExchangeCompletedEvent 表示一轮问答已在会话存储中落库。
// 由聊天服务在交换完成后发布，下游消费者据此更新搜索索引。
type ExchangeCompletedEvent struct {
	SessionID    string    `json:"session_id"`
	SessionTitle string    `json:"session_title"`
	UserID       uint      `json:"user_id"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	CompletedAt  time.Time `json:"completed_at"`
}
