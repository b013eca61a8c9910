// Package indexer 将完成的问答写入 Elasticsearch 索引，
// 由 Kafka 消费者驱动，为会话搜索提供全文数据。
package indexer

import (
	"context"

	"career-chat-go/pkg/events"
	"career-chat-go/pkg/log"
	"career-chat-go/pkg/search"
)

// Indexer 实现 kafka.ExchangeProcessor。
type Indexer struct{}

// NewIndexer 创建一个新的 Indexer。
func NewIndexer() *Indexer {
	return &Indexer{}
}

// Process 将一条交换事件写入搜索索引。
func (i *Indexer) Process(ctx context.Context, event events.ExchangeCompletedEvent) error {
	if err := search.IndexExchange(ctx, event); err != nil {
		return err
	}
	log.Infof("已索引交换事件: session=%s", event.SessionID)
	return nil
}
