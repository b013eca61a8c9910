package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"career-chat-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// HistoryRepository 定义了会话上下文的 Redis 缓存操作。
// 缓存保存会话最近的角色消息，作为组装 LLM 上下文时的读穿缓存，
// 避免每轮对话都回表查询消息窗口。
type HistoryRepository interface {
	// Get 返回缓存的上下文窗口；缓存未命中时返回 (nil, false, nil)。
	Get(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error)
	// Set 覆盖写入上下文窗口，超出 maxEntries 时只保留最近的部分。
	Set(ctx context.Context, sessionID string, messages []model.ChatMessage, maxEntries int) error
	// Append 在已有窗口末尾追加一轮问答并裁剪。
	Append(ctx context.Context, sessionID string, question, answer string, maxEntries int) error
	// Delete 删除会话的缓存（会话被软删除时调用）。
	Delete(ctx context.Context, sessionID string) error
}

type redisHistoryRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewHistoryRepository 创建一个新的 HistoryRepository 实例。
func NewHistoryRepository(redisClient *redis.Client, ttlDays int) HistoryRepository {
	return &redisHistoryRepository{
		redisClient: redisClient,
		ttl:         time.Duration(ttlDays) * 24 * time.Hour,
	}
}

func historyKey(sessionID string) string {
	return fmt.Sprintf("session:%s:history", sessionID)
}

func (r *redisHistoryRepository) Get(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error) {
	jsonData, err := r.redisClient.Get(ctx, historyKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get session history: %w", err)
	}
	var messages []model.ChatMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal session history: %w", err)
	}
	return messages, true, nil
}

func (r *redisHistoryRepository) Set(ctx context.Context, sessionID string, messages []model.ChatMessage, maxEntries int) error {
	if maxEntries > 0 && len(messages) > maxEntries {
		messages = messages[len(messages)-maxEntries:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	if err := r.redisClient.Set(ctx, historyKey(sessionID), jsonData, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session history: %w", err)
	}
	return nil
}

func (r *redisHistoryRepository) Append(ctx context.Context, sessionID string, question, answer string, maxEntries int) error {
	history, ok, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		history = []model.ChatMessage{}
	}
	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: model.RoleUser, Content: question, Timestamp: now},
		model.ChatMessage{Role: model.RoleAssistant, Content: answer, Timestamp: now},
	)
	return r.Set(ctx, sessionID, history, maxEntries)
}

func (r *redisHistoryRepository) Delete(ctx context.Context, sessionID string) error {
	return r.redisClient.Del(ctx, historyKey(sessionID)).Err()
}
