package repository

import (
	"errors"

	"career-chat-go/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 接口定义了消息的持久化操作。
type MessageRepository interface {
	Create(message *model.Message) error
	// ListPage 按 createdAt 倒序取回一页消息，游标为上一页最后一条消息的 ID。
	ListPage(sessionID string, cursor string, limit int) ([]model.Message, bool, error)
	// RecentWindow 按 createdAt 正序取回会话内最近 n 条消息，用于组装 LLM 上下文。
	RecentWindow(sessionID string, n int) ([]model.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(message *model.Message) error {
	return r.db.Create(message).Error
}

func (r *messageRepository) ListPage(sessionID string, cursor string, limit int) ([]model.Message, bool, error) {
	db := r.db.Model(&model.Message{}).Where("session_id = ?", sessionID)

	if cursor != "" {
		var pivot model.Message
		err := r.db.Select("id", "created_at").Where("id = ?", cursor).First(&pivot).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
		if err == nil {
			db = db.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
				pivot.CreatedAt, pivot.CreatedAt, pivot.ID)
		}
	}

	var messages []model.Message
	err := db.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&messages).Error
	if err != nil {
		return nil, false, err
	}

	hasNext := len(messages) > limit
	if hasNext {
		messages = messages[:limit]
	}
	return messages, hasNext, nil
}

func (r *messageRepository) RecentWindow(sessionID string, n int) ([]model.Message, error) {
	// 先倒序取 n 条，再反转为正序，保证取到的是"最近"而非"最早"的窗口
	var messages []model.Message
	err := r.db.
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(n).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
