package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息角色。
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// Message 代表会话中的一条消息，持久化后不可变。
type Message struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID string    `gorm:"index:idx_session_created;size:36;not null" json:"sessionId"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_session_created;autoCreateTime" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ChatMessage 代表组装 LLM 上下文时使用的角色消息，
// 也是 Redis 历史缓存中的存储格式。
type ChatMessage struct {
	Role      string    `json:"role"` // RoleUser 或 RoleAssistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
