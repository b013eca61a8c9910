package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatSession 代表一个聊天会话。
// 删除采用软删除：置位 DeletedAt 后对所有查询不可见，记录保留。
type ChatSession struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	UserID    uint       `gorm:"index;not null" json:"userId"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time  `gorm:"index;autoUpdateTime" json:"updatedAt"`
	DeletedAt *time.Time `gorm:"index" json:"deletedAt,omitempty"`

	// Preview 是列表预览用的最近一条消息投影，非数据库列。
	Preview []Message `gorm:"-" json:"message"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// BeforeCreate 在插入前生成 UUID 主键。
func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
