package repository

import (
	"errors"
	"strings"
	"time"

	"career-chat-go/internal/model"

	"gorm.io/gorm"
)

// ErrSessionNotFound 表示会话不存在、已删除或不属于当前用户。
var ErrSessionNotFound = errors.New("chat session not found or deleted")

// SessionRepository 接口定义了聊天会话的持久化操作。
// 所有列表查询都按 updatedAt 倒序，并使用"最后可见记录的 ID"作为游标。
type SessionRepository interface {
	Create(session *model.ChatSession) error
	// FindOwned 查找属于该用户且未删除的会话，查不到返回 ErrSessionNotFound。
	FindOwned(sessionID string, userID uint) (*model.ChatSession, error)
	// ListPage 取回一页会话（多取一条用于判断是否还有下一页），并填充预览。
	ListPage(userID uint, cursor string, limit int) ([]model.ChatSession, bool, error)
	// SearchPage 与 ListPage 相同，但按标题做大小写不敏感的包含匹配。
	SearchPage(userID uint, query, cursor string, limit int) ([]model.ChatSession, bool, error)
	// Touch 将会话的 updatedAt 置为当前时间。
	Touch(sessionID string, userID uint) error
	// SoftDelete 置位 deletedAt，实现软删除。
	SoftDelete(sessionID string, userID uint) error
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建一个新的 SessionRepository 实例。
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

func (r *sessionRepository) FindOwned(sessionID string, userID uint) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", sessionID, userID).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) ListPage(userID uint, cursor string, limit int) ([]model.ChatSession, bool, error) {
	return r.page(userID, "", cursor, limit)
}

func (r *sessionRepository) SearchPage(userID uint, query, cursor string, limit int) ([]model.ChatSession, bool, error) {
	return r.page(userID, query, cursor, limit)
}

// page 实现键集分页：游标行之后（按 updatedAt 倒序、ID 倒序兜底）严格取下一页。
func (r *sessionRepository) page(userID uint, query, cursor string, limit int) ([]model.ChatSession, bool, error) {
	db := r.db.Model(&model.ChatSession{}).
		Where("user_id = ? AND deleted_at IS NULL", userID)

	if query != "" {
		db = db.Where("LOWER(title) LIKE ?", "%"+escapeLike(strings.ToLower(query))+"%")
	}

	if cursor != "" {
		var pivot model.ChatSession
		err := r.db.Select("id", "updated_at").Where("id = ?", cursor).First(&pivot).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
		// 游标行不存在时视为首页（可能已被删除）
		if err == nil {
			db = db.Where("(updated_at < ?) OR (updated_at = ? AND id < ?)",
				pivot.UpdatedAt, pivot.UpdatedAt, pivot.ID)
		}
	}

	var sessions []model.ChatSession
	err := db.Order("updated_at DESC, id DESC").Limit(limit + 1).Find(&sessions).Error
	if err != nil {
		return nil, false, err
	}

	hasNext := len(sessions) > limit
	if hasNext {
		sessions = sessions[:limit]
	}

	if err := r.fillPreviews(sessions); err != nil {
		return nil, false, err
	}
	return sessions, hasNext, nil
}

// fillPreviews 为每个会话填充最近一条消息的投影。
func (r *sessionRepository) fillPreviews(sessions []model.ChatSession) error {
	for i := range sessions {
		var last model.Message
		err := r.db.
			Where("session_id = ?", sessions[i].ID).
			Order("created_at DESC, id DESC").
			First(&last).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			sessions[i].Preview = []model.Message{}
			continue
		}
		if err != nil {
			return err
		}
		sessions[i].Preview = []model.Message{last}
	}
	return nil
}

func (r *sessionRepository) Touch(sessionID string, userID uint) error {
	res := r.db.Model(&model.ChatSession{}).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", sessionID, userID).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) SoftDelete(sessionID string, userID uint) error {
	res := r.db.Model(&model.ChatSession{}).
		Where("id = ? AND user_id = ? AND deleted_at IS NULL", sessionID, userID).
		Update("deleted_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// escapeLike 转义 LIKE 模式中的通配符。
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
