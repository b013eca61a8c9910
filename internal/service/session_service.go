package service

import (
	"context"
	"strings"

	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/pkg/log"
	"career-chat-go/pkg/search"
)

// SessionPage 是一页会话列表及其分页信息。
type SessionPage struct {
	Sessions    []model.ChatSession `json:"sessions"`
	NextCursor  *string             `json:"nextCursor"`
	HasNextPage bool                `json:"hasNextPage"`
}

// MessagePage 是一页消息列表及其分页信息。
type MessagePage struct {
	Messages    []model.Message `json:"messages"`
	NextCursor  *string         `json:"nextCursor"`
	HasNextPage bool            `json:"hasNextPage"`
}

// SessionService 定义了聊天会话的业务操作。
type SessionService interface {
	Create(ctx context.Context, userID uint, title string) (*model.ChatSession, error)
	List(ctx context.Context, userID uint, cursor string, limit int) (*SessionPage, error)
	// Search 按标题与聊天内容检索会话；query 为空时等同于 List。
	Search(ctx context.Context, userID uint, query, cursor string, limit int) (*SessionPage, error)
	ListMessages(ctx context.Context, userID uint, sessionID, cursor string, limit int) (*MessagePage, error)
	Delete(ctx context.Context, userID uint, sessionID string) error
}

type sessionService struct {
	sessionRepo repository.SessionRepository
	messageRepo repository.MessageRepository
	historyRepo repository.HistoryRepository
	// esEnabled 为 false 时搜索只走 MySQL LIKE
	esEnabled bool
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
	historyRepo repository.HistoryRepository,
	esEnabled bool,
) SessionService {
	return &sessionService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		historyRepo: historyRepo,
		esEnabled:   esEnabled,
	}
}

func (s *sessionService) Create(ctx context.Context, userID uint, title string) (*model.ChatSession, error) {
	session := &model.ChatSession{
		Title:  strings.TrimSpace(title),
		UserID: userID,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	session.Preview = []model.Message{}
	return session, nil
}

func (s *sessionService) List(ctx context.Context, userID uint, cursor string, limit int) (*SessionPage, error) {
	sessions, hasNext, err := s.sessionRepo.ListPage(userID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return buildSessionPage(sessions, hasNext), nil
}

func (s *sessionService) Search(ctx context.Context, userID uint, query, cursor string, limit int) (*SessionPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, userID, cursor, limit)
	}

	// 优先走 Elasticsearch 全文检索（标题 + 聊天内容）。
	// ES 不可用或查询失败时回退到 MySQL 的标题 LIKE 匹配。
	if s.esEnabled {
		page, err := s.searchViaES(ctx, userID, query, cursor, limit)
		if err == nil {
			return page, nil
		}
		log.Warnf("ES 搜索失败，回退到标题匹配: %v", err)
	}

	sessions, hasNext, err := s.sessionRepo.SearchPage(userID, query, cursor, limit)
	if err != nil {
		return nil, err
	}
	return buildSessionPage(sessions, hasNext), nil
}

// searchViaES 从 ES 取出命中的会话 ID 序列，再以游标在其中切页，
// 最后回源 MySQL 获取权威的会话记录（自动跳过已删除的会话）。
func (s *sessionService) searchViaES(ctx context.Context, userID uint, query, cursor string, limit int) (*SessionPage, error) {
	const maxHits = 200
	ids, err := search.SearchSessionIDs(ctx, userID, query, maxHits)
	if err != nil {
		return nil, err
	}

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}

	sessions := make([]model.ChatSession, 0, limit)
	hasNext := false
	for i := start; i < len(ids); i++ {
		session, err := s.sessionRepo.FindOwned(ids[i], userID)
		if err != nil {
			// 已删除或越权的会话直接跳过，索引允许滞后
			continue
		}
		if len(sessions) == limit {
			hasNext = true
			break
		}
		sessions = append(sessions, *session)
	}

	if err := s.fillPreviewsViaMessages(sessions); err != nil {
		return nil, err
	}
	return buildSessionPage(sessions, hasNext), nil
}

// fillPreviewsViaMessages 为搜索结果补齐预览投影。
func (s *sessionService) fillPreviewsViaMessages(sessions []model.ChatSession) error {
	for i := range sessions {
		page, _, err := s.messageRepo.ListPage(sessions[i].ID, "", 1)
		if err != nil {
			return err
		}
		sessions[i].Preview = page
	}
	return nil
}

func (s *sessionService) ListMessages(ctx context.Context, userID uint, sessionID, cursor string, limit int) (*MessagePage, error) {
	// 先校验会话归属与存活，避免泄露他人或已删除会话的消息
	if _, err := s.sessionRepo.FindOwned(sessionID, userID); err != nil {
		return nil, err
	}

	messages, hasNext, err := s.messageRepo.ListPage(sessionID, cursor, limit)
	if err != nil {
		return nil, err
	}

	page := &MessagePage{Messages: messages, HasNextPage: hasNext}
	if hasNext && len(messages) > 0 {
		last := messages[len(messages)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

func (s *sessionService) Delete(ctx context.Context, userID uint, sessionID string) error {
	if err := s.sessionRepo.SoftDelete(sessionID, userID); err != nil {
		return err
	}
	// 同步清理上下文缓存，失败只记录
	if err := s.historyRepo.Delete(ctx, sessionID); err != nil {
		log.Warnf("清理会话历史缓存失败: session=%s, err=%v", sessionID, err)
	}
	return nil
}

func buildSessionPage(sessions []model.ChatSession, hasNext bool) *SessionPage {
	page := &SessionPage{Sessions: sessions, HasNextPage: hasNext}
	if hasNext && len(sessions) > 0 {
		last := sessions[len(sessions)-1].ID
		page.NextCursor = &last
	}
	return page
}
