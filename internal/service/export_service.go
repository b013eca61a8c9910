package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"career-chat-go/internal/config"
	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/pkg/storage"
)

// ExportService 将会话转写为 Markdown 并上传对象存储，返回预签名下载链接。
type ExportService interface {
	ExportTranscript(ctx context.Context, userID uint, sessionID string) (url string, err error)
}

type exportService struct {
	sessionRepo repository.SessionRepository
	messageRepo repository.MessageRepository
	minioCfg    config.MinIOConfig
}

// NewExportService 创建一个新的 ExportService 实例。
func NewExportService(sessionRepo repository.SessionRepository, messageRepo repository.MessageRepository, minioCfg config.MinIOConfig) ExportService {
	return &exportService{
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		minioCfg:    minioCfg,
	}
}

func (s *exportService) ExportTranscript(ctx context.Context, userID uint, sessionID string) (string, error) {
	session, err := s.sessionRepo.FindOwned(sessionID, userID)
	if err != nil {
		return "", err
	}

	messages, err := s.collectAll(sessionID)
	if err != nil {
		return "", err
	}

	transcript := RenderTranscript(session, messages)
	objectName := fmt.Sprintf("transcripts/%d/%s.md", userID, sessionID)
	if err := storage.PutObject(ctx, s.minioCfg.BucketName, objectName, "text/markdown", []byte(transcript)); err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	return storage.GetPresignedURL(s.minioCfg.BucketName, objectName, 24*time.Hour)
}

// collectAll 逐页取回会话的全部消息并恢复为时间正序。
func (s *exportService) collectAll(sessionID string) ([]model.Message, error) {
	const pageSize = 100
	var all []model.Message
	cursor := ""
	for {
		page, hasNext, err := s.messageRepo.ListPage(sessionID, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if !hasNext || len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].ID
	}
	// 倒序分页结果反转为时间正序
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// RenderTranscript 将会话渲染成 Markdown 文本。
func RenderTranscript(session *model.ChatSession, messages []model.Message) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(session.Title)
	b.WriteString("\n\n")
	b.WriteString(fmt.Sprintf("Exported at %s\n\n", time.Now().Format(time.RFC3339)))

	for _, m := range messages {
		speaker := "**You**"
		if m.Role == model.RoleAssistant {
			speaker = "**Counselor**"
		}
		b.WriteString(fmt.Sprintf("%s (%s):\n\n%s\n\n---\n\n", speaker, m.CreatedAt.Format("2006-01-02 15:04"), m.Content))
	}
	return b.String()
}
