package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"career-chat-go/internal/config"
	"career-chat-go/internal/model"
	"career-chat-go/internal/repository"
	"career-chat-go/pkg/events"
	"career-chat-go/pkg/kafka"
	"career-chat-go/pkg/llm"
	"career-chat-go/pkg/log"

	"github.com/gorilla/websocket"
)

// ExchangeResult 是一轮完成的问答：两条已落库的权威消息。
type ExchangeResult struct {
	UserMessage *model.Message `json:"userMessage"`
	AIMessage   *model.Message `json:"aiMessage"`
}

// terminalPayload 是流式交换的终止帧。字段顺序保证序列化结果
// 以 {"done":true 开头，客户端依赖该前缀区分数据帧和控制帧。
type terminalPayload struct {
	Done        bool           `json:"done"`
	UserMessage *model.Message `json:"userMessage"`
	AIMessage   *model.Message `json:"aiMessage"`
}

// ChatService 定义了聊天交换的业务接口。
type ChatService interface {
	// SendMessage 一次性完成一轮问答并返回两条权威消息。
	SendMessage(ctx context.Context, userID uint, sessionID, content string) (*ExchangeResult, error)
	// StreamExchange 流式完成一轮问答：向 ws 逐分块写入纯文本 token 帧，
	// 落库后写入终止帧。shouldStop 为真时停止下发后续分块。
	StreamExchange(ctx context.Context, userID uint, sessionID, content string, ws llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	llmClient    llm.Client
	sessionRepo  repository.SessionRepository
	messageRepo  repository.MessageRepository
	historyRepo  repository.HistoryRepository
	kafkaEnabled bool
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	llmClient llm.Client,
	sessionRepo repository.SessionRepository,
	messageRepo repository.MessageRepository,
	historyRepo repository.HistoryRepository,
	kafkaEnabled bool,
) ChatService {
	return &chatService{
		llmClient:    llmClient,
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		historyRepo:  historyRepo,
		kafkaEnabled: kafkaEnabled,
	}
}

// SendMessage 实现一次性问答。生成失败时不落任何数据。
func (s *chatService) SendMessage(ctx context.Context, userID uint, sessionID, content string) (*ExchangeResult, error) {
	session, err := s.sessionRepo.FindOwned(sessionID, userID)
	if err != nil {
		return nil, err
	}

	messages, err := s.composeContext(ctx, sessionID, content)
	if err != nil {
		return nil, err
	}

	answer, err := s.llmClient.GenerateReply(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate reply: %w", err)
	}

	return s.persistExchange(ctx, session, content, answer)
}

// StreamExchange 实现流式问答。
func (s *chatService) StreamExchange(ctx context.Context, userID uint, sessionID, content string, ws llm.MessageWriter, shouldStop func() bool) error {
	session, err := s.sessionRepo.FindOwned(sessionID, userID)
	if err != nil {
		return err
	}

	messages, err := s.composeContext(ctx, sessionID, content)
	if err != nil {
		return err
	}

	// 拦截 writer：把分块同时转发给客户端并累积出完整答案
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	if err := s.llmClient.StreamChat(ctx, messages, interceptor); err != nil {
		return err
	}

	// 落库使用后台上下文：即使客户端在终止帧前断开，已生成的答案也应保存
	result, err := s.persistExchange(context.Background(), session, content, answerBuilder.String())
	if err != nil {
		return err
	}

	return sendTerminal(ws, result)
}

// composeContext 组装 LLM 上下文：缓存读穿最近消息窗口，再追加本次提问。
func (s *chatService) composeContext(ctx context.Context, sessionID, content string) ([]model.ChatMessage, error) {
	window := config.Conf.Chat.HistoryWindow

	history, ok, err := s.historyRepo.Get(ctx, sessionID)
	if err != nil {
		log.Warnf("读取历史缓存失败，回退数据库: session=%s, err=%v", sessionID, err)
		ok = false
	}
	if !ok {
		recent, err := s.messageRepo.RecentWindow(sessionID, window)
		if err != nil {
			return nil, fmt.Errorf("failed to load recent messages: %w", err)
		}
		history = make([]model.ChatMessage, 0, len(recent))
		for _, m := range recent {
			history = append(history, model.ChatMessage{
				Role:      m.Role,
				Content:   m.Content,
				Timestamp: m.CreatedAt,
			})
		}
		// 回填缓存，失败只记录
		if err := s.historyRepo.Set(ctx, sessionID, history, window); err != nil {
			log.Warnf("回填历史缓存失败: session=%s, err=%v", sessionID, err)
		}
	}

	msgs := make([]model.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: model.RoleUser, Content: content, Timestamp: time.Now()})
	return msgs, nil
}

// persistExchange 依次落库用户消息和助手消息，刷新会话时间，
// 并异步维护缓存与搜索索引。
func (s *chatService) persistExchange(ctx context.Context, session *model.ChatSession, question, answer string) (*ExchangeResult, error) {
	userMessage := &model.Message{
		SessionID: session.ID,
		Role:      model.RoleUser,
		Content:   question,
	}
	if err := s.messageRepo.Create(userMessage); err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	aiMessage := &model.Message{
		SessionID: session.ID,
		Role:      model.RoleAssistant,
		Content:   answer,
	}
	if err := s.messageRepo.Create(aiMessage); err != nil {
		return nil, fmt.Errorf("failed to save ai message: %w", err)
	}

	if err := s.sessionRepo.Touch(session.ID, session.UserID); err != nil {
		// 会话可能在交换期间被删除，消息已保存，只记录
		log.Warnf("刷新会话时间失败: session=%s, err=%v", session.ID, err)
	}

	if err := s.historyRepo.Append(ctx, session.ID, question, answer, config.Conf.Chat.HistoryWindow); err != nil {
		log.Warnf("追加历史缓存失败: session=%s, err=%v", session.ID, err)
	}

	if s.kafkaEnabled {
		event := events.ExchangeCompletedEvent{
			SessionID:    session.ID,
			SessionTitle: session.Title,
			UserID:       session.UserID,
			Question:     question,
			Answer:       answer,
			CompletedAt:  time.Now(),
		}
		if err := kafka.ProduceExchangeEvent(event); err != nil {
			log.Warnf("发布交换事件失败: session=%s, err=%v", session.ID, err)
		}
	}

	return &ExchangeResult{UserMessage: userMessage, AIMessage: aiMessage}, nil
}

// sendTerminal 写入终止帧。
func sendTerminal(ws llm.MessageWriter, result *ExchangeResult) error {
	payload := terminalPayload{
		Done:        true,
		UserMessage: result.UserMessage,
		AIMessage:   result.AIMessage,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal terminal payload: %w", err)
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

// wsWriterInterceptor 是对 MessageWriter 的封装，用于捕获写入的分块。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	return w.conn.WriteMessage(messageType, data)
}
