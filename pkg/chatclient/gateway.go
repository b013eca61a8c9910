// Package chatclient 实现聊天客户端的本地状态层：
// 分页查询缓存、乐观更新与流式分块的对账控制器。
// 服务端是所有权威记录的唯一来源，本包只持有它们的镜像，
// 以及从未离开客户端的临时占位条目。
package chatclient

import (
	"context"
	"errors"
	"time"
)

// 消息角色，与服务端一致。
const (
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
)

// Provenance 标记缓存条目的来源。临时条目只存在于客户端缓存，
// 在交换结束时被权威记录替换。
type Provenance int

const (
	// ProvenanceConfirmed 是服务端确认过的权威记录。
	ProvenanceConfirmed Provenance = iota
	// ProvenanceProvisionalUser 是乐观插入、等待确认的用户消息。
	ProvenanceProvisionalUser
	// ProvenanceProvisionalAssistant 是流式生成中的助手消息，
	// 内容随分块到达单调增长。
	ProvenanceProvisionalAssistant
)

// Message 是客户端缓存中的一条消息。
// Provenance 为 ProvenanceConfirmed 时 ID 有效；否则 TempID 有效。
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`

	Provenance Provenance `json:"-"`
	TempID     string     `json:"-"`
}

// Provisional 报告该条目是否为临时条目。
func (m Message) Provisional() bool {
	return m.Provenance != ProvenanceConfirmed
}

// Session 是客户端缓存中的一个会话。
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    uint      `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Preview 是列表预览用的最近一条消息投影。
	Preview []Message `json:"message"`
}

// MessagePage 是一页消息及其继续游标。
type MessagePage struct {
	Messages    []Message `json:"messages"`
	NextCursor  *string   `json:"nextCursor"`
	HasNextPage bool      `json:"hasNextPage"`
}

// SessionPage 是一页会话及其继续游标。
type SessionPage struct {
	Sessions    []Session `json:"sessions"`
	NextCursor  *string   `json:"nextCursor"`
	HasNextPage bool      `json:"hasNextPage"`
}

// Exchange 是一轮完成的问答：两条权威消息。
type Exchange struct {
	UserMessage Message `json:"userMessage"`
	AIMessage   Message `json:"aiMessage"`
}

// 网关调用的错误分类。
var (
	// ErrUnauthorized 表示认证失效，上层应触发登出。
	ErrUnauthorized = errors.New("chatclient: unauthorized")
	// ErrSessionNotFound 表示会话不存在或已删除。
	ErrSessionNotFound = errors.New("chatclient: session not found")
	// ErrStreamEnded 表示流在终止帧到达前结束。
	ErrStreamEnded = errors.New("chatclient: stream ended before terminal signal")
)

// Gateway 抽象远端过程网关。所有方法都要求已认证。
type Gateway interface {
	ListSessions(ctx context.Context, cursor string, limit int) (*SessionPage, error)
	SearchSessions(ctx context.Context, query, cursor string, limit int) (*SessionPage, error)
	CreateSession(ctx context.Context, title string) (*Session, error)
	ListMessages(ctx context.Context, sessionID, cursor string, limit int) (*MessagePage, error)
	// SendMessage 一次性完成一轮问答。
	SendMessage(ctx context.Context, sessionID, content string) (*Exchange, error)
	// SendMessageStream 发起流式问答。每个到达的文本帧（token 或终止帧）
	// 原样回调 onData，调用阻塞到流结束。终止帧送达后返回 nil；
	// 流在终止帧前断开时返回 ErrStreamEnded 或底层错误。
	SendMessageStream(ctx context.Context, sessionID, content string, onData func(data string)) error
	DeleteSession(ctx context.Context, sessionID string) error
}
