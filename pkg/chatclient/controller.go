package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TerminalPrefix 是终止帧的识别前缀。流式通道上，普通字符串帧是 token，
// 以该字面量开头的帧才按 JSON 解析为终止载荷。这是通道上区分
// 数据与控制的唯一约定，为保持互操作必须逐字符精确匹配。
const TerminalPrefix = `{"done":true`

// Status 是控制器的发送状态。
type Status int

const (
	// StatusIdle 表示没有进行中的交换。
	StatusIdle Status = iota
	// StatusSending 表示一次性请求已发出、等待响应。
	StatusSending
	// StatusConnecting 表示流式请求已发出、首个分块未到。
	StatusConnecting
	// StatusStreamingTokens 表示分块正在到达。
	StatusStreamingTokens
	// StatusFailed 表示上一次交换失败，等待显式重试。
	StatusFailed
)

// Mode 选择交换的投递方式。
type Mode int

const (
	// ModeStream 走流式订阅，推荐：一次性語义是它的退化情形。
	ModeStream Mode = iota
	// ModeOneShot 走一次性请求/响应。
	ModeOneShot
)

// 控制器操作的错误。
var (
	// ErrEmptyMessage 表示输入去除空白后为空，校验失败，不发起网络调用。
	ErrEmptyMessage = errors.New("chatclient: message is empty")
	// ErrExchangeInFlight 表示已有交换进行中，本次提交被忽略。
	ErrExchangeInFlight = errors.New("chatclient: exchange already in flight")
	// ErrNothingToRetry 表示没有待重试的失败消息。
	ErrNothingToRetry = errors.New("chatclient: nothing to retry")
	// ErrClosed 表示控制器已关闭。
	ErrClosed = errors.New("chatclient: controller closed")
)

// terminalSignal 是终止帧的载荷。
type terminalSignal struct {
	Done        bool    `json:"done"`
	UserMessage Message `json:"userMessage"`
	AIMessage   Message `json:"aiMessage"`
}

// Controller 协调一个会话视图的消息发送：乐观插入临时条目、
// 应用流式分块、在成功或失败时与权威记录对账。
//
// 同一会话视图同一时刻至多一轮交换（并发提交是空操作）。
// 缓存补丁在锁内完成，对读取方原子可见。
type Controller struct {
	mu       sync.Mutex
	gateway  Gateway
	cache    *Cache
	sessions *SessionListSync

	sessionID string
	query     MessagesQuery
	mode      Mode

	status Status
	// failedText 保存上一次失败的原文，供重试复用
	failedText string
	// userTempID / assistantTempID 是当前临时条目的标识
	userTempID      string
	assistantTempID string
	// gen 递增代次：被放弃的交换的迟到回调据此被忽略
	gen    int
	closed bool
	cancel context.CancelFunc
}

// NewController 创建一个会话视图的控制器。
// sessions 可为 nil，此时成功的交换不会回写会话列表缓存。
func NewController(gateway Gateway, cache *Cache, sessions *SessionListSync, sessionID string, pageSize int, mode Mode) *Controller {
	return &Controller{
		gateway:   gateway,
		cache:     cache,
		sessions:  sessions,
		sessionID: sessionID,
		query:     MessagesQuery{SessionID: sessionID, Limit: pageSize},
		mode:      mode,
	}
}

// Status 返回当前状态。
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// FailedText 返回待重试的失败原文，没有时返回空串。
func (c *Controller) FailedText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failedText
}

// Query 返回该视图的消息查询键。
func (c *Controller) Query() MessagesQuery {
	return c.query
}

// LoadFirstPage 拉取首页消息并重置缓存中的该查询。
func (c *Controller) LoadFirstPage(ctx context.Context) error {
	page, err := c.gateway.ListMessages(ctx, c.sessionID, "", c.query.Limit)
	if err != nil {
		return err
	}
	c.cache.SeedMessages(c.query, *page)
	return nil
}

// LoadNextPage 向后翻一页并追加到缓存。后续页只追加，不被实时更新触碰。
func (c *Controller) LoadNextPage(ctx context.Context, cursor string) error {
	page, err := c.gateway.ListMessages(ctx, c.sessionID, cursor, c.query.Limit)
	if err != nil {
		return err
	}
	c.cache.AppendMessagePage(c.query, *page)
	return nil
}

// Submit 发送一条消息。输入去除空白后为空时返回 ErrEmptyMessage，
// 已有交换进行中时返回 ErrExchangeInFlight（缓存不变、不发请求）。
// 调用阻塞到交换解决（成功或失败）。
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlightLocked() {
		c.mu.Unlock()
		return ErrExchangeInFlight
	}
	return c.dispatchLocked(ctx, text, false)
}

// Retry 以上一次失败的原文重新提交。原有的临时用户条目被复用，
// 不会产生第二条乐观插入。
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlightLocked() {
		c.mu.Unlock()
		return ErrExchangeInFlight
	}
	if c.failedText == "" {
		c.mu.Unlock()
		return ErrNothingToRetry
	}
	return c.dispatchLocked(ctx, c.failedText, true)
}

// Close 终止进行中的订阅并拒绝后续提交。已被放弃的交换的
// 迟到分块一律被忽略。
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Controller) inFlightLocked() bool {
	return c.status == StatusSending || c.status == StatusConnecting || c.status == StatusStreamingTokens
}

// dispatchLocked 发起一轮交换。进入时持锁，网络调用期间释放。
func (c *Controller) dispatchLocked(ctx context.Context, text string, isRetry bool) error {
	c.failedText = ""

	if !isRetry {
		c.userTempID = uuid.NewString()
		provisional := Message{
			SessionID:  c.sessionID,
			Role:       RoleUser,
			Content:    text,
			CreatedAt:  time.Now(),
			Provenance: ProvenanceProvisionalUser,
			TempID:     c.userTempID,
		}
		c.cache.PatchFirstMessagePage(c.query, func(messages []Message) []Message {
			return append([]Message{provisional}, messages...)
		})
	}

	c.gen++
	gen := c.gen

	if c.mode == ModeOneShot {
		c.status = StatusSending
		c.mu.Unlock()

		result, err := c.gateway.SendMessage(ctx, c.sessionID, text)

		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return nil // 已被 Close 放弃
		}
		if err != nil {
			c.failLocked(text)
			return err
		}
		c.completeLocked(*result)
		return nil
	}

	c.status = StatusConnecting
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	terminalSeen := false
	err := c.gateway.SendMessageStream(streamCtx, c.sessionID, text, func(data string) {
		c.handleData(gen, data, &terminalSeen)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil // 已被 Close 放弃
	}
	c.cancel = nil
	if terminalSeen {
		// 对账已在终止帧到达时完成，之后的收尾错误不影响结果
		return nil
	}
	if err != nil {
		c.failLocked(text)
		return err
	}
	// 流静默结束，与显式错误同等处理
	c.failLocked(text)
	return ErrStreamEnded
}

// handleData 处理流上到达的一帧：终止帧触发对账，其余按 token 追加。
func (c *Controller) handleData(gen int, data string, terminalSeen *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.closed {
		return // 被放弃的交换的迟到分块
	}

	if strings.HasPrefix(data, TerminalPrefix) {
		var signal terminalSignal
		if err := json.Unmarshal([]byte(data), &signal); err != nil || !signal.Done {
			return // 畸形控制帧：忽略，等待流层面的错误裁决
		}
		*terminalSeen = true
		c.completeLocked(Exchange{UserMessage: signal.UserMessage, AIMessage: signal.AIMessage})
		return
	}

	if c.status == StatusConnecting {
		// 首个分块：创建流式助手条目
		c.status = StatusStreamingTokens
		c.assistantTempID = uuid.NewString()
		provisional := Message{
			SessionID:  c.sessionID,
			Role:       RoleAssistant,
			Content:    data,
			CreatedAt:  time.Now(),
			Provenance: ProvenanceProvisionalAssistant,
			TempID:     c.assistantTempID,
		}
		c.cache.PatchFirstMessagePage(c.query, func(messages []Message) []Message {
			return append([]Message{provisional}, messages...)
		})
		return
	}

	// 后续分块：内容单调追加，不重排
	tempID := c.assistantTempID
	c.cache.PatchFirstMessagePage(c.query, func(messages []Message) []Message {
		for i := range messages {
			if messages[i].Provenance == ProvenanceProvisionalAssistant && messages[i].TempID == tempID {
				messages[i].Content += data
				break
			}
		}
		return messages
	})
}

// completeLocked 以权威记录对账：移除全部临时条目，
// 前插 [aiMessage, userMessage] 并按 ID 去重，然后回写会话列表。
func (c *Controller) completeLocked(ex Exchange) {
	c.cache.PatchFirstMessagePage(c.query, func(messages []Message) []Message {
		kept := messages[:0:0]
		for _, m := range messages {
			if m.Provisional() {
				continue
			}
			kept = append(kept, m)
		}
		merged := append([]Message{ex.AIMessage, ex.UserMessage}, kept...)
		// 终止帧可能与迟到的重复帧竞争，合并必须按 ID 去重
		return dedupByID(merged)
	})

	if c.sessions != nil {
		c.sessions.Apply(c.sessionID, ex.AIMessage)
	}

	c.userTempID = ""
	c.assistantTempID = ""
	c.failedText = ""
	c.status = StatusIdle
}

// failLocked 处理失败：丢弃流式助手条目，保留临时用户条目和原文以便重试。
func (c *Controller) failLocked(text string) {
	if c.assistantTempID != "" {
		tempID := c.assistantTempID
		c.cache.PatchFirstMessagePage(c.query, func(messages []Message) []Message {
			kept := messages[:0:0]
			for _, m := range messages {
				if m.Provenance == ProvenanceProvisionalAssistant && m.TempID == tempID {
					continue
				}
				kept = append(kept, m)
			}
			return kept
		})
		c.assistantTempID = ""
	}
	c.failedText = text
	c.status = StatusFailed
}
